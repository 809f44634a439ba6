// Command farmtop is a terminal dashboard that polls a browserfarm admin API.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Rorqualx/browserfarm/internal/types"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1).
			MarginRight(1)
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	hintStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type snapshot struct {
	stats types.PoolStats
	nodes []types.BrowserNode
	at    time.Time
}

type snapshotMsg snapshot

type errMsg struct{ err error }

type tickMsg time.Time

type model struct {
	client   *client
	interval time.Duration
	last     *snapshot
	err      error
}

func (m model) Init() tea.Cmd {
	return m.fetch()
}

func (m model) fetch() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s, err := m.client.snapshot(ctx)
		if err != nil {
			return errMsg{err}
		}
		return snapshotMsg(s)
	}
}

func (m model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, m.fetch()
		}
	case snapshotMsg:
		s := snapshot(msg)
		m.last = &s
		m.err = nil
		return m, m.tick()
	case errMsg:
		m.err = msg.err
		return m, m.tick()
	case tickMsg:
		return m, m.fetch()
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("browserfarm") + " " + hintStyle.Render(m.client.base) + "\n\n")

	if m.last == nil {
		if m.err != nil {
			b.WriteString(errStyle.Render("error: "+m.err.Error()) + "\n")
		} else {
			b.WriteString("connecting...\n")
		}
		b.WriteString(hintStyle.Render("\nq quit  r refresh"))
		return b.String()
	}

	s := m.last.stats
	instances := box("Instances",
		row("total", s.TotalInstances),
		row("starting", s.StartingInstances),
		row("ready", s.ReadyInstances),
		row("busy", s.BusyInstances),
		row("idle", s.IdleInstances),
		row("error", s.ErrorInstances),
	)
	load := box("Load",
		fmt.Sprintf("%s %5.1f%%", labelStyle.Render("utilization"), s.Utilization),
		row("queue", s.QueueDepth),
		fmt.Sprintf("%s %5.1f%%", labelStyle.Render("error rate "), s.ErrorRate),
		fmt.Sprintf("%s %s", labelStyle.Render("avg resp   "), s.AvgResponseTime.Round(time.Millisecond)),
		fmt.Sprintf("%s %.0f MB", labelStyle.Render("memory     "), s.MemoryUsageMB),
	)
	totals := box("Totals",
		row("created", s.Created),
		row("destroyed", s.Destroyed),
		row("recycled", s.Recycled),
		row("assigned", s.Assigned),
		row("queued", s.Queued),
		row("timeouts", s.Timeouts),
	)
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, instances, load, totals) + "\n")

	lines := []string{fmt.Sprintf("%-16s %-12s %-10s %6s %9s", "NODE", "STATUS", "REGION", "LOAD", "INSTANCES")}
	for _, n := range m.last.nodes {
		lines = append(lines, fmt.Sprintf("%-16s %-12s %-10s %5.1f%% %4d/%-4d",
			truncate(n.ID, 16), n.Status, truncate(n.Region, 10), n.CurrentLoad, len(n.Instances), n.Capacity.MaxInstances))
	}
	b.WriteString(box(fmt.Sprintf("Nodes (%d/%d online)", s.OnlineNodes, s.TotalNodes), lines...) + "\n")

	if m.err != nil {
		b.WriteString(errStyle.Render("stale: "+m.err.Error()) + "\n")
	}
	b.WriteString(hintStyle.Render(fmt.Sprintf("updated %s  q quit  r refresh", m.last.at.Format("15:04:05"))))
	return b.String()
}

func box(title string, lines ...string) string {
	return boxStyle.Render(titleStyle.Render(title) + "\n" + strings.Join(lines, "\n"))
}

func row[T int | int64](label string, v T) string {
	return fmt.Sprintf("%s %6d", labelStyle.Render(fmt.Sprintf("%-11s", label)), v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "~"
}

// client reads the admin API envelope.
type client struct {
	base string
	http *http.Client
}

func (c *client) get(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env struct {
		Status  string          `json:"status"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%s: decode response: %w", path, err)
	}
	if env.Status != types.ResponseOK {
		return fmt.Errorf("%s: %s (HTTP %d)", path, env.Message, resp.StatusCode)
	}
	return json.Unmarshal(env.Data, dst)
}

func (c *client) snapshot(ctx context.Context) (snapshot, error) {
	var s snapshot
	if err := c.get(ctx, "/api/v1/stats", &s.stats); err != nil {
		return s, err
	}
	if err := c.get(ctx, "/api/v1/nodes", &s.nodes); err != nil {
		return s, err
	}
	s.at = time.Now()
	return s, nil
}

func main() {
	addr := flag.String("addr", "http://127.0.0.1:8290", "browserfarm admin API base URL")
	interval := flag.Duration("interval", 2*time.Second, "refresh interval")
	flag.Parse()

	m := model{
		client:   &client{base: strings.TrimRight(*addr, "/"), http: &http.Client{Timeout: 10 * time.Second}},
		interval: max(*interval, 250*time.Millisecond),
	}
	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		fmt.Fprintln(os.Stderr, "farmtop:", err)
		os.Exit(1)
	}
}
