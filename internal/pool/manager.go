// Package pool manages a fleet of browser execution nodes and the browser
// instances running on them. It assigns instances to jobs, queues jobs when
// no instance fits, scales the fleet on load and reclaims worn or unhealthy
// instances.
//
// Lock ordering: mu guards every map, the queue and the counters. Driver and
// telemetry calls are never made while holding mu.
package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Rorqualx/browserfarm/internal/config"
	"github.com/Rorqualx/browserfarm/internal/driver"
	"github.com/Rorqualx/browserfarm/internal/events"
	"github.com/Rorqualx/browserfarm/internal/fingerprint"
	"github.com/Rorqualx/browserfarm/internal/metrics"
	"github.com/Rorqualx/browserfarm/internal/proxy"
	"github.com/Rorqualx/browserfarm/internal/telemetry"
	"github.com/Rorqualx/browserfarm/internal/types"
)

const (
	defaultStartupTimeout = 60 * time.Second
	driverCloseTimeout    = 10 * time.Second
	maxConcurrentCloses   = 8
)

// Intervals sets how often each background loop runs. Zero disables a loop.
type Intervals struct {
	Health   time.Duration
	Scaling  time.Duration
	Optimize time.Duration
	Metrics  time.Duration
}

// DefaultIntervals returns the production loop intervals.
func DefaultIntervals() Intervals {
	return Intervals{
		Health:   30 * time.Second,
		Scaling:  60 * time.Second,
		Optimize: 5 * time.Minute,
		Metrics:  30 * time.Second,
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithDriver sets the browser driver. Defaults to a zero-delay simulated driver.
func WithDriver(d driver.Driver) Option {
	return func(m *Manager) { m.driver = d }
}

// WithTelemetry sets the resource provider used by the optimizer.
// Defaults to the driver when it implements telemetry.Provider.
func WithTelemetry(p telemetry.Provider) Option {
	return func(m *Manager) { m.telemetry = p }
}

// WithGenerator sets the fingerprint generator.
func WithGenerator(g *fingerprint.Generator) Option {
	return func(m *Manager) { m.generator = g }
}

// WithProxyProvider sets where proxies for proxy-requiring jobs come from.
func WithProxyProvider(p proxy.Provider) Option {
	return func(m *Manager) { m.proxies = p }
}

// WithEmitter sets the event destination. Emit must not block.
func WithEmitter(e events.Emitter) Option {
	return func(m *Manager) { m.emitter = e }
}

// WithMetrics sets the sink fed by the metrics loop.
func WithMetrics(s metrics.Sink) Option {
	return func(m *Manager) { m.metrics = s }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIntervals sets the background loop intervals.
func WithIntervals(iv Intervals) Option {
	return func(m *Manager) { m.intervals = iv }
}

// WithStartupTimeout bounds how long a single instance launch may take.
func WithStartupTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.startupTimeout = d
		}
	}
}

// counters are lifetime totals, guarded by Manager.mu.
type counters struct {
	created   int64
	destroyed int64
	recycled  int64
	assigned  int64
	queued    int64
	timeouts  int64
}

// Manager is the browser pool. Create it with New and release it with Close.
type Manager struct {
	driver         driver.Driver
	telemetry      telemetry.Provider
	generator      *fingerprint.Generator
	proxies        proxy.Provider
	emitter        events.Emitter
	metrics        metrics.Sink
	now            func() time.Time
	intervals      Intervals
	startupTimeout time.Duration

	mu        sync.Mutex
	cfg       config.PoolConfiguration
	nodes     map[string]*types.BrowserNode
	instances map[string]*entry
	queue     jobQueue
	changed   chan struct{} // closed and replaced on every instance transition
	stats     counters

	scaling     bool
	lastScaling time.Time

	closed   atomic.Bool
	started  atomic.Bool
	baseCtx  context.Context
	cancel   context.CancelFunc
	stopCh   chan struct{}
	wg       sync.WaitGroup
	launchWg sync.WaitGroup

	closeOnce sync.Once
}

// New creates a pool manager. Background loops run only after Start.
func New(cfg config.PoolConfiguration, opts ...Option) *Manager {
	cfg.Validate()

	m := &Manager{
		now:            time.Now,
		intervals:      DefaultIntervals(),
		startupTimeout: defaultStartupTimeout,
		cfg:            cfg,
		nodes:          make(map[string]*types.BrowserNode),
		instances:      make(map[string]*entry),
		changed:        make(chan struct{}),
		stopCh:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.driver == nil {
		m.driver = driver.NewSimulated(0)
	}
	if m.telemetry == nil {
		if p, ok := m.driver.(telemetry.Provider); ok {
			m.telemetry = p
		} else {
			m.telemetry = telemetry.NewStatic(types.ResourceUsage{})
		}
	}
	if m.generator == nil {
		m.generator = fingerprint.NewGenerator(nil, fingerprint.WithClock(m.now))
	}
	m.baseCtx, m.cancel = context.WithCancel(context.Background())

	log.Info().
		Int("min_instances", cfg.MinInstances).
		Int("max_instances", cfg.MaxInstances).
		Int("warmup_instances", cfg.WarmupInstances).
		Bool("anti_detection", cfg.AntiDetection.Enabled).
		Msg("Browser pool manager created")

	return m
}

// Start launches the health, scaling, optimizer and metrics loops.
// Calling Start more than once has no effect.
func (m *Manager) Start() {
	if m.closed.Load() || !m.started.CompareAndSwap(false, true) {
		return
	}
	m.runLoop("health", m.intervals.Health, m.checkHealth)
	m.runLoop("scaling", m.intervals.Scaling, m.scaleTick)
	m.runLoop("optimizer", m.intervals.Optimize, m.optimize)
	m.runLoop("metrics", m.intervals.Metrics, m.publishMetrics)
}

// runLoop runs fn every interval until Close. Ticks never overlap.
func (m *Manager) runLoop(name string, interval time.Duration, fn func(ctx context.Context)) {
	if interval <= 0 {
		log.Debug().Str("loop", name).Msg("Background loop disabled")
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.safeTick(name, fn)
			case <-m.stopCh:
				log.Debug().Str("loop", name).Msg("Background loop stopping")
				return
			}
		}
	}()
}

func (m *Manager) safeTick(name string, fn func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("loop", name).Interface("panic", r).Msg("Background loop panic recovered")
		}
	}()
	fn(m.baseCtx)
}

func (m *Manager) scaleTick(ctx context.Context) {
	if _, _, err := m.Scale(ctx); err != nil {
		log.Debug().Err(err).Msg("Scaling tick skipped")
	}
}

func (m *Manager) publishMetrics(context.Context) {
	metrics.Publish(m.metrics, m.Stats())
}

// Close stops the loops, fails pending jobs and destroys every instance.
// Later calls return nil.
func (m *Manager) Close(ctx context.Context) error {
	var err error
	m.closeOnce.Do(func() {
		log.Info().Msg("Closing browser pool manager")
		m.closed.Store(true)
		close(m.stopCh)
		m.cancel()
		m.wg.Wait()

		m.mu.Lock()
		for _, item := range m.queue.drain() {
			item.assignment.deliver(nil, types.ErrManagerClosed)
		}
		doomed := make([]*entry, 0, len(m.instances))
		for _, e := range m.instances {
			if e.reserved != nil {
				e.reserved.assignment.deliver(nil, types.ErrManagerClosed)
				e.reserved = nil
			}
			m.beginDestroyLocked(e)
			doomed = append(doomed, e)
		}
		m.mu.Unlock()

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(maxConcurrentCloses)
		for _, e := range doomed {
			g.Go(func() error {
				m.finishDestroy(gctx, e, "manager closed")
				return nil
			})
		}
		err = g.Wait()

		done := make(chan struct{})
		go func() {
			m.launchWg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = ctx.Err()
		}

		log.Info().Int("instances_closed", len(doomed)).Msg("Browser pool manager closed")
	})
	return err
}

// Configuration returns the active pool configuration.
func (m *Manager) Configuration() config.PoolConfiguration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// UpdateConfiguration replaces the pool policy. The new values apply to the
// next decision each component makes; running instances are not restarted.
func (m *Manager) UpdateConfiguration(cfg config.PoolConfiguration) error {
	if m.closed.Load() {
		return types.ErrManagerClosed
	}
	cfg.Validate()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
	m.emitLocked(events.ConfigUpdated, cfg)
	m.processJobQueueLocked()

	log.Info().
		Int("min_instances", cfg.MinInstances).
		Int("max_instances", cfg.MaxInstances).
		Dur("scaling_cooldown", cfg.ScalingCooldown).
		Msg("Pool configuration updated")
	return nil
}

// Stats returns a point-in-time summary of the pool.
func (m *Manager) Stats() types.PoolStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := types.PoolStats{
		TotalInstances: len(m.instances),
		QueueDepth:     m.queue.len(),
		TotalNodes:     len(m.nodes),
		Created:        m.stats.created,
		Destroyed:      m.stats.destroyed,
		Recycled:       m.stats.recycled,
		Assigned:       m.stats.assigned,
		Queued:         m.stats.queued,
		Timeouts:       m.stats.timeouts,
	}
	for _, n := range m.nodes {
		if n.Status == types.NodeOnline {
			s.OnlineNodes++
		}
	}

	var cpuSum, errSum float64
	var respSum time.Duration
	var respCount int
	for _, e := range m.instances {
		b := e.b
		switch b.Status {
		case types.StatusStarting:
			s.StartingInstances++
		case types.StatusReady:
			s.ReadyInstances++
		case types.StatusBusy:
			s.BusyInstances++
		case types.StatusIdle:
			s.IdleInstances++
		case types.StatusError:
			s.ErrorInstances++
		}
		s.MemoryUsageMB += b.Resources.MemoryMB
		cpuSum += b.Resources.CPUPercent
		errSum += b.Performance.ErrorRate
		if b.Performance.AvgPageLoadTime > 0 {
			respSum += b.Performance.AvgPageLoadTime
			respCount++
		}
	}
	if n := len(m.instances); n > 0 {
		s.CPUUsagePercent = cpuSum / float64(n)
		s.ErrorRate = errSum / float64(n)
		s.Utilization = float64(s.BusyInstances) / float64(n) * 100
	}
	if respCount > 0 {
		s.AvgResponseTime = respSum / time.Duration(respCount)
	}
	return s
}

// notifyLocked wakes everything waiting for an instance transition.
func (m *Manager) notifyLocked() {
	close(m.changed)
	m.changed = make(chan struct{})
}

func (m *Manager) emitLocked(name events.Name, data any) {
	if m.emitter == nil {
		return
	}
	m.emitter.Emit(events.Event{Name: name, Time: m.now(), Data: data})
}
