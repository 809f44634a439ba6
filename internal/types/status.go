package types

import (
	"fmt"
	"strings"
)

// BrowserStatus is the lifecycle state of a browser instance.
type BrowserStatus string

// Browser instance states.
const (
	StatusStarting BrowserStatus = "starting"
	StatusReady    BrowserStatus = "ready"
	StatusBusy     BrowserStatus = "busy"
	StatusIdle     BrowserStatus = "idle"
	StatusStopping BrowserStatus = "stopping"
	StatusStopped  BrowserStatus = "stopped"
	StatusError    BrowserStatus = "error"
)

// browserTransitions lists every allowed instance state change.
// error is reachable from any non-terminal state; stopped is terminal.
var browserTransitions = map[BrowserStatus][]BrowserStatus{
	StatusStarting: {StatusReady, StatusError, StatusStopping},
	StatusReady:    {StatusBusy, StatusIdle, StatusError, StatusStopping},
	StatusBusy:     {StatusIdle, StatusError, StatusStopping},
	StatusIdle:     {StatusBusy, StatusError, StatusStopping},
	StatusError:    {StatusStopping},
	StatusStopping: {StatusStopped},
	StatusStopped:  nil,
}

func (s BrowserStatus) String() string { return string(s) }

// Valid reports whether s is a known browser status.
func (s BrowserStatus) Valid() bool {
	_, ok := browserTransitions[s]
	return ok
}

// CanTransition reports whether the table permits moving from s to next.
func (s BrowserStatus) CanTransition(next BrowserStatus) bool {
	for _, allowed := range browserTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Available reports whether an instance in this state can take a job.
func (s BrowserStatus) Available() bool {
	return s == StatusReady || s == StatusIdle
}

// Terminal reports whether no further transitions are possible.
func (s BrowserStatus) Terminal() bool {
	return s == StatusStopped
}

// NodeStatus is the operational state of an execution node.
type NodeStatus string

// Node states.
const (
	NodeOnline      NodeStatus = "online"
	NodeOffline     NodeStatus = "offline"
	NodeDraining    NodeStatus = "draining"
	NodeMaintenance NodeStatus = "maintenance"
)

var nodeTransitions = map[NodeStatus][]NodeStatus{
	NodeOnline:      {NodeOffline, NodeDraining, NodeMaintenance},
	NodeOffline:     {NodeOnline, NodeDraining, NodeMaintenance},
	NodeDraining:    {NodeOffline, NodeOnline},
	NodeMaintenance: {NodeOnline, NodeOffline, NodeDraining},
}

func (s NodeStatus) String() string { return string(s) }

// Valid reports whether s is a known node status.
func (s NodeStatus) Valid() bool {
	_, ok := nodeTransitions[s]
	return ok
}

// CanTransition reports whether the table permits moving from s to next.
// Staying in the same state is always allowed.
func (s NodeStatus) CanTransition(next NodeStatus) bool {
	if s == next {
		return true
	}
	for _, allowed := range nodeTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Priority orders pending jobs. Higher values are served first.
type Priority int

// Job priorities.
const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

var priorityNames = [...]string{"low", "normal", "high", "critical"}

func (p Priority) String() string {
	if p < PriorityLow || p > PriorityCritical {
		return fmt.Sprintf("priority(%d)", int(p))
	}
	return priorityNames[p]
}

// ParsePriority converts a priority name. Empty input maps to normal.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	}
	return PriorityNormal, fmt.Errorf("unknown priority %q", s)
}

// MarshalText encodes the priority by name.
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes a priority name.
func (p *Priority) UnmarshalText(text []byte) error {
	parsed, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// BrowserType identifies the browser engine of an instance.
type BrowserType string

// Supported browser engines.
const (
	BrowserChrome   BrowserType = "chrome"
	BrowserFirefox  BrowserType = "firefox"
	BrowserSafari   BrowserType = "safari"
	BrowserEdge     BrowserType = "edge"
	BrowserChromium BrowserType = "chromium"
)

// ScalingAction is the verdict of a scaling evaluation.
type ScalingAction string

// Scaling actions.
const (
	ScaleUp   ScalingAction = "scale_up"
	ScaleDown ScalingAction = "scale_down"
	Maintain  ScalingAction = "maintain"
)
