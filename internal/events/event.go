// Package events carries pool lifecycle notifications from the manager to
// loggers, metrics pipelines and external subscribers.
package events

import (
	"time"

	"github.com/Rorqualx/browserfarm/internal/types"
)

// Name identifies an event kind.
type Name string

// Event names. The wire names are stable and consumed by dashboards.
const (
	NodeRegistered    Name = "nodeRegistered"
	NodeUnregistered  Name = "nodeUnregistered"
	NodeHeartbeat     Name = "nodeHeartbeat"
	NodeUnhealthy     Name = "nodeUnhealthy"
	InstanceCreated   Name = "instanceCreated"
	InstanceReady     Name = "instanceReady"
	InstanceDestroyed Name = "instanceDestroyed"
	InstanceAssigned  Name = "instanceAssigned"
	InstanceReleased  Name = "instanceReleased"
	InstanceTimeout   Name = "instanceTimeout"
	InstanceRotated   Name = "instanceRotated"
	InstanceOptimized Name = "instanceOptimized"
	JobQueued         Name = "jobQueued"
	JobAssigned       Name = "jobAssigned"
	JobCancelled      Name = "jobCancelled"
	ScalingDecision   Name = "scalingDecision"
	ScaledUp          Name = "scaledUp"
	ScaledDown        Name = "scaledDown"
	ConfigUpdated     Name = "configUpdated"
)

// Event is one notification. Data holds one of the payload types below.
type Event struct {
	Name Name      `json:"name"`
	Time time.Time `json:"timestamp"`
	Data any       `json:"data,omitempty"`
}

// NodePayload is carried by nodeRegistered and nodeUnregistered.
type NodePayload struct {
	NodeID string             `json:"nodeId"`
	Node   *types.BrowserNode `json:"node,omitempty"`
}

// HeartbeatPayload is carried by nodeHeartbeat.
type HeartbeatPayload struct {
	NodeID    string              `json:"nodeId"`
	Status    types.NodeStatus    `json:"status"`
	Resources types.NodeResources `json:"resources"`
	Health    types.NodeHealth    `json:"health"`
}

// UnhealthyPayload is carried by nodeUnhealthy.
type UnhealthyPayload struct {
	NodeID string `json:"nodeId"`
	Reason string `json:"reason"`
}

// InstancePayload is carried by instanceCreated, instanceReady,
// instanceDestroyed and instanceRotated.
type InstancePayload struct {
	InstanceID string                 `json:"instanceId"`
	NodeID     string                 `json:"nodeId"`
	Instance   *types.BrowserInstance `json:"instance,omitempty"`
	Reason     string                 `json:"reason,omitempty"`
}

// AssignedPayload is carried by instanceAssigned.
type AssignedPayload struct {
	InstanceID string `json:"instanceId"`
	JobID      string `json:"jobId"`
}

// ReleasedPayload is carried by instanceReleased.
type ReleasedPayload struct {
	InstanceID string          `json:"instanceId"`
	JobID      string          `json:"jobId,omitempty"`
	Result     types.JobResult `json:"result"`
	Recycled   bool            `json:"recycled"`
}

// TimeoutPayload is carried by instanceTimeout.
type TimeoutPayload struct {
	InstanceID  string            `json:"instanceId"`
	JobDuration time.Duration     `json:"jobDuration"`
	Job         *types.JobContext `json:"job"`
}

// OptimizedPayload is carried by instanceOptimized.
type OptimizedPayload struct {
	InstanceID string              `json:"instanceId"`
	Before     types.ResourceUsage `json:"before"`
	After      types.ResourceUsage `json:"after"`
}

// JobPayload is carried by jobQueued and jobCancelled.
type JobPayload struct {
	Job        *types.JobContext `json:"job"`
	QueueDepth int               `json:"queueDepth"`
}

// JobAssignedPayload is carried by jobAssigned.
type JobAssignedPayload struct {
	Job      *types.JobContext      `json:"job"`
	Instance *types.BrowserInstance `json:"instance"`
}

// ScaledUpPayload is carried by scaledUp.
type ScaledUpPayload struct {
	Requested int `json:"requested"`
	Created   int `json:"created"`
}

// ScaledDownPayload is carried by scaledDown.
type ScaledDownPayload struct {
	Requested int `json:"requested"`
	Destroyed int `json:"destroyed"`
}
