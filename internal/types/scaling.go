package types

import "time"

// ScalingMetrics is the fleet snapshot a scaling decision is based on.
// Utilization and ErrorRate are percentages.
type ScalingMetrics struct {
	CurrentInstances int           `json:"currentInstances"`
	BusyInstances    int           `json:"busyInstances"`
	Utilization      float64       `json:"utilization"`
	QueueDepth       int           `json:"queueDepth"`
	AvgWaitTime      time.Duration `json:"avgWaitTime"`
	AvgErrorRate     float64       `json:"avgErrorRate"`
	AvgResponseTime  time.Duration `json:"avgResponseTime"`
	Timestamp        time.Time     `json:"timestamp"`
}

// ScalingDecision is the transient verdict of one scaling evaluation.
type ScalingDecision struct {
	Action          ScalingAction  `json:"action"`
	TargetInstances int            `json:"targetInstances"`
	Reason          string         `json:"reason"`
	Confidence      float64        `json:"confidence"`
	Metrics         ScalingMetrics `json:"metrics"`
}

// ScalingResult reports what an executed scaling action achieved.
type ScalingResult struct {
	Action    ScalingAction `json:"action"`
	Requested int           `json:"requested"`
	Completed int           `json:"completed"`
	Skipped   bool          `json:"skipped"`
	Reason    string        `json:"reason,omitempty"`
}

// PoolStats is a point-in-time summary of the whole pool.
type PoolStats struct {
	TotalInstances    int           `json:"totalInstances"`
	StartingInstances int           `json:"startingInstances"`
	ReadyInstances    int           `json:"readyInstances"`
	BusyInstances     int           `json:"busyInstances"`
	IdleInstances     int           `json:"idleInstances"`
	ErrorInstances    int           `json:"errorInstances"`
	QueueDepth        int           `json:"queueDepth"`
	TotalNodes        int           `json:"totalNodes"`
	OnlineNodes       int           `json:"onlineNodes"`
	MemoryUsageMB     float64       `json:"memoryUsageMb"`
	CPUUsagePercent   float64       `json:"cpuUsagePercent"`
	AvgResponseTime   time.Duration `json:"avgResponseTime"`
	ErrorRate         float64       `json:"errorRate"`
	Utilization       float64       `json:"utilization"`

	Created   int64 `json:"created"`
	Destroyed int64 `json:"destroyed"`
	Recycled  int64 `json:"recycled"`
	Assigned  int64 `json:"assigned"`
	Queued    int64 `json:"queued"`
	Timeouts  int64 `json:"timeouts"`
}
