package types

import "time"

// NodeCapacity is the declared capacity of an execution node.
type NodeCapacity struct {
	MaxInstances   int     `json:"maxInstances"`
	MaxMemoryMB    float64 `json:"maxMemoryMb"`
	MaxCPUCores    float64 `json:"maxCpuCores"`
	MaxDiskMB      float64 `json:"maxDiskMb"`
	MaxNetworkMbps float64 `json:"maxNetworkMbps"`
}

// NodeResources is the live resource snapshot reported by a node agent.
type NodeResources struct {
	MemoryUsedMB float64 `json:"memoryUsedMb"`
	CPUPercent   float64 `json:"cpuPercent"`
	DiskUsedMB   float64 `json:"diskUsedMb"`
	NetworkMbps  float64 `json:"networkMbps"`
}

// NodeHealth carries node health metrics. ErrorRate is a percentage.
type NodeHealth struct {
	Uptime       time.Duration `json:"uptime"`
	ResponseTime time.Duration `json:"responseTime"`
	ErrorRate    float64       `json:"errorRate"`
	LastError    string        `json:"lastError,omitempty"`
}

// BrowserNode is one execution host capable of running browser instances.
type BrowserNode struct {
	ID            string        `json:"id"`
	Hostname      string        `json:"hostname"`
	Region        string        `json:"region"`
	Status        NodeStatus    `json:"status"`
	Capacity      NodeCapacity  `json:"capacity"`
	CurrentLoad   float64       `json:"currentLoad"`
	Resources     NodeResources `json:"resources"`
	Health        NodeHealth    `json:"health"`
	LastHeartbeat time.Time     `json:"lastHeartbeat"`
	RegisteredAt  time.Time     `json:"registeredAt"`
	Instances     []string      `json:"instances"`
}

// Clone returns a deep copy of the node.
func (n *BrowserNode) Clone() *BrowserNode {
	if n == nil {
		return nil
	}
	c := *n
	c.Instances = append([]string(nil), n.Instances...)
	return &c
}

// Validate checks the fields a node must declare before registration.
func (n *BrowserNode) Validate() error {
	switch {
	case n == nil:
		return ErrInvalidNode
	case n.ID == "":
		return &PoolError{Operation: "register_node", Message: "node id is required", Err: ErrInvalidNode}
	case n.Capacity.MaxInstances < 1:
		return &PoolError{Operation: "register_node", ID: n.ID, Message: "node capacity.maxInstances must be at least 1", Err: ErrInvalidNode}
	case n.Status != "" && !n.Status.Valid():
		return &PoolError{Operation: "register_node", ID: n.ID, Message: "unknown node status " + string(n.Status), Err: ErrInvalidNode}
	}
	return nil
}
