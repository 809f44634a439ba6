package pool

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/browserfarm/internal/events"
	"github.com/Rorqualx/browserfarm/internal/types"
)

// Node health thresholds.
const (
	degradedErrorRate    = 50
	degradedResponseTime = 10 * time.Second
	recoveredErrorRate   = 10
)

// RegisterNode adds an execution node. An online node immediately gets warm
// instances up to WarmupInstances, bounded by its capacity and the pool
// maximum.
func (m *Manager) RegisterNode(node *types.BrowserNode) error {
	if m.closed.Load() {
		return types.ErrManagerClosed
	}
	if err := node.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.nodes[node.ID]; exists {
		return &types.PoolError{
			Operation: "register_node",
			ID:        node.ID,
			Message:   "node " + node.ID + " is already registered",
			Err:       types.ErrNodeExists,
		}
	}

	now := m.now()
	n := node.Clone()
	if n.Status == "" {
		n.Status = types.NodeOnline
	}
	n.Instances = nil
	n.LastHeartbeat = now
	n.RegisteredAt = now
	m.nodes[n.ID] = n

	m.emitLocked(events.NodeRegistered, events.NodePayload{NodeID: n.ID, Node: n.Clone()})
	log.Info().
		Str("node_id", n.ID).
		Str("hostname", n.Hostname).
		Str("region", n.Region).
		Str("status", n.Status.String()).
		Int("max_instances", n.Capacity.MaxInstances).
		Msg("Node registered")

	if n.Status != types.NodeOnline {
		return nil
	}

	warm := min(m.cfg.WarmupInstances, n.Capacity.MaxInstances, m.cfg.MaxInstances-len(m.instances))
	for i := 0; i < warm; i++ {
		if _, err := m.createInstanceLocked(n.ID, nil, types.JobRequirements{}, nil); err != nil {
			log.Warn().Err(err).Str("node_id", n.ID).Msg("Failed to create warm instance")
			break
		}
	}
	m.provisionLocked()
	return nil
}

// UnregisterNode drains a node, destroys what is left on it and removes it.
// Returns false for unknown ids.
func (m *Manager) UnregisterNode(ctx context.Context, id string) bool {
	if !m.DrainNode(ctx, id) {
		m.mu.Lock()
		_, ok := m.nodes[id]
		m.mu.Unlock()
		if !ok {
			return false
		}
		log.Warn().Str("node_id", id).Msg("Node drain incomplete, destroying busy instances")
	}

	// Busy instances left after a failed drain are destroyed regardless.
	dctx := context.WithoutCancel(ctx)

	m.mu.Lock()
	node, ok := m.nodes[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	remaining := append([]string(nil), node.Instances...)
	m.mu.Unlock()

	for _, iid := range remaining {
		m.destroy(dctx, iid, "node unregistered")
	}

	m.mu.Lock()
	node, ok = m.nodes[id]
	var orphans []*entry
	if ok {
		for _, iid := range node.Instances {
			if e, exists := m.instances[iid]; exists {
				m.beginDestroyLocked(e)
				orphans = append(orphans, e)
			}
		}
		delete(m.nodes, id)
		m.emitLocked(events.NodeUnregistered, events.NodePayload{NodeID: id})
	}
	m.mu.Unlock()

	for _, e := range orphans {
		m.finishDestroy(dctx, e, "node unregistered")
	}
	if ok {
		log.Info().Str("node_id", id).Int("instances_destroyed", len(remaining)+len(orphans)).Msg("Node unregistered")
	}
	return ok
}

// DrainNode stops new work from landing on a node and waits until none of
// its instances is busy. Returns false for unknown ids or when ctx ends
// first.
func (m *Manager) DrainNode(ctx context.Context, id string) bool {
	m.mu.Lock()
	node, ok := m.nodes[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	if node.Status != types.NodeDraining {
		if !node.Status.CanTransition(types.NodeDraining) {
			m.mu.Unlock()
			return false
		}
		node.Status = types.NodeDraining
		log.Info().Str("node_id", id).Msg("Draining node")
	}

	for {
		node, ok = m.nodes[id]
		if !ok {
			m.mu.Unlock()
			return false
		}
		if m.busyOnNodeLocked(node) == 0 {
			m.mu.Unlock()
			return true
		}
		changed := m.changed
		m.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return false
		}
		m.mu.Lock()
	}
}

// busyOnNodeLocked counts instances on node that hold or are starting for a job.
func (m *Manager) busyOnNodeLocked(node *types.BrowserNode) int {
	busy := 0
	for _, iid := range node.Instances {
		e, ok := m.instances[iid]
		if !ok {
			continue
		}
		if e.b.Status == types.StatusBusy || e.reserved != nil {
			busy++
		}
	}
	return busy
}

// UpdateHeartbeat records a node agent report. A degraded node is moved to
// maintenance and promoted back once healthy. Returns false for unknown ids.
func (m *Manager) UpdateHeartbeat(id string, resources types.NodeResources, health types.NodeHealth) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	node, ok := m.nodes[id]
	if !ok {
		return false
	}
	node.LastHeartbeat = m.now()
	node.Resources = resources
	node.Health = health

	memPercent := 0.0
	if node.Capacity.MaxMemoryMB > 0 {
		memPercent = resources.MemoryUsedMB / node.Capacity.MaxMemoryMB * 100
	}
	node.CurrentLoad = clampPercent((resources.CPUPercent + memPercent) / 2)

	prev := node.Status
	degraded := health.ErrorRate > degradedErrorRate || health.ResponseTime > degradedResponseTime
	switch {
	case degraded && (prev == types.NodeOnline || prev == types.NodeOffline):
		node.Status = types.NodeMaintenance
	case prev == types.NodeMaintenance && !degraded && health.ErrorRate < recoveredErrorRate:
		node.Status = types.NodeOnline
	case prev == types.NodeOffline && !degraded:
		node.Status = types.NodeOnline
	}
	if node.Status != prev {
		log.Info().
			Str("node_id", id).
			Str("from", prev.String()).
			Str("to", node.Status.String()).
			Float64("error_rate", health.ErrorRate).
			Dur("response_time", health.ResponseTime).
			Msg("Node status changed by heartbeat")
	}

	m.emitLocked(events.NodeHeartbeat, events.HeartbeatPayload{
		NodeID:    id,
		Status:    node.Status,
		Resources: resources,
		Health:    health,
	})

	if node.Status == types.NodeOnline && prev != types.NodeOnline {
		m.provisionLocked()
	}
	return true
}

// SetNodeStatus applies an administrative status change checked against
// the node transition table.
func (m *Manager) SetNodeStatus(id string, status types.NodeStatus) error {
	if m.closed.Load() {
		return types.ErrManagerClosed
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	node, ok := m.nodes[id]
	if !ok {
		return types.ErrNodeNotFound
	}
	if !status.Valid() || !node.Status.CanTransition(status) {
		return types.NewTransitionError(id, node.Status, status)
	}
	prev := node.Status
	node.Status = status
	log.Info().Str("node_id", id).Str("from", prev.String()).Str("to", status.String()).Msg("Node status set")

	if status == types.NodeOnline && prev != types.NodeOnline {
		m.provisionLocked()
	}
	return nil
}

// Nodes returns snapshots of every registered node ordered by id.
func (m *Manager) Nodes() []*types.BrowserNode {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.BrowserNode, 0, len(m.nodes))
	for _, n := range m.nodes {
		out = append(out, n.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Node returns a snapshot of one node.
func (m *Manager) Node(id string) (*types.BrowserNode, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[id]
	if !ok {
		return nil, false
	}
	return n.Clone(), true
}
