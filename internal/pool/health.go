package pool

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/browserfarm/internal/events"
	"github.com/Rorqualx/browserfarm/internal/types"
)

const (
	heartbeatTimeout = 2 * time.Minute
	// jobOverrunFactor is how many estimated durations a job may run.
	jobOverrunFactor = 2
)

// checkHealth marks silent nodes offline and flags instances whose job ran
// far past its estimate. It only detects; recovery is left to heartbeats,
// release and the optimizer.
func (m *Manager) checkHealth(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()

	for id, node := range m.nodes {
		if node.Status == types.NodeOffline || now.Sub(node.LastHeartbeat) <= heartbeatTimeout {
			continue
		}
		node.Status = types.NodeOffline
		m.emitLocked(events.NodeUnhealthy, events.UnhealthyPayload{NodeID: id, Reason: "Heartbeat timeout"})
		log.Warn().
			Str("node_id", id).
			Time("last_heartbeat", node.LastHeartbeat).
			Msg("Node heartbeat timed out")
	}

	for id, e := range m.instances {
		job := e.b.CurrentJob
		if e.b.Status != types.StatusBusy || job == nil {
			continue
		}
		limit := time.Duration(jobOverrunFactor) * job.EstimatedDuration
		if job.EstimatedDuration <= 0 {
			limit = job.Requirements.Timeout
		}
		ran := now.Sub(job.StartedAt)
		if limit <= 0 || ran <= limit {
			continue
		}

		m.transitionLocked(e, types.StatusError)
		e.b.CurrentJob = nil
		m.stats.timeouts++
		m.emitLocked(events.InstanceTimeout, events.TimeoutPayload{
			InstanceID:  id,
			JobDuration: ran,
			Job:         job.Clone(),
		})
		log.Warn().
			Str("instance_id", id).
			Str("job_id", job.ID).
			Dur("job_duration", ran).
			Dur("estimated", job.EstimatedDuration).
			Msg("Job exceeded its expected duration")
	}
}
