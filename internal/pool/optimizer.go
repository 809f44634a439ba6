package pool

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/browserfarm/internal/driver"
	"github.com/Rorqualx/browserfarm/internal/events"
	"github.com/Rorqualx/browserfarm/internal/types"
)

const (
	// optimizeThreshold is the fraction of a resource limit that triggers remediation.
	optimizeThreshold = 0.8
	// trimmedMemoryFactor estimates memory left after a trim.
	trimmedMemoryFactor = 0.7
	// unusedIdleLimit is how long a never-used instance may sit before it is reclaimed.
	unusedIdleLimit = 10 * time.Minute
)

// optimize refreshes instance telemetry, trims instances near their limits
// and reclaims instances that never served a job or ended in error.
func (m *Manager) optimize(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.instances))
	for id, e := range m.instances {
		if e.b.Status != types.StatusStarting {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	samples := make(map[string]types.ResourceUsage, len(ids))
	for _, id := range ids {
		usage, err := m.telemetry.Sample(ctx, id)
		if err != nil {
			log.Debug().Err(err).Str("instance_id", id).Msg("Telemetry sample failed")
			continue
		}
		samples[id] = usage
	}

	m.mu.Lock()
	limits := m.cfg.ResourceLimits
	now := m.now()
	var trim []string
	var reclaim []*entry
	live := len(m.instances)
	for id, usage := range samples {
		e, ok := m.instances[id]
		if !ok {
			continue
		}
		e.b.Resources = usage
		if overLimit(usage, limits.MaxMemoryMB, limits.MaxCPUPercent) && e.b.Status != types.StatusError {
			trim = append(trim, id)
		}
	}
	for _, e := range m.instances {
		switch {
		case e.b.Status == types.StatusError:
			reclaim = append(reclaim, e)
		case e.b.Status.Available() && e.b.UsageCount == 0 &&
			now.Sub(e.b.CreatedAt) > unusedIdleLimit && live-len(reclaim) > m.cfg.MinInstances:
			reclaim = append(reclaim, e)
		}
	}
	// Unlink while still holding mu; a job assigned after the unlock can
	// never land on a reclaimed instance.
	for _, e := range reclaim {
		m.beginDestroyLocked(e)
	}
	kept := trim[:0]
	for _, id := range trim {
		if _, ok := m.instances[id]; ok {
			kept = append(kept, id)
		}
	}
	trim = kept
	m.mu.Unlock()

	for _, e := range reclaim {
		m.retire(ctx, e, "reclaimed by optimizer")
	}
	for _, id := range trim {
		m.remediate(ctx, id)
	}

	if len(trim) > 0 || len(reclaim) > 0 {
		log.Info().
			Int("sampled", len(samples)).
			Int("trimmed", len(trim)).
			Int("reclaimed", len(reclaim)).
			Msg("Resource optimization completed")
	}
}

func overLimit(u types.ResourceUsage, maxMemoryMB, maxCPUPercent float64) bool {
	return (maxMemoryMB > 0 && u.MemoryMB > maxMemoryMB*optimizeThreshold) ||
		(maxCPUPercent > 0 && u.CPUPercent > maxCPUPercent*optimizeThreshold)
}

// remediate sheds memory from one instance without restarting it.
func (m *Manager) remediate(ctx context.Context, id string) {
	if t, ok := m.driver.(driver.Trimmer); ok {
		if err := t.Trim(ctx, id); err != nil {
			log.Debug().Err(err).Str("instance_id", id).Msg("Driver trim failed")
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.instances[id]
	if !ok {
		return
	}
	before := e.b.Resources
	after := before
	after.MemoryMB = before.MemoryMB * trimmedMemoryFactor
	after.Connections = before.Connections / 2
	after.OpenTabs = 1
	e.b.Resources = after

	m.emitLocked(events.InstanceOptimized, events.OptimizedPayload{
		InstanceID: id,
		Before:     before,
		After:      after,
	})
}
