package pool

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/browserfarm/internal/config"
	"github.com/Rorqualx/browserfarm/internal/driver"
	"github.com/Rorqualx/browserfarm/internal/events"
	"github.com/Rorqualx/browserfarm/internal/types"
)

// maxInstanceErrorRate is the error-rate percentage past which an instance
// is recycled on release.
const maxInstanceErrorRate = 20

// entry is the pool's record of one instance.
type entry struct {
	b        *types.BrowserInstance
	started  chan struct{} // closed once startup has succeeded or failed
	startErr error
	cancel   context.CancelFunc // aborts an in-flight launch
	reserved *queuedJob         // job this instance is being started for
}

// CreateInstance reserves a slot on nodeID and starts a browser there.
// The returned snapshot is in starting status; the instance becomes ready
// asynchronously once the driver reports it launched.
func (m *Manager) CreateInstance(nodeID string, overrides *types.ProfileOverrides, req types.JobRequirements) (*types.BrowserInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.createInstanceLocked(nodeID, overrides, req, nil)
	if err != nil {
		return nil, err
	}
	return e.b.Clone(), nil
}

// createInstanceLocked registers a starting instance and launches it in the
// background. reserved, when set, receives the instance once it is ready.
func (m *Manager) createInstanceLocked(nodeID string, overrides *types.ProfileOverrides, req types.JobRequirements, reserved *queuedJob) (*entry, error) {
	if m.closed.Load() {
		return nil, types.ErrManagerClosed
	}
	node, ok := m.nodes[nodeID]
	switch {
	case !ok:
		return nil, types.NewCreateInstanceError(nodeID, "node not found", types.ErrNodeNotFound)
	case node.Status != types.NodeOnline:
		return nil, types.NewCreateInstanceError(nodeID, "node is "+node.Status.String(), types.ErrNodeUnavailable)
	case len(node.Instances) >= node.Capacity.MaxInstances:
		return nil, types.NewCreateInstanceError(nodeID, "node at capacity", types.ErrNodeAtCapacity)
	case len(m.instances) >= m.cfg.MaxInstances:
		return nil, types.NewCreateInstanceError(nodeID, "pool at max instances", types.ErrPoolAtCapacity)
	}

	browser := req.BrowserType
	if browser == "" {
		browser = types.BrowserChrome
	}
	caps := req.Capabilities()
	caps.Stealth = caps.Stealth || m.cfg.AntiDetection.Enabled

	now := m.now()
	inst := &types.BrowserInstance{
		ID:           uuid.NewString(),
		Status:       types.StatusStarting,
		BrowserType:  browser,
		NodeID:       nodeID,
		Profile:      m.generator.Generate(browser, req, m.cfg.AntiDetection, overrides),
		CreatedAt:    now,
		Capabilities: caps,
	}
	if req.Proxy && m.proxies != nil {
		inst.Proxy = m.proxies.Next()
	}

	ctx, cancel := context.WithTimeout(m.baseCtx, m.startupTimeout)
	e := &entry{
		b:        inst,
		started:  make(chan struct{}),
		cancel:   cancel,
		reserved: reserved,
	}
	m.instances[inst.ID] = e
	node.Instances = append(node.Instances, inst.ID)
	m.stats.created++
	m.notifyLocked()
	m.emitLocked(events.InstanceCreated, events.InstancePayload{
		InstanceID: inst.ID,
		NodeID:     nodeID,
		Instance:   inst.Clone(),
	})

	spec := driver.LaunchSpec{
		InstanceID:   inst.ID,
		NodeID:       nodeID,
		BrowserType:  browser,
		Profile:      inst.Profile,
		Capabilities: caps,
	}
	if inst.Proxy != nil {
		p := *inst.Proxy
		spec.Proxy = &p
	}

	log.Debug().
		Str("instance_id", inst.ID).
		Str("node_id", nodeID).
		Str("browser", string(browser)).
		Msg("Browser instance starting")

	m.launchWg.Add(1)
	go m.launch(ctx, e, spec)
	return e, nil
}

// launch runs the driver startup and settles the instance status.
func (m *Manager) launch(ctx context.Context, e *entry, spec driver.LaunchSpec) {
	defer m.launchWg.Done()
	defer e.cancel()

	start := time.Now()
	err := m.driver.Launch(ctx, spec)

	m.mu.Lock()
	current := m.instances[spec.InstanceID] == e && e.b.Status == types.StatusStarting
	if current && err == nil {
		m.transitionLocked(e, types.StatusReady)
		m.emitLocked(events.InstanceReady, events.InstancePayload{
			InstanceID: spec.InstanceID,
			NodeID:     spec.NodeID,
			Instance:   e.b.Clone(),
		})
		if item := e.reserved; item != nil {
			e.reserved = nil
			m.assignLocked(e, item)
		}
		m.processJobQueueLocked()
		m.mu.Unlock()
		close(e.started)

		log.Debug().
			Str("instance_id", spec.InstanceID).
			Dur("startup", time.Since(start)).
			Msg("Browser instance ready")
		return
	}

	if current {
		e.startErr = err
		m.transitionLocked(e, types.StatusError)
		if item := e.reserved; item != nil {
			e.reserved = nil
			m.enqueueLocked(item)
		}
		m.beginDestroyLocked(e)
	} else if e.startErr == nil {
		e.startErr = types.ErrStartupFailed
	}
	m.mu.Unlock()

	if current {
		log.Warn().
			Err(err).
			Str("instance_id", spec.InstanceID).
			Str("node_id", spec.NodeID).
			Msg("Browser instance failed to start")
		m.finishDestroy(context.Background(), e, "startup failed")
	} else if err == nil {
		// Destroyed while launching; the driver now holds a process nobody owns.
		m.closeDriver(context.Background(), spec.InstanceID)
	}
	close(e.started)
}

// DestroyInstance stops an instance and frees its slot. A busy instance
// loses its job. Returns false for unknown ids.
func (m *Manager) DestroyInstance(ctx context.Context, id string) bool {
	return m.destroy(ctx, id, "destroyed")
}

func (m *Manager) destroy(ctx context.Context, id, reason string) bool {
	m.mu.Lock()
	e, ok := m.instances[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	if item := e.reserved; item != nil {
		e.reserved = nil
		m.enqueueLocked(item)
	}
	m.beginDestroyLocked(e)
	m.mu.Unlock()

	m.retire(ctx, e, reason)
	return true
}

// retire finishes an instance already unlinked by beginDestroyLocked and
// lets the queue use the freed slot. Must be called without mu held.
func (m *Manager) retire(ctx context.Context, e *entry, reason string) {
	m.finishDestroy(ctx, e, reason)

	m.mu.Lock()
	m.provisionLocked()
	m.mu.Unlock()
}

// beginDestroyLocked moves e to stopping and unlinks it from its node and
// the index, so the slot is free and no job can be assigned to it.
func (m *Manager) beginDestroyLocked(e *entry) {
	id := e.b.ID
	if e.b.Status != types.StatusStopping {
		m.transitionLocked(e, types.StatusStopping)
	}
	e.b.CurrentJob = nil
	e.cancel()

	delete(m.instances, id)
	if node, ok := m.nodes[e.b.NodeID]; ok {
		for i, iid := range node.Instances {
			if iid == id {
				node.Instances = append(node.Instances[:i], node.Instances[i+1:]...)
				break
			}
		}
	}
	m.notifyLocked()
}

// finishDestroy closes the browser process and reports the instance gone.
func (m *Manager) finishDestroy(ctx context.Context, e *entry, reason string) {
	m.closeDriver(ctx, e.b.ID)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitionLocked(e, types.StatusStopped)
	e.b.UsageCount = 0
	e.b.SessionDuration = 0
	e.b.Resources = types.ResourceUsage{}
	m.stats.destroyed++
	m.emitLocked(events.InstanceDestroyed, events.InstancePayload{
		InstanceID: e.b.ID,
		NodeID:     e.b.NodeID,
		Reason:     reason,
	})

	log.Debug().
		Str("instance_id", e.b.ID).
		Str("node_id", e.b.NodeID).
		Str("reason", reason).
		Msg("Browser instance destroyed")
}

func (m *Manager) closeDriver(ctx context.Context, id string) {
	ctx, cancel := context.WithTimeout(ctx, driverCloseTimeout)
	defer cancel()
	if err := m.driver.Close(ctx, id); err != nil {
		log.Warn().Err(err).Str("instance_id", id).Msg("Driver failed to close browser")
	}
}

// transitionLocked applies the browser transition table. Rejected moves are
// logged and leave the status unchanged.
func (m *Manager) transitionLocked(e *entry, to types.BrowserStatus) bool {
	from := e.b.Status
	if !from.CanTransition(to) {
		log.Warn().Err(types.NewTransitionError(e.b.ID, from, to)).Msg("Rejected instance transition")
		return false
	}
	e.b.Status = to
	m.notifyLocked()
	return true
}

// ShouldRecycle reports whether inst has worn out under cfg: too many jobs,
// too long in service, too much memory or too many failures.
func ShouldRecycle(inst *types.BrowserInstance, cfg config.PoolConfiguration) bool {
	switch {
	case cfg.MaxSessionRequests > 0 && inst.UsageCount > cfg.MaxSessionRequests:
		return true
	case cfg.MaxSessionDuration > 0 && inst.SessionDuration > cfg.MaxSessionDuration:
		return true
	case cfg.ResourceLimits.MaxMemoryMB > 0 && inst.Resources.MemoryMB > cfg.ResourceLimits.MaxMemoryMB:
		return true
	case inst.Performance.ErrorRate > maxInstanceErrorRate:
		return true
	}
	return false
}

// RotateFingerprint gives an idle or ready instance a fresh profile.
// Returns false when the instance is unknown or not available.
func (m *Manager) RotateFingerprint(ctx context.Context, id string) bool {
	m.mu.Lock()
	e, ok := m.instances[id]
	if !ok || !e.b.Status.Available() || e.reserved != nil {
		m.mu.Unlock()
		return false
	}
	profile := m.rotateLocked(e)
	m.mu.Unlock()

	m.applyProfile(ctx, id, profile)
	return true
}

func (m *Manager) rotateLocked(e *entry) types.Profile {
	e.b.Profile = m.generator.Rotate(e.b.Profile, e.b.BrowserType, m.cfg.AntiDetection)
	m.emitLocked(events.InstanceRotated, events.InstancePayload{
		InstanceID: e.b.ID,
		NodeID:     e.b.NodeID,
		Instance:   e.b.Clone(),
	})
	return e.b.Profile
}

func (m *Manager) applyProfile(ctx context.Context, id string, profile types.Profile) {
	p, ok := m.driver.(driver.Profiler)
	if !ok {
		return
	}
	if err := p.ApplyProfile(ctx, id, profile); err != nil {
		log.Warn().Err(err).Str("instance_id", id).Msg("Failed to apply rotated profile")
	}
}

// Instances returns snapshots of every live instance ordered by id.
func (m *Manager) Instances() []*types.BrowserInstance {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.BrowserInstance, 0, len(m.instances))
	for _, e := range m.instances {
		out = append(out, e.b.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Instance returns a snapshot of one instance.
func (m *Manager) Instance(id string) (*types.BrowserInstance, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.instances[id]
	if !ok {
		return nil, false
	}
	return e.b.Clone(), true
}
