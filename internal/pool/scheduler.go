package pool

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/browserfarm/internal/config"
	"github.com/Rorqualx/browserfarm/internal/events"
	"github.com/Rorqualx/browserfarm/internal/types"
)

// Instance scoring weights.
const (
	baseScore              = 100
	browserMismatchPenalty = 50
	mobileMismatchPenalty  = 30
	stealthMissingPenalty  = 20
	memoryShortPenalty     = 40
	recentUseBonus         = 10
	recentUseWindow        = 5 * time.Minute
	heavyUseThreshold      = 100
)

// Assignment is the result of RequestBrowser. When Queued is false Instance
// is the browser to use; otherwise Wait blocks until one is assigned.
type Assignment struct {
	Job      *types.JobContext
	Instance *types.BrowserInstance
	Queued   bool

	done     chan struct{}
	finished bool // guarded by Manager.mu
	instance *types.BrowserInstance
	err      error
}

func newAssignment(job *types.JobContext) *Assignment {
	return &Assignment{
		Job:  job.Clone(),
		done: make(chan struct{}),
	}
}

// deliver settles the assignment once. Callers hold Manager.mu.
func (a *Assignment) deliver(inst *types.BrowserInstance, err error) {
	if a.finished {
		return
	}
	a.finished = true
	a.instance = inst
	a.err = err
	close(a.done)
}

// Done is closed once the job has an instance, was cancelled or the
// manager closed.
func (a *Assignment) Done() <-chan struct{} {
	return a.done
}

// Wait returns the instance assigned to the job. It fails with
// types.ErrJobCancelled or types.ErrManagerClosed when the job can no
// longer be served, or with ctx.Err() when ctx ends first.
func (a *Assignment) Wait(ctx context.Context) (*types.BrowserInstance, error) {
	if a.Instance != nil {
		return a.Instance, nil
	}
	select {
	case <-a.done:
		return a.instance, a.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type requestOptions struct {
	jobID     string
	jobType   string
	estimated time.Duration
	metadata  map[string]string
	overrides *types.ProfileOverrides
}

// RequestOption customizes a browser request.
type RequestOption func(*requestOptions)

// WithJobID sets the job id instead of generating one.
func WithJobID(id string) RequestOption {
	return func(o *requestOptions) { o.jobID = id }
}

// WithJobType labels the job.
func WithJobType(t string) RequestOption {
	return func(o *requestOptions) { o.jobType = t }
}

// WithEstimatedDuration sets how long the job is expected to hold the browser.
func WithEstimatedDuration(d time.Duration) RequestOption {
	return func(o *requestOptions) { o.estimated = d }
}

// WithMetadata attaches caller metadata to the job.
func WithMetadata(md map[string]string) RequestOption {
	return func(o *requestOptions) { o.metadata = md }
}

// WithOverrides fixes profile fields of an instance created for the job.
func WithOverrides(o *types.ProfileOverrides) RequestOption {
	return func(ro *requestOptions) { ro.overrides = o }
}

// RequestBrowser finds a browser for a job. It prefers an available
// instance, then starts a new one on the best node and waits for its
// startup, and otherwise queues the job and returns immediately with
// Queued set. It never waits for capacity.
func (m *Manager) RequestBrowser(ctx context.Context, req types.JobRequirements, priority types.Priority, opts ...RequestOption) (*Assignment, error) {
	if m.closed.Load() {
		return nil, types.ErrManagerClosed
	}
	var ro requestOptions
	for _, opt := range opts {
		opt(&ro)
	}
	if ro.jobID == "" {
		ro.jobID = uuid.NewString()
	}

	m.mu.Lock()
	if m.closed.Load() {
		m.mu.Unlock()
		return nil, types.ErrManagerClosed
	}
	job := &types.JobContext{
		ID:                ro.jobID,
		Type:              ro.jobType,
		Priority:          priority,
		Requirements:      req,
		EnqueuedAt:        m.now(),
		EstimatedDuration: ro.estimated,
		Metadata:          ro.metadata,
	}
	a := newAssignment(job)
	item := &queuedJob{job: job, overrides: ro.overrides, assignment: a}

	if e := m.findSuitableInstanceLocked(req); e != nil {
		m.assignLocked(e, item)
		a.Instance = a.instance
		m.mu.Unlock()
		return a, nil
	}

	var pending *entry
	if node := m.findBestNodeLocked(req); node != nil && len(m.instances) < m.cfg.MaxInstances {
		e, err := m.createInstanceLocked(node.ID, ro.overrides, req, item)
		if err != nil {
			log.Debug().Err(err).Str("job_id", job.ID).Msg("Could not start instance for job")
		} else {
			pending = e
		}
	}
	if pending == nil {
		m.enqueueLocked(item)
		m.mu.Unlock()
		return a, nil
	}
	m.mu.Unlock()

	select {
	case <-pending.started:
	case <-ctx.Done():
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if a.finished {
		if a.err != nil {
			return nil, a.err
		}
		a.Instance = a.instance
		a.Queued = false
		return a, nil
	}
	if err := ctx.Err(); err != nil {
		m.withdrawLocked(job.ID)
		return nil, err
	}
	// Startup failed and the job went back to the queue.
	return a, nil
}

// findSuitableInstanceLocked returns the best-scoring available instance
// on an online node, or nil when none scores above zero.
func (m *Manager) findSuitableInstanceLocked(req types.JobRequirements) *entry {
	now := m.now()
	var best *entry
	var bestScore float64
	for _, e := range m.instances {
		if !e.b.Status.Available() {
			continue
		}
		if node, ok := m.nodes[e.b.NodeID]; !ok || node.Status != types.NodeOnline {
			continue
		}
		score := calculateInstanceScore(e.b, req, m.cfg.ResourceLimits, now)
		if score <= 0 {
			continue
		}
		if best == nil || score > bestScore || (score == bestScore && e.b.ID < best.b.ID) {
			best, bestScore = e, score
		}
	}
	return best
}

// calculateInstanceScore rates how well inst fits req. Zero means unusable.
func calculateInstanceScore(inst *types.BrowserInstance, req types.JobRequirements, limits config.ResourceLimits, now time.Time) float64 {
	score := float64(baseScore)

	if req.BrowserType != "" && inst.BrowserType != req.BrowserType {
		score -= browserMismatchPenalty
	}
	if inst.Capabilities.Mobile != req.Mobile {
		score -= mobileMismatchPenalty
	}
	if req.Stealth && !inst.Capabilities.Stealth {
		score -= stealthMissingPenalty
	}
	if req.MinMemoryMB > 0 && limits.MaxMemoryMB-inst.Resources.MemoryMB < req.MinMemoryMB {
		score -= memoryShortPenalty
	}
	if !inst.LastUsed.IsZero() && now.Sub(inst.LastUsed) < recentUseWindow {
		score += recentUseBonus
	}
	if inst.UsageCount > heavyUseThreshold {
		score -= float64(inst.UsageCount) / 10
	}

	if score < 0 {
		return 0
	}
	return score
}

// findBestNodeLocked returns the online node with free capacity that best
// fits req, or nil.
func (m *Manager) findBestNodeLocked(req types.JobRequirements) *types.BrowserNode {
	var best *types.BrowserNode
	var bestScore float64
	for _, n := range m.nodes {
		if n.Status != types.NodeOnline || len(n.Instances) >= n.Capacity.MaxInstances {
			continue
		}
		score := calculateNodeScore(n, req)
		if best == nil || score > bestScore || (score == bestScore && n.ID < best.ID) {
			best, bestScore = n, score
		}
	}
	return best
}

// calculateNodeScore weighs inverse load, free capacity, health and region.
func calculateNodeScore(n *types.BrowserNode, req types.JobRequirements) float64 {
	load := clampPercent(n.CurrentLoad)
	free := 0.0
	if n.Capacity.MaxInstances > 0 {
		free = float64(n.Capacity.MaxInstances-len(n.Instances)) / float64(n.Capacity.MaxInstances) * 100
	}
	health := 100 - clampPercent(n.Health.ErrorRate)

	score := (100-load)*0.4 + free*0.3 + health*0.2
	if req.Region != "" && n.Region == req.Region {
		score += 10
	}
	return score
}

func clampPercent(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}

// assignLocked hands e to the job in item.
func (m *Manager) assignLocked(e *entry, item *queuedJob) bool {
	if !m.transitionLocked(e, types.StatusBusy) {
		return false
	}
	now := m.now()
	job := item.job
	job.StartedAt = now
	e.b.CurrentJob = job
	e.b.UsageCount++
	e.b.LastUsed = now
	m.stats.assigned++

	snapshot := e.b.Clone()
	m.emitLocked(events.InstanceAssigned, events.AssignedPayload{InstanceID: e.b.ID, JobID: job.ID})
	if item.assignment.Queued {
		m.emitLocked(events.JobAssigned, events.JobAssignedPayload{Job: job.Clone(), Instance: snapshot})
	}
	item.assignment.deliver(snapshot, nil)

	log.Debug().
		Str("instance_id", e.b.ID).
		Str("job_id", job.ID).
		Str("priority", job.Priority.String()).
		Msg("Browser assigned")
	return true
}

// enqueueLocked adds item to the pending queue.
func (m *Manager) enqueueLocked(item *queuedJob) {
	if m.closed.Load() {
		item.assignment.deliver(nil, types.ErrManagerClosed)
		return
	}
	if !item.assignment.Queued {
		item.assignment.Queued = true
	}
	m.queue.push(item)
	m.stats.queued++
	m.emitLocked(events.JobQueued, events.JobPayload{Job: item.job.Clone(), QueueDepth: m.queue.len()})

	log.Debug().
		Str("job_id", item.job.ID).
		Str("priority", item.job.Priority.String()).
		Int("queue_depth", m.queue.len()).
		Msg("Job queued")
}

// processJobQueueLocked assigns pending jobs to available instances in
// queue order, stopping at the first job nothing fits.
func (m *Manager) processJobQueueLocked() {
	if m.closed.Load() || m.queue.len() == 0 {
		return
	}
	available := 0
	for _, e := range m.instances {
		if e.b.Status.Available() {
			available++
		}
	}
	for i := 0; i < available && m.queue.len() > 0; i++ {
		item := m.queue.pop()
		e := m.findSuitableInstanceLocked(item.job.Requirements)
		if e == nil || !m.assignLocked(e, item) {
			m.queue.pushFront(item)
			break
		}
	}
}

// provisionLocked serves the queue from available instances and, when the
// head job still waits and capacity allows, starts an instance for it.
func (m *Manager) provisionLocked() {
	m.processJobQueueLocked()

	head := m.queue.peek()
	if head == nil || m.closed.Load() || len(m.instances) >= m.cfg.MaxInstances {
		return
	}
	node := m.findBestNodeLocked(head.job.Requirements)
	if node == nil {
		return
	}
	item := m.queue.pop()
	if _, err := m.createInstanceLocked(node.ID, item.overrides, item.job.Requirements, item); err != nil {
		log.Debug().Err(err).Str("job_id", item.job.ID).Msg("Could not start instance for queued job")
		m.queue.pushFront(item)
	}
}

// ReleaseBrowser returns a busy instance to the pool with the job outcome.
// Worn instances are recycled; otherwise the instance serves the queue.
// Returns false for unknown or unassigned instances.
func (m *Manager) ReleaseBrowser(ctx context.Context, id string, result types.JobResult) bool {
	m.mu.Lock()
	e, ok := m.instances[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	if e.b.Status == types.StatusError {
		// The health monitor already detached the job.
		m.mu.Unlock()
		return m.destroy(ctx, id, "released after error")
	}
	if e.b.Status != types.StatusBusy {
		m.mu.Unlock()
		return false
	}

	now := m.now()
	var jobID string
	if job := e.b.CurrentJob; job != nil {
		jobID = job.ID
		if !job.StartedAt.IsZero() {
			e.b.SessionDuration += now.Sub(job.StartedAt)
		}
	}
	e.b.CurrentJob = nil
	m.transitionLocked(e, types.StatusIdle)
	e.b.LastUsed = now
	recordResult(&e.b.Performance, result)

	recycle := ShouldRecycle(e.b, m.cfg)
	usage := e.b.UsageCount
	var rotated *types.Profile
	if recycle {
		m.stats.recycled++
		// Unlinked before mu is dropped so no waiting job can claim it.
		m.beginDestroyLocked(e)
	} else if m.cfg.AutoRotation && m.cfg.AntiDetection.ProfileRotation {
		p := m.rotateLocked(e)
		rotated = &p
	}
	m.emitLocked(events.InstanceReleased, events.ReleasedPayload{
		InstanceID: id,
		JobID:      jobID,
		Result:     result,
		Recycled:   recycle,
	})
	m.mu.Unlock()

	if recycle {
		log.Info().
			Str("instance_id", id).
			Int64("usage_count", usage).
			Msg("Recycling worn browser instance")
		m.retire(ctx, e, "recycled")
		return true
	}
	if rotated != nil {
		m.applyProfile(ctx, id, *rotated)
	}

	m.mu.Lock()
	m.processJobQueueLocked()
	m.mu.Unlock()
	return true
}

// recordResult folds one job outcome into p. Rates are percentages.
func recordResult(p *types.Performance, r types.JobResult) {
	if r.Success {
		p.JobsCompleted++
	} else {
		p.JobsFailed++
	}
	total := p.JobsCompleted + p.JobsFailed
	p.SuccessRate = float64(p.JobsCompleted) / float64(total) * 100
	p.ErrorRate = float64(p.JobsFailed) / float64(total) * 100
	if r.PageLoadTime > 0 {
		p.AvgPageLoadTime += (r.PageLoadTime - p.AvgPageLoadTime) / time.Duration(total)
	}
}

// CancelJob drops a job that is still waiting for a browser.
// Returns false when the job is unknown or already assigned.
func (m *Manager) CancelJob(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	item := m.withdrawLocked(jobID)
	if item == nil {
		return false
	}
	item.assignment.deliver(nil, types.ErrJobCancelled)
	m.emitLocked(events.JobCancelled, events.JobPayload{Job: item.job.Clone(), QueueDepth: m.queue.len()})
	log.Debug().Str("job_id", jobID).Msg("Job cancelled")
	return true
}

// withdrawLocked takes a waiting job out of the queue or off the instance
// starting for it.
func (m *Manager) withdrawLocked(jobID string) *queuedJob {
	if item := m.queue.remove(jobID); item != nil {
		return item
	}
	for _, e := range m.instances {
		if e.reserved != nil && e.reserved.job.ID == jobID {
			item := e.reserved
			e.reserved = nil
			return item
		}
	}
	return nil
}

// QueuedJobs returns the pending jobs in the order they will be served.
func (m *Manager) QueuedJobs() []*types.JobContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.jobs()
}
