package pool

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Rorqualx/browserfarm/internal/events"
	"github.com/Rorqualx/browserfarm/internal/types"
)

// Scaling signal thresholds.
const (
	recentJobWindow      = 60 * time.Second
	scaleUpQueueDepth    = 5
	scaleUpWaitMs        = 30000
	queuePerInstance     = 3
	waitMsPerInstance    = 15000
	scaleDownStepPercent = 20
)

// EvaluateScaling snapshots the fleet and decides whether it should grow,
// shrink or stay. The decision is emitted but not executed.
func (m *Manager) EvaluateScaling() types.ScalingDecision {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg := m.cfg
	sm := m.scalingMetricsLocked()
	d := types.ScalingDecision{
		Action:          types.Maintain,
		TargetInstances: sm.CurrentInstances,
		Reason:          "Within thresholds",
		Confidence:      1,
		Metrics:         sm,
	}
	waitMs := float64(sm.AvgWaitTime.Milliseconds())

	switch {
	case sm.CurrentInstances < cfg.MinInstances:
		d.Action = types.ScaleUp
		d.TargetInstances = cfg.MinInstances
		d.Reason = fmt.Sprintf("Below minimum instances (%d < %d)", sm.CurrentInstances, cfg.MinInstances)

	case sm.Utilization > cfg.ScaleUpThreshold || sm.QueueDepth > scaleUpQueueDepth || waitMs > scaleUpWaitMs:
		add := max(
			int(math.Ceil(sm.Utilization/cfg.TargetUtilization)),
			int(math.Ceil(float64(sm.QueueDepth)/queuePerInstance)),
			int(math.Ceil(waitMs/waitMsPerInstance)),
		)
		d.TargetInstances = min(sm.CurrentInstances+add, cfg.MaxInstances)
		d.Reason = fmt.Sprintf("High load: utilization %.1f%%, queue depth %d, avg wait %.0fms",
			sm.Utilization, sm.QueueDepth, waitMs)
		d.Confidence = math.Min(1, math.Max(sm.Utilization/100, float64(sm.QueueDepth)/(2*scaleUpQueueDepth)))
		if d.TargetInstances > sm.CurrentInstances {
			d.Action = types.ScaleUp
		} else {
			d.Reason += "; already at max instances"
		}

	case sm.Utilization < cfg.ScaleDownThreshold && sm.QueueDepth == 0 && sm.CurrentInstances > cfg.MinInstances:
		remove := int(math.Floor((cfg.TargetUtilization - sm.Utilization) / scaleDownStepPercent))
		d.TargetInstances = max(sm.CurrentInstances-remove, cfg.MinInstances)
		d.Reason = fmt.Sprintf("Low utilization %.1f%% with empty queue", sm.Utilization)
		d.Confidence = 1 - sm.Utilization/100
		if d.TargetInstances < sm.CurrentInstances {
			d.Action = types.ScaleDown
		} else {
			d.TargetInstances = sm.CurrentInstances
		}
	}

	m.emitLocked(events.ScalingDecision, d)
	return d
}

// scalingMetricsLocked computes the fleet snapshot scaling decisions use.
func (m *Manager) scalingMetricsLocked() types.ScalingMetrics {
	now := m.now()
	sm := types.ScalingMetrics{
		CurrentInstances: len(m.instances),
		Timestamp:        now,
	}

	var errSum float64
	var respSum time.Duration
	for _, e := range m.instances {
		if e.b.Status == types.StatusBusy {
			sm.BusyInstances++
		}
		errSum += e.b.Performance.ErrorRate
		respSum += e.b.Performance.AvgPageLoadTime
	}
	if n := len(m.instances); n > 0 {
		sm.Utilization = float64(sm.BusyInstances) / float64(n) * 100
		sm.AvgErrorRate = errSum / float64(n)
		sm.AvgResponseTime = respSum / time.Duration(n)
	}

	var waitSum time.Duration
	for _, item := range m.queue.items {
		wait := now.Sub(item.job.EnqueuedAt)
		if wait < recentJobWindow {
			sm.QueueDepth++
			waitSum += wait
		}
	}
	if sm.QueueDepth > 0 {
		sm.AvgWaitTime = waitSum / time.Duration(sm.QueueDepth)
	}
	return sm
}

// ExecuteScaling carries out decision. It is skipped with
// types.ErrScalingInProgress while another action runs and with
// types.ErrScalingCooldown inside the cooldown window.
func (m *Manager) ExecuteScaling(ctx context.Context, decision types.ScalingDecision) (types.ScalingResult, error) {
	res := types.ScalingResult{Action: decision.Action}
	if m.closed.Load() {
		return res, types.ErrManagerClosed
	}
	if decision.Action == types.Maintain {
		return res, nil
	}

	m.mu.Lock()
	now := m.now()
	switch {
	case m.scaling:
		m.mu.Unlock()
		res.Skipped = true
		res.Reason = types.ErrScalingInProgress.Error()
		return res, types.ErrScalingInProgress
	case !m.lastScaling.IsZero() && now.Sub(m.lastScaling) < m.cfg.ScalingCooldown:
		m.mu.Unlock()
		res.Skipped = true
		res.Reason = types.ErrScalingCooldown.Error()
		return res, types.ErrScalingCooldown
	}
	m.scaling = true
	m.lastScaling = now
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.scaling = false
		m.mu.Unlock()
	}()

	switch decision.Action {
	case types.ScaleUp:
		res.Requested, res.Completed = m.scaleUp(ctx, decision.TargetInstances)
		m.mu.Lock()
		m.emitLocked(events.ScaledUp, events.ScaledUpPayload{Requested: res.Requested, Created: res.Completed})
		m.mu.Unlock()
	case types.ScaleDown:
		res.Requested, res.Completed = m.scaleDown(ctx, decision.TargetInstances)
		m.mu.Lock()
		m.emitLocked(events.ScaledDown, events.ScaledDownPayload{Requested: res.Requested, Destroyed: res.Completed})
		m.mu.Unlock()
	default:
		return res, fmt.Errorf("%w: unknown scaling action %q", types.ErrInvalidConfig, decision.Action)
	}

	log.Info().
		Str("action", string(res.Action)).
		Int("target", decision.TargetInstances).
		Int("requested", res.Requested).
		Int("completed", res.Completed).
		Str("reason", decision.Reason).
		Msg("Scaling executed")
	return res, nil
}

// scaleUp reserves a slot on the best node for every missing instance and
// waits for the launches together. Returns how many were requested and how
// many became ready.
func (m *Manager) scaleUp(ctx context.Context, target int) (requested, created int) {
	m.mu.Lock()
	target = min(target, m.cfg.MaxInstances)
	requested = target - len(m.instances)
	var launched []*entry
	for i := 0; i < requested; i++ {
		node := m.findBestNodeLocked(types.JobRequirements{})
		if node == nil {
			break
		}
		e, err := m.createInstanceLocked(node.ID, nil, types.JobRequirements{}, nil)
		if err != nil {
			log.Debug().Err(err).Msg("Scale-up could not reserve a slot")
			break
		}
		launched = append(launched, e)
	}
	m.mu.Unlock()
	if requested < 0 {
		requested = 0
	}

	ready := make([]bool, len(launched))
	g, gctx := errgroup.WithContext(ctx)
	for i, e := range launched {
		g.Go(func() error {
			select {
			case <-e.started:
				ready[i] = e.startErr == nil
			case <-gctx.Done():
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, ok := range ready {
		if ok {
			created++
		}
	}
	return requested, created
}

// scaleDown destroys available instances, least used and oldest first,
// without going below target or the pool minimum.
func (m *Manager) scaleDown(ctx context.Context, target int) (requested, destroyed int) {
	m.mu.Lock()
	target = max(target, m.cfg.MinInstances)
	requested = len(m.instances) - target
	if requested <= 0 {
		m.mu.Unlock()
		return 0, 0
	}

	candidates := make([]*entry, 0, len(m.instances))
	for _, e := range m.instances {
		if e.b.Status.Available() {
			candidates = append(candidates, e)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i].b, candidates[j].b
		if a.UsageCount != b.UsageCount {
			return a.UsageCount < b.UsageCount
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	if len(candidates) > requested {
		candidates = candidates[:requested]
	}
	for _, e := range candidates {
		m.beginDestroyLocked(e)
	}
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentCloses)
	for _, e := range candidates {
		g.Go(func() error {
			m.finishDestroy(gctx, e, "scaled down")
			return nil
		})
	}
	_ = g.Wait()
	return requested, len(candidates)
}

// Scale evaluates and executes one scaling round.
func (m *Manager) Scale(ctx context.Context) (types.ScalingDecision, types.ScalingResult, error) {
	if m.closed.Load() {
		return types.ScalingDecision{}, types.ScalingResult{}, types.ErrManagerClosed
	}
	d := m.EvaluateScaling()
	res, err := m.ExecuteScaling(ctx, d)
	return d, res, err
}
