package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Rorqualx/browserfarm/internal/driver"
	"github.com/Rorqualx/browserfarm/internal/events"
	"github.com/Rorqualx/browserfarm/internal/types"
)

func TestHeartbeatTimeoutMarksNodeOffline(t *testing.T) {
	h := newHarness(t, testConfig())
	h.register(t, "n1", 2)
	ctx := context.Background()

	h.clock.Advance(90 * time.Second)
	h.m.checkHealth(ctx)
	node, _ := h.m.Node("n1")
	require.Equal(t, types.NodeOnline, node.Status)

	h.clock.Advance(40 * time.Second)
	h.m.checkHealth(ctx)
	node, _ = h.m.Node("n1")
	require.Equal(t, types.NodeOffline, node.Status)

	unhealthy := h.rec.named(events.NodeUnhealthy)
	require.Len(t, unhealthy, 1)
	payload := unhealthy[0].Data.(events.UnhealthyPayload)
	require.Equal(t, "n1", payload.NodeID)
	require.Equal(t, "Heartbeat timeout", payload.Reason)

	// Already offline: no repeated notification.
	h.m.checkHealth(ctx)
	require.Equal(t, 1, h.rec.count(events.NodeUnhealthy))
}

func TestJobOverrunMarksInstanceError(t *testing.T) {
	h := newHarness(t, testConfig())
	h.register(t, "n1", 2)
	ctx := context.Background()

	a := h.request(t, types.JobRequirements{}, WithEstimatedDuration(1000*time.Millisecond))

	h.clock.Advance(1900 * time.Millisecond)
	h.m.checkHealth(ctx)
	inst, _ := h.m.Instance(a.Instance.ID)
	require.Equal(t, types.StatusBusy, inst.Status)

	h.clock.Advance(200 * time.Millisecond)
	h.m.checkHealth(ctx)
	inst, _ = h.m.Instance(a.Instance.ID)
	require.Equal(t, types.StatusError, inst.Status)
	require.Nil(t, inst.CurrentJob)
	require.Equal(t, int64(1), h.m.Stats().Timeouts)

	timeouts := h.rec.named(events.InstanceTimeout)
	require.Len(t, timeouts, 1)
	payload := timeouts[0].Data.(events.TimeoutPayload)
	require.Equal(t, 2100*time.Millisecond, payload.JobDuration)
	require.Equal(t, a.Job.ID, payload.Job.ID)

	// The dispatcher's late release retires the instance.
	require.True(t, h.m.ReleaseBrowser(ctx, a.Instance.ID, types.JobResult{Success: true}))
	_, ok := h.m.Instance(a.Instance.ID)
	require.False(t, ok)
}

func TestJobTimeoutWithoutEstimate(t *testing.T) {
	h := newHarness(t, testConfig())
	h.register(t, "n1", 2)
	ctx := context.Background()

	bounded := h.request(t, types.JobRequirements{Timeout: 5 * time.Second})
	unbounded := h.request(t, types.JobRequirements{})

	h.clock.Advance(6 * time.Second)
	h.m.checkHealth(ctx)

	inst, _ := h.m.Instance(bounded.Instance.ID)
	require.Equal(t, types.StatusError, inst.Status)
	inst, _ = h.m.Instance(unbounded.Instance.ID)
	require.Equal(t, types.StatusBusy, inst.Status, "jobs without estimate or timeout never overrun")
}

func TestOptimizerTrimsHeavyInstances(t *testing.T) {
	cfg := testConfig()
	cfg.WarmupInstances = 2
	h := newHarness(t, cfg)
	h.register(t, "n1", 2)
	h.waitAvailable(t, 2)

	all := h.m.Instances()
	heavy, light := all[0], all[1]
	h.drv.Telemetry().Set(heavy.ID, types.ResourceUsage{MemoryMB: 480, CPUPercent: 10, OpenTabs: 4, Connections: 10})

	h.m.optimize(context.Background())

	inst, _ := h.m.Instance(heavy.ID)
	require.InDelta(t, 336, inst.Resources.MemoryMB, 0.001)
	require.Equal(t, 5, inst.Resources.Connections)
	require.Equal(t, 1, inst.Resources.OpenTabs)

	inst, _ = h.m.Instance(light.ID)
	require.InDelta(t, 150, inst.Resources.MemoryMB, 0.001, "sampled but untouched")

	_, _, trims := h.drv.Counts()
	require.Equal(t, int64(1), trims)

	optimized := h.rec.named(events.InstanceOptimized)
	require.Len(t, optimized, 1)
	payload := optimized[0].Data.(events.OptimizedPayload)
	require.Equal(t, heavy.ID, payload.InstanceID)
	require.InDelta(t, 480, payload.Before.MemoryMB, 0.001)
}

func TestOptimizerTrimsOnCPU(t *testing.T) {
	cfg := testConfig()
	cfg.WarmupInstances = 1
	h := newHarness(t, cfg)
	h.register(t, "n1", 1)
	h.waitAvailable(t, 1)

	id := h.m.Instances()[0].ID
	h.drv.Telemetry().Set(id, types.ResourceUsage{MemoryMB: 100, CPUPercent: 90})
	h.m.optimize(context.Background())

	require.Equal(t, 1, h.rec.count(events.InstanceOptimized))
}

func TestOptimizerReclaimsUnusedInstances(t *testing.T) {
	cfg := testConfig()
	cfg.MinInstances = 1
	cfg.WarmupInstances = 3
	cfg.AutoRotation = false
	h := newHarness(t, cfg)
	h.register(t, "n1", 3)
	h.waitAvailable(t, 3)

	used := h.request(t, types.JobRequirements{})
	require.True(t, h.m.ReleaseBrowser(context.Background(), used.Instance.ID, types.JobResult{Success: true}))

	h.clock.Advance(5 * time.Minute)
	h.m.optimize(context.Background())
	require.Len(t, h.m.Instances(), 3, "not idle long enough")

	h.clock.Advance(6 * time.Minute)
	h.m.optimize(context.Background())

	left := h.m.Instances()
	require.Len(t, left, 1)
	require.Equal(t, used.Instance.ID, left[0].ID, "used instances are kept")

	for _, evt := range h.rec.named(events.InstanceDestroyed) {
		require.Equal(t, "reclaimed by optimizer", evt.Data.(events.InstancePayload).Reason)
	}
}

func TestOptimizerKeepsMinimum(t *testing.T) {
	cfg := testConfig()
	cfg.MinInstances = 1
	cfg.WarmupInstances = 2
	h := newHarness(t, cfg)
	h.register(t, "n1", 2)
	h.waitAvailable(t, 2)

	h.clock.Advance(11 * time.Minute)
	h.m.optimize(context.Background())

	require.Len(t, h.m.Instances(), 1)
}

func TestOptimizerReclaimsErroredInstances(t *testing.T) {
	h := newHarness(t, testConfig())
	h.register(t, "n1", 2)
	a := h.request(t, types.JobRequirements{}, WithEstimatedDuration(time.Second))

	h.clock.Advance(3 * time.Second)
	h.m.checkHealth(context.Background())
	h.m.optimize(context.Background())

	_, ok := h.m.Instance(a.Instance.ID)
	require.False(t, ok)
	require.False(t, h.drv.IsRunning(a.Instance.ID))
}

// trimHookDriver runs onTrim from inside Trim, while the optimizer holds no lock.
type trimHookDriver struct {
	*driver.Simulated
	once   sync.Once
	onTrim func()
}

func (d *trimHookDriver) Trim(ctx context.Context, id string) error {
	d.once.Do(func() {
		if d.onTrim != nil {
			d.onTrim()
		}
	})
	return d.Simulated.Trim(ctx, id)
}

func TestOptimizerReclaimedInstanceNotReassigned(t *testing.T) {
	cfg := testConfig()
	cfg.MinInstances = 1
	cfg.WarmupInstances = 2
	cfg.AutoRotation = false
	drv := &trimHookDriver{Simulated: driver.NewSimulated(0)}
	h := newHarness(t, cfg, WithDriver(drv))
	h.register(t, "n1", 2)
	h.waitAvailable(t, 2)

	for _, inst := range h.m.Instances() {
		drv.Telemetry().Set(inst.ID, types.ResourceUsage{MemoryMB: 480})
	}

	var (
		mid    *Assignment
		midErr error
	)
	drv.onTrim = func() {
		mid, midErr = h.m.RequestBrowser(context.Background(), types.JobRequirements{}, types.PriorityNormal)
	}

	h.clock.Advance(11 * time.Minute)
	h.m.optimize(context.Background())

	destroyed := h.rec.named(events.InstanceDestroyed)
	require.Len(t, destroyed, 1)
	reclaimed := destroyed[0].Data.(events.InstancePayload).InstanceID

	require.NoError(t, midErr)
	require.NotNil(t, mid, "no instance was trimmed")
	require.False(t, mid.Queued)
	require.NotEqual(t, reclaimed, mid.Instance.ID)
	require.True(t, drv.IsRunning(mid.Instance.ID))

	inst, ok := h.m.Instance(mid.Instance.ID)
	require.True(t, ok)
	require.Equal(t, types.StatusBusy, inst.Status)
	require.Equal(t, mid.Job.ID, inst.CurrentJob.ID)
}
