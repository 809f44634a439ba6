package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Rorqualx/browserfarm/internal/events"
	"github.com/Rorqualx/browserfarm/internal/types"
)

func TestRegisterNodeWarmsInstances(t *testing.T) {
	cfg := testConfig()
	cfg.MinInstances = 2
	cfg.MaxInstances = 5
	cfg.WarmupInstances = 2
	h := newHarness(t, cfg)

	h.register(t, "n1", 5)
	h.waitAvailable(t, 2)

	s := h.m.Stats()
	require.Equal(t, 2, s.TotalInstances)
	require.Equal(t, 2, s.ReadyInstances)
	require.Equal(t, 2, h.drv.Running())
	require.Equal(t, 2, h.rec.count(events.InstanceCreated))
	require.Equal(t, 1, h.rec.count(events.NodeRegistered))

	node, _ := h.m.Node("n1")
	require.Equal(t, types.NodeOnline, node.Status)
	require.Len(t, node.Instances, 2)
	require.Equal(t, h.clock.Now(), node.LastHeartbeat)
}

func TestRegisterNodeWarmupBounds(t *testing.T) {
	cfg := testConfig()
	cfg.MaxInstances = 3
	cfg.WarmupInstances = 3
	h := newHarness(t, cfg)

	h.register(t, "small", 1)
	h.register(t, "big", 10)
	h.waitAvailable(t, 3)

	small, _ := h.m.Node("small")
	big, _ := h.m.Node("big")
	require.Len(t, small.Instances, 1, "bounded by node capacity")
	require.Len(t, big.Instances, 2, "bounded by pool maximum")
}

func TestRegisterNodeRejects(t *testing.T) {
	h := newHarness(t, testConfig())
	h.register(t, "n1", 1)

	err := h.m.RegisterNode(testNode("n1", 1))
	require.ErrorIs(t, err, types.ErrNodeExists)

	err = h.m.RegisterNode(&types.BrowserNode{})
	require.ErrorIs(t, err, types.ErrInvalidNode)

	err = h.m.RegisterNode(testNode("n2", 0))
	require.ErrorIs(t, err, types.ErrInvalidNode)
}

func TestRegisterOfflineNodeSkipsWarmup(t *testing.T) {
	cfg := testConfig()
	cfg.WarmupInstances = 2
	h := newHarness(t, cfg)

	node := testNode("n1", 2)
	node.Status = types.NodeMaintenance
	require.NoError(t, h.m.RegisterNode(node))
	require.Empty(t, h.m.Instances())

	require.NoError(t, h.m.SetNodeStatus("n1", types.NodeOnline))
	require.Empty(t, h.m.Instances(), "warmup happens only at registration")
}

func TestSetNodeStatus(t *testing.T) {
	h := newHarness(t, testConfig())
	h.register(t, "n1", 1)

	require.NoError(t, h.m.SetNodeStatus("n1", types.NodeMaintenance))
	require.NoError(t, h.m.SetNodeStatus("n1", types.NodeDraining))

	err := h.m.SetNodeStatus("n1", types.NodeMaintenance)
	require.ErrorIs(t, err, types.ErrInvalidTransition)

	err = h.m.SetNodeStatus("n1", types.NodeStatus("exploded"))
	require.ErrorIs(t, err, types.ErrInvalidTransition)

	require.ErrorIs(t, h.m.SetNodeStatus("missing", types.NodeOnline), types.ErrNodeNotFound)
}

func TestUpdateHeartbeat(t *testing.T) {
	h := newHarness(t, testConfig())
	h.register(t, "n1", 4)

	h.clock.Advance(10 * time.Second)
	ok := h.m.UpdateHeartbeat("n1",
		types.NodeResources{CPUPercent: 40, MemoryUsedMB: 4096},
		types.NodeHealth{ErrorRate: 2, ResponseTime: 200 * time.Millisecond})
	require.True(t, ok)

	node, _ := h.m.Node("n1")
	require.Equal(t, types.NodeOnline, node.Status)
	// cpu 40%, memory 4096/8192 = 50%
	require.InDelta(t, 45, node.CurrentLoad, 0.001)
	require.Equal(t, h.clock.Now(), node.LastHeartbeat)
	require.Equal(t, 1, h.rec.count(events.NodeHeartbeat))

	require.False(t, h.m.UpdateHeartbeat("missing", types.NodeResources{}, types.NodeHealth{}))
}

func TestHeartbeatDegradesAndRecovers(t *testing.T) {
	tests := []struct {
		name   string
		health types.NodeHealth
	}{
		{name: "error rate", health: types.NodeHealth{ErrorRate: 60}},
		{name: "slow responses", health: types.NodeHealth{ResponseTime: 11 * time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testConfig())
			h.register(t, "n1", 2)

			h.m.UpdateHeartbeat("n1", types.NodeResources{}, tt.health)
			node, _ := h.m.Node("n1")
			require.Equal(t, types.NodeMaintenance, node.Status)

			beat := h.rec.named(events.NodeHeartbeat)[0].Data.(events.HeartbeatPayload)
			require.Equal(t, types.NodeMaintenance, beat.Status)

			// Still above the recovery threshold.
			h.m.UpdateHeartbeat("n1", types.NodeResources{}, types.NodeHealth{ErrorRate: 20})
			node, _ = h.m.Node("n1")
			require.Equal(t, types.NodeMaintenance, node.Status)

			h.m.UpdateHeartbeat("n1", types.NodeResources{}, types.NodeHealth{ErrorRate: 5})
			node, _ = h.m.Node("n1")
			require.Equal(t, types.NodeOnline, node.Status)
		})
	}
}

func TestHeartbeatRevivesOfflineNode(t *testing.T) {
	h := newHarness(t, testConfig())
	h.register(t, "n1", 2)

	h.clock.Advance(3 * time.Minute)
	h.m.checkHealth(context.Background())
	node, _ := h.m.Node("n1")
	require.Equal(t, types.NodeOffline, node.Status)

	require.True(t, h.m.UpdateHeartbeat("n1", types.NodeResources{}, types.NodeHealth{}))
	node, _ = h.m.Node("n1")
	require.Equal(t, types.NodeOnline, node.Status)
}

func TestHeartbeatRecoveryServesQueue(t *testing.T) {
	h := newHarness(t, testConfig())
	h.register(t, "n1", 2)
	h.m.UpdateHeartbeat("n1", types.NodeResources{}, types.NodeHealth{ErrorRate: 90})

	a := h.request(t, types.JobRequirements{})
	require.True(t, a.Queued, "maintenance node takes no work")

	h.m.UpdateHeartbeat("n1", types.NodeResources{}, types.NodeHealth{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	inst, err := a.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, "n1", inst.NodeID)
}

func TestDrainNodeWaitsForRelease(t *testing.T) {
	h := newHarness(t, testConfig())
	h.register(t, "n1", 2)
	a := h.request(t, types.JobRequirements{})

	done := make(chan bool, 1)
	go func() { done <- h.m.DrainNode(context.Background(), "n1") }()

	require.Eventually(t, func() bool {
		node, _ := h.m.Node("n1")
		return node.Status == types.NodeDraining
	}, 2*time.Second, 5*time.Millisecond)

	select {
	case <-done:
		t.Fatal("Drain finished while an instance was busy")
	case <-time.After(50 * time.Millisecond):
	}

	next := h.request(t, types.JobRequirements{})
	require.True(t, next.Queued, "draining node accepts no new work")

	require.True(t, h.m.ReleaseBrowser(context.Background(), a.Instance.ID, types.JobResult{Success: true}))
	select {
	case ok := <-done:
		require.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("Drain did not finish after release")
	}
}

func TestDrainNodeContextTimeout(t *testing.T) {
	h := newHarness(t, testConfig())
	h.register(t, "n1", 2)
	h.request(t, types.JobRequirements{})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	require.False(t, h.m.DrainNode(ctx, "n1"))
	require.False(t, h.m.DrainNode(context.Background(), "missing"))
}

func TestUnregisterNode(t *testing.T) {
	cfg := testConfig()
	cfg.WarmupInstances = 2
	h := newHarness(t, cfg)
	h.register(t, "n1", 2)
	h.waitAvailable(t, 2)

	require.True(t, h.m.UnregisterNode(context.Background(), "n1"))

	require.Empty(t, h.m.Nodes())
	require.Empty(t, h.m.Instances())
	require.Equal(t, 0, h.drv.Running())
	require.Equal(t, 2, h.rec.count(events.InstanceDestroyed))
	require.Equal(t, 1, h.rec.count(events.NodeUnregistered))

	require.False(t, h.m.UnregisterNode(context.Background(), "n1"))
}

func TestUnregisterNodeDestroysBusyAfterTimeout(t *testing.T) {
	h := newHarness(t, testConfig())
	h.register(t, "n1", 2)
	a := h.request(t, types.JobRequirements{})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	require.True(t, h.m.UnregisterNode(ctx, "n1"))

	_, ok := h.m.Instance(a.Instance.ID)
	require.False(t, ok)
	require.False(t, h.drv.IsRunning(a.Instance.ID))
}
