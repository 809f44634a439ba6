package driver

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/browserfarm/internal/telemetry"
	"github.com/Rorqualx/browserfarm/internal/types"
)

// DefaultSimulatedUsage is the footprint reported for simulated instances.
var DefaultSimulatedUsage = types.ResourceUsage{
	MemoryMB:    150,
	CPUPercent:  5,
	OpenTabs:    1,
	Connections: 2,
}

// Simulated is an in-process driver with a fixed startup delay. It backs the
// daemon when no real browser is wanted and every pool test.
type Simulated struct {
	startupDelay time.Duration
	telemetry    *telemetry.Static

	mu      sync.Mutex
	running map[string]LaunchSpec
	failErr error

	launches atomic.Int64
	closes   atomic.Int64
	trims    atomic.Int64
}

// NewSimulated creates a driver whose launches take delay.
func NewSimulated(delay time.Duration) *Simulated {
	return &Simulated{
		startupDelay: delay,
		telemetry:    telemetry.NewStatic(DefaultSimulatedUsage),
		running:      make(map[string]LaunchSpec),
	}
}

// FailLaunches makes every later launch fail with err. Pass nil to recover.
func (s *Simulated) FailLaunches(err error) {
	s.mu.Lock()
	s.failErr = err
	s.mu.Unlock()
}

// Telemetry exposes the readings reported for running instances.
func (s *Simulated) Telemetry() *telemetry.Static {
	return s.telemetry
}

// Launch implements Driver.
func (s *Simulated) Launch(ctx context.Context, spec LaunchSpec) error {
	if s.startupDelay > 0 {
		timer := time.NewTimer(s.startupDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return fmt.Errorf("failed to launch browser: %w", s.failErr)
	}
	s.running[spec.InstanceID] = spec
	s.launches.Add(1)

	log.Debug().
		Str("instance_id", spec.InstanceID).
		Str("node_id", spec.NodeID).
		Str("browser", string(spec.BrowserType)).
		Msg("Simulated browser launched")
	return nil
}

// Close implements Driver. Closing an unknown instance is a no-op.
func (s *Simulated) Close(_ context.Context, instanceID string) error {
	s.mu.Lock()
	_, ok := s.running[instanceID]
	delete(s.running, instanceID)
	s.mu.Unlock()

	if ok {
		s.closes.Add(1)
	}
	s.telemetry.Forget(instanceID)
	return nil
}

// Trim implements Trimmer.
func (s *Simulated) Trim(_ context.Context, instanceID string) error {
	s.mu.Lock()
	_, ok := s.running[instanceID]
	s.mu.Unlock()
	if !ok {
		return types.ErrInstanceNotFound
	}
	s.trims.Add(1)
	return nil
}

// ApplyProfile implements Profiler.
func (s *Simulated) ApplyProfile(_ context.Context, instanceID string, profile types.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	spec, ok := s.running[instanceID]
	if !ok {
		return types.ErrInstanceNotFound
	}
	spec.Profile = profile
	s.running[instanceID] = spec
	return nil
}

// Profile returns the profile last applied to instanceID.
func (s *Simulated) Profile(instanceID string) (types.Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	spec, ok := s.running[instanceID]
	return spec.Profile, ok
}

// Sample implements telemetry.Provider.
func (s *Simulated) Sample(ctx context.Context, instanceID string) (types.ResourceUsage, error) {
	return s.telemetry.Sample(ctx, instanceID)
}

// Running returns the number of launched, not yet closed instances.
func (s *Simulated) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// IsRunning reports whether instanceID has been launched and not closed.
func (s *Simulated) IsRunning(instanceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[instanceID]
	return ok
}

// Counts returns the number of launches, closes and trims performed.
func (s *Simulated) Counts() (launches, closes, trims int64) {
	return s.launches.Load(), s.closes.Load(), s.trims.Load()
}
