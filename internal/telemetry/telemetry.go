// Package telemetry supplies live resource readings for browser instances.
package telemetry

import (
	"context"
	"sync"

	"github.com/Rorqualx/browserfarm/internal/types"
)

// Provider samples the current resource footprint of one instance.
type Provider interface {
	Sample(ctx context.Context, instanceID string) (types.ResourceUsage, error)
}

// Static returns fixed readings per instance, falling back to a default.
// It is used by the simulated driver and by tests.
type Static struct {
	mu       sync.RWMutex
	fallback types.ResourceUsage
	readings map[string]types.ResourceUsage
}

// NewStatic creates a provider that reports fallback for unknown instances.
func NewStatic(fallback types.ResourceUsage) *Static {
	return &Static{
		fallback: fallback,
		readings: make(map[string]types.ResourceUsage),
	}
}

// Set fixes the reading reported for instanceID.
func (s *Static) Set(instanceID string, usage types.ResourceUsage) {
	s.mu.Lock()
	s.readings[instanceID] = usage
	s.mu.Unlock()
}

// Forget drops the reading for instanceID.
func (s *Static) Forget(instanceID string) {
	s.mu.Lock()
	delete(s.readings, instanceID)
	s.mu.Unlock()
}

// Sample implements Provider.
func (s *Static) Sample(_ context.Context, instanceID string) (types.ResourceUsage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.readings[instanceID]; ok {
		return u, nil
	}
	return s.fallback, nil
}
