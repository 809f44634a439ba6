// Package driver launches and tears down the browser processes behind pool
// instances.
package driver

import (
	"context"

	"github.com/Rorqualx/browserfarm/internal/types"
)

// LaunchSpec is everything a driver needs to start one instance.
type LaunchSpec struct {
	InstanceID   string
	NodeID       string
	BrowserType  types.BrowserType
	Profile      types.Profile
	Capabilities types.Capabilities
	Proxy        *types.ProxyConfig
}

// Driver starts and stops browser processes keyed by instance id.
// Launch may block for the whole startup and must honor ctx.
type Driver interface {
	Launch(ctx context.Context, spec LaunchSpec) error
	Close(ctx context.Context, instanceID string) error
}

// Trimmer is implemented by drivers that can shed memory from a running
// instance without restarting it.
type Trimmer interface {
	Trim(ctx context.Context, instanceID string) error
}

// Profiler is implemented by drivers that can push a rotated profile onto a
// running instance.
type Profiler interface {
	ApplyProfile(ctx context.Context, instanceID string, profile types.Profile) error
}
