// Package types provides shared types, interfaces, and errors for the application.
package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for consistent error handling across the application.
// These errors can be checked with errors.Is() for type-safe error handling.
var (
	// Manager errors
	ErrManagerClosed = errors.New("browser pool manager is closed")

	// Node errors
	ErrNodeNotFound    = errors.New("node not found")
	ErrNodeExists      = errors.New("node already registered")
	ErrNodeUnavailable = errors.New("node is not online")
	ErrNodeAtCapacity  = errors.New("node is at instance capacity")
	ErrInvalidNode     = errors.New("invalid node definition")

	// Instance errors
	ErrInstanceNotFound  = errors.New("browser instance not found")
	ErrInstanceBusy      = errors.New("browser instance is busy")
	ErrPoolAtCapacity    = errors.New("browser pool is at max instances")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrStartupFailed     = errors.New("browser instance failed to start")

	// Job errors
	ErrNoInstanceAvailable = errors.New("no browser instance available")
	ErrJobNotFound         = errors.New("job not found")
	ErrJobCancelled        = errors.New("job was cancelled")

	// Scaling errors
	ErrScalingInProgress = errors.New("scaling action already in progress")
	ErrScalingCooldown   = errors.New("scaling cooldown has not elapsed")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid pool configuration")
)

// PoolError provides detailed information about pool operation failures.
type PoolError struct {
	Operation string // The operation that failed
	ID        string // Node, instance or job id involved, if any
	Message   string // Human-readable error message
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *PoolError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error.
func (e *PoolError) Unwrap() error {
	return e.Err
}

// NewCreateInstanceError creates an error for refused instance creation.
func NewCreateInstanceError(nodeID, reason string, err error) *PoolError {
	return &PoolError{
		Operation: "create_instance",
		ID:        nodeID,
		Message:   "Failed to create browser instance on node " + nodeID + ": " + reason,
		Err:       err,
	}
}

// NewTransitionError creates an error for a rejected status change.
func NewTransitionError(id string, from, to fmt.Stringer) *PoolError {
	return &PoolError{
		Operation: "transition",
		ID:        id,
		Message:   "Cannot move " + id + " from " + from.String() + " to " + to.String(),
		Err:       ErrInvalidTransition,
	}
}
