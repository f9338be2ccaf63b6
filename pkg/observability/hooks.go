// Package observability provides hooks for metrics and tracing around the
// graph engine without adding hard dependencies on a backend.
//
// Deployments register implementations at startup; libraries emit events
// through the registry. The default implementations are no-ops, so the
// engine runs uninstrumented out of the box.
//
//	func main() {
//	    observability.SetEngineHooks(&promEngineHooks{})
//	    // ... run application
//	}
package observability

import (
	"context"
	"sync"
	"time"
)

// EngineHooks receives events from the reconcile engine's mutation and
// layout paths.
type EngineHooks interface {
	// OnMutationApplied records an optimistic mutation entering Pending.
	OnMutationApplied(ctx context.Context, op, entityID string)

	// OnMutationConfirmed records a remote confirmation.
	OnMutationConfirmed(ctx context.Context, op, entityID string, duration time.Duration)

	// OnMutationRolledBack records a rollback after a remote rejection.
	OnMutationRolledBack(ctx context.Context, op, entityID string, err error)

	// OnLayoutComplete records a layout run over nodeCount placed tasks.
	OnLayoutComplete(ctx context.Context, nodeCount int, duration time.Duration, err error)

	// OnRemoteMerge records a merged remote-origin change.
	OnRemoteMerge(ctx context.Context, kind string)
}

// StoreHooks receives events from persistence backends.
type StoreHooks interface {
	// OnRequest records a persistence call.
	OnRequest(ctx context.Context, op, scopeID string)

	// OnConflict records a validation rejection from the store.
	OnConflict(ctx context.Context, op, scopeID string, err error)

	// OnError records a transient persistence failure.
	OnError(ctx context.Context, op, scopeID string, err error)
}

// NoopEngineHooks is a no-op implementation of EngineHooks.
type NoopEngineHooks struct{}

func (NoopEngineHooks) OnMutationApplied(context.Context, string, string)                  {}
func (NoopEngineHooks) OnMutationConfirmed(context.Context, string, string, time.Duration) {}
func (NoopEngineHooks) OnMutationRolledBack(context.Context, string, string, error)        {}
func (NoopEngineHooks) OnLayoutComplete(context.Context, int, time.Duration, error)        {}
func (NoopEngineHooks) OnRemoteMerge(context.Context, string)                              {}

// NoopStoreHooks is a no-op implementation of StoreHooks.
type NoopStoreHooks struct{}

func (NoopStoreHooks) OnRequest(context.Context, string, string)         {}
func (NoopStoreHooks) OnConflict(context.Context, string, string, error) {}
func (NoopStoreHooks) OnError(context.Context, string, string, error)    {}

var (
	engineHooks EngineHooks = NoopEngineHooks{}
	storeHooks  StoreHooks  = NoopStoreHooks{}
	hooksMu     sync.RWMutex
)

// SetEngineHooks registers custom engine hooks.
// Call once at application startup before any engine operations.
func SetEngineHooks(h EngineHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		engineHooks = h
	}
}

// SetStoreHooks registers custom store hooks.
// Call once at application startup before any store operations.
func SetStoreHooks(h StoreHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		storeHooks = h
	}
}

// Engine returns the registered engine hooks.
func Engine() EngineHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return engineHooks
}

// Store returns the registered store hooks.
func Store() StoreHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return storeHooks
}

// Reset restores all hooks to their no-op defaults.
// This is primarily useful for testing.
func Reset() {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	engineHooks = NoopEngineHooks{}
	storeHooks = NoopStoreHooks{}
}
