// Package engine defines the contract between the delivery layer and an
// incremental build engine. The engine owns parsing, transformation and the
// module graph; this layer only starts sessions and reacts to what they
// produce.
package engine

import (
	"context"
	"fmt"

	"github.com/conneroisu/hotswap/internal/identity"
)

// UpdateKind classifies one entry of an UpdateBatch.
type UpdateKind int

const (
	// Patch replaces one module's code in place.
	Patch UpdateKind = iota
	// FullReload means no safe patch exists; the client must restart.
	FullReload
	// Noop means the module was touched but its output did not change.
	Noop
)

func (k UpdateKind) String() string {
	switch k {
	case Patch:
		return "patch"
	case FullReload:
		return "full-reload"
	case Noop:
		return "noop"
	default:
		return fmt.Sprintf("UpdateKind(%d)", int(k))
	}
}

// Update is one classified change. Payload is the patch code for Patch
// entries and empty otherwise.
type Update struct {
	ModuleID string
	Kind     UpdateKind
	Payload  string
}

// UpdateBatch is one engine-produced change set, in application order.
type UpdateBatch []Update

// Output is a complete build artifact.
type Output struct {
	Code      string
	SourceMap string
}

// Callbacks receive engine events. Each callback may be invoked from any
// goroutine but the engine never invokes the same callback concurrently.
type Callbacks struct {
	// OnOutput delivers a full build result or the error that replaced it.
	OnOutput func(*Output, error)
	// OnHmrUpdates delivers a recomputed update batch or the error that
	// prevented it.
	OnHmrUpdates func(UpdateBatch, error)
	// OnChange fires when a watched change is detected, before the batch for
	// it is computed.
	OnChange func(paths []string)
}

// StartOptions describe the build a session serves.
type StartOptions struct {
	BundleName  string
	Fingerprint string
	Build       identity.Options
}

// Engine starts build sessions.
type Engine interface {
	Start(ctx context.Context, opts StartOptions, cb Callbacks) (Session, error)
}

// Session is one long-lived engine build.
type Session interface {
	// OutputStale reports whether sources changed since the last OnOutput.
	OutputStale() bool
	// EnsureLatestOutput rebuilds synchronously if the output is stale. The
	// result is delivered through OnOutput before it returns.
	EnsureLatestOutput(ctx context.Context) error
	// Invalidate recomputes one module; the batch arrives via OnHmrUpdates.
	Invalidate(ctx context.Context, moduleID string) error
	// ClientLeft releases per-client state held by the engine.
	ClientLeft(clientID uint64)
	Close() error
}

// EngineFunc adapts a function to the Engine interface.
type EngineFunc func(ctx context.Context, opts StartOptions, cb Callbacks) (Session, error)

// Start calls f.
func (f EngineFunc) Start(ctx context.Context, opts StartOptions, cb Callbacks) (Session, error) {
	return f(ctx, opts, cb)
}
