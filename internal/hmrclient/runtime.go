// Package hmrclient is the client half of the hot-update protocol: a module
// registry whose entries can be swapped while the process keeps running,
// per-module hot contexts, and the message handling that applies server
// patches to them.
//
// A Runtime is single threaded. Construct it with New, then call every
// method from the Scheduler it was given.
package hmrclient

import (
	"context"
	"fmt"
	"sort"

	"github.com/conneroisu/hotswap/internal/errors"
	"github.com/conneroisu/hotswap/internal/hmr"
	"github.com/conneroisu/hotswap/internal/logging"
)

// ModuleFactory evaluates a module body and returns its exports.
type ModuleFactory func(hot *HotContext) (any, error)

// Hooks observe update progress. Any of them may be nil.
type Hooks struct {
	OnUpdateStart func()
	OnUpdateDone  func()
	OnError       func(hmr.Error)
}

// Options configure a Runtime.
type Options struct {
	BundleEntry string
	Platform    string
	Scheduler   Scheduler
	Evaluator   Evaluator
	Reloader    Reloader
	Hooks       Hooks
	Logger      logging.Logger
}

// Runtime owns the module registry and the hot contexts of one app.
type Runtime struct {
	bundleEntry string
	platform    string
	scheduler   Scheduler
	evaluator   Evaluator
	reloader    Reloader
	hooks       Hooks
	logger      logging.Logger

	registry *Registry
	outbox   *Outbox

	active   map[string]*HotContext
	staged   map[string]*HotContext
	applying bool

	pendingRegistrations []string
	flushScheduled       bool
	flushSeen            int
}

// New creates a runtime.
func New(opts Options) (*Runtime, error) {
	if opts.Scheduler == nil {
		return nil, errors.NewValidationError(errors.ErrCodeValidationFailed, "runtime requires a scheduler")
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Reloader == nil {
		opts.Reloader = ReloaderFunc(func() {})
	}

	return &Runtime{
		bundleEntry: opts.BundleEntry,
		platform:    opts.Platform,
		scheduler:   opts.Scheduler,
		evaluator:   opts.Evaluator,
		reloader:    opts.Reloader,
		hooks:       opts.Hooks,
		logger:      opts.Logger.WithComponent("hmr-client"),
		registry:    NewRegistry(),
		outbox:      NewOutbox(),
		active:      make(map[string]*HotContext),
		staged:      make(map[string]*HotContext),
	}, nil
}

// Registry returns the module registry.
func (r *Runtime) Registry() *Registry { return r.registry }

// Outbox returns the outbound queue.
func (r *Runtime) Outbox() *Outbox { return r.outbox }

// Scheduler returns the scheduler the runtime runs on.
func (r *Runtime) Scheduler() Scheduler { return r.scheduler }

// Handshake returns the message that opens a session for this runtime.
func (r *Runtime) Handshake() hmr.Connected {
	return hmr.Connected{BundleEntry: r.bundleEntry, Platform: r.platform}
}

// Require returns the holder of a defined module.
func (r *Runtime) Require(id string) (*Holder, bool) {
	return r.registry.Lookup(id)
}

// CreateModuleHotContext returns a new context for id. When id already has
// an active context the new one is staged and only replaces it after the
// update batch being applied completes.
func (r *Runtime) CreateModuleHotContext(id string) *HotContext {
	hot := newHotContext(id, r)
	if _, exists := r.active[id]; exists && r.applying {
		r.staged[id] = hot
	} else {
		r.active[id] = hot
	}
	return hot
}

// Context returns the active context of id.
func (r *Runtime) Context(id string) (*HotContext, bool) {
	hot, ok := r.active[id]
	return hot, ok
}

// DefineModule evaluates factory with a fresh hot context for id, stores
// the exports and queues the id for registration with the server.
func (r *Runtime) DefineModule(id string, factory ModuleFactory) (*Holder, error) {
	if id == "" {
		return nil, errors.NewValidationError(errors.ErrCodeValidationFailed, "module id is required")
	}

	hot := r.CreateModuleHotContext(id)
	exports, err := r.evaluate(hot, factory)
	if err != nil {
		return nil, err
	}

	holder := r.registry.Define(id, exports)
	r.queueRegistration(id)
	return holder, nil
}

func (r *Runtime) evaluate(hot *HotContext, factory ModuleFactory) (exports any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.NewBuildError(errors.ErrCodeBuildFailed, fmt.Sprintf("module %s panicked: %v", hot.id, p), nil)
		}
	}()
	return factory(hot)
}

// queueRegistration buffers id and schedules a flush. A flush that finds
// the buffer grew since it was scheduled defers itself again, so one burst
// of definitions produces one message.
func (r *Runtime) queueRegistration(id string) {
	r.pendingRegistrations = append(r.pendingRegistrations, id)
	if r.flushScheduled {
		return
	}
	r.flushScheduled = true
	r.flushSeen = len(r.pendingRegistrations)
	r.scheduler.Post(r.flushRegistrations)
}

func (r *Runtime) flushRegistrations() {
	if len(r.pendingRegistrations) != r.flushSeen {
		r.flushSeen = len(r.pendingRegistrations)
		r.scheduler.Post(r.flushRegistrations)
		return
	}

	modules := r.pendingRegistrations
	r.pendingRegistrations = nil
	r.flushScheduled = false
	r.flushSeen = 0

	r.send(hmr.ModuleRegistered{Modules: modules})
}

func (r *Runtime) send(msg hmr.Message) {
	if err := r.outbox.Send(msg); err != nil {
		r.logger.Warn(context.Background(), err, "Cannot send message", "type", msg.MessageType())
	}
}

// ApplyUpdates runs the accept callbacks of each boundary's active context
// in order, then promotes every context staged during the batch. Callbacks
// receive the exports as they were when ApplyUpdates was called.
func (r *Runtime) ApplyUpdates(boundaries []hmr.Boundary) {
	snapshot := make(map[string]any, len(boundaries))
	for _, b := range boundaries {
		if holder, ok := r.registry.Lookup(b.ModuleID); ok {
			snapshot[b.ModuleID] = holder.Exports()
		}
	}

	r.applying = true
	failed := false
	for _, b := range boundaries {
		hot, ok := r.active[b.ModuleID]
		if !ok {
			r.logger.Debug(context.Background(), "No active context for boundary", "module", b.ModuleID)
			continue
		}
		for _, accept := range hot.accepts {
			if err := r.runAccept(hot, accept, snapshot[b.ModuleID]); err != nil {
				r.logger.Error(context.Background(), err, "Accept callback failed", "module", b.ModuleID)
				failed = true
			}
		}
		hot.detach()
	}
	r.endBatch()

	if failed {
		r.reload()
	}
}

// endBatch merges every staged context into the active map.
func (r *Runtime) endBatch() {
	r.applying = false
	for id, hot := range r.staged {
		r.active[id] = hot
	}
	r.staged = make(map[string]*HotContext)
}

func (r *Runtime) runAccept(hot *HotContext, accept AcceptFunc, exports any) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.NewInternalError(errors.ErrCodeInternalError, fmt.Sprintf("accept for %s panicked: %v", hot.id, p), nil)
		}
	}()
	accept(exports)
	return nil
}

// HandleRaw decodes and handles one inbound frame.
func (r *Runtime) HandleRaw(data []byte) {
	msg, err := hmr.Decode(data)
	if err != nil {
		r.logger.Warn(context.Background(), err, "Dropping malformed server message")
		return
	}
	r.Handle(msg)
}

// Handle applies one server message.
func (r *Runtime) Handle(msg hmr.Message) {
	ctx := context.Background()

	switch m := msg.(type) {
	case hmr.UpdateStart:
		if r.hooks.OnUpdateStart != nil {
			r.hooks.OnUpdateStart()
		}
	case hmr.Update:
		r.applyPatch(ctx, m.Code)
	case hmr.UpdateDone:
		if r.hooks.OnUpdateDone != nil {
			r.hooks.OnUpdateDone()
		}
	case hmr.Reload:
		r.reload()
	case hmr.Error:
		r.logger.Warn(ctx, errors.NewBuildError(errors.ErrCodeBuildFailed, m.Message, nil), "Server reported an error")
		if r.hooks.OnError != nil {
			r.hooks.OnError(m)
		}
	case hmr.Opaque:
		r.emit(m.Type, m.Data())
	default:
		r.logger.Debug(ctx, "Ignoring client-bound message type", "type", msg.MessageType())
	}
}

func (r *Runtime) applyPatch(ctx context.Context, code string) {
	if r.evaluator == nil {
		r.logger.Warn(ctx, nil, "No evaluator configured, reloading")
		r.reload()
		return
	}

	// Modules re-evaluated by the patch belong to the batch, so their new
	// contexts stay staged until the accept callbacks ran.
	r.applying = true
	boundaries, err := r.evaluator.Evaluate(r, code)
	if err != nil {
		r.endBatch()
		r.logger.Error(ctx, err, "Cannot evaluate update, reloading")
		r.reload()
		return
	}
	r.ApplyUpdates(boundaries)
}

// emit delivers a custom event to the active contexts, in module id order.
func (r *Runtime) emit(event string, data any) {
	ids := make([]string, 0, len(r.active))
	for id, hot := range r.active {
		if len(hot.listeners[event]) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	for _, id := range ids {
		r.active[id].emit(event, data)
	}
}

func (r *Runtime) reload() {
	r.logger.Info(context.Background(), "Full reload requested")
	r.reloader.Reload()
}
