package bundler

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/conneroisu/hotswap/internal/engine"
	"github.com/conneroisu/hotswap/internal/errors"
	"github.com/conneroisu/hotswap/internal/identity"
	"github.com/conneroisu/hotswap/internal/logging"
	"github.com/conneroisu/hotswap/internal/reporting"
)

// State is an instance lifecycle state. Ready is terminal; build failures
// are tracked beside the state, not as a state of their own.
type State int32

const (
	StateIdle State = iota
	StateInitializing
	StateReady
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Listener receives the events of one bound client. Implementations must
// not block; they are called on the engine's callback goroutine.
type Listener interface {
	UpdateStart(paths []string)
	Updates(batch engine.UpdateBatch)
	BuildFailed(err error)
}

// Instance wraps one engine session for one (bundle, fingerprint) pair.
type Instance struct {
	key         string
	bundleName  string
	fingerprint string
	options     identity.Options

	engine   engine.Engine
	logger   logging.Logger
	reporter reporting.Reporter

	state atomic.Int32
	ready chan struct{}

	mutex      sync.RWMutex
	session    engine.Session
	output     *engine.Output
	failure    *errors.HotswapError
	listeners  map[uint64]Listener
	buildStart time.Time
}

// Info is a snapshot of an instance for status surfaces.
type Info struct {
	Key         string   `json:"key"`
	BundleName  string   `json:"bundle"`
	Fingerprint string   `json:"fingerprint"`
	Platform    string   `json:"platform"`
	Dev         bool     `json:"dev"`
	State       string   `json:"state"`
	Clients     []uint64 `json:"clients"`
	LastError   string   `json:"last_error,omitempty"`
	OutputBytes int      `json:"output_bytes"`
}

func newInstance(key, bundleName, fingerprint string, opts identity.Options, eng engine.Engine, logger logging.Logger, reporter reporting.Reporter) *Instance {
	return &Instance{
		key:         key,
		bundleName:  bundleName,
		fingerprint: fingerprint,
		options:     opts,
		engine:      eng,
		logger:      logger.With("bundle", bundleName, "fingerprint", fingerprint),
		reporter:    reporter,
		ready:       make(chan struct{}),
		listeners:   make(map[uint64]Listener),
	}
}

// initialize starts the engine session. It always ends in StateReady; a
// refused start is recorded as the instance failure.
func (i *Instance) initialize(ctx context.Context) {
	defer close(i.ready)

	i.state.Store(int32(StateInitializing))
	i.markBuildStart()

	perf := logging.StartOperation(i.logger, "engine start")
	session, err := i.engine.Start(ctx, engine.StartOptions{
		BundleName:  i.bundleName,
		Fingerprint: i.fingerprint,
		Build:       i.options,
	}, engine.Callbacks{
		OnOutput:     i.onOutput,
		OnHmrUpdates: i.onHmrUpdates,
		OnChange:     i.onChange,
	})
	perf.End(ctx)

	if err != nil {
		normalized := *errors.Normalize(err)
		normalized.Code = errors.ErrCodeEngineStart
		normalized.Component = "bundler"
		failure := &normalized

		i.mutex.Lock()
		i.failure = failure
		i.mutex.Unlock()

		i.logger.Error(ctx, failure, "Engine failed to start")
		i.reporter.Report(reporting.Event{
			Type:        reporting.BundleBuildFailed,
			BundleName:  i.bundleName,
			Fingerprint: i.fingerprint,
			Error:       failure.Message,
		})
	} else {
		i.mutex.Lock()
		i.session = session
		i.mutex.Unlock()
	}

	i.state.Store(int32(StateReady))
}

func (i *Instance) markBuildStart() {
	i.mutex.Lock()
	i.buildStart = time.Now()
	i.mutex.Unlock()

	i.reporter.Report(reporting.Event{
		Type:        reporting.BundleBuildStarted,
		BundleName:  i.bundleName,
		Fingerprint: i.fingerprint,
	})
}

func (i *Instance) onOutput(out *engine.Output, err error) {
	i.mutex.Lock()
	duration := time.Since(i.buildStart)
	if err != nil {
		i.failure = errors.Normalize(err)
	} else {
		i.output = out
		i.failure = nil
	}
	failure := i.failure
	i.mutex.Unlock()

	if failure != nil {
		i.logger.Warn(context.Background(), failure, "Build failed")
		i.reporter.Report(reporting.Event{
			Type:        reporting.BundleBuildFailed,
			BundleName:  i.bundleName,
			Fingerprint: i.fingerprint,
			Duration:    duration,
			Error:       failure.Message,
		})
		return
	}

	size := 0
	if out != nil {
		size = len(out.Code)
	}
	i.logger.Debug(context.Background(), "Build output replaced", "bytes", size)
	i.reporter.Report(reporting.Event{
		Type:        reporting.BundleBuildDone,
		BundleName:  i.bundleName,
		Fingerprint: i.fingerprint,
		Duration:    duration,
	})
}

func (i *Instance) onHmrUpdates(batch engine.UpdateBatch, err error) {
	listeners := i.snapshotListeners()

	if err != nil {
		failure := errors.Normalize(err)

		i.mutex.Lock()
		i.failure = failure
		i.mutex.Unlock()

		i.logger.Warn(context.Background(), failure, "Update recomputation failed", "clients", len(listeners))
		i.reporter.Report(reporting.Event{
			Type:        reporting.BundleBuildFailed,
			BundleName:  i.bundleName,
			Fingerprint: i.fingerprint,
			Error:       failure.Message,
		})
		for _, l := range listeners {
			l.BuildFailed(failure)
		}
		return
	}

	i.logger.Debug(context.Background(), "Update batch", "entries", len(batch), "clients", len(listeners))
	for _, l := range listeners {
		l.Updates(batch)
	}
}

func (i *Instance) onChange(paths []string) {
	i.reporter.Report(reporting.Event{
		Type:        reporting.WatchChange,
		BundleName:  i.bundleName,
		Fingerprint: i.fingerprint,
		Paths:       paths,
	})
	for _, l := range i.snapshotListeners() {
		l.UpdateStart(paths)
	}
}

// snapshotListeners returns bound listeners ordered by client id.
func (i *Instance) snapshotListeners() []Listener {
	i.mutex.RLock()
	defer i.mutex.RUnlock()

	ids := make([]uint64, 0, len(i.listeners))
	for id := range i.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })

	out := make([]Listener, len(ids))
	for n, id := range ids {
		out[n] = i.listeners[id]
	}
	return out
}

// WaitReady blocks until initialization finished or ctx is done.
func (i *Instance) WaitReady(ctx context.Context) error {
	select {
	case <-i.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Bundle returns the latest build output. It fails with the stored failure
// while the last build is failed, and rebuilds first when the engine
// reports stale output.
func (i *Instance) Bundle(ctx context.Context) (*engine.Output, error) {
	if err := i.WaitReady(ctx); err != nil {
		return nil, err
	}

	i.mutex.RLock()
	session, output, failure := i.session, i.output, i.failure
	i.mutex.RUnlock()

	if failure != nil {
		return nil, failure
	}
	if session == nil {
		return nil, errors.NewBuildError(errors.ErrCodeBundleUnavailable, "bundler for "+i.bundleName+" is closed", nil)
	}

	if output == nil || session.OutputStale() {
		i.markBuildStart()
		if err := session.EnsureLatestOutput(ctx); err != nil {
			return nil, errors.Normalize(err)
		}

		i.mutex.RLock()
		output, failure = i.output, i.failure
		i.mutex.RUnlock()

		if failure != nil {
			return nil, failure
		}
	}

	if output == nil {
		return nil, errors.NewBuildError(errors.ErrCodeBundleUnavailable, "engine produced no output for "+i.bundleName, nil)
	}
	return output, nil
}

// Bind attaches a client's listener. Binding an already bound client is a
// no-op and reports false.
func (i *Instance) Bind(clientID uint64, l Listener) bool {
	i.mutex.Lock()
	defer i.mutex.Unlock()

	if _, ok := i.listeners[clientID]; ok {
		return false
	}
	i.listeners[clientID] = l
	return true
}

// Unbind detaches a client and tells the engine it left.
func (i *Instance) Unbind(clientID uint64) {
	i.mutex.Lock()
	_, bound := i.listeners[clientID]
	delete(i.listeners, clientID)
	session := i.session
	i.mutex.Unlock()

	if bound && session != nil {
		session.ClientLeft(clientID)
	}
}

// Invalidate asks the engine to recompute one module. The resulting batch
// arrives through the bound listeners.
func (i *Instance) Invalidate(ctx context.Context, moduleID string) error {
	if err := i.WaitReady(ctx); err != nil {
		return err
	}

	i.mutex.RLock()
	session, failure := i.session, i.failure
	i.mutex.RUnlock()

	if failure != nil && session == nil {
		return failure
	}
	if session == nil {
		return errors.NewBuildError(errors.ErrCodeBundleUnavailable, "bundler for "+i.bundleName+" is closed", nil)
	}
	if err := session.Invalidate(ctx, moduleID); err != nil {
		return errors.Wrap(errors.Normalize(err), errors.ErrorTypeBuild, errors.ErrCodeInvalidate, "invalidate "+moduleID)
	}
	return nil
}

func (i *Instance) close() error {
	i.mutex.Lock()
	session := i.session
	i.session = nil
	i.mutex.Unlock()

	if session == nil {
		return nil
	}
	return session.Close()
}

func (i *Instance) Key() string         { return i.key }
func (i *Instance) BundleName() string  { return i.bundleName }
func (i *Instance) Fingerprint() string { return i.fingerprint }
func (i *Instance) State() State        { return State(i.state.Load()) }

// LastError returns the stored build failure, or nil.
func (i *Instance) LastError() error {
	i.mutex.RLock()
	defer i.mutex.RUnlock()
	if i.failure == nil {
		return nil
	}
	return i.failure
}

// Clients returns bound client ids in ascending order.
func (i *Instance) Clients() []uint64 {
	i.mutex.RLock()
	defer i.mutex.RUnlock()

	ids := make([]uint64, 0, len(i.listeners))
	for id := range i.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	return ids
}

// Info returns a status snapshot.
func (i *Instance) Info() Info {
	info := Info{
		Key:         i.key,
		BundleName:  i.bundleName,
		Fingerprint: i.fingerprint,
		Platform:    i.options.Target.Platform,
		Dev:         i.options.Target.Dev,
		State:       i.State().String(),
		Clients:     i.Clients(),
	}

	i.mutex.RLock()
	if i.failure != nil {
		info.LastError = i.failure.Message
	}
	if i.output != nil {
		info.OutputBytes = len(i.output.Code)
	}
	i.mutex.RUnlock()

	return info
}
