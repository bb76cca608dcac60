// Package passthrough is a file-per-module build engine. Every source file
// under the project root is one module whose "transform" wraps the source in
// a module envelope. It performs no parsing and has no dependency graph, so
// a change to a known file is always a patch of that file alone.
package passthrough

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/conneroisu/hotswap/internal/cache"
	"github.com/conneroisu/hotswap/internal/engine"
	"github.com/conneroisu/hotswap/internal/errors"
	"github.com/conneroisu/hotswap/internal/hmr"
	"github.com/conneroisu/hotswap/internal/logging"
	"github.com/conneroisu/hotswap/internal/reporting"
	"github.com/conneroisu/hotswap/internal/watcher"
)

// Config configures the engine.
type Config struct {
	Root       string
	SharedRoot string
	Extensions []string
	// Watch starts a file watcher per session. Without it, changes are only
	// picked up by EnsureLatestOutput and Invalidate.
	Watch            bool
	Debounce         time.Duration
	CacheConcurrency int
	CacheMemoryBytes int64
}

// Engine implements engine.Engine.
type Engine struct {
	config   Config
	logger   logging.Logger
	reporter reporting.Reporter
	filters  []watcher.FileFilter
}

var _ engine.Engine = (*Engine)(nil)

// New creates an engine over cfg.Root.
func New(cfg Config, logger logging.Logger, reporter reporting.Reporter) (*Engine, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, errors.WrapIO(err, errors.ErrCodeEngineStart, "resolve project root")
	}
	cfg.Root = root
	if cfg.SharedRoot == "" {
		cfg.SharedRoot = filepath.Join(root, ".hotswap")
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = []string{".js", ".jsx", ".ts", ".tsx", ".json"}
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 100 * time.Millisecond
	}

	return &Engine{
		config:   cfg,
		logger:   logger.WithComponent("passthrough"),
		reporter: reporting.Safe(reporter),
		filters: []watcher.FileFilter{
			watcher.ExtensionFilter(cfg.Extensions...),
			watcher.NoHiddenFilter,
			watcher.NoVendorFilter,
		},
	}, nil
}

// Start scans the project, delivers the first output and, when configured,
// begins watching for changes.
func (e *Engine) Start(ctx context.Context, opts engine.StartOptions, cb engine.Callbacks) (engine.Session, error) {
	info, err := os.Stat(e.config.Root)
	if err != nil {
		return nil, errors.WrapIO(err, errors.ErrCodeEngineStart, "project root")
	}
	if !info.IsDir() {
		return nil, errors.NewIOError(errors.ErrCodeEngineStart, e.config.Root+" is not a directory", nil)
	}

	s := &session{
		engine:     e,
		opts:       opts,
		cb:         cb,
		logger:     e.logger.With("bundle", opts.BundleName, "fingerprint", opts.Fingerprint),
		modules:    make(map[string]*module),
		transforms: cache.New(cache.Config{Root: e.config.SharedRoot, Fingerprint: opts.Fingerprint, Concurrency: e.config.CacheConcurrency, MemoryBytes: e.config.CacheMemoryBytes}, e.logger),
		stale:      true,
	}

	if err := s.EnsureLatestOutput(ctx); err != nil {
		return nil, err
	}

	if e.config.Watch {
		if err := s.watch(ctx); err != nil {
			return nil, errors.WrapIO(err, errors.ErrCodeEngineStart, "start watcher")
		}
	}
	return s, nil
}

// moduleID returns the slash-separated path of abs relative to the root.
func (e *Engine) moduleID(abs string) (string, bool) {
	rel, err := filepath.Rel(e.config.Root, abs)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	id := filepath.ToSlash(rel)
	for _, filter := range e.filters {
		if !filter(id) {
			return "", false
		}
	}
	return id, true
}

// scan lists every module under the root.
func (e *Engine) scan() (map[string]string, error) {
	found := make(map[string]string)
	err := filepath.WalkDir(e.config.Root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != e.config.Root && (strings.HasPrefix(d.Name(), ".") || d.Name() == "node_modules" || d.Name() == "vendor") {
				return filepath.SkipDir
			}
			return nil
		}
		if id, ok := e.moduleID(path); ok {
			found[id] = path
		}
		return nil
	})
	return found, err
}

// wrapModule is the passthrough "transform".
func wrapModule(id, source string) string {
	return fmt.Sprintf("__d(function (global, require, module, exports) {\n%s\n}, %q);\n", source, id)
}

type module struct {
	path    string
	modTime time.Time
	code    string
}

type session struct {
	engine *Engine
	opts   engine.StartOptions
	cb     engine.Callbacks
	logger logging.Logger

	transforms *cache.TransformCache

	// buildMutex serializes builds so callbacks never run concurrently.
	buildMutex sync.Mutex
	modules    map[string]*module
	failed     bool

	stateMutex sync.Mutex
	stale      bool

	watcher *watcher.FileWatcher
	cancel  context.CancelFunc
}

func (s *session) OutputStale() bool {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	return s.stale
}

func (s *session) setStale(v bool) {
	s.stateMutex.Lock()
	s.stale = v
	s.stateMutex.Unlock()
}

// EnsureLatestOutput rebuilds every module when the output is stale. Build
// errors are delivered through OnOutput.
func (s *session) EnsureLatestOutput(ctx context.Context) error {
	s.buildMutex.Lock()
	defer s.buildMutex.Unlock()

	if !s.OutputStale() && !s.failed {
		return nil
	}
	s.rebuild(ctx)
	return nil
}

// rebuild must be called with buildMutex held.
func (s *session) rebuild(ctx context.Context) {
	perf := logging.StartOperation(s.logger, "full build")

	found, err := s.engine.scan()
	if err != nil {
		s.failed = true
		s.cb.OnOutput(nil, errors.WrapBuild(err, errors.ErrCodeBuildFailed, "scan project", "passthrough"))
		return
	}

	ids := make([]string, 0, len(found))
	for id := range found {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	modules := make(map[string]*module, len(ids))
	doc := hmr.PatchDocument{Modules: make([]hmr.PatchModule, 0, len(ids))}
	for _, id := range ids {
		m, err := s.transform(id, found[id])
		if err != nil {
			s.transforms.Flush(ctx)
			s.failed = true
			s.cb.OnOutput(nil, err)
			return
		}
		modules[id] = m
		doc.Modules = append(doc.Modules, hmr.PatchModule{ID: id, Source: m.code})
	}

	flush := s.transforms.Flush(ctx)
	s.modules = modules
	s.failed = false
	s.setStale(false)

	perf.End(ctx, "modules", len(ids), "cache_written", flush.Written)
	s.cb.OnOutput(&engine.Output{Code: doc.Encode()}, nil)
}

// transform reads and wraps one module through the transform cache.
func (s *session) transform(id, path string) (*module, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.WrapBuild(err, errors.ErrCodeBuildFailed, "stat "+id, "passthrough")
	}

	key := cache.Key(path, s.opts.Fingerprint, info.ModTime())
	if code, ok := s.transforms.Get(key); ok {
		s.engine.reporter.Report(reporting.Event{Type: reporting.Transform, BundleName: s.opts.BundleName, ModuleID: id, CacheHit: true})
		return &module{path: path, modTime: info.ModTime(), code: code}, nil
	}

	start := time.Now()
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapBuild(err, errors.ErrCodeBuildFailed, "read "+id, "passthrough")
	}
	code := wrapModule(id, string(source))
	s.transforms.Set(key, code)

	s.engine.reporter.Report(reporting.Event{
		Type:       reporting.Transform,
		BundleName: s.opts.BundleName,
		ModuleID:   id,
		Duration:   time.Since(start),
	})
	return &module{path: path, modTime: info.ModTime(), code: code}, nil
}

// handleChanges classifies a debounced batch of file events and delivers the
// resulting update batch. Known files that changed are patches, files that
// appeared or disappeared force a reload, and rewrites that produce the
// same module text are no-ops.
func (s *session) handleChanges(ctx context.Context, events []watcher.ChangeEvent) error {
	paths := make([]string, 0, len(events))
	byID := make(map[string]string, len(events))
	order := make([]string, 0, len(events))
	for _, event := range events {
		id, ok := s.engine.moduleID(event.Path)
		if !ok {
			continue
		}
		if _, dup := byID[id]; !dup {
			order = append(order, id)
		}
		byID[id] = event.Path
		paths = append(paths, id)
	}
	if len(order) == 0 {
		return nil
	}

	if s.cb.OnChange != nil {
		s.cb.OnChange(paths)
	}

	s.buildMutex.Lock()
	defer s.buildMutex.Unlock()

	s.setStale(true)

	batch := make(engine.UpdateBatch, 0, len(order))
	for _, id := range order {
		path := byID[id]
		known, wasKnown := s.modules[id]

		_, statErr := os.Stat(path)
		exists := statErr == nil

		switch {
		case exists && wasKnown:
			m, err := s.transform(id, path)
			if err != nil {
				s.transforms.Flush(ctx)
				s.failed = true
				s.cb.OnHmrUpdates(nil, err)
				return err
			}
			s.modules[id] = m
			if m.code == known.code {
				batch = append(batch, engine.Update{ModuleID: id, Kind: engine.Noop})
				continue
			}
			batch = append(batch, engine.Update{ModuleID: id, Kind: engine.Patch, Payload: patchFor(id, m.code)})
		case exists && !wasKnown:
			m, err := s.transform(id, path)
			if err != nil {
				s.transforms.Flush(ctx)
				s.failed = true
				s.cb.OnHmrUpdates(nil, err)
				return err
			}
			s.modules[id] = m
			batch = append(batch, engine.Update{ModuleID: id, Kind: engine.FullReload})
		case !exists && wasKnown:
			delete(s.modules, id)
			batch = append(batch, engine.Update{ModuleID: id, Kind: engine.FullReload})
		}
	}

	s.transforms.Flush(ctx)
	s.cb.OnHmrUpdates(batch, nil)

	if s.failed {
		s.rebuild(ctx)
	}
	return nil
}

func patchFor(id, code string) string {
	return hmr.PatchDocument{
		Modules:    []hmr.PatchModule{{ID: id, Source: code}},
		Boundaries: []hmr.Boundary{{ModuleID: id}},
	}.Encode()
}

// Invalidate re-transforms one module and delivers it as a patch.
func (s *session) Invalidate(ctx context.Context, moduleID string) error {
	s.buildMutex.Lock()
	defer s.buildMutex.Unlock()

	known, ok := s.modules[moduleID]
	if !ok {
		return errors.NewValidationError(errors.ErrCodeInvalidate, "unknown module "+moduleID)
	}

	m, err := s.transform(moduleID, known.path)
	if err != nil {
		s.transforms.Flush(ctx)
		s.failed = true
		s.cb.OnHmrUpdates(nil, err)
		return nil
	}
	s.modules[moduleID] = m
	s.transforms.Flush(ctx)

	s.cb.OnHmrUpdates(engine.UpdateBatch{{ModuleID: moduleID, Kind: engine.Patch, Payload: patchFor(moduleID, m.code)}}, nil)
	return nil
}

// ClientLeft is a no-op beyond logging; the engine keeps no per-client state.
func (s *session) ClientLeft(clientID uint64) {
	s.logger.Debug(context.Background(), "Client left", "client", clientID)
}

func (s *session) watch(ctx context.Context) error {
	fw, err := watcher.NewFileWatcher(s.engine.config.Debounce, s.logger)
	if err != nil {
		return err
	}
	for _, filter := range []watcher.FileFilter{watcher.ExtensionFilter(s.engine.config.Extensions...), watcher.NoVendorFilter} {
		fw.AddFilter(filter)
	}
	if err := fw.AddRecursive(s.engine.config.Root); err != nil {
		fw.Stop()
		return err
	}

	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	fw.AddHandler(func(events []watcher.ChangeEvent) error {
		return s.handleChanges(watchCtx, events)
	})
	if err := fw.Start(watchCtx); err != nil {
		cancel()
		fw.Stop()
		return err
	}

	s.watcher = fw
	s.cancel = cancel
	return nil
}

func (s *session) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	var err error
	if s.watcher != nil {
		err = s.watcher.Stop()
	}
	s.transforms.Flush(context.Background())
	return err
}
