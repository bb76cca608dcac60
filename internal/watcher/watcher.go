package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/conneroisu/hotswap/internal/logging"
)

// FileWatcher watches a source tree and delivers debounced change batches
type FileWatcher struct {
	watcher   *fsnotify.Watcher
	debouncer *Debouncer
	filters   []FileFilter
	handlers  []ChangeHandler
	logger    logging.Logger
	mutex     sync.RWMutex
	stopOnce  sync.Once
}

// ChangeEvent represents a file change event
type ChangeEvent struct {
	Type    EventType
	Path    string
	ModTime time.Time
	Size    int64
}

// EventType represents the type of file change
type EventType int

const (
	EventTypeCreated EventType = iota
	EventTypeModified
	EventTypeDeleted
	EventTypeRenamed
)

// String returns the string representation of the EventType
func (e EventType) String() string {
	switch e {
	case EventTypeCreated:
		return "created"
	case EventTypeModified:
		return "modified"
	case EventTypeDeleted:
		return "deleted"
	case EventTypeRenamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// Structural reports whether the event adds or removes a path rather than
// changing an existing one.
func (e EventType) Structural() bool {
	return e != EventTypeModified
}

// FileFilter determines if a file should be watched
type FileFilter func(path string) bool

// ChangeHandler handles one debounced batch of change events
type ChangeHandler func(events []ChangeEvent) error

// Debouncer groups rapid file changes together
type Debouncer struct {
	delay   time.Duration
	events  chan ChangeEvent
	output  chan []ChangeEvent
	timer   *time.Timer
	pending []ChangeEvent
	mutex   sync.Mutex
}

func newDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{
		delay:   delay,
		events:  make(chan ChangeEvent, 256),
		output:  make(chan []ChangeEvent, 16),
		pending: make([]ChangeEvent, 0),
	}
}

// NewFileWatcher creates a new file watcher
func NewFileWatcher(debounceDelay time.Duration, logger logging.Logger) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	return &FileWatcher{
		watcher:   watcher,
		debouncer: newDebouncer(debounceDelay),
		filters:   make([]FileFilter, 0),
		handlers:  make([]ChangeHandler, 0),
		logger:    logger.WithComponent("watcher"),
	}, nil
}

// AddFilter adds a file filter. Every filter must accept a path for its
// events to be delivered.
func (fw *FileWatcher) AddFilter(filter FileFilter) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.filters = append(fw.filters, filter)
}

// AddHandler adds a change handler
func (fw *FileWatcher) AddHandler(handler ChangeHandler) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.handlers = append(fw.handlers, handler)
}

// AddPath adds a single directory to watch
func (fw *FileWatcher) AddPath(path string) error {
	cleanPath, err := validatePath(path)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}
	return fw.watcher.Add(cleanPath)
}

// AddRecursive adds a directory and all subdirectories that pass
// skip to the watch list. Hidden directories are never watched.
func (fw *FileWatcher) AddRecursive(root string) error {
	cleanRoot, err := validatePath(root)
	if err != nil {
		return fmt.Errorf("invalid root path: %w", err)
	}

	return filepath.WalkDir(cleanRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != cleanRoot && skipDir(d.Name()) {
			return filepath.SkipDir
		}
		return fw.watcher.Add(path)
	})
}

// validatePath cleans a path and rejects traversal segments.
func validatePath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path")
	}
	if slices.Contains(strings.Split(filepath.ToSlash(path), "/"), "..") {
		return "", fmt.Errorf("path contains directory traversal: %s", path)
	}

	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("getting absolute path: %w", err)
	}
	return absPath, nil
}

func skipDir(name string) bool {
	return strings.HasPrefix(name, ".") || name == "node_modules" || name == "vendor"
}

// Start starts the file watcher
func (fw *FileWatcher) Start(ctx context.Context) error {
	go fw.debouncer.start(ctx)
	go fw.processEvents(ctx)
	go fw.watchLoop(ctx)
	return nil
}

// Stop stops the file watcher and cleans up resources. It is safe to call
// more than once.
func (fw *FileWatcher) Stop() error {
	var err error
	fw.stopOnce.Do(func() {
		fw.debouncer.mutex.Lock()
		if fw.debouncer.timer != nil {
			fw.debouncer.timer.Stop()
		}
		fw.debouncer.mutex.Unlock()

		err = fw.watcher.Close()
	})
	return err
}

func (fw *FileWatcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleFsnotifyEvent(event)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warn(ctx, err, "File watcher error")
		}
	}
}

func (fw *FileWatcher) handleFsnotifyEvent(event fsnotify.Event) {
	info, statErr := os.Stat(event.Name)

	// New directories are watched but never reported.
	if statErr == nil && info.IsDir() {
		if event.Op.Has(fsnotify.Create) && !skipDir(filepath.Base(event.Name)) {
			if err := fw.watcher.Add(event.Name); err != nil {
				fw.logger.Warn(context.Background(), err, "Failed to watch new directory", "path", event.Name)
			}
		}
		return
	}

	fw.mutex.RLock()
	filters := fw.filters
	fw.mutex.RUnlock()

	for _, filter := range filters {
		if !filter(event.Name) {
			return
		}
	}

	var modTime time.Time
	var size int64
	if statErr == nil {
		modTime = info.ModTime()
		size = info.Size()
	}

	var eventType EventType
	switch {
	case event.Op.Has(fsnotify.Create):
		eventType = EventTypeCreated
	case event.Op.Has(fsnotify.Write):
		eventType = EventTypeModified
	case event.Op.Has(fsnotify.Remove):
		eventType = EventTypeDeleted
	case event.Op.Has(fsnotify.Rename):
		eventType = EventTypeRenamed
	default:
		eventType = EventTypeModified
	}

	changeEvent := ChangeEvent{
		Type:    eventType,
		Path:    event.Name,
		ModTime: modTime,
		Size:    size,
	}

	select {
	case fw.debouncer.events <- changeEvent:
	default:
		fw.logger.Debug(context.Background(), "Dropped change event, queue full", "path", event.Name)
	}
}

func (fw *FileWatcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case events := <-fw.debouncer.output:
			fw.mutex.RLock()
			handlers := fw.handlers
			fw.mutex.RUnlock()

			for _, handler := range handlers {
				if err := handler(events); err != nil {
					fw.logger.Warn(ctx, err, "File watcher handler error", "events", len(events))
				}
			}
		}
	}
}

func (d *Debouncer) start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-d.events:
			d.addEvent(event)
		}
	}
}

func (d *Debouncer) addEvent(event ChangeEvent) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.pending = append(d.pending, event)

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.flush)
}

// flush emits pending events deduplicated by path. The first event for a
// path fixes its position in the batch; a structural event for a path wins
// over later modifications of it.
func (d *Debouncer) flush() {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if len(d.pending) == 0 {
		return
	}

	index := make(map[string]int, len(d.pending))
	events := make([]ChangeEvent, 0, len(d.pending))
	for _, event := range d.pending {
		i, seen := index[event.Path]
		if !seen {
			index[event.Path] = len(events)
			events = append(events, event)
			continue
		}
		if events[i].Type.Structural() && !event.Type.Structural() {
			event.Type = events[i].Type
		}
		events[i] = event
	}

	select {
	case d.output <- events:
	default:
	}

	d.pending = d.pending[:0]
}

// ExtensionFilter accepts files whose extension is one of exts.
func ExtensionFilter(exts ...string) FileFilter {
	set := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		set[ext] = struct{}{}
	}
	return func(path string) bool {
		_, ok := set[filepath.Ext(path)]
		return ok
	}
}

// NoHiddenFilter rejects paths with any dot-prefixed segment.
func NoHiddenFilter(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if len(part) > 1 && strings.HasPrefix(part, ".") && part != ".." {
			return false
		}
	}
	return true
}

func NoVendorFilter(path string) bool {
	path = filepath.ToSlash(path)
	return !strings.HasPrefix(path, "vendor/") && !strings.Contains(path, "/vendor/") &&
		!strings.HasPrefix(path, "node_modules/") && !strings.Contains(path, "/node_modules/")
}
