package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/hotswap/internal/logging"
)

func TestEventTypeString(t *testing.T) {
	testCases := []struct {
		eventType  EventType
		expected   string
		structural bool
	}{
		{EventTypeCreated, "created", true},
		{EventTypeModified, "modified", false},
		{EventTypeDeleted, "deleted", true},
		{EventTypeRenamed, "renamed", true},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.eventType.String())
			assert.Equal(t, tc.structural, tc.eventType.Structural())
		})
	}
}

func TestNewFileWatcher(t *testing.T) {
	watcher, err := NewFileWatcher(100*time.Millisecond, nil)
	require.NoError(t, err)
	defer watcher.Stop()

	assert.NotNil(t, watcher.watcher)
	assert.NotNil(t, watcher.debouncer)
	assert.NotNil(t, watcher.logger)
	assert.Empty(t, watcher.filters)
	assert.Empty(t, watcher.handlers)
}

func TestFileWatcherAddFilterAndHandler(t *testing.T) {
	watcher, err := NewFileWatcher(100*time.Millisecond, logging.NewNop())
	require.NoError(t, err)
	defer watcher.Stop()

	watcher.AddFilter(ExtensionFilter(".js"))
	watcher.AddFilter(NoHiddenFilter)
	assert.Len(t, watcher.filters, 2)

	called := false
	watcher.AddHandler(func(events []ChangeEvent) error {
		called = true
		return nil
	})
	require.Len(t, watcher.handlers, 1)
	require.NoError(t, watcher.handlers[0]([]ChangeEvent{{Type: EventTypeCreated, Path: "a.js"}}))
	assert.True(t, called)
}

func TestFileWatcherValidation(t *testing.T) {
	watcher, err := NewFileWatcher(100*time.Millisecond, logging.NewNop())
	require.NoError(t, err)
	defer watcher.Stop()

	err = watcher.AddPath("../../../etc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path")

	err = watcher.AddPath("")
	assert.Error(t, err)

	err = watcher.AddRecursive("./a/../../b")
	assert.Error(t, err)

	err = watcher.AddPath(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestFileWatcherDeliversFilteredEvents(t *testing.T) {
	dir := t.TempDir()

	watcher, err := NewFileWatcher(30*time.Millisecond, logging.NewNop())
	require.NoError(t, err)
	defer watcher.Stop()

	watcher.AddFilter(ExtensionFilter("js"))
	require.NoError(t, watcher.AddRecursive(dir))

	var mu sync.Mutex
	var paths []string
	watcher.AddHandler(func(events []ChangeEvent) error {
		mu.Lock()
		defer mu.Unlock()
		for _, e := range events {
			paths = append(paths, filepath.Base(e.Path))
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, watcher.Start(ctx))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(paths) > 0
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, paths, "app.js")
	assert.NotContains(t, paths, "notes.txt")
}

func TestFileWatcherWatchesNewDirectories(t *testing.T) {
	dir := t.TempDir()

	watcher, err := NewFileWatcher(30*time.Millisecond, logging.NewNop())
	require.NoError(t, err)
	defer watcher.Stop()
	require.NoError(t, watcher.AddRecursive(dir))

	var mu sync.Mutex
	var seen []string
	watcher.AddHandler(func(events []ChangeEvent) error {
		mu.Lock()
		defer mu.Unlock()
		for _, e := range events {
			seen = append(seen, e.Path)
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, watcher.Start(ctx))

	sub := filepath.Join(dir, "components")
	require.NoError(t, os.Mkdir(sub, 0o755))

	// the directory itself is never reported, so wait for the watch to land
	// by retrying the write until an event for it shows up
	target := filepath.Join(sub, "Logo.js")
	assert.Eventually(t, func() bool {
		_ = os.WriteFile(target, []byte(fmt.Sprint(time.Now().UnixNano())), 0o644)
		mu.Lock()
		defer mu.Unlock()
		for _, p := range seen {
			if p == target {
				return true
			}
		}
		return false
	}, 3*time.Second, 50*time.Millisecond)
}

func TestFileWatcherStopTwice(t *testing.T) {
	watcher, err := NewFileWatcher(100*time.Millisecond, logging.NewNop())
	require.NoError(t, err)

	assert.NoError(t, watcher.Stop())
	assert.NoError(t, watcher.Stop())
}

func TestDebouncerDeduplicatesInOrder(t *testing.T) {
	d := newDebouncer(20 * time.Millisecond)

	d.addEvent(ChangeEvent{Path: "b.js", Type: EventTypeModified})
	d.addEvent(ChangeEvent{Path: "a.js", Type: EventTypeCreated})
	d.addEvent(ChangeEvent{Path: "b.js", Type: EventTypeModified, Size: 2})
	d.addEvent(ChangeEvent{Path: "a.js", Type: EventTypeModified, Size: 5})

	select {
	case events := <-d.output:
		require.Len(t, events, 2)
		assert.Equal(t, "b.js", events[0].Path)
		assert.Equal(t, int64(2), events[0].Size)
		assert.Equal(t, "a.js", events[1].Path)
		assert.Equal(t, EventTypeCreated, events[1].Type, "creation survives a later write")
		assert.Equal(t, int64(5), events[1].Size)
	case <-time.After(time.Second):
		t.Fatal("debouncer never flushed")
	}
}

func TestDebouncerResetsTimer(t *testing.T) {
	d := newDebouncer(60 * time.Millisecond)

	d.addEvent(ChangeEvent{Path: "a.js"})
	time.Sleep(30 * time.Millisecond)
	d.addEvent(ChangeEvent{Path: "b.js"})

	select {
	case events := <-d.output:
		assert.Len(t, events, 2, "both events land in one batch")
	case <-time.After(time.Second):
		t.Fatal("debouncer never flushed")
	}
}

func TestExtensionFilter(t *testing.T) {
	filter := ExtensionFilter(".js", "tsx")

	testCases := []struct {
		path     string
		expected bool
	}{
		{"src/App.js", true},
		{"src/App.tsx", true},
		{"src/App.ts", false},
		{"README.md", false},
		{"js", false},
	}

	for _, tc := range testCases {
		t.Run(tc.path, func(t *testing.T) {
			assert.Equal(t, tc.expected, filter(tc.path))
		})
	}
}

func TestNoHiddenFilter(t *testing.T) {
	testCases := []struct {
		path     string
		expected bool
	}{
		{"src/App.js", true},
		{"./src/App.js", true},
		{".git/HEAD", false},
		{"src/.App.js.swp", false},
		{"/tmp/.hotswap/cache/x", false},
	}

	for _, tc := range testCases {
		t.Run(tc.path, func(t *testing.T) {
			assert.Equal(t, tc.expected, NoHiddenFilter(tc.path))
		})
	}
}

func TestNoVendorFilter(t *testing.T) {
	testCases := []struct {
		path     string
		expected bool
	}{
		{"src/App.js", true},
		{"vendor/lib.js", false},
		{"app/node_modules/react/index.js", false},
		{"node_modules/x.js", false},
	}

	for _, tc := range testCases {
		t.Run(tc.path, func(t *testing.T) {
			assert.Equal(t, tc.expected, NoVendorFilter(tc.path))
		})
	}
}
