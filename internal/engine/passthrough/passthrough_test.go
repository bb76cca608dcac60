package passthrough

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/hotswap/internal/cache"
	"github.com/conneroisu/hotswap/internal/engine"
	"github.com/conneroisu/hotswap/internal/hmr"
	"github.com/conneroisu/hotswap/internal/logging"
	"github.com/conneroisu/hotswap/internal/reporting"
	"github.com/conneroisu/hotswap/internal/watcher"
)

var baseTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// writeFile writes content with an explicit mtime so cache keys differ
// between writes regardless of filesystem timestamp resolution.
func writeFile(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

type recorder struct {
	mutex   sync.Mutex
	outputs []*engine.Output
	outErrs []error
	batches []engine.UpdateBatch
	hmrErrs []error
	changes [][]string
}

func (r *recorder) callbacks() engine.Callbacks {
	return engine.Callbacks{
		OnOutput: func(out *engine.Output, err error) {
			r.mutex.Lock()
			defer r.mutex.Unlock()
			if err != nil {
				r.outErrs = append(r.outErrs, err)
				return
			}
			r.outputs = append(r.outputs, out)
		},
		OnHmrUpdates: func(batch engine.UpdateBatch, err error) {
			r.mutex.Lock()
			defer r.mutex.Unlock()
			if err != nil {
				r.hmrErrs = append(r.hmrErrs, err)
				return
			}
			r.batches = append(r.batches, batch)
		},
		OnChange: func(paths []string) {
			r.mutex.Lock()
			defer r.mutex.Unlock()
			r.changes = append(r.changes, paths)
		},
	}
}

func (r *recorder) lastOutput(t *testing.T) hmr.PatchDocument {
	t.Helper()
	r.mutex.Lock()
	defer r.mutex.Unlock()
	require.NotEmpty(t, r.outputs)
	doc, err := hmr.DecodePatch(r.outputs[len(r.outputs)-1].Code)
	require.NoError(t, err)
	return doc
}

func newProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "App.js"), "export default 'app'", baseTime)
	writeFile(t, filepath.Join(root, "components", "Logo.js"), "export default 'logo'", baseTime)
	writeFile(t, filepath.Join(root, "README.md"), "# readme", baseTime)
	writeFile(t, filepath.Join(root, "node_modules", "react", "index.js"), "react", baseTime)
	return root
}

func startSession(t *testing.T, root string, reporter reporting.Reporter) (*session, *recorder) {
	t.Helper()
	eng, err := New(Config{Root: root}, logging.NewNop(), reporter)
	require.NoError(t, err)

	rec := &recorder{}
	sess, err := eng.Start(context.Background(), engine.StartOptions{BundleName: "index", Fingerprint: "fp"}, rec.callbacks())
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })
	return sess.(*session), rec
}

func change(root, id string, typ watcher.EventType) watcher.ChangeEvent {
	return watcher.ChangeEvent{Path: filepath.Join(root, filepath.FromSlash(id)), Type: typ}
}

func TestStartDeliversOutput(t *testing.T) {
	root := newProject(t)
	sess, rec := startSession(t, root, nil)

	doc := rec.lastOutput(t)
	require.Len(t, doc.Modules, 2)
	assert.Equal(t, "App.js", doc.Modules[0].ID)
	assert.Equal(t, "components/Logo.js", doc.Modules[1].ID)
	assert.Contains(t, doc.Modules[0].Source, "export default 'app'")
	assert.Contains(t, doc.Modules[0].Source, `"App.js"`)
	assert.Empty(t, doc.Boundaries)

	assert.False(t, sess.OutputStale())
}

func TestStartFailsOnMissingRoot(t *testing.T) {
	eng, err := New(Config{Root: filepath.Join(t.TempDir(), "missing")}, nil, nil)
	require.NoError(t, err)

	_, err = eng.Start(context.Background(), engine.StartOptions{BundleName: "index", Fingerprint: "fp"}, (&recorder{}).callbacks())
	assert.Error(t, err)
}

func TestChangedModuleIsPatched(t *testing.T) {
	root := newProject(t)
	sess, rec := startSession(t, root, nil)

	writeFile(t, filepath.Join(root, "App.js"), "export default 'app v2'", baseTime.Add(time.Second))
	require.NoError(t, sess.handleChanges(context.Background(), []watcher.ChangeEvent{change(root, "App.js", watcher.EventTypeModified)}))

	require.Len(t, rec.changes, 1)
	assert.Equal(t, []string{"App.js"}, rec.changes[0])

	require.Len(t, rec.batches, 1)
	batch := rec.batches[0]
	require.Len(t, batch, 1)
	assert.Equal(t, engine.Patch, batch[0].Kind)
	assert.Equal(t, "App.js", batch[0].ModuleID)

	patch, err := hmr.DecodePatch(batch[0].Payload)
	require.NoError(t, err)
	require.Len(t, patch.Modules, 1)
	assert.Contains(t, patch.Modules[0].Source, "app v2")
	assert.Equal(t, []hmr.Boundary{{ModuleID: "App.js"}}, patch.Boundaries)

	assert.True(t, sess.OutputStale())
	require.NoError(t, sess.EnsureLatestOutput(context.Background()))
	assert.False(t, sess.OutputStale())
	assert.Contains(t, rec.lastOutput(t).Modules[0].Source, "app v2")
}

func TestTouchWithoutChangeIsNoop(t *testing.T) {
	root := newProject(t)
	sess, rec := startSession(t, root, nil)

	later := baseTime.Add(time.Minute)
	path := filepath.Join(root, "App.js")
	require.NoError(t, os.Chtimes(path, later, later))

	require.NoError(t, sess.handleChanges(context.Background(), []watcher.ChangeEvent{change(root, "App.js", watcher.EventTypeModified)}))
	require.Len(t, rec.batches, 1)
	assert.Equal(t, engine.UpdateBatch{{ModuleID: "App.js", Kind: engine.Noop}}, rec.batches[0])
}

func TestStructuralChangesForceReload(t *testing.T) {
	root := newProject(t)
	sess, rec := startSession(t, root, nil)

	writeFile(t, filepath.Join(root, "App.js"), "v2", baseTime.Add(time.Second))
	writeFile(t, filepath.Join(root, "components", "Logo.js"), "logo v2", baseTime.Add(time.Second))
	writeFile(t, filepath.Join(root, "New.js"), "new", baseTime)
	require.NoError(t, os.Remove(filepath.Join(root, "components", "Logo.js")))
	writeFile(t, filepath.Join(root, "Other.js"), "x", baseTime)

	// created, changed, removed, plus a path outside the module set
	events := []watcher.ChangeEvent{
		change(root, "App.js", watcher.EventTypeModified),
		change(root, "New.js", watcher.EventTypeCreated),
		change(root, "components/Logo.js", watcher.EventTypeDeleted),
		change(root, "README.md", watcher.EventTypeModified),
		change(root, "App.js", watcher.EventTypeModified),
	}
	require.NoError(t, sess.handleChanges(context.Background(), events))

	require.Len(t, rec.batches, 1)
	batch := rec.batches[0]
	require.Len(t, batch, 3)
	assert.Equal(t, engine.Update{ModuleID: "App.js", Kind: engine.Patch, Payload: batch[0].Payload}, batch[0])
	assert.Equal(t, engine.Update{ModuleID: "New.js", Kind: engine.FullReload}, batch[1])
	assert.Equal(t, engine.Update{ModuleID: "components/Logo.js", Kind: engine.FullReload}, batch[2])

	require.NoError(t, sess.EnsureLatestOutput(context.Background()))
	ids := make([]string, 0)
	for _, m := range rec.lastOutput(t).Modules {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"App.js", "New.js", "Other.js"}, ids)
}

func TestIgnoredPathsProduceNothing(t *testing.T) {
	root := newProject(t)
	sess, rec := startSession(t, root, nil)

	require.NoError(t, sess.handleChanges(context.Background(), []watcher.ChangeEvent{
		change(root, "README.md", watcher.EventTypeModified),
		change(root, "node_modules/react/index.js", watcher.EventTypeModified),
		{Path: "/elsewhere/App.js", Type: watcher.EventTypeModified},
	}))

	assert.Empty(t, rec.changes)
	assert.Empty(t, rec.batches)
	assert.False(t, sess.OutputStale())
}

func TestInvalidate(t *testing.T) {
	root := newProject(t)
	sess, rec := startSession(t, root, nil)

	err := sess.Invalidate(context.Background(), "Missing.js")
	assert.Error(t, err)

	require.NoError(t, sess.Invalidate(context.Background(), "components/Logo.js"))
	require.Len(t, rec.batches, 1)
	assert.Equal(t, engine.Patch, rec.batches[0][0].Kind)
	assert.Equal(t, "components/Logo.js", rec.batches[0][0].ModuleID)
}

func TestReadFailureReportsHmrError(t *testing.T) {
	root := newProject(t)
	sess, rec := startSession(t, root, nil)

	// replace the module with a directory so it can no longer be read
	path := filepath.Join(root, "App.js")
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.Mkdir(path, 0o755))

	err := sess.handleChanges(context.Background(), []watcher.ChangeEvent{change(root, "App.js", watcher.EventTypeModified)})
	require.Error(t, err)
	require.Len(t, rec.hmrErrs, 1)
	assert.Contains(t, rec.hmrErrs[0].Error(), "App.js")

	// recovery: the next change rebuilds the full output
	require.NoError(t, os.Remove(path))
	writeFile(t, path, "fixed", baseTime.Add(time.Hour))
	require.NoError(t, sess.handleChanges(context.Background(), []watcher.ChangeEvent{change(root, "App.js", watcher.EventTypeModified)}))
	assert.Contains(t, rec.lastOutput(t).Modules[0].Source, "fixed")
	assert.False(t, sess.failed)
}

func TestTransformsGoThroughPersistentCache(t *testing.T) {
	root := newProject(t)

	var mutex sync.Mutex
	hits := 0
	reporter := reporting.ReporterFunc(func(e reporting.Event) {
		if e.Type == reporting.Transform && e.CacheHit {
			mutex.Lock()
			hits++
			mutex.Unlock()
		}
	})

	first, _ := startSession(t, root, reporter)
	require.NoError(t, first.Close())
	assert.Equal(t, 0, hits)

	count, _, err := cache.DiskUsage(filepath.Join(root, ".hotswap"))
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	startSession(t, root, reporter)
	mutex.Lock()
	defer mutex.Unlock()
	assert.Equal(t, 2, hits, "a fresh session reads both modules from disk")
}

func TestWatchDeliversPatches(t *testing.T) {
	root := newProject(t)
	eng, err := New(Config{Root: root, Watch: true, Debounce: 20 * time.Millisecond}, logging.NewNop(), nil)
	require.NoError(t, err)

	rec := &recorder{}
	sess, err := eng.Start(context.Background(), engine.StartOptions{BundleName: "index", Fingerprint: "fp"}, rec.callbacks())
	require.NoError(t, err)
	defer sess.Close()

	writeFile(t, filepath.Join(root, "App.js"), "watched edit", baseTime.Add(2*time.Second))

	assert.Eventually(t, func() bool {
		rec.mutex.Lock()
		defer rec.mutex.Unlock()
		for _, batch := range rec.batches {
			for _, u := range batch {
				if u.ModuleID == "App.js" && u.Kind == engine.Patch {
					return true
				}
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond)
}
