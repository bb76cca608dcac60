package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/hotswap/internal/logging"
)

func newTestCache(t *testing.T, root, fingerprint string) *TransformCache {
	t.Helper()
	return New(Config{Root: root, Fingerprint: fingerprint}, logging.NewNop())
}

func TestKey(t *testing.T) {
	mtime := time.Unix(1700000000, 123)

	k := Key("src/app.js", "fp1", mtime)
	assert.Len(t, k, 64)
	assert.Equal(t, k, Key("src/app.js", "fp1", mtime))

	assert.NotEqual(t, k, Key("src/other.js", "fp1", mtime))
	assert.NotEqual(t, k, Key("src/app.js", "fp2", mtime))
	assert.NotEqual(t, k, Key("src/app.js", "fp1", mtime.Add(time.Nanosecond)))

	// the separator keeps the parts from sliding into each other
	assert.NotEqual(t, Key("ab", "c", mtime), Key("a", "bc", mtime))
}

func TestSetIsVisibleBeforeFlush(t *testing.T) {
	root := t.TempDir()
	c := newTestCache(t, root, "fp")

	c.Set("k1", "first")
	c.Set("k1", "second")

	v, ok := c.Get("k1")
	require.True(t, ok)
	assert.Equal(t, "second", v)

	_, err := os.Stat(filepath.Join(root, DirName, "fp", "k1"))
	assert.True(t, os.IsNotExist(err), "nothing is written before Flush")
	assert.Equal(t, 1, c.Stats().Buffered)
}

func TestFlushPersistsAcrossInstances(t *testing.T) {
	root := t.TempDir()
	key := Key("src/app.js", "fp", time.Unix(1, 0))

	first := newTestCache(t, root, "fp")
	first.Set(key, "transformed")
	stats := first.Flush(context.Background())
	assert.Equal(t, 1, stats.Written)
	assert.Equal(t, 0, stats.Failed)
	assert.Equal(t, int64(len("transformed")), stats.Bytes)

	data, err := os.ReadFile(filepath.Join(root, DirName, "fp", key))
	require.NoError(t, err)
	assert.Equal(t, "transformed", string(data))

	second := newTestCache(t, root, "fp")
	v, ok := second.Get(key)
	require.True(t, ok)
	assert.Equal(t, "transformed", v)
}

func TestFingerprintsAreIsolated(t *testing.T) {
	root := t.TempDir()

	a := newTestCache(t, root, "fpA")
	a.Set("k", "a")
	a.Flush(context.Background())

	b := newTestCache(t, root, "fpB")
	_, ok := b.Get("k")
	assert.False(t, ok)
}

func TestGetMiss(t *testing.T) {
	c := newTestCache(t, t.TempDir(), "fp")

	_, ok := c.Get("missing")
	assert.False(t, ok)

	_, ok = c.Get("../escape")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, int64(0), stats.Hits)
	assert.Equal(t, int64(2), stats.Misses)
}

func TestFlushEmptyBuffer(t *testing.T) {
	root := t.TempDir()
	c := newTestCache(t, root, "fp")

	stats := c.Flush(context.Background())
	assert.Equal(t, FlushStats{}, stats)

	_, err := os.Stat(c.Dir())
	assert.True(t, os.IsNotExist(err), "an empty flush creates no directory")
}

func TestFlushSkipsFailedWrites(t *testing.T) {
	root := t.TempDir()
	c := newTestCache(t, root, "fp")

	c.Set("good", "value")
	c.Set("bad/key", "value")

	stats := c.Flush(context.Background())
	assert.Equal(t, 1, stats.Written)
	assert.Equal(t, 1, stats.Failed)

	v, ok := newTestCache(t, root, "fp").Get("good")
	require.True(t, ok)
	assert.Equal(t, "value", v)
}

func TestFlushUnwritableRoot(t *testing.T) {
	root := t.TempDir()
	blocker := filepath.Join(root, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	c := newTestCache(t, blocker, "fp")
	c.Set("k", "v")

	stats := c.Flush(context.Background())
	assert.Equal(t, 0, stats.Written)
	assert.Equal(t, 1, stats.Failed)
}

func TestFlushManyEntriesConcurrently(t *testing.T) {
	root := t.TempDir()
	c := New(Config{Root: root, Fingerprint: "fp", Concurrency: 4}, logging.NewNop())

	for i := 0; i < 200; i++ {
		c.Set(fmt.Sprintf("key-%03d", i), strings.Repeat("x", i))
	}

	stats := c.Flush(context.Background())
	assert.Equal(t, 200, stats.Written)

	entries, err := os.ReadDir(c.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 200, "temp files must not be left behind")

	count, _, err := DiskUsage(root)
	require.NoError(t, err)
	assert.Equal(t, 200, count)
}

func TestSetDuringFlushIsKept(t *testing.T) {
	root := t.TempDir()
	c := newTestCache(t, root, "fp")

	c.Set("a", "1")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.Set("b", "2")
	}()
	c.Flush(context.Background())
	wg.Wait()

	for key, want := range map[string]string{"a": "1", "b": "2"} {
		v, ok := c.Get(key)
		require.True(t, ok, key)
		assert.Equal(t, want, v)
	}

	c.Flush(context.Background())
	fresh := newTestCache(t, root, "fp")
	v, ok := fresh.Get("b")
	require.True(t, ok)
	assert.Equal(t, "2", v)
}

func TestResetRemovesEveryFingerprint(t *testing.T) {
	root := t.TempDir()
	for _, fp := range []string{"one", "two"} {
		c := newTestCache(t, root, fp)
		c.Set("k", fp)
		c.Flush(context.Background())
	}

	count, size, err := DiskUsage(root)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, int64(6), size)

	require.NoError(t, Reset(root))

	count, _, err = DiskUsage(root)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	_, ok := newTestCache(t, root, "one").Get("k")
	assert.False(t, ok)
}

func TestDiskUsageMissingDirectory(t *testing.T) {
	count, size, err := DiskUsage(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Zero(t, size)
}

func TestLRUEviction(t *testing.T) {
	l := newLRU(10)

	l.set("a", "aaaa")
	l.set("b", "bbbb")
	_, ok := l.get("a")
	require.True(t, ok)

	// pushes size to 12; "b" is the least recently used
	l.set("c", "cccc")

	_, ok = l.get("b")
	assert.False(t, ok)
	_, ok = l.get("a")
	assert.True(t, ok)
	_, ok = l.get("c")
	assert.True(t, ok)

	entries, size := l.stats()
	assert.Equal(t, 2, entries)
	assert.Equal(t, int64(8), size)
}

func TestLRUUpdateAndOversize(t *testing.T) {
	l := newLRU(10)

	l.set("a", "aa")
	l.set("a", "aaaaaa")
	v, ok := l.get("a")
	require.True(t, ok)
	assert.Equal(t, "aaaaaa", v)

	l.set("huge", strings.Repeat("x", 11))
	_, ok = l.get("huge")
	assert.False(t, ok)

	entries, size := l.stats()
	assert.Equal(t, 1, entries)
	assert.Equal(t, int64(6), size)
}
