package reporting

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func decodeLines(t *testing.T, data []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &m))
		out = append(out, m)
	}
	return out
}

func TestWriterReporterJSONLines(t *testing.T) {
	var buf bytes.Buffer
	r := NewWriterReporter(zapcore.AddSync(&buf))

	r.Report(Event{Type: BundleBuildStarted, BundleName: "index", Fingerprint: "abc"})
	r.Report(Event{Type: Transform, ModuleID: "src/App.js", CacheHit: true})
	r.Report(Event{Type: BundleBuildFailed, BundleName: "index", Error: "boom", Duration: 1500 * time.Millisecond})
	require.NoError(t, r.Close())

	lines := decodeLines(t, buf.Bytes())
	require.Len(t, lines, 3)

	assert.Equal(t, "bundle_build_started", lines[0]["event"])
	assert.Equal(t, "index", lines[0]["bundle"])
	assert.Equal(t, "abc", lines[0]["fingerprint"])
	assert.Equal(t, "info", lines[0]["level"])

	assert.Equal(t, "transform", lines[1]["event"])
	assert.Equal(t, true, lines[1]["cache_hit"])

	assert.Equal(t, "bundle_build_failed", lines[2]["event"])
	assert.Equal(t, "error", lines[2]["level"])
	assert.Equal(t, "boom", lines[2]["error"])
	assert.Equal(t, float64(1500), lines[2]["duration"])
}

func TestZapReporterObserved(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	r := NewZapReporter(zap.New(core))

	r.Report(Event{Type: ClientLog, ClientID: 7, Level: "warn", Data: []any{"hello", 1.0}})
	r.Report(Event{Type: WatchChange, Paths: []string{"a.js", "b.js"}})
	r.Report(Event{Type: ClientDropped, ClientID: 9, Error: "send queue full"})

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "client_log", entries[0].Message)
	assert.Equal(t, uint64(7), entries[0].ContextMap()["client"])
	assert.Equal(t, "watch_change", entries[1].Message)
	assert.Equal(t, "client_dropped", entries[2].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Equal(t, "send queue full", entries[2].ContextMap()["reason"])
}

func TestSafeRecoversPanics(t *testing.T) {
	r := Safe(ReporterFunc(func(Event) { panic("reporter exploded") }))
	assert.NotPanics(t, func() { r.Report(Event{Type: Transform}) })

	assert.NotPanics(t, func() { Safe(nil).Report(Event{}) })
}

func TestMultiContinuesAfterPanic(t *testing.T) {
	var got []EventType
	r := Multi(
		ReporterFunc(func(Event) { panic("first") }),
		nil,
		ReporterFunc(func(e Event) { got = append(got, e.Type) }),
	)

	r.Report(Event{Type: BundleBuildDone})
	assert.Equal(t, []EventType{BundleBuildDone}, got)
}

func TestOpen(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		r, closeFn, err := Open("")
		require.NoError(t, err)
		assert.NotPanics(t, func() { r.Report(Event{Type: Transform}) })
		assert.NoError(t, closeFn())
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "events.jsonl")
		r, closeFn, err := Open(path)
		require.NoError(t, err)

		r.Report(Event{Type: BundleBuildDone, BundleName: "index"})
		require.NoError(t, closeFn())
		require.NoError(t, closeFn())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		lines := decodeLines(t, data)
		require.Len(t, lines, 1)
		assert.Equal(t, "bundle_build_done", lines[0]["event"])
	})

	t.Run("bad path", func(t *testing.T) {
		_, _, err := Open(filepath.Join(t.TempDir(), "missing", "events.jsonl"))
		assert.Error(t, err)
	})
}
