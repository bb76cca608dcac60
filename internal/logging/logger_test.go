package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"bogus", LevelInfo},
		{"", LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func TestHotswapLogger(t *testing.T) {
	t.Run("json output carries component, error and fields", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(&LoggerConfig{Level: LevelDebug, Format: "json", Output: &buf})

		logger.WithComponent("pool").With("key", "index-abc").
			Error(context.Background(), errors.New("boom"), "init failed", "attempt", 1)

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "init failed", entry["msg"])
		assert.Equal(t, "pool", entry["component"])
		assert.Equal(t, "boom", entry["error"])
		assert.Equal(t, "index-abc", entry["key"])
		assert.Equal(t, float64(1), entry["attempt"])
	})

	t.Run("level filtering", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(&LoggerConfig{Level: LevelWarn, Output: &buf})

		logger.Debug(context.Background(), "hidden")
		logger.Info(context.Background(), "hidden")
		assert.Zero(t, buf.Len())

		logger.Warn(context.Background(), nil, "shown")
		assert.Contains(t, buf.String(), "shown")
	})

	t.Run("odd field lists are tolerated", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(&LoggerConfig{Level: LevelInfo, Output: &buf})

		logger.Info(context.Background(), "msg", "dangling")
		assert.Contains(t, buf.String(), "msg")
	})

	t.Run("nop logger writes nothing", func(t *testing.T) {
		logger := NewNop()
		logger.Error(context.Background(), errors.New("x"), "ignored")
	})
}

func TestPerfLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: LevelDebug, Format: "json", Output: &buf})

	op := StartOperation(logger, "flush")
	op.End(context.Background(), "entries", 3)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "flush", entry["operation"])
	assert.Equal(t, float64(3), entry["entries"])
	assert.Contains(t, entry, "duration_ms")
}
