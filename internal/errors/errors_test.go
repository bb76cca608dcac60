package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stackErr struct {
	msg   string
	stack string
}

func (s *stackErr) Error() string      { return s.msg }
func (s *stackErr) StackTrace() string { return s.stack }

func TestHotswapError(t *testing.T) {
	t.Run("error string includes code, component and cause", func(t *testing.T) {
		err := NewBuildError(ErrCodeBuildFailed, "transform failed", errors.New("syntax")).
			WithComponent("passthrough")

		assert.Equal(t, "[ERR_BUILD_FAILED] component:passthrough transform failed: syntax", err.Error())
		assert.True(t, HasErrorType(err, ErrorTypeBuild))
		assert.True(t, err.Recoverable)
	})

	t.Run("Is compares type and code", func(t *testing.T) {
		a := NewProtocolError(ErrCodeMalformedMessage, "a", nil)
		b := NewProtocolError(ErrCodeMalformedMessage, "b", nil)
		c := NewProtocolError(ErrCodeInvalidate, "c", nil)

		assert.True(t, errors.Is(a, b))
		assert.False(t, errors.Is(a, c))
	})

	t.Run("wrapped chains are searchable", func(t *testing.T) {
		inner := NewIOError(ErrCodeCacheIO, "write failed", errors.New("disk full"))
		outer := fmt.Errorf("flush: %w", inner)

		assert.True(t, HasErrorType(outer, ErrorTypeIO))
		assert.True(t, HasErrorCode(outer, ErrCodeCacheIO))
	})
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrorTypeBuild, "x", "y"))

	base := &HotswapError{Type: ErrorTypeBuild, Code: "A", Message: "a", Stack: "at a.js:1"}
	wrapped := WrapConfig(base, ErrCodeConfigInvalid, "config")

	require.NotNil(t, wrapped)
	assert.Equal(t, "at a.js:1", wrapped.Stack)
	assert.False(t, wrapped.Recoverable)
	assert.ErrorIs(t, wrapped, base)
}

func TestNormalize(t *testing.T) {
	t.Run("strips color codes", func(t *testing.T) {
		err := Normalize(errors.New("\x1b[31mSyntaxError\x1b[0m: unexpected token\n"))

		require.NotNil(t, err)
		assert.Equal(t, "SyntaxError: unexpected token", err.Message)
		assert.Equal(t, ErrCodeBuildFailed, err.Code)
		assert.Equal(t, ErrorTypeBuild, err.Type)
	})

	t.Run("keeps engine stack verbatim", func(t *testing.T) {
		stack := "\x1b[2m    at App.js:10:3\x1b[0m"
		err := Normalize(&stackErr{msg: "boom", stack: stack})

		assert.Equal(t, stack, err.Stack)
		assert.Equal(t, stack, StackOf(err))
	})

	t.Run("already normalized errors pass through", func(t *testing.T) {
		first := Normalize(errors.New("plain"))
		assert.Same(t, first, Normalize(first))
	})

	t.Run("wrapping text is kept", func(t *testing.T) {
		inner := &HotswapError{Type: ErrorTypeBuild, Code: ErrCodeBuildFailed, Message: "unexpected token"}
		err := Normalize(fmt.Errorf("transform App.js: %w", inner))

		require.NotNil(t, err)
		assert.NotSame(t, inner, err)
		assert.Contains(t, err.Message, "transform App.js")
		assert.Contains(t, err.Message, "unexpected token")
	})

	t.Run("nil stays nil", func(t *testing.T) {
		assert.Nil(t, Normalize(nil))
	})
}

func TestEnhancedError(t *testing.T) {
	suggestions := ServerStartError(errors.New("listen tcp: bind: address already in use"), 8081)
	require.Len(t, suggestions, 2)

	err := NewEnhancedError("Failed to start server", errors.New("bind"), suggestions)
	assert.Contains(t, err.Error(), "Port already in use")
	assert.Contains(t, err.Error(), "hotswap serve --port 8082")

	bare := NewEnhancedError("Failed", errors.New("cause"), nil)
	assert.Equal(t, "Failed: cause", bare.Error())
}

func TestConnectErrorSuggestions(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		title string
	}{
		{"refused", errors.New("dial tcp 127.0.0.1:8081: connect: connection refused"), "Start the dev server"},
		{"missing bundle", errors.New("bundle request failed with 404 Not Found"), "Check the bundle entry"},
		{"broken build", errors.New("[ERR_BUNDLE_UNAVAILABLE] bundle request failed with 500"), "Fix the build"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			suggestions := ConnectError(tt.err, "http://localhost:8081")
			require.NotEmpty(t, suggestions)
			assert.Equal(t, tt.title, suggestions[0].Title)
		})
	}

	assert.Empty(t, ConnectError(errors.New("tls: handshake failure"), "https://x"))
}
