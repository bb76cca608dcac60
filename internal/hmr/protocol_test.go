package hmr

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/hotswap/internal/errors"
)

func TestEncodeWireShapes(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{"connected", Connected{BundleEntry: "index", Platform: "ios"}, `{"type":"hmr:connected","bundleEntry":"index","platform":"ios"}`},
		{"module-registered", ModuleRegistered{Modules: []string{"App", "Logo"}}, `{"type":"hmr:module-registered","modules":["App","Logo"]}`},
		{"module-registered empty", ModuleRegistered{}, `{"type":"hmr:module-registered","modules":[]}`},
		{"invalidate", Invalidate{ModuleID: "App"}, `{"type":"hmr:invalidate","moduleId":"App"}`},
		{"log", Log{Level: "warn", Data: []any{"x", 1}}, `{"type":"hmr:log","level":"warn","data":["x",1]}`},
		{"update-start", UpdateStart{}, `{"type":"hmr:update-start"}`},
		{"update", Update{Code: "a()"}, `{"type":"hmr:update","code":"a()"}`},
		{"update-done", UpdateDone{}, `{"type":"hmr:update-done"}`},
		{"reload", Reload{}, `{"type":"hmr:reload"}`},
		{"error", Error{Message: "boom"}, `{"type":"hmr:error","message":"boom","errors":[]}`},
		{"custom", Custom{Type: "theme", Data: map[string]any{"dark": true}}, `{"type":"theme","data":{"dark":true}}`},
		{"custom without data", Custom{Type: "ping"}, `{"type":"ping"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.msg)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
			assert.Contains(t, string(data), `{"type":`, "type leads the object")
		})
	}
}

func TestDecodeProtocolMessages(t *testing.T) {
	tests := []struct {
		input string
		want  Message
	}{
		{`{"type":"hmr:connected","bundleEntry":"index","platform":"ios"}`, Connected{BundleEntry: "index", Platform: "ios"}},
		{`{"type":"hmr:module-registered","modules":["App"]}`, ModuleRegistered{Modules: []string{"App"}}},
		{`{"type":"hmr:invalidate","moduleId":"Logo"}`, Invalidate{ModuleID: "Logo"}},
		{`{"type":"hmr:log","level":"info","data":["hi"]}`, Log{Level: "info", Data: []any{"hi"}}},
		{`{"type":"hmr:update-start"}`, UpdateStart{}},
		{`{"type":"hmr:update","code":"x"}`, Update{Code: "x"}},
		{`{"type":"hmr:update-done"}`, UpdateDone{}},
		{`{"type":"hmr:reload"}`, Reload{}},
		{`{"type":"hmr:error","message":"m","errors":[{"message":"m","stack":"at App"}]}`,
			Error{Message: "m", Errors: []ErrorDetail{{Message: "m", Stack: "at App"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.want.MessageType(), func(t *testing.T) {
			got, err := Decode([]byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeOpaque(t *testing.T) {
	input := `  {"type":"devtools:ping","data":{"n":1}} `
	msg, err := Decode([]byte(input))
	require.NoError(t, err)

	opaque, ok := msg.(Opaque)
	require.True(t, ok)
	assert.Equal(t, "devtools:ping", opaque.MessageType())
	assert.JSONEq(t, `{"type":"devtools:ping","data":{"n":1}}`, string(opaque.Raw))
	assert.Equal(t, map[string]any{"n": float64(1)}, opaque.Data())

	// opaque messages re-encode verbatim
	data, err := Encode(opaque)
	require.NoError(t, err)
	assert.Equal(t, `{"type":"devtools:ping","data":{"n":1}}`, string(data))
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not json", `hello`},
		{"array", `[1,2]`},
		{"null", `null`},
		{"missing type", `{"moduleId":"App"}`},
		{"empty type", `{"type":""}`},
		{"non string type", `{"type":5}`},
		{"unknown reserved type", `{"type":"hmr:frobnicate"}`},
		{"connected without entry", `{"type":"hmr:connected","platform":"ios"}`},
		{"invalidate without module", `{"type":"hmr:invalidate"}`},
		{"wrong payload type", `{"type":"hmr:module-registered","modules":"App"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.input))
			require.Error(t, err)
			assert.Nil(t, msg)
			assert.True(t, errors.HasErrorCode(err, errors.ErrCodeMalformedMessage))
		})
	}
}

func TestEncodeRejectsReservedCustomTypes(t *testing.T) {
	_, err := Encode(Custom{Type: "hmr:update"})
	assert.Error(t, err)

	_, err = Encode(Custom{Type: ""})
	assert.Error(t, err)

	_, err = Encode(Opaque{Type: "hmr:reload"})
	assert.Error(t, err)

	_, err = Encode(nil)
	assert.Error(t, err)

	assert.Panics(t, func() { MustEncode(Custom{Type: "hmr:x"}) })
}

func TestEncodeDecodeCustom(t *testing.T) {
	data, err := Encode(Custom{Type: "counter", Data: 3})
	require.NoError(t, err)

	msg, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "counter", msg.MessageType())
	assert.Equal(t, float64(3), msg.(Opaque).Data())
}

func TestNewError(t *testing.T) {
	msg := NewError(fmt.Errorf("\x1b[31mUnexpected token\x1b[0m"))
	assert.Equal(t, "Unexpected token", msg.Message)
	require.Len(t, msg.Errors, 1)
	assert.Equal(t, "Unexpected token", msg.Errors[0].Message)

	withStack := NewError(&errors.HotswapError{Type: errors.ErrorTypeBuild, Message: "bad", Stack: "at App.js:3"})
	assert.Equal(t, "at App.js:3", withStack.Errors[0].Stack)

	data, err := Encode(NewError(nil))
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, []any{}, decoded["errors"])
}

func TestIsReserved(t *testing.T) {
	assert.True(t, IsReserved("hmr:update"))
	assert.False(t, IsReserved("hmrx"))
	assert.False(t, IsReserved("custom"))
}
