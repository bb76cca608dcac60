// Package hmr implements the hot-update wire protocol: UTF-8 JSON objects
// with a mandatory "type" field exchanged over one websocket per client.
// Types beginning with "hmr:" belong to the protocol; anything else is an
// application message carried through untouched.
package hmr

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/conneroisu/hotswap/internal/errors"
)

// Path is the fixed endpoint clients connect to.
const Path = "/hot"

// Prefix is reserved for protocol message types.
const Prefix = "hmr:"

const (
	TypeConnected        = "hmr:connected"
	TypeModuleRegistered = "hmr:module-registered"
	TypeInvalidate       = "hmr:invalidate"
	TypeLog              = "hmr:log"
	TypeUpdateStart      = "hmr:update-start"
	TypeUpdate           = "hmr:update"
	TypeUpdateDone       = "hmr:update-done"
	TypeReload           = "hmr:reload"
	TypeError            = "hmr:error"
)

// Message is one decoded wire message. The set of implementations is closed.
type Message interface {
	MessageType() string
	isMessage()
}

// Connected is the client handshake.
type Connected struct {
	BundleEntry string `json:"bundleEntry"`
	Platform    string `json:"platform"`
}

// ModuleRegistered lists module ids that became live on the client.
type ModuleRegistered struct {
	Modules []string `json:"modules"`
}

// Invalidate asks the server to recompute one module.
type Invalidate struct {
	ModuleID string `json:"moduleId"`
}

// Log forwards client console output.
type Log struct {
	Level string `json:"level"`
	Data  []any  `json:"data"`
}

// UpdateStart announces that a change was detected and an update is coming.
type UpdateStart struct{}

// Update carries patch code for one module.
type Update struct {
	Code string `json:"code"`
}

// UpdateDone closes the preceding Update.
type UpdateDone struct{}

// Reload tells the client no safe patch exists.
type Reload struct{}

// ErrorDetail is one entry of Error.Errors.
type ErrorDetail struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// Error reports a failed build or a rejected client message.
type Error struct {
	Message string        `json:"message"`
	Errors  []ErrorDetail `json:"errors"`
}

// Opaque is any message whose type is outside the hmr: namespace. Raw holds
// the complete original object.
type Opaque struct {
	Type string
	Raw  json.RawMessage
}

// Custom is an application event sent on behalf of a hot context. It encodes
// as {"type": Type, "data": Data}.
type Custom struct {
	Type string
	Data any
}

func (Connected) MessageType() string        { return TypeConnected }
func (ModuleRegistered) MessageType() string { return TypeModuleRegistered }
func (Invalidate) MessageType() string       { return TypeInvalidate }
func (Log) MessageType() string              { return TypeLog }
func (UpdateStart) MessageType() string      { return TypeUpdateStart }
func (Update) MessageType() string           { return TypeUpdate }
func (UpdateDone) MessageType() string       { return TypeUpdateDone }
func (Reload) MessageType() string           { return TypeReload }
func (Error) MessageType() string            { return TypeError }
func (m Opaque) MessageType() string         { return m.Type }
func (m Custom) MessageType() string         { return m.Type }

func (Connected) isMessage()        {}
func (ModuleRegistered) isMessage() {}
func (Invalidate) isMessage()       {}
func (Log) isMessage()              {}
func (UpdateStart) isMessage()      {}
func (Update) isMessage()           {}
func (UpdateDone) isMessage()       {}
func (Reload) isMessage()           {}
func (Error) isMessage()            {}
func (Opaque) isMessage()           {}
func (Custom) isMessage()           {}

// Data returns the "data" member of an opaque message, or nil.
func (m Opaque) Data() any {
	var body struct {
		Data any `json:"data"`
	}
	if err := json.Unmarshal(m.Raw, &body); err != nil {
		return nil
	}
	return body.Data
}

// IsReserved reports whether typ belongs to the protocol namespace.
func IsReserved(typ string) bool {
	return strings.HasPrefix(typ, Prefix)
}

// NewError builds an Error message from err, carrying its stack when the
// error has one.
func NewError(err error) Error {
	he := errors.Normalize(err)
	if he == nil {
		return Error{Errors: []ErrorDetail{}}
	}
	return Error{
		Message: he.Message,
		Errors:  []ErrorDetail{{Message: he.Message, Stack: he.Stack}},
	}
}

func malformed(format string, args ...any) error {
	return errors.NewProtocolError(errors.ErrCodeMalformedMessage, fmt.Sprintf(format, args...), nil)
}

// Decode parses one wire message. Unknown hmr: types, a missing type and
// payloads that do not match their type are errors; unknown types outside
// the namespace decode to Opaque.
func Decode(data []byte) (Message, error) {
	var head struct {
		Type *string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, errors.NewProtocolError(errors.ErrCodeMalformedMessage, "message is not a JSON object", err)
	}
	if head.Type == nil || *head.Type == "" {
		return nil, malformed("message has no type")
	}

	typ := *head.Type
	switch typ {
	case TypeConnected:
		var m Connected
		if err := decodeBody(data, &m); err != nil {
			return nil, err
		}
		if m.BundleEntry == "" {
			return nil, malformed("%s requires bundleEntry", typ)
		}
		return m, nil
	case TypeModuleRegistered:
		var m ModuleRegistered
		if err := decodeBody(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeInvalidate:
		var m Invalidate
		if err := decodeBody(data, &m); err != nil {
			return nil, err
		}
		if m.ModuleID == "" {
			return nil, malformed("%s requires moduleId", typ)
		}
		return m, nil
	case TypeLog:
		var m Log
		if err := decodeBody(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeUpdateStart:
		return UpdateStart{}, nil
	case TypeUpdate:
		var m Update
		if err := decodeBody(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeUpdateDone:
		return UpdateDone{}, nil
	case TypeReload:
		return Reload{}, nil
	case TypeError:
		var m Error
		if err := decodeBody(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	}

	if IsReserved(typ) {
		return nil, malformed("unknown message type %q", typ)
	}
	return Opaque{Type: typ, Raw: append(json.RawMessage(nil), bytes.TrimSpace(data)...)}, nil
}

func decodeBody(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return errors.NewProtocolError(errors.ErrCodeMalformedMessage, "invalid payload", err)
	}
	return nil
}

// Encode serializes m with its type as the first member.
func Encode(m Message) ([]byte, error) {
	switch m := m.(type) {
	case nil:
		return nil, malformed("nil message")
	case Opaque:
		if IsReserved(m.Type) || m.Type == "" {
			return nil, malformed("opaque message cannot use type %q", m.Type)
		}
		if len(m.Raw) > 0 {
			return m.Raw, nil
		}
		return withType(m.Type, struct{}{})
	case Custom:
		if IsReserved(m.Type) || m.Type == "" {
			return nil, malformed("custom message cannot use type %q", m.Type)
		}
		return withType(m.Type, struct {
			Data any `json:"data,omitempty"`
		}{m.Data})
	case Error:
		if m.Errors == nil {
			m.Errors = []ErrorDetail{}
		}
		return withType(m.MessageType(), m)
	case ModuleRegistered:
		if m.Modules == nil {
			m.Modules = []string{}
		}
		return withType(m.MessageType(), m)
	case Log:
		if m.Data == nil {
			m.Data = []any{}
		}
		return withType(m.MessageType(), m)
	default:
		return withType(m.MessageType(), m)
	}
}

// MustEncode is Encode for messages known to be valid.
func MustEncode(m Message) []byte {
	data, err := Encode(m)
	if err != nil {
		panic(err)
	}
	return data
}

func withType(typ string, body any) ([]byte, error) {
	typeJSON, err := json.Marshal(typ)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, errors.NewProtocolError(errors.ErrCodeMalformedMessage, "cannot encode "+typ, err)
	}

	var buf bytes.Buffer
	buf.Grow(len(typeJSON) + len(raw) + 10)
	buf.WriteString(`{"type":`)
	buf.Write(typeJSON)
	if inner := bytes.TrimSpace(raw[1 : len(raw)-1]); len(inner) > 0 {
		buf.WriteByte(',')
		buf.Write(inner)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
