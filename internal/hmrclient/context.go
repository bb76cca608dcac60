package hmrclient

import (
	"github.com/conneroisu/hotswap/internal/errors"
	"github.com/conneroisu/hotswap/internal/hmr"
)

var (
	// ErrInvalidAccept is returned by Accept for more than one callback.
	ErrInvalidAccept = errors.NewValidationError(errors.ErrCodeInvalidAccept, "accept takes zero or one callback")
	// ErrReservedEvent is returned when a context sends a protocol type.
	ErrReservedEvent = errors.NewValidationError(errors.ErrCodeReservedEvent, "event types starting with "+hmr.Prefix+" are reserved")
)

// AcceptFunc receives a module's exports after an update applied.
type AcceptFunc func(exports any)

// EventHandler receives the data of a custom server message.
type EventHandler func(data any)

type subscription struct {
	handler EventHandler
}

// HotContext is the hot-update bookkeeping of one module instance.
type HotContext struct {
	id      string
	runtime *Runtime

	boundary  bool
	accepts   []AcceptFunc
	listeners map[string][]*subscription
}

func newHotContext(id string, rt *Runtime) *HotContext {
	return &HotContext{
		id:        id,
		runtime:   rt,
		listeners: make(map[string][]*subscription),
	}
}

// ID returns the module id.
func (h *HotContext) ID() string { return h.id }

// IsBoundary reports whether the module accepted updates.
func (h *HotContext) IsBoundary() bool { return h.boundary }

// Accept marks the module as an update boundary. With one callback the
// module self-accepts and cb runs with its exports after each update.
func (h *HotContext) Accept(cbs ...AcceptFunc) error {
	switch len(cbs) {
	case 0:
		h.boundary = true
	case 1:
		if cbs[0] == nil {
			return ErrInvalidAccept
		}
		h.boundary = true
		h.accepts = append(h.accepts, cbs[0])
	default:
		return ErrInvalidAccept
	}
	return nil
}

// Invalidate asks the server to recompute this module.
func (h *HotContext) Invalidate() {
	h.runtime.send(hmr.Invalidate{ModuleID: h.id})
}

// On subscribes handler to custom messages of type event and returns a
// function removing that subscription.
func (h *HotContext) On(event string, handler EventHandler) func() {
	sub := &subscription{handler: handler}
	h.listeners[event] = append(h.listeners[event], sub)

	return func() {
		subs := h.listeners[event]
		for i, s := range subs {
			if s == sub {
				h.listeners[event] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		if len(h.listeners[event]) == 0 {
			delete(h.listeners, event)
		}
	}
}

// Off removes every handler for event.
func (h *HotContext) Off(event string) {
	delete(h.listeners, event)
}

// Send emits a custom message of type event to the server.
func (h *HotContext) Send(event string, data any) error {
	if event == "" || hmr.IsReserved(event) {
		return ErrReservedEvent
	}
	return h.runtime.outbox.Send(hmr.Custom{Type: event, Data: data})
}

func (h *HotContext) emit(event string, data any) {
	subs := append([]*subscription(nil), h.listeners[event]...)
	for _, s := range subs {
		s.handler(data)
	}
}

func (h *HotContext) detach() {
	h.listeners = make(map[string][]*subscription)
}
