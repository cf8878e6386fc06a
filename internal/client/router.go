package client

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/DevAniketIT/androidzen-pro-sub001/internal/domain"
)

// Local event types are dispatched by the Session itself and never cross the wire.
const (
	EventDropped      domain.MessageType = "local.dropped"
	EventStateChanged domain.MessageType = "local.state"
)

// Reasons carried by EventDropped.
const (
	DropNotOpen    = "not_open"
	DropQueueFull  = "queue_full"
	DropExpired    = "expired"
	DropBufferFull = "buffer_full"
)

// DroppedEvent is the data of an EventDropped envelope.
type DroppedEvent struct {
	Type   domain.MessageType `json:"type"`
	Reason string             `json:"reason"`
}

// StateChangedEvent is the data of an EventStateChanged envelope.
type StateChangedEvent struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Handler consumes one envelope. A returned error is logged and does not affect other handlers.
type Handler func(env domain.Envelope) error

type registration struct {
	handler Handler
}

// Router maps message types to ordered handler lists.
type Router struct {
	mu       sync.RWMutex
	handlers map[domain.MessageType][]*registration
	any      []*registration
}

func NewRouter() *Router {
	return &Router{handlers: make(map[domain.MessageType][]*registration)}
}

// On appends handler for msgType. The returned func removes exactly this registration.
func (r *Router) On(msgType domain.MessageType, handler Handler) func() {
	reg := &registration{handler: handler}

	r.mu.Lock()
	r.handlers[msgType] = append(r.handlers[msgType], reg)
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.handlers[msgType] = without(r.handlers[msgType], reg)
		if len(r.handlers[msgType]) == 0 {
			delete(r.handlers, msgType)
		}
	}
}

// OnAny registers handler for every envelope, after the type-specific handlers.
func (r *Router) OnAny(handler Handler) func() {
	reg := &registration{handler: handler}

	r.mu.Lock()
	r.any = append(r.any, reg)
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.any = without(r.any, reg)
	}
}

// Off removes every handler registered for msgType.
func (r *Router) Off(msgType domain.MessageType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, msgType)
}

// Dispatch invokes the handlers for env.Type in registration order and returns how many ran.
// A failing or panicking handler is logged and skipped.
func (r *Router) Dispatch(env domain.Envelope) int {
	r.mu.RLock()
	regs := make([]*registration, 0, len(r.handlers[env.Type])+len(r.any))
	regs = append(regs, r.handlers[env.Type]...)
	regs = append(regs, r.any...)
	r.mu.RUnlock()

	for _, reg := range regs {
		if err := invoke(reg.handler, env); err != nil {
			slog.Error("Message handler failed", "type", env.Type, "error", err)
		}
	}
	return len(regs)
}

func invoke(handler Handler, env domain.Envelope) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return handler(env)
}

func without(regs []*registration, target *registration) []*registration {
	out := regs[:0:0]
	for _, reg := range regs {
		if reg != target {
			out = append(out, reg)
		}
	}
	return out
}
