package bus

import (
	"context"
	"sync"

	"github.com/parleyhq/parley/internal/fault"
	"github.com/parleyhq/parley/internal/message"
)

// Handler consumes messages delivered to one recipient.
type Handler func(m message.Message)

// Loopback is the in-process transport: recipients attach handlers by
// name and the bus hands messages straight to them. Single-process
// sessions and tests run entirely over it.
type Loopback struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewLoopback creates an empty loopback transport.
func NewLoopback() *Loopback {
	return &Loopback{handlers: make(map[string]Handler)}
}

// Attach registers the handler for a recipient name, replacing any
// previous one.
func (l *Loopback) Attach(name string, h Handler) {
	l.mu.Lock()
	l.handlers[name] = h
	l.mu.Unlock()
}

// Detach removes a recipient's handler.
func (l *Loopback) Detach(name string) {
	l.mu.Lock()
	delete(l.handlers, name)
	l.mu.Unlock()
}

// Send invokes the recipient's handler on the caller's goroutine. An
// unknown recipient is a disconnected error.
func (l *Loopback) Send(_ context.Context, m message.Message) error {
	const op = "bus.Loopback.Send"

	l.mu.RLock()
	h, ok := l.handlers[m.To]
	l.mu.RUnlock()
	if !ok {
		return fault.Errorf(fault.Disconnected, op, "no handler attached for %q", m.To)
	}
	h(m)
	return nil
}

var _ Transport = (*Loopback)(nil)
