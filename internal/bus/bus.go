// Package bus moves messages between CIs. A single dispatch goroutine
// drains a bounded FIFO queue and hands each message to the transport, so
// deliveries from one sender to one recipient keep submission order. The
// bus also tracks request/response pairs by thread id with per-request
// timeouts; expiry fires the caller's callback exactly once with a
// timeout error. Delivery is at-most-once: a failed handoff is counted
// and logged, never replayed.
package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/fault"
	"github.com/parleyhq/parley/internal/log"
	"github.com/parleyhq/parley/internal/message"
)

// Defaults.
const (
	// DefaultQueueCapacity bounds the dispatch queue.
	DefaultQueueCapacity = 100
	// DefaultPendingCap bounds the outstanding-request table.
	DefaultPendingCap = 50
	// DefaultRequestTimeout expires an unanswered request.
	DefaultRequestTimeout = 30 * time.Second
	// pendingSweepInterval is how often expired requests are collected.
	pendingSweepInterval = 250 * time.Millisecond
)

// Transport is the wire under the bus. The Unix-socket framing lives
// outside the core; Loopback serves tests and single-process sessions.
type Transport interface {
	Send(ctx context.Context, m message.Message) error
}

// ResponseCallback receives a request's terminal outcome: the response
// message, or a timeout/queue error. Invoked exactly once per request,
// from the dispatch goroutine or the expiry sweep.
type ResponseCallback func(resp message.Message, err error)

// Config tunes a bus. Zero values pick the defaults above.
type Config struct {
	QueueCapacity  int
	PendingCap     int
	RequestTimeout time.Duration
}

// Bus is the dispatch loop plus the pending-request table.
type Bus struct {
	transport Transport
	queue     chan message.Message
	capacity  int

	pending    *gocache.Cache
	pendingCap int
	timeout    time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	started atomic.Bool
	running atomic.Bool
	closed  atomic.Bool

	delivered atomic.Int64
	failed    atomic.Int64
}

// pendingRequest guards the exactly-once callback for one request.
type pendingRequest struct {
	from, to string
	cb       ResponseCallback
	once     sync.Once
}

// New creates a bus over transport.
func New(cfg Config, transport Transport) *Bus {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultQueueCapacity
	}
	if cfg.PendingCap <= 0 {
		cfg.PendingCap = DefaultPendingCap
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}

	b := &Bus{
		transport:  transport,
		queue:      make(chan message.Message, cfg.QueueCapacity),
		capacity:   cfg.QueueCapacity,
		pending:    gocache.New(cfg.RequestTimeout, pendingSweepInterval),
		pendingCap: cfg.PendingCap,
		timeout:    cfg.RequestTimeout,
	}
	b.ctx, b.cancel = context.WithCancel(context.Background())
	b.pending.OnEvicted(func(id string, v any) {
		req, ok := v.(*pendingRequest)
		if !ok {
			return
		}
		req.once.Do(func() {
			log.Warn(log.CatBus, "Request timed out", "thread", id, "from", req.from, "to", req.to)
			if req.cb != nil {
				req.cb(message.Message{}, fault.Errorf(fault.Timeout, "bus.Request", "request %s timed out", id))
			}
		})
	})
	return b
}

// Run starts the dispatch loop and blocks until ctx is cancelled or the
// queue is drained. Run can only be started once.
func (b *Bus) Run(ctx context.Context) {
	if !b.started.CompareAndSwap(false, true) {
		return
	}
	stop := context.AfterFunc(ctx, b.cancel)
	defer stop()
	b.running.Store(true)
	b.wg.Add(1)
	defer func() {
		b.running.Store(false)
		b.wg.Done()
	}()

	for {
		select {
		case <-b.ctx.Done():
			return
		case m, ok := <-b.queue:
			if !ok {
				return
			}
			b.dispatch(m)
		}
	}
}

// Deliver enqueues one message for dispatch. Non-blocking: a full queue
// fails with a queue-full error and the message is dropped.
func (b *Bus) Deliver(_ context.Context, m message.Message) error {
	const op = "bus.Deliver"

	if err := m.Validate(); err != nil {
		return err
	}
	if b.closed.Load() {
		return fault.Errorf(fault.Disconnected, op, "bus is shut down")
	}
	select {
	case b.queue <- m:
		return nil
	default:
		return fault.Errorf(fault.QueueFull, op, "dispatch queue full at %d", b.capacity)
	}
}

// Request enqueues a message and tracks it for a response on its thread
// id. The id is generated when absent and returned. At the pending cap
// the request is rejected with a queue-full error and nothing is
// enqueued. cb fires exactly once: with the response, or with a timeout
// error after the per-request timeout (metadata timeout_ms overrides the
// default).
func (b *Bus) Request(ctx context.Context, m message.Message, cb ResponseCallback) (string, error) {
	const op = "bus.Request"

	if b.pending.ItemCount() >= b.pendingCap {
		return "", fault.Errorf(fault.QueueFull, op, "pending table full at %d", b.pendingCap)
	}
	if m.ThreadID == "" {
		m.ThreadID = uuid.New().String()
	}

	timeout := b.timeout
	if m.Metadata != nil && m.Metadata.TimeoutMS > 0 {
		timeout = time.Duration(m.Metadata.TimeoutMS) * time.Millisecond
	}

	req := &pendingRequest{from: m.From, to: m.To, cb: cb}
	if err := b.pending.Add(m.ThreadID, req, timeout); err != nil {
		return "", fault.Errorf(fault.InvalidValue, op, "request %s already pending", m.ThreadID)
	}
	if err := b.Deliver(ctx, m); err != nil {
		// Never let the timeout fire for a request that was never sent.
		req.once.Do(func() {})
		b.pending.Delete(m.ThreadID)
		return "", err
	}
	return m.ThreadID, nil
}

// PendingCount returns how many requests await a response.
func (b *Bus) PendingCount() int { return b.pending.ItemCount() }

// Delivered returns how many messages reached the transport.
func (b *Bus) Delivered() int64 { return b.delivered.Load() }

// Failed returns how many handoffs the transport rejected.
func (b *Bus) Failed() int64 { return b.failed.Load() }

// Drain stops accepting messages, lets the loop finish the queue, and
// waits for it to exit. Safe to call once after Run has started.
func (b *Bus) Drain() {
	if !b.started.Load() {
		return
	}
	// Stop accepting messages before closing the queue, so a late Deliver
	// fails with a fault instead of panicking on the closed channel.
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	close(b.queue)
	b.wg.Wait()
	if b.cancel != nil {
		b.cancel()
	}
}

// Close cancels the loop without draining and times out every
// outstanding request, firing each pending callback once.
func (b *Bus) Close() error {
	b.closed.Store(true)
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
	// Delete runs the eviction handler per entry; Flush would discard the
	// pending callbacks without firing them.
	for id := range b.pending.Items() {
		b.pending.Delete(id)
	}
	return nil
}

// dispatch hands one message to the transport and resolves any pending
// request it answers.
func (b *Bus) dispatch(m message.Message) {
	if m.Kind == message.KindResponse && m.ThreadID != "" {
		b.resolve(m)
	}
	if err := b.transport.Send(b.ctx, m); err != nil {
		b.failed.Add(1)
		log.Warn(log.CatBus, "Transport handoff failed", "from", m.From, "to", m.To, "error", err.Error())
		return
	}
	b.delivered.Add(1)
}

// resolve fires the pending callback for a response's thread, if one is
// still outstanding.
func (b *Bus) resolve(m message.Message) {
	v, ok := b.pending.Get(m.ThreadID)
	if !ok {
		return
	}
	req, ok := v.(*pendingRequest)
	if !ok {
		return
	}
	req.once.Do(func() {
		if req.cb != nil {
			req.cb(m, nil)
		}
	})
	// Delete triggers OnEvicted; the once above makes that a no-op.
	b.pending.Delete(m.ThreadID)
}
