package provider

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/parleyhq/parley/internal/fault"
)

// Base carries the state every provider shares: the bound digest, query
// and failure counters, and the exactly-once callback discipline. Concrete
// providers embed it.
type Base struct {
	mu     sync.RWMutex
	digest Digest

	queries  atomic.Int64
	failures atomic.Int64
}

// BindDigest attaches (or with nil, detaches) the memory digest.
func (b *Base) BindDigest(d Digest) {
	b.mu.Lock()
	b.digest = d
	b.mu.Unlock()
}

// AugmentedPrompt prepends the bound digest's context block, if any.
func (b *Base) AugmentedPrompt(prompt string) string {
	b.mu.RLock()
	d := b.digest
	b.mu.RUnlock()
	if d == nil {
		return prompt
	}
	return d.AugmentPrompt(prompt)
}

// Queries returns how many queries completed, in either direction.
func (b *Base) Queries() int64 { return b.queries.Load() }

// Failures returns how many queries failed.
func (b *Base) Failures() int64 { return b.failures.Load() }

// Succeed counts a successful query and delivers the terminal response.
func (b *Base) Succeed(cb Callback, content, model string) {
	b.queries.Add(1)
	if cb != nil {
		cb(Response{
			Success:   true,
			Content:   content,
			ModelUsed: model,
			Timestamp: time.Now(),
		})
	}
}

// Fail counts a failed query, delivers the failure response, and returns
// the error so the caller can propagate it.
func (b *Base) Fail(cb Callback, err error) error {
	b.queries.Add(1)
	b.failures.Add(1)
	if cb != nil {
		cb(Response{
			Success:   false,
			ErrKind:   fault.KindOf(err),
			Message:   err.Error(),
			Timestamp: time.Now(),
		})
	}
	return err
}
