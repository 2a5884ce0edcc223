// Package metrics provides context-window usage accounting for CIs and
// their digests, feeding the orchestrator's status reports.
package metrics

import (
	"fmt"
	"time"
)

// ContextMetrics tracks how much of a model's context window a CI is
// consuming: digest bytes plus the last response size.
type ContextMetrics struct {
	// UsedBytes approximates current context consumption.
	UsedBytes int `json:"used_bytes"`

	// WindowBytes is the model's context window, 0 when unknown.
	WindowBytes int `json:"window_bytes"`

	// Queries counts completed provider queries.
	Queries int64 `json:"queries"`

	// Failures counts failed provider queries.
	Failures int64 `json:"failures"`

	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// UsagePercent returns the used fraction of the context window (0-100).
func (m ContextMetrics) UsagePercent() float64 {
	if m.WindowBytes == 0 {
		return 0
	}
	return float64(m.UsedBytes) / float64(m.WindowBytes) * 100
}

// FormatContextUsage returns a compact display string, e.g. "12k/200k".
func (m ContextMetrics) FormatContextUsage() string {
	if m.WindowBytes == 0 {
		return "-"
	}
	return fmt.Sprintf("%dk/%dk", m.UsedBytes/1000, m.WindowBytes/1000)
}

// Record updates the usage counters after a query.
func (m *ContextMetrics) Record(usedBytes int, failed bool) {
	m.UsedBytes = usedBytes
	m.Queries++
	if failed {
		m.Failures++
	}
	m.LastUpdatedAt = time.Now()
}
