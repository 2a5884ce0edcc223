package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUsagePercent(t *testing.T) {
	tests := []struct {
		name string
		m    ContextMetrics
		want float64
	}{
		{"unknown window", ContextMetrics{UsedBytes: 500}, 0},
		{"quarter used", ContextMetrics{UsedBytes: 50_000, WindowBytes: 200_000}, 25},
		{"empty", ContextMetrics{WindowBytes: 200_000}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.InDelta(t, tt.want, tt.m.UsagePercent(), 0.001)
		})
	}
}

func TestFormatContextUsage(t *testing.T) {
	require.Equal(t, "-", ContextMetrics{}.FormatContextUsage())
	require.Equal(t, "12k/200k", ContextMetrics{UsedBytes: 12_500, WindowBytes: 200_000}.FormatContextUsage())
}

func TestRecord(t *testing.T) {
	var m ContextMetrics
	m.Record(1000, false)
	m.Record(2000, true)

	require.Equal(t, 2000, m.UsedBytes)
	require.Equal(t, int64(2), m.Queries)
	require.Equal(t, int64(1), m.Failures)
	require.False(t, m.LastUpdatedAt.IsZero())
}
