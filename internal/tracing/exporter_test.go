package tracing

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestNewFileExporter_CreatesParentDirectories(t *testing.T) {
	tmpDir := t.TempDir()
	tracePath := filepath.Join(tmpDir, "nested", "dir", "traces.jsonl")

	exporter, err := NewFileExporter(tracePath)
	require.NoError(t, err)

	_, err = os.Stat(tracePath)
	require.NoError(t, err, "trace file should be created with parent dirs")

	require.NoError(t, exporter.Shutdown(context.Background()))
}

func TestFileExporter_AppendsToExistingFile(t *testing.T) {
	tmpDir := t.TempDir()
	tracePath := filepath.Join(tmpDir, "traces.jsonl")

	err := os.WriteFile(tracePath, []byte(`{"existing": "data"}`+"\n"), 0644)
	require.NoError(t, err)

	exporter, err := NewFileExporter(tracePath)
	require.NoError(t, err)

	stub := tracetest.SpanStub{
		Name:      "session.run",
		StartTime: time.Now(),
		EndTime:   time.Now().Add(100 * time.Millisecond),
	}
	err = exporter.ExportSpans(context.Background(), []sdktrace.ReadOnlySpan{stub.Snapshot()})
	require.NoError(t, err)
	require.NoError(t, exporter.Shutdown(context.Background()))

	content, err := os.ReadFile(tracePath)
	require.NoError(t, err)
	require.Contains(t, string(content), `{"existing": "data"}`)
	require.Contains(t, string(content), "session.run")
}

func TestFileExporter_WritesValidJSONL(t *testing.T) {
	tmpDir := t.TempDir()
	tracePath := filepath.Join(tmpDir, "traces.jsonl")

	exporter, err := NewFileExporter(tracePath)
	require.NoError(t, err)

	stub := tracetest.SpanStub{
		Name:      SpanPrefixBus + "deliver",
		SpanKind:  trace.SpanKindInternal,
		StartTime: time.Now(),
		EndTime:   time.Now().Add(100 * time.Millisecond),
		Status: sdktrace.Status{
			Code: codes.Ok,
		},
		Attributes: []attribute.KeyValue{
			attribute.String(AttrSessionID, "sess-42"),
			attribute.String(AttrCIName, "builder-1"),
			attribute.String(AttrMessageFrom, "orchestrator"),
			attribute.String(AttrMessageTo, "builder-1"),
			attribute.Int(AttrCIPort, 9000),
		},
		Events: []sdktrace.Event{
			{
				Name: EventMessageDelivered,
				Time: time.Now(),
				Attributes: []attribute.KeyValue{
					attribute.String(AttrMessageKind, "instruction"),
				},
			},
		},
	}

	err = exporter.ExportSpans(context.Background(), []sdktrace.ReadOnlySpan{stub.Snapshot()})
	require.NoError(t, err)
	require.NoError(t, exporter.Shutdown(context.Background()))

	file, err := os.Open(tracePath)
	require.NoError(t, err)
	defer file.Close()

	var record SpanRecord
	require.NoError(t, json.NewDecoder(file).Decode(&record), "should be valid JSON")

	require.Equal(t, "bus.deliver", record.Name)
	require.Equal(t, "internal", record.Kind)
	require.Equal(t, "ok", record.Status)
	require.True(t, record.DurationMs > 0, "duration should be positive")

	// Session and CI land in their own fields, not the attribute map.
	require.Equal(t, "sess-42", record.SessionID)
	require.Equal(t, "builder-1", record.CI)
	require.NotContains(t, record.Attributes, AttrSessionID)
	require.NotContains(t, record.Attributes, AttrCIName)

	require.Equal(t, "orchestrator", record.Attributes[AttrMessageFrom])
	require.Equal(t, "builder-1", record.Attributes[AttrMessageTo])
	require.EqualValues(t, 9000, record.Attributes[AttrCIPort])

	require.Len(t, record.Events, 1)
	require.Equal(t, EventMessageDelivered, record.Events[0].Name)
	require.Equal(t, "instruction", record.Events[0].Attributes[AttrMessageKind])
}

func TestFileExporter_EmptyBatchIsNoop(t *testing.T) {
	tmpDir := t.TempDir()
	tracePath := filepath.Join(tmpDir, "traces.jsonl")

	exporter, err := NewFileExporter(tracePath)
	require.NoError(t, err)

	require.NoError(t, exporter.ExportSpans(context.Background(), nil))
	require.NoError(t, exporter.Shutdown(context.Background()))

	content, err := os.ReadFile(tracePath)
	require.NoError(t, err)
	require.Empty(t, content)
}
