package message

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/parleyhq/parley/internal/fault"
)

func TestEncodeCanonicalOrder(t *testing.T) {
	m := Message{
		From:      "athena",
		To:        "hermes",
		Timestamp: 1712345678,
		Kind:      KindQuery,
		Content:   "how far along is the parser?",
		ThreadID:  "thr-1",
		Metadata:  &Metadata{Priority: "high", TimeoutMS: 5000},
	}

	data, err := Encode(m)
	require.NoError(t, err)
	require.Equal(t,
		`{"from":"athena","to":"hermes","timestamp":1712345678,"type":"query",`+
			`"content":"how far along is the parser?","thread_id":"thr-1",`+
			`"metadata":{"priority":"high","timeout_ms":5000}}`,
		string(data))
}

func TestEncodeOmitsEmptyOptionals(t *testing.T) {
	m := Message{From: "a", To: "b", Timestamp: 1, Kind: KindStatus, Content: "ok"}

	data, err := Encode(m)
	require.NoError(t, err)
	require.NotContains(t, string(data), "thread_id")
	require.NotContains(t, string(data), "metadata")

	// Metadata with both sub-fields unset is dropped entirely.
	m.Metadata = &Metadata{}
	data, err = Encode(m)
	require.NoError(t, err)
	require.NotContains(t, string(data), "metadata")
}

func TestEncodeKeepsPartialMetadata(t *testing.T) {
	m := Message{From: "a", To: "b", Timestamp: 1, Kind: KindTask, Content: "go",
		Metadata: &Metadata{Priority: "low"}}

	data, err := Encode(m)
	require.NoError(t, err)
	require.Contains(t, string(data), `"metadata":{"priority":"low"}`)
	require.NotContains(t, string(data), "timeout_ms")
}

func TestEncodeRejectsMissingRequired(t *testing.T) {
	tests := []struct {
		name string
		m    Message
	}{
		{"no from", Message{To: "b", Timestamp: 1, Kind: KindTask, Content: "x"}},
		{"no to", Message{From: "a", Timestamp: 1, Kind: KindTask, Content: "x"}},
		{"no kind", Message{From: "a", To: "b", Timestamp: 1, Content: "x"}},
		{"no timestamp", Message{From: "a", To: "b", Kind: KindTask, Content: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.m)
			require.Error(t, err)
		})
	}
}

func TestDecodeStrictOnRequired(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"missing from", `{"to":"b","timestamp":1,"type":"task","content":"x"}`},
		{"missing to", `{"from":"a","timestamp":1,"type":"task","content":"x"}`},
		{"missing timestamp", `{"from":"a","to":"b","type":"task","content":"x"}`},
		{"missing type", `{"from":"a","to":"b","timestamp":1,"content":"x"}`},
		{"missing content", `{"from":"a","to":"b","timestamp":1,"type":"task"}`},
		{"not json", `{"from":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.in))
			require.Error(t, err)
			require.True(t, fault.IsKind(err, fault.Format) || fault.KindOf(err) == fault.NullArg)
		})
	}
}

func TestDecodeToleratesUnknownFields(t *testing.T) {
	in := `{"from":"a","to":"b","timestamp":9,"type":"status","content":"ok",` +
		`"shard":"eu-1","hops":3}`

	m, err := Decode([]byte(in))
	require.NoError(t, err)
	require.Equal(t, "a", m.From)
	require.Equal(t, KindStatus, m.Kind)
	require.Equal(t, int64(9), m.Timestamp)
}

func TestDecodeNormalizesEmptyMetadata(t *testing.T) {
	in := `{"from":"a","to":"b","timestamp":9,"type":"status","content":"ok","metadata":{}}`

	m, err := Decode([]byte(in))
	require.NoError(t, err)
	require.Nil(t, m.Metadata)
}

func TestRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := Message{
			From:      rapid.StringMatching(`[a-z]{1,8}`).Draw(t, "from"),
			To:        rapid.StringMatching(`[a-z]{1,8}`).Draw(t, "to"),
			Timestamp: rapid.Int64Range(1, 1<<40).Draw(t, "ts"),
			Kind:      Kind(rapid.SampledFrom([]string{"task", "query", "response", "status"}).Draw(t, "kind")),
			Content:   rapid.String().Draw(t, "content"),
			ThreadID:  rapid.SampledFrom([]string{"", "thr-1"}).Draw(t, "thread"),
		}
		if rapid.Bool().Draw(t, "withMeta") {
			m.Metadata = &Metadata{
				Priority:  rapid.SampledFrom([]string{"", "low", "high"}).Draw(t, "prio"),
				TimeoutMS: rapid.Int64Range(0, 60000).Draw(t, "timeout"),
			}
		}

		data, err := Encode(m)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		got, err := Decode(data)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}

		want := m
		if want.Metadata.empty() {
			want.Metadata = nil
		}
		if got.From != want.From || got.To != want.To || got.Timestamp != want.Timestamp ||
			got.Kind != want.Kind || got.Content != want.Content || got.ThreadID != want.ThreadID {
			t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
		}
		if (got.Metadata == nil) != (want.Metadata == nil) {
			t.Fatalf("metadata presence mismatch: got %+v want %+v", got.Metadata, want.Metadata)
		}
		if got.Metadata != nil && *got.Metadata != *want.Metadata {
			t.Fatalf("metadata mismatch: got %+v want %+v", *got.Metadata, *want.Metadata)
		}
	})
}
