// Package message defines the inter-CI message type and its canonical
// JSON wire form. Required fields are always emitted; optional fields only
// when set; metadata is omitted entirely when both of its sub-fields are
// absent. Decoding is strict on required fields and tolerant of unknown
// ones, so newer peers can extend the envelope without breaking older
// readers.
package message

import (
	"encoding/json"
	"time"

	"github.com/parleyhq/parley/internal/fault"
)

// Kind classifies a message. The set is open; these are the kinds the
// runtime itself sends.
type Kind string

const (
	KindTask      Kind = "task"
	KindQuery     Kind = "query"
	KindResponse  Kind = "response"
	KindStatus    Kind = "status"
	KindBroadcast Kind = "broadcast"
	KindHeartbeat Kind = "heartbeat"
	KindError     Kind = "error"
)

// Metadata carries optional delivery hints.
type Metadata struct {
	Priority  string `json:"priority,omitempty"`
	TimeoutMS int64  `json:"timeout_ms,omitempty"`
}

func (m *Metadata) empty() bool {
	return m == nil || (m.Priority == "" && m.TimeoutMS == 0)
}

// Message is one inter-CI envelope. Field order matches the canonical
// wire form.
type Message struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Timestamp int64     `json:"timestamp"`
	Kind      Kind      `json:"type"`
	Content   string    `json:"content"`
	ThreadID  string    `json:"thread_id,omitempty"`
	Metadata  *Metadata `json:"metadata,omitempty"`
}

// New builds a message stamped with the current time.
func New(from, to string, kind Kind, content string) Message {
	return Message{
		From:      from,
		To:        to,
		Timestamp: time.Now().Unix(),
		Kind:      kind,
		Content:   content,
	}
}

// Validate checks the required fields.
func (m Message) Validate() error {
	const op = "message.Validate"

	switch {
	case m.From == "":
		return fault.New(fault.NullArg, op, "empty from")
	case m.To == "":
		return fault.New(fault.NullArg, op, "empty to")
	case m.Kind == "":
		return fault.New(fault.NullArg, op, "empty type")
	case m.Timestamp <= 0:
		return fault.Errorf(fault.InvalidValue, op, "timestamp %d not set", m.Timestamp)
	}
	return nil
}

// Encode serializes the message in canonical form.
func Encode(m Message) ([]byte, error) {
	const op = "message.Encode"

	if err := m.Validate(); err != nil {
		return nil, err
	}
	if m.Metadata.empty() {
		m.Metadata = nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fault.Wrap(fault.Format, op, err)
	}
	return data, nil
}

// wireMessage detects presence of required fields during decoding.
type wireMessage struct {
	From      *string   `json:"from"`
	To        *string   `json:"to"`
	Timestamp *int64    `json:"timestamp"`
	Kind      *string   `json:"type"`
	Content   *string   `json:"content"`
	ThreadID  string    `json:"thread_id"`
	Metadata  *Metadata `json:"metadata"`
}

// Decode parses a canonical message. Missing required fields are a format
// error; unknown fields are ignored.
func Decode(data []byte) (Message, error) {
	const op = "message.Decode"

	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return Message{}, fault.Wrap(fault.Format, op, err)
	}

	switch {
	case w.From == nil:
		return Message{}, fault.New(fault.Format, op, "missing required field from")
	case w.To == nil:
		return Message{}, fault.New(fault.Format, op, "missing required field to")
	case w.Timestamp == nil:
		return Message{}, fault.New(fault.Format, op, "missing required field timestamp")
	case w.Kind == nil:
		return Message{}, fault.New(fault.Format, op, "missing required field type")
	case w.Content == nil:
		return Message{}, fault.New(fault.Format, op, "missing required field content")
	}

	m := Message{
		From:      *w.From,
		To:        *w.To,
		Timestamp: *w.Timestamp,
		Kind:      Kind(*w.Kind),
		Content:   *w.Content,
		ThreadID:  w.ThreadID,
		Metadata:  w.Metadata,
	}
	if m.Metadata.empty() {
		m.Metadata = nil
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}
