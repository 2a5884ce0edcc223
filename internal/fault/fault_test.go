package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorString(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "message only",
			err:  New(QueueFull, "registry.AddCI", "registry full"),
			want: "registry.AddCI: registry full",
		},
		{
			name: "wrapped cause only",
			err:  Wrap(IO, "digest.SaveFile", errors.New("disk gone")),
			want: "digest.SaveFile: disk gone",
		},
		{
			name: "message and cause",
			err:  &Error{Kind: File, Op: "archive.Open", Msg: "opening store", Err: errors.New("denied")},
			want: "archive.Open: opening store: denied",
		},
		{
			name: "kind fallback",
			err:  &Error{Kind: Timeout, Op: "bus.Request"},
			want: "bus.Request: timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	base := New(HTTPRateLimit, "httpjson.PostJSON", "status 429")
	wrapped := fmt.Errorf("querying provider: %w", base)

	if got := KindOf(wrapped); got != HTTPRateLimit {
		t.Errorf("KindOf(wrapped) = %q, want %q", got, HTTPRateLimit)
	}
	if got := KindOf(errors.New("plain")); got != Unknown {
		t.Errorf("KindOf(plain) = %q, want Unknown", got)
	}
	if !IsKind(wrapped, HTTPRateLimit) {
		t.Error("IsKind(wrapped, HTTPRateLimit) = false, want true")
	}
	if IsKind(wrapped, Timeout) {
		t.Error("IsKind(wrapped, Timeout) = true, want false")
	}
}

func TestErrorsIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(QueueFull, "bus.Submit", "pending table full"))

	if !errors.Is(err, &Error{Kind: QueueFull}) {
		t.Error("errors.Is should match on kind alone")
	}
	if errors.Is(err, &Error{Kind: QueueFull, Op: "other.Op"}) {
		t.Error("errors.Is should not match a different op")
	}
	if !errors.Is(err, &Error{Kind: QueueFull, Op: "bus.Submit"}) {
		t.Error("errors.Is should match kind plus op")
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("connect refused")
	err := Wrap(Socket, "ollama.Connect", cause)

	if !errors.Is(err, cause) {
		t.Error("wrapped cause should be reachable via errors.Is")
	}
}
