package provider

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/internal/fault"
)

func TestNewUnknownType(t *testing.T) {
	_, err := New(Type("nonexistent"), Config{})
	require.Error(t, err)
	require.Equal(t, fault.NoProvider, fault.KindOf(err))
}

func TestRegisterAndLookup(t *testing.T) {
	const fake = Type("fake-backend")
	require.False(t, IsRegistered(fake))

	Register(fake, func(cfg Config) (Provider, error) {
		return nil, errors.New("factory reached")
	})
	t.Cleanup(func() { delete(registry, fake) })

	require.True(t, IsRegistered(fake))
	require.Contains(t, Registered(), fake)

	_, err := New(fake, Config{})
	require.EqualError(t, err, "factory reached")
}

func TestBaseSucceedDeliversOnce(t *testing.T) {
	var b Base
	var calls []Response
	b.Succeed(func(r Response) { calls = append(calls, r) }, "hello", "m1")

	require.Len(t, calls, 1)
	require.True(t, calls[0].Success)
	require.Equal(t, "hello", calls[0].Content)
	require.Equal(t, "m1", calls[0].ModelUsed)
	require.Equal(t, int64(1), b.Queries())
	require.Zero(t, b.Failures())
}

func TestBaseFailDeliversAndReturns(t *testing.T) {
	var b Base
	cause := fault.New(fault.HTTPRateLimit, "test", "slow down")

	var calls []Response
	err := b.Fail(func(r Response) { calls = append(calls, r) }, cause)
	require.ErrorIs(t, err, cause)

	require.Len(t, calls, 1)
	require.False(t, calls[0].Success)
	require.Equal(t, fault.HTTPRateLimit, calls[0].ErrKind)
	require.Equal(t, int64(1), b.Queries())
	require.Equal(t, int64(1), b.Failures())
}

func TestBaseNilCallbackStillCounts(t *testing.T) {
	var b Base
	b.Succeed(nil, "x", "m")
	_ = b.Fail(nil, errors.New("boom"))
	require.Equal(t, int64(2), b.Queries())
	require.Equal(t, int64(1), b.Failures())
}

type prefixDigest struct{ prefix string }

func (d prefixDigest) AugmentPrompt(p string) string { return d.prefix + p }

func TestBaseAugmentedPrompt(t *testing.T) {
	var b Base
	require.Equal(t, "hi", b.AugmentedPrompt("hi"))

	b.BindDigest(prefixDigest{prefix: "ctx: "})
	require.Equal(t, "ctx: hi", b.AugmentedPrompt("hi"))

	b.BindDigest(nil)
	require.Equal(t, "hi", b.AugmentedPrompt("hi"))
}

func TestConfigExtensionGetters(t *testing.T) {
	var c Config
	require.Empty(t, c.ExtensionString(ExtCLICommand))
	require.Zero(t, c.ExtensionInt(ExtOllamaPort))
	require.False(t, c.ExtensionBool(ExtCLIEcho))
	require.Nil(t, c.ExtensionStrings(ExtCLIArgs))
	require.Zero(t, c.ExtensionDuration(ExtBridgePoll))

	c.SetExtension(ExtCLICommand, "claude")
	c.SetExtension(ExtOllamaPort, 11435)
	c.SetExtension(ExtCLIEcho, true)
	c.SetExtension(ExtCLIArgs, []string{"-p"})
	c.SetExtension(ExtBridgePoll, 250*time.Millisecond)

	require.Equal(t, "claude", c.ExtensionString(ExtCLICommand))
	require.Equal(t, 11435, c.ExtensionInt(ExtOllamaPort))
	require.True(t, c.ExtensionBool(ExtCLIEcho))
	require.Equal(t, []string{"-p"}, c.ExtensionStrings(ExtCLIArgs))
	require.Equal(t, 250*time.Millisecond, c.ExtensionDuration(ExtBridgePoll))

	// Wrong dynamic type degrades to the zero value.
	c.SetExtension(ExtOllamaPort, "not-an-int")
	require.Zero(t, c.ExtensionInt(ExtOllamaPort))
}
