package nostr_test

import (
	"testing"

	"github.com/asmogo/gonostrpool/nostr"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	cases := map[string]string{
		"wss://Relay.Example.com":       "wss://relay.example.com/",
		"wss://relay.example.com:443":   "wss://relay.example.com/",
		"ws://relay.example.com:80":     "ws://relay.example.com/",
		"wss://relay.example.com:4433/": "wss://relay.example.com:4433/",
		"relay.example.com":             "wss://relay.example.com/",
		"wss://relay.example.com/path":  "wss://relay.example.com/path",
	}
	for in, want := range cases {
		got, err := nostr.NormalizeURL(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
}

func TestNormalizeURLIdempotent(t *testing.T) {
	first, err := nostr.NormalizeURL("wss://Relay.Example.com:443/")
	require.NoError(t, err)
	second, err := nostr.NormalizeURL(first)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestNormalizeURLRejectsBadScheme(t *testing.T) {
	_, err := nostr.NormalizeURL("https://relay.example.com")
	require.ErrorIs(t, err, nostr.ErrUnsupportedScheme)
}

func TestNormalizeURLRejectsEmpty(t *testing.T) {
	_, err := nostr.NormalizeURL("   ")
	require.ErrorIs(t, err, nostr.ErrEmptyURL)
}
