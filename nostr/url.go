package nostr

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

var (
	ErrEmptyURL        = errors.New("nostr: relay url is empty")
	ErrUnsupportedScheme = errors.New("nostr: relay url scheme must be ws or wss")
)

// NormalizeURL canonicalises a relay URL per spec §6.4: scheme must be ws
// or wss, host is lowercased (punycode-folded for IDN hosts, following the
// teacher's idna-based domain handling), the default port for the scheme
// is stripped, and an empty path becomes "/". Two URLs are equal iff their
// normalised forms are byte-equal.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrEmptyURL
	}
	if !strings.Contains(raw, "://") {
		raw = "wss://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("nostr: parse relay url: %w", err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "ws" && scheme != "wss" {
		return "", ErrUnsupportedScheme
	}
	u.Scheme = scheme

	host := strings.ToLower(u.Hostname())
	if asciiHost, err := idna.ToASCII(host); err == nil {
		host = asciiHost
	}

	port := u.Port()
	defaultPort := "443"
	if scheme == "ws" {
		defaultPort = "80"
	}
	if port != "" && port != defaultPort {
		u.Host = host + ":" + port
	} else {
		u.Host = host
	}

	if u.Path == "" {
		u.Path = "/"
	}
	u.Fragment = ""

	return u.String(), nil
}

// MustNormalizeURL is NormalizeURL for call sites that have already
// validated the URL (e.g. loaded from trusted config) and want to panic
// loudly on a logic error rather than propagate one.
func MustNormalizeURL(raw string) string {
	n, err := NormalizeURL(raw)
	if err != nil {
		panic(err)
	}
	return n
}
