// Package config loads pool/relay/CLI configuration from the
// environment, exactly the way the teacher's config package loads
// entry/exit node configuration: a .env file if present, falling back
// to OS environment variables, via caarlos0/env + joho/godotenv.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// DefaultRelays seeds a pool when NOSTR_RELAYS isn't set, the same role
// config.DefaultRelays played for the teacher's entry/exit nodes.
var DefaultRelays = []string{
	"wss://relay.damus.io",
	"wss://relay.nostr.band",
	"wss://nos.lol",
}

// Config is the environment-driven configuration for gossipctl and any
// other program wiring up a pool.Pool + gossip.Graph (spec §1/§4.2):
// relay seeds, an optional signing key, log setup, and the pool/relay
// tunables that would otherwise need to be hardcoded.
type Config struct {
	NostrRelays     []string `env:"NOSTR_RELAYS" envSeparator:";"`
	NostrPrivateKey string   `env:"NOSTR_PRIVATE_KEY"`

	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	MaxRelays      int           `env:"MAX_RELAYS" envDefault:"0"`
	ConnectTimeout time.Duration `env:"CONNECT_TIMEOUT" envDefault:"15s"`
	OKTimeout      time.Duration `env:"OK_TIMEOUT" envDefault:"30s"`
	PingInterval   time.Duration `env:"PING_INTERVAL" envDefault:"25s"`
	IdleTimeout    time.Duration `env:"IDLE_TIMEOUT" envDefault:"10m"`
}

// LoadConfig loads the and marshal Configuration from .env file from the
// UserHomeDir if this file was not found, fallback to the os environment
// variables.
func LoadConfig[T any]() (*T, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		slog.Error("error loading home directory", "err", err)
	}
	if _, err := os.Stat(homeDir + "/.env"); err == nil {
		return loadFromEnv[T](homeDir + "/.env")
	} else if _, err := os.Stat(".env"); err == nil {
		return loadFromEnv[T]("")
	}
	return loadFromEnv[T]("")
}

// loadFromEnv loads the configuration from the specified .env file path.
// If the path is empty, no .env file is loaded and the configuration is
// parsed from the process environment alone.
func loadFromEnv[T any](path string) (*T, error) {
	if err := godotenv.Load(path); err != nil {
		cfg, err := env.ParseAs[T]()
		if err != nil {
			return nil, fmt.Errorf("config: parse env: %w", err)
		}
		return &cfg, nil
	}
	cfg, err := env.ParseAs[T]()
	if err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	return &cfg, nil
}
