// Package config loads run settings for cmd/setl from TOML.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/setl/internal/partition"
	"github.com/danmuck/setl/internal/protocol/session"
)

const (
	TransportLocal = "local"
	TransportTCP   = "tcp"
)

// Config is the resolved run configuration.
type Config struct {
	Workers      int
	SearchMargin int
	Transport    string
	Rank         int
	Peers        []string
	MonitorAddr  string
	CorsOrigins  []string
	Session      session.Config
}

// fileConfig mirrors the TOML layout. Durations are Go duration strings.
type fileConfig struct {
	Workers      int               `toml:"workers"`
	SearchMargin int               `toml:"search_margin"`
	Transport    string            `toml:"transport"`
	Rank         int               `toml:"rank"`
	Peers        []string          `toml:"peers"`
	MonitorAddr  string            `toml:"monitor_addr"`
	CorsOrigins  []string          `toml:"cors_origins"`
	Session      fileSessionConfig `toml:"session"`
}

type fileSessionConfig struct {
	ConnectTimeout     string  `toml:"connect_timeout"`
	HandshakeTimeout   string  `toml:"handshake_timeout"`
	MaxConnectAttempts int     `toml:"max_connect_attempts"`
	BackoffInitial     string  `toml:"backoff_initial"`
	BackoffMax         string  `toml:"backoff_max"`
	BackoffMultiplier  float64 `toml:"backoff_multiplier"`
	BackoffJitter      bool    `toml:"backoff_jitter"`
}

func DefaultConfig() Config {
	return Config{
		Workers:      4,
		SearchMargin: partition.DeriveMargin,
		Transport:    TransportLocal,
		CorsOrigins:  []string{"http://localhost:3000"},
		Session:      session.DefaultConfig(),
	}
}

// Load overlays the keys present in path on DefaultConfig and validates
// the result.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("config %s: unknown key %q", path, undecoded[0].String())
	}

	if meta.IsDefined("workers") {
		cfg.Workers = raw.Workers
	}
	if meta.IsDefined("search_margin") {
		cfg.SearchMargin = raw.SearchMargin
	}
	if meta.IsDefined("transport") {
		cfg.Transport = strings.ToLower(strings.TrimSpace(raw.Transport))
	}
	if meta.IsDefined("rank") {
		cfg.Rank = raw.Rank
	}
	if meta.IsDefined("peers") {
		cfg.Peers = normalizeList(raw.Peers)
	}
	if meta.IsDefined("monitor_addr") {
		cfg.MonitorAddr = strings.TrimSpace(raw.MonitorAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeList(raw.CorsOrigins)
	}
	if err := applySession(&cfg.Session, raw.Session, meta); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func applySession(cfg *session.Config, raw fileSessionConfig, meta toml.MetaData) error {
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"connect_timeout", raw.ConnectTimeout, &cfg.ConnectTimeout},
		{"handshake_timeout", raw.HandshakeTimeout, &cfg.HandshakeTimeout},
		{"backoff_initial", raw.BackoffInitial, &cfg.Backoff.InitialDelay},
		{"backoff_max", raw.BackoffMax, &cfg.Backoff.MaxDelay},
	}
	for _, d := range durations {
		if !meta.IsDefined("session", d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return fmt.Errorf("parse session.%s: %w", d.key, err)
		}
		*d.dst = v
	}
	if meta.IsDefined("session", "max_connect_attempts") {
		cfg.MaxConnectAttempts = raw.MaxConnectAttempts
	}
	if meta.IsDefined("session", "backoff_multiplier") {
		cfg.Backoff.Multiplier = raw.BackoffMultiplier
	}
	if meta.IsDefined("session", "backoff_jitter") {
		cfg.Backoff.Jitter = raw.BackoffJitter
	}
	return nil
}

func (c Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.SearchMargin < 0 && c.SearchMargin != partition.DeriveMargin {
		return fmt.Errorf("search_margin must be >= 0 or %d to derive it, got %d", partition.DeriveMargin, c.SearchMargin)
	}
	switch c.Transport {
	case TransportLocal:
	case TransportTCP:
		if len(c.Peers) == 0 {
			return fmt.Errorf("tcp transport requires peers")
		}
		if c.Rank < 0 || c.Rank >= len(c.Peers) {
			return fmt.Errorf("rank %d outside peers list of %d", c.Rank, len(c.Peers))
		}
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	if c.Session.ConnectTimeout <= 0 || c.Session.HandshakeTimeout <= 0 {
		return fmt.Errorf("session timeouts must be positive")
	}
	if c.Session.MaxConnectAttempts < 1 {
		return fmt.Errorf("session.max_connect_attempts must be at least 1")
	}
	if c.Session.Backoff.Multiplier < 1 {
		return fmt.Errorf("session.backoff_multiplier must be >= 1")
	}
	return nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
