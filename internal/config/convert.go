package config

import "github.com/danmuck/setl/internal/protocol/session"

// toFile renders cfg in the TOML layout.
func toFile(cfg Config) fileConfig {
	return fileConfig{
		Workers:      cfg.Workers,
		SearchMargin: cfg.SearchMargin,
		Transport:    cfg.Transport,
		Rank:         cfg.Rank,
		Peers:        append([]string{}, cfg.Peers...),
		MonitorAddr:  cfg.MonitorAddr,
		CorsOrigins:  append([]string{}, cfg.CorsOrigins...),
		Session:      toFileSession(cfg.Session),
	}
}

func toFileSession(s session.Config) fileSessionConfig {
	return fileSessionConfig{
		ConnectTimeout:     s.ConnectTimeout.String(),
		HandshakeTimeout:   s.HandshakeTimeout.String(),
		MaxConnectAttempts: s.MaxConnectAttempts,
		BackoffInitial:     s.Backoff.InitialDelay.String(),
		BackoffMax:         s.Backoff.MaxDelay.String(),
		BackoffMultiplier:  s.Backoff.Multiplier,
		BackoffJitter:      s.Backoff.Jitter,
	}
}
