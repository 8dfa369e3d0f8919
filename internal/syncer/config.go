package syncer

import (
	"os"
	"strconv"
	"time"
)

// Config controls reconciliation behavior.
type Config struct {
	PullInterval  time.Duration // Periodic background pull cadence. Default 30s.
	PullDelay     time.Duration // Settle delay for pulls scheduled after create/delete. Default 500ms.
	PushAttempts  uint          // Bounded retry attempts per remote write in a push pass. Default 3.
	PushBaseDelay time.Duration // Base delay for exponential push backoff. Default 200ms.
	Enabled       bool          // Whether reconciliation runs at all. Default true.
}

// DefaultConfig returns the default sync configuration.
func DefaultConfig() *Config {
	return &Config{
		PullInterval:  30 * time.Second,
		PullDelay:     500 * time.Millisecond,
		PushAttempts:  3,
		PushBaseDelay: 200 * time.Millisecond,
		Enabled:       true,
	}
}

// ConfigFromEnv loads config from environment variables.
// PROMPTPILOT_SYNC_PULL_INTERVAL_SECONDS, PROMPTPILOT_SYNC_PULL_DELAY_MS,
// PROMPTPILOT_SYNC_PUSH_ATTEMPTS, PROMPTPILOT_SYNC_PUSH_BASE_DELAY_MS,
// PROMPTPILOT_SYNC_ENABLED
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()

	if v := os.Getenv("PROMPTPILOT_SYNC_PULL_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PullInterval = time.Duration(n) * time.Second
		}
	}

	if v := os.Getenv("PROMPTPILOT_SYNC_PULL_DELAY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.PullDelay = time.Duration(n) * time.Millisecond
		}
	}

	if v := os.Getenv("PROMPTPILOT_SYNC_PUSH_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PushAttempts = uint(n)
		}
	}

	if v := os.Getenv("PROMPTPILOT_SYNC_PUSH_BASE_DELAY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PushBaseDelay = time.Duration(n) * time.Millisecond
		}
	}

	if v := os.Getenv("PROMPTPILOT_SYNC_ENABLED"); v != "" {
		cfg.Enabled, _ = strconv.ParseBool(v)
	}

	return cfg
}
