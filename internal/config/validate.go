package config

import (
	"fmt"
	"strings"

	"github.com/sells-group/mops-cli/internal/listing"
	"github.com/sells-group/mops-cli/internal/model"
)

// Command modes that Validate understands.
const (
	ModeFetch   = "fetch"
	ModeBatch   = "batch"
	ModeServe   = "serve"
	ModeHistory = "history"
	ModeRules   = "rules"
)

// Validate checks the settings a command needs and reports every problem at
// once as a configuration error.
func (c *Config) Validate(mode string) error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	switch mode {
	case ModeFetch, ModeBatch, ModeServe, ModeHistory, ModeRules:
	default:
		return model.Errorf(model.ErrConfiguration, "config: unknown mode %q", mode)
	}

	if _, err := c.RuleTable(); err != nil {
		add("rules: %v", err)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		add("log.format must be json or console, got %q", c.Log.Format)
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
		if c.Store.DatabaseURL == "" {
			add("store.database_url is required for driver %s", c.Store.Driver)
		}
	case "none":
		if mode == ModeHistory {
			add("history needs a store driver other than none")
		}
	default:
		add("store.driver must be sqlite, postgres or none, got %q", c.Store.Driver)
	}

	if mode == ModeFetch || mode == ModeBatch || mode == ModeServe {
		c.validateDownload(add)
	}
	if mode == ModeServe && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		add("server.port must be > 0 and <= 65535")
	}

	if len(errs) > 0 {
		return model.Errorf(model.ErrConfiguration, "config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateDownload(add func(string, ...any)) {
	p, d := c.Portal, c.Download
	if p.BaseURL == "" {
		add("portal.base_url is required")
	}
	if p.DocBaseURL == "" {
		add("portal.doc_base_url is required")
	}
	if len(p.Encodings) == 0 {
		add("portal.encodings must not be empty")
	} else if err := listing.CheckEncodings(p.Encodings); err != nil {
		add("portal.encodings: %v", err)
	}
	if p.MaxInvalidRatio < 0 || p.MaxInvalidRatio >= 1 {
		add("portal.max_invalid_ratio must be in [0, 1)")
	}
	if d.Dir == "" {
		add("download.dir is required")
	}
	if d.MaxRetries <= 0 {
		add("download.max_retries must be > 0")
	}
	if d.TimeoutSecs <= 0 {
		add("download.timeout_secs must be > 0")
	}
	if d.RateLimitMs < 0 {
		add("download.rate_limit_ms must be >= 0")
	}
	if d.MinValidBytes <= 0 {
		add("download.min_valid_bytes must be > 0")
	}
	if d.ChunkSize <= 0 {
		add("download.chunk_size must be > 0")
	}
	if d.BackoffInitialMs < 0 || d.BackoffMaxMs < d.BackoffInitialMs {
		add("download.backoff_initial_ms must be >= 0 and <= backoff_max_ms")
	}
	if d.JitterFraction < 0 || d.JitterFraction > 1 {
		add("download.jitter_fraction must be between 0 and 1")
	}
}
