package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the whole config and reports every problem at once.
func Validate(cfg *Config) error {
	var errs []string

	if strings.TrimSpace(cfg.Server.Addr) == "" {
		errs = append(errs, "server.addr is required")
	}
	if strings.TrimSpace(cfg.Storage.Path) == "" {
		errs = append(errs, "storage.path is required")
	}

	d := cfg.Dispatch
	if d.Workers < 1 {
		errs = append(errs, fmt.Sprintf("dispatch.workers must be >= 1, got %d", d.Workers))
	}
	if d.QueueDepth < 1 {
		errs = append(errs, fmt.Sprintf("dispatch.queue_depth must be >= 1, got %d", d.QueueDepth))
	}
	if d.MaxAttempts < 1 {
		errs = append(errs, fmt.Sprintf("dispatch.max_attempts must be >= 1, got %d", d.MaxAttempts))
	}
	if d.SendTimeoutMs < 1 {
		errs = append(errs, "dispatch.send_timeout_ms must be positive")
	}
	if d.BackoffBaseMs < 1 || d.BackoffMaxMs < 1 {
		errs = append(errs, "dispatch backoff delays must be positive")
	} else if d.BackoffBaseMs > d.BackoffMaxMs {
		errs = append(errs, fmt.Sprintf("dispatch.backoff_base_ms (%d) exceeds backoff_max_ms (%d)", d.BackoffBaseMs, d.BackoffMaxMs))
	}

	p := cfg.Preview
	if p.DefaultSampleSize < 0 || p.MaxSampleSize < 0 {
		errs = append(errs, "preview sample sizes must not be negative")
	} else if p.DefaultSampleSize > p.MaxSampleSize {
		errs = append(errs, fmt.Sprintf("preview.default_sample_size (%d) exceeds max_sample_size (%d)", p.DefaultSampleSize, p.MaxSampleSize))
	}

	s := cfg.Sender
	switch s.Kind {
	case "log":
	case "simulated":
		if s.FailureRate < 0 || s.FailureRate > 1 {
			errs = append(errs, fmt.Sprintf("sender.failure_rate must be within [0, 1], got %g", s.FailureRate))
		}
		if s.MaxLatencyMs < 0 {
			errs = append(errs, "sender.max_latency_ms must not be negative")
		}
	case "webhook":
		if u, err := url.Parse(s.URL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Sprintf("sender.url %q is not an absolute URL", s.URL))
		}
	default:
		errs = append(errs, fmt.Sprintf("sender.kind %q is not one of log, simulated, webhook", s.Kind))
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level %q is not one of debug, info, warn, error", cfg.Log.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
