package delivery

import (
	"math/rand"
	"time"
)

type BackoffConfig struct {
	BaseDelay time.Duration // e.g. 500ms
	MaxDelay  time.Duration // e.g. 30s
}

func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  30 * time.Second,
	}
}

// NextRetryAt computes the next retry time using exponential backoff with full jitter.
// attempt is 1-based (1 => BaseDelay).
func NextRetryAt(now time.Time, attempt int, cfg BackoffConfig, rng *rand.Rand) time.Time {
	if attempt < 1 {
		attempt = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBackoff().BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultBackoff().MaxDelay
	}

	// exponential: base * 2^(attempt-1), guarding the shift against overflow
	delay := cfg.MaxDelay
	if attempt < 32 {
		if d := cfg.BaseDelay << (attempt - 1); d > 0 && d < cfg.MaxDelay {
			delay = d
		}
	}

	// full jitter: random in [0, delay]
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	jitter := time.Duration(rng.Int63n(int64(delay) + 1))

	return now.Add(jitter).UTC()
}
