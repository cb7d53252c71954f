package delivery

import (
	"math/rand"
	"testing"
	"time"
)

func TestNextRetryAt_Bounds(t *testing.T) {
	cfg := BackoffConfig{BaseDelay: 500 * time.Millisecond, MaxDelay: 30 * time.Second}
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		attempt int
		max     time.Duration
	}{
		{0, 500 * time.Millisecond},
		{1, 500 * time.Millisecond},
		{2, time.Second},
		{4, 4 * time.Second},
		{7, 30 * time.Second}, // 32s capped
		{40, 30 * time.Second},
		{1 << 20, 30 * time.Second},
	}
	for _, tc := range tests {
		rng := rand.New(rand.NewSource(int64(tc.attempt)))
		for i := 0; i < 50; i++ {
			next := NextRetryAt(now, tc.attempt, cfg, rng)
			if next.Before(now) || next.After(now.Add(tc.max)) {
				t.Fatalf("attempt %d: delay %s outside [0, %s]", tc.attempt, next.Sub(now), tc.max)
			}
		}
	}
}

func TestNextRetryAt_Jitters(t *testing.T) {
	cfg := BackoffConfig{BaseDelay: time.Second, MaxDelay: time.Minute}
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	rng := rand.New(rand.NewSource(3))

	seen := map[time.Time]struct{}{}
	for i := 0; i < 20; i++ {
		seen[NextRetryAt(now, 5, cfg, rng)] = struct{}{}
	}
	if len(seen) < 2 {
		t.Fatal("expected jittered delays to differ")
	}
}

func TestNextRetryAt_DefaultsOnZeroConfig(t *testing.T) {
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	next := NextRetryAt(now, 1, BackoffConfig{}, rand.New(rand.NewSource(1)))
	if next.After(now.Add(DefaultBackoff().BaseDelay)) {
		t.Fatalf("zero config should fall back to defaults, got %s", next.Sub(now))
	}
}
