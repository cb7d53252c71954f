package dashboard

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"github.com/gyaneshwarpardhi/audience/internal/delivery"
)

// Counters caches the running message totals. Increments must be atomic; Set replaces
// both totals at once.
type Counters interface {
	Incr(ctx context.Context, sent, failed int64) error
	Get(ctx context.Context) (delivery.Totals, error)
	Set(ctx context.Context, t delivery.Totals) error
}

// MemoryCounters keeps totals in process.
type MemoryCounters struct {
	sent   atomic.Int64
	failed atomic.Int64
}

func NewMemoryCounters() *MemoryCounters {
	return &MemoryCounters{}
}

func (m *MemoryCounters) Incr(_ context.Context, sent, failed int64) error {
	if sent != 0 {
		m.sent.Add(sent)
	}
	if failed != 0 {
		m.failed.Add(failed)
	}
	return nil
}

func (m *MemoryCounters) Get(_ context.Context) (delivery.Totals, error) {
	return delivery.Totals{Sent: m.sent.Load(), Failed: m.failed.Load()}, nil
}

func (m *MemoryCounters) Set(_ context.Context, t delivery.Totals) error {
	m.sent.Store(t.Sent)
	m.failed.Store(t.Failed)
	return nil
}

const (
	fieldSent   = "messagesSent"
	fieldFailed = "messagesFailed"
)

// RedisCounters keeps totals in one Redis hash so several processes can share them.
type RedisCounters struct {
	client *redis.Client
	key    string
}

// NewRedisCounters stores totals under key (default "audience:dashboard").
func NewRedisCounters(client *redis.Client, key string) *RedisCounters {
	if key == "" {
		key = "audience:dashboard"
	}
	return &RedisCounters{client: client, key: key}
}

func (r *RedisCounters) Incr(ctx context.Context, sent, failed int64) error {
	if sent == 0 && failed == 0 {
		return nil
	}
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if sent != 0 {
			p.HIncrBy(ctx, r.key, fieldSent, sent)
		}
		if failed != 0 {
			p.HIncrBy(ctx, r.key, fieldFailed, failed)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis incr %s: %w", r.key, err)
	}
	return nil
}

func (r *RedisCounters) Get(ctx context.Context) (delivery.Totals, error) {
	vals, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return delivery.Totals{}, fmt.Errorf("redis get %s: %w", r.key, err)
	}
	var t delivery.Totals
	if t.Sent, err = parseField(vals, fieldSent); err != nil {
		return delivery.Totals{}, err
	}
	if t.Failed, err = parseField(vals, fieldFailed); err != nil {
		return delivery.Totals{}, err
	}
	return t, nil
}

func (r *RedisCounters) Set(ctx context.Context, t delivery.Totals) error {
	err := r.client.HSet(ctx, r.key, fieldSent, t.Sent, fieldFailed, t.Failed).Err()
	if err != nil {
		return fmt.Errorf("redis set %s: %w", r.key, err)
	}
	return nil
}

func parseField(vals map[string]string, field string) (int64, error) {
	v, ok := vals[field]
	if !ok || v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", field, err)
	}
	return n, nil
}
