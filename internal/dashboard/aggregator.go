// Package dashboard serves the UI's aggregate numbers: entity counts from the store and
// message totals from a counter cache that can always be rebuilt from delivery records.
package dashboard

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gyaneshwarpardhi/audience/internal/delivery"
)

// Store is the read side the aggregator needs.
type Store interface {
	CountCustomers(ctx context.Context) (int64, error)
	CountSegments(ctx context.Context) (int64, error)
	CountCampaigns(ctx context.Context) (int64, error)
	DeliveryTotals(ctx context.Context) (delivery.Totals, error)
}

// Snapshot is the /api/dashboard payload.
type Snapshot struct {
	Customers      int64 `json:"customers"`
	Segments       int64 `json:"segments"`
	Campaigns      int64 `json:"campaigns"`
	MessagesSent   int64 `json:"messagesSent"`
	MessagesFailed int64 `json:"messagesFailed"`
}

// Report compares the cached totals with a recount of terminal records.
type Report struct {
	Cached     delivery.Totals `json:"cached"`
	Recomputed delivery.Totals `json:"recomputed"`
	Consistent bool            `json:"consistent"`
}

// Aggregator implements delivery.Tally on top of a Counters cache.
type Aggregator struct {
	store    Store
	counters Counters
	logger   *slog.Logger
}

func NewAggregator(store Store, counters Counters, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{store: store, counters: counters, logger: logger}
}

func (a *Aggregator) AddSent(ctx context.Context, n int64) error {
	return a.counters.Incr(ctx, n, 0)
}

func (a *Aggregator) AddFailed(ctx context.Context, n int64) error {
	return a.counters.Incr(ctx, 0, n)
}

func (a *Aggregator) Snapshot(ctx context.Context) (Snapshot, error) {
	var (
		s   Snapshot
		err error
	)
	if s.Customers, err = a.store.CountCustomers(ctx); err != nil {
		return Snapshot{}, fmt.Errorf("count customers: %w", err)
	}
	if s.Segments, err = a.store.CountSegments(ctx); err != nil {
		return Snapshot{}, fmt.Errorf("count segments: %w", err)
	}
	if s.Campaigns, err = a.store.CountCampaigns(ctx); err != nil {
		return Snapshot{}, fmt.Errorf("count campaigns: %w", err)
	}
	totals, err := a.counters.Get(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read counters: %w", err)
	}
	s.MessagesSent, s.MessagesFailed = totals.Sent, totals.Failed
	return s, nil
}

func (a *Aggregator) Reconcile(ctx context.Context) (Report, error) {
	recomputed, err := a.store.DeliveryTotals(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("recompute totals: %w", err)
	}
	cached, err := a.counters.Get(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("read counters: %w", err)
	}
	r := Report{Cached: cached, Recomputed: recomputed, Consistent: cached == recomputed}
	if !r.Consistent {
		a.logger.Warn("dashboard counters drifted",
			"cached_sent", cached.Sent, "cached_failed", cached.Failed,
			"sent", recomputed.Sent, "failed", recomputed.Failed)
	}
	return r, nil
}

// Rebuild overwrites the cache with totals recomputed from delivery records.
func (a *Aggregator) Rebuild(ctx context.Context) (delivery.Totals, error) {
	t, err := a.store.DeliveryTotals(ctx)
	if err != nil {
		return delivery.Totals{}, fmt.Errorf("recompute totals: %w", err)
	}
	if err := a.counters.Set(ctx, t); err != nil {
		return delivery.Totals{}, fmt.Errorf("write counters: %w", err)
	}
	a.logger.Info("dashboard counters rebuilt", "sent", t.Sent, "failed", t.Failed)
	return t, nil
}

var _ delivery.Tally = (*Aggregator)(nil)
