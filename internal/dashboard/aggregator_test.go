package dashboard

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/audience/internal/delivery"
)

type fakeStore struct {
	customers, segments, campaigns int64
	totals                         delivery.Totals
	err                            error
}

func (f *fakeStore) CountCustomers(context.Context) (int64, error) { return f.customers, f.err }
func (f *fakeStore) CountSegments(context.Context) (int64, error)  { return f.segments, f.err }
func (f *fakeStore) CountCampaigns(context.Context) (int64, error) { return f.campaigns, f.err }
func (f *fakeStore) DeliveryTotals(context.Context) (delivery.Totals, error) {
	return f.totals, f.err
}

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client
}

func counterImpls(t *testing.T) map[string]Counters {
	return map[string]Counters{
		"memory": NewMemoryCounters(),
		"redis":  NewRedisCounters(setupTestRedis(t), "test:dashboard"),
	}
}

func TestCounters(t *testing.T) {
	ctx := context.Background()
	for name, c := range counterImpls(t) {
		t.Run(name, func(t *testing.T) {
			got, err := c.Get(ctx)
			require.NoError(t, err)
			assert.Equal(t, delivery.Totals{}, got)

			require.NoError(t, c.Incr(ctx, 3, 0))
			require.NoError(t, c.Incr(ctx, 0, 2))
			require.NoError(t, c.Incr(ctx, 1, 1))
			got, err = c.Get(ctx)
			require.NoError(t, err)
			assert.Equal(t, delivery.Totals{Sent: 4, Failed: 3}, got)

			require.NoError(t, c.Set(ctx, delivery.Totals{Sent: 10, Failed: 1}))
			got, err = c.Get(ctx)
			require.NoError(t, err)
			assert.Equal(t, delivery.Totals{Sent: 10, Failed: 1}, got)
		})
	}
}

func TestAggregator_SnapshotAndTally(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{customers: 7, segments: 2, campaigns: 3}
	agg := NewAggregator(store, NewMemoryCounters(), nil)

	require.NoError(t, agg.AddSent(ctx, 1))
	require.NoError(t, agg.AddSent(ctx, 1))
	require.NoError(t, agg.AddFailed(ctx, 1))

	snap, err := agg.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, Snapshot{Customers: 7, Segments: 2, Campaigns: 3, MessagesSent: 2, MessagesFailed: 1}, snap)
}

func TestAggregator_ReconcileAndRebuild(t *testing.T) {
	ctx := context.Background()
	for name, c := range counterImpls(t) {
		t.Run(name, func(t *testing.T) {
			store := &fakeStore{totals: delivery.Totals{Sent: 5, Failed: 2}}
			agg := NewAggregator(store, c, nil)
			require.NoError(t, agg.AddSent(ctx, 4))

			rep, err := agg.Reconcile(ctx)
			require.NoError(t, err)
			assert.False(t, rep.Consistent)
			assert.Equal(t, delivery.Totals{Sent: 4}, rep.Cached)
			assert.Equal(t, store.totals, rep.Recomputed)

			_, err = agg.Rebuild(ctx)
			require.NoError(t, err)
			rep, err = agg.Reconcile(ctx)
			require.NoError(t, err)
			assert.True(t, rep.Consistent)
		})
	}
}

func TestAggregator_StoreError(t *testing.T) {
	boom := errors.New("disk gone")
	agg := NewAggregator(&fakeStore{err: boom}, NewMemoryCounters(), nil)
	_, err := agg.Snapshot(context.Background())
	assert.ErrorIs(t, err, boom)
	_, err = agg.Reconcile(context.Background())
	assert.ErrorIs(t, err, boom)
}
