package segment_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/audience/internal/apperr"
	"github.com/gyaneshwarpardhi/audience/internal/rule"
	"github.com/gyaneshwarpardhi/audience/internal/segment"
	"github.com/gyaneshwarpardhi/audience/internal/storage/sqlite"
)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "audience.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var highSpenders = rule.MustNew(rule.Condition{Field: rule.FieldTotalSpend, Operator: rule.OpGt, Value: 5000})

func TestService_CreateGetListDelete(t *testing.T) {
	ctx := context.Background()
	svc := segment.NewService(openStore(t), nil)

	seg, err := svc.Create(ctx, "alice", "  High spenders ", highSpenders)
	require.NoError(t, err)
	assert.Equal(t, "High spenders", seg.Name)
	assert.NotEmpty(t, seg.ID)

	got, err := svc.Get(ctx, "alice", seg.ID)
	require.NoError(t, err)
	assert.Equal(t, seg.Rule, got.Rule)
	assert.Equal(t, seg.CreatedAt.UnixMilli(), got.CreatedAt.UnixMilli())

	_, err = svc.Get(ctx, "bob", seg.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	list, err := svc.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, svc.Delete(ctx, "alice", seg.ID))
	require.NoError(t, svc.Delete(ctx, "alice", seg.ID), "delete is idempotent")

	_, ok, err := svc.Lookup(ctx, seg.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestService_CreateRejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	svc := segment.NewService(openStore(t), nil)

	_, err := svc.Create(ctx, "alice", " ", highSpenders)
	assert.ErrorIs(t, err, apperr.ErrInvalidSegment)

	_, err = svc.Create(ctx, "alice", "empty", rule.Rule{})
	assert.ErrorIs(t, err, apperr.ErrInvalidRule)

	list, err := svc.List(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestService_DuplicateNamePerOwner(t *testing.T) {
	ctx := context.Background()
	svc := segment.NewService(openStore(t), nil)

	_, err := svc.Create(ctx, "alice", "VIP", highSpenders)
	require.NoError(t, err)
	_, err = svc.Create(ctx, "alice", "VIP", highSpenders)
	assert.ErrorIs(t, err, apperr.ErrDuplicateName)

	_, err = svc.Create(ctx, "bob", "VIP", highSpenders)
	assert.NoError(t, err, "names are scoped per owner")
}

func TestService_ConcurrentDuplicateCreate(t *testing.T) {
	ctx := context.Background()
	svc := segment.NewService(openStore(t), nil)

	const n = 16
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		successes  int
		duplicates int
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.Create(ctx, "alice", "Lapsed", highSpenders)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, apperr.ErrDuplicateName):
				duplicates++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, n-1, duplicates)
}

func TestEvaluator_StorageFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT .* FROM customers").WillReturnError(errors.New("disk I/O error"))

	e := segment.NewEvaluator(sqlite.New(db))
	_, err = e.Evaluate(context.Background(), highSpenders, time.Now())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrEvaluation)
	assert.NoError(t, mock.ExpectationsWereMet())
}
