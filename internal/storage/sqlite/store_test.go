package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/audience/internal/apperr"
	"github.com/gyaneshwarpardhi/audience/internal/campaign"
	"github.com/gyaneshwarpardhi/audience/internal/customer"
	"github.com/gyaneshwarpardhi/audience/internal/delivery"
)

func openTempStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "audience.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), " ")
	assert.Error(t, err)
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audience.db")
	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestUpSection(t *testing.T) {
	assert.Equal(t, "\nCREATE TABLE a;\n", upSection("-- +migrate Up\nCREATE TABLE a;\n-- +migrate Down\nDROP TABLE a;"))
	assert.Equal(t, "CREATE TABLE b;", upSection("CREATE TABLE b;"))
}

func TestCustomers(t *testing.T) {
	ctx := context.Background()
	s := openTempStore(t)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	for _, c := range []customer.Customer{
		{ID: "b", Name: "Bea", Email: "bea@example.com", TotalSpend: 10, Visits: 1, Tags: []string{"vip"}, CreatedAt: created},
		{ID: "a", Name: "Ash", Email: "ash@example.com", Tags: []string{}, CreatedAt: created},
	} {
		require.NoError(t, s.CreateCustomer(ctx, c))
	}
	err := s.CreateCustomer(ctx, customer.Customer{ID: "a", Name: "Dup", Email: "d@example.com", CreatedAt: created})
	assert.ErrorIs(t, err, apperr.ErrInvalidCustomer)

	list, err := s.ListCustomers(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID, "customers stream in id order")
	assert.Nil(t, list[0].LastActiveAt)
	assert.Equal(t, []string{"vip"}, list[1].Tags)
	assert.Equal(t, created, list[1].CreatedAt)

	at := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	got, err := s.RecordActivity(ctx, "a", at)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Visits)
	require.NotNil(t, got.LastActiveAt)
	assert.Equal(t, at, *got.LastActiveAt)

	_, err = s.RecordActivity(ctx, "missing", at)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	require.NoError(t, s.DeleteCustomer(ctx, "b"))
	_, err = s.GetCustomer(ctx, "b")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	n, err := s.CountCustomers(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func insertDraft(t *testing.T, s *Store, id string) {
	t.Helper()
	require.NoError(t, s.InsertCampaign(context.Background(), campaign.Campaign{
		ID: id, Owner: "o", Name: id, SegmentID: "seg", MessageTemplate: "hi",
		Status: campaign.StatusDraft, CreatedAt: time.Now(),
	}))
}

func TestScheduleCampaign(t *testing.T) {
	ctx := context.Background()
	s := openTempStore(t)
	insertDraft(t, s, "c1")

	status, err := s.ScheduleCampaign(ctx, "c1", []delivery.Record{
		{CustomerID: "x", Message: "hi x"},
		{CustomerID: "y", Message: "hi y"},
	}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, campaign.StatusScheduled, status)

	stats, err := s.CampaignStats(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, delivery.Stats{Total: 2, Pending: 2}, stats)

	_, err = s.ScheduleCampaign(ctx, "c1", nil, time.Now())
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition, "only a draft can be scheduled")
}

func TestScheduleCampaign_EmptyAudienceIsSent(t *testing.T) {
	ctx := context.Background()
	s := openTempStore(t)
	insertDraft(t, s, "c1")

	status, err := s.ScheduleCampaign(ctx, "c1", nil, time.Now())
	require.NoError(t, err)
	assert.Equal(t, campaign.StatusSent, status)

	c, err := s.GetCampaign(ctx, "o", "c1")
	require.NoError(t, err)
	assert.Equal(t, campaign.StatusSent, c.Status)
	assert.NotNil(t, c.CompletedAt)
}

func TestScheduleCampaign_RollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	s := openTempStore(t)
	insertDraft(t, s, "c1")

	// The duplicate customer violates the record primary key mid-transaction.
	_, err := s.ScheduleCampaign(ctx, "c1", []delivery.Record{
		{CustomerID: "x", Message: "hi"},
		{CustomerID: "x", Message: "hi again"},
	}, time.Now())
	require.Error(t, err)

	c, err := s.GetCampaign(ctx, "o", "c1")
	require.NoError(t, err)
	assert.Equal(t, campaign.StatusDraft, c.Status)
	assert.Nil(t, c.LaunchedAt)
	recs, err := s.ListDeliveries(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestScheduleCampaign_RollbackWithMock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE campaigns SET status").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectPrepare("INSERT INTO delivery_records").
		ExpectExec().WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err = New(db).ScheduleCampaign(context.Background(), "c1",
		[]delivery.Record{{CustomerID: "x", Message: "hi"}}, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimIsExclusive(t *testing.T) {
	ctx := context.Background()
	s := openTempStore(t)
	insertDraft(t, s, "c1")
	_, err := s.ScheduleCampaign(ctx, "c1", []delivery.Record{{CustomerID: "x", Message: "hi x"}}, time.Now())
	require.NoError(t, err)

	rec, ok, err := s.ClaimRecord(ctx, "c1", "x", time.Now())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, delivery.StateInFlight, rec.State)
	assert.Equal(t, "hi x", rec.Message)

	_, ok, err = s.ClaimRecord(ctx, "c1", "x", time.Now())
	require.NoError(t, err)
	assert.False(t, ok, "a claimed record cannot be claimed again")

	done, err := s.CompleteRecord(ctx, "c1", "x", time.Now())
	require.NoError(t, err)
	assert.True(t, done)
	done, err = s.CompleteRecord(ctx, "c1", "x", time.Now())
	require.NoError(t, err)
	assert.False(t, done, "terminal at most once")

	failed, err := s.FailRecord(ctx, "c1", "x", 3, "late", time.Now())
	require.NoError(t, err)
	assert.False(t, failed)
}

func TestFinishCampaign(t *testing.T) {
	ctx := context.Background()
	s := openTempStore(t)
	insertDraft(t, s, "c1")
	_, err := s.ScheduleCampaign(ctx, "c1", []delivery.Record{
		{CustomerID: "x", Message: "m"}, {CustomerID: "y", Message: "m"},
	}, time.Now())
	require.NoError(t, err)
	ok, err := s.TransitionCampaign(ctx, "c1", campaign.StatusScheduled, campaign.StatusSending)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = s.ClaimRecord(ctx, "c1", "x", time.Now())
	require.NoError(t, err)
	require.True(t, ok)
	_, err = s.CompleteRecord(ctx, "c1", "x", time.Now())
	require.NoError(t, err)

	_, finished, err := s.FinishCampaign(ctx, "c1", time.Now())
	require.NoError(t, err)
	assert.False(t, finished, "y is still pending")

	_, ok, err = s.ClaimRecord(ctx, "c1", "y", time.Now())
	require.NoError(t, err)
	require.True(t, ok)
	_, err = s.FailRecord(ctx, "c1", "y", 3, "bounce", time.Now())
	require.NoError(t, err)

	status, finished, err := s.FinishCampaign(ctx, "c1", time.Now())
	require.NoError(t, err)
	assert.True(t, finished)
	assert.Equal(t, string(campaign.StatusPartialFailure), status)

	_, finished, err = s.FinishCampaign(ctx, "c1", time.Now())
	require.NoError(t, err)
	assert.False(t, finished, "finish happens once")

	totals, err := s.DeliveryTotals(ctx)
	require.NoError(t, err)
	assert.Equal(t, delivery.Totals{Sent: 1, Failed: 1}, totals)
}

func TestTransitionCampaign_RejectsUnknownEdges(t *testing.T) {
	ctx := context.Background()
	s := openTempStore(t)
	insertDraft(t, s, "c1")

	tests := []struct{ from, to campaign.Status }{
		{campaign.StatusDraft, campaign.StatusSending},
		{campaign.StatusSent, campaign.StatusSending},
		{campaign.StatusPartialFailure, campaign.StatusDraft},
		{campaign.StatusSending, campaign.StatusScheduled},
	}
	for _, tc := range tests {
		ok, err := s.TransitionCampaign(ctx, "c1", tc.from, tc.to)
		assert.ErrorIs(t, err, apperr.ErrInvalidTransition, "%s -> %s", tc.from, tc.to)
		assert.False(t, ok)
	}

	c, err := s.GetCampaign(ctx, "o", "c1")
	require.NoError(t, err)
	assert.Equal(t, campaign.StatusDraft, c.Status, "rejected edges write nothing")

	ok, err := s.TransitionCampaign(ctx, "c1", campaign.StatusScheduled, campaign.StatusSending)
	require.NoError(t, err)
	assert.False(t, ok, "allowed edge from a status the campaign is not in")
}

func TestArchiveCampaign(t *testing.T) {
	ctx := context.Background()
	s := openTempStore(t)
	insertDraft(t, s, "draft")
	insertDraft(t, s, "live")
	_, err := s.ScheduleCampaign(ctx, "live", []delivery.Record{{CustomerID: "x", Message: "m"}}, time.Now())
	require.NoError(t, err)

	require.NoError(t, s.ArchiveCampaign(ctx, "o", "draft", time.Now()))
	_, err = s.GetCampaign(ctx, "o", "draft")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	require.NoError(t, s.ArchiveCampaign(ctx, "o", "draft", time.Now()), "archive is idempotent")

	err = s.ArchiveCampaign(ctx, "o", "live", time.Now())
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	list, err := s.ListCampaigns(ctx, "o")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "live", list[0].ID)

	n, err := s.CountCampaigns(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
