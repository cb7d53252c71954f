package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gyaneshwarpardhi/audience/internal/campaign"
	"github.com/gyaneshwarpardhi/audience/internal/delivery"
)

const recordColumns = `campaign_id, customer_id, state, attempts, last_error, message, next_attempt_at, updated_at`

func scanRecord(row scanner) (delivery.Record, error) {
	var (
		r         delivery.Record
		state     string
		next      sql.NullInt64
		updatedAt int64
	)
	if err := row.Scan(&r.CampaignID, &r.CustomerID, &state, &r.Attempts, &r.LastError, &r.Message, &next, &updatedAt); err != nil {
		return delivery.Record{}, err
	}
	r.State = delivery.State(state)
	r.NextAttemptAt = timePtr(next)
	r.UpdatedAt = fromMillis(updatedAt)
	return r, nil
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]delivery.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []delivery.Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ListDeliveries(ctx context.Context, campaignID string) ([]delivery.Record, error) {
	recs, err := s.queryRecords(ctx,
		`SELECT `+recordColumns+` FROM delivery_records WHERE campaign_id = ? ORDER BY customer_id`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	return recs, nil
}

func (s *Store) PendingRecords(ctx context.Context, campaignID string) ([]delivery.Record, error) {
	recs, err := s.queryRecords(ctx,
		`SELECT `+recordColumns+` FROM delivery_records
		 WHERE campaign_id = ? AND state = ? ORDER BY customer_id`,
		campaignID, string(delivery.StatePending))
	if err != nil {
		return nil, fmt.Errorf("pending records: %w", err)
	}
	return recs, nil
}

// ClaimRecord is the compare-and-set that gives one worker ownership of a record.
func (s *Store) ClaimRecord(ctx context.Context, campaignID, customerID string, at time.Time) (delivery.Record, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE delivery_records SET state = ?, updated_at = ?
		 WHERE campaign_id = ? AND customer_id = ? AND state = ?
		 RETURNING `+recordColumns,
		string(delivery.StateInFlight), toMillis(at), campaignID, customerID, string(delivery.StatePending),
	)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return delivery.Record{}, false, nil
	}
	if err != nil {
		return delivery.Record{}, false, fmt.Errorf("claim record: %w", err)
	}
	return r, true, nil
}

func (s *Store) fromInFlight(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) CompleteRecord(ctx context.Context, campaignID, customerID string, at time.Time) (bool, error) {
	ok, err := s.fromInFlight(ctx,
		`UPDATE delivery_records SET state = ?, next_attempt_at = NULL, updated_at = ?
		 WHERE campaign_id = ? AND customer_id = ? AND state = ?`,
		string(delivery.StateDelivered), toMillis(at), campaignID, customerID, string(delivery.StateInFlight))
	if err != nil {
		return false, fmt.Errorf("complete record: %w", err)
	}
	return ok, nil
}

func (s *Store) RetryRecord(ctx context.Context, campaignID, customerID string, attempts int, lastErr string, next, at time.Time) error {
	_, err := s.fromInFlight(ctx,
		`UPDATE delivery_records SET state = ?, attempts = ?, last_error = ?, next_attempt_at = ?, updated_at = ?
		 WHERE campaign_id = ? AND customer_id = ? AND state = ?`,
		string(delivery.StatePending), attempts, lastErr, toMillis(next), toMillis(at),
		campaignID, customerID, string(delivery.StateInFlight))
	if err != nil {
		return fmt.Errorf("retry record: %w", err)
	}
	return nil
}

func (s *Store) FailRecord(ctx context.Context, campaignID, customerID string, attempts int, lastErr string, at time.Time) (bool, error) {
	ok, err := s.fromInFlight(ctx,
		`UPDATE delivery_records SET state = ?, attempts = ?, last_error = ?, next_attempt_at = NULL, updated_at = ?
		 WHERE campaign_id = ? AND customer_id = ? AND state = ?`,
		string(delivery.StateFailed), attempts, lastErr, toMillis(at),
		campaignID, customerID, string(delivery.StateInFlight))
	if err != nil {
		return false, fmt.Errorf("fail record: %w", err)
	}
	return ok, nil
}

// FinishCampaign closes a SENDING campaign once every record is terminal. Any FAILED
// record makes it PARTIAL_FAILURE.
func (s *Store) FinishCampaign(ctx context.Context, campaignID string, at time.Time) (string, bool, error) {
	var status string
	err := s.db.QueryRowContext(ctx,
		`UPDATE campaigns SET
		     status = CASE WHEN EXISTS (
		         SELECT 1 FROM delivery_records WHERE campaign_id = ?1 AND state = ?4
		     ) THEN ?5 ELSE ?6 END,
		     completed_at = ?2
		 WHERE id = ?1 AND status = ?3 AND NOT EXISTS (
		     SELECT 1 FROM delivery_records WHERE campaign_id = ?1 AND state IN (?7, ?8)
		 )
		 RETURNING status`,
		campaignID, toMillis(at), string(campaign.StatusSending),
		string(delivery.StateFailed), string(campaign.StatusPartialFailure), string(campaign.StatusSent),
		string(delivery.StatePending), string(delivery.StateInFlight),
	).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("finish campaign: %w", err)
	}
	return status, true, nil
}

func (s *Store) FailInFlight(ctx context.Context, reason string, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE delivery_records SET state = ?, last_error = ?, next_attempt_at = NULL, updated_at = ?
		 WHERE state = ?`,
		string(delivery.StateFailed), reason, toMillis(at), string(delivery.StateInFlight))
	if err != nil {
		return 0, fmt.Errorf("fail in-flight records: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) ResumeScheduled(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET status = ? WHERE status = ?`,
		string(campaign.StatusSending), string(campaign.StatusScheduled))
	if err != nil {
		return 0, fmt.Errorf("resume scheduled campaigns: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) SendingCampaigns(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM campaigns WHERE status = ? ORDER BY created_at`, string(campaign.StatusSending))
	if err != nil {
		return nil, fmt.Errorf("sending campaigns: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan campaign id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeliveryTotals recomputes dashboard totals from terminal records, archived campaigns
// included.
func (s *Store) DeliveryTotals(ctx context.Context) (delivery.Totals, error) {
	var t delivery.Totals
	err := s.db.QueryRowContext(ctx,
		`SELECT
		     COALESCE(SUM(CASE WHEN state = ? THEN 1 ELSE 0 END), 0),
		     COALESCE(SUM(CASE WHEN state = ? THEN 1 ELSE 0 END), 0)
		 FROM delivery_records`,
		string(delivery.StateDelivered), string(delivery.StateFailed),
	).Scan(&t.Sent, &t.Failed)
	if err != nil {
		return delivery.Totals{}, fmt.Errorf("delivery totals: %w", err)
	}
	return t, nil
}

var (
	_ delivery.Store = (*Store)(nil)
	_ campaign.Store = (*Store)(nil)
)
