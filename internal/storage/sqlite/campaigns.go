package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gyaneshwarpardhi/audience/internal/apperr"
	"github.com/gyaneshwarpardhi/audience/internal/campaign"
	"github.com/gyaneshwarpardhi/audience/internal/delivery"
)

const campaignColumns = `id, owner, name, segment_id, message_template, status, created_at, launched_at, completed_at`

func scanCampaign(row scanner) (campaign.Campaign, error) {
	var (
		c                     campaign.Campaign
		status                string
		createdAt             int64
		launchedAt, completed sql.NullInt64
	)
	if err := row.Scan(&c.ID, &c.Owner, &c.Name, &c.SegmentID, &c.MessageTemplate, &status, &createdAt, &launchedAt, &completed); err != nil {
		return campaign.Campaign{}, err
	}
	c.Status = campaign.Status(status)
	c.CreatedAt = fromMillis(createdAt)
	c.LaunchedAt = timePtr(launchedAt)
	c.CompletedAt = timePtr(completed)
	return c, nil
}

func (s *Store) InsertCampaign(ctx context.Context, c campaign.Campaign) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO campaigns (`+campaignColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Owner, c.Name, c.SegmentID, c.MessageTemplate, string(c.Status),
		toMillis(c.CreatedAt), nullMillis(c.LaunchedAt), nullMillis(c.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert campaign: %w", err)
	}
	return nil
}

// GetCampaign hides archived campaigns.
func (s *Store) GetCampaign(ctx context.Context, owner, id string) (campaign.Campaign, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns WHERE owner = ? AND id = ? AND archived_at IS NULL`, owner, id)
	c, err := scanCampaign(row)
	if errors.Is(err, sql.ErrNoRows) {
		return campaign.Campaign{}, fmt.Errorf("campaign %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return campaign.Campaign{}, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (s *Store) ListCampaigns(ctx context.Context, owner string) ([]campaign.Campaign, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+campaignColumns+` FROM campaigns
		 WHERE owner = ? AND archived_at IS NULL
		 ORDER BY created_at DESC, id`, owner)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	out := []campaign.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate campaigns: %w", err)
	}
	return out, nil
}

// ScheduleCampaign flips the campaign out of DRAFT and writes its records atomically;
// on any error nothing is persisted.
func (s *Store) ScheduleCampaign(ctx context.Context, id string, records []delivery.Record, at time.Time) (campaign.Status, error) {
	next := campaign.StatusScheduled
	completed := sql.NullInt64{}
	if len(records) == 0 {
		next = campaign.StatusSent
		completed = sql.NullInt64{Int64: toMillis(at), Valid: true}
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE campaigns SET status = ?, launched_at = ?, completed_at = ?
			 WHERE id = ? AND status = ? AND archived_at IS NULL`,
			string(next), toMillis(at), completed, id, string(campaign.StatusDraft),
		)
		if err != nil {
			return fmt.Errorf("update campaign status: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update campaign status: %w", err)
		}
		if n != 1 {
			return fmt.Errorf("campaign %s is not a draft: %w", id, apperr.ErrInvalidTransition)
		}
		if len(records) == 0 {
			return nil
		}

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO delivery_records
			 (campaign_id, customer_id, state, attempts, last_error, message, next_attempt_at, updated_at)
			 VALUES (?, ?, ?, 0, '', ?, NULL, ?)`)
		if err != nil {
			return fmt.Errorf("prepare record insert: %w", err)
		}
		defer stmt.Close()
		for _, r := range records {
			if _, err := stmt.ExecContext(ctx, id, r.CustomerID, string(delivery.StatePending), r.Message, toMillis(at)); err != nil {
				return fmt.Errorf("insert delivery record %s: %w", r.CustomerID, err)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return next, nil
}

// TransitionCampaign moves the campaign from → to when it is still in from. Pairs the
// campaign state machine does not allow fail with apperr.ErrInvalidTransition.
func (s *Store) TransitionCampaign(ctx context.Context, id string, from, to campaign.Status) (bool, error) {
	if !campaign.CanTransition(from, to) {
		return false, fmt.Errorf("transition campaign %s from %s to %s: %w", id, from, to, apperr.ErrInvalidTransition)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET status = ? WHERE id = ? AND status = ?`, string(to), id, string(from))
	if err != nil {
		return false, fmt.Errorf("transition campaign: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition campaign: %w", err)
	}
	return n == 1, nil
}

// ArchiveCampaign is idempotent for unknown or already archived campaigns.
func (s *Store) ArchiveCampaign(ctx context.Context, owner, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET archived_at = ?
		 WHERE owner = ? AND id = ? AND archived_at IS NULL AND status NOT IN (?, ?)`,
		toMillis(at), owner, id, string(campaign.StatusScheduled), string(campaign.StatusSending),
	)
	if err != nil {
		return fmt.Errorf("archive campaign: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("archive campaign: %w", err)
	}
	if n == 1 {
		return nil
	}

	var status string
	err = s.db.QueryRowContext(ctx,
		`SELECT status FROM campaigns WHERE owner = ? AND id = ? AND archived_at IS NULL`, owner, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("archive campaign: %w", err)
	}
	return fmt.Errorf("campaign %s is %s: %w", id, status, apperr.ErrInvalidTransition)
}

func (s *Store) CampaignStats(ctx context.Context, id string) (delivery.Stats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT state, COUNT(*) FROM delivery_records WHERE campaign_id = ? GROUP BY state`, id)
	if err != nil {
		return delivery.Stats{}, fmt.Errorf("campaign stats: %w", err)
	}
	defer rows.Close()

	var st delivery.Stats
	for rows.Next() {
		var (
			state string
			n     int64
		)
		if err := rows.Scan(&state, &n); err != nil {
			return delivery.Stats{}, fmt.Errorf("scan campaign stats: %w", err)
		}
		st.Total += n
		switch delivery.State(state) {
		case delivery.StatePending:
			st.Pending = n
		case delivery.StateInFlight:
			st.InFlight = n
		case delivery.StateDelivered:
			st.Delivered = n
		case delivery.StateFailed:
			st.Failed = n
		}
	}
	if err := rows.Err(); err != nil {
		return delivery.Stats{}, fmt.Errorf("iterate campaign stats: %w", err)
	}
	return st, nil
}

func (s *Store) CountCampaigns(ctx context.Context) (int64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM campaigns WHERE archived_at IS NULL`)
}
