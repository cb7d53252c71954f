package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gyaneshwarpardhi/audience/internal/apperr"
	"github.com/gyaneshwarpardhi/audience/internal/rule"
	"github.com/gyaneshwarpardhi/audience/internal/segment"
)

const segmentColumns = `id, owner, name, rule, created_at`

func scanSegment(row scanner) (segment.Segment, error) {
	var (
		seg       segment.Segment
		raw       string
		createdAt int64
	)
	if err := row.Scan(&seg.ID, &seg.Owner, &seg.Name, &raw, &createdAt); err != nil {
		return segment.Segment{}, err
	}
	r, err := rule.Parse([]byte(raw))
	if err != nil {
		return segment.Segment{}, fmt.Errorf("decode rule for segment %s: %w", seg.ID, err)
	}
	seg.Rule = r
	seg.CreatedAt = fromMillis(createdAt)
	return seg, nil
}

// InsertSegment relies on UNIQUE(owner, name): of two concurrent inserts with the same
// name exactly one commits.
func (s *Store) InsertSegment(ctx context.Context, seg segment.Segment) error {
	raw, err := json.Marshal(seg.Rule)
	if err != nil {
		return fmt.Errorf("encode rule: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO segments (`+segmentColumns+`) VALUES (?, ?, ?, ?, ?)`,
		seg.ID, seg.Owner, seg.Name, string(raw), toMillis(seg.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.ErrDuplicateName
		}
		return fmt.Errorf("insert segment: %w", err)
	}
	return nil
}

func (s *Store) GetSegment(ctx context.Context, owner, id string) (segment.Segment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+segmentColumns+` FROM segments WHERE owner = ? AND id = ?`, owner, id)
	seg, err := scanSegment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return segment.Segment{}, fmt.Errorf("segment %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return segment.Segment{}, fmt.Errorf("get segment: %w", err)
	}
	return seg, nil
}

func (s *Store) LookupSegment(ctx context.Context, id string) (segment.Segment, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+segmentColumns+` FROM segments WHERE id = ?`, id)
	seg, err := scanSegment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return segment.Segment{}, false, nil
	}
	if err != nil {
		return segment.Segment{}, false, fmt.Errorf("lookup segment: %w", err)
	}
	return seg, true, nil
}

func (s *Store) ListSegments(ctx context.Context, owner string) ([]segment.Segment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+segmentColumns+` FROM segments WHERE owner = ? ORDER BY created_at DESC, id`, owner)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	defer rows.Close()

	out := []segment.Segment{}
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		out = append(out, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate segments: %w", err)
	}
	return out, nil
}

func (s *Store) DeleteSegment(ctx context.Context, owner, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM segments WHERE owner = ? AND id = ?`, owner, id); err != nil {
		return fmt.Errorf("delete segment: %w", err)
	}
	return nil
}

func (s *Store) CountSegments(ctx context.Context) (int64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM segments`)
}

var _ segment.Store = (*Store)(nil)
