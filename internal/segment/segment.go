// Package segment holds named audience rules and the evaluator that resolves them
// to customer sets.
package segment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/audience/internal/apperr"
	"github.com/gyaneshwarpardhi/audience/internal/rule"
)

// Segment is an immutable named rule. Deleting and recreating is the update path.
type Segment struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	Name      string    `json:"name"`
	Rule      rule.Rule `json:"rule"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store persists segments. InsertSegment must fail with apperr.ErrDuplicateName when
// (owner, name) is taken; it is the only serialization point for creation.
type Store interface {
	InsertSegment(ctx context.Context, s Segment) error
	GetSegment(ctx context.Context, owner, id string) (Segment, error)
	// LookupSegment resolves a reference without an owner scope; ok is false when
	// the segment no longer exists.
	LookupSegment(ctx context.Context, id string) (s Segment, ok bool, err error)
	ListSegments(ctx context.Context, owner string) ([]Segment, error)
	DeleteSegment(ctx context.Context, owner, id string) error
	CountSegments(ctx context.Context) (int64, error)
}

// Service validates and persists segments.
type Service struct {
	store  Store
	now    func() time.Time
	logger *slog.Logger
}

// NewService creates a Service backed by store.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, now: time.Now, logger: logger}
}

// Create validates r and stores a new segment. An invalid rule is rejected before
// anything is written.
func (s *Service) Create(ctx context.Context, owner, name string, r rule.Rule) (Segment, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Segment{}, fmt.Errorf("%w: name is required", apperr.ErrInvalidSegment)
	}
	if err := rule.Validate(r); err != nil {
		return Segment{}, err
	}
	seg := Segment{
		ID:        uuid.New().String(),
		Owner:     owner,
		Name:      name,
		Rule:      r,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.InsertSegment(ctx, seg); err != nil {
		if errors.Is(err, apperr.ErrDuplicateName) {
			return Segment{}, fmt.Errorf("segment %q: %w", name, apperr.ErrDuplicateName)
		}
		return Segment{}, fmt.Errorf("create segment: %w", err)
	}
	s.logger.Info("segment created", "segment_id", seg.ID, "name", seg.Name, "owner", owner, "rule", seg.Rule.Expression())
	return seg, nil
}

// Get returns the owner's segment or apperr.ErrNotFound.
func (s *Service) Get(ctx context.Context, owner, id string) (Segment, error) {
	return s.store.GetSegment(ctx, owner, id)
}

// Lookup resolves a campaign's segment reference. Absence is not an error.
func (s *Service) Lookup(ctx context.Context, id string) (Segment, bool, error) {
	return s.store.LookupSegment(ctx, id)
}

// List returns the owner's segments, newest first.
func (s *Service) List(ctx context.Context, owner string) ([]Segment, error) {
	return s.store.ListSegments(ctx, owner)
}

// Delete removes a segment. Deleting an unknown id succeeds.
func (s *Service) Delete(ctx context.Context, owner, id string) error {
	if err := s.store.DeleteSegment(ctx, owner, id); err != nil {
		return fmt.Errorf("delete segment %s: %w", id, err)
	}
	s.logger.Info("segment deleted", "segment_id", id, "owner", owner)
	return nil
}
