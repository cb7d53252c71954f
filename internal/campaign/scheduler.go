package campaign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/audience/internal/apperr"
	"github.com/gyaneshwarpardhi/audience/internal/customer"
	"github.com/gyaneshwarpardhi/audience/internal/delivery"
	"github.com/gyaneshwarpardhi/audience/internal/metrics"
	"github.com/gyaneshwarpardhi/audience/internal/rule"
	"github.com/gyaneshwarpardhi/audience/internal/segment"
)

// Segments resolves a campaign's segment reference. Get is owner scoped and used when a
// campaign is created; Lookup is not, so a launch still sees a segment that was removed.
type Segments interface {
	Get(ctx context.Context, owner, id string) (segment.Segment, error)
	Lookup(ctx context.Context, id string) (segment.Segment, bool, error)
}

// Audience evaluates a rule to the full customer records it matches.
type Audience interface {
	Members(ctx context.Context, r rule.Rule, asOf time.Time) ([]customer.Customer, error)
}

// Renderer turns a message template into the text for one customer.
type Renderer interface {
	Validate(tmpl string) error
	Render(tmpl string, c customer.Customer) (string, error)
}

// Scheduler drives campaigns from DRAFT to SENDING.
type Scheduler struct {
	store      Store
	segments   Segments
	audience   Audience
	renderer   Renderer
	dispatcher Dispatcher
	now        func() time.Time
	logger     *slog.Logger
}

func NewScheduler(store Store, segments Segments, audience Audience, renderer Renderer, dispatcher Dispatcher, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:      store,
		segments:   segments,
		audience:   audience,
		renderer:   renderer,
		dispatcher: dispatcher,
		now:        time.Now,
		logger:     logger,
	}
}

// Create stores a DRAFT campaign. The segment must exist now; it may be deleted later.
func (s *Scheduler) Create(ctx context.Context, owner, name, segmentID, tmpl string) (Campaign, error) {
	name, segmentID = strings.TrimSpace(name), strings.TrimSpace(segmentID)
	switch {
	case name == "":
		return Campaign{}, fmt.Errorf("%w: name is required", apperr.ErrInvalidCampaign)
	case segmentID == "":
		return Campaign{}, fmt.Errorf("%w: segmentId is required", apperr.ErrInvalidCampaign)
	case strings.TrimSpace(tmpl) == "":
		return Campaign{}, fmt.Errorf("%w: message is required", apperr.ErrInvalidCampaign)
	}
	if err := s.renderer.Validate(tmpl); err != nil {
		return Campaign{}, err
	}
	if _, err := s.segments.Get(ctx, owner, segmentID); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return Campaign{}, fmt.Errorf("%w: segment %s does not exist", apperr.ErrInvalidCampaign, segmentID)
		}
		return Campaign{}, fmt.Errorf("resolve segment: %w", err)
	}

	c := Campaign{
		ID:              uuid.New().String(),
		Owner:           owner,
		Name:            name,
		SegmentID:       segmentID,
		MessageTemplate: tmpl,
		Status:          StatusDraft,
		CreatedAt:       s.now().UTC(),
	}
	if err := s.store.InsertCampaign(ctx, c); err != nil {
		return Campaign{}, fmt.Errorf("create campaign: %w", err)
	}
	s.logger.Info("campaign created", "campaign_id", c.ID, "segment_id", segmentID, "owner", owner)
	return c, nil
}

// Launch snapshots the segment's membership, writes one record per member together
// with the DRAFT→SCHEDULED transition, and hands the campaign to the dispatcher.
// Nothing is written when any step before the commit fails.
func (s *Scheduler) Launch(ctx context.Context, owner, id string) (Campaign, error) {
	c, err := s.store.GetCampaign(ctx, owner, id)
	if err != nil {
		return Campaign{}, err
	}
	if !CanTransition(c.Status, StatusScheduled) {
		return Campaign{}, fmt.Errorf("campaign %s is %s: %w", id, c.Status, apperr.ErrInvalidTransition)
	}
	if s.dispatcher.Saturated() {
		metrics.CampaignsLaunched.WithLabelValues("busy").Inc()
		return Campaign{}, fmt.Errorf("dispatch queue full: %w", apperr.ErrBusy)
	}

	now := s.now().UTC()
	records, err := s.snapshot(ctx, c, now)
	if err != nil {
		metrics.CampaignsLaunched.WithLabelValues("error").Inc()
		return Campaign{}, err
	}

	status, err := s.store.ScheduleCampaign(ctx, c.ID, records, now)
	if err != nil {
		metrics.CampaignsLaunched.WithLabelValues("error").Inc()
		return Campaign{}, fmt.Errorf("schedule campaign %s: %w", id, err)
	}
	c.Status = status
	c.LaunchedAt = &now
	if status == StatusSent {
		c.CompletedAt = &now
		metrics.CampaignsLaunched.WithLabelValues("empty").Inc()
		metrics.CampaignsCompleted.WithLabelValues(string(StatusSent)).Inc()
		s.logger.Info("campaign launched with empty audience", "campaign_id", c.ID)
		return c, nil
	}

	if !CanTransition(status, StatusSending) {
		return Campaign{}, fmt.Errorf("campaign %s stored as %s: %w", id, status, apperr.ErrInvalidTransition)
	}
	ok, err := s.store.TransitionCampaign(ctx, c.ID, status, StatusSending)
	if err != nil {
		// Records are committed; recovery moves the campaign on at next start.
		return Campaign{}, fmt.Errorf("start sending campaign %s: %w", id, err)
	}
	if ok {
		c.Status = StatusSending
	}
	metrics.CampaignsLaunched.WithLabelValues("scheduled").Inc()
	s.logger.Info("campaign launched", "campaign_id", c.ID, "recipients", len(records))
	s.dispatcher.Dispatch(c.ID)
	return c, nil
}

func (s *Scheduler) snapshot(ctx context.Context, c Campaign, asOf time.Time) ([]delivery.Record, error) {
	seg, ok, err := s.segments.Lookup(ctx, c.SegmentID)
	if err != nil {
		return nil, fmt.Errorf("resolve segment: %w", err)
	}
	if !ok {
		s.logger.Warn("campaign segment no longer exists; audience is empty", "campaign_id", c.ID, "segment_id", c.SegmentID)
		return nil, nil
	}
	members, err := s.audience.Members(ctx, seg.Rule, asOf)
	if err != nil {
		return nil, err
	}
	records := make([]delivery.Record, 0, len(members))
	for _, m := range members {
		msg, err := s.renderer.Render(c.MessageTemplate, m)
		if err != nil {
			return nil, fmt.Errorf("%w: render message for %s: %v", apperr.ErrInvalidCampaign, m.ID, err)
		}
		records = append(records, delivery.Record{
			CampaignID: c.ID,
			CustomerID: m.ID,
			State:      delivery.StatePending,
			Message:    msg,
		})
	}
	return records, nil
}

// CreateAndLaunch creates a campaign and launches it immediately. When the launch is
// refused as busy the DRAFT campaign is returned along with the error.
func (s *Scheduler) CreateAndLaunch(ctx context.Context, owner, name, segmentID, tmpl string) (Campaign, error) {
	c, err := s.Create(ctx, owner, name, segmentID, tmpl)
	if err != nil {
		return Campaign{}, err
	}
	launched, err := s.Launch(ctx, owner, c.ID)
	if err != nil {
		if errors.Is(err, apperr.ErrBusy) {
			return c, err
		}
		return Campaign{}, err
	}
	return launched, nil
}

func (s *Scheduler) Get(ctx context.Context, owner, id string) (View, error) {
	c, err := s.store.GetCampaign(ctx, owner, id)
	if err != nil {
		return View{}, err
	}
	return s.view(ctx, c)
}

// List returns the owner's campaigns, newest first.
func (s *Scheduler) List(ctx context.Context, owner string) ([]View, error) {
	cs, err := s.store.ListCampaigns(ctx, owner)
	if err != nil {
		return nil, err
	}
	out := make([]View, 0, len(cs))
	for _, c := range cs {
		v, err := s.view(ctx, c)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *Scheduler) view(ctx context.Context, c Campaign) (View, error) {
	v := View{Campaign: c}
	seg, ok, err := s.segments.Lookup(ctx, c.SegmentID)
	if err != nil {
		return View{}, fmt.Errorf("resolve segment: %w", err)
	}
	if ok {
		v.SegmentName = seg.Name
	}
	if v.Stats, err = s.store.CampaignStats(ctx, c.ID); err != nil {
		return View{}, err
	}
	return v, nil
}

// Deliveries lists the campaign's records by customer id.
func (s *Scheduler) Deliveries(ctx context.Context, owner, id string) ([]delivery.Record, error) {
	if _, err := s.store.GetCampaign(ctx, owner, id); err != nil {
		return nil, err
	}
	return s.store.ListDeliveries(ctx, id)
}

// Delete archives a campaign. Its delivery records stay.
func (s *Scheduler) Delete(ctx context.Context, owner, id string) error {
	if err := s.store.ArchiveCampaign(ctx, owner, id, s.now().UTC()); err != nil {
		return err
	}
	s.logger.Info("campaign archived", "campaign_id", id, "owner", owner)
	return nil
}
