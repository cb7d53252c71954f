// Package campaign owns the campaign lifecycle: creation as a draft, the launch-time
// membership snapshot and the hand-off to the delivery dispatcher.
package campaign

import (
	"context"
	"time"

	"github.com/gyaneshwarpardhi/audience/internal/delivery"
)

type Status string

const (
	StatusDraft          Status = "DRAFT"
	StatusScheduled      Status = "SCHEDULED"
	StatusSending        Status = "SENDING"
	StatusSent           Status = "SENT"
	StatusPartialFailure Status = "PARTIAL_FAILURE"
)

var transitions = map[Status][]Status{
	StatusDraft:     {StatusScheduled, StatusSent},
	StatusScheduled: {StatusSending},
	StatusSending:   {StatusSent, StatusPartialFailure},
}

// CanTransition reports whether from → to is an edge of the campaign state machine.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the campaign has finished dispatching.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusPartialFailure
}

// Campaign is one message send to a segment's members.
type Campaign struct {
	ID              string     `json:"id"`
	Owner           string     `json:"owner"`
	Name            string     `json:"name"`
	SegmentID       string     `json:"segmentId"`
	MessageTemplate string     `json:"messageTemplate"`
	Status          Status     `json:"status"`
	CreatedAt       time.Time  `json:"createdAt"`
	LaunchedAt      *time.Time `json:"launchedAt,omitempty"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
}

// View is a campaign as the UI sees it.
type View struct {
	Campaign
	// SegmentName is empty when the segment has been deleted.
	SegmentName string         `json:"segmentName"`
	Stats       delivery.Stats `json:"stats"`
}

// Store persists campaigns and creates their delivery records.
type Store interface {
	InsertCampaign(ctx context.Context, c Campaign) error
	GetCampaign(ctx context.Context, owner, id string) (Campaign, error)
	// ListCampaigns returns the owner's non-archived campaigns, newest first.
	ListCampaigns(ctx context.Context, owner string) ([]Campaign, error)
	// ScheduleCampaign moves a DRAFT campaign to SCHEDULED and inserts records in one
	// transaction. With no records the campaign goes straight to SENT. Returns
	// apperr.ErrInvalidTransition when the campaign is no longer DRAFT.
	ScheduleCampaign(ctx context.Context, id string, records []delivery.Record, at time.Time) (Status, error)
	// TransitionCampaign is a compare-and-set on status.
	TransitionCampaign(ctx context.Context, id string, from, to Status) (bool, error)
	// ArchiveCampaign hides a campaign that is DRAFT or finished.
	ArchiveCampaign(ctx context.Context, owner, id string, at time.Time) error
	CampaignStats(ctx context.Context, id string) (delivery.Stats, error)
	ListDeliveries(ctx context.Context, id string) ([]delivery.Record, error)
}

// Dispatcher accepts scheduled campaigns.
type Dispatcher interface {
	Saturated() bool
	Dispatch(campaignID string)
}
