// Package delivery runs per-recipient message dispatch: a bounded task queue, a fixed
// set of workers, an atomic claim per record and capped exponential retries.
package delivery

import (
	"context"
	"time"
)

// State is the lifecycle position of a DeliveryRecord.
type State string

const (
	StatePending   State = "PENDING"
	StateInFlight  State = "IN_FLIGHT"
	StateDelivered State = "DELIVERED"
	StateFailed    State = "FAILED"
)

// Terminal reports whether no further transitions can occur from s.
func (s State) Terminal() bool {
	return s == StateDelivered || s == StateFailed
}

// Record tracks one (campaign, customer) dispatch. The pair is unique; the record is
// created once when the campaign is scheduled.
type Record struct {
	CampaignID    string     `json:"campaignId"`
	CustomerID    string     `json:"customerId"`
	State         State      `json:"state"`
	Attempts      int        `json:"attempts"`
	LastError     string     `json:"lastError,omitempty"`
	Message       string     `json:"message"`
	NextAttemptAt *time.Time `json:"nextAttemptAt,omitempty"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Stats counts a campaign's records by state.
type Stats struct {
	Total     int64 `json:"total"`
	Pending   int64 `json:"pending"`
	InFlight  int64 `json:"inFlight"`
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
}

// Totals sums terminal records across every campaign.
type Totals struct {
	Sent   int64 `json:"messagesSent"`
	Failed int64 `json:"messagesFailed"`
}

// Store persists delivery records. Every state change is a conditional update on the
// current state so a record is owned by at most one worker and becomes terminal at
// most once.
type Store interface {
	PendingRecords(ctx context.Context, campaignID string) ([]Record, error)
	// ClaimRecord moves PENDING to IN_FLIGHT; ok is false if another worker won or
	// the record is no longer pending.
	ClaimRecord(ctx context.Context, campaignID, customerID string, at time.Time) (rec Record, ok bool, err error)
	// CompleteRecord moves IN_FLIGHT to DELIVERED.
	CompleteRecord(ctx context.Context, campaignID, customerID string, at time.Time) (bool, error)
	// RetryRecord moves IN_FLIGHT back to PENDING with the new attempt count.
	RetryRecord(ctx context.Context, campaignID, customerID string, attempts int, lastErr string, next, at time.Time) error
	// FailRecord moves IN_FLIGHT to FAILED.
	FailRecord(ctx context.Context, campaignID, customerID string, attempts int, lastErr string, at time.Time) (bool, error)
	// FinishCampaign closes a SENDING campaign once no record is PENDING or IN_FLIGHT,
	// returning the resulting status when it did.
	FinishCampaign(ctx context.Context, campaignID string, at time.Time) (status string, finished bool, err error)

	FailInFlight(ctx context.Context, reason string, at time.Time) (int64, error)
	ResumeScheduled(ctx context.Context) (int64, error)
	SendingCampaigns(ctx context.Context) ([]string, error)
}

// Sender is the external message-sending collaborator. A nil error means delivered;
// any error is a failed attempt.
type Sender interface {
	Send(ctx context.Context, customerID, message string) error
}

// Tally receives aggregate increments after a terminal transition is persisted.
type Tally interface {
	AddSent(ctx context.Context, n int64) error
	AddFailed(ctx context.Context, n int64) error
}
