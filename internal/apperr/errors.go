// Package apperr defines the error taxonomy shared by the engine and its HTTP surface.
package apperr

import "errors"

// Code is a machine-readable error code returned to API clients.
type Code string

const (
	CodeUnknown           Code = "UNKNOWN"
	CodeInvalidRule       Code = "INVALID_RULE"
	CodeInvalidSegment    Code = "INVALID_SEGMENT"
	CodeInvalidCampaign   Code = "INVALID_CAMPAIGN"
	CodeInvalidCustomer   Code = "INVALID_CUSTOMER"
	CodeDuplicateName     Code = "DUPLICATE_NAME"
	CodeNotFound          Code = "NOT_FOUND"
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeEvaluationFailed  Code = "EVALUATION_FAILED"
	CodeBusy              Code = "BUSY"
	// CodeInvalidRequest marks a body that is not valid JSON for the endpoint.
	CodeInvalidRequest Code = "INVALID_REQUEST"
)

var (
	ErrInvalidRule       = errors.New("invalid rule")
	ErrInvalidSegment    = errors.New("invalid segment")
	ErrInvalidCampaign   = errors.New("invalid campaign")
	ErrInvalidCustomer   = errors.New("invalid customer")
	ErrDuplicateName     = errors.New("duplicate name")
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrEvaluation marks a storage failure while evaluating a rule; callers may retry.
	ErrEvaluation = errors.New("rule evaluation failed")
	// ErrBusy means the delivery queue is saturated; callers should retry later.
	ErrBusy = errors.New("dispatcher busy")
	// ErrDeliveryFailure is a per-recipient send failure. It is recorded on the
	// delivery record and never surfaces as a campaign-level error.
	ErrDeliveryFailure = errors.New("delivery failed")
)

var codes = []struct {
	err  error
	code Code
}{
	{ErrInvalidRule, CodeInvalidRule},
	{ErrInvalidSegment, CodeInvalidSegment},
	{ErrInvalidCampaign, CodeInvalidCampaign},
	{ErrInvalidCustomer, CodeInvalidCustomer},
	{ErrDuplicateName, CodeDuplicateName},
	{ErrNotFound, CodeNotFound},
	{ErrInvalidTransition, CodeInvalidTransition},
	{ErrEvaluation, CodeEvaluationFailed},
	{ErrBusy, CodeBusy},
}

// CodeOf returns the code of the first taxonomy error found in err's chain.
func CodeOf(err error) Code {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeUnknown
}
