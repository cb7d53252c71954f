package segment

import (
	"context"
	"fmt"
	"time"

	"github.com/gyaneshwarpardhi/audience/internal/apperr"
	"github.com/gyaneshwarpardhi/audience/internal/customer"
	"github.com/gyaneshwarpardhi/audience/internal/metrics"
	"github.com/gyaneshwarpardhi/audience/internal/rule"
)

// Preview is an exact match count plus the first matches by id.
type Preview struct {
	Count  int                 `json:"count"`
	Sample []customer.Customer `json:"sample"`
}

// Evaluator runs rules against a customer source. It holds no mutable state and
// is safe for concurrent use.
type Evaluator struct {
	source customer.Source
}

// NewEvaluator creates an Evaluator reading from source.
func NewEvaluator(source customer.Source) *Evaluator {
	return &Evaluator{source: source}
}

// predicate is a compiled rule: all conditions must hold.
type predicate func(c customer.Customer) bool

// valueFn extracts a field's numeric value at evaluation instant asOf.
type valueFn func(c customer.Customer, asOf time.Time) float64

var fieldValues = map[rule.Field]valueFn{
	rule.FieldTotalSpend: func(c customer.Customer, _ time.Time) float64 { return c.TotalSpend },
	rule.FieldVisits:     func(c customer.Customer, _ time.Time) float64 { return float64(c.Visits) },
	rule.FieldInactiveDays: func(c customer.Customer, asOf time.Time) float64 {
		return c.InactiveDays(asOf)
	},
}

// compile turns r into a predicate bound to asOf.
func compile(r rule.Rule, asOf time.Time) (predicate, error) {
	if err := rule.Validate(r); err != nil {
		return nil, err
	}
	conds := r.EvaluationOrder()
	tests := make([]func(customer.Customer) bool, 0, len(conds))
	for _, cond := range conds {
		value, ok := fieldValues[cond.Field]
		if !ok {
			return nil, fmt.Errorf("%w: field %q has no evaluator", apperr.ErrInvalidRule, cond.Field)
		}
		op, threshold := cond.Operator, cond.Value
		tests = append(tests, func(c customer.Customer) bool {
			return op.Compare(value(c, asOf), threshold)
		})
	}
	return func(c customer.Customer) bool {
		for _, test := range tests {
			if !test(c) {
				return false
			}
		}
		return true
	}, nil
}

// scan streams every customer matching r through fn.
func (e *Evaluator) scan(ctx context.Context, r rule.Rule, asOf time.Time, fn func(customer.Customer) error) error {
	match, err := compile(r, asOf)
	if err != nil {
		return err
	}
	start := time.Now()
	defer func() {
		metrics.EvaluationDuration.Observe(float64(time.Since(start).Milliseconds()))
	}()

	err = e.source.EachCustomer(ctx, func(c customer.Customer) error {
		if !match(c) {
			return nil
		}
		return fn(c)
	})
	if err != nil {
		metrics.EvaluationErrors.Inc()
		return fmt.Errorf("%w: %w", apperr.ErrEvaluation, err)
	}
	return nil
}

// Members returns the full records of every customer matching r at asOf, ordered by id.
func (e *Evaluator) Members(ctx context.Context, r rule.Rule, asOf time.Time) ([]customer.Customer, error) {
	members := []customer.Customer{}
	err := e.scan(ctx, r, asOf, func(c customer.Customer) error {
		members = append(members, c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return members, nil
}

// Evaluate returns the ids of every customer matching r at asOf, ascending.
// A rule that matches nobody yields an empty slice and a nil error.
func (e *Evaluator) Evaluate(ctx context.Context, r rule.Rule, asOf time.Time) ([]string, error) {
	ids := []string{}
	err := e.scan(ctx, r, asOf, func(c customer.Customer) error {
		ids = append(ids, c.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Preview counts every match exactly and keeps the first sampleSize of them.
func (e *Evaluator) Preview(ctx context.Context, r rule.Rule, asOf time.Time, sampleSize int) (Preview, error) {
	if sampleSize < 0 {
		sampleSize = 0
	}
	p := Preview{Sample: []customer.Customer{}}
	err := e.scan(ctx, r, asOf, func(c customer.Customer) error {
		p.Count++
		if len(p.Sample) < sampleSize {
			p.Sample = append(p.Sample, c)
		}
		return nil
	})
	if err != nil {
		return Preview{}, err
	}
	return p, nil
}
