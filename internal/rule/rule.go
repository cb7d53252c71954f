// Package rule holds the typed audience rule model: a conjunction of
// field/operator/threshold conditions. It has no behavior beyond parsing and validation.
package rule

import (
	"fmt"
	"math"
	"sort"

	"github.com/gyaneshwarpardhi/audience/internal/apperr"
)

// Field names a numeric customer attribute a condition can test.
type Field string

const (
	FieldTotalSpend   Field = "totalSpend"
	FieldVisits       Field = "visits"
	FieldInactiveDays Field = "inactiveDays"
)

var fields = map[Field]struct{}{
	FieldTotalSpend:   {},
	FieldVisits:       {},
	FieldInactiveDays: {},
}

// Valid reports whether f is a known field.
func (f Field) Valid() bool {
	_, ok := fields[f]
	return ok
}

// Condition is one field/operator/threshold test.
type Condition struct {
	Field    Field    `json:"field"`
	Operator Operator `json:"operator"`
	Value    float64  `json:"value"`
}

func (c Condition) String() string {
	return fmt.Sprintf("%s %s %g", c.Field, c.Operator, c.Value)
}

// Rule is a conjunction of conditions. There is no OR or NOT.
type Rule struct {
	Conditions []Condition `json:"conditions"`
}

// New builds a normalized, validated rule from conditions.
func New(conds ...Condition) (Rule, error) {
	r := Rule{Conditions: append([]Condition(nil), conds...)}
	r.normalize()
	if err := Validate(r); err != nil {
		return Rule{}, err
	}
	return r, nil
}

// MustNew is New for static rules; it panics on an invalid rule.
func MustNew(conds ...Condition) Rule {
	r, err := New(conds...)
	if err != nil {
		panic(err)
	}
	return r
}

// Validate checks that the rule is non-empty and every condition uses a known field,
// a recognized operator and a finite threshold.
func Validate(r Rule) error {
	if len(r.Conditions) == 0 {
		return invalid("rule must have at least one condition")
	}
	seen := make(map[string]struct{}, len(r.Conditions))
	for i, c := range r.Conditions {
		if !c.Field.Valid() {
			return invalid("conditions[%d]: unknown field %q", i, c.Field)
		}
		if !c.Operator.Valid() {
			return invalid("conditions[%d]: unknown operator %q for %s", i, c.Operator, c.Field)
		}
		if math.IsNaN(c.Value) || math.IsInf(c.Value, 0) {
			return invalid("conditions[%d]: %s threshold must be a finite number", i, c.Field)
		}
		key := string(c.Field) + "/" + string(c.Operator)
		if _, dup := seen[key]; dup {
			return invalid("conditions[%d]: duplicate condition %s %s", i, c.Field, c.Operator)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// normalize orders conditions by field then operator so equal rules encode identically.
func (r *Rule) normalize() {
	sort.SliceStable(r.Conditions, func(i, j int) bool {
		a, b := r.Conditions[i], r.Conditions[j]
		if a.Field != b.Field {
			return a.Field < b.Field
		}
		return a.Operator < b.Operator
	})
}

// EvaluationOrder returns the conditions most-selective first. Conjunction is
// commutative, so the order only affects how early a non-match short-circuits.
func (r Rule) EvaluationOrder() []Condition {
	out := append([]Condition(nil), r.Conditions...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Operator.selectivity() < out[j].Operator.selectivity()
	})
	return out
}

// UnmarshalJSON accepts both the canonical and the field-keyed form. See Parse.
func (r *Rule) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", apperr.ErrInvalidRule, fmt.Sprintf(format, args...))
}
