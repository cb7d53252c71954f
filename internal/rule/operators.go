package rule

import (
	"fmt"
	"math"
)

// Operator represents a comparison operator.
type Operator string

const (
	OpGt  Operator = "gt"
	OpGte Operator = "gte"
	OpLt  Operator = "lt"
	OpLte Operator = "lte"
	OpEq  Operator = "eq"
)

// eqEpsilon is the tolerance used when comparing floats for equality.
const eqEpsilon = 1e-9

var operators = map[Operator]struct{}{
	OpGt:  {},
	OpGte: {},
	OpLt:  {},
	OpLte: {},
	OpEq:  {},
}

// Valid reports whether op is one of the recognized operators.
func (op Operator) Valid() bool {
	_, ok := operators[op]
	return ok
}

// Compare applies op to a customer value and a threshold.
func (op Operator) Compare(value, threshold float64) bool {
	switch op {
	case OpGt:
		return value > threshold
	case OpGte:
		return value >= threshold
	case OpLt:
		return value < threshold
	case OpLte:
		return value <= threshold
	case OpEq:
		if math.IsInf(value, 0) {
			return false
		}
		return math.Abs(value-threshold) < eqEpsilon
	}
	return false
}

// Symbol is the comparison symbol used by the textual rule form.
func (op Operator) Symbol() string {
	for sym, o := range symbols {
		if o == op && sym != "=" {
			return sym
		}
	}
	return string(op)
}

// selectivity ranks operators for evaluation order: lower runs first.
// Equality keeps the fewest customers so it short-circuits the most.
func (op Operator) selectivity() int {
	if op == OpEq {
		return 0
	}
	return 1
}

// toFloat64 coerces a decoded JSON number (or Go numeric) to float64.
func toFloat64(v interface{}) (float64, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float32:
		return float64(n), nil
	case float64:
		return n, nil
	}
	return 0, fmt.Errorf("value must be a number, got %T", v)
}
