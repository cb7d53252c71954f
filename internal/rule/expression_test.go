package rule

import (
	"errors"
	"reflect"
	"testing"

	"github.com/gyaneshwarpardhi/audience/internal/apperr"
)

type exprCase struct {
	name    string
	expr    string
	want    []Condition
	wantErr bool
}

func TestParseExpression(t *testing.T) {
	cases := []exprCase{
		{
			name: "single condition",
			expr: "totalSpend > 5000",
			want: []Condition{{Field: FieldTotalSpend, Operator: OpGt, Value: 5000}},
		},
		{
			name: "conjunction is normalized",
			expr: "visits <= 3 and totalSpend >= 1000.5 AND inactiveDays == 90",
			want: []Condition{
				{Field: FieldInactiveDays, Operator: OpEq, Value: 90},
				{Field: FieldTotalSpend, Operator: OpGte, Value: 1000.5},
				{Field: FieldVisits, Operator: OpLte, Value: 3},
			},
		},
		{
			name: "single equals and negative threshold",
			expr: "totalSpend=-1",
			want: []Condition{{Field: FieldTotalSpend, Operator: OpEq, Value: -1}},
		},
		{name: "empty", expr: "   ", wantErr: true},
		{name: "OR rejected", expr: "visits > 1 OR visits < 0", wantErr: true},
		{name: "NOT rejected", expr: "NOT visits > 1", wantErr: true},
		{name: "parens rejected", expr: "(visits > 1)", wantErr: true},
		{name: "unknown field", expr: "age > 30", wantErr: true},
		{name: "missing operator", expr: "visits 3", wantErr: true},
		{name: "string threshold", expr: "visits > three", wantErr: true},
		{name: "trailing AND", expr: "visits > 3 AND", wantErr: true},
		{name: "missing AND", expr: "visits > 3 totalSpend < 1", wantErr: true},
		{name: "bad number", expr: "visits > 1.2.3", wantErr: true},
		{name: "unsupported symbol", expr: "visits != 3", wantErr: true},
		{name: "duplicate condition", expr: "visits > 1 AND visits > 2", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, err := ParseExpression(tc.expr)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", r)
				}
				if !errors.Is(err, apperr.ErrInvalidRule) {
					t.Fatalf("error %v does not wrap ErrInvalidRule", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(r.Conditions, tc.want) {
				t.Fatalf("got %+v, want %+v", r.Conditions, tc.want)
			}
		})
	}
}

func TestParse_StringForm(t *testing.T) {
	r, err := Parse([]byte(`"inactiveDays > 90 AND totalSpend > 5000"`))
	if err != nil {
		t.Fatal(err)
	}
	want := MustNew(
		Condition{Field: FieldTotalSpend, Operator: OpGt, Value: 5000},
		Condition{Field: FieldInactiveDays, Operator: OpGt, Value: 90},
	)
	if !reflect.DeepEqual(r, want) {
		t.Fatalf("got %+v, want %+v", r, want)
	}
}

func TestExpression_RoundTrip(t *testing.T) {
	r := MustNew(
		Condition{Field: FieldVisits, Operator: OpLt, Value: 3},
		Condition{Field: FieldTotalSpend, Operator: OpEq, Value: 12.5},
	)
	if got, want := r.Expression(), "totalSpend == 12.5 AND visits < 3"; got != want {
		t.Fatalf("Expression() = %q, want %q", got, want)
	}
	back, err := ParseExpression(r.Expression())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(back, r) {
		t.Fatalf("round trip changed rule: %+v", back)
	}
}
