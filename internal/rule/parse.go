package rule

import (
	"bytes"
	"encoding/json"
	"sort"
)

// Parse decodes and validates a rule. Three JSON shapes are accepted:
//
//	{"conditions":[{"field":"totalSpend","operator":"gt","value":5000}]}
//	{"totalSpend":{"operator":"gt","value":5000},"inactiveDays":90}
//	"totalSpend > 5000 AND inactiveDays > 90"
//
// In the field-keyed form a bare number means "gt". Parse never has side effects and
// every failure wraps apperr.ErrInvalidRule.
func Parse(data []byte) (Rule, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return Rule{}, invalid("rule is required")
	}
	if data[0] == '"' {
		var src string
		if err := json.Unmarshal(data, &src); err != nil {
			return Rule{}, invalid("rule must be a JSON object or string")
		}
		return ParseExpression(src)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Rule{}, invalid("rule must be a JSON object")
	}

	var (
		r   Rule
		err error
	)
	if list, ok := raw["conditions"]; ok {
		if len(raw) != 1 {
			return Rule{}, invalid("conditions cannot be mixed with field shortcuts")
		}
		r, err = parseConditions(list)
	} else {
		r, err = parseFieldKeyed(raw)
	}
	if err != nil {
		return Rule{}, err
	}
	r.normalize()
	if err := Validate(r); err != nil {
		return Rule{}, err
	}
	return r, nil
}

type rawCondition struct {
	Field    string          `json:"field"`
	Operator string          `json:"operator"`
	Value    json.RawMessage `json:"value"`
}

func parseConditions(data json.RawMessage) (Rule, error) {
	var list []rawCondition
	if err := json.Unmarshal(data, &list); err != nil {
		return Rule{}, invalid("conditions must be an array of {field, operator, value}")
	}
	r := Rule{Conditions: make([]Condition, 0, len(list))}
	for i, rc := range list {
		v, err := parseValue(rc.Value)
		if err != nil {
			return Rule{}, invalid("conditions[%d]: %s", i, err)
		}
		r.Conditions = append(r.Conditions, Condition{
			Field:    Field(rc.Field),
			Operator: Operator(rc.Operator),
			Value:    v,
		})
	}
	return r, nil
}

func parseFieldKeyed(raw map[string]json.RawMessage) (Rule, error) {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	r := Rule{Conditions: make([]Condition, 0, len(raw))}
	for _, k := range keys {
		field := Field(k)
		if !field.Valid() {
			return Rule{}, invalid("unknown field %q", k)
		}
		body := bytes.TrimSpace(raw[k])
		if len(body) > 0 && body[0] == '{' {
			var rc rawCondition
			if err := json.Unmarshal(body, &rc); err != nil {
				return Rule{}, invalid("%s: expected {operator, value}", k)
			}
			v, err := parseValue(rc.Value)
			if err != nil {
				return Rule{}, invalid("%s: %s", k, err)
			}
			r.Conditions = append(r.Conditions, Condition{Field: field, Operator: Operator(rc.Operator), Value: v})
			continue
		}
		v, err := parseValue(body)
		if err != nil {
			return Rule{}, invalid("%s: %s", k, err)
		}
		r.Conditions = append(r.Conditions, Condition{Field: field, Operator: OpGt, Value: v})
	}
	return r, nil
}

type valueError string

func (e valueError) Error() string { return string(e) }

func parseValue(data json.RawMessage) (float64, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return 0, valueError("value is required")
	}
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return 0, valueError("value must be a number")
	}
	if v == nil {
		return 0, valueError("value is required")
	}
	f, err := toFloat64(v)
	if err != nil {
		return 0, valueError(err.Error())
	}
	return f, nil
}
