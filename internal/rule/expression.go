package rule

import (
	"strconv"
	"strings"
	"unicode"
)

// symbols maps the comparison symbols of the textual form to operators.
var symbols = map[string]Operator{
	">":  OpGt,
	">=": OpGte,
	"<":  OpLt,
	"<=": OpLte,
	"==": OpEq,
	"=":  OpEq,
}

type tokenKind int

const (
	tokWord   tokenKind = iota // field name or keyword
	tokOp                      // >, >=, <, <=, ==, =
	tokNumber                  // 42 | 3.14 | -1
	tokEOF
)

type token struct {
	kind tokenKind
	val  string
	pos  int
}

func tokenize(src string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(src) {
		ch := src[i]
		if unicode.IsSpace(rune(ch)) {
			i++
			continue
		}
		switch {
		case ch == '(' || ch == ')':
			return nil, invalid("position %d: grouping is not supported; conditions are always ANDed", i)
		case ch == '=' || ch == '<' || ch == '>':
			if i+1 < len(src) && src[i+1] == '=' {
				tokens = append(tokens, token{tokOp, src[i : i+2], i})
				i += 2
			} else {
				tokens = append(tokens, token{tokOp, string(ch), i})
				i++
			}
		case unicode.IsDigit(rune(ch)) || ch == '.' || (ch == '-' && i+1 < len(src) && unicode.IsDigit(rune(src[i+1]))):
			j := i + 1
			for j < len(src) && (unicode.IsDigit(rune(src[j])) || src[j] == '.') {
				j++
			}
			tokens = append(tokens, token{tokNumber, src[i:j], i})
			i = j
		case unicode.IsLetter(rune(ch)) || ch == '_':
			j := i
			for j < len(src) && (unicode.IsLetter(rune(src[j])) || unicode.IsDigit(rune(src[j])) || src[j] == '_') {
				j++
			}
			tokens = append(tokens, token{tokWord, src[i:j], i})
			i = j
		default:
			return nil, invalid("unexpected character %q at position %d", ch, i)
		}
	}
	return append(tokens, token{tokEOF, "", len(src)}), nil
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) consume() token {
	t := p.tokens[p.pos]
	p.pos++
	return t
}

// ParseExpression parses the textual rule form, for example
//
//	totalSpend > 5000 AND inactiveDays >= 90
//
// Keywords are case-insensitive. OR, NOT and parentheses are rejected because a rule
// is a plain conjunction.
func ParseExpression(src string) (Rule, error) {
	if strings.TrimSpace(src) == "" {
		return Rule{}, invalid("rule is required")
	}
	tokens, err := tokenize(src)
	if err != nil {
		return Rule{}, err
	}
	p := &parser{tokens: tokens}

	var r Rule
	for {
		c, err := p.parseCondition()
		if err != nil {
			return Rule{}, err
		}
		r.Conditions = append(r.Conditions, c)

		t := p.peek()
		if t.kind == tokEOF {
			break
		}
		if t.kind == tokWord {
			switch strings.ToUpper(t.val) {
			case "AND":
				p.consume()
				continue
			case "OR", "NOT":
				return Rule{}, invalid("position %d: %s is not supported; conditions are always ANDed", t.pos, strings.ToUpper(t.val))
			}
		}
		return Rule{}, invalid("position %d: expected AND, got %q", t.pos, t.val)
	}

	r.normalize()
	if err := Validate(r); err != nil {
		return Rule{}, err
	}
	return r, nil
}

// condition = field operator number
func (p *parser) parseCondition() (Condition, error) {
	t := p.consume()
	if t.kind != tokWord {
		return Condition{}, invalid("position %d: expected a field name, got %q", t.pos, t.val)
	}
	if up := strings.ToUpper(t.val); up == "NOT" || up == "OR" || up == "AND" {
		return Condition{}, invalid("position %d: expected a field name, got %s", t.pos, up)
	}
	field := Field(t.val)
	if !field.Valid() {
		return Condition{}, invalid("position %d: unknown field %q", t.pos, t.val)
	}

	t = p.consume()
	op, ok := symbols[t.val]
	if t.kind != tokOp || !ok {
		return Condition{}, invalid("position %d: expected a comparison after %s, got %q", t.pos, field, t.val)
	}

	t = p.consume()
	if t.kind != tokNumber {
		return Condition{}, invalid("position %d: %s threshold must be a number, got %q", t.pos, field, t.val)
	}
	v, err := strconv.ParseFloat(t.val, 64)
	if err != nil {
		return Condition{}, invalid("position %d: invalid number %q", t.pos, t.val)
	}
	return Condition{Field: field, Operator: op, Value: v}, nil
}

// Expression renders r in the textual form accepted by ParseExpression.
func (r Rule) Expression() string {
	parts := make([]string, len(r.Conditions))
	for i, c := range r.Conditions {
		parts[i] = string(c.Field) + " " + c.Operator.Symbol() + " " + strconv.FormatFloat(c.Value, 'g', -1, 64)
	}
	return strings.Join(parts, " AND ")
}
