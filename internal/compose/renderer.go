// Package compose renders campaign messages with Liquid templates and generates
// candidate messages for a customer and goal.
package compose

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/osteele/liquid"

	"github.com/gyaneshwarpardhi/audience/internal/apperr"
	"github.com/gyaneshwarpardhi/audience/internal/customer"
)

// templateCacheSize bounds how many parsed templates a Renderer keeps.
const templateCacheSize = 256

// Renderer parses and renders Liquid templates against a customer. The most recently
// used parsed templates are cached by source text; it is safe for concurrent use.
type Renderer struct {
	engine *liquid.Engine
	cache  *lru.Cache[string, *liquid.Template]
	now    func() time.Time
}

// NewRenderer creates a Renderer with the message filters registered.
func NewRenderer() *Renderer {
	return newRenderer(templateCacheSize)
}

func newRenderer(cacheSize int) *Renderer {
	cache, err := lru.New[string, *liquid.Template](cacheSize)
	if err != nil {
		panic(err) // only for a non-positive size
	}
	r := &Renderer{engine: liquid.NewEngine(), cache: cache, now: time.Now}
	r.registerFilters()
	return r
}

func (r *Renderer) registerFilters() {
	// {{ name | default: "there" }}
	r.engine.RegisterFilter("default", func(value interface{}, fallback string) interface{} {
		if value == nil {
			return fallback
		}
		if s := fmt.Sprintf("%v", value); s == "" || s == "<nil>" {
			return fallback
		}
		return value
	})

	r.engine.RegisterFilter("capitalize", capitalize)

	// {{ total_spend | currency }}
	r.engine.RegisterFilter("currency", func(value interface{}) string {
		switch v := value.(type) {
		case float64:
			return fmt.Sprintf("$%.2f", v)
		case int:
			return fmt.Sprintf("$%d.00", v)
		case int64:
			return fmt.Sprintf("$%d.00", v)
		default:
			return fmt.Sprintf("%v", value)
		}
	})
}

// Validate reports a template that does not parse, wrapped in apperr.ErrInvalidCampaign.
func (r *Renderer) Validate(tmpl string) error {
	if _, err := r.template(tmpl); err != nil {
		return fmt.Errorf("%w: message template: %v", apperr.ErrInvalidCampaign, err)
	}
	return nil
}

// Render renders tmpl for c. Unknown variables render empty.
func (r *Renderer) Render(tmpl string, c customer.Customer) (string, error) {
	return r.RenderWith(tmpl, Bindings(c, r.now()))
}

// RenderWith renders tmpl against explicit bindings.
func (r *Renderer) RenderWith(tmpl string, b map[string]interface{}) (string, error) {
	t, err := r.template(tmpl)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}
	out, serr := t.RenderString(b)
	if serr != nil {
		return "", fmt.Errorf("render template: %w", serr)
	}
	return strings.TrimSpace(out), nil
}

func (r *Renderer) template(src string) (*liquid.Template, error) {
	if cached, ok := r.cache.Get(src); ok {
		return cached, nil
	}
	t, err := r.engine.ParseString(src)
	if err != nil {
		return nil, err
	}
	r.cache.Add(src, t)
	return t, nil
}

// capitalize upper-cases the first rune and lower-cases the rest.
func capitalize(s string) string {
	first, size := utf8.DecodeRuneInString(s)
	if first == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(first)) + strings.ToLower(s[size:])
}

// Bindings exposes a customer to templates.
//
//	name, first_name, email, phone, total_spend, visits, inactive_days, has_activity, tags
//
// inactive_days is nil for a customer with no recorded activity.
func Bindings(c customer.Customer, asOf time.Time) map[string]interface{} {
	first := c.Name
	if i := strings.IndexByte(first, ' '); i > 0 {
		first = first[:i]
	}
	var inactive interface{}
	if d := c.InactiveDays(asOf); !math.IsInf(d, 1) {
		inactive = int64(d)
	}
	tags := make([]interface{}, len(c.Tags))
	for i, t := range c.Tags {
		tags[i] = t
	}
	return map[string]interface{}{
		"id":            c.ID,
		"name":          c.Name,
		"first_name":    first,
		"email":         c.Email,
		"phone":         c.Phone,
		"total_spend":   c.TotalSpend,
		"visits":        c.Visits,
		"inactive_days": inactive,
		"has_activity":  inactive != nil,
		"tags":          tags,
	}
}
