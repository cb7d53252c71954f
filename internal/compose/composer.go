package compose

import (
	"context"
	"fmt"
	"strings"

	"github.com/gyaneshwarpardhi/audience/internal/apperr"
	"github.com/gyaneshwarpardhi/audience/internal/customer"
)

// Message is a candidate the UI offers for a campaign.
type Message struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Composer proposes messages for a customer and campaign goal.
type Composer interface {
	Compose(ctx context.Context, c customer.Customer, goal string) ([]Message, error)
}

type candidate struct {
	subject string
	body    string
}

// Candidates use the customer bindings plus "goal".
var defaultCandidates = []candidate{
	{
		subject: `{{ first_name | default: "Hi there" | capitalize }}, {{ goal }}`,
		body: `Hi {{ first_name | default: "there" }},

We have something special lined up for you: {{ goal }}.
{% if visits > 0 %}Thanks for the {{ visits }} visits so far. {% endif %}We'd love to see you again soon.`,
	},
	{
		subject: `A little something for you, {{ first_name | default: "friend" }}`,
		body: `Hello {{ name | default: "there" }},
{% if has_activity %}{% if inactive_days > 30 %}It's been {{ inactive_days }} days. We've missed you! {{ goal | capitalize }}.{% else %}Good to see you around. {{ goal | capitalize }}.{% endif %}{% else %}We haven't seen you yet, so here's a welcome: {{ goal }}.{% endif %}`,
	},
	{
		subject: `{{ goal | capitalize }}`,
		body: `Dear {{ name | default: "customer" }},
{% if total_spend > 10000 %}As one of our top customers ({{ total_spend | currency }} so far), you get first access: {{ goal }}.{% else %}Don't miss out: {{ goal }}.{% endif %}`,
	},
}

// TemplateComposer renders a fixed set of Liquid candidates.
type TemplateComposer struct {
	renderer   *Renderer
	candidates []candidate
}

// NewTemplateComposer creates a TemplateComposer using r.
func NewTemplateComposer(r *Renderer) *TemplateComposer {
	return &TemplateComposer{renderer: r, candidates: defaultCandidates}
}

func (tc *TemplateComposer) Compose(ctx context.Context, c customer.Customer, goal string) ([]Message, error) {
	goal = strings.TrimSpace(goal)
	if goal == "" {
		return nil, fmt.Errorf("%w: goal is required", apperr.ErrInvalidCampaign)
	}
	b := Bindings(c, tc.renderer.now())
	b["goal"] = goal

	out := make([]Message, 0, len(tc.candidates))
	for i, cand := range tc.candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		subject, err := tc.renderer.RenderWith(cand.subject, b)
		if err != nil {
			return nil, fmt.Errorf("candidate %d subject: %w", i, err)
		}
		body, err := tc.renderer.RenderWith(cand.body, b)
		if err != nil {
			return nil, fmt.Errorf("candidate %d body: %w", i, err)
		}
		out = append(out, Message{Subject: subject, Body: body})
	}
	return out, nil
}
