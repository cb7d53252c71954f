// Package customer defines the customer record the engine reads and the store
// contract used to stream it.
package customer

import (
	"context"
	"fmt"
	"math"
	"net/mail"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/audience/internal/apperr"
)

// Customer is owned by the customer store; the engine only reads it.
type Customer struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	Phone        string     `json:"phone,omitempty"`
	TotalSpend   float64    `json:"totalSpend"`
	Visits       int        `json:"visits"`
	LastActiveAt *time.Time `json:"lastActiveAt,omitempty"`
	Tags         []string   `json:"tags"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// InactiveDays is floor((asOf - lastActiveAt) / 24h). A customer with no recorded
// activity is maximally inactive and gets +Inf.
func (c Customer) InactiveDays(asOf time.Time) float64 {
	if c.LastActiveAt == nil || c.LastActiveAt.IsZero() {
		return math.Inf(1)
	}
	return math.Floor(asOf.Sub(*c.LastActiveAt).Hours() / 24)
}

// Source streams customers in ascending id order within one consistent read.
// Returning an error from fn stops the iteration and is returned unchanged.
type Source interface {
	EachCustomer(ctx context.Context, fn func(Customer) error) error
}

// Store is the CRUD surface behind /api/customers.
type Store interface {
	Source
	CreateCustomer(ctx context.Context, c Customer) error
	GetCustomer(ctx context.Context, id string) (Customer, error)
	ListCustomers(ctx context.Context) ([]Customer, error)
	DeleteCustomer(ctx context.Context, id string) error
	RecordActivity(ctx context.Context, id string, at time.Time) (Customer, error)
	CountCustomers(ctx context.Context) (int64, error)
}

// Normalize trims free-text fields and drops empty tags.
func (c *Customer) Normalize() {
	c.Name = strings.TrimSpace(c.Name)
	c.Email = strings.TrimSpace(strings.ToLower(c.Email))
	c.Phone = strings.TrimSpace(c.Phone)
	tags := c.Tags[:0]
	for _, t := range c.Tags {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	if tags == nil {
		tags = []string{}
	}
	c.Tags = tags
}

// Validate enforces the fields the UI marks as required.
func (c Customer) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: name is required", apperr.ErrInvalidCustomer)
	}
	if c.Email == "" {
		return fmt.Errorf("%w: email is required", apperr.ErrInvalidCustomer)
	}
	if _, err := mail.ParseAddress(c.Email); err != nil {
		return fmt.Errorf("%w: email %q is not valid", apperr.ErrInvalidCustomer, c.Email)
	}
	if c.TotalSpend < 0 || math.IsNaN(c.TotalSpend) || math.IsInf(c.TotalSpend, 0) {
		return fmt.Errorf("%w: totalSpend must be a non-negative number", apperr.ErrInvalidCustomer)
	}
	if c.Visits < 0 {
		return fmt.Errorf("%w: visits must be non-negative", apperr.ErrInvalidCustomer)
	}
	return nil
}
