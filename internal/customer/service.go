package customer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Service validates customer input before it reaches the store.
type Service struct {
	store  Store
	now    func() time.Time
	logger *slog.Logger
}

func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, now: time.Now, logger: logger}
}

// Create normalizes and validates c, assigns an id when missing and stores it.
func (s *Service) Create(ctx context.Context, c Customer) (Customer, error) {
	c.Normalize()
	if err := c.Validate(); err != nil {
		return Customer{}, err
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.CreatedAt = s.now().UTC()
	if err := s.store.CreateCustomer(ctx, c); err != nil {
		return Customer{}, fmt.Errorf("create customer: %w", err)
	}
	s.logger.Info("customer created", "customer_id", c.ID)
	return c, nil
}

func (s *Service) Get(ctx context.Context, id string) (Customer, error) {
	return s.store.GetCustomer(ctx, id)
}

// List returns every customer ordered by id.
func (s *Service) List(ctx context.Context) ([]Customer, error) {
	return s.store.ListCustomers(ctx)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.DeleteCustomer(ctx, id)
}

// RecordActivity registers a visit now.
func (s *Service) RecordActivity(ctx context.Context, id string) (Customer, error) {
	return s.store.RecordActivity(ctx, id, s.now().UTC())
}
