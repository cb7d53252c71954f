package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gyaneshwarpardhi/audience/internal/apperr"
	"github.com/gyaneshwarpardhi/audience/internal/customer"
)

const customerColumns = `id, name, email, phone, total_spend, visits, last_active_at, tags, created_at`

func scanCustomer(row scanner) (customer.Customer, error) {
	var (
		c          customer.Customer
		lastActive sql.NullInt64
		tags       string
		createdAt  int64
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.TotalSpend, &c.Visits, &lastActive, &tags, &createdAt); err != nil {
		return customer.Customer{}, err
	}
	c.LastActiveAt = timePtr(lastActive)
	c.CreatedAt = fromMillis(createdAt)
	if err := json.Unmarshal([]byte(tags), &c.Tags); err != nil {
		return customer.Customer{}, fmt.Errorf("decode tags for customer %s: %w", c.ID, err)
	}
	if c.Tags == nil {
		c.Tags = []string{}
	}
	return c, nil
}

// EachCustomer streams customers in id order from a single query.
func (s *Store) EachCustomer(ctx context.Context, fn func(customer.Customer) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT `+customerColumns+` FROM customers ORDER BY id`)
	if err != nil {
		return fmt.Errorf("query customers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return fmt.Errorf("scan customer: %w", err)
		}
		if err := fn(c); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate customers: %w", err)
	}
	return nil
}

func (s *Store) CreateCustomer(ctx context.Context, c customer.Customer) error {
	tags, err := json.Marshal(c.Tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO customers (`+customerColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Email, c.Phone, c.TotalSpend, c.Visits, nullMillis(c.LastActiveAt), string(tags), toMillis(c.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: customer %s already exists", apperr.ErrInvalidCustomer, c.ID)
		}
		return fmt.Errorf("insert customer: %w", err)
	}
	return nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (customer.Customer, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = ?`, id)
	c, err := scanCustomer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return customer.Customer{}, fmt.Errorf("customer %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return customer.Customer{}, fmt.Errorf("get customer: %w", err)
	}
	return c, nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]customer.Customer, error) {
	out := []customer.Customer{}
	err := s.EachCustomer(ctx, func(c customer.Customer) error {
		out = append(out, c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteCustomer is idempotent. Delivery records referencing the customer are kept.
func (s *Store) DeleteCustomer(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM customers WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete customer: %w", err)
	}
	return nil
}

// RecordActivity bumps visits and sets lastActiveAt.
func (s *Store) RecordActivity(ctx context.Context, id string, at time.Time) (customer.Customer, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE customers SET visits = visits + 1, last_active_at = ? WHERE id = ? RETURNING `+customerColumns,
		toMillis(at), id,
	)
	c, err := scanCustomer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return customer.Customer{}, fmt.Errorf("customer %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return customer.Customer{}, fmt.Errorf("record activity: %w", err)
	}
	return c, nil
}

func (s *Store) CountCustomers(ctx context.Context) (int64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM customers`)
}

func (s *Store) count(ctx context.Context, query string, args ...any) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

var _ customer.Store = (*Store)(nil)
