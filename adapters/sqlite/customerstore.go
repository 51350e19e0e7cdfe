package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/tutorlink/tutorbilling/domain/billing"
	"github.com/tutorlink/tutorbilling/ports"
)

// CustomerStore implements ports.CustomerStore using SQLite.
type CustomerStore struct {
	db *DB
}

// NewCustomerStore creates a new SQLite customer store.
func NewCustomerStore(db *DB) *CustomerStore {
	return &CustomerStore{db: db}
}

// GetByEmail returns the cached provider customer id for an email.
func (s *CustomerStore) GetByEmail(ctx context.Context, email string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT provider_customer_id FROM customers WHERE email = ?`,
		billing.NormalizeEmail(email),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", billing.ErrNotFound
	}
	return id, err
}

// Save stores the customer id for an email.
func (s *CustomerStore) Save(ctx context.Context, email, customerID string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (email, provider_customer_id, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET
			provider_customer_id = excluded.provider_customer_id,
			updated_at = excluded.updated_at
	`, billing.NormalizeEmail(email), customerID, now, now)
	return err
}

// Ensure interface compliance.
var _ ports.CustomerStore = (*CustomerStore)(nil)
