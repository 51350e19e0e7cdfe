package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tutorlink/tutorbilling/domain/billing"
	"github.com/tutorlink/tutorbilling/domain/purchase"
	"github.com/tutorlink/tutorbilling/ports"
)

// PurchaseStore implements ports.PurchaseStore using SQLite.
type PurchaseStore struct {
	db *DB
}

// NewPurchaseStore creates a new SQLite purchase store.
func NewPurchaseStore(db *DB) *PurchaseStore {
	return &PurchaseStore{db: db}
}

// Create stores a receipt unless its session was already recorded.
func (s *PurchaseStore) Create(ctx context.Context, r purchase.Receipt) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO purchases (
			id, session_id, kind, buyer_email, customer_id, request_id,
			target_teacher_id, amount, currency, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO NOTHING
	`,
		r.ID, r.SessionID, string(r.Kind), nullString(billing.NormalizeEmail(r.BuyerEmail)),
		nullString(r.CustomerID), nullString(r.RequestID), nullString(r.TargetTeacherID),
		r.Amount, nullString(r.Currency), r.CreatedAt.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("insert purchase: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

const purchaseColumns = `id, session_id, kind, buyer_email, customer_id, request_id,
	target_teacher_id, amount, currency, created_at`

// GetBySession retrieves a receipt by checkout session id.
func (s *PurchaseStore) GetBySession(ctx context.Context, sessionID string) (purchase.Receipt, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+purchaseColumns+` FROM purchases WHERE session_id = ?`, sessionID)
	r, err := scanReceipt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return purchase.Receipt{}, purchase.ErrNotFound
	}
	return r, err
}

// ListByBuyer returns receipts for a buyer, newest first.
func (s *PurchaseStore) ListByBuyer(ctx context.Context, email string, limit int) ([]purchase.Receipt, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+purchaseColumns+` FROM purchases
		WHERE buyer_email = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, billing.NormalizeEmail(email), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []purchase.Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanReceipt(row scanner) (purchase.Receipt, error) {
	var (
		r                                purchase.Receipt
		kind                             string
		buyer, customer, request, target sql.NullString
		currency                         sql.NullString
	)
	err := row.Scan(&r.ID, &r.SessionID, &kind, &buyer, &customer, &request,
		&target, &r.Amount, &currency, &r.CreatedAt)
	if err != nil {
		return purchase.Receipt{}, err
	}
	r.Kind = purchase.Kind(kind)
	r.BuyerEmail = buyer.String
	r.CustomerID = customer.String
	r.RequestID = request.String
	r.TargetTeacherID = target.String
	r.Currency = currency.String
	r.CreatedAt = r.CreatedAt.UTC()
	return r, nil
}

// Ensure interface compliance.
var _ ports.PurchaseStore = (*PurchaseStore)(nil)
