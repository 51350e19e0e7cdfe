package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tutorlink/tutorbilling/adapters/clock"
	"github.com/tutorlink/tutorbilling/domain/billing"
	"github.com/tutorlink/tutorbilling/ports"
)

// table describes the per-class billing table. The two tables are identical
// except for the name of the legacy payment column.
type table struct {
	name    string
	paidCol string
}

var tables = map[billing.AccountClass]table{
	billing.ClassTutor:   {name: "tutor_billing", paidCol: "is_paid"},
	billing.ClassStudent: {name: "student_billing", paidCol: "is_payed"},
}

func tableFor(class billing.AccountClass) (table, error) {
	t, ok := tables[class]
	if !ok {
		return table{}, fmt.Errorf("unknown account class %q", class)
	}
	return t, nil
}

func (t table) columns() string {
	return `id, account_email, provider_customer_id, provider_subscription_id,
		subscription_status, current_period_start, current_period_end,
		cancel_at_period_end, canceled_at, ` + t.paidCol + `, payment_date,
		payment_amount, payment_currency, provider_session_id, content_payload,
		created_at, updated_at`
}

// BillingStore implements ports.BillingStore using SQLite.
type BillingStore struct {
	db    *DB
	ids   ports.IDGenerator
	clock ports.Clock
}

// NewBillingStore creates a new SQLite billing store.
func NewBillingStore(db *DB, ids ports.IDGenerator, clk ports.Clock) *BillingStore {
	if clk == nil {
		clk = clock.Real{}
	}
	return &BillingStore{db: db, ids: ids, clock: clk}
}

// Upsert creates or merges the record for u.AccountEmail in one immediate
// transaction. The subscription id lookup runs first so a subscription whose
// customer changed email keeps updating its original row.
func (s *BillingStore) Upsert(ctx context.Context, class billing.AccountClass, u billing.Update) (billing.Record, bool, error) {
	if err := u.Validate(); err != nil {
		return billing.Record{}, false, err
	}
	t, err := tableFor(class)
	if err != nil {
		return billing.Record{}, false, err
	}
	u.AccountEmail = billing.NormalizeEmail(u.AccountEmail)
	now := s.clock.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return billing.Record{}, false, fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	existing, err := s.findExisting(ctx, tx, t, class, u)
	switch {
	case err == nil:
		merged := existing.Apply(u, now)
		if err := updateRecord(ctx, tx, t, merged); err != nil {
			return billing.Record{}, false, err
		}
		if err := tx.Commit(); err != nil {
			return billing.Record{}, false, fmt.Errorf("commit upsert: %w", err)
		}
		return merged, false, nil
	case !errors.Is(err, billing.ErrNotFound):
		return billing.Record{}, false, err
	}

	id := s.ids.New()
	if err := insertRecord(ctx, tx, t, id, u, now); err != nil {
		return billing.Record{}, false, err
	}
	rec, err := queryOne(ctx, tx, t, class, "account_email = ?", u.AccountEmail)
	if err != nil {
		return billing.Record{}, false, fmt.Errorf("read back upsert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return billing.Record{}, false, fmt.Errorf("commit upsert: %w", err)
	}
	return rec, rec.ID == id, nil
}

func (s *BillingStore) findExisting(ctx context.Context, tx *sql.Tx, t table, class billing.AccountClass, u billing.Update) (billing.Record, error) {
	if u.SubscriptionID != nil && *u.SubscriptionID != "" {
		rec, err := queryOne(ctx, tx, t, class, "provider_subscription_id = ?", *u.SubscriptionID)
		if !errors.Is(err, billing.ErrNotFound) {
			return rec, err
		}
	}
	return queryOne(ctx, tx, t, class, "account_email = ?", u.AccountEmail)
}

// insertRecord writes only the fields the update carries. If a concurrent
// writer created the row first, the unique email constraint turns the insert
// into a merge of the provided fields.
func insertRecord(ctx context.Context, tx *sql.Tx, t table, id string, u billing.Update, now time.Time) error {
	var status sql.NullString
	if u.Status != nil {
		status = nullString(string(*u.Status))
	}

	query := `INSERT INTO ` + t.name + ` (` + t.columns() + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)
		ON CONFLICT(account_email) DO UPDATE SET
			provider_customer_id     = COALESCE(excluded.provider_customer_id, provider_customer_id),
			provider_subscription_id = COALESCE(excluded.provider_subscription_id, provider_subscription_id),
			subscription_status      = COALESCE(excluded.subscription_status, subscription_status),
			current_period_start     = COALESCE(excluded.current_period_start, current_period_start),
			current_period_end       = COALESCE(excluded.current_period_end, current_period_end),
			cancel_at_period_end     = excluded.cancel_at_period_end,
			canceled_at              = COALESCE(excluded.canceled_at, canceled_at),
			` + t.paidCol + ` = COALESCE(excluded.` + t.paidCol + `, ` + t.paidCol + `),
			payment_date             = COALESCE(excluded.payment_date, payment_date),
			payment_amount           = COALESCE(excluded.payment_amount, payment_amount),
			payment_currency         = COALESCE(excluded.payment_currency, payment_currency),
			provider_session_id      = COALESCE(excluded.provider_session_id, provider_session_id),
			updated_at               = excluded.updated_at`

	_, err := tx.ExecContext(ctx, query,
		id, u.AccountEmail, nullStringPtr(u.CustomerID), nullStringPtr(u.SubscriptionID),
		status, nullTime(u.CurrentPeriodStart), nullTime(u.CurrentPeriodEnd),
		boolToInt(u.CancelAtPeriodEnd), nullTime(u.CanceledAt), nullBool(u.LegacyFlag()),
		nullTime(u.PaymentDate), nullInt64(u.PaymentAmount), nullStringPtr(u.PaymentCurrency),
		nullStringPtr(u.SessionID), now, now,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("insert %s: %w", t.name, ErrDuplicate)
		}
		return fmt.Errorf("insert %s: %w", t.name, err)
	}
	return nil
}

func updateRecord(ctx context.Context, tx *sql.Tx, t table, r billing.Record) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE `+t.name+`
		SET provider_customer_id = ?, provider_subscription_id = ?,
		    subscription_status = ?, current_period_start = ?, current_period_end = ?,
		    cancel_at_period_end = ?, canceled_at = ?, `+t.paidCol+` = ?,
		    payment_date = ?, payment_amount = ?, payment_currency = ?,
		    provider_session_id = ?, updated_at = ?
		WHERE id = ?
	`,
		nullString(r.CustomerID), nullString(r.SubscriptionID),
		string(r.Status), nullTime(r.CurrentPeriodStart), nullTime(r.CurrentPeriodEnd),
		boolToInt(r.CancelAtPeriodEnd), nullTime(r.CanceledAt), boolToInt(r.LegacyPaid),
		nullTime(r.PaymentDate), r.PaymentAmount, nullString(r.PaymentCurrency),
		nullString(r.SessionID), r.UpdatedAt, r.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("update %s: %w", t.name, ErrDuplicate)
		}
		return fmt.Errorf("update %s: %w", t.name, err)
	}
	return nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryOne(ctx context.Context, q querier, t table, class billing.AccountClass, where string, args ...any) (billing.Record, error) {
	row := q.QueryRowContext(ctx, `SELECT `+t.columns()+` FROM `+t.name+` WHERE `+where, args...)
	rec, err := scanRecord(row, class)
	if errors.Is(err, sql.ErrNoRows) {
		return billing.Record{}, billing.ErrNotFound
	}
	return rec, err
}

func scanRecord(row scanner, class billing.AccountClass) (billing.Record, error) {
	var (
		r                         billing.Record
		customerID, subID, status sql.NullString
		currency, sessionID       sql.NullString
		periodStart, periodEnd    sql.NullTime
		canceledAt, paymentDate   sql.NullTime
		cancelAtPeriodEnd         int64
		paid, amount              sql.NullInt64
		payload                   []byte
	)
	err := row.Scan(
		&r.ID, &r.AccountEmail, &customerID, &subID,
		&status, &periodStart, &periodEnd,
		&cancelAtPeriodEnd, &canceledAt, &paid, &paymentDate,
		&amount, &currency, &sessionID, &payload,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return billing.Record{}, err
	}

	r.Class = class
	r.CustomerID = customerID.String
	r.SubscriptionID = subID.String
	r.Status = billing.StatusNone
	if status.Valid && status.String != "" {
		r.Status = billing.SubscriptionStatus(status.String)
	}
	r.CurrentPeriodStart = timePtr(periodStart)
	r.CurrentPeriodEnd = timePtr(periodEnd)
	r.CancelAtPeriodEnd = cancelAtPeriodEnd == 1
	r.CanceledAt = timePtr(canceledAt)
	r.LegacyPaid = paid.Valid && paid.Int64 == 1
	r.PaymentDate = timePtr(paymentDate)
	r.PaymentAmount = amount.Int64
	r.PaymentCurrency = currency.String
	r.SessionID = sessionID.String
	r.ContentPayload = payload
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return r, nil
}

// Get retrieves a record by ID.
func (s *BillingStore) Get(ctx context.Context, class billing.AccountClass, id string) (billing.Record, error) {
	t, err := tableFor(class)
	if err != nil {
		return billing.Record{}, err
	}
	return queryOne(ctx, s.db, t, class, "id = ?", id)
}

// GetByEmail retrieves a record by account email.
func (s *BillingStore) GetByEmail(ctx context.Context, class billing.AccountClass, email string) (billing.Record, error) {
	t, err := tableFor(class)
	if err != nil {
		return billing.Record{}, err
	}
	return queryOne(ctx, s.db, t, class, "account_email = ?", billing.NormalizeEmail(email))
}

// GetBySubscriptionID retrieves a record by provider subscription id.
func (s *BillingStore) GetBySubscriptionID(ctx context.Context, class billing.AccountClass, subscriptionID string) (billing.Record, error) {
	t, err := tableFor(class)
	if err != nil {
		return billing.Record{}, err
	}
	return queryOne(ctx, s.db, t, class, "provider_subscription_id = ?", subscriptionID)
}

// UpdateContent replaces the premium content payload.
func (s *BillingStore) UpdateContent(ctx context.Context, class billing.AccountClass, email string, payload []byte, now time.Time) error {
	t, err := tableFor(class)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE `+t.name+` SET content_payload = ?, updated_at = ? WHERE account_email = ?`,
		payload, now.UTC(), billing.NormalizeEmail(email),
	)
	if err != nil {
		return fmt.Errorf("update content: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return billing.ErrNotFound
	}
	return nil
}

// ListActive returns records whose stored status grants access.
func (s *BillingStore) ListActive(ctx context.Context, class billing.AccountClass) ([]billing.Record, error) {
	t, err := tableFor(class)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+t.columns()+` FROM `+t.name+`
		WHERE provider_subscription_id IS NOT NULL
		  AND subscription_status IN ('active', 'trialing')
		ORDER BY current_period_end
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []billing.Record
	for rows.Next() {
		rec, err := scanRecord(rows, class)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Count returns the number of records for a class.
func (s *BillingStore) Count(ctx context.Context, class billing.AccountClass) (int, error) {
	t, err := tableFor(class)
	if err != nil {
		return 0, err
	}
	var n int
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+t.name).Scan(&n)
	return n, err
}

// Ensure interface compliance.
var _ ports.BillingStore = (*BillingStore)(nil)
