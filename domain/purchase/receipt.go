package purchase

import (
	"errors"
	"time"
)

// ErrNotFound is returned when no receipt matches a lookup.
var ErrNotFound = errors.New("purchase receipt not found")

// Receipt records a completed one-time purchase (value type).
// SessionID is unique; recording the same session twice is a no-op.
type Receipt struct {
	ID              string
	SessionID       string
	Kind            Kind
	BuyerEmail      string
	CustomerID      string
	RequestID       string
	TargetTeacherID string
	Amount          int64
	Currency        string
	CreatedAt       time.Time
}

// NewReceipt builds a receipt for a one-time variant.
// It returns false for subscription variants, which are not receipts.
func NewReceipt(id, sessionID string, p Purchase, amount int64, currency string, now time.Time) (Receipt, bool) {
	r := Receipt{
		ID:        id,
		SessionID: sessionID,
		Kind:      p.Kind(),
		Amount:    amount,
		Currency:  currency,
		CreatedAt: now,
	}
	switch v := p.(type) {
	case ContactPurchase:
		r.RequestID = v.RequestID
		r.BuyerEmail = v.BuyerEmail
	case TeacherPurchase:
		r.TargetTeacherID = v.TargetTeacherID
		r.BuyerEmail = v.BuyerEmail
	default:
		return Receipt{}, false
	}
	return r, true
}
