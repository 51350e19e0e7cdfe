// Package billing provides premium billing value types and pure functions.
package billing

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when no billing record matches a lookup.
var ErrNotFound = errors.New("billing record not found")

// AccountClass identifies which of the two parallel billing tables a record lives in.
type AccountClass string

const (
	ClassTutor   AccountClass = "tutor"
	ClassStudent AccountClass = "student"
)

// Classes lists every account class, tutor first.
var Classes = []AccountClass{ClassTutor, ClassStudent}

// ParseAccountClass parses an account class from user input.
// "teacher" is accepted as an alias for tutor.
func ParseAccountClass(s string) (AccountClass, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tutor", "teacher":
		return ClassTutor, nil
	case "student":
		return ClassStudent, nil
	}
	return "", fmt.Errorf("unknown account class %q", s)
}

// SubscriptionStatus mirrors the provider's subscription lifecycle.
type SubscriptionStatus string

const (
	StatusNone     SubscriptionStatus = "none"
	StatusActive   SubscriptionStatus = "active"
	StatusTrialing SubscriptionStatus = "trialing"
	StatusPastDue  SubscriptionStatus = "past_due"
	StatusUnpaid   SubscriptionStatus = "unpaid"
	StatusCanceled SubscriptionStatus = "canceled"
)

// ParseStatus maps a provider status string onto the local lifecycle.
// Provider states without a local counterpart collapse to the closest one:
// incomplete states have not been paid yet, paused ones are not collecting.
func ParseStatus(s string) SubscriptionStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "active":
		return StatusActive
	case "trialing":
		return StatusTrialing
	case "past_due":
		return StatusPastDue
	case "unpaid", "incomplete", "paused":
		return StatusUnpaid
	case "canceled", "cancelled", "incomplete_expired":
		return StatusCanceled
	case "", "none":
		return StatusNone
	}
	return StatusNone
}

// IsPaid reports whether the status grants paid access.
func (s SubscriptionStatus) IsPaid() bool {
	return s == StatusActive || s == StatusTrialing
}

// Record is the persisted billing state of one account (value type).
type Record struct {
	ID           string
	Class        AccountClass
	AccountEmail string

	CustomerID     string // empty when unknown
	SubscriptionID string // empty for legacy records

	Status             SubscriptionStatus
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
	CanceledAt         *time.Time

	// LegacyPaid is the one-time purchase flag (is_paid / is_payed).
	LegacyPaid      bool
	PaymentDate     *time.Time
	PaymentAmount   int64 // minor units
	PaymentCurrency string
	SessionID       string

	ContentPayload []byte

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasSubscription reports whether activity is governed by subscription fields.
func (r Record) HasSubscription() bool {
	return r.SubscriptionID != ""
}

// Update is a field-sparse change to a record. Nil fields are left untouched,
// except CancelAtPeriodEnd, which is always written.
type Update struct {
	AccountEmail string

	CustomerID     *string
	SubscriptionID *string

	Status             *SubscriptionStatus
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
	CanceledAt         *time.Time

	// LegacyPaid is only honored when Status is nil; otherwise the flag
	// is recomputed from the status.
	LegacyPaid      *bool
	PaymentDate     *time.Time
	PaymentAmount   *int64
	PaymentCurrency *string
	SessionID       *string
}

// LegacyFlag returns the legacy-paid value the update writes, or nil when it
// leaves the flag untouched. A status always wins over an explicit flag.
func (u Update) LegacyFlag() *bool {
	if u.Status != nil {
		return Bool(u.Status.IsPaid())
	}
	return u.LegacyPaid
}

// NormalizeEmail canonicalizes an account email for use as a natural key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Validate checks that the update can identify a record.
func (u Update) Validate() error {
	if NormalizeEmail(u.AccountEmail) == "" {
		return errors.New("account email is required")
	}
	if u.SubscriptionID != nil && strings.TrimSpace(*u.SubscriptionID) == "" {
		return errors.New("subscription id must not be blank when provided")
	}
	return nil
}

// Apply merges u into r and returns the result. r is not modified.
// This is a PURE function.
func (r Record) Apply(u Update, now time.Time) Record {
	out := r
	if r.AccountEmail == "" {
		out.AccountEmail = NormalizeEmail(u.AccountEmail)
	}
	if u.CustomerID != nil && *u.CustomerID != "" {
		out.CustomerID = *u.CustomerID
	}
	if u.SubscriptionID != nil && *u.SubscriptionID != "" {
		out.SubscriptionID = *u.SubscriptionID
	}
	if u.Status != nil {
		out.Status = *u.Status
	}
	if u.CurrentPeriodStart != nil {
		out.CurrentPeriodStart = timePtr(*u.CurrentPeriodStart)
	}
	if u.CurrentPeriodEnd != nil {
		out.CurrentPeriodEnd = timePtr(*u.CurrentPeriodEnd)
	}
	out.CancelAtPeriodEnd = u.CancelAtPeriodEnd
	if u.CanceledAt != nil {
		out.CanceledAt = timePtr(*u.CanceledAt)
	}

	if paid := u.LegacyFlag(); paid != nil {
		out.LegacyPaid = *paid
	}

	if u.PaymentDate != nil {
		out.PaymentDate = timePtr(*u.PaymentDate)
	}
	if u.PaymentAmount != nil {
		out.PaymentAmount = *u.PaymentAmount
	}
	if u.PaymentCurrency != nil && *u.PaymentCurrency != "" {
		out.PaymentCurrency = *u.PaymentCurrency
	}
	if u.SessionID != nil && *u.SessionID != "" {
		out.SessionID = *u.SessionID
	}

	if out.Status == "" {
		out.Status = StatusNone
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	out.UpdatedAt = now
	return out
}

// NewRecord builds the first version of a record from an update.
func NewRecord(id string, class AccountClass, u Update, now time.Time) Record {
	return Record{ID: id, Class: class}.Apply(u, now)
}

func timePtr(t time.Time) *time.Time {
	t = t.UTC()
	return &t
}

// Helpers for building sparse updates.

// String returns a pointer to s, or nil when s is empty.
func String(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Int64 returns a pointer to n.
func Int64(n int64) *int64 { return &n }

// Bool returns a pointer to b.
func Bool(b bool) *bool { return &b }

// Time returns a pointer to t, or nil when t is zero.
func Time(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// StatusPtr returns a pointer to s.
func StatusPtr(s SubscriptionStatus) *SubscriptionStatus { return &s }
