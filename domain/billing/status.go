package billing

import (
	"math"
	"time"
)

// Day is the unit for premium windows and remaining-day counts.
const Day = 24 * time.Hour

// StatusSource identifies which billing model produced a status.
type StatusSource string

const (
	SourceNone         StatusSource = "none"
	SourceSubscription StatusSource = "subscription"
	SourceLegacy       StatusSource = "legacy"
)

// Policy tunes the premium status calculation.
type Policy struct {
	// TutorLegacyWindow and StudentLegacyWindow bound the premium window
	// granted by a one-time payment.
	TutorLegacyWindow   time.Duration
	StudentLegacyWindow time.Duration

	// HonorPeriodOnCancel keeps a subscription marked cancel_at_period_end
	// active until its period ends. When false the cancellation wins.
	HonorPeriodOnCancel bool
}

// DefaultPolicy returns the grandfather windows used for pre-subscription accounts.
func DefaultPolicy() Policy {
	return Policy{
		TutorLegacyWindow:   365 * Day,
		StudentLegacyWindow: 365 * Day,
	}
}

// LegacyWindow returns the one-time payment window for a class.
func (p Policy) LegacyWindow(class AccountClass) time.Duration {
	if class == ClassStudent && p.StudentLegacyWindow > 0 {
		return p.StudentLegacyWindow
	}
	if p.TutorLegacyWindow > 0 {
		return p.TutorLegacyWindow
	}
	return 365 * Day
}

// Status is the derived premium state of a record.
type Status struct {
	HasPremium        bool         `json:"has_premium"`
	IsActive          bool         `json:"is_active"`
	DaysRemaining     int          `json:"days_remaining"`
	NextChargeDate    *time.Time   `json:"next_charge_date,omitempty"`
	ExpiresAt         *time.Time   `json:"expires_at,omitempty"`
	CancelAtPeriodEnd bool         `json:"cancel_at_period_end"`
	Source            StatusSource `json:"source"`
}

// ComputeStatus derives premium status from a stored record.
// This is a PURE function: it never mutates the record, so a stale
// "active" subscription is reported inactive rather than rewritten.
func ComputeStatus(r Record, now time.Time, p Policy) Status {
	switch {
	case r.HasSubscription():
		return subscriptionStatus(r, now, p)
	case r.LegacyPaid:
		return legacyStatus(r, now, p)
	}
	return Status{Source: SourceNone}
}

func subscriptionStatus(r Record, now time.Time, p Policy) Status {
	if !r.Status.IsPaid() {
		return Status{Source: SourceNone, CancelAtPeriodEnd: r.CancelAtPeriodEnd}
	}

	st := Status{
		HasPremium:        true,
		Source:            SourceSubscription,
		CancelAtPeriodEnd: r.CancelAtPeriodEnd,
		ExpiresAt:         r.CurrentPeriodEnd,
	}

	inPeriod := r.CurrentPeriodEnd == nil || now.Before(*r.CurrentPeriodEnd)
	st.IsActive = inPeriod && (!r.CancelAtPeriodEnd || p.HonorPeriodOnCancel)

	if st.IsActive && !r.CancelAtPeriodEnd && r.CurrentPeriodEnd != nil {
		st.DaysRemaining = daysUntil(now, *r.CurrentPeriodEnd)
		next := *r.CurrentPeriodEnd
		st.NextChargeDate = &next
	} else if st.IsActive && r.CurrentPeriodEnd != nil {
		st.DaysRemaining = daysUntil(now, *r.CurrentPeriodEnd)
	}
	return st
}

func legacyStatus(r Record, now time.Time, p Policy) Status {
	st := Status{HasPremium: true, Source: SourceLegacy}
	if r.PaymentDate == nil {
		return st
	}
	end := r.PaymentDate.Add(p.LegacyWindow(r.Class))
	st.ExpiresAt = &end
	if now.Before(end) {
		st.IsActive = true
		st.DaysRemaining = daysUntil(now, end)
	}
	return st
}

// daysUntil returns ceil((end - now) / 1 day), never negative.
func daysUntil(now, end time.Time) int {
	d := end.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(float64(d) / float64(Day)))
}
