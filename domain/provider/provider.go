// Package provider holds provider-neutral views of billing provider objects.
// Adapters translate SDK types into these values so the app layer never
// imports a payment SDK.
package provider

import (
	"errors"
	"time"
)

// ErrMalformedEvent means a webhook payload passed verification but its
// object could not be decoded.
var ErrMalformedEvent = errors.New("malformed event payload")

// EventType is a webhook event name.
type EventType string

// Handled event types.
const (
	EventCheckoutCompleted   EventType = "checkout.session.completed"
	EventSubscriptionCreated EventType = "customer.subscription.created"
	EventSubscriptionUpdated EventType = "customer.subscription.updated"
	EventSubscriptionDeleted EventType = "customer.subscription.deleted"
	EventInvoiceSucceeded    EventType = "invoice.payment_succeeded"
	EventInvoicePaid         EventType = "invoice.paid"
	EventInvoiceFailed       EventType = "invoice.payment_failed"
)

// Billing reasons carried by invoices.
const (
	ReasonSubscriptionCreate = "subscription_create"
	ReasonSubscriptionCycle  = "subscription_cycle"
)

// Checkout session modes.
const (
	ModePayment      = "payment"
	ModeSubscription = "subscription"
)

// Event is a verified webhook event. Exactly one of Session, Subscription
// or Invoice is set for handled event types.
type Event struct {
	ID      string
	Type    EventType
	Created time.Time

	Session      *CheckoutSession
	Subscription *Subscription
	Invoice      *Invoice
}

// CheckoutSession is a hosted checkout page.
type CheckoutSession struct {
	ID             string
	Mode           string
	Status         string
	PaymentStatus  string
	CustomerID     string
	CustomerEmail  string
	SubscriptionID string
	AmountTotal    int64
	Currency       string
	URL            string
	Metadata       map[string]string
	Created        time.Time
}

// Paid reports whether the session collected its payment.
func (s CheckoutSession) Paid() bool {
	return s.PaymentStatus == "paid" || s.PaymentStatus == "no_payment_required"
}

// Subscription is a recurring billing agreement.
type Subscription struct {
	ID                 string
	CustomerID         string
	CustomerEmail      string
	Status             string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
	CanceledAt         time.Time
	Metadata           map[string]string
	// Amount and Currency come from the first subscription item, when expanded.
	Amount   int64
	Currency string
}

// Invoice is a bill for a subscription period.
type Invoice struct {
	ID             string
	Number         string
	SubscriptionID string
	CustomerID     string
	CustomerEmail  string
	BillingReason  string
	AmountPaid     int64
	AmountDue      int64
	Currency       string
	HostedURL      string
	PeriodStart    time.Time
	PeriodEnd      time.Time
	Created        time.Time
}

// Reference returns the human-facing invoice reference.
func (i Invoice) Reference() string {
	if i.Number != "" {
		return i.Number
	}
	return i.ID
}

// Customer is a provider-side customer.
type Customer struct {
	ID    string
	Email string
}

// Interval is a recurring billing interval.
type Interval string

const (
	IntervalMonth Interval = "month"
	IntervalYear  Interval = "year"
)

// Offer describes a recurring price the catalog must resolve to a provider price id.
type Offer struct {
	// Key identifies the offer in provider metadata, e.g. "tutor_premium_monthly".
	Key         string
	ProductName string
	Amount      int64
	Currency    string
	Interval    Interval
}

// LineItem is an inline one-time price.
type LineItem struct {
	Name     string
	Amount   int64
	Currency string
	Quantity int64
}

// CheckoutRequest is everything the provider needs to open a checkout session.
type CheckoutRequest struct {
	Mode       string
	CustomerID string
	PriceID    string    // recurring sessions
	LineItem   *LineItem // one-time sessions
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
	// SubscriptionMetadata is copied onto the subscription the session creates.
	SubscriptionMetadata map[string]string
}
