// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"time"

	"github.com/tutorlink/tutorbilling/domain/billing"
	"github.com/tutorlink/tutorbilling/domain/provider"
	"github.com/tutorlink/tutorbilling/domain/purchase"
	"github.com/tutorlink/tutorbilling/domain/webhook"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Storage Ports
// -----------------------------------------------------------------------------

// BillingStore persists premium billing records, one table per account class.
type BillingStore interface {
	// Upsert atomically creates or merges the record for u.AccountEmail.
	// A record already holding u.SubscriptionID is updated even when it was
	// created under another email. Returns the persisted record and whether
	// it was inserted.
	Upsert(ctx context.Context, class billing.AccountClass, u billing.Update) (billing.Record, bool, error)

	// Get retrieves a record by ID.
	Get(ctx context.Context, class billing.AccountClass, id string) (billing.Record, error)

	// GetByEmail retrieves a record by account email.
	GetByEmail(ctx context.Context, class billing.AccountClass, email string) (billing.Record, error)

	// GetBySubscriptionID retrieves a record by provider subscription id.
	GetBySubscriptionID(ctx context.Context, class billing.AccountClass, subscriptionID string) (billing.Record, error)

	// UpdateContent replaces the premium content payload of a record.
	UpdateContent(ctx context.Context, class billing.AccountClass, email string, payload []byte, now time.Time) error

	// ListActive returns records whose stored status is active or trialing.
	ListActive(ctx context.Context, class billing.AccountClass) ([]billing.Record, error)

	// Count returns the number of records for a class.
	Count(ctx context.Context, class billing.AccountClass) (int, error)
}

// CustomerStore caches provider customer ids by email.
type CustomerStore interface {
	// GetByEmail returns the cached customer id, or billing.ErrNotFound.
	GetByEmail(ctx context.Context, email string) (string, error)

	// Save stores the customer id for an email, replacing any previous one.
	Save(ctx context.Context, email, customerID string) error
}

// PurchaseStore persists one-time purchase receipts.
type PurchaseStore interface {
	// Create stores a receipt. It reports false when the session was already recorded.
	Create(ctx context.Context, r purchase.Receipt) (bool, error)

	// GetBySession retrieves a receipt by checkout session id.
	GetBySession(ctx context.Context, sessionID string) (purchase.Receipt, error)

	// ListByBuyer returns receipts for a buyer email, newest first.
	ListByBuyer(ctx context.Context, email string, limit int) ([]purchase.Receipt, error)
}

// EventLog is the inbound webhook event ledger.
type EventLog interface {
	// Begin records receipt of an event. When the event was seen before it
	// returns the prior entry and seen=true, and bumps the attempt count.
	Begin(ctx context.Context, eventID, eventType string, now time.Time) (prior webhook.Entry, seen bool, err error)

	// Finish stores the processing outcome.
	Finish(ctx context.Context, eventID string, status webhook.Status, errText string, now time.Time) error

	// Get retrieves a ledger entry.
	Get(ctx context.Context, eventID string) (webhook.Entry, error)

	// ListFailed returns failed events, oldest first.
	ListFailed(ctx context.Context, limit int) ([]webhook.Entry, error)
}

// -----------------------------------------------------------------------------
// Cache & Coordination Ports
// -----------------------------------------------------------------------------

// CatalogCache stores resolved provider price ids by offer key.
type CatalogCache interface {
	// Get returns the cached price id and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores a price id for ttl.
	Set(ctx context.Context, key, priceID string, ttl time.Duration) error

	// Invalidate drops every cached entry.
	Invalidate(ctx context.Context) error
}

// Locker provides mutual exclusion across processes.
type Locker interface {
	// Lock blocks until the named lock is held or ctx ends.
	// The returned function releases it.
	Lock(ctx context.Context, name string) (unlock func(context.Context) error, err error)
}

// -----------------------------------------------------------------------------
// External Service Ports
// -----------------------------------------------------------------------------

// BillingProvider interfaces with the payment processor (Stripe).
type BillingProvider interface {
	// Name returns the provider name (e.g., "stripe").
	Name() string

	// ParseEvent verifies a webhook signature and decodes the event.
	ParseEvent(payload []byte, signature string) (provider.Event, error)

	// GetCheckoutSession retrieves a checkout session.
	GetCheckoutSession(ctx context.Context, id string) (provider.CheckoutSession, error)

	// LatestSessionForSubscription returns the most recent checkout session
	// that created the subscription. found is false when there is none.
	LatestSessionForSubscription(ctx context.Context, subscriptionID string) (session provider.CheckoutSession, found bool, err error)

	// GetSubscription retrieves live subscription state.
	GetSubscription(ctx context.Context, id string) (provider.Subscription, error)

	// FindCustomerByEmail searches customers by email.
	FindCustomerByEmail(ctx context.Context, email string) (customerID string, found bool, err error)

	// CreateCustomer creates a customer.
	CreateCustomer(ctx context.Context, email string) (customerID string, err error)

	// FindPrice looks up an active recurring price tagged with the offer key.
	FindPrice(ctx context.Context, offer provider.Offer) (priceID string, found bool, err error)

	// CreatePrice creates the product and recurring price for an offer.
	CreatePrice(ctx context.Context, offer provider.Offer) (priceID string, err error)

	// CreateCheckoutSession opens a hosted checkout session.
	CreateCheckoutSession(ctx context.Context, req provider.CheckoutRequest) (provider.CheckoutSession, error)
}

// EmailMessage represents an email to send.
type EmailMessage struct {
	To       string
	Subject  string
	HTMLBody string
	TextBody string
	Tag      string // notification kind, used for filtering and provider tagging
}

// EmailSender sends emails.
type EmailSender interface {
	// Send sends an email.
	Send(ctx context.Context, msg EmailMessage) error
}
