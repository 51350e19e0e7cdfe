package payment

import (
	"context"
	"errors"

	"github.com/tutorlink/tutorbilling/domain/provider"
	"github.com/tutorlink/tutorbilling/ports"
)

var (
	// ErrPaymentsDisabled is returned when payments are not configured.
	ErrPaymentsDisabled = errors.New("payments are not configured")
)

// NoopProvider is used when payments are disabled. Every call fails with
// ErrPaymentsDisabled, so webhooks are rejected and checkout is unavailable.
type NoopProvider struct{}

// NewNoopProvider creates a new no-op payment provider.
func NewNoopProvider() *NoopProvider {
	return &NoopProvider{}
}

func (p *NoopProvider) Name() string {
	return "none"
}

func (p *NoopProvider) ParseEvent(payload []byte, signature string) (provider.Event, error) {
	return provider.Event{}, ErrPaymentsDisabled
}

func (p *NoopProvider) GetCheckoutSession(ctx context.Context, id string) (provider.CheckoutSession, error) {
	return provider.CheckoutSession{}, ErrPaymentsDisabled
}

func (p *NoopProvider) LatestSessionForSubscription(ctx context.Context, subscriptionID string) (provider.CheckoutSession, bool, error) {
	return provider.CheckoutSession{}, false, ErrPaymentsDisabled
}

func (p *NoopProvider) GetSubscription(ctx context.Context, id string) (provider.Subscription, error) {
	return provider.Subscription{}, ErrPaymentsDisabled
}

func (p *NoopProvider) FindCustomerByEmail(ctx context.Context, email string) (string, bool, error) {
	return "", false, ErrPaymentsDisabled
}

func (p *NoopProvider) CreateCustomer(ctx context.Context, email string) (string, error) {
	return "", ErrPaymentsDisabled
}

func (p *NoopProvider) FindPrice(ctx context.Context, offer provider.Offer) (string, bool, error) {
	return "", false, ErrPaymentsDisabled
}

func (p *NoopProvider) CreatePrice(ctx context.Context, offer provider.Offer) (string, error) {
	return "", ErrPaymentsDisabled
}

func (p *NoopProvider) CreateCheckoutSession(ctx context.Context, req provider.CheckoutRequest) (provider.CheckoutSession, error) {
	return provider.CheckoutSession{}, ErrPaymentsDisabled
}

// Ensure interface compliance.
var _ ports.BillingProvider = (*NoopProvider)(nil)
