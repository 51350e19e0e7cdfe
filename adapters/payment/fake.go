package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tutorlink/tutorbilling/domain/provider"
	"github.com/tutorlink/tutorbilling/ports"
)

// ErrNotFound is returned by FakeProvider for unknown objects.
var ErrNotFound = errors.New("provider object not found")

// FakeProvider is an in-memory billing provider for development and tests.
// Checkout sessions redirect straight to the success URL; webhooks are
// verified with the same Stripe signature scheme as the real provider.
type FakeProvider struct {
	webhookSecret string
	seq           atomic.Uint64

	mu            sync.Mutex
	sessions      map[string]provider.CheckoutSession
	subscriptions map[string]provider.Subscription
	customers     map[string]string // email -> id
	prices        map[string]fakePrice
	calls         map[string]int
	failing       map[string]error
}

type fakePrice struct {
	id    string
	offer provider.Offer
}

// NewFakeProvider creates a fake provider that verifies webhooks with secret.
func NewFakeProvider(webhookSecret string) *FakeProvider {
	return &FakeProvider{
		webhookSecret: webhookSecret,
		sessions:      make(map[string]provider.CheckoutSession),
		subscriptions: make(map[string]provider.Subscription),
		customers:     make(map[string]string),
		prices:        make(map[string]fakePrice),
		calls:         make(map[string]int),
		failing:       make(map[string]error),
	}
}

// Name returns the provider name.
func (p *FakeProvider) Name() string {
	return "fake"
}

// AddSession seeds a checkout session.
func (p *FakeProvider) AddSession(s provider.CheckoutSession) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[s.ID] = s
}

// AddSubscription seeds or replaces a subscription.
func (p *FakeProvider) AddSubscription(s provider.Subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscriptions[s.ID] = s
}

// FailOn makes the named method return err until cleared with a nil error.
func (p *FakeProvider) FailOn(method string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.failing, method)
		return
	}
	p.failing[method] = err
}

// Calls returns how many times a method was invoked.
func (p *FakeProvider) Calls(method string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[method]
}

func (p *FakeProvider) enter(method string) error {
	p.calls[method]++
	return p.failing[method]
}

func (p *FakeProvider) nextID(prefix string) string {
	return fmt.Sprintf("%s_fake_%d", prefix, p.seq.Add(1))
}

func (p *FakeProvider) ParseEvent(payload []byte, signature string) (provider.Event, error) {
	return DecodeEvent(payload, signature, p.webhookSecret)
}

func (p *FakeProvider) GetCheckoutSession(ctx context.Context, id string) (provider.CheckoutSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("GetCheckoutSession"); err != nil {
		return provider.CheckoutSession{}, err
	}
	s, ok := p.sessions[id]
	if !ok {
		return provider.CheckoutSession{}, fmt.Errorf("checkout session %s: %w", id, ErrNotFound)
	}
	return s, nil
}

func (p *FakeProvider) LatestSessionForSubscription(ctx context.Context, subscriptionID string) (provider.CheckoutSession, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("LatestSessionForSubscription"); err != nil {
		return provider.CheckoutSession{}, false, err
	}
	var latest provider.CheckoutSession
	found := false
	for _, s := range p.sessions {
		if s.SubscriptionID != subscriptionID {
			continue
		}
		if !found || s.Created.After(latest.Created) {
			latest, found = s, true
		}
	}
	return latest, found, nil
}

func (p *FakeProvider) GetSubscription(ctx context.Context, id string) (provider.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("GetSubscription"); err != nil {
		return provider.Subscription{}, err
	}
	s, ok := p.subscriptions[id]
	if !ok {
		return provider.Subscription{}, fmt.Errorf("subscription %s: %w", id, ErrNotFound)
	}
	return s, nil
}

func (p *FakeProvider) FindCustomerByEmail(ctx context.Context, email string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("FindCustomerByEmail"); err != nil {
		return "", false, err
	}
	id, ok := p.customers[email]
	return id, ok, nil
}

func (p *FakeProvider) CreateCustomer(ctx context.Context, email string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("CreateCustomer"); err != nil {
		return "", err
	}
	id := p.nextID("cus")
	p.customers[email] = id
	return id, nil
}

func (p *FakeProvider) FindPrice(ctx context.Context, offer provider.Offer) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("FindPrice"); err != nil {
		return "", false, err
	}
	pr, ok := p.prices[offer.Key]
	if !ok || pr.offer != offer {
		return "", false, nil
	}
	return pr.id, true, nil
}

func (p *FakeProvider) CreatePrice(ctx context.Context, offer provider.Offer) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("CreatePrice"); err != nil {
		return "", err
	}
	id := p.nextID("price")
	p.prices[offer.Key] = fakePrice{id: id, offer: offer}
	return id, nil
}

// CreateCheckoutSession records the session and returns the success URL as
// the checkout URL.
func (p *FakeProvider) CreateCheckoutSession(ctx context.Context, req provider.CheckoutRequest) (provider.CheckoutSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enter("CreateCheckoutSession"); err != nil {
		return provider.CheckoutSession{}, err
	}
	s := provider.CheckoutSession{
		ID:            p.nextID("cs"),
		Mode:          req.Mode,
		Status:        "open",
		PaymentStatus: "unpaid",
		CustomerID:    req.CustomerID,
		URL:           req.SuccessURL,
		Metadata:      req.Metadata,
	}
	if req.LineItem != nil {
		s.AmountTotal = req.LineItem.Amount
		s.Currency = req.LineItem.Currency
	}
	p.sessions[s.ID] = s
	return s, nil
}

// Ensure interface compliance.
var _ ports.BillingProvider = (*FakeProvider)(nil)
