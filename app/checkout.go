package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/tutorlink/tutorbilling/domain/billing"
	"github.com/tutorlink/tutorbilling/domain/provider"
	"github.com/tutorlink/tutorbilling/domain/purchase"
	"github.com/tutorlink/tutorbilling/ports"
)

// ErrOfferNotConfigured is returned when a purchase type has no price configured.
var ErrOfferNotConfigured = errors.New("no price configured for purchase type")

// CheckoutConfig holds prices and redirect URLs.
type CheckoutConfig struct {
	SuccessURL string
	CancelURL  string
	// Offers prices the subscription purchase types.
	Offers map[purchase.Kind]provider.Offer
	// OneTime prices the one-time purchase types.
	OneTime map[purchase.Kind]provider.LineItem
}

// RecurringOffers lists the configured subscription offers.
func (c CheckoutConfig) RecurringOffers() []provider.Offer {
	out := make([]provider.Offer, 0, len(c.Offers))
	for _, k := range purchase.Kinds {
		if o, ok := c.Offers[k]; ok {
			out = append(out, o)
		}
	}
	return out
}

// CheckoutRequest asks for a hosted checkout session.
type CheckoutRequest struct {
	Kind            purchase.Kind `json:"type"`
	Email           string        `json:"email"`
	RequestID       string        `json:"requestId,omitempty"`
	TargetTeacherID string        `json:"targetTeacherId,omitempty"`
}

// CheckoutResult is the created session.
type CheckoutResult struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// SessionStatus is the provider view of a checkout session.
type SessionStatus struct {
	ID             string            `json:"id"`
	Mode           string            `json:"mode"`
	Status         string            `json:"status"`
	PaymentStatus  string            `json:"payment_status"`
	SubscriptionID string            `json:"subscription_id,omitempty"`
	Metadata       map[string]string `json:"metadata"`
}

// CheckoutService opens checkout sessions for the four purchase types.
type CheckoutService struct {
	provider  ports.BillingProvider
	customers ports.CustomerStore
	catalog   *PriceCatalog
	logger    zerolog.Logger

	config atomic.Pointer[CheckoutConfig]
}

// NewCheckoutService creates a checkout service.
func NewCheckoutService(p ports.BillingProvider, customers ports.CustomerStore, catalog *PriceCatalog, cfg CheckoutConfig, logger zerolog.Logger) *CheckoutService {
	s := &CheckoutService{
		provider:  p,
		customers: customers,
		catalog:   catalog,
		logger:    logger.With().Str("component", "checkout").Logger(),
	}
	s.SetConfig(cfg)
	return s
}

// SetConfig replaces prices and URLs.
func (s *CheckoutService) SetConfig(cfg CheckoutConfig) {
	s.config.Store(&cfg)
}

// Config returns the current configuration.
func (s *CheckoutService) Config() CheckoutConfig {
	return *s.config.Load()
}

// BuildPurchase turns a request into a validated purchase variant.
func BuildPurchase(req CheckoutRequest) (purchase.Purchase, error) {
	email := billing.NormalizeEmail(req.Email)
	var p purchase.Purchase
	switch req.Kind {
	case purchase.KindContact:
		p = purchase.ContactPurchase{RequestID: req.RequestID, BuyerEmail: email}
	case purchase.KindTeacherPurchase:
		p = purchase.TeacherPurchase{TargetTeacherID: req.TargetTeacherID, BuyerEmail: email}
	case purchase.KindTeacherPremium:
		p = purchase.TeacherPremiumSubscription{TeacherEmail: email}
	case purchase.KindStudentPremium:
		p = purchase.StudentPremiumSubscription{StudentEmail: email}
	default:
		return nil, fmt.Errorf("%w: %q", purchase.ErrUnknownKind, req.Kind)
	}
	if err := purchase.Validate(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Create opens a checkout session.
func (s *CheckoutService) Create(ctx context.Context, req CheckoutRequest) (CheckoutResult, error) {
	p, err := BuildPurchase(req)
	if err != nil {
		return CheckoutResult{}, err
	}
	cfg := s.Config()
	email := billing.NormalizeEmail(req.Email)

	creq := provider.CheckoutRequest{
		SuccessURL: cfg.SuccessURL,
		CancelURL:  cfg.CancelURL,
		Metadata:   p.Metadata(),
	}

	if email != "" {
		customerID, err := s.customerID(ctx, email)
		if err != nil {
			return CheckoutResult{}, err
		}
		creq.CustomerID = customerID
	}

	if p.Kind().IsSubscription() {
		offer, ok := cfg.Offers[p.Kind()]
		if !ok {
			return CheckoutResult{}, fmt.Errorf("%w: %s", ErrOfferNotConfigured, p.Kind())
		}
		priceID, err := s.catalog.PriceID(ctx, offer)
		if err != nil {
			return CheckoutResult{}, err
		}
		creq.Mode = provider.ModeSubscription
		creq.PriceID = priceID
		creq.SubscriptionMetadata = p.Metadata()
	} else {
		item, ok := cfg.OneTime[p.Kind()]
		if !ok {
			return CheckoutResult{}, fmt.Errorf("%w: %s", ErrOfferNotConfigured, p.Kind())
		}
		creq.Mode = provider.ModePayment
		creq.LineItem = &item
	}

	session, err := s.provider.CreateCheckoutSession(ctx, creq)
	if err != nil {
		return CheckoutResult{}, fmt.Errorf("create checkout session: %w", err)
	}
	s.logger.Info().
		Str("session_id", session.ID).
		Str("kind", string(p.Kind())).
		Str("customer_id", creq.CustomerID).
		Msg("checkout session created")

	return CheckoutResult{SessionID: session.ID, URL: session.URL}, nil
}

// customerID returns the provider customer for email: local cache, then
// provider search, then creation.
func (s *CheckoutService) customerID(ctx context.Context, email string) (string, error) {
	id, err := s.customers.GetByEmail(ctx, email)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, billing.ErrNotFound) {
		return "", fmt.Errorf("lookup customer: %w", err)
	}

	id, found, err := s.provider.FindCustomerByEmail(ctx, email)
	if err != nil {
		return "", fmt.Errorf("search customer: %w", err)
	}
	if !found {
		id, err = s.provider.CreateCustomer(ctx, email)
		if err != nil {
			return "", fmt.Errorf("create customer: %w", err)
		}
		s.logger.Info().Str("customer_id", id).Msg("provider customer created")
	}

	if err := s.customers.Save(ctx, email, id); err != nil {
		s.logger.Warn().Err(err).Str("customer_id", id).Msg("failed to cache customer id")
	}
	return id, nil
}

// SessionStatus returns the provider's view of a session, metadata verbatim.
func (s *CheckoutService) SessionStatus(ctx context.Context, id string) (SessionStatus, error) {
	cs, err := s.provider.GetCheckoutSession(ctx, id)
	if err != nil {
		return SessionStatus{}, fmt.Errorf("get checkout session %s: %w", id, err)
	}
	md := cs.Metadata
	if md == nil {
		md = map[string]string{}
	}
	return SessionStatus{
		ID:             cs.ID,
		Mode:           cs.Mode,
		Status:         cs.Status,
		PaymentStatus:  cs.PaymentStatus,
		SubscriptionID: cs.SubscriptionID,
		Metadata:       md,
	}, nil
}
