// Package payment provides payment provider adapters.
package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/tutorlink/tutorbilling/domain/provider"
	"github.com/tutorlink/tutorbilling/ports"
)

// CatalogKeyMetadata tags provider products and prices with their offer key.
const CatalogKeyMetadata = "catalog_key"

// StripeConfig holds Stripe configuration.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	// APIBaseURL overrides the Stripe API endpoint (stripe-mock, tests).
	APIBaseURL string
}

// StripeProvider implements ports.BillingProvider for Stripe.
type StripeProvider struct {
	api           *client.API
	webhookSecret string
}

// NewStripeProvider creates a new Stripe payment provider.
func NewStripeProvider(config StripeConfig) *StripeProvider {
	var backends *stripe.Backends
	if config.APIBaseURL != "" {
		b := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			URL:               stripe.String(config.APIBaseURL),
			MaxNetworkRetries: stripe.Int64(0),
		})
		backends = &stripe.Backends{API: b, Connect: b, Uploads: b}
	}
	return &StripeProvider{
		api:           client.New(config.SecretKey, backends),
		webhookSecret: config.WebhookSecret,
	}
}

// Name returns the provider name.
func (p *StripeProvider) Name() string {
	return "stripe"
}

// ParseEvent verifies the Stripe-Signature header and decodes the event.
func (p *StripeProvider) ParseEvent(payload []byte, signature string) (provider.Event, error) {
	return DecodeEvent(payload, signature, p.webhookSecret)
}

// GetCheckoutSession retrieves a checkout session.
func (p *StripeProvider) GetCheckoutSession(ctx context.Context, id string) (provider.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	s, err := p.api.CheckoutSessions.Get(id, params)
	if err != nil {
		return provider.CheckoutSession{}, wrapStripeError("get checkout session", err)
	}
	return toSession(s), nil
}

// LatestSessionForSubscription finds the checkout session that created a subscription.
func (p *StripeProvider) LatestSessionForSubscription(ctx context.Context, subscriptionID string) (provider.CheckoutSession, bool, error) {
	params := &stripe.CheckoutSessionListParams{
		Subscription: stripe.String(subscriptionID),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(1)
	params.Single = true

	iter := p.api.CheckoutSessions.List(params)
	if iter.Next() {
		return toSession(iter.CheckoutSession()), true, nil
	}
	if err := iter.Err(); err != nil {
		return provider.CheckoutSession{}, false, wrapStripeError("list checkout sessions", err)
	}
	return provider.CheckoutSession{}, false, nil
}

// GetSubscription retrieves live subscription state with the customer expanded.
func (p *StripeProvider) GetSubscription(ctx context.Context, id string) (provider.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	params.AddExpand("customer")
	s, err := p.api.Subscriptions.Get(id, params)
	if err != nil {
		return provider.Subscription{}, wrapStripeError("get subscription", err)
	}
	return toSubscription(s), nil
}

// FindCustomerByEmail returns the most recent customer with the email.
func (p *StripeProvider) FindCustomerByEmail(ctx context.Context, email string) (string, bool, error) {
	params := &stripe.CustomerListParams{Email: stripe.String(email)}
	params.Context = ctx
	params.Limit = stripe.Int64(1)
	params.Single = true

	iter := p.api.Customers.List(params)
	if iter.Next() {
		return iter.Customer().ID, true, nil
	}
	if err := iter.Err(); err != nil {
		return "", false, wrapStripeError("list customers", err)
	}
	return "", false, nil
}

// CreateCustomer creates a customer.
func (p *StripeProvider) CreateCustomer(ctx context.Context, email string) (string, error) {
	params := &stripe.CustomerParams{Email: stripe.String(email)}
	params.Context = ctx
	c, err := p.api.Customers.New(params)
	if err != nil {
		return "", wrapStripeError("create customer", err)
	}
	return c.ID, nil
}

// FindPrice looks up the active price registered under the offer's lookup key.
// A price whose amount, currency or interval no longer matches the offer is
// ignored so that CreatePrice can replace it.
func (p *StripeProvider) FindPrice(ctx context.Context, offer provider.Offer) (string, bool, error) {
	params := &stripe.PriceListParams{
		Active:     stripe.Bool(true),
		LookupKeys: stripe.StringSlice([]string{offer.Key}),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(1)
	params.Single = true

	iter := p.api.Prices.List(params)
	if iter.Next() {
		pr := iter.Price()
		if priceMatches(pr, offer) {
			return pr.ID, true, nil
		}
		return "", false, nil
	}
	if err := iter.Err(); err != nil {
		return "", false, wrapStripeError("list prices", err)
	}
	return "", false, nil
}

func priceMatches(pr *stripe.Price, offer provider.Offer) bool {
	if pr.UnitAmount != offer.Amount || string(pr.Currency) != offer.Currency {
		return false
	}
	return pr.Recurring != nil && string(pr.Recurring.Interval) == string(offer.Interval)
}

// CreatePrice creates a product and a recurring price and moves the offer's
// lookup key onto the new price.
func (p *StripeProvider) CreatePrice(ctx context.Context, offer provider.Offer) (string, error) {
	prodParams := &stripe.ProductParams{
		Name:     stripe.String(offer.ProductName),
		Metadata: map[string]string{CatalogKeyMetadata: offer.Key},
	}
	prodParams.Context = ctx
	prod, err := p.api.Products.New(prodParams)
	if err != nil {
		return "", wrapStripeError("create product", err)
	}

	priceParams := &stripe.PriceParams{
		Product:           stripe.String(prod.ID),
		Currency:          stripe.String(offer.Currency),
		UnitAmount:        stripe.Int64(offer.Amount),
		LookupKey:         stripe.String(offer.Key),
		TransferLookupKey: stripe.Bool(true),
		Recurring: &stripe.PriceRecurringParams{
			Interval: stripe.String(string(offer.Interval)),
		},
		Metadata: map[string]string{CatalogKeyMetadata: offer.Key},
	}
	priceParams.Context = ctx
	pr, err := p.api.Prices.New(priceParams)
	if err != nil {
		return "", wrapStripeError("create price", err)
	}
	return pr.ID, nil
}

// CreateCheckoutSession opens a hosted Stripe Checkout session.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req provider.CheckoutRequest) (provider.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(req.Mode),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		Metadata:   req.Metadata,
	}
	params.Context = ctx
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	}

	switch {
	case req.PriceID != "":
		params.LineItems = []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(req.PriceID),
			Quantity: stripe.Int64(1),
		}}
	case req.LineItem != nil:
		qty := req.LineItem.Quantity
		if qty <= 0 {
			qty = 1
		}
		params.LineItems = []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(req.LineItem.Currency),
				UnitAmount: stripe.Int64(req.LineItem.Amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(req.LineItem.Name),
				},
			},
			Quantity: stripe.Int64(qty),
		}}
	default:
		return provider.CheckoutSession{}, errors.New("checkout request needs a price or a line item")
	}

	if req.Mode == provider.ModeSubscription && len(req.SubscriptionMetadata) > 0 {
		params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: req.SubscriptionMetadata,
		}
	}

	s, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return provider.CheckoutSession{}, wrapStripeError("create checkout session", err)
	}
	return toSession(s), nil
}

// wrapStripeError keeps the Stripe error code in the message. Missing
// resources map to ErrNotFound.
func wrapStripeError(op string, err error) error {
	var serr *stripe.Error
	if errors.As(err, &serr) && serr.HTTPStatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %s: %w", op, serr.Msg, ErrNotFound)
	}
	if errors.As(err, &serr) && serr.Code != "" {
		return fmt.Errorf("%s: %s (%s): %w", op, serr.Msg, serr.Code, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Ensure interface compliance.
var _ ports.BillingProvider = (*StripeProvider)(nil)
