package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
	"github.com/tutorlink/tutorbilling/domain/provider"
)

var (
	// ErrWebhookSecretMissing is returned when no signing secret is configured.
	// Verification fails closed.
	ErrWebhookSecretMissing = errors.New("webhook signing secret is not configured")
	// ErrInvalidSignature is returned when the payload does not verify.
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// DecodeEvent verifies a Stripe webhook payload and converts it into a
// provider event. Only the object types the dispatcher handles are decoded;
// other events come back with just ID and Type.
func DecodeEvent(payload []byte, signature, secret string) (provider.Event, error) {
	if secret == "" {
		return provider.Event{}, ErrWebhookSecretMissing
	}
	ev, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return provider.Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := provider.Event{
		ID:      ev.ID,
		Type:    provider.EventType(ev.Type),
		Created: unix(ev.Created),
	}
	if ev.Data == nil {
		return out, nil
	}

	switch out.Type {
	case provider.EventCheckoutCompleted:
		var s stripe.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &s); err != nil {
			return provider.Event{}, fmt.Errorf("%w: decode checkout session: %w", provider.ErrMalformedEvent, err)
		}
		cs := toSession(&s)
		out.Session = &cs

	case provider.EventSubscriptionCreated, provider.EventSubscriptionUpdated, provider.EventSubscriptionDeleted:
		var s stripe.Subscription
		if err := json.Unmarshal(ev.Data.Raw, &s); err != nil {
			return provider.Event{}, fmt.Errorf("%w: decode subscription: %w", provider.ErrMalformedEvent, err)
		}
		sub := toSubscription(&s)
		out.Subscription = &sub

	case provider.EventInvoiceSucceeded, provider.EventInvoicePaid, provider.EventInvoiceFailed:
		var inv stripe.Invoice
		if err := json.Unmarshal(ev.Data.Raw, &inv); err != nil {
			return provider.Event{}, fmt.Errorf("%w: decode invoice: %w", provider.ErrMalformedEvent, err)
		}
		i := toInvoice(&inv)
		out.Invoice = &i
	}
	return out, nil
}

func toSession(s *stripe.CheckoutSession) provider.CheckoutSession {
	if s == nil {
		return provider.CheckoutSession{}
	}
	out := provider.CheckoutSession{
		ID:            s.ID,
		Mode:          string(s.Mode),
		Status:        string(s.Status),
		PaymentStatus: string(s.PaymentStatus),
		CustomerEmail: s.CustomerEmail,
		AmountTotal:   s.AmountTotal,
		Currency:      string(s.Currency),
		URL:           s.URL,
		Metadata:      s.Metadata,
		Created:       unix(s.Created),
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
		if out.CustomerEmail == "" {
			out.CustomerEmail = s.Customer.Email
		}
	}
	if out.CustomerEmail == "" && s.CustomerDetails != nil {
		out.CustomerEmail = s.CustomerDetails.Email
	}
	if s.Subscription != nil {
		out.SubscriptionID = s.Subscription.ID
	}
	return out
}

func toSubscription(s *stripe.Subscription) provider.Subscription {
	if s == nil {
		return provider.Subscription{}
	}
	out := provider.Subscription{
		ID:                 s.ID,
		Status:             string(s.Status),
		CurrentPeriodStart: unix(s.CurrentPeriodStart),
		CurrentPeriodEnd:   unix(s.CurrentPeriodEnd),
		CancelAtPeriodEnd:  s.CancelAtPeriodEnd,
		CanceledAt:         unix(s.CanceledAt),
		Metadata:           s.Metadata,
		Currency:           string(s.Currency),
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
		out.CustomerEmail = s.Customer.Email
	}
	if s.Items != nil && len(s.Items.Data) > 0 && s.Items.Data[0].Price != nil {
		pr := s.Items.Data[0].Price
		qty := s.Items.Data[0].Quantity
		if qty <= 0 {
			qty = 1
		}
		out.Amount = pr.UnitAmount * qty
		if out.Currency == "" {
			out.Currency = string(pr.Currency)
		}
	}
	return out
}

func toInvoice(inv *stripe.Invoice) provider.Invoice {
	if inv == nil {
		return provider.Invoice{}
	}
	out := provider.Invoice{
		ID:            inv.ID,
		Number:        inv.Number,
		CustomerEmail: inv.CustomerEmail,
		BillingReason: string(inv.BillingReason),
		AmountPaid:    inv.AmountPaid,
		AmountDue:     inv.AmountDue,
		Currency:      string(inv.Currency),
		HostedURL:     inv.HostedInvoiceURL,
		PeriodStart:   unix(inv.PeriodStart),
		PeriodEnd:     unix(inv.PeriodEnd),
		Created:       unix(inv.Created),
	}
	if inv.Subscription != nil {
		out.SubscriptionID = inv.Subscription.ID
	}
	if inv.Customer != nil {
		out.CustomerID = inv.Customer.ID
	}
	// Subscription invoices carry the billed period on the line item; the
	// invoice-level period covers the previous usage window.
	if inv.Lines != nil && len(inv.Lines.Data) > 0 && inv.Lines.Data[0].Period != nil {
		out.PeriodStart = unix(inv.Lines.Data[0].Period.Start)
		out.PeriodEnd = unix(inv.Lines.Data[0].Period.End)
	}
	return out
}

func unix(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
