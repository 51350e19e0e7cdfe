// Package app holds the billing services: webhook dispatch, checkout,
// premium status queries and the background sweeps.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/tutorlink/tutorbilling/adapters/metrics"
	"github.com/tutorlink/tutorbilling/domain/billing"
	"github.com/tutorlink/tutorbilling/domain/provider"
	"github.com/tutorlink/tutorbilling/domain/purchase"
	"github.com/tutorlink/tutorbilling/domain/webhook"
	"github.com/tutorlink/tutorbilling/ports"
)

var (
	// ErrUnresolvedAccount means no account email could be determined for an event.
	ErrUnresolvedAccount = purchase.ErrUnresolvedAccount
	// ErrMissingObject means a handled event type arrived without its payload object.
	ErrMissingObject = errors.New("event has no payload object")
)

// DispatcherDeps are the collaborators of a Dispatcher.
type DispatcherDeps struct {
	Billing   ports.BillingStore
	Purchases ports.PurchaseStore
	Events    ports.EventLog
	Provider  ports.BillingProvider
	Resolver  *MetadataResolver
	Notifier  *Notifier
	Policy    *PolicyHolder
	IDs       ports.IDGenerator
	Clock     ports.Clock
	Metrics   *metrics.Collector
	Logger    zerolog.Logger
}

// Dispatcher routes verified provider events to their handlers and records
// the outcome in the webhook ledger. Handler errors and panics stop at this
// boundary.
type Dispatcher struct {
	billing   ports.BillingStore
	purchases ports.PurchaseStore
	events    ports.EventLog
	provider  ports.BillingProvider
	resolver  *MetadataResolver
	notifier  *Notifier
	policy    *PolicyHolder
	ids       ports.IDGenerator
	clock     ports.Clock
	metrics   *metrics.Collector
	logger    zerolog.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(d DispatcherDeps) *Dispatcher {
	if d.Resolver == nil {
		d.Resolver = NewMetadataResolver(d.Provider, d.Logger)
	}
	if d.Policy == nil {
		d.Policy = NewPolicyHolder(billing.DefaultPolicy())
	}
	return &Dispatcher{
		billing:   d.Billing,
		purchases: d.Purchases,
		events:    d.Events,
		provider:  d.Provider,
		resolver:  d.Resolver,
		notifier:  d.Notifier,
		policy:    d.Policy,
		ids:       d.IDs,
		clock:     d.Clock,
		metrics:   d.Metrics,
		logger:    d.Logger.With().Str("component", "dispatcher").Logger(),
	}
}

// DispatchResult describes what happened to one event.
type DispatchResult struct {
	EventID   string
	Duplicate bool
	Status    webhook.Status
	Err       error
}

// dispatchTimeout bounds one event's handling once it has started.
const dispatchTimeout = 30 * time.Second

// Dispatch handles one verified event. It is safe for concurrent use.
// Handling is detached from ctx cancellation, so a caller that goes away
// mid-write does not leave the upsert or the ledger entry half done.
func (d *Dispatcher) Dispatch(ctx context.Context, ev provider.Event) DispatchResult {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dispatchTimeout)
	defer cancel()

	start := time.Now()
	log := d.logger.With().Str("event_id", ev.ID).Str("event_type", string(ev.Type)).Logger()

	if d.events != nil && ev.ID != "" {
		prior, seen, err := d.events.Begin(ctx, ev.ID, string(ev.Type), d.clock.Now())
		if err != nil {
			log.Warn().Err(err).Msg("webhook ledger unavailable, dispatching anyway")
		} else if !webhook.ShouldDispatch(prior, seen) {
			log.Info().Str("prior_status", string(prior.Status)).Msg("duplicate event acknowledged")
			d.metrics.WebhookEvent(string(ev.Type), "duplicate", time.Since(start))
			return DispatchResult{EventID: ev.ID, Duplicate: true, Status: prior.Status}
		}
	}

	handled, err := d.run(ctx, ev)
	status, errText := webhook.Outcome(handled, err)

	if err != nil {
		d.metrics.HandlerError(string(ev.Type))
		log.Error().Err(err).Msg("webhook handler failed")
	}
	if d.events != nil && ev.ID != "" {
		if ferr := d.events.Finish(ctx, ev.ID, status, errText, d.clock.Now()); ferr != nil {
			log.Warn().Err(ferr).Msg("failed to record webhook outcome")
		}
	}

	d.metrics.WebhookEvent(string(ev.Type), string(status), time.Since(start))
	return DispatchResult{EventID: ev.ID, Status: status, Err: err}
}

// run calls the handler, converting panics into errors.
func (d *Dispatcher) run(ctx context.Context, ev provider.Event) (handled bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			handled, err = true, fmt.Errorf("handler panic: %v", r)
		}
	}()
	return d.route(ctx, ev)
}

func (d *Dispatcher) route(ctx context.Context, ev provider.Event) (bool, error) {
	switch ev.Type {
	case provider.EventCheckoutCompleted:
		if ev.Session == nil {
			return true, ErrMissingObject
		}
		return true, d.handleCheckoutCompleted(ctx, *ev.Session)

	case provider.EventSubscriptionCreated, provider.EventSubscriptionUpdated, provider.EventSubscriptionDeleted:
		if ev.Subscription == nil {
			return true, ErrMissingObject
		}
		se, err := d.subscriptionEvent(ctx, *ev.Subscription)
		if err != nil {
			return true, err
		}
		switch ev.Type {
		case provider.EventSubscriptionCreated:
			return true, d.handleSubscriptionCreated(ctx, se)
		case provider.EventSubscriptionUpdated:
			return true, d.handleSubscriptionUpdated(ctx, se)
		default:
			return true, d.handleSubscriptionDeleted(ctx, se)
		}

	case provider.EventInvoiceSucceeded, provider.EventInvoicePaid, provider.EventInvoiceFailed:
		if ev.Invoice == nil {
			return true, ErrMissingObject
		}
		inv := *ev.Invoice
		if inv.SubscriptionID == "" {
			d.logger.Debug().Str("invoice_id", inv.ID).Msg("invoice without subscription ignored")
			return false, nil
		}
		se, err := d.invoiceEvent(ctx, inv)
		if err != nil {
			return true, err
		}
		if ev.Type == provider.EventInvoiceFailed {
			return true, d.handleInvoiceFailed(ctx, inv, se)
		}
		// invoice.paid accompanies invoice.payment_succeeded; only the latter
		// sends the receipt.
		return true, d.handleInvoiceSucceeded(ctx, inv, se, ev.Type == provider.EventInvoiceSucceeded)
	}

	d.logger.Debug().Str("event_type", string(ev.Type)).Msg("unhandled event type ignored")
	return false, nil
}

// subscriptionEvent is a subscription with its account resolved once.
type subscriptionEvent struct {
	Sub     provider.Subscription
	Meta    Resolution
	Account billing.AccountClass
	Email   string

	// Live is false when the provider could not be reached and Sub only
	// carries the id; Existing then holds the locally stored record.
	Live     bool
	Existing *billing.Record
}

func (d *Dispatcher) subscriptionEvent(ctx context.Context, sub provider.Subscription) (subscriptionEvent, error) {
	meta := d.resolver.Resolve(ctx, sub)
	fallback := sub.CustomerEmail
	if fallback == "" && meta.Session != nil {
		fallback = meta.Session.CustomerEmail
	}

	class, email, err := purchase.Classify(meta.Metadata, fallback)
	if err != nil || meta.Source == SourceUnresolved {
		// Prefer the account of a record already holding this subscription.
		rec, found, lerr := d.storedSubscription(ctx, sub.ID)
		switch {
		case lerr != nil && err != nil:
			return subscriptionEvent{}, lerr
		case lerr != nil:
			d.logger.Warn().Err(lerr).Str("subscription_id", sub.ID).Msg("stored subscription lookup failed")
		case found:
			d.logger.Info().
				Str("subscription_id", sub.ID).
				Str("account_class", string(rec.Class)).
				Msg("subscription metadata unresolved, using stored record")
			return subscriptionEvent{Sub: sub, Meta: meta, Account: rec.Class, Email: rec.AccountEmail, Live: true, Existing: &rec}, nil
		}
	}

	if meta.Source == SourceUnresolved {
		d.logger.Warn().
			Str("subscription_id", sub.ID).
			Str("account_class", string(class)).
			Msg("subscription metadata unresolved, defaulting account class")
	}
	if err != nil {
		return subscriptionEvent{}, fmt.Errorf("subscription %s: %w", sub.ID, err)
	}

	return subscriptionEvent{Sub: sub, Meta: meta, Account: class, Email: email, Live: true}, nil
}

// storedSubscription finds the record holding subscriptionID in any class.
func (d *Dispatcher) storedSubscription(ctx context.Context, subscriptionID string) (billing.Record, bool, error) {
	if subscriptionID == "" {
		return billing.Record{}, false, nil
	}
	for _, class := range billing.Classes {
		rec, err := d.billing.GetBySubscriptionID(ctx, class, subscriptionID)
		if errors.Is(err, billing.ErrNotFound) {
			continue
		}
		if err != nil {
			return billing.Record{}, false, fmt.Errorf("lookup subscription %s: %w", subscriptionID, err)
		}
		rec.Class = class
		return rec, true, nil
	}
	return billing.Record{}, false, nil
}

// invoiceEvent resolves the account behind an invoice from the live
// subscription, or from the stored record when the provider is unreachable.
func (d *Dispatcher) invoiceEvent(ctx context.Context, inv provider.Invoice) (subscriptionEvent, error) {
	live, err := d.provider.GetSubscription(ctx, inv.SubscriptionID)
	if err == nil {
		if live.CustomerEmail == "" {
			live.CustomerEmail = inv.CustomerEmail
		}
		return d.subscriptionEvent(ctx, live)
	}
	d.logger.Warn().Err(err).
		Str("subscription_id", inv.SubscriptionID).
		Msg("live subscription lookup failed, using stored record")

	rec, found, err := d.storedSubscription(ctx, inv.SubscriptionID)
	if err != nil {
		return subscriptionEvent{}, err
	}
	if found {
		return subscriptionEvent{
			Sub:      provider.Subscription{ID: inv.SubscriptionID, CustomerID: inv.CustomerID},
			Account:  rec.Class,
			Email:    rec.AccountEmail,
			Existing: &rec,
		}, nil
	}
	return subscriptionEvent{}, fmt.Errorf("subscription %s: %w", inv.SubscriptionID, ErrUnresolvedAccount)
}

// upsert writes u and records metrics.
func (d *Dispatcher) upsert(ctx context.Context, class billing.AccountClass, u billing.Update) (billing.Record, error) {
	rec, inserted, err := d.billing.Upsert(ctx, class, u)
	if err != nil {
		return billing.Record{}, fmt.Errorf("upsert %s billing for %s: %w", class, u.AccountEmail, err)
	}
	d.metrics.Upsert(string(class), inserted)
	d.logger.Info().
		Str("account_class", string(class)).
		Str("record_id", rec.ID).
		Str("subscription_id", rec.SubscriptionID).
		Str("status", string(rec.Status)).
		Bool("inserted", inserted).
		Msg("billing record saved")
	return rec, nil
}

// Wait drains in-flight notifications.
func (d *Dispatcher) Wait(ctx context.Context) error {
	return d.notifier.Wait(ctx)
}
