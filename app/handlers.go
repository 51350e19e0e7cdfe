package app

import (
	"context"
	"fmt"
	"time"

	"github.com/tutorlink/tutorbilling/domain/billing"
	"github.com/tutorlink/tutorbilling/domain/provider"
	"github.com/tutorlink/tutorbilling/domain/purchase"
)

// handleCheckoutCompleted records one-time purchases. Subscription checkouts
// are left to customer.subscription.created.
func (d *Dispatcher) handleCheckoutCompleted(ctx context.Context, s provider.CheckoutSession) error {
	log := d.logger.With().Str("session_id", s.ID).Str("mode", s.Mode).Logger()

	p, err := purchase.Parse(s.Metadata)
	if err != nil {
		return fmt.Errorf("checkout session %s: %w", s.ID, err)
	}
	now := d.clock.Now()

	switch v := p.(type) {
	case purchase.Premium:
		if s.Mode == provider.ModeSubscription {
			log.Debug().Msg("subscription checkout, record is created by the subscription event")
			return nil
		}
		if !s.Paid() {
			log.Info().Str("payment_status", s.PaymentStatus).Msg("unpaid premium checkout ignored")
			return nil
		}
		class, email := v.Account()
		rec, err := d.upsert(ctx, class, billing.Update{
			AccountEmail:    email,
			CustomerID:      billing.String(s.CustomerID),
			LegacyPaid:      billing.Bool(true),
			PaymentDate:     billing.Time(now),
			PaymentAmount:   billing.Int64(s.AmountTotal),
			PaymentCurrency: billing.String(s.Currency),
			SessionID:       billing.String(s.ID),
		})
		if err != nil {
			return err
		}
		st := billing.ComputeStatus(rec, now, d.policy.Get())
		d.notifier.Notify(Notification{
			Kind:      NotifyPremiumActivated,
			To:        email,
			Class:     class,
			Amount:    s.AmountTotal,
			Currency:  s.Currency,
			ExpiresAt: st.ExpiresAt,
		})
		return nil

	default:
		receipt, ok := purchase.NewReceipt(d.ids.New(), s.ID, p, s.AmountTotal, s.Currency, now)
		if !ok {
			return fmt.Errorf("checkout session %s: no receipt for %s", s.ID, p.Kind())
		}
		receipt.CustomerID = s.CustomerID
		if receipt.BuyerEmail == "" {
			receipt.BuyerEmail = billing.NormalizeEmail(s.CustomerEmail)
		}

		created, err := d.purchases.Create(ctx, receipt)
		if err != nil {
			return fmt.Errorf("record purchase for session %s: %w", s.ID, err)
		}
		if !created {
			log.Info().Msg("purchase already recorded")
			return nil
		}
		log.Info().
			Str("kind", string(receipt.Kind)).
			Str("request_id", receipt.RequestID).
			Str("target_teacher_id", receipt.TargetTeacherID).
			Msg("purchase recorded")

		d.notifier.Notify(Notification{
			Kind:         NotifyPurchaseReceipt,
			To:           receipt.BuyerEmail,
			Amount:       receipt.Amount,
			Currency:     receipt.Currency,
			PurchaseKind: receipt.Kind,
			Reference:    receipt.RequestID + receipt.TargetTeacherID,
		})
		return nil
	}
}

// handleSubscriptionCreated writes the full subscription state plus the
// display-only payment fields from the originating checkout session.
func (d *Dispatcher) handleSubscriptionCreated(ctx context.Context, se subscriptionEvent) error {
	sub := se.Sub
	session := se.Meta.Session
	if session == nil {
		s, found, err := d.provider.LatestSessionForSubscription(ctx, sub.ID)
		if err != nil {
			d.logger.Warn().Err(err).Str("subscription_id", sub.ID).Msg("checkout session lookup failed")
		} else if found {
			session = &s
		}
	}

	u := subscriptionUpdate(se)
	u.PaymentDate = billing.Time(paymentDate(sub, session, d.clock.Now()))
	u.PaymentAmount = billing.Int64(sub.Amount)
	u.PaymentCurrency = billing.String(sub.Currency)
	if session != nil {
		u.SessionID = billing.String(session.ID)
		if session.AmountTotal > 0 {
			u.PaymentAmount = billing.Int64(session.AmountTotal)
			u.PaymentCurrency = billing.String(session.Currency)
		}
	}

	_, err := d.upsert(ctx, se.Account, u)
	return err
}

// paymentDate is the first-payment time of a subscription. It is the same on
// every run for the same subscription, so replays do not move it.
func paymentDate(sub provider.Subscription, session *provider.CheckoutSession, now time.Time) time.Time {
	switch {
	case session != nil && !session.Created.IsZero():
		return session.Created
	case !sub.CurrentPeriodStart.IsZero():
		return sub.CurrentPeriodStart
	}
	return now
}

// handleSubscriptionUpdated mirrors the latest subscription state.
func (d *Dispatcher) handleSubscriptionUpdated(ctx context.Context, se subscriptionEvent) error {
	_, err := d.upsert(ctx, se.Account, subscriptionUpdate(se))
	return err
}

func (d *Dispatcher) handleSubscriptionDeleted(ctx context.Context, se subscriptionEvent) error {
	_, err := d.upsert(ctx, se.Account, billing.Update{
		AccountEmail:      se.Email,
		CustomerID:        billing.String(se.Sub.CustomerID),
		SubscriptionID:    billing.String(se.Sub.ID),
		Status:            billing.StatusPtr(billing.StatusCanceled),
		CancelAtPeriodEnd: false,
		CanceledAt:        billing.Time(d.clock.Now()),
	})
	if err != nil {
		return err
	}
	d.notifier.Notify(Notification{Kind: NotifySubscriptionCanceled, To: se.Email, Class: se.Account})
	return nil
}

// handleInvoiceSucceeded records a renewal. The first invoice of a
// subscription only triggers the activation notice.
func (d *Dispatcher) handleInvoiceSucceeded(ctx context.Context, inv provider.Invoice, se subscriptionEvent, notify bool) error {
	now := d.clock.Now()

	if inv.BillingReason == provider.ReasonSubscriptionCreate {
		if notify {
			amount, currency := se.Sub.Amount, se.Sub.Currency
			if inv.AmountPaid > 0 {
				amount, currency = inv.AmountPaid, inv.Currency
			}
			d.notifier.Notify(Notification{
				Kind:           NotifyPremiumActivated,
				To:             se.Email,
				Class:          se.Account,
				Amount:         amount,
				Currency:       currency,
				NextChargeDate: billing.Time(se.Sub.CurrentPeriodEnd),
			})
		}
		return nil
	}

	u := billing.Update{
		AccountEmail:       se.Email,
		CustomerID:         billing.String(inv.CustomerID),
		SubscriptionID:     billing.String(inv.SubscriptionID),
		Status:             billing.StatusPtr(billing.StatusActive),
		CurrentPeriodStart: billing.Time(inv.PeriodStart),
		CurrentPeriodEnd:   billing.Time(inv.PeriodEnd),
		CancelAtPeriodEnd:  d.cancelFlag(se),
		PaymentDate:        billing.Time(now),
		PaymentAmount:      billing.Int64(inv.AmountPaid),
		PaymentCurrency:    billing.String(inv.Currency),
	}
	if se.Live {
		u.Status = billing.StatusPtr(billing.ParseStatus(se.Sub.Status))
		if !se.Sub.CurrentPeriodEnd.IsZero() {
			u.CurrentPeriodStart = billing.Time(se.Sub.CurrentPeriodStart)
			u.CurrentPeriodEnd = billing.Time(se.Sub.CurrentPeriodEnd)
		}
	}

	rec, err := d.upsert(ctx, se.Account, u)
	if err != nil {
		return err
	}
	if notify {
		st := billing.ComputeStatus(rec, now, d.policy.Get())
		d.notifier.Notify(Notification{
			Kind:           NotifyPaymentReceipt,
			To:             se.Email,
			Class:          se.Account,
			Amount:         inv.AmountPaid,
			Currency:       inv.Currency,
			NextChargeDate: st.NextChargeDate,
			InvoiceRef:     inv.Reference(),
			InvoiceURL:     inv.HostedURL,
		})
	}
	return nil
}

// handleInvoiceFailed marks the subscription past_due, or unpaid when the
// provider already says so.
func (d *Dispatcher) handleInvoiceFailed(ctx context.Context, inv provider.Invoice, se subscriptionEvent) error {
	status := billing.StatusPastDue
	if se.Live && billing.ParseStatus(se.Sub.Status) == billing.StatusUnpaid {
		status = billing.StatusUnpaid
	}

	_, err := d.upsert(ctx, se.Account, billing.Update{
		AccountEmail:      se.Email,
		CustomerID:        billing.String(inv.CustomerID),
		SubscriptionID:    billing.String(inv.SubscriptionID),
		Status:            billing.StatusPtr(status),
		CancelAtPeriodEnd: d.cancelFlag(se),
	})
	if err != nil {
		return err
	}

	d.notifier.Notify(Notification{
		Kind:       NotifyPaymentFailed,
		To:         se.Email,
		Class:      se.Account,
		Amount:     inv.AmountDue,
		Currency:   inv.Currency,
		InvoiceRef: inv.Reference(),
		InvoiceURL: inv.HostedURL,
	})
	return nil
}

// cancelFlag returns the cancel-at-period-end value an invoice update must
// write so it does not clear a pending cancellation.
func (d *Dispatcher) cancelFlag(se subscriptionEvent) bool {
	if se.Live {
		return se.Sub.CancelAtPeriodEnd
	}
	if se.Existing != nil {
		return se.Existing.CancelAtPeriodEnd
	}
	return false
}

// subscriptionUpdate maps provider subscription state onto a sparse update.
func subscriptionUpdate(se subscriptionEvent) billing.Update {
	sub := se.Sub
	return billing.Update{
		AccountEmail:       se.Email,
		CustomerID:         billing.String(sub.CustomerID),
		SubscriptionID:     billing.String(sub.ID),
		Status:             billing.StatusPtr(billing.ParseStatus(sub.Status)),
		CurrentPeriodStart: billing.Time(sub.CurrentPeriodStart),
		CurrentPeriodEnd:   billing.Time(sub.CurrentPeriodEnd),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		CanceledAt:         billing.Time(sub.CanceledAt),
	}
}
