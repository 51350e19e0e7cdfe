package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tutorlink/tutorbilling/adapters/payment"
	"github.com/tutorlink/tutorbilling/app"
	"github.com/tutorlink/tutorbilling/domain/billing"
	"github.com/tutorlink/tutorbilling/domain/provider"
	"github.com/tutorlink/tutorbilling/domain/purchase"
	"github.com/tutorlink/tutorbilling/domain/webhook"
	"github.com/tutorlink/tutorbilling/ports"
)

var tutorMeta = map[string]string{"type": "premium_subscription", "teacherEmail": "T@X.com"}

func TestDispatch_SubscriptionCreatedIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sub := activeSub("sub_1", tutorMeta)

	first := h.dispatch(t, subEvent("evt_1", provider.EventSubscriptionCreated, sub))
	require.NoError(t, first.Err)
	assert.Equal(t, webhook.StatusProcessed, first.Status)

	second := h.dispatch(t, subEvent("evt_2", provider.EventSubscriptionCreated, sub))
	require.NoError(t, second.Err)

	n, err := h.billing.Count(ctx, billing.ClassTutor)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, err := h.billing.GetByEmail(ctx, billing.ClassTutor, "t@x.com")
	require.NoError(t, err)
	assert.Equal(t, "sub_1", rec.SubscriptionID)
	assert.Equal(t, billing.StatusActive, rec.Status)
	assert.True(t, rec.LegacyPaid)
	assert.Equal(t, int64(1999), rec.PaymentAmount)
	require.NotNil(t, rec.CurrentPeriodEnd)
	assert.True(t, rec.CurrentPeriodEnd.Equal(testNow.Add(30*billing.Day)))

	view, err := h.premium.Status(ctx, billing.ClassTutor, "t@x.com")
	require.NoError(t, err)
	assert.True(t, view.Status.IsActive)
	assert.Equal(t, 30, view.Status.DaysRemaining)
}

func TestDispatch_DuplicateEventShortCircuits(t *testing.T) {
	h := newHarness(t)
	ev := subEvent("evt_1", provider.EventSubscriptionDeleted, activeSub("sub_1", tutorMeta))

	require.NoError(t, h.dispatch(t, ev).Err)
	res := h.dispatch(t, ev)

	assert.True(t, res.Duplicate)
	assert.Equal(t, webhook.StatusProcessed, res.Status)
	assert.Len(t, h.mail.FindByTag(string(app.NotifySubscriptionCanceled)), 1, "handler ran once")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.WebhookEvents.WithLabelValues(string(provider.EventSubscriptionDeleted), "duplicate")))
}

func TestDispatch_MetadataFromCheckoutSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.provider.AddSession(provider.CheckoutSession{
		ID:             "cs_1",
		Mode:           provider.ModeSubscription,
		SubscriptionID: "sub_1",
		AmountTotal:    999,
		Currency:       "usd",
		Metadata:       map[string]string{"type": "student_premium_subscription", "studentEmail": "s@x.com"},
	})

	res := h.dispatch(t, subEvent("evt_1", provider.EventSubscriptionCreated, activeSub("sub_1", nil)))
	require.NoError(t, res.Err)

	rec, err := h.billing.GetByEmail(ctx, billing.ClassStudent, "s@x.com")
	require.NoError(t, err)
	assert.Equal(t, "cs_1", rec.SessionID)
	assert.Equal(t, int64(999), rec.PaymentAmount, "session amount wins")

	n, err := h.billing.Count(ctx, billing.ClassTutor)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDispatch_UnresolvedMetadataDefaultsToTutor(t *testing.T) {
	h := newHarness(t)
	sub := activeSub("sub_1", nil)
	sub.CustomerEmail = "Someone@X.com"

	res := h.dispatch(t, subEvent("evt_1", provider.EventSubscriptionCreated, sub))
	require.NoError(t, res.Err)

	rec, err := h.billing.GetByEmail(context.Background(), billing.ClassTutor, "someone@x.com")
	require.NoError(t, err)
	assert.Equal(t, "sub_1", rec.SubscriptionID)
}

func TestDispatch_UnresolvedAccountFailsAndRedeliveryRetries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ev := subEvent("evt_1", provider.EventSubscriptionCreated, activeSub("sub_1", nil))

	res := h.dispatch(t, ev)
	require.ErrorIs(t, res.Err, app.ErrUnresolvedAccount)
	assert.Equal(t, webhook.StatusFailed, res.Status)

	entry, err := h.events.Get(ctx, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, webhook.StatusFailed, entry.Status)
	assert.Contains(t, entry.Error, "unresolved account")

	failed, err := h.events.ListFailed(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, failed, 1)

	// The session shows up later; redelivery of the failed event runs again.
	h.provider.AddSession(provider.CheckoutSession{
		ID:             "cs_1",
		SubscriptionID: "sub_1",
		Metadata:       map[string]string{"teacherEmail": "t@x.com"},
	})
	res = h.dispatch(t, ev)
	require.NoError(t, res.Err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, webhook.StatusProcessed, res.Status)

	entry, err = h.events.Get(ctx, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, 2, entry.Attempts)
}

func TestDispatch_LegacyPaymentCheckout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res := h.dispatch(t, sessionEvent("evt_1", provider.CheckoutSession{
		ID:            "cs_legacy",
		Mode:          provider.ModePayment,
		PaymentStatus: "paid",
		CustomerID:    "cus_9",
		AmountTotal:   4900,
		Currency:      "usd",
		Metadata:      map[string]string{"type": "premium_subscription", "teacherEmail": "t@x.com"},
	}))
	require.NoError(t, res.Err)

	rec, err := h.billing.GetByEmail(ctx, billing.ClassTutor, "t@x.com")
	require.NoError(t, err)
	assert.True(t, rec.LegacyPaid)
	assert.Empty(t, rec.SubscriptionID)
	assert.Equal(t, "cs_legacy", rec.SessionID)

	view, err := h.premium.Status(ctx, billing.ClassTutor, "t@x.com")
	require.NoError(t, err)
	assert.Equal(t, billing.SourceLegacy, view.Status.Source)
	assert.True(t, view.Status.IsActive)
	assert.Equal(t, 365, view.Status.DaysRemaining)

	mails := h.mail.FindByTag(string(app.NotifyPremiumActivated))
	require.Len(t, mails, 1)
	assert.Equal(t, "t@x.com", mails[0].To)
	assert.Contains(t, mails[0].TextBody, "49.00 USD")
}

func TestDispatch_SubscriptionCheckoutWritesNothing(t *testing.T) {
	h := newHarness(t)

	res := h.dispatch(t, sessionEvent("evt_1", provider.CheckoutSession{
		ID:             "cs_1",
		Mode:           provider.ModeSubscription,
		PaymentStatus:  "paid",
		SubscriptionID: "sub_1",
		Metadata:       tutorMeta,
	}))
	require.NoError(t, res.Err)
	assert.Equal(t, webhook.StatusProcessed, res.Status)

	n, err := h.billing.Count(context.Background(), billing.ClassTutor)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, h.mail.Count())
}

func TestDispatch_ContactPurchase(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := provider.CheckoutSession{
		ID:            "cs_contact",
		Mode:          provider.ModePayment,
		PaymentStatus: "paid",
		CustomerEmail: "Parent@X.com",
		AmountTotal:   500,
		Currency:      "usd",
		Metadata:      map[string]string{"type": "contact_purchase", "requestId": "req_7"},
	}

	require.NoError(t, h.dispatch(t, sessionEvent("evt_1", s)).Err)
	require.NoError(t, h.dispatch(t, sessionEvent("evt_2", s)).Err)

	r, err := h.purchases.GetBySession(ctx, "cs_contact")
	require.NoError(t, err)
	assert.Equal(t, purchase.KindContact, r.Kind)
	assert.Equal(t, "req_7", r.RequestID)
	assert.Equal(t, "parent@x.com", r.BuyerEmail)

	mails := h.mail.FindByTag(string(app.NotifyPurchaseReceipt))
	require.Len(t, mails, 1, "second delivery does not resend the receipt")
	assert.Equal(t, "parent@x.com", mails[0].To)
}

func TestDispatch_ContactPurchaseWithoutRequestID(t *testing.T) {
	h := newHarness(t)

	res := h.dispatch(t, sessionEvent("evt_1", provider.CheckoutSession{
		ID:       "cs_contact",
		Mode:     provider.ModePayment,
		Metadata: map[string]string{"type": "contact_purchase"},
	}))
	assert.ErrorIs(t, res.Err, purchase.ErrMissingField)
	assert.Equal(t, webhook.StatusFailed, res.Status)
}

func TestDispatch_SubscriptionDeleted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sub := activeSub("sub_1", tutorMeta)
	require.NoError(t, h.dispatch(t, subEvent("evt_1", provider.EventSubscriptionCreated, sub)).Err)

	h.clock.Advance(billing.Day)
	sub.Status = "canceled"
	require.NoError(t, h.dispatch(t, subEvent("evt_2", provider.EventSubscriptionDeleted, sub)).Err)

	rec, err := h.billing.GetByEmail(ctx, billing.ClassTutor, "t@x.com")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusCanceled, rec.Status)
	assert.False(t, rec.LegacyPaid)
	require.NotNil(t, rec.CanceledAt)
	assert.True(t, rec.CanceledAt.Equal(testNow.Add(billing.Day)))

	view, err := h.premium.Status(ctx, billing.ClassTutor, "t@x.com")
	require.NoError(t, err)
	assert.False(t, view.Status.IsActive)
	assert.Len(t, h.mail.FindByTag(string(app.NotifySubscriptionCanceled)), 1)
}

func TestDispatch_UnresolvedSubscriptionUsesStoredRecord(t *testing.T) {
	for name, newH := range map[string]func(*testing.T) *harness{"memory": newHarness, "sqlite": newSQLiteHarness} {
		t.Run(name, func(t *testing.T) {
			h := newH(t)
			ctx := context.Background()
			_, _, err := h.billing.Upsert(ctx, billing.ClassStudent, billing.Update{
				AccountEmail:     "s@x.com",
				CustomerID:       billing.String("cus_9"),
				SubscriptionID:   billing.String("sub_9"),
				Status:           billing.StatusPtr(billing.StatusActive),
				CurrentPeriodEnd: billing.Time(testNow.Add(30 * billing.Day)),
			})
			require.NoError(t, err)

			sub := provider.Subscription{ID: "sub_9", CustomerID: "cus_9", Status: "active", CurrentPeriodEnd: testNow.Add(30 * billing.Day), CancelAtPeriodEnd: true}
			res := h.dispatch(t, subEvent("evt_1", provider.EventSubscriptionUpdated, sub))
			require.NoError(t, res.Err)

			rec, err := h.billing.GetByEmail(ctx, billing.ClassStudent, "s@x.com")
			require.NoError(t, err)
			assert.True(t, rec.CancelAtPeriodEnd)

			sub.Status = "canceled"
			res = h.dispatch(t, subEvent("evt_2", provider.EventSubscriptionDeleted, sub))
			require.NoError(t, res.Err)
			assert.Equal(t, webhook.StatusProcessed, res.Status)

			rec, err = h.billing.GetByEmail(ctx, billing.ClassStudent, "s@x.com")
			require.NoError(t, err)
			assert.Equal(t, billing.StatusCanceled, rec.Status)

			view, err := h.premium.Status(ctx, billing.ClassStudent, "s@x.com")
			require.NoError(t, err)
			assert.False(t, view.Status.IsActive)

			n, err := h.billing.Count(ctx, billing.ClassTutor)
			require.NoError(t, err)
			assert.Zero(t, n, "student subscription never lands in the tutor table")
			assert.Len(t, h.mail.FindByTo("s@x.com"), 1)
		})
	}
}

func TestDispatch_SubscriptionUpdatedKeepsPaymentFields(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.provider.AddSession(provider.CheckoutSession{
		ID:             "cs_1",
		Mode:           provider.ModeSubscription,
		SubscriptionID: "sub_1",
		AmountTotal:    1999,
		Currency:       "usd",
		Metadata:       tutorMeta,
	})
	sub := activeSub("sub_1", tutorMeta)
	require.NoError(t, h.dispatch(t, subEvent("evt_1", provider.EventSubscriptionCreated, sub)).Err)

	h.clock.Advance(billing.Day)
	sub.CancelAtPeriodEnd = true
	sub.Amount = 0
	res := h.dispatch(t, subEvent("evt_2", provider.EventSubscriptionUpdated, sub))
	require.NoError(t, res.Err)

	rec, err := h.billing.GetByEmail(ctx, billing.ClassTutor, "t@x.com")
	require.NoError(t, err)
	assert.Equal(t, int64(1999), rec.PaymentAmount)
	assert.Equal(t, "cs_1", rec.SessionID)
	assert.True(t, rec.CancelAtPeriodEnd)
	assert.Equal(t, billing.StatusActive, rec.Status)

	view, err := h.premium.Status(ctx, billing.ClassTutor, "t@x.com")
	require.NoError(t, err)
	assert.False(t, view.Status.IsActive)
	assert.True(t, view.Status.CancelAtPeriodEnd)
}

func TestDispatch_RepeatedCreateKeepsPaymentDate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	paidAt := testNow.Add(-time.Hour)
	h.provider.AddSession(provider.CheckoutSession{
		ID:             "cs_1",
		Mode:           provider.ModeSubscription,
		SubscriptionID: "sub_1",
		Metadata:       tutorMeta,
		Created:        paidAt,
	})

	sub := activeSub("sub_1", tutorMeta)
	require.NoError(t, h.dispatch(t, subEvent("evt_1", provider.EventSubscriptionCreated, sub)).Err)
	h.clock.Advance(2 * billing.Day)
	require.NoError(t, h.dispatch(t, subEvent("evt_2", provider.EventSubscriptionCreated, sub)).Err)

	rec, err := h.billing.GetByEmail(ctx, billing.ClassTutor, "t@x.com")
	require.NoError(t, err)
	require.NotNil(t, rec.PaymentDate)
	assert.True(t, rec.PaymentDate.Equal(paidAt), "session creation time")

	// Without a session the period start is used.
	other := activeSub("sub_2", map[string]string{"teacherEmail": "u@x.com"})
	require.NoError(t, h.dispatch(t, subEvent("evt_3", provider.EventSubscriptionCreated, other)).Err)
	h.clock.Advance(billing.Day)
	require.NoError(t, h.dispatch(t, subEvent("evt_4", provider.EventSubscriptionCreated, other)).Err)

	rec, err = h.billing.GetByEmail(ctx, billing.ClassTutor, "u@x.com")
	require.NoError(t, err)
	require.NotNil(t, rec.PaymentDate)
	assert.True(t, rec.PaymentDate.Equal(testNow))
}

func TestDispatch_FirstInvoiceOnlyNotifies(t *testing.T) {
	h := newHarness(t)
	h.provider.AddSubscription(activeSub("sub_1", tutorMeta))

	res := h.dispatch(t, invoiceEvent("evt_1", provider.EventInvoiceSucceeded, provider.Invoice{
		ID:             "in_1",
		SubscriptionID: "sub_1",
		BillingReason:  provider.ReasonSubscriptionCreate,
		AmountPaid:     1999,
		Currency:       "usd",
	}))
	require.NoError(t, res.Err)

	n, err := h.billing.Count(context.Background(), billing.ClassTutor)
	require.NoError(t, err)
	assert.Zero(t, n, "first invoice does not write")

	mails := h.mail.FindByTag(string(app.NotifyPremiumActivated))
	require.Len(t, mails, 1)
	assert.Contains(t, mails[0].TextBody, "19.99 USD")
	assert.Contains(t, mails[0].TextBody, "Next charge: March 31, 2026")
}

func TestDispatch_RenewalUpdatesRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sub := activeSub("sub_1", tutorMeta)
	h.provider.AddSubscription(sub)
	require.NoError(t, h.dispatch(t, subEvent("evt_1", provider.EventSubscriptionCreated, sub)).Err)

	now := h.clock.Advance(30 * billing.Day)
	sub.CurrentPeriodStart = now
	sub.CurrentPeriodEnd = now.Add(30 * billing.Day)
	h.provider.AddSubscription(sub)

	inv := provider.Invoice{
		ID:             "in_2",
		Number:         "INV-0002",
		SubscriptionID: "sub_1",
		BillingReason:  provider.ReasonSubscriptionCycle,
		AmountPaid:     1999,
		Currency:       "usd",
		HostedURL:      "https://pay.test/in_2",
	}
	require.NoError(t, h.dispatch(t, invoiceEvent("evt_2", provider.EventInvoiceSucceeded, inv)).Err)
	require.NoError(t, h.dispatch(t, invoiceEvent("evt_3", provider.EventInvoicePaid, inv)).Err)

	rec, err := h.billing.GetByEmail(ctx, billing.ClassTutor, "t@x.com")
	require.NoError(t, err)
	require.NotNil(t, rec.CurrentPeriodEnd)
	assert.True(t, rec.CurrentPeriodEnd.Equal(sub.CurrentPeriodEnd))
	assert.Equal(t, billing.StatusActive, rec.Status)

	receipts := h.mail.FindByTag(string(app.NotifyPaymentReceipt))
	require.Len(t, receipts, 1, "invoice.paid sends no receipt")
	assert.Contains(t, receipts[0].Subject, "INV-0002")
	assert.Contains(t, receipts[0].TextBody, "https://pay.test/in_2")
}

func TestDispatch_InvoiceFailedUsesLiveUnpaid(t *testing.T) {
	h := newHarness(t)
	sub := activeSub("sub_1", tutorMeta)
	require.NoError(t, h.dispatch(t, subEvent("evt_1", provider.EventSubscriptionCreated, sub)).Err)

	sub.Status = "unpaid"
	h.provider.AddSubscription(sub)
	res := h.dispatch(t, invoiceEvent("evt_2", provider.EventInvoiceFailed, provider.Invoice{
		ID: "in_2", SubscriptionID: "sub_1", AmountDue: 1999, Currency: "usd",
	}))
	require.NoError(t, res.Err)

	rec, err := h.billing.GetByEmail(context.Background(), billing.ClassTutor, "t@x.com")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusUnpaid, rec.Status)
	assert.False(t, rec.LegacyPaid)
}

func TestDispatch_InvoiceFailedFallsBackToStoredRecord(t *testing.T) {
	h := newHarness(t)
	sub := activeSub("sub_1", tutorMeta)
	sub.CancelAtPeriodEnd = true
	require.NoError(t, h.dispatch(t, subEvent("evt_1", provider.EventSubscriptionCreated, sub)).Err)

	h.provider.FailOn("GetSubscription", payment.ErrNotFound)
	res := h.dispatch(t, invoiceEvent("evt_2", provider.EventInvoiceFailed, provider.Invoice{
		ID: "in_2", SubscriptionID: "sub_1", AmountDue: 1999, Currency: "usd",
	}))
	require.NoError(t, res.Err)

	rec, err := h.billing.GetByEmail(context.Background(), billing.ClassTutor, "t@x.com")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPastDue, rec.Status)
	assert.True(t, rec.CancelAtPeriodEnd, "pending cancellation survives")

	mails := h.mail.FindByTag(string(app.NotifyPaymentFailed))
	require.Len(t, mails, 1)
	assert.Equal(t, "t@x.com", mails[0].To)
}

func TestDispatch_InvoiceForUnknownSubscriptionFails(t *testing.T) {
	h := newHarness(t)
	h.provider.FailOn("GetSubscription", payment.ErrNotFound)

	res := h.dispatch(t, invoiceEvent("evt_1", provider.EventInvoiceFailed, provider.Invoice{ID: "in_1", SubscriptionID: "sub_x"}))
	assert.ErrorIs(t, res.Err, app.ErrUnresolvedAccount)
}

func TestDispatch_IgnoredEvents(t *testing.T) {
	h := newHarness(t)

	res := h.dispatch(t, provider.Event{ID: "evt_1", Type: "charge.refunded"})
	require.NoError(t, res.Err)
	assert.Equal(t, webhook.StatusIgnored, res.Status)

	res = h.dispatch(t, invoiceEvent("evt_2", provider.EventInvoicePaid, provider.Invoice{ID: "in_1"}))
	require.NoError(t, res.Err)
	assert.Equal(t, webhook.StatusIgnored, res.Status, "invoice without subscription")

	res = h.dispatch(t, provider.Event{ID: "evt_1", Type: "charge.refunded"})
	assert.True(t, res.Duplicate)
}

func TestDispatch_MissingObject(t *testing.T) {
	h := newHarness(t)
	res := h.dispatch(t, provider.Event{ID: "evt_1", Type: provider.EventSubscriptionUpdated})
	assert.ErrorIs(t, res.Err, app.ErrMissingObject)
}

type panickingStore struct {
	ports.BillingStore
}

func (panickingStore) Upsert(context.Context, billing.AccountClass, billing.Update) (billing.Record, bool, error) {
	panic("disk on fire")
}

// cancelAwareStore fails writes on a cancelled context, like a real driver.
type cancelAwareStore struct {
	ports.BillingStore
	deadline bool
}

func (s *cancelAwareStore) Upsert(ctx context.Context, class billing.AccountClass, u billing.Update) (billing.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return billing.Record{}, false, err
	}
	_, s.deadline = ctx.Deadline()
	return s.BillingStore.Upsert(ctx, class, u)
}

func TestDispatch_OutlivesCancelledCaller(t *testing.T) {
	h := newHarness(t)
	store := &cancelAwareStore{BillingStore: h.billing}
	d := app.NewDispatcher(app.DispatcherDeps{
		Billing:  store,
		Events:   h.events,
		Provider: h.provider,
		Notifier: h.notifier,
		IDs:      h.ids,
		Clock:    h.clock,
		Metrics:  h.metrics,
		Logger:   zerolog.Nop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := d.Dispatch(ctx, subEvent("evt_1", provider.EventSubscriptionCreated, activeSub("sub_1", tutorMeta)))
	h.settle(t)
	require.NoError(t, res.Err)
	assert.Equal(t, webhook.StatusProcessed, res.Status)
	assert.True(t, store.deadline, "handling is bounded")

	entry, err := h.events.Get(context.Background(), "evt_1")
	require.NoError(t, err)
	assert.Equal(t, webhook.StatusProcessed, entry.Status)
}

func TestDispatch_HandlerPanicIsContained(t *testing.T) {
	h := newHarness(t)
	d := app.NewDispatcher(app.DispatcherDeps{
		Billing:  panickingStore{h.billing},
		Events:   h.events,
		Provider: h.provider,
		Notifier: h.notifier,
		IDs:      h.ids,
		Clock:    h.clock,
		Metrics:  h.metrics,
		Logger:   zerolog.Nop(),
	})

	res := d.Dispatch(context.Background(), subEvent("evt_1", provider.EventSubscriptionCreated, activeSub("sub_1", tutorMeta)))
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "disk on fire")
	assert.Equal(t, webhook.StatusFailed, res.Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.HandlerErrors.WithLabelValues(string(provider.EventSubscriptionCreated))))
}
