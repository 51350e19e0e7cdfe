package app_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/tutorlink/tutorbilling/adapters/cache"
	"github.com/tutorlink/tutorbilling/adapters/clock"
	"github.com/tutorlink/tutorbilling/adapters/email"
	"github.com/tutorlink/tutorbilling/adapters/idgen"
	"github.com/tutorlink/tutorbilling/adapters/lock"
	"github.com/tutorlink/tutorbilling/adapters/memory"
	"github.com/tutorlink/tutorbilling/adapters/metrics"
	"github.com/tutorlink/tutorbilling/adapters/payment"
	"github.com/tutorlink/tutorbilling/adapters/sqlite"
	"github.com/tutorlink/tutorbilling/app"
	"github.com/tutorlink/tutorbilling/domain/billing"
	"github.com/tutorlink/tutorbilling/domain/provider"
	"github.com/tutorlink/tutorbilling/domain/purchase"
	"github.com/tutorlink/tutorbilling/ports"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	clock      *clock.Fake
	ids        *idgen.Sequential
	provider   *payment.FakeProvider
	billing    ports.BillingStore
	customers  ports.CustomerStore
	purchases  ports.PurchaseStore
	events     ports.EventLog
	mail       *email.MockSender
	metrics    *metrics.Collector
	registry   *prometheus.Registry
	notifier   *app.Notifier
	policy     *app.PolicyHolder
	dispatcher *app.Dispatcher
	premium    *app.PremiumService
	catalog    *app.PriceCatalog
	checkout   *app.CheckoutService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := clock.NewFake(testNow)
	ids := idgen.NewSequential("rec_")
	return build(t, clk, ids, memory.NewBillingStore(ids, clk), memory.NewCustomerStore(), memory.NewPurchaseStore(), memory.NewEventLog())
}

// newSQLiteHarness runs the same services over a migrated temp database.
func newSQLiteHarness(t *testing.T) *harness {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "billing.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background(), zerolog.Nop()))

	clk := clock.NewFake(testNow)
	ids := idgen.NewSequential("rec_")
	return build(t, clk, ids,
		sqlite.NewBillingStore(db, ids, clk),
		sqlite.NewCustomerStore(db),
		sqlite.NewPurchaseStore(db),
		sqlite.NewEventStore(db),
	)
}

func build(t *testing.T, clk *clock.Fake, ids *idgen.Sequential, store ports.BillingStore, customers ports.CustomerStore, purchases ports.PurchaseStore, events ports.EventLog) *harness {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)
	fake := payment.NewFakeProvider("whsec_test")
	mail := email.NewMockSender()
	logger := zerolog.Nop()

	notifier, err := app.NewNotifier(mail, app.NotifierConfig{AppName: "TutorLink", BaseURL: "https://tutorlink.test"}, m, logger)
	require.NoError(t, err)
	policy := app.NewPolicyHolder(billing.DefaultPolicy())

	h := &harness{
		clock:     clk,
		ids:       ids,
		provider:  fake,
		billing:   store,
		customers: customers,
		purchases: purchases,
		events:    events,
		mail:      mail,
		metrics:   m,
		registry:  reg,
		notifier:  notifier,
		policy:    policy,
	}
	h.dispatcher = app.NewDispatcher(app.DispatcherDeps{
		Billing:   store,
		Purchases: purchases,
		Events:    events,
		Provider:  fake,
		Notifier:  notifier,
		Policy:    policy,
		IDs:       ids,
		Clock:     clk,
		Metrics:   m,
		Logger:    logger,
	})
	h.premium = app.NewPremiumService(store, clk, policy, logger)
	h.catalog = app.NewPriceCatalog(cache.NewMemoryCatalog(clk), lock.NewLocal(), fake, time.Hour, m, logger)
	h.checkout = app.NewCheckoutService(fake, customers, h.catalog, app.CheckoutConfig{
		SuccessURL: "https://tutorlink.test/billing/success",
		CancelURL:  "https://tutorlink.test/billing/cancel",
		Offers: map[purchase.Kind]provider.Offer{
			purchase.KindTeacherPremium: {Key: "teacher_premium_monthly", ProductName: "Teacher Premium", Amount: 1999, Currency: "usd", Interval: provider.IntervalMonth},
			purchase.KindStudentPremium: {Key: "student_premium_monthly", ProductName: "Student Premium", Amount: 999, Currency: "usd", Interval: provider.IntervalMonth},
		},
		OneTime: map[purchase.Kind]provider.LineItem{
			purchase.KindContact:         {Name: "Tutor contact", Amount: 500, Currency: "usd", Quantity: 1},
			purchase.KindTeacherPurchase: {Name: "Tutor introduction", Amount: 700, Currency: "usd", Quantity: 1},
		},
	}, logger)
	return h
}

// settle waits for detached notifications.
func (h *harness) settle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.notifier.Wait(ctx))
}

func (h *harness) dispatch(t *testing.T, ev provider.Event) app.DispatchResult {
	t.Helper()
	res := h.dispatcher.Dispatch(context.Background(), ev)
	h.settle(t)
	return res
}

func activeSub(id string, md map[string]string) provider.Subscription {
	return provider.Subscription{
		ID:                 id,
		CustomerID:         "cus_1",
		Status:             "active",
		CurrentPeriodStart: testNow,
		CurrentPeriodEnd:   testNow.Add(30 * billing.Day),
		Metadata:           md,
		Amount:             1999,
		Currency:           "usd",
	}
}

func subEvent(eventID string, typ provider.EventType, sub provider.Subscription) provider.Event {
	return provider.Event{ID: eventID, Type: typ, Subscription: &sub}
}

func invoiceEvent(eventID string, typ provider.EventType, inv provider.Invoice) provider.Event {
	return provider.Event{ID: eventID, Type: typ, Invoice: &inv}
}

func sessionEvent(eventID string, s provider.CheckoutSession) provider.Event {
	return provider.Event{ID: eventID, Type: provider.EventCheckoutCompleted, Session: &s}
}
