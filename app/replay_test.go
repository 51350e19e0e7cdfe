package app_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tutorlink/tutorbilling/app"
	"github.com/tutorlink/tutorbilling/domain/billing"
	"github.com/tutorlink/tutorbilling/domain/provider"
	"github.com/tutorlink/tutorbilling/domain/purchase"
)

func TestReplaySession_SyncsSubscription(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.provider.AddSession(provider.CheckoutSession{
		ID:             "cs_1",
		Mode:           provider.ModeSubscription,
		PaymentStatus:  "paid",
		SubscriptionID: "sub_1",
		AmountTotal:    999,
		Currency:       "usd",
		Metadata:       map[string]string{"studentEmail": "s@x.com"},
	})
	// Subscription metadata disagrees; the session decides.
	h.provider.AddSubscription(activeSub("sub_1", map[string]string{"teacherEmail": "other@x.com"}))

	res, err := h.dispatcher.ReplaySession(ctx, "cs_1", "")
	require.NoError(t, err)
	assert.True(t, res.SubscriptionSynced)
	assert.Equal(t, purchase.KindStudentPremium, res.Kind)
	assert.Equal(t, billing.ClassStudent, res.Class)
	assert.Equal(t, "s@x.com", res.Email)

	rec, err := h.billing.GetByEmail(ctx, billing.ClassStudent, "s@x.com")
	require.NoError(t, err)
	assert.Equal(t, "sub_1", rec.SubscriptionID)
	assert.Equal(t, "cs_1", rec.SessionID)
	assert.Equal(t, int64(999), rec.PaymentAmount)

	n, err := h.billing.Count(ctx, billing.ClassTutor)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = h.dispatcher.ReplaySession(ctx, "cs_1", "")
	require.NoError(t, err)
	n, err = h.billing.Count(ctx, billing.ClassStudent)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "replay is idempotent")
}

func TestReplaySession_ForcedKind(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.provider.AddSession(provider.CheckoutSession{
		ID:            "cs_2",
		Mode:          provider.ModePayment,
		PaymentStatus: "paid",
		CustomerEmail: "p@x.com",
		AmountTotal:   500,
		Currency:      "usd",
		Metadata:      map[string]string{"requestId": "req_1"},
	})

	_, err := h.dispatcher.ReplaySession(ctx, "cs_2", "")
	assert.ErrorIs(t, err, purchase.ErrMissingDiscriminator)

	res, err := h.dispatcher.ReplaySession(ctx, "cs_2", purchase.KindContact)
	require.NoError(t, err)
	assert.False(t, res.SubscriptionSynced)
	assert.Equal(t, purchase.KindContact, res.Kind)

	r, err := h.purchases.GetBySession(ctx, "cs_2")
	require.NoError(t, err)
	assert.Equal(t, "req_1", r.RequestID)

	h.settle(t)
	assert.Len(t, h.mail.FindByTag(string(app.NotifyPurchaseReceipt)), 1)
}

func TestReplaySession_UnknownSession(t *testing.T) {
	h := newHarness(t)
	_, err := h.dispatcher.ReplaySession(context.Background(), "cs_missing", "")
	assert.Error(t, err)
}
