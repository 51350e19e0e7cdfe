package app_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tutorlink/tutorbilling/app"
	"github.com/tutorlink/tutorbilling/domain/billing"
	"github.com/tutorlink/tutorbilling/domain/provider"
)

func TestPremiumStatus_UnknownAccount(t *testing.T) {
	h := newHarness(t)

	view, err := h.premium.Status(context.Background(), billing.ClassStudent, " Nobody@X.com ")
	require.NoError(t, err)
	assert.Equal(t, "nobody@x.com", view.Email)
	assert.False(t, view.Status.HasPremium)
	assert.False(t, view.Status.IsActive)
	assert.Equal(t, billing.SourceNone, view.Status.Source)
	assert.Nil(t, view.Record)
}

func TestPremiumStatus_StaleActiveIsInactive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.dispatch(t, subEvent("evt_1", provider.EventSubscriptionCreated, activeSub("sub_1", tutorMeta))).Err)

	h.clock.Advance(31 * billing.Day)
	view, err := h.premium.Status(ctx, billing.ClassTutor, "t@x.com")
	require.NoError(t, err)
	assert.True(t, view.Status.HasPremium)
	assert.False(t, view.Status.IsActive)

	rec, err := h.billing.GetByEmail(ctx, billing.ClassTutor, "t@x.com")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusActive, rec.Status, "reads never rewrite the record")
}

func TestPremiumStatus_PolicyReload(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sub := activeSub("sub_1", tutorMeta)
	sub.CancelAtPeriodEnd = true
	require.NoError(t, h.dispatch(t, subEvent("evt_1", provider.EventSubscriptionCreated, sub)).Err)

	view, err := h.premium.Status(ctx, billing.ClassTutor, "t@x.com")
	require.NoError(t, err)
	assert.False(t, view.Status.IsActive, "cancellation wins by default")

	p := h.policy.Get()
	p.HonorPeriodOnCancel = true
	h.policy.Set(p)

	view, err = h.premium.Status(ctx, billing.ClassTutor, "t@x.com")
	require.NoError(t, err)
	assert.True(t, view.Status.IsActive)
	assert.Nil(t, view.Status.NextChargeDate)
}

func TestUpdateContent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	err := h.premium.UpdateContent(ctx, billing.ClassTutor, "t@x.com", []byte("{not json"))
	assert.ErrorIs(t, err, app.ErrInvalidContent)

	err = h.premium.UpdateContent(ctx, billing.ClassTutor, "t@x.com", []byte(`{"headline":"Maths"}`))
	assert.ErrorIs(t, err, app.ErrPremiumInactive)

	require.NoError(t, h.dispatch(t, subEvent("evt_1", provider.EventSubscriptionCreated, activeSub("sub_1", tutorMeta))).Err)
	require.NoError(t, h.premium.UpdateContent(ctx, billing.ClassTutor, "T@x.com", []byte(`{"headline":"Maths"}`)))

	rec, err := h.billing.GetByEmail(ctx, billing.ClassTutor, "t@x.com")
	require.NoError(t, err)
	assert.JSONEq(t, `{"headline":"Maths"}`, string(rec.ContentPayload))
}
