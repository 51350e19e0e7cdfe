package app_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tutorlink/tutorbilling/app"
	"github.com/tutorlink/tutorbilling/domain/billing"
	"github.com/tutorlink/tutorbilling/domain/provider"
)

func TestStaleSweeper(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.dispatch(t, subEvent("evt_1", provider.EventSubscriptionCreated, activeSub("sub_1", tutorMeta))).Err)

	sweeper := app.NewStaleSweeper(h.billing, h.clock, h.metrics, zerolog.Nop())

	counts, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, counts[billing.ClassTutor])

	h.clock.Advance(31 * billing.Day)
	counts, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[billing.ClassTutor])
	assert.Equal(t, 0, counts[billing.ClassStudent])
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.StaleSubscriptions.WithLabelValues("tutor")))

	rec, err := h.billing.GetByEmail(ctx, billing.ClassTutor, "t@x.com")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusActive, rec.Status, "sweep never writes")
}
