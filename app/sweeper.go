package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/tutorlink/tutorbilling/adapters/metrics"
	"github.com/tutorlink/tutorbilling/domain/billing"
	"github.com/tutorlink/tutorbilling/ports"
)

// StaleSweeper reports records still stored as active whose billing period
// has ended, which usually means a missed webhook. It never writes.
type StaleSweeper struct {
	billing ports.BillingStore
	clock   ports.Clock
	metrics *metrics.Collector
	logger  zerolog.Logger
}

// NewStaleSweeper creates a sweeper.
func NewStaleSweeper(store ports.BillingStore, clk ports.Clock, m *metrics.Collector, logger zerolog.Logger) *StaleSweeper {
	return &StaleSweeper{billing: store, clock: clk, metrics: m, logger: logger.With().Str("component", "sweeper").Logger()}
}

// Sweep counts stale records per class.
func (s *StaleSweeper) Sweep(ctx context.Context) (map[billing.AccountClass]int, error) {
	now := s.clock.Now()
	out := make(map[billing.AccountClass]int, len(billing.Classes))

	for _, class := range billing.Classes {
		recs, err := s.billing.ListActive(ctx, class)
		if err != nil {
			return nil, fmt.Errorf("list active %s records: %w", class, err)
		}
		stale := 0
		for _, r := range recs {
			if r.CurrentPeriodEnd != nil && !now.Before(*r.CurrentPeriodEnd) {
				stale++
				s.logger.Debug().
					Str("account_class", string(class)).
					Str("subscription_id", r.SubscriptionID).
					Time("period_end", *r.CurrentPeriodEnd).
					Msg("stale subscription")
			}
		}
		out[class] = stale
		s.metrics.SetStale(string(class), stale)
		if stale > 0 {
			s.logger.Warn().
				Str("account_class", string(class)).
				Int("stale", stale).
				Int("active", len(recs)).
				Msg("active records past their period end")
		}
	}
	return out, nil
}
