package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/tutorlink/tutorbilling/config"
)

// jobTimeout bounds a single background job run.
const jobTimeout = 5 * time.Minute

// initJobs schedules the catalog refresh and stale-subscription sweep.
// Jobs start with Run.
func (a *App) initJobs(cfg config.JobsConfig) error {
	log := cronLogger{log: a.Logger.With().Str("component", "jobs").Logger()}
	c := cron.New(
		cron.WithLogger(log),
		cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)),
	)

	jobs := []struct {
		name string
		spec string
		run  func(context.Context) error
	}{
		{"catalog_refresh", cfg.CatalogRefresh, a.RefreshCatalog},
		{"stale_sweep", cfg.StaleSweep, a.SweepStale},
	}
	for _, j := range jobs {
		if j.spec == "" {
			a.Logger.Info().Str("job", j.name).Msg("job disabled")
			continue
		}
		if _, err := c.AddFunc(j.spec, a.jobFunc(j.name, j.run)); err != nil {
			return fmt.Errorf("schedule %s %q: %w", j.name, j.spec, err)
		}
		a.Logger.Info().Str("job", j.name).Str("spec", j.spec).Msg("job scheduled")
	}

	a.cron = c
	return nil
}

func (a *App) jobFunc(name string, run func(context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		start := time.Now()
		if err := run(ctx); err != nil {
			a.Logger.Error().Err(err).Str("job", name).Msg("job failed")
			return
		}
		a.Logger.Debug().Str("job", name).Dur("duration", time.Since(start)).Msg("job finished")
	}
}

// RefreshCatalog re-resolves every configured recurring price.
func (a *App) RefreshCatalog(ctx context.Context) error {
	offers := a.Checkout.Config().RecurringOffers()
	if len(offers) == 0 {
		return nil
	}
	return a.Catalog.Refresh(ctx, offers)
}

// SweepStale counts active records whose period has ended.
func (a *App) SweepStale(ctx context.Context) error {
	_, err := a.Sweeper.Sweep(ctx)
	return err
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
