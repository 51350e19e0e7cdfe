package bootstrap

import (
	"github.com/rs/zerolog"

	"github.com/tutorlink/tutorbilling/config"
)

// watchConfig applies reloadable settings whenever the holder reloads.
// Everything else is logged by the holder and waits for a restart.
func (a *App) watchConfig() {
	a.Config.OnChange(func(old, new *config.Config) {
		a.applyConfig(old, new)
		a.Metrics.ConfigReloaded(nil, a.clock.Now())
	})
	a.Config.OnError(func(err error) {
		a.Metrics.ConfigReloaded(err, a.clock.Now())
	})
}

func (a *App) applyConfig(old, new *config.Config) {
	if old.Logging.Level != new.Logging.Level {
		if level, err := zerolog.ParseLevel(new.Logging.Level); err == nil {
			zerolog.SetGlobalLevel(level)
		} else {
			a.Logger.Warn().Str("level", new.Logging.Level).Msg("ignoring unknown log level")
		}
	}

	a.Policy.Set(new.Billing.Premium.Policy())
	a.Catalog.SetTTL(new.Billing.Catalog.TTL)
	a.Checkout.SetConfig(checkoutConfig(new.Billing))
}
