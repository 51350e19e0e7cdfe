// Package bootstrap wires all dependencies and starts the application.
// Configuration comes from a YAML file with environment overrides, or from
// the environment alone when no file exists.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/tutorlink/tutorbilling/adapters/cache"
	"github.com/tutorlink/tutorbilling/adapters/clock"
	"github.com/tutorlink/tutorbilling/adapters/email"
	"github.com/tutorlink/tutorbilling/adapters/idgen"
	"github.com/tutorlink/tutorbilling/adapters/lock"
	"github.com/tutorlink/tutorbilling/adapters/metrics"
	"github.com/tutorlink/tutorbilling/adapters/payment"
	"github.com/tutorlink/tutorbilling/adapters/sqlite"
	"github.com/tutorlink/tutorbilling/app"
	"github.com/tutorlink/tutorbilling/config"
	"github.com/tutorlink/tutorbilling/ports"
	"github.com/tutorlink/tutorbilling/web"
)

// App represents the running application.
type App struct {
	Logger     zerolog.Logger
	Config     *config.Holder
	DB         *sqlite.DB
	HTTPServer *http.Server
	Metrics    *metrics.Collector
	Registry   *prometheus.Registry

	Provider   ports.BillingProvider
	Dispatcher *app.Dispatcher
	Premium    *app.PremiumService
	Catalog    *app.PriceCatalog
	Checkout   *app.CheckoutService
	Sweeper    *app.StaleSweeper
	Notifier   *app.Notifier
	Policy     *app.PolicyHolder
	Handler    *web.Handler

	events ports.EventLog
	clock  ports.Clock
	redis  *redis.Client
	cron   *cron.Cron
	watch  bool
}

// Options customizes application initialization.
type Options struct {
	// ConfigPath is the YAML file. When it does not exist configuration is
	// read from the environment.
	ConfigPath string
	// Config, when set, is used instead of loading ConfigPath.
	Config *config.Config
	// Watch enables hot reload on file change and SIGHUP.
	Watch bool
	// LogOutput overrides stdout for logs.
	LogOutput io.Writer

	// Provider and Email override the configured adapters.
	Provider ports.BillingProvider
	Email    ports.EmailSender
	Clock    ports.Clock
}

// LoadConfig resolves the configuration the same way New does.
func LoadConfig(path string) (*config.Config, error) {
	return config.LoadWithFallback(path)
}

// New creates and initializes the application.
func New(ctx context.Context, opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		var err error
		cfg, err = LoadConfig(opts.ConfigPath)
		if err != nil {
			return nil, err
		}
	}

	out := opts.LogOutput
	if out == nil {
		out = os.Stdout
	}
	logger := NewLogger(cfg.Logging, out)
	logger.Info().Msg("initializing tutorbilling")

	a := &App{
		Logger: logger,
		clock:  opts.Clock,
		watch:  opts.Watch,
	}
	if a.clock == nil {
		a.clock = clock.Real{}
	}

	holder, err := newHolder(cfg, opts, logger)
	if err != nil {
		return nil, err
	}
	a.Config = holder

	if err := a.initDatabase(ctx, cfg); err != nil {
		a.Shutdown(ctx)
		return nil, fmt.Errorf("init database: %w", err)
	}

	if err := a.initServices(ctx, cfg, opts); err != nil {
		a.Shutdown(ctx)
		return nil, err
	}

	a.initHTTPServer(cfg)
	a.watchConfig()

	if err := a.initJobs(cfg.Jobs); err != nil {
		a.Shutdown(ctx)
		return nil, fmt.Errorf("init jobs: %w", err)
	}

	return a, nil
}

func newHolder(cfg *config.Config, opts Options, logger zerolog.Logger) (*config.Holder, error) {
	if opts.Config == nil && opts.ConfigPath != "" {
		if _, err := os.Stat(opts.ConfigPath); err == nil {
			return config.NewHolderWithConfig(cfg, opts.ConfigPath, logger)
		}
	}
	return config.NewStaticHolder(cfg, logger), nil
}

func (a *App) initDatabase(ctx context.Context, cfg *config.Config) error {
	db, err := sqlite.Open(cfg.Database.DSN)
	if err != nil {
		return err
	}

	if err := db.Migrate(ctx, a.Logger); err != nil {
		db.Close()
		return fmt.Errorf("migrate: %w", err)
	}

	a.DB = db
	a.Logger.Info().Str("dsn", cfg.Database.DSN).Msg("database initialized")
	return nil
}

func (a *App) initServices(ctx context.Context, cfg *config.Config, opts Options) error {
	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = metrics.NewWithRegistry(a.Registry)

	a.Provider = opts.Provider
	if a.Provider == nil {
		p, err := payment.NewProvider(payment.Config{
			Provider: cfg.Billing.Provider,
			Stripe: payment.StripeConfig{
				SecretKey:     cfg.Billing.Stripe.SecretKey,
				WebhookSecret: cfg.Billing.Stripe.WebhookSecret,
				APIBaseURL:    cfg.Billing.Stripe.APIBaseURL,
			},
		})
		if err != nil {
			return fmt.Errorf("init payment provider: %w", err)
		}
		a.Provider = p
	}
	a.Logger.Info().Str("provider", a.Provider.Name()).Msg("payment provider initialized")

	sender := opts.Email
	if sender == nil {
		s, err := email.NewSender(emailConfig(cfg.Email))
		if err != nil {
			return fmt.Errorf("init email sender: %w", err)
		}
		sender = s
	}

	notifier, err := app.NewNotifier(sender, app.NotifierConfig{
		AppName: cfg.Email.AppName,
		BaseURL: cfg.Email.BaseURL,
		Timeout: cfg.Email.SendTimeout,
	}, a.Metrics, a.Logger)
	if err != nil {
		return fmt.Errorf("init notifier: %w", err)
	}
	a.Notifier = notifier

	catalogCache, locker, err := a.initCatalogBackend(ctx, cfg)
	if err != nil {
		return err
	}

	ids := idgen.UUID{}
	billingStore := sqlite.NewBillingStore(a.DB, ids, a.clock)
	a.events = sqlite.NewEventStore(a.DB)
	a.Policy = app.NewPolicyHolder(cfg.Billing.Premium.Policy())

	a.Dispatcher = app.NewDispatcher(app.DispatcherDeps{
		Billing:   billingStore,
		Purchases: sqlite.NewPurchaseStore(a.DB),
		Events:    a.events,
		Provider:  a.Provider,
		Notifier:  a.Notifier,
		Policy:    a.Policy,
		IDs:       ids,
		Clock:     a.clock,
		Metrics:   a.Metrics,
		Logger:    a.Logger,
	})
	a.Premium = app.NewPremiumService(billingStore, a.clock, a.Policy, a.Logger)
	a.Catalog = app.NewPriceCatalog(catalogCache, locker, a.Provider, cfg.Billing.Catalog.TTL, a.Metrics, a.Logger)
	a.Checkout = app.NewCheckoutService(a.Provider, sqlite.NewCustomerStore(a.DB), a.Catalog, checkoutConfig(cfg.Billing), a.Logger)
	a.Sweeper = app.NewStaleSweeper(billingStore, a.clock, a.Metrics, a.Logger)

	return a.warmCatalog(ctx, cfg.Billing)
}

// initCatalogBackend selects the shared Redis cache and lock when Redis is
// configured and the in-process pair otherwise.
func (a *App) initCatalogBackend(ctx context.Context, cfg *config.Config) (ports.CatalogCache, ports.Locker, error) {
	if cfg.Redis.URL == "" {
		a.Logger.Info().Msg("using in-process price cache")
		return cache.NewMemoryCatalog(a.clock), lock.NewLocal(), nil
	}

	client, err := cache.Connect(ctx, cache.RedisConfig{
		URL:            cfg.Redis.URL,
		ConnectTimeout: cfg.Redis.ConnectTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	a.redis = client

	prefix := cfg.Redis.KeyPrefix
	a.Logger.Info().Str("prefix", prefix).Msg("using redis price cache and lock")
	return cache.NewRedisCatalog(client, prefix+":catalog:"),
		lock.NewRedsync(client, prefix+":lock:", cfg.Billing.Catalog.LockExpiry),
		nil
}

// warmCatalog resolves every recurring price. Failures are fatal only when
// billing.catalog.require_on_start is set.
func (a *App) warmCatalog(ctx context.Context, b config.BillingConfig) error {
	offers := a.Checkout.Config().RecurringOffers()
	if len(offers) == 0 || b.Provider == "none" {
		return nil
	}

	err := a.Catalog.Warm(ctx, offers)
	switch {
	case err == nil:
		a.Logger.Info().Int("offers", len(offers)).Msg("price catalog warmed")
		return nil
	case b.Catalog.RequireOnStart:
		return fmt.Errorf("warm price catalog: %w", err)
	default:
		a.Logger.Warn().Err(err).Msg("price catalog warm-up failed, prices resolve on first checkout")
		return nil
	}
}

func (a *App) initHTTPServer(cfg *config.Config) {
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		metricsHandler = promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{Registry: a.Registry})
	}

	a.Handler = web.NewHandler(web.Deps{
		Provider:       a.Provider,
		Dispatcher:     a.Dispatcher,
		Checkout:       a.Checkout,
		Premium:        a.Premium,
		Catalog:        a.Catalog,
		Events:         a.events,
		AdminToken:     func() string { return a.Config.Get().Admin.Token },
		Ready:          a.DB.Ping,
		Metrics:        a.Metrics,
		MetricsHandler: metricsHandler,
		Logger:         a.Logger,
	})

	a.HTTPServer = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      a.Handler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
}

// Run starts the HTTP server and background jobs and blocks until ctx is
// done or the server fails, then shuts down.
func (a *App) Run(ctx context.Context) error {
	if a.watch {
		if err := a.Config.WatchFile(); err != nil {
			a.Logger.Warn().Err(err).Msg("config file watch unavailable")
		}
		a.Config.WatchSignals()
	}

	if a.cron != nil {
		a.cron.Start()
		for _, e := range a.cron.Entries() {
			a.Logger.Info().Time("next", e.Next).Msg("scheduled job")
		}
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().
			Str("addr", a.HTTPServer.Addr).
			Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case err := <-errCh:
		runErr = fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		a.Logger.Info().Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Get().Server.ShutdownTimeout)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Shutdown gracefully stops the application. In-flight notifications are
// drained before the database closes.
func (a *App) Shutdown(ctx context.Context) error {
	if a.Config != nil {
		a.Config.Stop()
	}

	if a.cron != nil {
		select {
		case <-a.cron.Stop().Done():
		case <-ctx.Done():
			a.Logger.Warn().Msg("background jobs still running at shutdown")
		}
	}

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}

	if a.Notifier != nil {
		if err := a.Notifier.Wait(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("notifications still in flight at shutdown")
		}
	}

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("redis close error")
		}
	}

	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("database close error")
			return err
		}
	}

	a.Logger.Info().Msg("shutdown complete")
	return nil
}

// NewLogger builds the root logger and sets the global level.
func NewLogger(cfg config.LoggingConfig, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).With().Timestamp().Str("service", "tutorbilling").Logger()
}

func emailConfig(c config.EmailConfig) email.Config {
	return email.Config{
		Provider: c.Provider,
		SMTP: email.SMTPConfig{
			Host:        c.SMTP.Host,
			Port:        c.SMTP.Port,
			Username:    c.SMTP.Username,
			Password:    c.SMTP.Password,
			From:        c.From,
			FromName:    c.FromName,
			UseTLS:      c.SMTP.UseTLS,
			SkipVerify:  c.SMTP.SkipVerify,
			UseImplicit: c.SMTP.UseImplicit,
			Timeout:     c.SMTP.Timeout,
		},
		Postmark: email.PostmarkConfig{
			ServerToken:  c.Postmark.ServerToken,
			AccountToken: c.Postmark.AccountToken,
			From:         c.From,
			ReplyTo:      c.ReplyTo,
		},
	}
}

func checkoutConfig(b config.BillingConfig) app.CheckoutConfig {
	return app.CheckoutConfig{
		SuccessURL: b.SuccessURL,
		CancelURL:  b.CancelURL,
		Offers:     b.OfferMap(),
		OneTime:    b.OneTimeMap(),
	}
}
