// Package config provides configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tutorlink/tutorbilling/domain/billing"
	"github.com/tutorlink/tutorbilling/domain/provider"
	"github.com/tutorlink/tutorbilling/domain/purchase"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TUTORBILLING_"

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `yaml:"server" envPrefix:"SERVER_"`
	Database DatabaseConfig `yaml:"database" envPrefix:"DATABASE_"`
	Logging  LoggingConfig  `yaml:"logging" envPrefix:"LOG_"`
	Metrics  MetricsConfig  `yaml:"metrics" envPrefix:"METRICS_"`
	Billing  BillingConfig  `yaml:"billing" envPrefix:"BILLING_"`
	Redis    RedisConfig    `yaml:"redis" envPrefix:"REDIS_"`
	Email    EmailConfig    `yaml:"email" envPrefix:"EMAIL_"`
	Admin    AdminConfig    `yaml:"admin" envPrefix:"ADMIN_"`
	Jobs     JobsConfig     `yaml:"jobs" envPrefix:"JOBS_"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig configures the SQLite database.
type DatabaseConfig struct {
	DSN string `yaml:"dsn" env:"DSN"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`   // "debug", "info", "warn", "error"
	Format string `yaml:"format" env:"FORMAT"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
}

// BillingConfig configures the payment provider and what is sold.
type BillingConfig struct {
	Provider   string       `yaml:"provider" env:"PROVIDER"` // "stripe", "fake", "none"
	Stripe     StripeConfig `yaml:"stripe" envPrefix:"STRIPE_"`
	SuccessURL string       `yaml:"success_url" env:"SUCCESS_URL"`
	CancelURL  string       `yaml:"cancel_url" env:"CANCEL_URL"`

	Premium PremiumConfig `yaml:"premium" envPrefix:"PREMIUM_"`
	Catalog CatalogConfig `yaml:"catalog" envPrefix:"CATALOG_"`

	// Offers prices subscription purchase types, keyed by purchase type.
	Offers map[string]OfferConfig `yaml:"offers"`
	// OneTime prices one-time purchase types, keyed by purchase type.
	OneTime map[string]LineItemConfig `yaml:"one_time"`
}

// StripeConfig holds Stripe credentials. STRIPE_SECRET_KEY and
// STRIPE_WEBHOOK_SECRET are honored as well as the prefixed names.
type StripeConfig struct {
	SecretKey     string `yaml:"secret_key" env:"SECRET_KEY"`
	WebhookSecret string `yaml:"webhook_secret" env:"WEBHOOK_SECRET"`
	APIBaseURL    string `yaml:"api_base_url" env:"API_BASE_URL"`
}

// PremiumConfig tunes the premium status calculation.
type PremiumConfig struct {
	TutorLegacyWindow   time.Duration `yaml:"tutor_legacy_window" env:"TUTOR_LEGACY_WINDOW"`
	StudentLegacyWindow time.Duration `yaml:"student_legacy_window" env:"STUDENT_LEGACY_WINDOW"`
	HonorPeriodOnCancel bool          `yaml:"honor_period_on_cancel" env:"HONOR_PERIOD_ON_CANCEL"`
}

// Policy converts the section to a billing policy.
func (p PremiumConfig) Policy() billing.Policy {
	return billing.Policy{
		TutorLegacyWindow:   p.TutorLegacyWindow,
		StudentLegacyWindow: p.StudentLegacyWindow,
		HonorPeriodOnCancel: p.HonorPeriodOnCancel,
	}
}

// CatalogConfig configures the recurring price cache.
type CatalogConfig struct {
	TTL            time.Duration `yaml:"ttl" env:"TTL"`
	LockExpiry     time.Duration `yaml:"lock_expiry" env:"LOCK_EXPIRY"`
	RequireOnStart bool          `yaml:"require_on_start" env:"REQUIRE_ON_START"`
}

// OfferConfig describes a recurring price.
type OfferConfig struct {
	Key         string `yaml:"key"`
	ProductName string `yaml:"product_name"`
	Amount      int64  `yaml:"amount"` // minor units
	Currency    string `yaml:"currency"`
	Interval    string `yaml:"interval"` // "month" or "year"
}

// Offer converts the entry to a provider offer.
func (o OfferConfig) Offer() provider.Offer {
	return provider.Offer{
		Key:         o.Key,
		ProductName: o.ProductName,
		Amount:      o.Amount,
		Currency:    strings.ToLower(o.Currency),
		Interval:    provider.Interval(o.Interval),
	}
}

// LineItemConfig describes an inline one-time price.
type LineItemConfig struct {
	Name     string `yaml:"name"`
	Amount   int64  `yaml:"amount"` // minor units
	Currency string `yaml:"currency"`
	Quantity int64  `yaml:"quantity"`
}

// LineItem converts the entry to a provider line item.
func (l LineItemConfig) LineItem() provider.LineItem {
	qty := l.Quantity
	if qty <= 0 {
		qty = 1
	}
	return provider.LineItem{
		Name:     l.Name,
		Amount:   l.Amount,
		Currency: strings.ToLower(l.Currency),
		Quantity: qty,
	}
}

// RedisConfig configures the shared price cache and lock. An empty URL
// selects the in-process cache and lock.
type RedisConfig struct {
	URL            string        `yaml:"url" env:"URL"`
	KeyPrefix      string        `yaml:"key_prefix" env:"KEY_PREFIX"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"CONNECT_TIMEOUT"`
}

// EmailConfig configures notification delivery.
type EmailConfig struct {
	Provider string `yaml:"provider" env:"PROVIDER"` // "smtp", "postmark", "mock", "none"
	From     string `yaml:"from" env:"FROM"`
	FromName string `yaml:"from_name" env:"FROM_NAME"`
	ReplyTo  string `yaml:"reply_to" env:"REPLY_TO"`

	AppName     string        `yaml:"app_name" env:"APP_NAME"`
	BaseURL     string        `yaml:"base_url" env:"BASE_URL"`
	SendTimeout time.Duration `yaml:"send_timeout" env:"SEND_TIMEOUT"`

	SMTP     SMTPConfig     `yaml:"smtp" envPrefix:"SMTP_"`
	Postmark PostmarkConfig `yaml:"postmark" envPrefix:"POSTMARK_"`
}

// SMTPConfig configures the SMTP sender.
type SMTPConfig struct {
	Host        string        `yaml:"host" env:"HOST"`
	Port        int           `yaml:"port" env:"PORT"`
	Username    string        `yaml:"username" env:"USERNAME"`
	Password    string        `yaml:"password" env:"PASSWORD"`
	UseTLS      bool          `yaml:"use_tls" env:"USE_TLS"`
	UseImplicit bool          `yaml:"use_implicit" env:"USE_IMPLICIT"`
	SkipVerify  bool          `yaml:"skip_verify" env:"SKIP_VERIFY"`
	Timeout     time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// PostmarkConfig configures the Postmark sender.
type PostmarkConfig struct {
	ServerToken  string `yaml:"server_token" env:"SERVER_TOKEN"`
	AccountToken string `yaml:"account_token" env:"ACCOUNT_TOKEN"`
}

// AdminConfig configures the admin API.
type AdminConfig struct {
	// Token is the bearer token for admin routes. Empty disables them.
	Token string `yaml:"token" env:"TOKEN"`
}

// JobsConfig holds cron specs for background jobs. An empty spec disables
// the job.
type JobsConfig struct {
	CatalogRefresh string `yaml:"catalog_refresh" env:"CATALOG_REFRESH"`
	StaleSweep     string `yaml:"stale_sweep" env:"STALE_SWEEP"`
}

// Default returns a configuration with every default applied.
func Default() Config {
	policy := billing.DefaultPolicy()
	return Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{DSN: "tutorbilling.db"},
		Logging:  LoggingConfig{Level: "info", Format: "json"},
		Metrics:  MetricsConfig{Enabled: true},
		Billing: BillingConfig{
			Provider: "none",
			Premium: PremiumConfig{
				TutorLegacyWindow:   policy.TutorLegacyWindow,
				StudentLegacyWindow: policy.StudentLegacyWindow,
			},
			Catalog: CatalogConfig{
				TTL:        time.Hour,
				LockExpiry: 30 * time.Second,
			},
		},
		Redis: RedisConfig{
			KeyPrefix:      "tutorbilling",
			ConnectTimeout: 10 * time.Second,
		},
		Email: EmailConfig{
			Provider:    "none",
			AppName:     "TutorLink",
			SendTimeout: 15 * time.Second,
		},
		Jobs: JobsConfig{
			CatalogRefresh: "@every 6h",
			StaleSweep:     "@hourly",
		},
	}
}

// Load reads configuration from a YAML file, then applies environment
// overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
//
// Environment variables (all prefixed TUTORBILLING_):
//
//	SERVER_HOST, SERVER_PORT           - listen address (default: 0.0.0.0:8080)
//	DATABASE_DSN                       - SQLite path (default: tutorbilling.db)
//	LOG_LEVEL, LOG_FORMAT              - logging (default: info, json)
//	BILLING_PROVIDER                   - stripe, fake or none (default: none)
//	BILLING_SUCCESS_URL, _CANCEL_URL   - checkout redirect targets
//	REDIS_URL                          - shared price cache and lock
//	EMAIL_PROVIDER                     - smtp, postmark, mock or none
//	ADMIN_TOKEN                        - admin API bearer token
//
// Offers and one-time prices can only be set from a file.
func LoadFromEnv() (*Config, error) {
	cfg := Default()

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback loads a .env file when present, then reads the config
// file if it exists and falls back to environment variables otherwise.
func LoadWithFallback(path string) (*Config, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	return LoadFromEnv()
}

// LoadDotEnv loads .env from the working directory. Variables already set
// in the environment win. A missing file is not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// stripeEnv carries the provider's conventional variable names.
type stripeEnv struct {
	SecretKey     string `env:"STRIPE_SECRET_KEY"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`
}

// applyEnvOverrides applies TUTORBILLING_* environment variables to the
// config. Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}

	var s stripeEnv
	if err := env.Parse(&s); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	if cfg.Billing.Stripe.SecretKey == "" {
		cfg.Billing.Stripe.SecretKey = s.SecretKey
	}
	if cfg.Billing.Stripe.WebhookSecret == "" {
		cfg.Billing.Stripe.WebhookSecret = s.WebhookSecret
	}
	return nil
}

// Validate checks the configuration for errors.
func (cfg *Config) Validate() error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	if cfg.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[cfg.Logging.Format] {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", cfg.Logging.Format)
	}

	if err := cfg.Billing.validate(); err != nil {
		return err
	}

	validEmail := map[string]bool{"smtp": true, "postmark": true, "mock": true, "none": true}
	if !validEmail[cfg.Email.Provider] {
		return fmt.Errorf("email.provider must be one of: smtp, postmark, mock, none")
	}
	if cfg.Email.Provider == "smtp" && cfg.Email.SMTP.Host == "" {
		return fmt.Errorf("email.smtp.host is required when email.provider is 'smtp'")
	}
	if cfg.Email.Provider == "postmark" && cfg.Email.Postmark.ServerToken == "" {
		return fmt.Errorf("email.postmark.server_token is required when email.provider is 'postmark'")
	}
	if (cfg.Email.Provider == "smtp" || cfg.Email.Provider == "postmark") && cfg.Email.From == "" {
		return fmt.Errorf("email.from is required when email.provider is %q", cfg.Email.Provider)
	}

	if cfg.Redis.URL != "" {
		if _, err := url.Parse(cfg.Redis.URL); err != nil {
			return fmt.Errorf("redis.url: %w", err)
		}
	}

	return nil
}

func (b *BillingConfig) validate() error {
	validProviders := map[string]bool{"stripe": true, "fake": true, "none": true}
	if !validProviders[b.Provider] {
		return fmt.Errorf("billing.provider must be one of: stripe, fake, none")
	}
	if b.Provider == "stripe" {
		if b.Stripe.SecretKey == "" {
			return fmt.Errorf("billing.stripe.secret_key is required when billing.provider is 'stripe'")
		}
		if b.Stripe.WebhookSecret == "" {
			return fmt.Errorf("billing.stripe.webhook_secret is required when billing.provider is 'stripe'")
		}
	}
	if b.Catalog.TTL <= 0 {
		return fmt.Errorf("billing.catalog.ttl must be positive")
	}

	for name, o := range b.Offers {
		kind, err := purchase.ParseKind(name)
		if err != nil {
			return fmt.Errorf("billing.offers.%s: %w", name, err)
		}
		if !kind.IsSubscription() {
			return fmt.Errorf("billing.offers.%s: not a subscription type", name)
		}
		if o.Key == "" || o.ProductName == "" {
			return fmt.Errorf("billing.offers.%s: key and product_name are required", name)
		}
		if o.Amount <= 0 || o.Currency == "" {
			return fmt.Errorf("billing.offers.%s: amount and currency are required", name)
		}
		if o.Interval != string(provider.IntervalMonth) && o.Interval != string(provider.IntervalYear) {
			return fmt.Errorf("billing.offers.%s: interval must be 'month' or 'year'", name)
		}
	}
	for name, l := range b.OneTime {
		kind, err := purchase.ParseKind(name)
		if err != nil {
			return fmt.Errorf("billing.one_time.%s: %w", name, err)
		}
		if kind.IsSubscription() {
			return fmt.Errorf("billing.one_time.%s: subscription types belong under billing.offers", name)
		}
		if l.Name == "" || l.Amount <= 0 || l.Currency == "" {
			return fmt.Errorf("billing.one_time.%s: name, amount and currency are required", name)
		}
	}

	if (len(b.Offers) > 0 || len(b.OneTime) > 0) && b.SuccessURL == "" {
		return fmt.Errorf("billing.success_url is required when purchases are configured")
	}
	return nil
}

// OfferMap returns the configured offers keyed by purchase kind.
func (b BillingConfig) OfferMap() map[purchase.Kind]provider.Offer {
	out := make(map[purchase.Kind]provider.Offer, len(b.Offers))
	for name, o := range b.Offers {
		out[purchase.Kind(name)] = o.Offer()
	}
	return out
}

// OneTimeMap returns the configured one-time prices keyed by purchase kind.
func (b BillingConfig) OneTimeMap() map[purchase.Kind]provider.LineItem {
	out := make(map[purchase.Kind]provider.LineItem, len(b.OneTime))
	for name, l := range b.OneTime {
		out[purchase.Kind(name)] = l.LineItem()
	}
	return out
}
