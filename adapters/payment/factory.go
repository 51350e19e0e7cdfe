package payment

import (
	"fmt"

	"github.com/tutorlink/tutorbilling/ports"
)

// Config selects and configures a billing provider.
type Config struct {
	Provider string // stripe, fake, none
	Stripe   StripeConfig
}

// NewProvider creates a billing provider from configuration.
func NewProvider(cfg Config) (ports.BillingProvider, error) {
	switch cfg.Provider {
	case "stripe":
		if cfg.Stripe.SecretKey == "" {
			return nil, fmt.Errorf("stripe secret key is required")
		}
		return NewStripeProvider(cfg.Stripe), nil

	case "fake", "dummy", "test":
		return NewFakeProvider(cfg.Stripe.WebhookSecret), nil

	case "none", "":
		return NewNoopProvider(), nil

	default:
		return nil, fmt.Errorf("unknown payment provider: %s", cfg.Provider)
	}
}
