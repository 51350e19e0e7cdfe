package app

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/tutorlink/tutorbilling/domain/provider"
	"github.com/tutorlink/tutorbilling/domain/purchase"
	"github.com/tutorlink/tutorbilling/ports"
)

// MetadataSource records where subscription metadata was found.
type MetadataSource string

const (
	SourceSubscription    MetadataSource = "subscription"
	SourceCheckoutSession MetadataSource = "checkout_session"
	SourceUnresolved      MetadataSource = "unresolved"
)

// Resolution is the metadata governing a subscription.
type Resolution struct {
	Metadata map[string]string
	Source   MetadataSource
	// Session is the originating checkout session when the lookup ran and found one.
	Session *provider.CheckoutSession
}

// MetadataResolver finds purchase metadata for subscriptions whose own
// metadata is empty, by falling back to the checkout session that created them.
// It has no side effects and can be called repeatedly.
type MetadataResolver struct {
	provider ports.BillingProvider
	logger   zerolog.Logger
}

// NewMetadataResolver creates a resolver.
func NewMetadataResolver(p ports.BillingProvider, logger zerolog.Logger) *MetadataResolver {
	return &MetadataResolver{provider: p, logger: logger.With().Str("component", "resolver").Logger()}
}

// Resolve returns the subscription's own metadata when it carries a
// discriminator, else the latest checkout session's metadata, else the
// original metadata marked unresolved. Provider errors are logged, not returned.
func (r *MetadataResolver) Resolve(ctx context.Context, sub provider.Subscription) Resolution {
	if purchase.HasDiscriminator(sub.Metadata) {
		return Resolution{Metadata: sub.Metadata, Source: SourceSubscription}
	}

	if sub.ID != "" {
		s, found, err := r.provider.LatestSessionForSubscription(ctx, sub.ID)
		switch {
		case err != nil:
			r.logger.Warn().Err(err).
				Str("subscription_id", sub.ID).
				Msg("checkout session lookup failed")
		case found:
			return Resolution{Metadata: s.Metadata, Source: SourceCheckoutSession, Session: &s}
		}
	}

	return Resolution{Metadata: sub.Metadata, Source: SourceUnresolved}
}
