package app

import (
	"context"
	"fmt"

	"github.com/tutorlink/tutorbilling/domain/billing"
	"github.com/tutorlink/tutorbilling/domain/purchase"
)

// ReplayResult describes a replayed checkout session.
type ReplayResult struct {
	SessionID          string               `json:"sessionId"`
	Kind               purchase.Kind        `json:"type"`
	SubscriptionID     string               `json:"subscriptionId,omitempty"`
	SubscriptionSynced bool                 `json:"subscriptionSynced"`
	Class              billing.AccountClass `json:"class,omitempty"`
	Email              string               `json:"email,omitempty"`
}

// ReplaySession runs checkout-completed handling for a session again, for
// recovery from missed webhooks. kind forces the discriminator when the
// session metadata has none. Subscription sessions additionally re-sync the
// subscription through the creation path.
func (d *Dispatcher) ReplaySession(ctx context.Context, sessionID string, kind purchase.Kind) (ReplayResult, error) {
	s, err := d.provider.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("fetch checkout session %s: %w", sessionID, err)
	}
	if kind != "" {
		s.Metadata = purchase.WithKind(s.Metadata, kind)
	}

	p, err := purchase.Parse(s.Metadata)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("checkout session %s: %w", sessionID, err)
	}
	if err := d.handleCheckoutCompleted(ctx, s); err != nil {
		return ReplayResult{}, err
	}

	result := ReplayResult{SessionID: s.ID, Kind: p.Kind(), SubscriptionID: s.SubscriptionID}
	if prem, ok := p.(purchase.Premium); ok {
		result.Class, result.Email = prem.Account()
	}
	if s.SubscriptionID == "" {
		d.logger.Info().Str("session_id", s.ID).Str("kind", string(p.Kind())).Msg("checkout session replayed")
		return result, nil
	}

	sub, err := d.provider.GetSubscription(ctx, s.SubscriptionID)
	if err != nil {
		return result, fmt.Errorf("fetch subscription %s: %w", s.SubscriptionID, err)
	}

	// The session is authoritative here, even when the subscription
	// carries metadata of its own.
	meta := Resolution{Metadata: s.Metadata, Source: SourceCheckoutSession, Session: &s}
	fallback := sub.CustomerEmail
	if fallback == "" {
		fallback = s.CustomerEmail
	}
	class, email, err := purchase.Classify(meta.Metadata, fallback)
	if err != nil {
		return result, fmt.Errorf("subscription %s: %w", sub.ID, err)
	}

	se := subscriptionEvent{Sub: sub, Meta: meta, Account: class, Email: email, Live: true}
	if err := d.handleSubscriptionCreated(ctx, se); err != nil {
		return result, err
	}
	result.SubscriptionSynced = true
	result.Class, result.Email = class, email

	d.logger.Info().
		Str("session_id", s.ID).
		Str("subscription_id", sub.ID).
		Str("account_class", string(class)).
		Msg("checkout session replayed with subscription sync")
	return result, nil
}
