package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/tutorlink/tutorbilling/domain/billing"
	"github.com/tutorlink/tutorbilling/ports"
)

var (
	// ErrPremiumInactive is returned when a premium-only operation is attempted
	// by an account without active premium.
	ErrPremiumInactive = errors.New("premium is not active")
	// ErrInvalidContent is returned when a content payload is not valid JSON.
	ErrInvalidContent = errors.New("content payload must be valid JSON")
)

// PolicyHolder holds the current premium policy. It is swapped on config reload.
type PolicyHolder struct {
	p atomic.Pointer[billing.Policy]
}

// NewPolicyHolder creates a holder with an initial policy.
func NewPolicyHolder(p billing.Policy) *PolicyHolder {
	h := &PolicyHolder{}
	h.Set(p)
	return h
}

// Get returns the current policy.
func (h *PolicyHolder) Get() billing.Policy {
	return *h.p.Load()
}

// Set replaces the policy.
func (h *PolicyHolder) Set(p billing.Policy) {
	h.p.Store(&p)
}

// PremiumView is the answer to a premium status query.
type PremiumView struct {
	Class  billing.AccountClass `json:"class"`
	Email  string               `json:"email"`
	Status billing.Status       `json:"status"`
	Record *billing.Record      `json:"-"`
}

// PremiumService answers premium status queries and gates premium content.
type PremiumService struct {
	billing ports.BillingStore
	clock   ports.Clock
	policy  *PolicyHolder
	logger  zerolog.Logger
}

// NewPremiumService creates a premium service.
func NewPremiumService(store ports.BillingStore, clk ports.Clock, policy *PolicyHolder, logger zerolog.Logger) *PremiumService {
	return &PremiumService{
		billing: store,
		clock:   clk,
		policy:  policy,
		logger:  logger.With().Str("component", "premium").Logger(),
	}
}

// Status computes the premium status of an account. Unknown accounts have
// no premium and no record.
func (s *PremiumService) Status(ctx context.Context, class billing.AccountClass, email string) (PremiumView, error) {
	email = billing.NormalizeEmail(email)
	view := PremiumView{Class: class, Email: email, Status: billing.Status{Source: billing.SourceNone}}

	rec, err := s.billing.GetByEmail(ctx, class, email)
	if errors.Is(err, billing.ErrNotFound) {
		return view, nil
	}
	if err != nil {
		return PremiumView{}, fmt.Errorf("get %s billing: %w", class, err)
	}

	view.Record = &rec
	view.Status = billing.ComputeStatus(rec, s.clock.Now(), s.policy.Get())
	return view, nil
}

// UpdateContent replaces an account's premium content, only while premium is active.
func (s *PremiumService) UpdateContent(ctx context.Context, class billing.AccountClass, email string, payload []byte) error {
	if !json.Valid(payload) {
		return ErrInvalidContent
	}
	view, err := s.Status(ctx, class, email)
	if err != nil {
		return err
	}
	if !view.Status.IsActive {
		return ErrPremiumInactive
	}
	if err := s.billing.UpdateContent(ctx, class, view.Email, payload, s.clock.Now()); err != nil {
		return fmt.Errorf("update %s content: %w", class, err)
	}
	s.logger.Info().Str("account_class", string(class)).Str("email", view.Email).Msg("premium content updated")
	return nil
}
