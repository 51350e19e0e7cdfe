// Package web provides the billing HTTP API: the provider webhook receiver,
// checkout and replay endpoints, premium status queries and admin operations.
// All responses are JSON.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/tutorlink/tutorbilling/adapters/metrics"
	"github.com/tutorlink/tutorbilling/app"
	"github.com/tutorlink/tutorbilling/domain/billing"
	"github.com/tutorlink/tutorbilling/domain/provider"
	"github.com/tutorlink/tutorbilling/domain/purchase"
	"github.com/tutorlink/tutorbilling/ports"
)

// maxWebhookBody bounds webhook payloads.
const maxWebhookBody = 1 << 20

// EventParser verifies and decodes provider webhooks.
type EventParser interface {
	Name() string
	ParseEvent(payload []byte, signature string) (provider.Event, error)
}

// EventDispatcher handles verified events and replays checkout sessions.
type EventDispatcher interface {
	Dispatch(ctx context.Context, ev provider.Event) app.DispatchResult
	ReplaySession(ctx context.Context, sessionID string, kind purchase.Kind) (app.ReplayResult, error)
}

// CheckoutService opens checkout sessions.
type CheckoutService interface {
	Create(ctx context.Context, req app.CheckoutRequest) (app.CheckoutResult, error)
	SessionStatus(ctx context.Context, id string) (app.SessionStatus, error)
}

// PremiumService answers premium queries.
type PremiumService interface {
	Status(ctx context.Context, class billing.AccountClass, email string) (app.PremiumView, error)
	UpdateContent(ctx context.Context, class billing.AccountClass, email string, payload []byte) error
}

// CatalogInvalidator drops cached price ids.
type CatalogInvalidator interface {
	Invalidate(ctx context.Context) error
}

// Deps contains dependencies for the HTTP handler.
type Deps struct {
	Provider   EventParser
	Dispatcher EventDispatcher
	Checkout   CheckoutService
	Premium    PremiumService
	Catalog    CatalogInvalidator
	Events     ports.EventLog

	// AdminToken returns the current admin bearer token. Admin routes are
	// refused when it returns an empty string.
	AdminToken func() string
	// Ready reports whether dependencies (database) are reachable.
	Ready func(ctx context.Context) error

	Metrics        *metrics.Collector
	MetricsHandler http.Handler
	Logger         zerolog.Logger
}

// Handler serves the billing API.
type Handler struct {
	provider   EventParser
	dispatcher EventDispatcher
	checkout   CheckoutService
	premium    PremiumService
	catalog    CatalogInvalidator
	events     ports.EventLog
	adminToken func() string
	ready      func(ctx context.Context) error
	metrics    *metrics.Collector
	metricsH   http.Handler
	logger     zerolog.Logger
	startTime  time.Time
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	adminToken := deps.AdminToken
	if adminToken == nil {
		adminToken = func() string { return "" }
	}
	return &Handler{
		provider:   deps.Provider,
		dispatcher: deps.Dispatcher,
		checkout:   deps.Checkout,
		premium:    deps.Premium,
		catalog:    deps.Catalog,
		events:     deps.Events,
		adminToken: adminToken,
		ready:      deps.Ready,
		metrics:    deps.Metrics,
		metricsH:   deps.MetricsHandler,
		logger:     deps.Logger.With().Str("component", "http").Logger(),
		startTime:  time.Now(),
	}
}

// Router returns the API router.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(NewLoggingMiddleware(h.logger))
	r.Use(middleware.Recoverer)
	if h.metrics != nil {
		r.Use(NewMetricsMiddleware(h.metrics))
	}

	// Health and metrics (no auth)
	r.Get("/healthz", h.Healthz)
	if h.metricsH != nil {
		r.Handle("/metrics", h.metricsH)
	}

	// Provider webhooks, authenticated by signature
	r.Post("/webhooks/stripe", h.StripeWebhook)

	// Checkout
	r.Post("/billing/checkout", h.CreateCheckout)
	r.Get("/billing/sessions/{id}/status", h.SessionStatus)

	// Premium
	r.Get("/premium/{class}/{email}", h.PremiumStatus)
	r.Put("/premium/{class}/{email}/content", h.UpdateContent)

	// Admin (require token)
	r.Group(func(r chi.Router) {
		r.Use(h.AdminMiddleware)

		r.Post("/billing/replay", h.Replay)
		r.Post("/admin/catalog/invalidate", h.InvalidateCatalog)
		r.Get("/admin/webhooks/failed", h.FailedWebhooks)
	})

	return r
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.Router().ServeHTTP(w, r)
}
