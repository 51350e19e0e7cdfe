package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/tutorlink/tutorbilling/adapters/payment"
	"github.com/tutorlink/tutorbilling/app"
	"github.com/tutorlink/tutorbilling/domain/billing"
	"github.com/tutorlink/tutorbilling/domain/purchase"
	"github.com/tutorlink/tutorbilling/domain/webhook"
)

// maxContentBody bounds premium content payloads.
const maxContentBody = 256 << 10

// -----------------------------------------------------------------------------
// Health
// -----------------------------------------------------------------------------

// Healthz reports liveness and, when configured, database readiness.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status": "ok",
		"uptime": time.Since(h.startTime).Round(time.Second).String(),
	}
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			resp["status"] = "unavailable"
			resp["error"] = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// -----------------------------------------------------------------------------
// Checkout
// -----------------------------------------------------------------------------

// CreateCheckout opens a hosted checkout session.
func (h *Handler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req app.CheckoutRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON body")
		return
	}

	res, err := h.checkout.Create(r.Context(), req)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SessionStatus returns the provider view of a checkout session.
func (h *Handler) SessionStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.checkout.SessionStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// replayRequest is the body of POST /billing/replay.
type replayRequest struct {
	SessionID string        `json:"sessionId"`
	Kind      purchase.Kind `json:"type"`
}

// Replay runs checkout completion for a session again.
func (h *Handler) Replay(w http.ResponseWriter, r *http.Request) {
	var req replayRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "missing_field", "sessionId is required")
		return
	}
	if req.Kind != "" {
		if _, err := purchase.ParseKind(string(req.Kind)); err != nil {
			h.writeAppError(w, r, err)
			return
		}
	}

	res, err := h.dispatcher.ReplaySession(r.Context(), req.SessionID, req.Kind)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"replayed": true, "result": res})
}

// -----------------------------------------------------------------------------
// Premium
// -----------------------------------------------------------------------------

// premiumResponse is the premium status of one account.
type premiumResponse struct {
	Class  billing.AccountClass `json:"class"`
	Email  string               `json:"email"`
	Status billing.Status       `json:"status"`
	Record *recordResponse      `json:"record,omitempty"`
}

type recordResponse struct {
	ID                 string                     `json:"id"`
	CustomerID         string                     `json:"customer_id,omitempty"`
	SubscriptionID     string                     `json:"subscription_id,omitempty"`
	SubscriptionStatus billing.SubscriptionStatus `json:"subscription_status"`
	CurrentPeriodStart *time.Time                 `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time                 `json:"current_period_end,omitempty"`
	CanceledAt         *time.Time                 `json:"canceled_at,omitempty"`
	LegacyPaid         bool                       `json:"legacy_paid"`
	PaymentDate        *time.Time                 `json:"payment_date,omitempty"`
	PaymentAmount      int64                      `json:"payment_amount,omitempty"`
	PaymentCurrency    string                     `json:"payment_currency,omitempty"`
	Content            json.RawMessage            `json:"content,omitempty"`
	UpdatedAt          time.Time                  `json:"updated_at"`
}

// PremiumStatus returns the computed premium status of an account.
func (h *Handler) PremiumStatus(w http.ResponseWriter, r *http.Request) {
	class, ok := accountClass(w, r)
	if !ok {
		return
	}

	view, err := h.premium.Status(r.Context(), class, emailParam(r))
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}

	resp := premiumResponse{Class: view.Class, Email: view.Email, Status: view.Status}
	if rec := view.Record; rec != nil {
		resp.Record = &recordResponse{
			ID:                 rec.ID,
			CustomerID:         rec.CustomerID,
			SubscriptionID:     rec.SubscriptionID,
			SubscriptionStatus: rec.Status,
			CurrentPeriodStart: rec.CurrentPeriodStart,
			CurrentPeriodEnd:   rec.CurrentPeriodEnd,
			CanceledAt:         rec.CanceledAt,
			LegacyPaid:         rec.LegacyPaid,
			PaymentDate:        rec.PaymentDate,
			PaymentAmount:      rec.PaymentAmount,
			PaymentCurrency:    rec.PaymentCurrency,
			UpdatedAt:          rec.UpdatedAt,
		}
		if len(rec.ContentPayload) > 0 {
			resp.Record.Content = json.RawMessage(rec.ContentPayload)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// UpdateContent replaces an account's premium content.
func (h *Handler) UpdateContent(w http.ResponseWriter, r *http.Request) {
	class, ok := accountClass(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxContentBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "Content payload too large")
		return
	}

	if err := h.premium.UpdateContent(r.Context(), class, emailParam(r), body); err != nil {
		h.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": true})
}

// emailParam returns the unescaped email path segment.
func emailParam(r *http.Request) string {
	raw := chi.URLParam(r, "email")
	if email, err := url.PathUnescape(raw); err == nil {
		return email
	}
	return raw
}

func accountClass(w http.ResponseWriter, r *http.Request) (billing.AccountClass, bool) {
	class, err := billing.ParseAccountClass(chi.URLParam(r, "class"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown_class", "Account class must be tutor or student")
		return "", false
	}
	return class, true
}

// -----------------------------------------------------------------------------
// Admin
// -----------------------------------------------------------------------------

// InvalidateCatalog drops every cached price id.
func (h *Handler) InvalidateCatalog(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.Invalidate(r.Context()); err != nil {
		h.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invalidated": true})
}

type webhookEntryResponse struct {
	EventID     string     `json:"event_id"`
	EventType   string     `json:"event_type"`
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	Error       string     `json:"error,omitempty"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// FailedWebhooks lists ledger entries whose handler failed.
func (h *Handler) FailedWebhooks(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", 50)
	entries, err := h.events.ListFailed(r.Context(), limit)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}

	out := make([]webhookEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryToResponse(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out, "count": len(out)})
}

func entryToResponse(e webhook.Entry) webhookEntryResponse {
	return webhookEntryResponse{
		EventID:     e.EventID,
		EventType:   e.EventType,
		Status:      string(e.Status),
		Attempts:    e.Attempts,
		Error:       e.Error,
		ReceivedAt:  e.ReceivedAt,
		ProcessedAt: e.ProcessedAt,
	}
}

// -----------------------------------------------------------------------------
// Responses
// -----------------------------------------------------------------------------

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// errorMapping pairs a sentinel with its HTTP status and code.
var errorMapping = []struct {
	err    error
	status int
	code   string
}{
	{purchase.ErrMissingField, http.StatusBadRequest, "missing_field"},
	{purchase.ErrInvalidField, http.StatusBadRequest, "invalid_field"},
	{purchase.ErrUnknownKind, http.StatusBadRequest, "unknown_type"},
	{purchase.ErrMissingDiscriminator, http.StatusUnprocessableEntity, "missing_type"},
	{app.ErrInvalidContent, http.StatusBadRequest, "invalid_content"},
	{app.ErrPremiumInactive, http.StatusForbidden, "premium_inactive"},
	{app.ErrOfferNotConfigured, http.StatusUnprocessableEntity, "offer_not_configured"},
	{app.ErrUnresolvedAccount, http.StatusUnprocessableEntity, "unresolved_account"},
	{billing.ErrNotFound, http.StatusNotFound, "not_found"},
	{payment.ErrNotFound, http.StatusNotFound, "not_found"},
	{payment.ErrPaymentsDisabled, http.StatusServiceUnavailable, "payments_disabled"},
}

// writeAppError maps service errors onto the API error shape. Unknown
// errors are logged and reported as internal errors.
func (h *Handler) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range errorMapping {
		if errors.Is(err, m.err) {
			writeError(w, m.status, m.code, err.Error())
			return
		}
	}
	h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	writeError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	var resp ErrorResponse
	resp.Error.Code = code
	resp.Error.Message = message
	writeJSON(w, status, resp)
}

func parseIntQuery(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return defaultVal
	}
	return n
}
