package web

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/tutorlink/tutorbilling/domain/provider"
)

// StripeWebhook receives Stripe events. Once the signature verifies the
// provider always gets a 200, even when the handler failed; failures are
// recorded in the webhook ledger and recovered by redelivery or replay.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	log := h.logger.With().Str("request_id", middleware.GetReqID(r.Context())).Logger()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "Webhook payload exceeds 1 MiB")
			return
		}
		log.Error().Err(err).Msg("failed to read webhook body")
		writeError(w, http.StatusBadRequest, "invalid_request", "Failed to read body")
		return
	}

	ev, err := h.provider.ParseEvent(body, r.Header.Get("Stripe-Signature"))
	switch {
	case err == nil:
	case errors.Is(err, provider.ErrMalformedEvent):
		log.Error().Err(err).Str("provider", h.provider.Name()).Msg("verified webhook payload could not be decoded")
		writeError(w, http.StatusUnprocessableEntity, "invalid_payload", "Webhook payload could not be decoded")
		return
	default:
		log.Warn().Err(err).Str("provider", h.provider.Name()).Msg("webhook verification failed")
		writeError(w, http.StatusBadRequest, "invalid_signature", "Webhook signature verification failed")
		return
	}

	log.Info().
		Str("event_id", ev.ID).
		Str("event_type", string(ev.Type)).
		Msg("received payment webhook")

	res := h.dispatcher.Dispatch(r.Context(), ev)

	resp := map[string]any{"received": true}
	if res.Duplicate {
		resp["duplicate"] = true
	}
	writeJSON(w, http.StatusOK, resp)
}
