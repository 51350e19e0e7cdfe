// Package paymenttest builds signed Stripe webhook payloads for tests and
// local replay tooling.
package paymenttest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Sign returns a Stripe-Signature header value for payload.
func Sign(payload []byte, secret string, at time.Time) string {
	ts := at.Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

// Event encodes a Stripe event envelope around object.
func Event(id, eventType string, object any) ([]byte, error) {
	raw, err := json.Marshal(object)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{
		"id":          id,
		"object":      "event",
		"api_version": "2023-10-16",
		"created":     time.Now().Unix(),
		"type":        eventType,
		"data":        map[string]json.RawMessage{"object": raw},
	})
}

// SignedEvent encodes and signs an event in one step.
func SignedEvent(id, eventType string, object any, secret string) (payload []byte, signature string, err error) {
	payload, err = Event(id, eventType, object)
	if err != nil {
		return nil, "", err
	}
	return payload, Sign(payload, secret, time.Now()), nil
}
