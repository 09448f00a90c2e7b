package knovera

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ============================================================================
// Webhook Types
// ============================================================================

// WebhookEvent is the payload Knovera POSTs to a registered endpoint
// for integrations that cannot hold a channel connection open.
type WebhookEvent struct {
	Source       string       `json:"source"`
	Event        string       `json:"event"`
	Timestamp    int64        `json:"timestamp"`
	Message      Message      `json:"message"`
	Sender       WebhookUser  `json:"sender"`
	Conversation Conversation `json:"conversation"`
}

// WebhookUser identifies the sender in a webhook event.
type WebhookUser struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
}

// WebhookHandlerFunc is the callback signature for webhook events.
type WebhookHandlerFunc func(event *WebhookEvent) error

// ============================================================================
// Standalone Functions
// ============================================================================

// VerifyWebhookSignature verifies a Knovera webhook signature using
// HMAC-SHA256 with constant-time comparison.
func VerifyWebhookSignature(body, signature, secret string) bool {
	if body == "" || signature == "" || secret == "" {
		return false
	}

	sig := strings.TrimPrefix(signature, "sha256=")
	if sig == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	expected := hex.EncodeToString(mac.Sum(nil))

	if len(sig) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) == 1
}

// ParseWebhookEvent parses a raw webhook body into a typed event.
func ParseWebhookEvent(body string) (*WebhookEvent, error) {
	var event WebhookEvent
	if err := json.Unmarshal([]byte(body), &event); err != nil {
		return nil, fmt.Errorf("invalid JSON in webhook body: %w", err)
	}

	if event.Source != "knovera" {
		return nil, fmt.Errorf("unknown webhook source: %s", event.Source)
	}
	if event.Event == "" {
		return nil, fmt.Errorf("missing event field in webhook payload")
	}
	if event.Message.ID == "" || event.Sender.ID == "" || event.Conversation.ID == "" {
		return nil, fmt.Errorf("missing required fields in webhook payload")
	}
	return &event, nil
}

// ============================================================================
// Webhook
// ============================================================================

// Webhook verifies, parses, and dispatches Knovera webhook requests.
type Webhook struct {
	secret    string
	onMessage WebhookHandlerFunc
}

// NewWebhook creates a webhook receiver.
func NewWebhook(secret string, onMessage WebhookHandlerFunc) (*Webhook, error) {
	if secret == "" {
		return nil, fmt.Errorf("webhook secret is required")
	}
	return &Webhook{secret: secret, onMessage: onMessage}, nil
}

// Verify checks the HMAC-SHA256 signature of a request body.
func (w *Webhook) Verify(body, signature string) bool {
	return VerifyWebhookSignature(body, signature, w.secret)
}

// Handle processes a webhook request (verify + parse + dispatch) and
// returns the status code and response body for the caller to write.
func (w *Webhook) Handle(body, signature string) (int, any) {
	if !w.Verify(body, signature) {
		return http.StatusUnauthorized, map[string]string{"error": "Invalid signature"}
	}

	event, err := ParseWebhookEvent(body)
	if err != nil {
		return http.StatusBadRequest, map[string]string{"error": err.Error()}
	}

	if w.onMessage != nil {
		if err := w.onMessage(event); err != nil {
			return http.StatusInternalServerError, map[string]string{"error": err.Error()}
		}
	}
	return http.StatusOK, map[string]bool{"ok": true}
}

// HTTPHandler returns an http.Handler that processes webhook requests.
//
// Example:
//
//	wh, _ := knovera.NewWebhook("secret", handler)
//	http.Handle("/webhook", wh.HTTPHandler())
func (w *Webhook) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")

		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			json.NewEncoder(rw).Encode(map[string]string{"error": "Method not allowed"})
			return
		}

		bodyBytes, err := io.ReadAll(r.Body)
		if err != nil {
			rw.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(rw).Encode(map[string]string{"error": "Failed to read body"})
			return
		}
		defer r.Body.Close()

		statusCode, data := w.Handle(string(bodyBytes), r.Header.Get("X-Knovera-Signature"))
		rw.WriteHeader(statusCode)
		json.NewEncoder(rw).Encode(data)
	})
}
