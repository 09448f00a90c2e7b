package knovera

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ============================================================================
// Channel Wire Format
// ============================================================================

// EnvelopeType enumerates the typed message units exchanged over the
// push channel.
type EnvelopeType string

const (
	EnvNewMessage       EnvelopeType = "new_message"
	EnvTyping           EnvelopeType = "typing"
	EnvMessageSeen      EnvelopeType = "message_seen"
	EnvUserOnline       EnvelopeType = "user_online"
	EnvUserOffline      EnvelopeType = "user_offline"
	EnvJoinConversation EnvelopeType = "join_conversation"
	EnvError            EnvelopeType = "error"
)

// Envelope is the bidirectional wire unit of the push channel.
type Envelope struct {
	Type EnvelopeType    `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewEnvelope marshals payload into a typed envelope.
func NewEnvelope(t EnvelopeType, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Envelope{Type: t, Data: data}, nil
}

// ============================================================================
// Payloads
// ============================================================================

// JoinPayload joins a conversation room (outbound only). Re-sent for
// every tracked conversation after a reconnect.
type JoinPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// TypingPayload announces a typing state change.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

// SeenPayload broadcasts a seen-mark (inbound).
type SeenPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	UserID         string `json:"userId"`
	Username       string `json:"username,omitempty"`
	SeenAt         string `json:"seenAt"`
}

// PresencePayload announces a user coming online or going offline.
type PresencePayload struct {
	UserID string `json:"userId"`
}

// ErrorPayload is a server-reported error.
type ErrorPayload struct {
	Message string `json:"message"`
}

// internalErrorPatterns match server errors that indicate client/server
// protocol skew the user cannot act on. They are logged and swallowed.
var internalErrorPatterns = []string{
	"unknown message type",
	"unknown envelope type",
	"unrecognized envelope",
}

// IsInternalProtocolError reports whether a server error message is an
// internal protocol-level error that should not reach the UI.
func IsInternalProtocolError(message string) bool {
	lower := strings.ToLower(message)
	for _, p := range internalErrorPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
