package knovera

import (
	"encoding/json"
	"testing"
)

func TestNewEnvelope(t *testing.T) {
	env, err := NewEnvelope(EnvTyping, TypingPayload{
		ConversationID: "conv-1", UserID: "user-1", IsTyping: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.Type != EnvTyping {
		t.Fatalf("unexpected type: %s", env.Type)
	}

	// The wire form is {type, data}.
	wire, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Envelope
	if err := json.Unmarshal(wire, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	var p TypingPayload
	if err := json.Unmarshal(decoded.Data, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.ConversationID != "conv-1" || !p.IsTyping {
		t.Fatalf("payload round trip lost fields: %+v", p)
	}
}

func TestIsInternalProtocolError(t *testing.T) {
	internal := []string{
		"Unknown message type: ping",
		"unknown envelope type",
		"Unrecognized envelope: foo",
	}
	for _, msg := range internal {
		if !IsInternalProtocolError(msg) {
			t.Errorf("expected internal: %q", msg)
		}
	}

	user := []string{
		"conversation is full",
		"you are not a member of this conversation",
		"",
	}
	for _, msg := range user {
		if IsInternalProtocolError(msg) {
			t.Errorf("expected user-facing: %q", msg)
		}
	}
}
