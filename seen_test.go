package knovera

import (
	"context"
	"fmt"
	"testing"
)

// ============================================================================
// Test Helpers
// ============================================================================

type fakeMarker struct {
	calls []string
	err   error
}

func (f *fakeMarker) Mark(ctx context.Context, messageID string) error {
	f.calls = append(f.calls, messageID)
	return f.err
}

// ============================================================================
// MarkSeen
// ============================================================================

func TestSeenAggregatorMarkSeen(t *testing.T) {
	t.Run("records and persists once", func(t *testing.T) {
		marker := &fakeMarker{}
		sa := NewSeenAggregator(marker, "me")

		if err := sa.MarkSeen(context.Background(), "m1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := sa.MarkSeen(context.Background(), "m1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := sa.MarkSeen(context.Background(), "m1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if len(marker.calls) != 1 {
			t.Fatalf("expected 1 outbound mark, got %d", len(marker.calls))
		}
		if got := sa.Receipts("m1"); len(got) != 1 || got[0].UserID != "me" {
			t.Fatalf("unexpected receipts: %v", got)
		}
	})

	t.Run("suppressed after broadcast for self", func(t *testing.T) {
		marker := &fakeMarker{}
		sa := NewSeenAggregator(marker, "me")
		sa.MergeBroadcast("m1", SeenReceipt{UserID: "me", SeenAt: "2026-01-01T00:00:00Z"})

		if err := sa.MarkSeen(context.Background(), "m1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(marker.calls) != 0 {
			t.Fatalf("expected no outbound mark, got %v", marker.calls)
		}
	})

	t.Run("persist failure surfaces", func(t *testing.T) {
		marker := &fakeMarker{err: fmt.Errorf("offline")}
		sa := NewSeenAggregator(marker, "me")
		if err := sa.MarkSeen(context.Background(), "m1"); err == nil {
			t.Fatal("expected error")
		}
	})
}

// ============================================================================
// MergeBroadcast
// ============================================================================

func TestSeenAggregatorMergeBroadcast(t *testing.T) {
	t.Run("first timestamp wins", func(t *testing.T) {
		sa := NewSeenAggregator(nil, "me")
		sa.MergeBroadcast("m1", SeenReceipt{UserID: "alice", SeenAt: "2026-01-01T10:00:00Z"})
		sa.MergeBroadcast("m1", SeenReceipt{UserID: "alice", SeenAt: "2026-01-01T11:00:00Z"})

		got := sa.Receipts("m1")
		if len(got) != 1 {
			t.Fatalf("expected 1 receipt, got %d", len(got))
		}
		if got[0].SeenAt != "2026-01-01T10:00:00Z" {
			t.Fatalf("later receipt overwrote timestamp: %s", got[0].SeenAt)
		}
	})

	t.Run("distinct users accumulate", func(t *testing.T) {
		sa := NewSeenAggregator(nil, "me")
		sa.MergeBroadcast("m1", SeenReceipt{UserID: "alice"})
		sa.MergeBroadcast("m1", SeenReceipt{UserID: "bob"})
		sa.MergeBroadcast("m2", SeenReceipt{UserID: "alice"})

		if len(sa.Receipts("m1")) != 2 {
			t.Fatalf("expected 2 receipts for m1, got %v", sa.Receipts("m1"))
		}
		if len(sa.Receipts("m2")) != 1 {
			t.Fatalf("expected 1 receipt for m2, got %v", sa.Receipts("m2"))
		}
	})
}

// ============================================================================
// SeenByOther / Reset
// ============================================================================

func TestSeenAggregatorSeenByOther(t *testing.T) {
	msg := Message{ID: "m1", SenderID: "me"}

	t.Run("no receipts", func(t *testing.T) {
		sa := NewSeenAggregator(nil, "me")
		if sa.SeenByOther(msg) {
			t.Fatal("expected false with no receipts")
		}
	})

	t.Run("sender's own receipt does not count", func(t *testing.T) {
		sa := NewSeenAggregator(nil, "me")
		sa.MergeBroadcast("m1", SeenReceipt{UserID: "me"})
		if sa.SeenByOther(msg) {
			t.Fatal("sender receipt should not count")
		}
	})

	t.Run("other user's receipt counts", func(t *testing.T) {
		sa := NewSeenAggregator(nil, "me")
		sa.MergeBroadcast("m1", SeenReceipt{UserID: "alice"})
		if !sa.SeenByOther(msg) {
			t.Fatal("expected true after another user's receipt")
		}
	})
}

func TestSeenAggregatorReset(t *testing.T) {
	marker := &fakeMarker{}
	sa := NewSeenAggregator(marker, "me")
	sa.MergeBroadcast("m1", SeenReceipt{UserID: "alice"})
	sa.Reset()

	if len(sa.Receipts("m1")) != 0 {
		t.Fatal("expected empty after reset")
	}

	// After a reset the local user may legitimately re-mark; the
	// outbound call happens again.
	sa.MarkSeen(context.Background(), "m1")
	if len(marker.calls) != 1 {
		t.Fatalf("expected re-mark after reset, got %v", marker.calls)
	}
}
