package knovera

import (
	"context"
	"sync"
)

// ============================================================================
// Seen-Receipt Aggregator
// ============================================================================

// SeenMarker persists a local seen-mark. *SeenClient satisfies it;
// tests supply fakes.
type SeenMarker interface {
	Mark(ctx context.Context, messageID string) error
}

// SeenAggregator tracks, per message, the set of users who have
// acknowledged seeing it. Local marks and server broadcasts merge into
// one receipt set, deduplicated by user: the first recorded timestamp
// for a user is retained, later marks are no-ops.
type SeenAggregator struct {
	marker SeenMarker
	selfID string

	mu       sync.RWMutex
	receipts map[string][]SeenReceipt // message id -> receipts
}

// NewSeenAggregator creates an empty aggregator. selfID is the local
// user, used to make MarkSeen idempotent and to exclude the sender
// from SeenByOther.
func NewSeenAggregator(marker SeenMarker, selfID string) *SeenAggregator {
	return &SeenAggregator{
		marker:   marker,
		selfID:   selfID,
		receipts: make(map[string][]SeenReceipt),
	}
}

// Reset drops all receipts, as on a conversation switch.
func (sa *SeenAggregator) Reset() {
	sa.mu.Lock()
	defer sa.mu.Unlock()
	sa.receipts = make(map[string][]SeenReceipt)
}

// MarkSeen records the local user's acknowledgement of a message and
// persists it. Both the local insert and the outbound call are
// suppressed when a receipt for this user already exists, so repeated
// visibility events for the same message cost nothing.
//
// Callers pre-filter to messages not sent by the local user.
func (sa *SeenAggregator) MarkSeen(ctx context.Context, messageID string) error {
	if !sa.insert(messageID, SeenReceipt{UserID: sa.selfID, SeenAt: nowRFC3339()}) {
		return nil
	}
	if sa.marker == nil {
		return nil
	}
	return sa.marker.Mark(ctx, messageID)
}

// MergeBroadcast applies a seen receipt that arrived over the push
// channel. A receipt for an already-acknowledged (message, user) pair
// is ignored.
func (sa *SeenAggregator) MergeBroadcast(messageID string, receipt SeenReceipt) {
	sa.insert(messageID, receipt)
}

// insert appends the receipt unless one for that user already exists.
// It reports whether a new entry was recorded.
func (sa *SeenAggregator) insert(messageID string, receipt SeenReceipt) bool {
	sa.mu.Lock()
	defer sa.mu.Unlock()

	for _, r := range sa.receipts[messageID] {
		if r.UserID == receipt.UserID {
			return false
		}
	}
	sa.receipts[messageID] = append(sa.receipts[messageID], receipt)
	return true
}

// Receipts returns a snapshot of the receipt set for a message.
func (sa *SeenAggregator) Receipts(messageID string) []SeenReceipt {
	sa.mu.RLock()
	defer sa.mu.RUnlock()
	rs := sa.receipts[messageID]
	out := make([]SeenReceipt, len(rs))
	copy(out, rs)
	return out
}

// SeenByOther reports whether any user other than the message's sender
// has acknowledged the message. Drives the single- vs double-check
// affordance.
func (sa *SeenAggregator) SeenByOther(msg Message) bool {
	sa.mu.RLock()
	defer sa.mu.RUnlock()

	for _, r := range sa.receipts[msg.ID] {
		if r.UserID != msg.SenderID {
			return true
		}
	}
	return false
}
