package knovera

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultInvalidateDebounce coalesces rapid list invalidations into a
// single refetch.
const DefaultInvalidateDebounce = 250 * time.Millisecond

// ConversationLister fetches the full conversation list.
// *ConversationsClient satisfies it; tests supply fakes.
type ConversationLister interface {
	List(ctx context.Context) ([]Conversation, error)
}

// ============================================================================
// Conversation List Synchronizer
// ============================================================================

// ConvListSync keeps the conversation list fresh by wholesale refetch
// rather than incremental patching: ordering, previews and unread
// counts are cheap to recompute server-side and error-prone to patch
// client-side. Any event that may affect them calls Invalidate, and
// rapid bursts coalesce into one fetch.
type ConvListSync struct {
	lister   ConversationLister
	onUpdate func([]Conversation)
	debounce time.Duration
	log      *slog.Logger

	mu     sync.Mutex
	timer  *time.Timer
	last   []Conversation
	closed bool
}

// NewConvListSync creates a synchronizer that delivers each refreshed
// list through onUpdate. debounce <= 0 selects the default window.
func NewConvListSync(lister ConversationLister, onUpdate func([]Conversation), debounce time.Duration, log *slog.Logger) *ConvListSync {
	if debounce <= 0 {
		debounce = DefaultInvalidateDebounce
	}
	if log == nil {
		log = slog.Default()
	}
	return &ConvListSync{
		lister:   lister,
		onUpdate: onUpdate,
		debounce: debounce,
		log:      log,
	}
}

// Invalidate schedules a full list refetch. Calls arriving while one
// is already scheduled are absorbed into it; the single timer handle
// is cancelled before every reschedule, so timers never stack.
func (cs *ConvListSync) Invalidate() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.closed {
		return
	}
	if cs.timer != nil {
		// A refetch is already pending; this call coalesces into it.
		return
	}
	cs.timer = time.AfterFunc(cs.debounce, cs.refresh)
}

// Refresh fetches the list immediately, bypassing the debounce. Used
// for the initial load.
func (cs *ConvListSync) Refresh(ctx context.Context) error {
	convos, err := cs.lister.List(ctx)
	if err != nil {
		return err
	}
	cs.deliver(convos)
	return nil
}

// Conversations returns the most recently fetched list.
func (cs *ConvListSync) Conversations() []Conversation {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := make([]Conversation, len(cs.last))
	copy(out, cs.last)
	return out
}

// Close cancels any pending refetch.
func (cs *ConvListSync) Close() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.closed = true
	if cs.timer != nil {
		cs.timer.Stop()
		cs.timer = nil
	}
}

func (cs *ConvListSync) refresh() {
	cs.mu.Lock()
	cs.timer = nil
	closed := cs.closed
	cs.mu.Unlock()
	if closed {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	convos, err := cs.lister.List(ctx)
	if err != nil {
		// The list stays stale until the next invalidation; a fetch
		// failure here is recoverable and never user-facing.
		cs.log.Warn("conversation list refresh failed", slog.Any("error", err))
		return
	}
	cs.deliver(convos)
}

func (cs *ConvListSync) deliver(convos []Conversation) {
	cs.mu.Lock()
	cs.last = convos
	onUpdate := cs.onUpdate
	cs.mu.Unlock()

	if onUpdate != nil {
		onUpdate(convos)
	}
}
