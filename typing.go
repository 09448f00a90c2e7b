package knovera

import (
	"sync"
	"time"
)

// TypingWindow is the inactivity window after which the local user is
// considered done typing, and the horizon past which a remote typing
// entry is no longer honored.
const TypingWindow = 3 * time.Second

// ============================================================================
// Outbound: Announcer
// ============================================================================

// Announcer debounces the local user's typing state into at most one
// typing:start / typing:stop pair per burst. A start is never emitted
// twice without an intervening stop, and vice versa, which bounds the
// server-side fan-out traffic.
//
// The state machine is idle -> announcing -> idle. Entering announcing
// emits start; the inactivity timer, reset on every keystroke, emits
// stop when it fires. An explicit SetTyping(false) stops immediately
// and cancels the pending timer.
type Announcer struct {
	emit   func(conversationID string, isTyping bool)
	window time.Duration

	mu         sync.Mutex
	convID     string
	announcing bool
	timer      *time.Timer
}

// NewAnnouncer creates an announcer that reports state changes through
// emit. window <= 0 selects TypingWindow.
func NewAnnouncer(emit func(conversationID string, isTyping bool), window time.Duration) *Announcer {
	if window <= 0 {
		window = TypingWindow
	}
	return &Announcer{emit: emit, window: window}
}

// Rebind points the announcer at a new conversation. A burst that was
// mid-flight for the previous conversation is force-stopped first, so
// the old conversation always receives its closing typing:stop.
func (a *Announcer) Rebind(conversationID string) {
	a.mu.Lock()
	prev := a.convID
	wasAnnouncing := a.announcing
	a.cancelTimerLocked()
	a.announcing = false
	a.convID = conversationID
	a.mu.Unlock()

	if wasAnnouncing && prev != "" {
		a.emit(prev, false)
	}
}

// SetTyping is the single entry point, called on every local input
// change. true while the input has content, false when the input is
// cleared or a message is sent.
func (a *Announcer) SetTyping(isTyping bool) {
	a.mu.Lock()
	convID := a.convID
	if convID == "" {
		a.mu.Unlock()
		return
	}

	if !isTyping {
		if !a.announcing {
			a.mu.Unlock()
			return
		}
		a.cancelTimerLocked()
		a.announcing = false
		a.mu.Unlock()
		a.emit(convID, false)
		return
	}

	starting := !a.announcing
	a.announcing = true
	// One owned timer per burst, always cancelled before rescheduling.
	a.cancelTimerLocked()
	a.timer = time.AfterFunc(a.window, a.expire)
	a.mu.Unlock()

	if starting {
		a.emit(convID, true)
	}
}

// Stop force-stops any active burst, as on session teardown.
func (a *Announcer) Stop() {
	a.mu.Lock()
	convID := a.convID
	wasAnnouncing := a.announcing
	a.cancelTimerLocked()
	a.announcing = false
	a.mu.Unlock()

	if wasAnnouncing && convID != "" {
		a.emit(convID, false)
	}
}

// expire fires when the inactivity window elapses with no keystrokes.
func (a *Announcer) expire() {
	a.mu.Lock()
	if !a.announcing {
		a.mu.Unlock()
		return
	}
	convID := a.convID
	a.announcing = false
	a.timer = nil
	a.mu.Unlock()

	a.emit(convID, false)
}

func (a *Announcer) cancelTimerLocked() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

// ============================================================================
// Inbound: TypingSet
// ============================================================================

// TypingSet tracks which remote users are currently typing in the
// active conversation. Entries expire lazily: once a user's window has
// passed they are reported absent whether or not a cleanup pass has
// physically removed them, so a dropped typing:stop cannot wedge an
// indicator on.
type TypingSet struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	expires map[string]time.Time
}

// NewTypingSet creates an empty set. ttl <= 0 selects TypingWindow.
func NewTypingSet(ttl time.Duration) *TypingSet {
	return &TypingSet{
		ttl:     ttl,
		now:     time.Now,
		expires: make(map[string]time.Time),
	}
}

func (ts *TypingSet) window() time.Duration {
	if ts.ttl <= 0 {
		return TypingWindow
	}
	return ts.ttl
}

// HandleStart inserts or refreshes a user's typing entry.
func (ts *TypingSet) HandleStart(userID string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.expires[userID] = ts.now().Add(ts.window())
}

// HandleStop removes a user's typing entry.
func (ts *TypingSet) HandleStop(userID string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	delete(ts.expires, userID)
}

// Users returns the ids of users whose typing entry has not expired,
// pruning stale entries as a side effect.
func (ts *TypingSet) Users() []string {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := ts.now()
	var users []string
	for id, exp := range ts.expires {
		if now.Before(exp) {
			users = append(users, id)
		} else {
			delete(ts.expires, id)
		}
	}
	return users
}

// IsTyping reports whether userID has an unexpired typing entry.
func (ts *TypingSet) IsTyping(userID string) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	exp, ok := ts.expires[userID]
	return ok && ts.now().Before(exp)
}

// Reset drops all entries, as on a conversation switch.
func (ts *TypingSet) Reset() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.expires = make(map[string]time.Time)
}
