package knovera

import (
	"sync"
	"testing"
	"time"
)

// ============================================================================
// Test Helpers
// ============================================================================

type typingRecorder struct {
	mu     sync.Mutex
	events []bool
	convs  []string
}

func (r *typingRecorder) emit(conversationID string, isTyping bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, isTyping)
	r.convs = append(r.convs, conversationID)
}

func (r *typingRecorder) snapshot() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.events...)
}

func assertEvents(t *testing.T, got, want []bool) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d events %v, got %d: %v", len(want), want, len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: expected %v, got %v (full: %v)", i, want[i], got[i], got)
		}
	}
}

// ============================================================================
// Announcer
// ============================================================================

func TestAnnouncer(t *testing.T) {
	t.Run("burst emits one start and one stop", func(t *testing.T) {
		rec := &typingRecorder{}
		a := NewAnnouncer(rec.emit, 30*time.Millisecond)
		a.Rebind("conv-1")

		// Three keystrokes within the window, one burst.
		a.SetTyping(true)
		a.SetTyping(true)
		a.SetTyping(true)
		time.Sleep(80 * time.Millisecond)

		assertEvents(t, rec.snapshot(), []bool{true, false})
	})

	t.Run("keystroke resets the inactivity timer", func(t *testing.T) {
		rec := &typingRecorder{}
		a := NewAnnouncer(rec.emit, 50*time.Millisecond)
		a.Rebind("conv-1")

		a.SetTyping(true)
		time.Sleep(30 * time.Millisecond)
		a.SetTyping(true)
		time.Sleep(30 * time.Millisecond)

		// 60ms elapsed total, but only 30ms since the last keystroke.
		assertEvents(t, rec.snapshot(), []bool{true})

		time.Sleep(40 * time.Millisecond)
		assertEvents(t, rec.snapshot(), []bool{true, false})
	})

	t.Run("send stops immediately and a new burst restarts", func(t *testing.T) {
		rec := &typingRecorder{}
		a := NewAnnouncer(rec.emit, time.Second)
		a.Rebind("conv-1")

		a.SetTyping(true)
		a.SetTyping(false) // message sent, input cleared
		a.SetTyping(true)  // user starts a reply
		a.SetTyping(false)

		assertEvents(t, rec.snapshot(), []bool{true, false, true, false})
	})

	t.Run("stop while idle emits nothing", func(t *testing.T) {
		rec := &typingRecorder{}
		a := NewAnnouncer(rec.emit, time.Second)
		a.Rebind("conv-1")

		a.SetTyping(false)
		a.SetTyping(false)
		assertEvents(t, rec.snapshot(), nil)
	})

	t.Run("no conversation bound emits nothing", func(t *testing.T) {
		rec := &typingRecorder{}
		a := NewAnnouncer(rec.emit, time.Second)
		a.SetTyping(true)
		a.SetTyping(false)
		assertEvents(t, rec.snapshot(), nil)
	})

	t.Run("rebind force-stops previous conversation", func(t *testing.T) {
		rec := &typingRecorder{}
		a := NewAnnouncer(rec.emit, time.Second)
		a.Rebind("conv-1")
		a.SetTyping(true)
		a.Rebind("conv-2")

		rec.mu.Lock()
		defer rec.mu.Unlock()
		if len(rec.events) != 2 || rec.events[1] != false {
			t.Fatalf("expected forced stop, got %v", rec.events)
		}
		if rec.convs[1] != "conv-1" {
			t.Fatalf("stop sent to wrong conversation: %s", rec.convs[1])
		}
	})

	t.Run("expired burst does not double-stop on teardown", func(t *testing.T) {
		rec := &typingRecorder{}
		a := NewAnnouncer(rec.emit, 20*time.Millisecond)
		a.Rebind("conv-1")

		a.SetTyping(true)
		time.Sleep(60 * time.Millisecond)
		a.Stop()

		assertEvents(t, rec.snapshot(), []bool{true, false})
	})
}

// ============================================================================
// TypingSet
// ============================================================================

func TestTypingSet(t *testing.T) {
	t.Run("start and stop", func(t *testing.T) {
		ts := NewTypingSet(time.Minute)
		ts.HandleStart("alice")
		if !ts.IsTyping("alice") {
			t.Fatal("expected alice typing")
		}
		ts.HandleStop("alice")
		if ts.IsTyping("alice") {
			t.Fatal("expected alice stopped")
		}
	})

	t.Run("dropped stop expires lazily", func(t *testing.T) {
		ts := NewTypingSet(time.Minute)
		ts.HandleStart("alice")
		ts.HandleStart("bob")

		// Simulate the wall clock moving past bob's window; the
		// typing:stop for bob never arrives.
		ts.mu.Lock()
		ts.expires["bob"] = ts.now().Add(-time.Second)
		ts.mu.Unlock()

		users := ts.Users()
		if len(users) != 1 || users[0] != "alice" {
			t.Fatalf("expected only alice, got %v", users)
		}
		if ts.IsTyping("bob") {
			t.Fatal("expired entry still reported typing")
		}
	})

	t.Run("start refreshes expiry", func(t *testing.T) {
		ts := NewTypingSet(time.Minute)
		ts.HandleStart("alice")
		ts.mu.Lock()
		ts.expires["alice"] = ts.now().Add(-time.Second)
		ts.mu.Unlock()

		ts.HandleStart("alice")
		if !ts.IsTyping("alice") {
			t.Fatal("refresh did not extend expiry")
		}
	})

	t.Run("reset clears everything", func(t *testing.T) {
		ts := NewTypingSet(time.Minute)
		ts.HandleStart("alice")
		ts.HandleStart("bob")
		ts.Reset()
		if len(ts.Users()) != 0 {
			t.Fatalf("expected empty set, got %v", ts.Users())
		}
	})

	t.Run("zero ttl falls back to default window", func(t *testing.T) {
		ts := NewTypingSet(0)
		if ts.window() != TypingWindow {
			t.Fatalf("expected %v, got %v", TypingWindow, ts.window())
		}
	})
}
