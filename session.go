package knovera

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNoActiveConversation is returned by operations that require an
// open conversation.
var ErrNoActiveConversation = errors.New("no active conversation")

// LoadError wraps a failed initial message fetch. The previous view is
// preserved; the condition is retryable.
type LoadError struct {
	ConversationID string
	Err            error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load conversation %s: %v", e.ConversationID, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// SendError wraps a failed REST send. The optimistic message is
// retained locally in its pending state; there is no automatic retry.
type SendError struct {
	TempID string
	Err    error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send message %s: %v", e.TempID, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// ============================================================================
// Channel abstraction
// ============================================================================

// Channel is the push-channel surface the session needs. *Transport
// satisfies it; tests supply fakes.
type Channel interface {
	Send(ctx context.Context, env Envelope)
	Events() <-chan Envelope
}

// rejoinSetter is implemented by channels that re-issue join envelopes
// after reconnecting.
type rejoinSetter interface {
	SetRejoin(func() []string)
}

// MessageSender posts messages to the REST backend. *MessagesClient
// satisfies it.
type MessageSender interface {
	Send(ctx context.Context, conversationID, content string, opts *SendOptions) (*Message, error)
}

// ============================================================================
// Session
// ============================================================================

// SessionConfig configures a Session.
type SessionConfig struct {
	TypingWindow time.Duration
	ListDebounce time.Duration
	Logger       *slog.Logger

	// OnError receives user-meaningful server errors. Internal
	// protocol errors (client/server version skew) never reach it.
	OnError func(message string)

	// OnListUpdate receives each refreshed conversation list.
	OnListUpdate func([]Conversation)
}

// Session is the coordination point of the sync core. It owns the
// single "active conversation" reference, routes every inbound channel
// envelope to the owning sub-component, and exposes the outward
// actions the UI layer calls.
//
// Inbound envelopes are processed one at a time on a single goroutine,
// in arrival order. Local optimistic mutations are applied
// synchronously before any network round trip resolves.
type Session struct {
	selfID  string
	channel Channel
	sender  MessageSender
	log     *slog.Logger
	onError func(string)

	Store    *MessageStore
	Typing   *TypingSet
	Seen     *SeenAggregator
	ConvList *ConvListSync

	announcer *Announcer

	mu       sync.Mutex
	activeID string
	joined   []string

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSession wires a session over the given REST client and channel.
func NewSession(client *Client, channel Channel, selfID string, cfg *SessionConfig) *Session {
	if cfg == nil {
		cfg = &SessionConfig{}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	s := &Session{
		selfID:  selfID,
		channel: channel,
		sender:  client.Messages,
		log:     log,
		onError: cfg.OnError,
		Store:   NewMessageStore(client.Messages),
		Typing:  NewTypingSet(cfg.TypingWindow),
		Seen:    NewSeenAggregator(client.Seen, selfID),
	}
	s.ConvList = NewConvListSync(client.Conversations, cfg.OnListUpdate, cfg.ListDebounce, log)
	s.announcer = NewAnnouncer(s.emitTyping, cfg.TypingWindow)

	// The channel reads the tracked set through a live reference at
	// reconnect time, never a captured copy.
	if rs, ok := channel.(rejoinSetter); ok {
		rs.SetRejoin(s.trackedConversations)
	}
	return s
}

// Start begins consuming inbound envelopes until ctx is cancelled or
// Close is called.
func (s *Session) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.run(runCtx)
	}()
}

// Close stops the event loop, force-stops any typing burst, and
// cancels pending list refreshes. It does not cancel in-flight REST
// sends; those complete and reconcile silently.
func (s *Session) Close() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.announcer.Stop()
	s.ConvList.Close()
	if done != nil {
		<-done
	}
}

func (s *Session) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-s.channel.Events():
			if !ok {
				return
			}
			s.handle(env)
		}
	}
}

// ============================================================================
// Outward actions
// ============================================================================

// ActiveConversation returns the id of the currently open conversation.
func (s *Session) ActiveConversation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// Open switches the active conversation. On success the previous
// typing burst is force-stopped, the per-conversation state slices are
// reset, and a join envelope is sent. On load failure nothing changes:
// the previous conversation stays visible and the call is retryable.
func (s *Session) Open(ctx context.Context, conversationID string) error {
	if err := s.Store.LoadInitial(ctx, conversationID); err != nil {
		return &LoadError{ConversationID: conversationID, Err: err}
	}

	s.mu.Lock()
	s.activeID = conversationID
	if !contains(s.joined, conversationID) {
		s.joined = append(s.joined, conversationID)
	}
	s.mu.Unlock()

	s.announcer.Rebind(conversationID)
	s.Typing.Reset()
	s.Seen.Reset()

	env, err := NewEnvelope(EnvJoinConversation, JoinPayload{
		ConversationID: conversationID,
		UserID:         s.selfID,
	})
	if err == nil {
		s.channel.Send(ctx, env)
	}
	return nil
}

// SendMessage applies the optimistic insert synchronously, then posts
// to the REST backend and reconciles the temporary entry with the
// server-assigned message. Sending also ends the local typing burst.
func (s *Session) SendMessage(ctx context.Context, content string, opts *SendOptions) (*Message, error) {
	s.mu.Lock()
	convID := s.activeID
	s.mu.Unlock()
	if convID == "" {
		return nil, ErrNoActiveConversation
	}

	tempID := "local-" + uuid.NewString()
	optimistic := Message{
		ID:             tempID,
		ConversationID: convID,
		SenderID:       s.selfID,
		Content:        content,
		State:          StatePending,
		CreatedAt:      nowRFC3339(),
	}
	if opts != nil {
		optimistic.Media = opts.Media
		optimistic.PollID = opts.PollID
	}
	s.Store.InsertOptimistic(optimistic)
	s.announcer.SetTyping(false)

	server, err := s.sender.Send(ctx, convID, content, opts)
	if err != nil {
		return nil, &SendError{TempID: tempID, Err: err}
	}

	s.Store.ReconcileConfirmed(tempID, *server)
	s.ConvList.Invalidate()
	return server, nil
}

// SetTyping is called on every local input change.
func (s *Session) SetTyping(isTyping bool) {
	s.announcer.SetTyping(isTyping)
}

// MarkSeen records the local user's acknowledgement of a message.
// Messages sent by the local user are skipped.
func (s *Session) MarkSeen(ctx context.Context, messageID string) error {
	if msg, ok := s.Store.Get(messageID); ok && msg.SenderID == s.selfID {
		return nil
	}
	return s.Seen.MarkSeen(ctx, messageID)
}

// Messages returns the ordered messages of the active conversation.
func (s *Session) Messages() []Message {
	return s.Store.Messages()
}

// TypingUsers returns remote users currently typing in the active
// conversation.
func (s *Session) TypingUsers() []string {
	return s.Typing.Users()
}

// SeenByOther reports whether a message has been seen by anyone other
// than its sender.
func (s *Session) SeenByOther(msg Message) bool {
	return s.Seen.SeenByOther(msg)
}

// emitTyping forwards announcer transitions to the channel.
func (s *Session) emitTyping(conversationID string, isTyping bool) {
	env, err := NewEnvelope(EnvTyping, TypingPayload{
		ConversationID: conversationID,
		UserID:         s.selfID,
		IsTyping:       isTyping,
	})
	if err != nil {
		s.log.Error("failed to build typing envelope", slog.Any("error", err))
		return
	}
	s.channel.Send(context.Background(), env)
}

// trackedConversations returns the conversations joined this session,
// read live by the transport's rejoin pass.
func (s *Session) trackedConversations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.joined))
	copy(out, s.joined)
	return out
}

// ============================================================================
// Inbound routing
// ============================================================================

// handle routes one inbound envelope. The active-conversation filter
// dereferences the live reference at call time; events for inactive
// conversations never mutate per-conversation state, but may still
// invalidate the conversation list.
func (s *Session) handle(env Envelope) {
	switch env.Type {
	case EnvNewMessage:
		var msg Message
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			s.log.Debug("malformed new_message payload", slog.Any("error", err))
			return
		}
		// Any new message may reorder the list or change its preview,
		// including ones for conversations not currently open.
		s.ConvList.Invalidate()
		if msg.ConversationID == s.ActiveConversation() {
			s.Store.MergeBroadcast(msg)
		}

	case EnvTyping:
		var p TypingPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			s.log.Debug("malformed typing payload", slog.Any("error", err))
			return
		}
		// A user never sees their own indicator reflected back.
		if p.UserID == s.selfID {
			return
		}
		if p.ConversationID != s.ActiveConversation() {
			// Activity in another conversation still bumps the list.
			s.ConvList.Invalidate()
			return
		}
		if p.IsTyping {
			s.Typing.HandleStart(p.UserID)
		} else {
			s.Typing.HandleStop(p.UserID)
		}

	case EnvMessageSeen:
		var p SeenPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			s.log.Debug("malformed message_seen payload", slog.Any("error", err))
			return
		}
		if p.ConversationID != s.ActiveConversation() {
			s.ConvList.Invalidate()
			return
		}
		s.Seen.MergeBroadcast(p.MessageID, SeenReceipt{
			UserID:   p.UserID,
			Username: p.Username,
			SeenAt:   p.SeenAt,
		})

	case EnvUserOnline, EnvUserOffline:
		s.ConvList.Invalidate()

	case EnvError:
		var p ErrorPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			s.log.Debug("malformed error payload", slog.Any("error", err))
			return
		}
		if IsInternalProtocolError(p.Message) {
			// Version-skew noise the user cannot act on.
			s.log.Debug("suppressed protocol error", slog.String("message", p.Message))
			return
		}
		s.log.Warn("server error", slog.String("message", p.Message))
		if s.onError != nil {
			s.onError(p.Message)
		}

	default:
		s.log.Debug("discarding envelope of unknown type", slog.String("type", string(env.Type)))
	}
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
