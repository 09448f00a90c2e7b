package knovera

import (
	"context"
	"fmt"
	"sync"
)

// ============================================================================
// Message Store
// ============================================================================

// HistoryLoader fetches the initial message list for a conversation.
// *MessagesClient satisfies it via a thin adapter; tests supply fakes.
type HistoryLoader interface {
	History(ctx context.Context, conversationID string, opts *HistoryOptions) ([]Message, error)
}

// MessageStore is the authoritative ordered collection of messages for
// the single currently-open conversation. It merges optimistic local
// writes with server-confirmed and broadcast writes, and guarantees
// that no message appears twice even when a send arrives both as a
// local optimistic write and as a server echo.
//
// Other conversations are not kept warm; switching conversations
// resets the store and loads fresh.
type MessageStore struct {
	loader HistoryLoader

	mu             sync.RWMutex
	conversationID string
	messages       []Message
	index          map[string]int // message id -> position in messages
}

// NewMessageStore creates an empty store backed by loader.
func NewMessageStore(loader HistoryLoader) *MessageStore {
	return &MessageStore{
		loader: loader,
		index:  make(map[string]int),
	}
}

// ConversationID returns the conversation the store currently tracks.
func (s *MessageStore) ConversationID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conversationID
}

// Messages returns a snapshot of the ordered message list.
func (s *MessageStore) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of stored messages.
func (s *MessageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Get returns the message with the given id, if present.
func (s *MessageStore) Get(id string) (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.index[id]
	if !ok {
		return Message{}, false
	}
	return s.messages[pos], true
}

// Reset empties the store and rebinds it to conversationID.
func (s *MessageStore) Reset(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversationID = conversationID
	s.messages = nil
	s.index = make(map[string]int)
}

// LoadInitial replaces the store contents wholesale with the backend's
// message history for conversationID. On failure the previous contents
// are left untouched, so a transient fetch error never blanks the view.
func (s *MessageStore) LoadInitial(ctx context.Context, conversationID string) error {
	msgs, err := s.loader.History(ctx, conversationID, nil)
	if err != nil {
		return fmt.Errorf("load messages for %s: %w", conversationID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversationID = conversationID
	s.messages = msgs
	s.index = make(map[string]int, len(msgs))
	for i := range msgs {
		s.index[msgs[i].ID] = i
	}
	return nil
}

// InsertOptimistic appends a locally-originated message before any
// server confirmation, so the sender sees it instantly. The message
// keeps its temporary id and StatePending until reconciled; if no
// confirmation ever arrives it stays visible as pending.
func (s *MessageStore) InsertOptimistic(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.index[msg.ID]; exists {
		return
	}
	msg.State = StatePending
	s.index[msg.ID] = len(s.messages)
	s.messages = append(s.messages, msg)
}

// ReconcileConfirmed replaces the temporary entry with the
// server-assigned message in place, preserving display order. If the
// server message already arrived as a broadcast (push beat the REST
// response), the temporary entry is removed instead, so the message
// never appears twice.
func (s *MessageStore) ReconcileConfirmed(tempID string, server Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.index[tempID]
	if !ok {
		return
	}

	if existing, dup := s.index[server.ID]; dup && existing != pos {
		// Broadcast echo won the race; drop the pending placeholder.
		s.removeAt(pos)
		return
	}

	server.State = StateConfirmed
	s.messages[pos] = server
	delete(s.index, tempID)
	s.index[server.ID] = pos
}

// MergeBroadcast applies a message that arrived over the push channel.
// A message whose server id is already present is a duplicate and is
// ignored; otherwise it is appended. This tolerates the broadcast
// arriving before the REST confirmation of the same send.
func (s *MessageStore) MergeBroadcast(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.index[msg.ID]; exists {
		return
	}
	msg.State = StateConfirmed
	s.index[msg.ID] = len(s.messages)
	s.messages = append(s.messages, msg)
}

// AddReaction records a reaction on a stored message, deduplicated by
// (user, emoji).
func (s *MessageStore) AddReaction(messageID string, r Reaction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.index[messageID]
	if !ok {
		return
	}
	for _, existing := range s.messages[pos].Reactions {
		if existing.UserID == r.UserID && existing.Emoji == r.Emoji {
			return
		}
	}
	s.messages[pos].Reactions = append(s.messages[pos].Reactions, r)
}

// Remove deletes a message by id, shifting later entries up.
func (s *MessageStore) Remove(messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.index[messageID]
	if !ok {
		return
	}
	s.removeAt(pos)
}

// removeAt drops the entry at pos and reindexes the tail.
// Callers must hold s.mu.
func (s *MessageStore) removeAt(pos int) {
	delete(s.index, s.messages[pos].ID)
	s.messages = append(s.messages[:pos], s.messages[pos+1:]...)
	for i := pos; i < len(s.messages); i++ {
		s.index[s.messages[i].ID] = i
	}
}
