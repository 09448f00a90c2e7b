package knovera

import (
	"encoding/json"
	"time"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents an error returned by the Knovera REST backend.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// Result is the generic REST API response envelope.
type Result struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Meta  map[string]any  `json:"meta,omitempty"`
	Error *APIError       `json:"error,omitempty"`
}

// Decode unmarshals the Data field into the provided type.
func (r *Result) Decode(v interface{}) error {
	if r.Data == nil {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// ============================================================================
// Domain Types
// ============================================================================

// MessageState distinguishes locally-originated messages awaiting server
// confirmation from server-acknowledged ones. Reconciliation is a pure
// transition from StatePending to StateConfirmed.
type MessageState string

const (
	StatePending   MessageState = "pending"
	StateConfirmed MessageState = "confirmed"
)

// Conversation is one direct or group conversation.
type Conversation struct {
	ID          string   `json:"id"`
	MemberIDs   []string `json:"memberIds"`
	IsGroup     bool     `json:"isGroup"`
	Title       string   `json:"title,omitempty"`
	LastMessage *Message `json:"lastMessage,omitempty"`
	IsPinned    bool     `json:"isPinned"`
	UnreadCount int      `json:"unreadCount,omitempty"`
	CreatedAt   string   `json:"createdAt,omitempty"`
	UpdatedAt   string   `json:"updatedAt,omitempty"`
}

// Message is a single message in a conversation. ID is either a
// locally-generated temporary id (State == StatePending) or the
// server-assigned id (State == StateConfirmed).
type Message struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversationId"`
	SenderID       string            `json:"senderId"`
	Content        string            `json:"content"`
	Media          []MediaAttachment `json:"media,omitempty"`
	Reactions      []Reaction        `json:"reactions,omitempty"`
	PollID         string            `json:"pollId,omitempty"`
	SeenBy         []SeenReceipt     `json:"seenBy,omitempty"`
	State          MessageState      `json:"state,omitempty"`
	CreatedAt      string            `json:"createdAt"`
}

// MediaAttachment references an uploaded media object.
type MediaAttachment struct {
	UploadID string `json:"uploadId"`
	URL      string `json:"url"`
	FileName string `json:"fileName,omitempty"`
	FileSize int64  `json:"fileSize,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// Reaction is one user's reaction to a message. The same user may react
// with several distinct emojis, so (UserID, Emoji) identifies an entry.
type Reaction struct {
	UserID string `json:"userId"`
	Emoji  string `json:"emoji"`
}

// SeenReceipt records that a user has seen a message.
type SeenReceipt struct {
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
	SeenAt   string `json:"seenAt"`
}

// Poll is a poll attached to a message.
type Poll struct {
	ID        string       `json:"id"`
	Question  string       `json:"question"`
	Options   []PollOption `json:"options"`
	CreatorID string       `json:"creatorId"`
	CreatedAt string       `json:"createdAt,omitempty"`
}

// PollOption is one votable option of a poll.
type PollOption struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	VoterIDs []string `json:"voterIds,omitempty"`
}

// ============================================================================
// REST Options
// ============================================================================

// SendOptions carries optional fields for sending a message.
type SendOptions struct {
	Media  []MediaAttachment `json:"media,omitempty"`
	PollID string            `json:"pollId,omitempty"`
}

// CreateGroupOptions configures group conversation creation.
type CreateGroupOptions struct {
	Title     string   `json:"title"`
	MemberIDs []string `json:"memberIds"`
}

// CreatePollOptions configures poll creation.
type CreatePollOptions struct {
	ConversationID string   `json:"conversationId"`
	Question       string   `json:"question"`
	Options        []string `json:"options"`
}

// HistoryOptions paginates a message history fetch.
type HistoryOptions struct {
	Limit  int
	Before string
}

// PresignResult is the backend's reply to a media presign request.
type PresignResult struct {
	UploadID string            `json:"uploadId"`
	URL      string            `json:"url"`
	Fields   map[string]string `json:"fields,omitempty"`
}

// UploadResult describes a confirmed media upload.
type UploadResult struct {
	UploadID string `json:"uploadId"`
	URL      string `json:"url"`
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	MimeType string `json:"mimeType"`
}

// nowRFC3339 is the single timestamp format used for client-side stamps.
func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
