// Package knovera provides the official Go client for the Knovera
// direct-messaging service.
//
// It covers the REST surface (conversations, messages, seen-marks,
// reactions, polls, media upload), the realtime push channel, and the
// synchronization core that keeps a locally open conversation
// consistent with server-pushed events.
//
// Example:
//
//	client := knovera.NewClient(token)
//
//	convos, _ := client.Conversations.List(ctx)
//	client.Messages.Send(ctx, convID, "Hello!", nil)
//
//	session := knovera.NewSession(client, transport, userID, nil)
//	session.Open(ctx, convID)
package knovera

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultBaseURL = "https://api.knovera.app"
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

// Client is the REST client for the Knovera backend. All write calls
// carry an idempotency key, so retrying a failed call is safe.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client

	Conversations *ConversationsClient
	Messages      *MessagesClient
	Seen          *SeenClient
	Polls         *PollsClient
	Media         *MediaClient
}

type ClientOption func(*Client)

func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// NewClient creates a new Knovera REST client authenticated with the
// session token.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}

	c.Conversations = &ConversationsClient{c: c}
	c.Messages = &MessagesClient{c: c}
	c.Seen = &SeenClient{c: c}
	c.Polls = &PollsClient{c: c}
	c.Media = &MediaClient{c: c}
	return c
}

// SetToken updates the auth token, e.g. after a session refresh.
func (c *Client) SetToken(token string) {
	c.token = token
}

// BaseURL returns the configured backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ============================================================================
// Internal request helpers
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, query map[string]string) (*Result, error) {
	data, err := c.doRequest(ctx, method, path, body, query)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Result](data)
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// resultErr turns a non-OK Result into an error.
func resultErr(r *Result, fallback string) error {
	if r.Error != nil {
		return r.Error
	}
	return fmt.Errorf("%s", fallback)
}

// ============================================================================
// Conversations
// ============================================================================

// ConversationsClient manages conversation CRUD.
type ConversationsClient struct{ c *Client }

func (cv *ConversationsClient) List(ctx context.Context) ([]Conversation, error) {
	res, err := cv.c.do(ctx, "GET", "/api/conversations", nil, nil)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, resultErr(res, "list conversations failed")
	}
	var convos []Conversation
	if err := res.Decode(&convos); err != nil {
		return nil, fmt.Errorf("failed to decode conversations: %w", err)
	}
	return convos, nil
}

func (cv *ConversationsClient) Get(ctx context.Context, conversationID string) (*Conversation, error) {
	res, err := cv.c.do(ctx, "GET", "/api/conversations/"+conversationID, nil, nil)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, resultErr(res, "get conversation failed")
	}
	var conv Conversation
	if err := res.Decode(&conv); err != nil {
		return nil, fmt.Errorf("failed to decode conversation: %w", err)
	}
	return &conv, nil
}

func (cv *ConversationsClient) CreateDirect(ctx context.Context, userID string) (*Conversation, error) {
	res, err := cv.c.do(ctx, "POST", "/api/conversations/direct", map[string]string{"userId": userID}, nil)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, resultErr(res, "create conversation failed")
	}
	var conv Conversation
	if err := res.Decode(&conv); err != nil {
		return nil, fmt.Errorf("failed to decode conversation: %w", err)
	}
	return &conv, nil
}

func (cv *ConversationsClient) CreateGroup(ctx context.Context, opts *CreateGroupOptions) (*Conversation, error) {
	res, err := cv.c.do(ctx, "POST", "/api/conversations/group", opts, nil)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, resultErr(res, "create group failed")
	}
	var conv Conversation
	if err := res.Decode(&conv); err != nil {
		return nil, fmt.Errorf("failed to decode conversation: %w", err)
	}
	return &conv, nil
}

func (cv *ConversationsClient) Delete(ctx context.Context, conversationID string) error {
	res, err := cv.c.do(ctx, "DELETE", "/api/conversations/"+conversationID, nil, nil)
	if err != nil {
		return err
	}
	if !res.OK {
		return resultErr(res, "delete conversation failed")
	}
	return nil
}

func (cv *ConversationsClient) SetPinned(ctx context.Context, conversationID string, pinned bool) error {
	res, err := cv.c.do(ctx, "PATCH", "/api/conversations/"+conversationID,
		map[string]bool{"isPinned": pinned}, nil)
	if err != nil {
		return err
	}
	if !res.OK {
		return resultErr(res, "pin conversation failed")
	}
	return nil
}

// ============================================================================
// Messages
// ============================================================================

// MessagesClient manages message operations.
type MessagesClient struct{ c *Client }

// Send posts a message to a conversation. The backend deduplicates on
// the idempotency key, so a network retry cannot double-send.
func (m *MessagesClient) Send(ctx context.Context, conversationID, content string, opts *SendOptions) (*Message, error) {
	payload := map[string]any{
		"content":         content,
		"_idempotencyKey": "sdk-" + uuid.NewString(),
	}
	if opts != nil {
		if len(opts.Media) > 0 {
			payload["media"] = opts.Media
		}
		if opts.PollID != "" {
			payload["pollId"] = opts.PollID
		}
	}
	res, err := m.c.do(ctx, "POST", "/api/conversations/"+conversationID+"/messages", payload, nil)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, resultErr(res, "send message failed")
	}
	var msg Message
	if err := res.Decode(&msg); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	msg.State = StateConfirmed
	return &msg, nil
}

func (m *MessagesClient) History(ctx context.Context, conversationID string, opts *HistoryOptions) ([]Message, error) {
	var query map[string]string
	if opts != nil {
		query = map[string]string{}
		if opts.Limit > 0 {
			query["limit"] = fmt.Sprintf("%d", opts.Limit)
		}
		if opts.Before != "" {
			query["before"] = opts.Before
		}
		if len(query) == 0 {
			query = nil
		}
	}
	res, err := m.c.do(ctx, "GET", "/api/conversations/"+conversationID+"/messages", nil, query)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, resultErr(res, "message history failed")
	}
	var msgs []Message
	if err := res.Decode(&msgs); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	for i := range msgs {
		msgs[i].State = StateConfirmed
	}
	return msgs, nil
}

func (m *MessagesClient) Delete(ctx context.Context, conversationID, messageID string) error {
	res, err := m.c.do(ctx, "DELETE", "/api/conversations/"+conversationID+"/messages/"+messageID, nil, nil)
	if err != nil {
		return err
	}
	if !res.OK {
		return resultErr(res, "delete message failed")
	}
	return nil
}

func (m *MessagesClient) React(ctx context.Context, messageID, emoji string) error {
	res, err := m.c.do(ctx, "POST", "/api/messages/"+messageID+"/reactions",
		map[string]string{"emoji": emoji}, nil)
	if err != nil {
		return err
	}
	if !res.OK {
		return resultErr(res, "react failed")
	}
	return nil
}

func (m *MessagesClient) Unreact(ctx context.Context, messageID, emoji string) error {
	res, err := m.c.do(ctx, "DELETE", "/api/messages/"+messageID+"/reactions/"+url.PathEscape(emoji), nil, nil)
	if err != nil {
		return err
	}
	if !res.OK {
		return resultErr(res, "unreact failed")
	}
	return nil
}

// ============================================================================
// Seen-marks
// ============================================================================

// SeenClient persists seen-marks.
type SeenClient struct{ c *Client }

// Mark records that the authenticated user has seen a message.
func (s *SeenClient) Mark(ctx context.Context, messageID string) error {
	res, err := s.c.do(ctx, "POST", "/api/messages/"+messageID+"/seen", nil, nil)
	if err != nil {
		return err
	}
	if !res.OK {
		return resultErr(res, "mark seen failed")
	}
	return nil
}

// ============================================================================
// Polls
// ============================================================================

// PollsClient manages polls and votes.
type PollsClient struct{ c *Client }

func (p *PollsClient) Create(ctx context.Context, opts *CreatePollOptions) (*Poll, error) {
	res, err := p.c.do(ctx, "POST", "/api/polls", opts, nil)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, resultErr(res, "create poll failed")
	}
	var poll Poll
	if err := res.Decode(&poll); err != nil {
		return nil, fmt.Errorf("failed to decode poll: %w", err)
	}
	return &poll, nil
}

func (p *PollsClient) Get(ctx context.Context, pollID string) (*Poll, error) {
	res, err := p.c.do(ctx, "GET", "/api/polls/"+pollID, nil, nil)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, resultErr(res, "get poll failed")
	}
	var poll Poll
	if err := res.Decode(&poll); err != nil {
		return nil, fmt.Errorf("failed to decode poll: %w", err)
	}
	return &poll, nil
}

func (p *PollsClient) Vote(ctx context.Context, pollID, optionID string) (*Poll, error) {
	res, err := p.c.do(ctx, "POST", "/api/polls/"+pollID+"/vote",
		map[string]string{"optionId": optionID}, nil)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, resultErr(res, "vote failed")
	}
	var poll Poll
	if err := res.Decode(&poll); err != nil {
		return nil, fmt.Errorf("failed to decode poll: %w", err)
	}
	return &poll, nil
}

// ============================================================================
// Media
// ============================================================================

// MediaClient handles the media upload pipeline: presign, upload,
// confirm. Each call to the backend is idempotent per upload id.
type MediaClient struct{ c *Client }

// UploadOptions configures Upload.
type UploadOptions struct {
	FileName string
	MimeType string
}

func (mc *MediaClient) presign(ctx context.Context, fileName string, fileSize int64, mimeType string) (*PresignResult, error) {
	res, err := mc.c.do(ctx, "POST", "/api/media/presign", map[string]any{
		"fileName": fileName, "fileSize": fileSize, "mimeType": mimeType,
	}, nil)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, resultErr(res, "presign failed")
	}
	var presign PresignResult
	if err := res.Decode(&presign); err != nil {
		return nil, fmt.Errorf("failed to decode presign: %w", err)
	}
	return &presign, nil
}

func (mc *MediaClient) confirm(ctx context.Context, uploadID string) (*UploadResult, error) {
	res, err := mc.c.do(ctx, "POST", "/api/media/confirm", map[string]string{"uploadId": uploadID}, nil)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, resultErr(res, "confirm failed")
	}
	var confirmed UploadResult
	if err := res.Decode(&confirmed); err != nil {
		return nil, fmt.Errorf("failed to decode confirm: %w", err)
	}
	return &confirmed, nil
}

// Upload runs the full lifecycle: presign, multipart POST, confirm.
// FileName in opts is required.
func (mc *MediaClient) Upload(ctx context.Context, data []byte, opts *UploadOptions) (*UploadResult, error) {
	if opts == nil || opts.FileName == "" {
		return nil, fmt.Errorf("fileName is required")
	}
	mimeType := opts.MimeType
	if mimeType == "" {
		mimeType = guessMimeType(opts.FileName)
	}
	fileSize := int64(len(data))

	presign, err := mc.presign(ctx, opts.FileName, fileSize, mimeType)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	// Absolute presign URLs point at external object storage and carry
	// their own auth fields; relative ones go back to the backend.
	external := strings.HasPrefix(presign.URL, "http")
	if external {
		for k, v := range presign.Fields {
			_ = w.WriteField(k, v)
		}
	}

	part, err := w.CreateFormFile("file", opts.FileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write file data: %w", err)
	}
	_ = w.Close()

	uploadURL := presign.URL
	if !external {
		uploadURL = mc.c.baseURL + presign.URL
	}

	req, err := http.NewRequestWithContext(ctx, "POST", uploadURL, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if !external && mc.c.token != "" {
		req.Header.Set("Authorization", "Bearer "+mc.c.token)
	}

	resp, err := mc.c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("upload failed (%d): %s", resp.StatusCode, string(body))
	}

	return mc.confirm(ctx, presign.UploadID)
}

// UploadFile uploads from a local path. FileName is derived from the
// path when not set in opts.
func (mc *MediaClient) UploadFile(ctx context.Context, filePath string, opts *UploadOptions) (*UploadResult, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if opts == nil {
		opts = &UploadOptions{}
	}
	if opts.FileName == "" {
		opts.FileName = filepath.Base(filePath)
	}
	return mc.Upload(ctx, data, opts)
}

// guessMimeType returns a MIME type from the file extension.
func guessMimeType(fileName string) string {
	ext := filepath.Ext(fileName)
	if ext == "" {
		return "application/octet-stream"
	}
	// Fallback for types not in Go's builtin registry
	fallback := map[string]string{
		".md": "text/markdown", ".webp": "image/webp", ".webm": "video/webm",
	}
	if m, ok := fallback[ext]; ok {
		return m
	}
	t := mime.TypeByExtension(ext)
	if t != "" {
		if idx := strings.Index(t, ";"); idx > 0 {
			t = strings.TrimSpace(t[:idx])
		}
		return t
	}
	return "application/octet-stream"
}
