package knovera

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// ============================================================================
// Connection State
// ============================================================================

// ConnState is the lifecycle state of the push channel. It is owned
// exclusively by the Transport; other components only read it.
type ConnState string

const (
	ConnConnecting ConnState = "connecting"
	ConnOpen       ConnState = "open"
	ConnClosed     ConnState = "closed"
)

// ErrIdentityRequired is returned by Connect when no authenticated
// identity is supplied.
var ErrIdentityRequired = errors.New("identity is required to open the channel")

// Identity is the authenticated user identity the channel is scoped to.
type Identity struct {
	UserID string
	Token  string
}

// ============================================================================
// Configuration
// ============================================================================

// TransportConfig configures the channel transport.
type TransportConfig struct {
	BaseURL              string
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int // 0 = unlimited
	EventBuffer          int
	Logger               *slog.Logger

	// Rejoin returns the conversation ids the session currently tracks.
	// Dereferenced at reconnect time, never captured, so routing resumes
	// correctly no matter how the active set changed during the outage.
	Rejoin func() []string
}

func (c *TransportConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.EventBuffer == 0 {
		c.EventBuffer = 64
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// ============================================================================
// Reconnector
// ============================================================================

// reconnector computes capped exponential backoff with jitter. The
// attempt counter resets after a connection survives 60 seconds.
type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(config *TransportConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

// ============================================================================
// Transport
// ============================================================================

// Transport owns the single bidirectional channel connection for a
// user session. Inbound envelopes are delivered to exactly one
// subscriber via Events, in arrival order, with no batching.
//
// Transport-level errors are never surfaced: they are logged and
// recovered through automatic reconnection. Only Close, tied to
// session end, stops the reconnect loop.
type Transport struct {
	config *TransportConfig
	log    *slog.Logger
	recon  *reconnector
	events chan Envelope

	mu       sync.Mutex
	conn     *websocket.Conn
	state    ConnState
	identity Identity
	closed   bool
	cancelFn context.CancelFunc
}

// NewTransport creates a channel transport. Call Connect to open it.
func NewTransport(config *TransportConfig) *Transport {
	cfg := *config
	cfg.defaults()
	return &Transport{
		config: &cfg,
		log:    cfg.Logger,
		recon:  newReconnector(&cfg),
		state:  ConnConnecting,
		events: make(chan Envelope, cfg.EventBuffer),
	}
}

// SetRejoin installs the tracked-conversation source used after each
// reconnect. Must be called before Connect.
func (t *Transport) SetRejoin(fn func() []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.config.Rejoin = fn
}

// State returns the current connection state.
func (t *Transport) State() ConnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Events returns the inbound envelope stream. Delivery stops once the
// transport is closed; consumers should select against their own
// context rather than wait for this channel to drain.
func (t *Transport) Events() <-chan Envelope {
	return t.events
}

// Connect opens the channel scoped to identity. It fails immediately
// when the identity is absent; callers must not connect before the
// session is authenticated.
func (t *Transport) Connect(ctx context.Context, identity Identity) error {
	if identity.UserID == "" || identity.Token == "" {
		return ErrIdentityRequired
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return fmt.Errorf("transport is closed")
	}
	if t.state == ConnOpen {
		t.mu.Unlock()
		return nil
	}
	t.state = ConnConnecting
	t.identity = identity
	t.mu.Unlock()

	return t.dial(ctx)
}

func (t *Transport) dial(ctx context.Context) error {
	t.mu.Lock()
	identity := t.identity
	t.mu.Unlock()

	wsURL := strings.Replace(t.config.BaseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/channel?token=" + identity.Token

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("channel dial: %w", err)
	}

	connCtx, cancel := context.WithCancel(context.Background())

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		cancel()
		conn.Close(websocket.StatusNormalClosure, "")
		return fmt.Errorf("transport is closed")
	}
	t.conn = conn
	t.state = ConnOpen
	t.cancelFn = cancel
	t.mu.Unlock()

	t.recon.markConnected()
	t.rejoin(connCtx)

	go t.readLoop(connCtx, conn)
	return nil
}

// rejoin re-issues a join envelope for every tracked conversation so
// conversation-scoped routing resumes after a (re)connect.
func (t *Transport) rejoin(ctx context.Context) {
	t.mu.Lock()
	userID := t.identity.UserID
	fn := t.config.Rejoin
	t.mu.Unlock()
	if fn == nil {
		return
	}

	for _, convID := range fn() {
		env, err := NewEnvelope(EnvJoinConversation, JoinPayload{
			ConversationID: convID,
			UserID:         userID,
		})
		if err != nil {
			t.log.Error("failed to build join envelope",
				slog.String("conversationId", convID),
				slog.Any("error", err))
			continue
		}
		t.Send(ctx, env)
	}
}

// Send enqueues an outbound envelope. It is a no-op when the channel
// is not open: presence and typing signals are best-effort and must
// never block or buffer while disconnected.
func (t *Transport) Send(ctx context.Context, env Envelope) {
	t.mu.Lock()
	conn := t.conn
	state := t.state
	t.mu.Unlock()

	if state != ConnOpen || conn == nil {
		t.log.Debug("dropping outbound envelope, channel not open",
			slog.String("type", string(env.Type)))
		return
	}

	data, err := json.Marshal(env)
	if err != nil {
		t.log.Error("failed to marshal envelope", slog.Any("error", err))
		return
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.log.Warn("channel write failed",
			slog.String("type", string(env.Type)),
			slog.Any("error", err))
	}
}

// Close ends the session: the state becomes closed immediately and no
// further reconnect attempts are made.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.state = ConnClosed
	if t.cancelFn != nil {
		t.cancelFn()
		t.cancelFn = nil
	}
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "session end")
	}
	return nil
}

func (t *Transport) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.mu.Lock()
			closed := t.closed
			if !closed {
				t.state = ConnConnecting
				t.conn = nil
			}
			t.mu.Unlock()

			if closed {
				return
			}

			t.log.Warn("channel connection lost", slog.Any("error", err))
			if t.recon.shouldReconnect() {
				go t.scheduleReconnect()
			} else {
				t.mu.Lock()
				t.state = ConnClosed
				t.mu.Unlock()
			}
			return
		}

		var env Envelope
		if json.Unmarshal(data, &env) != nil || env.Type == "" {
			t.log.Debug("discarding malformed inbound frame")
			continue
		}

		select {
		case t.events <- env:
		case <-ctx.Done():
			return
		}
	}
}

func (t *Transport) scheduleReconnect() {
	for {
		delay := t.recon.nextDelay()
		t.log.Info("reconnecting channel",
			slog.Int("attempt", t.recon.attempt),
			slog.Duration("delay", delay))
		time.Sleep(delay)

		t.mu.Lock()
		closed := t.closed
		t.mu.Unlock()
		if closed {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := t.dial(ctx)
		cancel()
		if err == nil {
			return
		}
		t.log.Warn("reconnect attempt failed", slog.Any("error", err))
		if !t.recon.shouldReconnect() {
			t.mu.Lock()
			t.state = ConnClosed
			t.mu.Unlock()
			return
		}
	}
}
