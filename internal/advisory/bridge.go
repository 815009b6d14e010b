// Package advisory mirrors model text to a side-channel analysis
// service and lets that service inject synthetic user turns. The
// bridge owns its own connection: advisory availability never gates
// the tutoring session.
package advisory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/tutorlink/tutorlink/internal/logx"
	"github.com/tutorlink/tutorlink/internal/transport"
	"github.com/tutorlink/tutorlink/internal/wire"
)

// Sender is the slice of the session transport the bridge talks to.
type Sender interface {
	Send(parts []wire.Part, turnComplete bool)
}

// Config tunes the bridge connection.
type Config struct {
	// URL of the advisory service websocket.
	URL string
	// SessionID announced in the hello message.
	SessionID string
	// MaxAttempts caps reconnection. After the cap the bridge stays
	// down until the owning session is rebuilt.
	MaxAttempts int
	// RetryDelay is the backoff unit: attempt n waits n × RetryDelay.
	RetryDelay time.Duration
}

// DefaultConfig returns the bridge retry policy defaults.
func DefaultConfig() Config {
	return Config{MaxAttempts: 5, RetryDelay: 2 * time.Second}
}

// message is the advisory wire format, both directions.
type message struct {
	Type      string    `json:"type"`
	SessionID string    `json:"sessionId,omitempty"`
	Text      string    `json:"text,omitempty"`
	Level     string    `json:"level,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Bridge maintains the advisory connection. At most one injected
// prompt is active at a time; the next one is accepted only after the
// session reports a turn boundary.
type Bridge struct {
	cfg    Config
	sender Sender
	dial   transport.Dialer
	after  func(time.Duration) <-chan time.Time

	mu        sync.Mutex
	wmu       sync.Mutex
	conn      transport.Conn
	injecting bool
}

// New creates a bridge. Start must be called to connect.
func New(cfg Config, sender Sender) *Bridge {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultConfig().RetryDelay
	}
	return &Bridge{cfg: cfg, sender: sender, dial: transport.DialWebsocket, after: time.After}
}

// Start runs the connect/read/backoff loop until ctx is cancelled or
// the attempt cap is exhausted. Run it on its own goroutine.
func (b *Bridge) Start(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		attempt++
		if attempt > b.cfg.MaxAttempts {
			logx.Log.Warn().Int("attempts", b.cfg.MaxAttempts).Msg("advisory bridge giving up")
			return
		}
		conn, err := b.dial(ctx, b.cfg.URL)
		if err != nil {
			logx.Log.Warn().Err(err).Int("attempt", attempt).Msg("advisory dial failed")
			if !b.wait(ctx, attempt) {
				return
			}
			continue
		}
		if err := b.handshake(ctx, conn); err != nil {
			conn.Close()
			if !b.wait(ctx, attempt) {
				return
			}
			continue
		}
		attempt = 0
		b.serve(ctx, conn)
	}
}

// Mirror forwards the text parts of a model content event. Non-text
// parts are dropped; mirroring while disconnected is a silent no-op.
func (b *Bridge) Mirror(parts []wire.Part) {
	var text string
	for _, p := range parts {
		if p.Text != "" {
			text += p.Text
		}
	}
	if text == "" {
		return
	}
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return
	}
	if err := b.write(conn, message{Type: "mirror", Text: text, Timestamp: time.Now().UTC()}); err != nil {
		logx.Log.Warn().Err(err).Msg("advisory mirror failed")
	}
}

// TurnComplete clears the active injection, admitting the next one.
// Wire it to the transport's turn-complete event.
func (b *Bridge) TurnComplete() {
	b.mu.Lock()
	b.injecting = false
	b.mu.Unlock()
}

func (b *Bridge) wait(ctx context.Context, attempt int) bool {
	select {
	case <-b.after(time.Duration(attempt) * b.cfg.RetryDelay):
		return true
	case <-ctx.Done():
		return false
	}
}

func (b *Bridge) handshake(ctx context.Context, conn transport.Conn) error {
	return b.write(conn, message{Type: "hello", SessionID: b.cfg.SessionID, Timestamp: time.Now().UTC()})
}

func (b *Bridge) serve(ctx context.Context, conn transport.Conn) {
	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()
	logx.Log.Info().Str("session", b.cfg.SessionID).Msg("advisory bridge connected")

	defer func() {
		b.mu.Lock()
		b.conn = nil
		b.mu.Unlock()
		conn.Close()
	}()

	for {
		data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logx.Log.Warn().Err(err).Msg("advisory connection lost")
			}
			return
		}
		b.handle(data)
	}
}

func (b *Bridge) handle(data []byte) {
	msg, err := decode(data)
	if err != nil {
		logx.Log.Warn().Err(err).Msg("malformed advisory message")
		return
	}
	switch msg.Type {
	case "inject":
		if msg.Text == "" {
			return
		}
		b.mu.Lock()
		if b.injecting {
			b.mu.Unlock()
			logx.Log.Debug().Msg("dropping advisory injection, one already active")
			return
		}
		b.injecting = true
		b.mu.Unlock()
		b.sender.Send([]wire.Part{{Text: msg.Text}}, true)
	case "event":
		logx.Log.Info().Str("level", msg.Level).Str("message", msg.Message).Msg("advisory event")
	default:
		logx.Log.Debug().Str("type", msg.Type).Msg("unknown advisory message")
	}
}

func (b *Bridge) write(conn transport.Conn, msg message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b.wmu.Lock()
	defer b.wmu.Unlock()
	return conn.Write(ctx, data)
}

func decode(data []byte) (message, error) {
	var m message
	err := json.Unmarshal(data, &m)
	return m, err
}
