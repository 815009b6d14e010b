// Package vendorws speaks the vendor's live websocket protocol. It is
// only imported by the relay: the API key and the vendor message
// framing never cross into the client transport.
package vendorws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/coder/websocket"

	"github.com/tutorlink/tutorlink/internal/logx"
	"github.com/tutorlink/tutorlink/internal/wire"
)

// Callbacks receive session lifecycle and traffic. OnMessage gets each
// decoded vendor payload verbatim; the relay forwards it opaquely.
// Handlers run on the session's read goroutine.
type Callbacks struct {
	OnMessage func(raw json.RawMessage)
	OnError   func(err error)
	OnClose   func(reason string)
}

// Config identifies the vendor endpoint.
type Config struct {
	// URL is the live endpoint without credentials.
	URL string
	// APIKey is appended as a query parameter on dial.
	APIKey string
}

// Session is one live vendor session. Writes are serialized; the
// receive loop runs until the connection drops or Close is called.
type Session struct {
	conn *websocket.Conn
	cb   Callbacks

	wmu  sync.Mutex
	done chan struct{}
	once sync.Once
}

// Dial opens the vendor connection and dispatches the setup message.
// The returned session is live; vendor acknowledgment (setupComplete)
// arrives through OnMessage.
func Dial(ctx context.Context, cfg Config, setup wire.Setup, cb Callbacks) (*Session, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("vendor url: %w", err)
	}
	q := u.Query()
	q.Set("key", cfg.APIKey)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("vendor dial: %w", err)
	}
	conn.SetReadLimit(16 << 20)

	s := &Session{conn: conn, cb: cb, done: make(chan struct{})}
	if err := s.write(ctx, wire.SetupMessage{Setup: setup}); err != nil {
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("vendor setup: %w", err)
	}
	go s.readLoop()
	return s, nil
}

// SendRealtimeInput forwards captured media chunks.
func (s *Session) SendRealtimeInput(ctx context.Context, chunks []wire.MediaChunk) error {
	return s.write(ctx, wire.RealtimeInputMessage{RealtimeInput: wire.RealtimeInput{MediaChunks: chunks}})
}

// SendClientContent forwards a user turn.
func (s *Session) SendClientContent(ctx context.Context, turns []wire.Content, turnComplete bool) error {
	return s.write(ctx, wire.ClientContentMessage{ClientContent: wire.ClientContent{Turns: turns, TurnComplete: turnComplete}})
}

// SendToolResponse forwards tool results.
func (s *Session) SendToolResponse(ctx context.Context, resp wire.ToolResponse) error {
	return s.write(ctx, wire.ToolResponseMessage{ToolResponse: resp})
}

// Close ends the session. Safe to call more than once; the read loop's
// resulting error is suppressed.
func (s *Session) Close() {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close(websocket.StatusNormalClosure, "")
	})
}

func (s *Session) write(ctx context.Context, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.conn.Write(ctx, websocket.MessageText, data)
}

func (s *Session) readLoop() {
	for {
		_, data, err := s.conn.Read(context.Background())
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				if s.cb.OnClose != nil {
					s.cb.OnClose(status.String())
				}
			} else if s.cb.OnError != nil {
				s.cb.OnError(err)
			}
			return
		}
		if !json.Valid(data) {
			logx.Log.Warn().Msg("vendor sent invalid JSON frame")
			continue
		}
		if s.cb.OnMessage != nil {
			s.cb.OnMessage(json.RawMessage(data))
		}
	}
}
