// Package transport implements the client side of the relay control
// connection: a small connect/disconnect state machine, outbound
// envelope framing and inbound demultiplexing into typed events.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/tutorlink/tutorlink/internal/logx"
	"github.com/tutorlink/tutorlink/internal/metrics"
	"github.com/tutorlink/tutorlink/internal/wire"
)

// Status is the session state.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Events is the typed fan-out for inbound traffic. Any handler may be
// nil. Handlers run on the transport's read goroutine and must not
// block; inbound payloads are delivered in arrival order, and audio
// parts of a payload are delivered before its residual content event.
type Events struct {
	OnOpen                 func()
	OnSetupComplete        func()
	OnContent              func(parts []wire.Part)
	OnAudio                func(pcm []byte)
	OnToolCall             func(tc wire.ToolCall)
	OnToolCallCancellation func(tc wire.ToolCallCancellation)
	OnTurnComplete         func()
	OnInterrupted          func()
	OnError                func(err error)
	OnClose                func(reason string)
}

// Client owns the control connection. At most one session is live at a
// time; Connect while connecting or connected is refused.
//
// Outbound multiplexing policy: a single writer goroutine drains two
// queues, audio-bearing envelopes strictly before anything else, so a
// backlog of image frames never delays microphone chunks.
type Client struct {
	url  string
	dial Dialer
	ev   Events

	// wmu serializes writes to the connection: the writer goroutine
	// and the disconnect-envelope dispatch in teardown.
	wmu sync.Mutex

	mu      sync.Mutex
	status  Status
	conn    Conn
	done    chan struct{}
	wake    chan struct{}
	audioQ  []wire.Envelope
	otherQ  []wire.Envelope
	lastErr error
	opened  time.Time
}

// New creates a disconnected client for the given relay URL.
func New(url string, ev Events) *Client {
	return &Client{url: url, dial: DialWebsocket, ev: ev}
}

// Status returns the current session state.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// LastError returns the error recorded at the last teardown, if any.
func (c *Client) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Connect opens the control connection and dispatches the connect
// envelope. It returns false without side effects when a session is
// already connecting or connected, and false after tearing down when
// the dial or handshake dispatch fails. Connection completion is
// signaled asynchronously through OnOpen.
func (c *Client) Connect(ctx context.Context, cfg wire.SessionConfig) bool {
	c.mu.Lock()
	if c.status != StatusDisconnected {
		c.mu.Unlock()
		return false
	}
	c.status = StatusConnecting
	c.lastErr = nil
	c.mu.Unlock()

	conn, err := c.dial(ctx, c.url)
	if err != nil {
		logx.Log.Error().Err(err).Str("url", c.url).Msg("relay dial failed")
		c.mu.Lock()
		c.status = StatusDisconnected
		c.lastErr = err
		c.mu.Unlock()
		metrics.RecordSessionOpen(false)
		c.emitError(err)
		return false
	}

	env := wire.Envelope{Type: wire.TypeConnect, Config: &cfg}
	data, _ := json.Marshal(env)
	if err := conn.Write(ctx, data); err != nil {
		conn.Close()
		c.mu.Lock()
		c.status = StatusDisconnected
		c.lastErr = err
		c.mu.Unlock()
		metrics.RecordSessionOpen(false)
		c.emitError(err)
		return false
	}
	metrics.RecordRelayMessage("outbound", wire.TypeConnect)

	done := make(chan struct{})
	wake := make(chan struct{}, 1)
	c.mu.Lock()
	c.conn = conn
	c.done = done
	c.wake = wake
	c.mu.Unlock()

	go c.readLoop(conn, done)
	go c.writeLoop(conn, done, wake)
	return true
}

// Disconnect sends a disconnect envelope, closes the connection and
// returns to disconnected. It reports false when already disconnected.
func (c *Client) Disconnect() bool {
	return c.teardown(nil, true)
}

// Send forwards a user text turn. Valid only while connected; dropped
// silently otherwise (at most once, no queueing across sessions).
func (c *Client) Send(parts []wire.Part, turnComplete bool) {
	if len(parts) == 0 {
		return
	}
	tc := turnComplete
	env := wire.Envelope{Type: wire.TypeSend, Parts: parts, TurnComplete: &tc}
	c.enqueue(env, false)
}

// SendRealtimeInput forwards captured media chunks, one envelope per
// chunk. It never blocks the caller; chunks sent while not connected
// are dropped.
func (c *Client) SendRealtimeInput(chunks []wire.MediaChunk) {
	for _, ch := range chunks {
		ch := ch
		kind := "image"
		if ch.IsAudio() {
			kind = "audio"
		}
		env := wire.Envelope{Type: wire.TypeRealtimeInput, Chunk: &ch}
		sent := c.enqueue(env, ch.IsAudio())
		metrics.RecordChunk(kind, sent)
	}
}

// SendToolResponse forwards tool results verbatim. Empty responses and
// responses while not connected are dropped.
func (c *Client) SendToolResponse(resp wire.ToolResponse) {
	if len(resp.FunctionResponses) == 0 {
		return
	}
	env := wire.Envelope{Type: wire.TypeToolResponse, ToolResponse: &resp}
	c.enqueue(env, false)
}

// enqueue adds an outbound envelope to the writer queue. Audio-bearing
// envelopes drain before everything else.
func (c *Client) enqueue(env wire.Envelope, audio bool) bool {
	c.mu.Lock()
	if c.status != StatusConnected {
		c.mu.Unlock()
		return false
	}
	if audio {
		c.audioQ = append(c.audioQ, env)
	} else {
		c.otherQ = append(c.otherQ, env)
	}
	wake := c.wake
	c.mu.Unlock()
	select {
	case wake <- struct{}{}:
	default:
	}
	return true
}

// pop removes the next outbound envelope, audio queue first.
func (c *Client) pop() (wire.Envelope, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.audioQ) > 0 {
		env := c.audioQ[0]
		c.audioQ = c.audioQ[1:]
		return env, true
	}
	if len(c.otherQ) > 0 {
		env := c.otherQ[0]
		c.otherQ = c.otherQ[1:]
		return env, true
	}
	return wire.Envelope{}, false
}

func (c *Client) writeLoop(conn Conn, done, wake chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-wake:
		}
		for {
			env, ok := c.pop()
			if !ok {
				break
			}
			data, err := json.Marshal(env)
			if err != nil {
				logx.Log.Error().Err(err).Str("type", env.Type).Msg("encode outbound envelope")
				continue
			}
			c.wmu.Lock()
			err = conn.Write(context.Background(), data)
			c.wmu.Unlock()
			if err != nil {
				select {
				case <-done:
				default:
					c.fail(err)
				}
				return
			}
			metrics.RecordRelayMessage("outbound", env.Type)
		}
	}
}

func (c *Client) readLoop(conn Conn, done chan struct{}) {
	for {
		data, err := conn.Read(context.Background())
		if err != nil {
			select {
			case <-done:
			default:
				c.fail(err)
			}
			return
		}
		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			logx.Log.Warn().Err(err).Msg("malformed relay envelope")
			continue
		}
		c.handleEnvelope(env)
	}
}

func (c *Client) handleEnvelope(env wire.Envelope) {
	metrics.RecordRelayMessage("inbound", env.Type)
	switch env.Type {
	case wire.TypeOpen:
		c.mu.Lock()
		if c.status != StatusConnecting {
			c.mu.Unlock()
			return
		}
		c.status = StatusConnected
		c.opened = time.Now()
		c.mu.Unlock()
		metrics.RecordSessionOpen(true)
		if c.ev.OnOpen != nil {
			c.ev.OnOpen()
		}
	case wire.TypeMessage:
		if c.Status() != StatusConnected {
			return
		}
		c.demux(env.Message)
	case wire.TypeError:
		err := errors.New(env.Error)
		logx.Log.Error().Str("error", env.Error).Msg("relay reported error")
		if c.Status() == StatusConnecting {
			metrics.RecordSessionOpen(false)
		}
		c.emitError(err)
		c.teardown(err, false)
	case wire.TypeClose:
		logx.Log.Info().Str("reason", env.Reason).Msg("relay closed session")
		if c.ev.OnClose != nil {
			c.ev.OnClose(env.Reason)
		}
		c.teardown(nil, false)
	default:
		logx.Log.Warn().Str("type", env.Type).Msg("unknown relay envelope type")
	}
}

// demux decodes one vendor payload. A malformed payload is logged and
// skipped; it never terminates the connection.
func (c *Client) demux(raw json.RawMessage) {
	var msg wire.ServerMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		logx.Log.Warn().Err(err).Msg("malformed vendor payload")
		return
	}
	switch {
	case msg.SetupComplete != nil:
		if c.ev.OnSetupComplete != nil {
			c.ev.OnSetupComplete()
		}
	case msg.ToolCall != nil:
		if c.ev.OnToolCall != nil {
			c.ev.OnToolCall(*msg.ToolCall)
		}
	case msg.ToolCallCancellation != nil:
		if c.ev.OnToolCallCancellation != nil {
			c.ev.OnToolCallCancellation(*msg.ToolCallCancellation)
		}
	case msg.ServerContent != nil:
		c.demuxContent(msg.ServerContent)
	default:
		logx.Log.Debug().Msg("vendor payload with no known field")
	}
}

// demuxContent applies the content rules: interrupted suppresses the
// rest of the payload; audio parts are emitted first, in part order;
// the remaining parts form a single content event; turnComplete is
// additive and fires after the payload's parts.
func (c *Client) demuxContent(sc *wire.ServerContent) {
	if sc.Interrupted {
		if c.ev.OnInterrupted != nil {
			c.ev.OnInterrupted()
		}
		return
	}
	if sc.ModelTurn != nil {
		var rest []wire.Part
		for _, p := range sc.ModelTurn.Parts {
			if p.IsAudio() {
				pcm, err := wire.MediaChunk{MimeType: p.InlineData.MimeType, Data: p.InlineData.Data}.Bytes()
				if err != nil {
					logx.Log.Warn().Err(err).Msg("undecodable audio part")
					continue
				}
				if c.ev.OnAudio != nil {
					c.ev.OnAudio(pcm)
				}
				continue
			}
			rest = append(rest, p)
		}
		if len(rest) > 0 && c.ev.OnContent != nil {
			c.ev.OnContent(rest)
		}
	}
	if sc.TurnComplete && c.ev.OnTurnComplete != nil {
		c.ev.OnTurnComplete()
	}
}

func (c *Client) emitError(err error) {
	if c.ev.OnError != nil {
		c.ev.OnError(err)
	}
}

// fail handles a transport fault: error event, then teardown.
func (c *Client) fail(err error) {
	logx.Log.Error().Err(err).Msg("control connection failed")
	c.emitError(err)
	c.teardown(err, false)
}

// teardown moves to disconnected, stops both loops and closes the
// connection. sendBye additionally dispatches a disconnect envelope
// first, which is the user-initiated path.
func (c *Client) teardown(cause error, sendBye bool) bool {
	c.mu.Lock()
	if c.status == StatusDisconnected {
		c.mu.Unlock()
		return false
	}
	conn := c.conn
	done := c.done
	wasConnected := c.status == StatusConnected
	opened := c.opened
	c.status = StatusDisconnected
	c.conn = nil
	c.done = nil
	c.wake = nil
	c.audioQ = nil
	c.otherQ = nil
	if cause != nil {
		c.lastErr = cause
	}
	c.mu.Unlock()

	if done != nil {
		close(done)
	}
	if conn != nil {
		if sendBye {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			data, _ := json.Marshal(wire.Envelope{Type: wire.TypeDisconnect})
			c.wmu.Lock()
			err := conn.Write(ctx, data)
			c.wmu.Unlock()
			if err == nil {
				metrics.RecordRelayMessage("outbound", wire.TypeDisconnect)
			}
			cancel()
		}
		conn.Close()
	}
	if wasConnected {
		metrics.RecordSessionClose(time.Since(opened))
	}
	return true
}
