package transport

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/tutorlink/tutorlink/internal/wire"
)

// spyConn records outbound frames and lets tests feed inbound ones.
type spyConn struct {
	mu     sync.Mutex
	writes []wire.Envelope

	inbound chan []byte
	closed  chan struct{}
	once    sync.Once
}

func newSpyConn() *spyConn {
	return &spyConn{inbound: make(chan []byte, 16), closed: make(chan struct{})}
}

func (s *spyConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case d := <-s.inbound:
		return d, nil
	case <-s.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *spyConn) Write(ctx context.Context, data []byte) error {
	var env wire.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	s.mu.Lock()
	s.writes = append(s.writes, env)
	s.mu.Unlock()
	return nil
}

func (s *spyConn) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *spyConn) sent() []wire.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]wire.Envelope, len(s.writes))
	copy(out, s.writes)
	return out
}

// push delivers a relay envelope to the client's read loop.
func (s *spyConn) push(t *testing.T, env wire.Envelope) {
	t.Helper()
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s.inbound <- data
}

func serverPayload(t *testing.T, msg wire.ServerMessage) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

// newTestClient wires a client to a fresh spy connection and counts dials.
func newTestClient(ev Events) (*Client, *spyConn, *int) {
	spy := newSpyConn()
	dials := 0
	c := New("ws://test", ev)
	c.dial = func(ctx context.Context, url string) (Conn, error) {
		dials++
		return spy, nil
	}
	return c, spy, &dials
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func connectAndOpen(t *testing.T, c *Client, spy *spyConn) {
	t.Helper()
	if !c.Connect(context.Background(), wire.SessionConfig{Model: "models/test"}) {
		t.Fatal("connect refused")
	}
	spy.push(t, wire.Envelope{Type: wire.TypeOpen})
	waitFor(t, "connected", func() bool { return c.Status() == StatusConnected })
}

func TestConnectTwiceKeepsSingleSession(t *testing.T) {
	c, spy, dials := newTestClient(Events{})
	if !c.Connect(context.Background(), wire.SessionConfig{}) {
		t.Fatal("first connect refused")
	}
	if c.Connect(context.Background(), wire.SessionConfig{}) {
		t.Fatal("second connect accepted")
	}
	if *dials != 1 {
		t.Fatalf("dials = %d, want 1", *dials)
	}
	if got := len(spy.sent()); got != 1 {
		t.Fatalf("outbound envelopes = %d, want 1 connect", got)
	}
	c.Disconnect()
}

func TestSendsDroppedWhileDisconnected(t *testing.T) {
	c, spy, _ := newTestClient(Events{})
	connectAndOpen(t, c, spy)
	if !c.Disconnect() {
		t.Fatal("disconnect refused")
	}
	before := len(spy.sent())

	c.Send([]wire.Part{{Text: "hello"}}, true)
	c.SendRealtimeInput([]wire.MediaChunk{wire.NewAudioChunk([]byte{1, 2})})
	c.SendToolResponse(wire.ToolResponse{FunctionResponses: []wire.FunctionResponse{{ID: "1"}}})

	time.Sleep(20 * time.Millisecond)
	if got := len(spy.sent()); got != before {
		t.Fatalf("envelopes after disconnect: %d, want %d", got, before)
	}
	if c.Disconnect() {
		t.Fatal("second disconnect reported work")
	}
}

func TestDisconnectSendsByeEnvelope(t *testing.T) {
	c, spy, _ := newTestClient(Events{})
	connectAndOpen(t, c, spy)
	c.Disconnect()
	envs := spy.sent()
	last := envs[len(envs)-1]
	if last.Type != wire.TypeDisconnect {
		t.Fatalf("last envelope type = %q", last.Type)
	}
	if c.Status() != StatusDisconnected {
		t.Fatalf("status = %v", c.Status())
	}
}

func TestRealtimeInputOneEnvelopePerChunk(t *testing.T) {
	c, spy, _ := newTestClient(Events{})
	connectAndOpen(t, c, spy)
	c.SendRealtimeInput([]wire.MediaChunk{
		wire.NewAudioChunk([]byte{1}),
		wire.NewImageChunk([]byte{2}),
	})
	waitFor(t, "both chunks written", func() bool { return len(spy.sent()) >= 3 })
	envs := spy.sent()[1:] // skip connect
	for _, env := range envs {
		if env.Type != wire.TypeRealtimeInput || env.Chunk == nil {
			t.Fatalf("unexpected envelope %+v", env)
		}
	}
	c.Disconnect()
}

func TestAudioDrainsBeforeImages(t *testing.T) {
	c, _, _ := newTestClient(Events{})
	c.status = StatusConnected
	c.wake = make(chan struct{}, 1)

	img := wire.NewImageChunk([]byte{9})
	aud := wire.NewAudioChunk([]byte{1})
	c.enqueue(wire.Envelope{Type: wire.TypeRealtimeInput, Chunk: &img}, false)
	c.enqueue(wire.Envelope{Type: wire.TypeRealtimeInput, Chunk: &aud}, true)

	first, ok := c.pop()
	if !ok || !first.Chunk.IsAudio() {
		t.Fatalf("first drained chunk = %+v", first)
	}
	second, ok := c.pop()
	if !ok || second.Chunk.IsAudio() {
		t.Fatalf("second drained chunk = %+v", second)
	}
	if _, ok := c.pop(); ok {
		t.Fatal("queue not empty")
	}
}

func TestDemuxAudioPartsThenContent(t *testing.T) {
	var audio [][]byte
	var contents [][]wire.Part
	order := []string{}
	c, spy, _ := newTestClient(Events{
		OnAudio: func(pcm []byte) {
			audio = append(audio, pcm)
			order = append(order, "audio")
		},
		OnContent: func(parts []wire.Part) {
			contents = append(contents, parts)
			order = append(order, "content")
		},
	})
	connectAndOpen(t, c, spy)

	payload := serverPayload(t, wire.ServerMessage{ServerContent: &wire.ServerContent{
		ModelTurn: &wire.Content{Parts: []wire.Part{
			{InlineData: &wire.Blob{MimeType: "audio/pcm", Data: "AQA="}},
			{InlineData: &wire.Blob{MimeType: "audio/pcm", Data: "AgA="}},
			{Text: "answer"},
		}},
	}})
	spy.push(t, wire.Envelope{Type: wire.TypeMessage, Message: payload})

	waitFor(t, "demux", func() bool { return len(contents) == 1 })
	if len(audio) != 2 {
		t.Fatalf("audio events = %d, want 2", len(audio))
	}
	if audio[0][0] != 1 || audio[1][0] != 2 {
		t.Fatal("audio parts out of order")
	}
	if len(order) != 3 || order[2] != "content" {
		t.Fatalf("event order = %v", order)
	}
	if len(contents[0]) != 1 || contents[0][0].Text != "answer" {
		t.Fatalf("content parts = %+v", contents[0])
	}
	c.Disconnect()
}

func TestInterruptedSuppressesPayload(t *testing.T) {
	interrupted := 0
	emitted := 0
	c, spy, _ := newTestClient(Events{
		OnInterrupted:  func() { interrupted++ },
		OnAudio:        func([]byte) { emitted++ },
		OnContent:      func([]wire.Part) { emitted++ },
		OnTurnComplete: func() { emitted++ },
	})
	connectAndOpen(t, c, spy)

	payload := serverPayload(t, wire.ServerMessage{ServerContent: &wire.ServerContent{
		Interrupted:  true,
		TurnComplete: true,
		ModelTurn: &wire.Content{Parts: []wire.Part{
			{InlineData: &wire.Blob{MimeType: "audio/pcm", Data: "AQA="}},
			{Text: "abandoned"},
		}},
	}})
	spy.push(t, wire.Envelope{Type: wire.TypeMessage, Message: payload})

	waitFor(t, "interrupted", func() bool { return interrupted == 1 })
	if emitted != 0 {
		t.Fatalf("events emitted alongside interrupted: %d", emitted)
	}
	c.Disconnect()
}

func TestTurnCompleteIsAdditive(t *testing.T) {
	var order []string
	c, spy, _ := newTestClient(Events{
		OnContent:      func([]wire.Part) { order = append(order, "content") },
		OnTurnComplete: func() { order = append(order, "turncomplete") },
	})
	connectAndOpen(t, c, spy)

	payload := serverPayload(t, wire.ServerMessage{ServerContent: &wire.ServerContent{
		TurnComplete: true,
		ModelTurn:    &wire.Content{Parts: []wire.Part{{Text: "done"}}},
	}})
	spy.push(t, wire.Envelope{Type: wire.TypeMessage, Message: payload})

	waitFor(t, "turncomplete", func() bool { return len(order) == 2 })
	if order[0] != "content" || order[1] != "turncomplete" {
		t.Fatalf("order = %v", order)
	}
	c.Disconnect()
}

func TestMalformedPayloadDoesNotKillConnection(t *testing.T) {
	setups := 0
	c, spy, _ := newTestClient(Events{OnSetupComplete: func() { setups++ }})
	connectAndOpen(t, c, spy)

	spy.inbound <- []byte("{not json")
	spy.push(t, wire.Envelope{Type: wire.TypeMessage, Message: json.RawMessage(`"not an object"`)})
	spy.push(t, wire.Envelope{Type: wire.TypeMessage, Message: serverPayload(t, wire.ServerMessage{SetupComplete: &wire.SetupComplete{}})})

	waitFor(t, "setupComplete after garbage", func() bool { return setups == 1 })
	if c.Status() != StatusConnected {
		t.Fatalf("status = %v", c.Status())
	}
	c.Disconnect()
}

func TestRelayErrorLandsDisconnected(t *testing.T) {
	var errs []error
	c, spy, _ := newTestClient(Events{OnError: func(err error) { errs = append(errs, err) }})
	connectAndOpen(t, c, spy)

	spy.push(t, wire.Envelope{Type: wire.TypeError, Error: "vendor refused"})
	waitFor(t, "disconnected", func() bool { return c.Status() == StatusDisconnected })
	waitFor(t, "error event", func() bool { return len(errs) == 1 })
	if c.LastError() == nil {
		t.Fatal("last error not recorded")
	}
}

func TestRelayCloseEmitsReason(t *testing.T) {
	var reasons []string
	c, spy, _ := newTestClient(Events{OnClose: func(r string) { reasons = append(reasons, r) }})
	connectAndOpen(t, c, spy)

	spy.push(t, wire.Envelope{Type: wire.TypeClose, Reason: "session expired"})
	waitFor(t, "closed", func() bool { return c.Status() == StatusDisconnected })
	waitFor(t, "close event", func() bool { return len(reasons) == 1 })
	if reasons[0] != "session expired" {
		t.Fatalf("reason = %q", reasons[0])
	}
}

func TestToolCallForwardedVerbatim(t *testing.T) {
	var calls []wire.ToolCall
	c, spy, _ := newTestClient(Events{OnToolCall: func(tc wire.ToolCall) { calls = append(calls, tc) }})
	connectAndOpen(t, c, spy)

	payload := serverPayload(t, wire.ServerMessage{ToolCall: &wire.ToolCall{
		FunctionCalls: []wire.FunctionCall{{ID: "c1", Name: "lookup", Args: json.RawMessage(`{"q":"x"}`)}},
	}})
	spy.push(t, wire.Envelope{Type: wire.TypeMessage, Message: payload})

	waitFor(t, "tool call", func() bool { return len(calls) == 1 })
	if calls[0].FunctionCalls[0].Name != "lookup" {
		t.Fatalf("call = %+v", calls[0])
	}
	c.Disconnect()
}
