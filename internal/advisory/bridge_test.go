package advisory

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/tutorlink/tutorlink/internal/transport"
	"github.com/tutorlink/tutorlink/internal/wire"
)

type fakeSender struct {
	mu    sync.Mutex
	sends []string
}

func (f *fakeSender) Send(parts []wire.Part, turnComplete bool) {
	f.mu.Lock()
	f.sends = append(f.sends, parts[0].Text)
	f.mu.Unlock()
}

func (f *fakeSender) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sends))
	copy(out, f.sends)
	return out
}

type fakeConn struct {
	mu      sync.Mutex
	writes  []message
	inbound chan []byte
	closed  chan struct{}
	once    sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 8), closed: make(chan struct{})}
}

func (f *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case d := <-f.inbound:
		return d, nil
	case <-f.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeConn) Write(ctx context.Context, data []byte) error {
	var m message
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	f.mu.Lock()
	f.writes = append(f.writes, m)
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) sent() []message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]message, len(f.writes))
	copy(out, f.writes)
	return out
}

func (f *fakeConn) push(t *testing.T, m message) {
	t.Helper()
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	f.inbound <- data
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

func TestGivesUpAfterAttemptCap(t *testing.T) {
	cfg := Config{URL: "ws://advisory", SessionID: "s1", MaxAttempts: 3, RetryDelay: 2 * time.Second}
	b := New(cfg, &fakeSender{})

	dials := 0
	b.dial = func(ctx context.Context, url string) (transport.Conn, error) {
		dials++
		return nil, errors.New("refused")
	}
	fired := make(chan time.Time)
	close(fired)
	var delays []time.Duration
	b.after = func(d time.Duration) <-chan time.Time {
		delays = append(delays, d)
		return fired
	}

	b.Start(context.Background())

	if dials != 3 {
		t.Fatalf("dials = %d, want 3", dials)
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second, 6 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v", delays)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Fatalf("delay[%d] = %v, want %v", i, delays[i], want[i])
		}
	}
}

func TestHelloAnnouncesSession(t *testing.T) {
	conn := newFakeConn()
	b := New(Config{URL: "ws://advisory", SessionID: "sess-42"}, &fakeSender{})
	b.dial = func(ctx context.Context, url string) (transport.Conn, error) { return conn, nil }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Start(ctx)

	waitFor(t, "hello", func() bool { return len(conn.sent()) == 1 })
	hello := conn.sent()[0]
	if hello.Type != "hello" || hello.SessionID != "sess-42" {
		t.Fatalf("hello = %+v", hello)
	}
}

func TestInjectForwardsOneTurnAtATime(t *testing.T) {
	conn := newFakeConn()
	sender := &fakeSender{}
	b := New(Config{URL: "ws://advisory", SessionID: "s"}, sender)
	b.dial = func(ctx context.Context, url string) (transport.Conn, error) { return conn, nil }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Start(ctx)
	waitFor(t, "connected", func() bool { return len(conn.sent()) == 1 })

	conn.push(t, message{Type: "inject", Text: "try a hint"})
	waitFor(t, "first injection", func() bool { return len(sender.texts()) == 1 })

	// A second injection before the turn boundary is dropped.
	conn.push(t, message{Type: "inject", Text: "too soon"})
	time.Sleep(20 * time.Millisecond)
	if got := sender.texts(); len(got) != 1 {
		t.Fatalf("sends = %v", got)
	}

	b.TurnComplete()
	conn.push(t, message{Type: "inject", Text: "next hint"})
	waitFor(t, "second injection", func() bool { return len(sender.texts()) == 2 })
	if got := sender.texts(); got[1] != "next hint" {
		t.Fatalf("sends = %v", got)
	}
}

func TestMirrorSendsTextOnly(t *testing.T) {
	conn := newFakeConn()
	b := New(Config{URL: "ws://advisory", SessionID: "s"}, &fakeSender{})
	b.dial = func(ctx context.Context, url string) (transport.Conn, error) { return conn, nil }

	// Disconnected mirror is a silent no-op.
	b.Mirror([]wire.Part{{Text: "dropped"}})
	if len(conn.sent()) != 0 {
		t.Fatal("mirror wrote while disconnected")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Start(ctx)
	waitFor(t, "connected", func() bool { return len(conn.sent()) == 1 })

	b.Mirror([]wire.Part{
		{Text: "the answer "},
		{InlineData: &wire.Blob{MimeType: "audio/pcm", Data: "AQA="}},
		{Text: "is 4"},
	})
	waitFor(t, "mirror", func() bool { return len(conn.sent()) == 2 })
	m := conn.sent()[1]
	if m.Type != "mirror" || m.Text != "the answer is 4" {
		t.Fatalf("mirror = %+v", m)
	}

	// Audio-only content mirrors nothing.
	b.Mirror([]wire.Part{{InlineData: &wire.Blob{MimeType: "audio/pcm", Data: "AQA="}}})
	time.Sleep(20 * time.Millisecond)
	if len(conn.sent()) != 2 {
		t.Fatal("audio-only content was mirrored")
	}
}
