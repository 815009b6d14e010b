// Package relaysrv is the relay daemon: it accepts control connections
// from clients, opens one vendor session per connection and forwards
// envelopes both ways. It is the only process that holds the vendor
// API key.
package relaysrv

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tutorlink/tutorlink/internal/config"
	"github.com/tutorlink/tutorlink/internal/logx"
	"github.com/tutorlink/tutorlink/internal/metrics"
	"github.com/tutorlink/tutorlink/internal/relaystate"
	"github.com/tutorlink/tutorlink/internal/vendorws"
	"github.com/tutorlink/tutorlink/internal/wire"
)

// defaultSystemInstruction is injected when the client's connect
// envelope carries no system instruction of its own.
const defaultSystemInstruction = "You are a patient, encouraging tutor. " +
	"Work through problems step by step, ask the student to attempt each " +
	"step before revealing it, and keep explanations short and concrete."

// connectTimeout bounds the wait for the client's connect envelope.
const connectTimeout = 10 * time.Second

// vendorSession is the slice of vendorws.Session the relay uses;
// tests substitute a recorder.
type vendorSession interface {
	SendRealtimeInput(ctx context.Context, chunks []wire.MediaChunk) error
	SendClientContent(ctx context.Context, turns []wire.Content, turnComplete bool) error
	SendToolResponse(ctx context.Context, resp wire.ToolResponse) error
	Close()
}

type vendorDialer func(ctx context.Context, cfg vendorws.Config, setup wire.Setup, cb vendorws.Callbacks) (vendorSession, error)

// Server holds the relay's routes and vendor credentials.
type Server struct {
	cfg   config.RelayConfig
	store relaystate.Store
	dial  vendorDialer
}

// New creates a relay server over the given session store.
func New(cfg config.RelayConfig, store relaystate.Store) *Server {
	return &Server{
		cfg:   cfg,
		store: store,
		dial: func(ctx context.Context, vcfg vendorws.Config, setup wire.Setup, cb vendorws.Callbacks) (vendorSession, error) {
			return vendorws.Dial(ctx, vcfg, setup, cb)
		},
	}
}

// Router returns the relay's HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))
	r.Get("/healthz", s.handleHealthz)
	r.Get("/state", s.handleState)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/live", s.handleLive)
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"sessions": s.store.List()})
}

// authorized checks the shared client key when one is configured.
func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.ClientKey == "" {
		return true
	}
	if r.Header.Get("Authorization") == "Bearer "+s.cfg.ClientKey {
		return true
	}
	return r.URL.Query().Get("key") == s.cfg.ClientKey
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.cfg.AllowedOrigins})
	if err != nil {
		logx.Log.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	conn.SetReadLimit(16 << 20)

	id := uuid.NewString()
	log := logx.Log.With().Str("session", id).Logger()
	cw := &controlWriter{conn: conn}
	defer conn.CloseNow()

	ctx, cancel := context.WithTimeout(r.Context(), connectTimeout)
	env, err := readEnvelope(ctx, conn)
	cancel()
	if err != nil || env.Type != wire.TypeConnect {
		log.Warn().Err(err).Msg("no connect envelope")
		_ = cw.write(wire.Envelope{Type: wire.TypeError, Error: "expected connect envelope"})
		return
	}

	sc := wire.SessionConfig{}
	if env.Config != nil {
		sc = *env.Config
	}
	setup := s.buildSetup(sc)

	s.store.Put(relaystate.Session{ID: id, Model: setup.Model, Status: relaystate.StatusConnecting, StartedAt: time.Now()})
	defer s.store.Remove(id)

	sess, err := s.dial(r.Context(), vendorws.Config{URL: s.cfg.VendorURL, APIKey: s.cfg.VendorKey}, setup, vendorws.Callbacks{
		OnMessage: func(raw json.RawMessage) {
			metrics.RecordRelayMessage("vendor", wire.TypeMessage)
			_ = cw.write(wire.Envelope{Type: wire.TypeMessage, Message: raw})
		},
		OnError: func(err error) {
			log.Error().Err(err).Msg("vendor session error")
			_ = cw.write(wire.Envelope{Type: wire.TypeError, Error: err.Error()})
		},
		OnClose: func(reason string) {
			log.Info().Str("reason", reason).Msg("vendor session closed")
			_ = cw.write(wire.Envelope{Type: wire.TypeClose, Reason: reason})
		},
	})
	if err != nil {
		log.Error().Err(err).Msg("vendor dial failed")
		metrics.RecordSessionOpen(false)
		_ = cw.write(wire.Envelope{Type: wire.TypeError, Error: err.Error()})
		return
	}
	defer sess.Close()

	opened := time.Now()
	metrics.RecordSessionOpen(true)
	defer func() { metrics.RecordSessionClose(time.Since(opened)) }()
	s.store.Put(relaystate.Session{ID: id, Model: setup.Model, Status: relaystate.StatusConnected, StartedAt: opened})
	if err := cw.write(wire.Envelope{Type: wire.TypeOpen}); err != nil {
		return
	}
	log.Info().Str("model", setup.Model).Msg("session open")

	// Forwarding loop. No buffering, no retries: a bad read ends the
	// session, a bad vendor write surfaces as an error envelope.
	for {
		_, data, err := conn.Read(r.Context())
		if err != nil {
			log.Info().Err(err).Msg("control connection closed")
			return
		}
		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn().Err(err).Msg("malformed client envelope")
			continue
		}
		metrics.RecordRelayMessage("client", env.Type)
		switch env.Type {
		case wire.TypeRealtimeInput:
			if env.Chunk == nil {
				continue
			}
			err = sess.SendRealtimeInput(r.Context(), []wire.MediaChunk{*env.Chunk})
		case wire.TypeSend:
			tc := true
			if env.TurnComplete != nil {
				tc = *env.TurnComplete
			}
			turn := wire.Content{Role: "user", Parts: env.Parts}
			err = sess.SendClientContent(r.Context(), []wire.Content{turn}, tc)
		case wire.TypeToolResponse:
			if env.ToolResponse == nil {
				continue
			}
			err = sess.SendToolResponse(r.Context(), *env.ToolResponse)
		case wire.TypeDisconnect:
			log.Info().Msg("client disconnected")
			return
		default:
			log.Warn().Str("type", env.Type).Msg("unexpected client envelope")
			continue
		}
		if err != nil {
			log.Error().Err(err).Str("type", env.Type).Msg("vendor forward failed")
			_ = cw.write(wire.Envelope{Type: wire.TypeError, Error: err.Error()})
			return
		}
	}
}

// buildSetup maps the client's session config onto the vendor setup,
// filling in the relay's defaults.
func (s *Server) buildSetup(sc wire.SessionConfig) wire.Setup {
	setup := wire.Setup{Model: sc.Model, Tools: sc.Tools}
	if setup.Model == "" {
		setup.Model = s.cfg.Model
	}
	instr := sc.SystemInstruction
	if instr == "" {
		instr = defaultSystemInstruction
	}
	setup.SystemInstruction = &wire.Content{Parts: []wire.Part{{Text: instr}}}
	if len(sc.ResponseModalities) > 0 {
		gc, _ := json.Marshal(map[string]any{"responseModalities": sc.ResponseModalities})
		setup.GenerationConfig = gc
	}
	return setup
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (wire.Envelope, error) {
	var env wire.Envelope
	_, data, err := conn.Read(ctx)
	if err != nil {
		return env, err
	}
	err = json.Unmarshal(data, &env)
	return env, err
}

// controlWriter serializes envelope writes to the control connection;
// vendor callbacks and the handler goroutine both write through it.
type controlWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *controlWriter) write(env wire.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Write(ctx, websocket.MessageText, data)
}
