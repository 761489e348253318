package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/room4-2/ordercall/config"
	"github.com/room4-2/ordercall/dialogue"
	"github.com/room4-2/ordercall/gemini"
	"github.com/room4-2/ordercall/logging"
	"github.com/room4-2/ordercall/order"
	"github.com/room4-2/ordercall/session"
	"github.com/room4-2/ordercall/store"
)

// Synthesizer speaks assistant lines on the voice channel
type Synthesizer interface {
	Synthesize(ctx context.Context, text, language string) (gemini.Audio, error)
}

// Transcriber turns a buffered customer utterance into text
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType, language string) (string, error)
}

// History is the persisted call history read by /health and the history route
type History interface {
	Ping(ctx context.Context) error
	Session(ctx context.Context, sessionID string) (*store.SessionRecord, error)
	Messages(ctx context.Context, sessionID string) ([]dialogue.Message, error)
	Order(ctx context.Context, orderID string) (*order.Record, error)
}

type Server struct {
	httpServer      *http.Server
	upgrader        websocket.Upgrader
	sessions        *session.Manager
	config          *config.Config
	synth           Synthesizer
	transcriber     Transcriber
	history         History
	databaseEnabled bool
	logger          zerolog.Logger

	mu    sync.Mutex
	conns map[*voiceConn]struct{}
	wg    sync.WaitGroup
}

// Option configures a Server
type Option func(*Server)

// WithSpeech enables audio on the voice channel. Either side may be nil.
func WithSpeech(synth Synthesizer, transcriber Transcriber) Option {
	return func(s *Server) {
		s.synth = synth
		s.transcriber = transcriber
	}
}

// WithDatabase serves the persisted call history and checks it on /health
func WithDatabase(h History) Option {
	return func(s *Server) {
		s.history = h
		s.databaseEnabled = h != nil
	}
}

// WithLogger sets the server logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New builds the HTTP API and voice WebSocket server
func New(cfg *config.Config, sessions *session.Manager, opts ...Option) *Server {
	s := &Server{
		sessions: sessions,
		config:   cfg,
		logger:   zerolog.Nop(),
		conns:    make(map[*voiceConn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:   64 * 1024, // 64KB for audio chunks
		WriteBufferSize:  64 * 1024,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(cfg.AllowedOrigins, r.Header.Get("Origin"))
		},
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return s
}

// Handler returns the routed HTTP handler
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(logging.Middleware(s.logger))
	r.Use(cors(s.config.AllowedOrigins))

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		if s.config.RateLimitPerMinute > 0 {
			r.Use(rateLimit(s.config.RateLimitPerMinute, time.Minute))
		}
		r.Post("/start-call", s.handleStartCall)
		r.Get("/session/{id}", s.handleGetSession)
		r.Get("/session/{id}/history", s.handleHistory)
		r.Post("/session/{id}/process", s.handleProcess)
		r.Delete("/session/{id}", s.handleEndCall)
	})

	r.Get("/ws/voice/{id}", s.handleVoice)
	return r
}

// Start begins listening for connections. It returns nil after Shutdown.
func (s *Server) Start() error {
	s.logger.Info().
		Str("addr", s.httpServer.Addr).
		Bool("speech", s.synth != nil || s.transcriber != nil).
		Bool("database", s.databaseEnabled).
		Msg("server starting")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, hangs up every voice connection and
// ends the live sessions
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down server")
	err := s.httpServer.Shutdown(ctx)

	s.mu.Lock()
	for vc := range s.conns {
		vc.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}

	s.sessions.Shutdown(ctx)
	return err
}

func (s *Server) track(vc *voiceConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[vc] = struct{}{}
	s.wg.Add(1)
}

func (s *Server) untrack(vc *voiceConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[vc]; ok {
		delete(s.conns, vc)
		s.wg.Done()
	}
}
