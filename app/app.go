// Package app assembles the call service from configuration: persistence,
// the classifier gateway, speech, the dialogue engine and the session
// registry.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/room4-2/ordercall/classifier"
	"github.com/room4-2/ordercall/config"
	"github.com/room4-2/ordercall/dialogue"
	"github.com/room4-2/ordercall/gemini"
	"github.com/room4-2/ordercall/logging"
	"github.com/room4-2/ordercall/server"
	"github.com/room4-2/ordercall/session"
	"github.com/room4-2/ordercall/store"
)

const (
	breakerThreshold = 3
	breakerReset     = 30 * time.Second
	shutdownTimeout  = 10 * time.Second
)

// App owns the long-lived pieces of the service
type App struct {
	Config      *config.Config
	Sessions    *session.Manager
	Store       *store.Store // nil when DATABASE_PATH is empty
	Synthesizer *gemini.Synthesizer
	Transcriber *gemini.Transcriber
	logger      zerolog.Logger
}

// New wires the service. Without GEMINI_API_KEY the classifier is
// keyword-only and the voice channel is text-only.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{
		Config: cfg,
		logger: logging.WithComponent("app"),
	}

	if cfg.DatabasePath != "" {
		st, err := store.Open(cfg.DatabasePath, store.DefaultOptions())
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		a.Store = st
	}

	gatewayOpts := []classifier.Option{
		classifier.WithTimeout(cfg.ClassifierTimeout),
		classifier.WithLogger(logging.WithComponent("classifier")),
	}
	if cfg.SpeechEnabled() {
		client, err := gemini.NewClient(ctx, cfg.GeminiAPIKey)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		gatewayOpts = append(gatewayOpts,
			classifier.WithOracle(gemini.NewClassifier(client, cfg.ClassifierModel)),
			classifier.WithBreaker(classifier.NewBreaker("gemini", breakerThreshold, breakerReset)),
		)
		a.Synthesizer = gemini.NewSynthesizer(client, cfg.SpeechModel, cfg.VoiceName)
		a.Transcriber = gemini.NewTranscriber(client, cfg.TranscribeModel)
	} else {
		a.logger.Warn().Msg("GEMINI_API_KEY not set, using keyword classifier without speech")
	}

	engine := dialogue.NewEngine(
		classifier.NewGateway(gatewayOpts...),
		dialogue.WithEngineLogger(logging.WithComponent("dialogue")),
	)

	sessionOpts := []session.Option{session.WithLogger(logging.WithComponent("session"))}
	if a.Store != nil {
		sessionOpts = append(sessionOpts, session.WithRecorder(a.Store))
	}
	sessions, err := session.NewManager(cfg, engine, sessionOpts...)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Sessions = sessions

	a.logger.Info().
		Bool("database", a.Store != nil).
		Bool("redis", sessions.RedisEnabled()).
		Bool("speech", cfg.SpeechEnabled()).
		Msg("service assembled")
	return a, nil
}

// Server builds the HTTP and voice server over the session registry
func (a *App) Server() *server.Server {
	opts := []server.Option{
		server.WithLogger(logging.WithComponent("server")),
	}
	if a.Store != nil {
		opts = append(opts, server.WithDatabase(a.Store))
	}
	if a.Synthesizer != nil {
		opts = append(opts, server.WithSpeech(a.Synthesizer, a.Transcriber))
	}
	return server.New(a.Config, a.Sessions, opts...)
}

// Run serves until ctx ends or the server fails, then shuts down
func (a *App) Run(ctx context.Context) error {
	srv := a.Server()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Sessions.StartCleanupRoutine(ctx)
		return nil
	})

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Close releases the database
func (a *App) Close() error {
	var errs []error
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	return errors.Join(errs...)
}
