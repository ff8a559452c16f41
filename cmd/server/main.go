// Roundtable - multi-participant discussion server
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/roundtable/internal/api"
	"github.com/ashureev/roundtable/internal/config"
	"github.com/ashureev/roundtable/internal/events"
	"github.com/ashureev/roundtable/internal/generation"
	"github.com/ashureev/roundtable/internal/metrics"
	"github.com/ashureev/roundtable/internal/middleware"
	"github.com/ashureev/roundtable/internal/realtime"
	"github.com/ashureev/roundtable/internal/registry"
	"github.com/ashureev/roundtable/internal/scheduler"
	"github.com/ashureev/roundtable/internal/store"
	"github.com/ashureev/roundtable/internal/transcript"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"provider", cfg.Generation.Provider)

	if err := run(cfg, logger); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	profiles := registry.Default()
	if cfg.ProfilesPath != "" {
		loaded, err := registry.LoadFile(cfg.ProfilesPath)
		if err != nil {
			return fmt.Errorf("load profiles: %w", err)
		}
		profiles = loaded
	}
	slog.Info("Participant catalog loaded", "profiles", len(profiles.List()))

	m := metrics.New()
	sessions := store.New()

	var repo store.Repository
	if cfg.Persistence.Enabled {
		sqlite, err := store.NewSQLite(cfg.Persistence.DBPath)
		if err != nil {
			return fmt.Errorf("initialize database: %w", err)
		}
		defer func() {
			if closeErr := sqlite.Close(); closeErr != nil {
				slog.Error("Failed to close repository", "error", closeErr)
			}
		}()
		if err := sqlite.Ping(context.Background()); err != nil {
			return fmt.Errorf("database health check: %w", err)
		}
		restored, err := sqlite.LoadSessions(context.Background())
		if err != nil {
			return fmt.Errorf("restore sessions: %w", err)
		}
		slog.Info("Database connected", "sessions_restored", sessions.Restore(restored))
		repo = sqlite
	}

	gen, closeGen, err := newGenerator(cfg, logger)
	if err != nil {
		return err
	}
	defer closeGen()

	transcripts, err := transcript.NewLogger(transcript.Config{
		Enabled:   cfg.ConversationLog.Enabled,
		Dir:       cfg.ConversationLog.Dir,
		QueueSize: cfg.ConversationLog.QueueSize,
		OnDrop:    m.RecordTranscriptDrop,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize conversation log: %w", err)
	}
	defer func() {
		if closeErr := transcripts.Close(); closeErr != nil {
			slog.Error("Failed to close conversation log", "error", closeErr)
		}
	}()

	// The hub needs the scheduler and the scheduler needs the bus, so the
	// hub joins the bus last.
	bus := events.NewBus(logger, m, transcripts)
	sched := scheduler.New(sessions, gen, bus, scheduler.Options{
		TurnDelay:     cfg.Scheduler.TurnDelay,
		ResumeDelay:   cfg.Scheduler.ResumeDelay,
		HistoryWindow: cfg.Scheduler.HistoryWindow,
		Observer:      m,
		Logger:        logger,
	})
	origins := cfg.AllowedOrigins()
	hub := realtime.NewHub(sessions, sched, realtime.HubConfig{
		AllowedOrigins: origins,
		Observer:       m,
		Logger:         logger,
	})
	bus.Add(hub)

	handler := api.NewHandler(sessions, profiles, sched, cfg.Scheduler.DefaultMaxRounds, logger)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(origins))

	handler.RegisterRoutes(r)
	r.Handle("/metrics", m.Handler())
	r.Get("/ws", hub.ServeHTTP)

	// WebSocket connections are long-lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The flush worker outlives the scheduler so its final flush sees the
	// last turn of every session.
	flushCtx, stopFlush := context.WithCancel(context.Background())
	defer stopFlush()
	var flushDone <-chan struct{}
	if repo != nil {
		flushDone = store.StartFlushWorker(flushCtx, sessions, repo, cfg.Persistence.FlushInterval, m.RecordFlush)
	} else {
		done := make(chan struct{})
		close(done)
		flushDone = done
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
		if err := sched.Close(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("scheduler shutdown: %w", err))
		}
		stopFlush()
		select {
		case <-flushDone:
		case <-shutdownCtx.Done():
			errs = append(errs, errors.New("final flush timed out"))
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

// newGenerator builds the configured text-generation backend and a func
// that releases it.
func newGenerator(cfg *config.Config, logger *slog.Logger) (generation.Generator, func(), error) {
	switch cfg.Generation.Provider {
	case config.ProviderGrpc:
		gc := generation.DefaultGrpcConfig(cfg.Generation.Addr)
		gc.RequestTimeout = cfg.Generation.Timeout
		client, err := generation.NewGrpc(gc, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connect generation sidecar: %w", err)
		}
		slog.Info("Connected to generation sidecar", "address", cfg.Generation.Addr)
		return client, client.Close, nil
	default:
		client, err := generation.NewAnthropic(generation.AnthropicConfig{
			APIKey:     cfg.Generation.APIKey,
			Model:      cfg.Generation.Model,
			MaxTokens:  cfg.Generation.MaxTokens,
			Timeout:    cfg.Generation.Timeout,
			MaxRetries: 2,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("initialize anthropic client: %w", err)
		}
		return client, func() {}, nil
	}
}
