package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/italolelis/flipcache/internal/cache"
	"github.com/italolelis/flipcache/internal/caching"
	"github.com/italolelis/flipcache/internal/cleanup"
	"github.com/italolelis/flipcache/internal/config"
	"github.com/italolelis/flipcache/internal/downloader"
	"github.com/italolelis/flipcache/internal/events"
	"github.com/italolelis/flipcache/internal/flip"
	"github.com/italolelis/flipcache/internal/http/rest"
	"github.com/italolelis/flipcache/internal/inflight"
	"github.com/italolelis/flipcache/internal/logctx"
	"github.com/italolelis/flipcache/internal/notifier"
	"github.com/italolelis/flipcache/internal/storage"
	"github.com/italolelis/flipcache/internal/storage/sqlite"
	"github.com/italolelis/flipcache/internal/telemetry"
)

// version is set at build time.
var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewTraceHandler(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}),
	))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("flipcache starting...", "log_level", cfg.LogLevel, "version", version)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		if err := tel.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(ctx, cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	repo := sqlite.NewInstrumentedFlipRepository(database, tel)

	// =========================================================================
	// Start Resource Store
	store, err := cache.New(ctx, cache.Config{
		DurableDir:         cfg.DurableRoot(),
		VolatileDir:        cfg.VolatileRoot(),
		MemoryTTL:          cfg.MemoryTTL,
		MemoryMaxEntrySize: cfg.MemoryMaxEntrySize,
	})
	if err != nil {
		return fmt.Errorf("failed to open resource store: %w", err)
	}

	// =========================================================================
	// Start Downloader
	bus := events.NewBus()

	dl := downloader.New(store, inflight.New[*downloader.Result](), bus, tel, downloader.Options{
		Timeout:     cfg.DownloadTimeout,
		MaxParallel: cfg.MaxParallel,
	})

	// =========================================================================
	// Start Notification
	setupSubscribers(ctx, bus, repo, tel, cfg)

	// =========================================================================
	// Start Orchestrator
	orch := flip.NewOrchestrator(repo, storage.GenerateInstanceID(), cfg.UpdateInterval, tel)

	orch.ProduceDownloads(ctx)
	downloadsDone := dl.WatchDownloads(ctx, orch.OnDownloadQueued)

	// =========================================================================
	// Start Cleanup
	sweeper := cleanup.NewSweeper(store, tel, cfg.VolatileRetention, cfg.CleanupInterval)
	sweeper.Run(ctx)

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, caching.NewService(store, dl, tel), store, dl, repo, tel, cfg)

	go func() {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("serving flip resources...",
		"durable_dir", cfg.DurableRoot(),
		"volatile_dir", cfg.VolatileRoot(),
		"update_interval", cfg.UpdateInterval.String(),
		"retention", cfg.VolatileRetention.String(),
	)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		// the running batch still persists its outcome; keep the database open until it does
		select {
		case <-downloadsDone:
		case <-shutdownCtx.Done():
			logger.Warn("download batch still running at shutdown", "err", shutdownCtx.Err())
		}

		return ctx.Err()
	}
}

// setupSubscribers persists flip download outcomes and wires failure notifications.
func setupSubscribers(
	ctx context.Context,
	bus *events.Bus,
	repo storage.FlipWriteRepository,
	tel *telemetry.Telemetry,
	cfg *config.Config,
) {
	logger := logctx.LoggerFromContext(ctx)

	bus.Subscribe(func(ctx context.Context, e events.DownloadFinished) {
		status := flip.StatusDownloaded
		if e.Failed() {
			status = flip.StatusFailed
		}

		if err := repo.UpdateFlipStatus(ctx, e.Flip.ID, status, e.Flip.BackgroundContentType); err != nil {
			logger.Error("failed to persist flip status", "flip_id", e.Flip.ID, "status", status, "err", err)
			tel.RecordSystemError("storage", "persist_status")

			return
		}

		logger.Info("flip download finished", "flip_id", e.Flip.ID, "status", status)
	})

	var notif notifier.Notifier = notifier.Nop{}
	if cfg.DiscordWebhookURL != "" {
		notif = notifier.NewDiscordNotifier(cfg.DiscordWebhookURL)
	}

	bus.Subscribe(notifier.OnDownloadFailed(notif))
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(
	ctx context.Context,
	resolver rest.Resolver,
	store *cache.Store,
	dl *downloader.Downloader,
	repo storage.FlipRepository,
	tel *telemetry.Telemetry,
	cfg *config.Config,
) *http.Server {
	r := chi.NewRouter()
	r.Use(telemetry.RequestID, telemetry.HTTPLogging, telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Method(http.MethodGet, "/metrics", tel.Handler())
	r.Mount("/", rest.NewHandler(resolver, store, dl, repo).Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      otelhttp.NewHandler(r, "flipcache", otelhttp.WithTracerProvider(tel.TracerProvider())),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
