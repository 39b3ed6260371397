// Package main is the entrypoint for the cscratch gateway relay.
//
// The relay bridges the chat platform's event socket to the backend Engine:
// inbound messages and interactions are normalized and forwarded over HTTP
// without ever blocking the gateway's read loop, and every interactive event
// is acknowledged ("deferred") immediately and later resolved or expired
// once its delivery outcome is known.
//
// Startup sequence:
//  1. Load and validate configuration (missing credentials are fatal).
//  2. Build the structured logger.
//  3. Construct the Engine client, acknowledgment tracker, delivery worker
//     pool, and normalizer, and bind them to a gateway session.
//  4. Register the command schema with the platform.
//  5. Run the gateway session and the liveness HTTP server until a signal
//     arrives, then drain the dispatcher and shut down.
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

	"golang.org/x/sync/errgroup"

	"github.com/zudduz/cscratch-dg/internal/config"
	"github.com/zudduz/cscratch-dg/internal/engine"
	"github.com/zudduz/cscratch-dg/internal/platform"
	"github.com/zudduz/cscratch-dg/internal/relay"
	"github.com/zudduz/cscratch-dg/internal/server"
	"github.com/zudduz/cscratch-dg/internal/types"
)

// shutdownTimeout bounds the HTTP server's graceful shutdown.
const shutdownTimeout = 5 * time.Second

// slogAdapter wraps *slog.Logger to implement types.Logger. slog satisfies
// the level methods directly, but With returns *slog.Logger rather than
// types.Logger, so an adapter is needed.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Debug(msg string, args ...any) { a.logger.Debug(msg, args...) }
func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("starting gateway relay",
		"engine_url", cfg.Engine.URL,
		"relay_workers", cfg.Relay.Workers,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Platform clients.
	rest := platform.NewREST(cfg.Discord.Token, logger.With("component", "platform_rest"))
	session := platform.NewSession(rest, cfg.Discord.Token, logger.With("component", "gateway"))

	// Relay pipeline.
	registry := relay.NewRegistry()
	tracker := relay.NewTracker(rest, cfg.Relay.AckWindow, logger.With("component", "ack_tracker"))
	engineClient := engine.NewClient(cfg.Engine, logger.With("component", "engine_client"))
	worker := relay.NewWorker(engineClient, tracker, cfg.Relay.MaxAttempts, logger.With("component", "delivery"))
	dispatcher := relay.NewDispatcher(worker, tracker, cfg.Relay.QueueSize, cfg.Relay.Workers, logger.With("component", "dispatcher"))
	handler := relay.NewHandler(relay.NewNormalizer(registry), registry, tracker, dispatcher, logger.With("component", "handler"))
	handler.Bind(session)

	// Declare the command schema before events start flowing.
	if err := rest.BulkOverwriteCommands(ctx, cfg.Discord.ApplicationID, cfg.Discord.GuildID, registry.PlatformCommands()); err != nil {
		return fmt.Errorf("register command schema: %w", err)
	}

	dispatcher.Start(ctx)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: server.New(logger.With("component", "http"), session.Connected, server.GatewayProbe{Connected: session.Connected}).Handler(),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return session.Run(gctx)
	})

	g.Go(func() error {
		logger.Info("liveness server listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()

	// The session has stopped producing events; let queued deliveries finish.
	logger.Info("draining relay queue")
	if drainErr := dispatcher.Close(); drainErr != nil {
		logger.Error("dispatcher drain failed", "error", drainErr.Error())
	}

	logger.Info("gateway relay stopped")
	return err
}

// newLogger builds the process-wide JSON logger at the configured level.
func newLogger(level string) types.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return &slogAdapter{logger: slog.New(h)}
}
