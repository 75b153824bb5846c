// Package main is the entry point for the toolgate server.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"toolgate/config"
	"toolgate/internal/app"
	"toolgate/internal/logging"
	"toolgate/internal/providers"
	"toolgate/internal/providers/anthropic"
	"toolgate/internal/providers/gemini"
	"toolgate/internal/providers/openai"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// JSON until the configured format is known.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	result, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logging.Setup(result.Config.Log)
	if result.Path != "" {
		slog.Info("configuration loaded", "path", result.Path)
	}

	if len(result.Config.Providers) == 0 {
		slog.Error("at least one provider must be configured")
		os.Exit(1)
	}

	factory := providers.NewProviderFactory()
	factory.Add(openai.Registration)
	factory.Add(anthropic.Registration)
	factory.Add(gemini.Registration)

	initCtx, cancelInit := context.WithTimeout(context.Background(), 2*time.Minute)
	application, err := app.New(initCtx, app.Config{
		AppConfig: result,
		Factory:   factory,
	})
	cancelInit()
	if err != nil {
		slog.Error("failed to initialize application", "error", err)
		os.Exit(1)
	}

	// Tool server children must be gone before the process exits, so main
	// waits for Shutdown rather than returning when Start does.
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := application.Shutdown(ctx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	addr := ":" + result.Config.Server.Port
	if err := application.Start(addr); err != nil {
		slog.Error("server failed", "error", err)
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		_ = application.Shutdown(ctx)
		cancel()
		os.Exit(1)
	}
	<-shutdownDone
}
