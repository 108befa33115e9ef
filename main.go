// Package main provides the entry point for the voice relay server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/fx"

	"github.com/wagaya/voicerelay/internal/app"
	"github.com/wagaya/voicerelay/internal/config"
	"github.com/wagaya/voicerelay/internal/infrastructure"
	"github.com/wagaya/voicerelay/internal/observe"
	"github.com/wagaya/voicerelay/internal/relay"
	"github.com/wagaya/voicerelay/internal/voice"
)

const defaultShutdownTimeout = 30 * time.Second

func main() {
	configPath := config.ResolvePath()

	var cfg *config.Config
	application := app.New(
		// Core modules
		config.Module,
		infrastructure.LoggerModule,
		observe.Module,

		// Application modules
		voice.Module,
		relay.Module,

		fx.Supply(configPath),
		fx.Populate(&cfg),

		// Configure Fx to use our Zap logger for its own internal logging
		fx.WithLogger(infrastructure.NewFxLoggerAdapter),
	)
	if err := application.Err(); err != nil {
		fmt.Printf("Failed to build application: %v\n", err)
		os.Exit(1)
	}

	startCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	err := application.Start(startCtx)
	cancel()
	if err != nil {
		fmt.Printf("Failed to start application: %v\n", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	fmt.Printf("Received signal: %s, initiating shutdown.\n", sig)

	timeout := defaultShutdownTimeout
	if cfg != nil && cfg.Server.ShutdownTimeout > 0 {
		timeout = cfg.Server.ShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	err = application.Stop(shutdownCtx)
	cancel()

	if err != nil {
		fmt.Printf("Error during shutdown: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Application has shut down gracefully.")
}
