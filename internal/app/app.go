// Package app provides the main application structure and lifecycle management.
package app

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/wagaya/voicerelay/internal/relay"
)

// Application represents the main application with its lifecycle.
type Application struct {
	app *fx.App
}

// New creates a new Application with the provided modules and options.
func New(modules ...fx.Option) *Application {
	options := append(modules, fx.Invoke(registerLifecycleHooks))

	app := fx.New(options...)

	return &Application{
		app: app,
	}
}

// Run starts the application and blocks until it's stopped.
func (a *Application) Run() {
	a.app.Run()
}

// Start starts the application without blocking.
func (a *Application) Start(ctx context.Context) error {
	return a.app.Start(ctx)
}

// Stop gracefully stops the application.
func (a *Application) Stop(ctx context.Context) error {
	return a.app.Stop(ctx)
}

// Err returns the error that occurred while building the dependency graph.
func (a *Application) Err() error {
	return a.app.Err()
}

// registerLifecycleHooks starts the relay server and stops it, ending every
// voice session, on shutdown.
func registerLifecycleHooks(lc fx.Lifecycle, s *relay.Server, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("Starting application: Starting relay server")

			if err := s.Start(ctx); err != nil {
				logger.Error("Failed to start relay server", zap.Error(err))

				return err
			}

			logger.Info("Application started successfully", zap.String("addr", s.Addr()))

			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Stopping application: Closing connections and voice sessions")

			if err := s.Stop(ctx); err != nil {
				logger.Error("Failed to stop relay server", zap.Error(err))

				return err
			}

			logger.Info("Application stopped successfully")

			return nil
		},
	})
}
