// Package infrastructure provides core infrastructure components and their Fx modules.
package infrastructure

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wagaya/voicerelay/internal/config"
	pkginfra "github.com/wagaya/voicerelay/pkg/infrastructure"
)

// LoggerModule provides logging infrastructure.
var LoggerModule = fx.Module("logger",
	fx.Provide(NewZapLogger),
)

// NewZapLoggerParams holds dependencies for NewZapLogger.
type NewZapLoggerParams struct {
	fx.In
	Cfg *config.Config
	LC  fx.Lifecycle
}

// NewZapLogger creates a zap logger for the configured level and syncs it on stop.
func NewZapLogger(params NewZapLoggerParams) (*zap.Logger, error) {
	logger, err := BuildLogger(params.Cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	params.LC.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			// Syncing stderr fails on some platforms; that is not a shutdown error.
			_ = logger.Sync()
			return nil
		},
	})

	return logger, nil
}

// BuildLogger returns a development logger for "debug" and a production
// logger at the given level otherwise. Unknown levels fall back to info.
func BuildLogger(level string) (*zap.Logger, error) {
	var zapConfig zap.Config
	if level == "debug" {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			lvl = zapcore.InfoLevel
		}
		zapConfig.Level = zap.NewAtomicLevelAt(lvl)
	}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create zap logger: %w", err)
	}

	return logger.With(zap.String("service", "voicerelay")), nil
}

// NewFxLoggerAdapter creates a new Fx logger adapter using the public package.
func NewFxLoggerAdapter(logger *zap.Logger) fxevent.Logger {
	return pkginfra.NewFxLoggerAdapter(logger)
}
