// Package infrastructure provides reusable infrastructure components for Go applications.
package infrastructure

import (
	"fmt"
	"strings"

	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// FxLoggerAdapter routes Fx lifecycle events into a zap logger as
// structured entries. Successful wiring is logged at debug so production
// logs only show start/stop and failures.
type FxLoggerAdapter struct {
	logger *zap.Logger
}

// NewFxLoggerAdapter creates a new Fx logger adapter that implements fxevent.Logger.
func NewFxLoggerAdapter(logger *zap.Logger) fxevent.Logger {
	return &FxLoggerAdapter{logger: logger.Named("fx")}
}

// LogEvent implements fxevent.Logger.
func (a *FxLoggerAdapter) LogEvent(event fxevent.Event) {
	switch e := event.(type) {
	case *fxevent.OnStartExecuting:
		a.logger.Debug("OnStart hook executing",
			zap.String("callee", e.FunctionName),
			zap.String("caller", e.CallerName))
	case *fxevent.OnStartExecuted:
		a.result("OnStart hook", e.Err,
			zap.String("callee", e.FunctionName),
			zap.String("caller", e.CallerName),
			zap.Duration("runtime", e.Runtime))
	case *fxevent.OnStopExecuting:
		a.logger.Debug("OnStop hook executing",
			zap.String("callee", e.FunctionName),
			zap.String("caller", e.CallerName))
	case *fxevent.OnStopExecuted:
		a.result("OnStop hook", e.Err,
			zap.String("callee", e.FunctionName),
			zap.String("caller", e.CallerName),
			zap.Duration("runtime", e.Runtime))
	case *fxevent.Supplied:
		a.result("supplied", e.Err, zap.String("type", e.TypeName))
	case *fxevent.Provided:
		a.result("provided", e.Err,
			zap.String("constructor", e.ConstructorName),
			zap.String("types", strings.Join(e.OutputTypeNames, ", ")))
	case *fxevent.Invoking:
		a.logger.Debug("invoking", zap.String("function", e.FunctionName))
	case *fxevent.Invoked:
		a.result("invoked", e.Err, zap.String("function", e.FunctionName))
	case *fxevent.Stopping:
		a.logger.Info("received signal", zap.String("signal", strings.ToUpper(e.Signal.String())))
	case *fxevent.Stopped:
		a.lifecycle("stopped", e.Err)
	case *fxevent.RollingBack:
		a.logger.Error("start failed, rolling back", zap.Error(e.StartErr))
	case *fxevent.RolledBack:
		a.lifecycle("rolled back", e.Err)
	case *fxevent.Started:
		a.lifecycle("started", e.Err)
	case *fxevent.LoggerInitialized:
		a.result("logger initialized", e.Err, zap.String("constructor", e.ConstructorName))
	default:
		a.logger.Debug("unhandled fx event", zap.String("event", fmt.Sprintf("%T", event)))
	}
}

// result logs wiring events: debug on success, error on failure.
func (a *FxLoggerAdapter) result(msg string, err error, fields ...zap.Field) {
	if err != nil {
		a.logger.Error(msg+" failed", append(fields, zap.Error(err))...)
		return
	}
	a.logger.Debug(msg, fields...)
}

// lifecycle logs application state changes: info on success, error on failure.
func (a *FxLoggerAdapter) lifecycle(msg string, err error) {
	lvl := zapcore.InfoLevel
	fields := []zap.Field{}
	if err != nil {
		lvl = zapcore.ErrorLevel
		fields = append(fields, zap.Error(err))
	}
	if ce := a.logger.Check(lvl, msg); ce != nil {
		ce.Write(fields...)
	}
}
