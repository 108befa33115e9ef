package infrastructure_test

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wagaya/voicerelay/pkg/infrastructure"
)

func newObservedAdapter(level zapcore.Level) (fxevent.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return infrastructure.NewFxLoggerAdapter(zap.New(core)), logs
}

func TestFxLoggerAdapter_SuccessfulWiringIsDebug(t *testing.T) {
	adapter, logs := newObservedAdapter(zapcore.InfoLevel)

	adapter.LogEvent(&fxevent.Provided{ConstructorName: "NewRegistry", OutputTypeNames: []string{"*voice.Registry"}})
	adapter.LogEvent(&fxevent.Invoking{FunctionName: "registerLifecycleHooks"})
	adapter.LogEvent(&fxevent.OnStartExecuted{FunctionName: "start", CallerName: "app", Runtime: time.Millisecond})

	assert.Zero(t, logs.Len(), "wiring noise should stay below info")
}

func TestFxLoggerAdapter_Failures(t *testing.T) {
	adapter, logs := newObservedAdapter(zapcore.DebugLevel)
	testError := errors.New("boom")

	events := []fxevent.Event{
		&fxevent.OnStartExecuted{FunctionName: "start", CallerName: "app", Err: testError},
		&fxevent.Provided{ConstructorName: "NewHub", Err: testError},
		&fxevent.Invoked{FunctionName: "run", Err: testError},
		&fxevent.RollingBack{StartErr: testError},
		&fxevent.Started{Err: testError},
		&fxevent.LoggerInitialized{ConstructorName: "NewZapLogger", Err: testError},
	}
	for _, event := range events {
		adapter.LogEvent(event)
	}

	entries := logs.FilterLevelExact(zapcore.ErrorLevel).All()
	assert.Len(t, entries, len(events))
	for _, entry := range entries {
		assert.Equal(t, "fx", entry.LoggerName)
	}
}

func TestFxLoggerAdapter_Lifecycle(t *testing.T) {
	adapter, logs := newObservedAdapter(zapcore.InfoLevel)

	adapter.LogEvent(&fxevent.Started{})
	adapter.LogEvent(&fxevent.Stopping{Signal: os.Interrupt})
	adapter.LogEvent(&fxevent.Stopped{})

	messages := make([]string, 0, logs.Len())
	for _, entry := range logs.All() {
		messages = append(messages, entry.Message)
	}
	assert.Equal(t, []string{"started", "received signal", "stopped"}, messages)
}

func TestFxLoggerAdapter_UnknownEvent(t *testing.T) {
	adapter, logs := newObservedAdapter(zapcore.DebugLevel)

	adapter.LogEvent(&fxevent.Decorated{DecoratorName: "d"})

	assert.Equal(t, 1, logs.Len())
}

func TestFxIntegration(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	app := fx.New(
		fx.WithLogger(infrastructure.NewFxLoggerAdapter),
		fx.Supply(logger),
		fx.Invoke(func(*zap.Logger) {}),
	)

	assert.NoError(t, app.Err())
	assert.NotZero(t, logs.Len())
}
