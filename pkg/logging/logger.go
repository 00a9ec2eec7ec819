package logging

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey string

const CorrelationIdConst ctxKey = "correlation-id"

var (
	mu     sync.RWMutex
	logger *zap.Logger
)

func init() {
	config := zap.NewProductionConfig()
	config.OutputPaths = []string{"stdout"}
	logger, _ = config.Build()
}

// Init replaces the process logger with one at the given level.
func Init(level string) error {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}
	config := zap.NewProductionConfig()
	config.OutputPaths = []string{"stdout"}
	config.Level = zap.NewAtomicLevelAt(lvl)
	l, err := config.Build()
	if err != nil {
		return err
	}
	Set(l)
	return nil
}

// Set installs l as the process logger. Tests use zap.NewNop or zaptest.
func Set(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
}

// WithRequestId returns a context which knows its request ID
func WithRequestId(ctx context.Context, requestId string) context.Context {
	return context.WithValue(ctx, CorrelationIdConst, requestId)
}

func RequestId(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(CorrelationIdConst).(string)
	return id
}

// Logger returns a zap logger with as much context as possible
func Logger(ctx context.Context) *zap.SugaredLogger {
	mu.RLock()
	newLogger := logger
	mu.RUnlock()
	if id := RequestId(ctx); id != "" {
		newLogger = newLogger.With(zap.String("correlation-id", id))
	}
	return newLogger.Sugar()
}
