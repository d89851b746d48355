package logging

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	loggerKey contextKey = "logger"
	cycleKey  contextKey = "cycle_id"
)

// FromContext retrieves the logger from context
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return Default()
}

// NewContext creates a new context with the logger
func NewContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// WithCycleContext tags one trading cycle with a fresh id so every line it logs can be grouped
func WithCycleContext(ctx context.Context, base *Logger) (context.Context, *Logger) {
	id := uuid.NewString()
	l := base.WithField("cycle_id", id)
	ctx = context.WithValue(ctx, cycleKey, id)
	return NewContext(ctx, l), l
}

// CycleID returns the cycle id stored by WithCycleContext
func CycleID(ctx context.Context) string {
	id, _ := ctx.Value(cycleKey).(string)
	return id
}

// BotLogger creates a logger context for one bot instance
func BotLogger(base *Logger, bot, symbol string) *Logger {
	return base.WithFields(map[string]interface{}{
		"bot":    bot,
		"symbol": symbol,
	})
}
