package logging

import (
	"context"

	"go.uber.org/zap"
)

type contextKey string

var logKey contextKey = "log"

// GetLogger returns the logger carried by ctx, or the global logger if there is none.
func GetLogger(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(logKey).(*zap.Logger); ok && l != nil {
		return l
	}
	return zap.L()
}

func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, logKey, logger)
}


// Named derives a named child of the context's logger and stores it back on the context.
func Named(ctx context.Context, name string) (context.Context, *zap.Logger) {
	l := GetLogger(ctx).Named(name)
	return WithLogger(ctx, l), l
}
