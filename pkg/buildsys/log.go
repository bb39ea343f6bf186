package buildsys

import (
	"context"

	"github.com/rs/zerolog"
)

type logKey struct{}

func log(ctx context.Context) *zerolog.Logger {
	logger := ctx.Value(logKey{})
	if logger == nil {
		nop := zerolog.Nop()
		return &nop
	}

	return logger.(*zerolog.Logger)
}

// WithLogger attaches the given logger to the context. All build output goes
// through this logger; contexts without one stay silent.
func WithLogger(ctx context.Context, logger *zerolog.Logger) context.Context {
	return context.WithValue(ctx, logKey{}, logger)
}
