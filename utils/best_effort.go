package utils

import (
	"context"
)

type warningLogger interface {
	WarningWithContextf(ctx context.Context, format string, args ...interface{})
}

// BestEffort runs fn and logs a failure instead of returning it. It is the
// only place where errors are allowed to be dropped.
func BestEffort(ctx context.Context, logger warningLogger, op string, fn func(context.Context) error) {
	if err := fn(ctx); err != nil {
		logger.WarningWithContextf(ctx, "[BestEffort] %s failed, continuing: %v", op, err)
	}
}
