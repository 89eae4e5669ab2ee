package cmd

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
)

// Middleware wraps a handler.
type Middleware func(Handler) Handler

// Apply applies middlewares in order; the first in the list is the outermost.
func Apply(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// WithLogger logs every invocation at debug level and failures at error level,
// tagged with the location of the declared handler.
func WithLogger(logger *log.Logger, location string) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, inv *Invocation) error {
			start := time.Now()
			err := next(ctx, inv)
			if err != nil {
				logger.Error("handler failed", "kind", inv.Kind, "name", inv.Name, "location", location, "err", err)
				return err
			}
			logger.Debug("handled", "kind", inv.Kind, "name", inv.Name, "took", time.Since(start))
			return nil
		}
	}
}
