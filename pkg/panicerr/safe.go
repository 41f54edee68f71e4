package panicerr

import (
	"context"
	"log/slog"

	"github.com/sourcegraph/conc/panics"

	"github.com/kazz187/taskdesk/pkg/clog"
)

// SafeContext wraps fn so that a panic is returned as an error instead of
// crashing the process.
func SafeContext(fn func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		var (
			catcher panics.Catcher
			err     error
		)
		catcher.Try(func() {
			err = fn(ctx)
		})
		if err != nil {
			return err
		}
		return catcher.Recovered().AsError()
	}
}

// Go runs fn in its own goroutine and logs a panic or error under name.
func Go(ctx context.Context, name string, fn func(context.Context) error) {
	go func() {
		if err := SafeContext(fn)(ctx); err != nil && ctx.Err() == nil {
			clog.AddError(ctx, err)
			slog.ErrorContext(ctx, "background worker stopped", "worker", name, clog.ErrorAttributeKey, err)
		}
	}()
}
