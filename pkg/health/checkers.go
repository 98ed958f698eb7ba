package health

import (
	"context"
	"runtime"

	"github.com/go-faster/errors"
)

// GoroutineCountCheck fails when more than threshold goroutines are running.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, threshold)
		}
		return nil
	}
}

// Named prefixes any error from fn with name, so a probe body reads
// "postgres: dial tcp ..." rather than the bare driver error.
func Named(name string, fn CheckFunc) CheckFunc {
	return func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			return errors.Wrap(err, name)
		}
		return nil
	}
}
