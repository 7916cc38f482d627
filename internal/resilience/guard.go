package resilience

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

// Guard bounds one kind of external call. Every attempt runs under Timeout;
// failed attempts are retried per Retry; the optional Breaker short-circuits
// when the downstream keeps failing.
type Guard struct {
	Name    string
	Timeout time.Duration
	Retry   RetryConfig
	Breaker *CircuitBreaker
}

// Call runs fn under g. The returned error wraps the last attempt's error.
func Call[T any](ctx context.Context, g Guard, fn func(ctx context.Context) (T, error)) (T, error) {
	attempt := func(ctx context.Context) (T, error) {
		if g.Timeout <= 0 {
			return fn(ctx)
		}
		actx, cancel := context.WithTimeout(ctx, g.Timeout)
		defer cancel()
		return fn(actx)
	}

	if g.Breaker != nil {
		inner := attempt
		attempt = func(ctx context.Context) (T, error) {
			return ExecuteVal(ctx, g.Breaker, inner)
		}
	}

	retry := g.Retry
	if retry.OnRetry == nil && g.Name != "" {
		retry.OnRetry = RetryLogger(g.Name, "call")
	}
	val, err := DoVal(ctx, retry, attempt)
	if err != nil {
		var zero T
		return zero, eris.Wrapf(err, "resilience: %s", g.Name)
	}
	return val, nil
}
