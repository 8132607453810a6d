package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// DefaultRetryDelays is the wait before each retry.
var DefaultRetryDelays = []time.Duration{time.Second, 3 * time.Second, 5 * time.Second}

// scheduleBackOff walks a fixed list of delays and then stops.
type scheduleBackOff struct {
	delays []time.Duration
	next   int
}

func (b *scheduleBackOff) NextBackOff() time.Duration {
	if b.next >= len(b.delays) {
		return backoff.Stop
	}
	d := b.delays[b.next]
	b.next++
	return d
}

func (b *scheduleBackOff) Reset() {
	b.next = 0
}

// RetryingProvider retries transient failures of the wrapped provider on a fixed schedule.
type RetryingProvider struct {
	inner       LLMProvider
	delays      []time.Duration
	maxAttempts uint
	logger      *slog.Logger
}

// NewRetryingProvider makes at most maxAttempts calls. Auth and bad-request
// failures are not retried.
func NewRetryingProvider(inner LLMProvider, delays []time.Duration, maxAttempts int, logger *slog.Logger) *RetryingProvider {
	if logger == nil {
		logger = slog.Default()
	}
	if len(delays) == 0 {
		delays = DefaultRetryDelays
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &RetryingProvider{inner: inner, delays: delays, maxAttempts: uint(maxAttempts), logger: logger}
}

func (r *RetryingProvider) Generate(ctx context.Context, request *LLMRequest) (*LLMResponse, error) {
	attempt := 0
	op := func() (*LLMResponse, error) {
		attempt++
		resp, err := r.inner.Generate(ctx, request)
		if err == nil {
			return resp, nil
		}
		ce := Classify("generate", err)
		if !ce.Retryable() {
			return nil, backoff.Permanent(ce)
		}
		return nil, ce
	}

	resp, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(&scheduleBackOff{delays: r.delays}),
		backoff.WithMaxTries(r.maxAttempts),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.logger.Warn("model call failed, retrying", "attempt", attempt, "retry_in", next, "error", err)
		}),
	)
	if err != nil {
		return nil, Classify("generate", err)
	}
	return resp, nil
}
