package node

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// RetryPolicy bounds how a RemoteNode retries calls that failed because the
// node's endpoint was unreachable. Store, Has, Read and Status are retried.
type RetryPolicy struct {
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
	// CallTimeout bounds each attempt; zero means only the caller's deadline.
	CallTimeout time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		BaseDelay:    50 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		JitterFactor: 0.2,
		CallTimeout:  5 * time.Second,
	}
}

// backoff returns the exponential delay before retry number attempt (0-based).
func (p RetryPolicy) backoff(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	delay += delay * p.JitterFactor * (2*rand.Float64() - 1)
	if delay < 0 {
		delay = float64(p.BaseDelay)
	}
	return time.Duration(delay)
}

// isRetryable reports whether err is a transient transport failure.
// ResourceExhausted is not retried: gRPC uses it for oversized messages,
// which fail the same way on every attempt.
func isRetryable(err error) bool {
	return status.Code(err) == codes.Unavailable
}

// call runs fn under the policy. Only transport-level failures are retried;
// node answers such as FailedPrecondition are returned immediately.
func (r *RemoteNode) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = r.attempt(ctx, fn)
		if err == nil || !isRetryable(err) || attempt >= r.retry.MaxRetries {
			return err
		}

		delay := r.retry.backoff(attempt)
		r.logger.Debug("Retrying node call",
			zap.String("operation", op),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay):
		}
	}
}

func (r *RemoteNode) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if r.retry.CallTimeout <= 0 {
		return fn(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, r.retry.CallTimeout)
	defer cancel()
	return fn(ctx)
}
