package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/freeeve/world-conflict/internal/repository"
)

// RetryPolicy bounds the optimistic load-process-save loop.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy matches the configuration defaults.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, BaseDelay: 50 * time.Millisecond}

// WithRetry runs op until it succeeds, fails with anything other than a
// version conflict, or runs out of attempts. Conflicts back off
// exponentially; exhausting the attempts returns ErrConflict.
func WithRetry[T any](ctx context.Context, p RetryPolicy, op func() (T, error)) (T, error) {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = 20 * p.BaseDelay

	res, err := backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !errors.Is(err, repository.ErrVersionConflict) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(p.MaxAttempts)))
	if errors.Is(err, repository.ErrVersionConflict) {
		return res, fmt.Errorf("%w after %d attempts", ErrConflict, p.MaxAttempts)
	}
	return res, err
}
