package service

import (
	"context"
	"errors"
	"time"

	"github.com/bakeflow/bakeflow-backend/internal/production/domain"
	"github.com/bakeflow/bakeflow-backend/pkg/logger"
	"github.com/cenkalti/backoff/v4"
)

// retryOnConflict runs op again, with exponential backoff, while it fails with a
// concurrency conflict. Any other error stops immediately. When the retries are
// used up the last conflict is returned as a *domain.ConcurrencyError.
func retryOnConflict(ctx context.Context, maxRetries int, interval time.Duration, log *logger.Logger, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = interval
	policy.MaxElapsedTime = 0

	attempts := 0
	err := backoff.RetryNotify(
		func() error {
			attempts++
			err := op()
			if err == nil || errors.Is(err, domain.ErrConcurrencyConflict) {
				return err
			}
			return backoff.Permanent(err)
		},
		backoff.WithContext(backoff.WithMaxRetries(policy, uint64(maxRetries)), ctx),
		func(err error, wait time.Duration) {
			log.Warn().Err(err).Int("attempt", attempts).Dur("backoff", wait).Msg("concurrency conflict, retrying")
		},
	)
	if err != nil && errors.Is(err, domain.ErrConcurrencyConflict) {
		var concurrencyErr *domain.ConcurrencyError
		if !errors.As(err, &concurrencyErr) {
			return &domain.ConcurrencyError{Attempts: attempts, Err: err}
		}
	}
	return err
}
