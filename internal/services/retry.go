package services

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"staff-chat/internal/apperrors"
	"staff-chat/internal/observability"
)

const maxReadRetries = 3

// DefaultBackOff is the policy used for idempotent store reads.
func DefaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 3 * time.Second
	return b
}

// retryRead runs an idempotent store call, retrying only UNAVAILABLE
// failures. Other errors are returned on the first attempt.
func retryRead[T any](ctx context.Context, s *ChatService, op string, fn func() (T, error)) (T, error) {
	policy := backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), maxReadRetries), ctx)
	return backoff.RetryNotifyWithData(func() (T, error) {
		v, err := fn()
		if err != nil && !apperrors.IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, policy, func(err error, wait time.Duration) {
		observability.IncStoreRetry(op)
		s.log.Warn().Err(err).Str("op", op).Dur("wait", wait).Msg("retrying store read")
	})
}
