package retry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// DispatchPolicy bounds outbound stimulus attempts. Attempts is the full
// budget (retries + 1); the retryable predicate is supplied by the dispatcher
// since only it can classify platform failures.
func DispatchPolicy(log *zap.Logger, attempts int, retryable func(error) bool) Policy {
	return Policy{
		Name:      "dispatch",
		Attempts:  attempts,
		Backoff:   ExpoJitter{Base: 250 * time.Millisecond, Max: 10 * time.Second, Jitter: 0.2},
		Retryable: retryable,
		OnAttempt: func(i int, err error) {
			if log != nil {
				log.Warn("dispatch retry", zap.Int("attempt", i+1), zap.Error(err))
			}
		},
	}
}

// AlertPublishPolicy covers alert sink publication.
func AlertPublishPolicy(log *zap.Logger) Policy {
	return Policy{
		Name:     "alert_publish",
		Attempts: 5,
		Backoff:  ExpoJitter{Base: 200 * time.Millisecond, Max: 15 * time.Second, Jitter: 0.2},
		Retryable: func(err error) bool {
			return err != nil && !errors.Is(err, context.Canceled)
		},
		OnAttempt: func(i int, err error) {
			if log != nil {
				log.Warn("alert publish retry", zap.Int("attempt", i+1), zap.Error(err))
			}
		},
		OnExhaust: func(err error) {
			if log != nil && !errors.Is(err, context.Canceled) {
				log.Error("alert publish retries exhausted", zap.Error(err))
			}
		},
	}
}
