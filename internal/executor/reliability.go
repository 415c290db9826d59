package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Breaker tuning. A provider trips after breakerTripAfter consecutive
// failures and is probed again after breakerCooldown.
const (
	breakerTripAfter   uint32 = 5
	breakerCooldown           = 30 * time.Second
	breakerHalfOpenMax uint32 = 3
)

// reliability combines an executor-wide rate limiter with a circuit
// breaker per provider. A tripped breaker short-circuits calls to that
// provider without affecting the others.
type reliability struct {
	limiter *rate.Limiter

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func newReliability(limit float64, burst int) *reliability {
	r := &reliability{breakers: make(map[string]*gobreaker.CircuitBreaker)}
	if limit > 0 {
		if burst <= 0 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(limit), burst)
	}
	return r
}

func (r *reliability) wait(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit exceeded: %w", err)
	}
	return nil
}

// call runs fn through the provider's circuit breaker. An open breaker
// yields a retryable "unavailable" error so callers can suggest waiting
// or switching tools.
func (r *reliability) call(provider string, fn func() (any, error)) (any, error) {
	cb := r.breaker(provider)
	data, err := cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("provider %s unavailable: %w", provider, err)
	}
	return data, err
}

func (r *reliability) breaker(provider string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[provider]
	if !ok {
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        provider,
			MaxRequests: breakerHalfOpenMax,
			Timeout:     breakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= breakerTripAfter
			},
		})
		r.breakers[provider] = cb
	}
	return cb
}
