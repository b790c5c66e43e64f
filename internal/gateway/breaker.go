package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/ECHOITWEB/teampulse-sub005/internal/provider"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerSettings tunes the per-provider circuit breakers.
type BreakerSettings struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

var DefaultBreakerSettings = BreakerSettings{
	MaxRequests:         3,
	Interval:            5 * time.Second,
	Timeout:             30 * time.Second,
	ConsecutiveFailures: 3,
}

type breakers struct {
	byProvider map[string]*gobreaker.CircuitBreaker
}

func newBreakers(names []string, cfg BreakerSettings, logger *zap.Logger) *breakers {
	b := &breakers{byProvider: make(map[string]*gobreaker.CircuitBreaker, len(names))}
	for _, name := range names {
		settings := gobreaker.Settings{
			Name:        name,
			MaxRequests: cfg.MaxRequests,
			Interval:    cfg.Interval,
			Timeout:     cfg.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
			},
			IsSuccessful: countsAsHealthy,
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state changed",
					zap.String("provider", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		}
		b.byProvider[name] = gobreaker.NewCircuitBreaker(settings)
	}
	return b
}

// countsAsHealthy decides what trips a breaker. Rate limits belong to one
// credential and client-side errors to one request; only transport failures
// and 5xx answers say the provider itself is unhealthy.
func countsAsHealthy(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pe *provider.Error
	if errors.As(err, &pe) {
		return pe.RateLimited || !pe.ServerSide()
	}
	return false
}

func (b *breakers) execute(name string, call func() (*provider.Response, error)) (*provider.Response, error) {
	cb, ok := b.byProvider[name]
	if !ok {
		return call()
	}
	result, err := cb.Execute(func() (interface{}, error) {
		return call()
	})
	if err != nil {
		return nil, err
	}
	return result.(*provider.Response), nil
}

func isBreakerRejection(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
