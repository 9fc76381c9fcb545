package data

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/marketwise/signalrun/internal/domain"
)

// GuardConfig tunes the guarded fetcher.
type GuardConfig struct {
	// RPS and Burst shape the token bucket smoothing batch fan-out.
	RPS   float64
	Burst int
	// TripFailures is the consecutive-failure count that opens the
	// breaker; OpenFor is how long it stays open before probing.
	TripFailures uint32
	OpenFor      time.Duration
}

// DefaultGuardConfig returns the guard settings used when none are given.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		RPS:          5,
		Burst:        10,
		TripFailures: 5,
		OpenFor:      30 * time.Second,
	}
}

// GuardFetch wraps a fetch collaborator with a token-bucket rate limiter
// and a circuit breaker, so a flapping data source neither gets hammered
// by a batch scan nor stalls every pipeline on its timeout. Breaker
// rejections surface as ErrDataSource like any other fetch failure; the
// cache gate's stale-fallback handles them.
func GuardFetch(fetch FetchFunc, cfg GuardConfig) FetchFunc {
	limiter := rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst)
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "bar-fetch",
		Timeout: cfg.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.TripFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("fetch breaker state changed")
		},
	})

	return func(ctx context.Context, ticker string, tf domain.Timeframe, since time.Time) ([]domain.PriceBar, error) {
		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limiter: %v", domain.ErrDataSource, err)
		}

		result, err := breaker.Execute(func() (interface{}, error) {
			return fetch(ctx, ticker, tf, since)
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrDataSource, err)
		}
		return result.([]domain.PriceBar), nil
	}
}
