// Pathtrace - Behavioral Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pathtrace

package enrich

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/pathtrace/internal/logging"
	"github.com/tomtom215/pathtrace/internal/metrics"
	"github.com/tomtom215/pathtrace/internal/models"
)

// BreakerSettings configures a BreakerProvider.
type BreakerSettings struct {
	MaxRequests  uint32        // probes allowed while half-open
	Interval     time.Duration // closed-state count reset period
	Timeout      time.Duration // open-state duration before probing
	MinRequests  uint32
	FailureRatio float64
}

// DefaultBreakerSettings opens after 60% failures over at least 10 requests
// and probes again after 2 minutes.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MaxRequests:  3,
		Interval:     time.Minute,
		Timeout:      2 * time.Minute,
		MinRequests:  10,
		FailureRatio: 0.6,
	}
}

// BreakerProvider wraps a GeoProvider with a circuit breaker so a failing
// upstream is not hit on every connect.
//
// The breaker uses real time (via sony/gobreaker) for its interval and
// timeout. Tests exercise the tripping logic, not the recovery clock.
type BreakerProvider struct {
	inner GeoProvider
	cb    *gobreaker.CircuitBreaker[models.Geo]
	name  string
}

// NewBreakerProvider wraps inner.
func NewBreakerProvider(inner GeoProvider, s BreakerSettings) *BreakerProvider {
	name := "geo-" + inner.Name()
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[models.Geo](gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			shouldTrip := failureRatio >= s.FailureRatio
			if shouldTrip {
				logging.Warn().
					Str("breaker", name).
					Uint32("failures", counts.TotalFailures).
					Float64("failure_rate", failureRatio*100).
					Msg("[CIRCUIT BREAKER] Opening circuit")
			}
			return shouldTrip
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("[CIRCUIT BREAKER] State transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},

		// Local budget exhaustion and caller cancellation say nothing
		// about upstream health.
		IsExcluded: func(err error) bool {
			return errors.Is(err, ErrRateLimited) || errors.Is(err, context.Canceled)
		},
	})

	return &BreakerProvider{inner: inner, cb: cb, name: name}
}

// Name returns the wrapped provider's name.
func (b *BreakerProvider) Name() string {
	return b.inner.Name()
}

// State returns the current breaker state.
func (b *BreakerProvider) State() gobreaker.State {
	return b.cb.State()
}

// Lookup runs the wrapped lookup under the breaker.
func (b *BreakerProvider) Lookup(ctx context.Context, ip string) (models.Geo, error) {
	geo, err := b.cb.Execute(func() (models.Geo, error) {
		return b.inner.Lookup(ctx, ip)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.GeoLookups.WithLabelValues(b.inner.Name(), "rejected").Inc()
	}
	return geo, err
}

// stateToFloat converts circuit breaker state to numeric value for metrics
func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
