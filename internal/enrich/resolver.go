// Pathtrace - Behavioral Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pathtrace

package enrich

import (
	"context"
	"time"

	"github.com/coder/quartz"

	"github.com/tomtom215/pathtrace/internal/cache"
	"github.com/tomtom215/pathtrace/internal/config"
	"github.com/tomtom215/pathtrace/internal/logging"
	"github.com/tomtom215/pathtrace/internal/metrics"
	"github.com/tomtom215/pathtrace/internal/models"
)

// GeoResolver resolves an address to a Geo, never failing: private
// addresses and every lookup error yield Unknown/Unknown. Successful
// lookups are cached.
type GeoResolver struct {
	provider GeoProvider
	cache    *cache.Cache[string, models.Geo]
	timeout  time.Duration
	clock    quartz.Clock
}

// ResolverOption configures a GeoResolver.
type ResolverOption func(*GeoResolver)

// WithResolverClock replaces the clock used for lookup timing and the cache.
func WithResolverClock(c quartz.Clock) ResolverOption {
	return func(r *GeoResolver) { r.clock = c }
}

// NewGeoResolver creates a resolver over provider. A nil provider disables lookups.
func NewGeoResolver(provider GeoProvider, cacheTTL, timeout time.Duration, opts ...ResolverOption) *GeoResolver {
	if provider == nil {
		provider = NoopProvider{}
	}
	r := &GeoResolver{
		provider: provider,
		timeout:  timeout,
		clock:    quartz.NewReal(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.cache = cache.New[string, models.Geo]("geo", cacheTTL, cache.WithClock(r.clock))
	return r
}

// NewGeoResolverFromConfig builds the provider chain selected by cfg: the
// remote provider wrapped in a circuit breaker, behind the resolver cache.
func NewGeoResolverFromConfig(cfg *config.GeoIPConfig) *GeoResolver {
	var provider GeoProvider
	switch cfg.Provider {
	case "ipapi":
		provider = NewIPAPIProvider(cfg.IPAPIURL, cfg.RequestsPerMinute, cfg.Timeout)
	case "maxmind":
		provider = NewMaxMindProvider(cfg.MaxMindURL, cfg.MaxMindAccountID, cfg.MaxMindLicenseKey, cfg.Timeout)
	default:
		return NewGeoResolver(NoopProvider{}, cfg.CacheTTL, cfg.Timeout)
	}

	breaker := NewBreakerProvider(provider, BreakerSettings{
		MaxRequests:  cfg.BreakerMaxRequests,
		Interval:     cfg.BreakerInterval,
		Timeout:      cfg.BreakerTimeout,
		MinRequests:  cfg.BreakerMinRequests,
		FailureRatio: cfg.BreakerFailureRatio,
	})
	return NewGeoResolver(breaker, cfg.CacheTTL, cfg.Timeout)
}

// ProviderName returns the name of the configured provider.
func (r *GeoResolver) ProviderName() string {
	return r.provider.Name()
}

// Resolve returns the geo location of ip.
func (r *GeoResolver) Resolve(ctx context.Context, ip string) models.Geo {
	name := r.provider.Name()
	ip = NormalizeIP(ip)

	if IsPrivateIP(ip) {
		metrics.GeoLookups.WithLabelValues(name, "private").Inc()
		return models.UnknownGeo()
	}
	if _, disabled := r.provider.(NoopProvider); disabled {
		return models.UnknownGeo()
	}

	if geo, ok := r.cache.Get(ip); ok {
		metrics.GeoLookups.WithLabelValues(name, "hit").Inc()
		return geo
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := r.clock.Now()
	geo, err := r.provider.Lookup(ctx, ip)
	metrics.GeoLookupDuration.Observe(r.clock.Since(start).Seconds())
	if err != nil {
		metrics.GeoLookups.WithLabelValues(name, "error").Inc()
		logLookupFailure(name, ip, err)
		return models.UnknownGeo()
	}

	metrics.GeoLookups.WithLabelValues(name, "miss").Inc()
	r.cache.Set(ip, geo)
	logging.Debug().
		Str("provider", name).
		Str("ip", logging.MaskIP(ip)).
		Str("country", geo.Country).
		Msg("geo lookup resolved")
	return geo
}

// Sweep drops expired cache entries.
func (r *GeoResolver) Sweep() int {
	return r.cache.Sweep()
}
