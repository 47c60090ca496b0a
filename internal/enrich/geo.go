// Pathtrace - Behavioral Event Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pathtrace

package enrich

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/tomtom215/pathtrace/internal/logging"
	"github.com/tomtom215/pathtrace/internal/models"
)

var (
	// ErrProviderUnavailable is returned when no provider is configured.
	ErrProviderUnavailable = errors.New("geo provider unavailable")

	// ErrRateLimited is returned when the outbound request budget is spent.
	ErrRateLimited = errors.New("geo provider rate limit exceeded")
)

const (
	defaultIPAPIURL   = "http://ip-api.com/json"
	defaultMaxMindURL = "https://geolite.info/geoip/v2.1/city"
)

// GeoProvider looks up the country and city of a public IP address.
type GeoProvider interface {
	Lookup(ctx context.Context, ip string) (models.Geo, error)
	Name() string
}

// ========================================
// ip-api.com Provider (Free, No API Key)
// ========================================

// IPAPIProvider uses the free ip-api.com service. The free tier allows 45
// requests per minute; requests beyond the budget fail fast with
// ErrRateLimited instead of queueing behind a visitor's connect.
type IPAPIProvider struct {
	client  *http.Client
	limiter *rate.Limiter
	baseURL string
}

type ipAPIResponse struct {
	Status  string `json:"status"`  // "success" or "fail"
	Message string `json:"message"` // reason when status is "fail"
	Country string `json:"country"`
	City    string `json:"city"`
}

// NewIPAPIProvider creates an ip-api.com provider allowing perMinute
// requests. An empty baseURL selects the public endpoint.
func NewIPAPIProvider(baseURL string, perMinute int, timeout time.Duration) *IPAPIProvider {
	if baseURL == "" {
		baseURL = defaultIPAPIURL
	}
	if perMinute <= 0 {
		perMinute = 45
	}
	return &IPAPIProvider{
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		baseURL: baseURL,
	}
}

// Name returns the provider name.
func (p *IPAPIProvider) Name() string {
	return "ip-api.com"
}

// Lookup queries ip-api.com.
func (p *IPAPIProvider) Lookup(ctx context.Context, ip string) (models.Geo, error) {
	if !p.limiter.Allow() {
		return models.Geo{}, ErrRateLimited
	}
	if _, err := netip.ParseAddr(ip); err != nil {
		return models.Geo{}, fmt.Errorf("invalid IP address: %s", ip)
	}

	url := fmt.Sprintf("%s/%s?fields=status,message,country,city", p.baseURL, ip)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return models.Geo{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return models.Geo{}, fmt.Errorf("failed to query ip-api.com: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.Geo{}, fmt.Errorf("ip-api.com returned status %d", resp.StatusCode)
	}

	var result ipAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return models.Geo{}, fmt.Errorf("failed to decode ip-api.com response: %w", err)
	}
	if result.Status != "success" {
		return models.Geo{}, fmt.Errorf("ip-api.com lookup failed: %s", result.Message)
	}

	return geoOrUnknown(result.Country, result.City), nil
}

// ========================================
// MaxMind GeoLite2 Provider
// ========================================

// MaxMindProvider uses MaxMind's GeoLite2 web service with basic auth.
type MaxMindProvider struct {
	client     *http.Client
	accountID  string
	licenseKey string
	baseURL    string
}

type maxMindResponse struct {
	City struct {
		Names map[string]string `json:"names"`
	} `json:"city"`
	Country struct {
		Names map[string]string `json:"names"`
	} `json:"country"`
}

type maxMindErrorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// NewMaxMindProvider creates a MaxMind provider. An empty baseURL selects
// the public endpoint.
func NewMaxMindProvider(baseURL, accountID, licenseKey string, timeout time.Duration) *MaxMindProvider {
	if baseURL == "" {
		baseURL = defaultMaxMindURL
	}
	return &MaxMindProvider{
		client:     &http.Client{Timeout: timeout},
		accountID:  accountID,
		licenseKey: licenseKey,
		baseURL:    baseURL,
	}
}

// Name returns the provider name.
func (p *MaxMindProvider) Name() string {
	return "maxmind-geolite2"
}

// Lookup queries the MaxMind city endpoint.
func (p *MaxMindProvider) Lookup(ctx context.Context, ip string) (models.Geo, error) {
	if p.accountID == "" || p.licenseKey == "" {
		return models.Geo{}, fmt.Errorf("MaxMind credentials not configured: %w", ErrProviderUnavailable)
	}
	if _, err := netip.ParseAddr(ip); err != nil {
		return models.Geo{}, fmt.Errorf("invalid IP address: %s", ip)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/"+ip, http.NoBody)
	if err != nil {
		return models.Geo{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(p.accountID, p.licenseKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return models.Geo{}, fmt.Errorf("failed to query MaxMind: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp maxMindErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Error != "" {
			return models.Geo{}, fmt.Errorf("MaxMind error (%s): %s", errResp.Code, errResp.Error)
		}
		return models.Geo{}, fmt.Errorf("MaxMind returned status %d", resp.StatusCode)
	}

	var result maxMindResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return models.Geo{}, fmt.Errorf("failed to decode MaxMind response: %w", err)
	}

	return geoOrUnknown(result.Country.Names["en"], result.City.Names["en"]), nil
}

// NoopProvider is selected when geo lookups are disabled.
type NoopProvider struct{}

// Name returns the provider name.
func (NoopProvider) Name() string { return "none" }

// Lookup always fails with ErrProviderUnavailable.
func (NoopProvider) Lookup(context.Context, string) (models.Geo, error) {
	return models.Geo{}, ErrProviderUnavailable
}

func geoOrUnknown(country, city string) models.Geo {
	geo := models.UnknownGeo()
	if country != "" {
		geo.Country = country
	}
	if city != "" {
		geo.City = city
	}
	return geo
}

func logLookupFailure(provider, ip string, err error) {
	logging.Debug().
		Err(err).
		Str("provider", provider).
		Str("ip", logging.MaskIP(ip)).
		Msg("geo lookup failed")
}
