package discovery

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/proximity-cli/internal/geo"
	"github.com/sells-group/proximity-cli/internal/model"
	"github.com/sells-group/proximity-cli/internal/resilience"
	"github.com/sells-group/proximity-cli/pkg/google"
)

// Attribute keys populated from Places results.
const (
	AttrName     = "name"
	AttrAddress  = "address"
	AttrPhone    = "phone"
	AttrCategory = "category"
)

// PlacesConfig configures a PlacesProvider.
type PlacesConfig struct {
	Query        string
	RadiusMeters float64
	MaxResults   int
	RatePerSec   float64
	Burst        int
	Retry        resilience.RetryConfig
	Breaker      resilience.CircuitBreakerConfig
}

// PlacesProvider searches Google Places around a point.
type PlacesProvider struct {
	client  google.Client
	cfg     PlacesConfig
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
}

// NewPlacesProvider wraps client with rate limiting, bounded retry, and a
// circuit breaker.
func NewPlacesProvider(client google.Client, cfg PlacesConfig) *PlacesProvider {
	if cfg.MaxResults <= 0 || cfg.MaxResults > 20 {
		cfg.MaxResults = 20
	}
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Retry.OnRetry == nil {
		cfg.Retry.OnRetry = resilience.RetryLogger("google_places", "search_text")
	}
	if cfg.Breaker.ShouldTrip == nil {
		cfg.Breaker.ShouldTrip = resilience.IsTransient
	}
	if cfg.Breaker.OnStateChange == nil {
		cfg.Breaker.OnStateChange = func(from, to resilience.CircuitState) {
			zap.L().Warn("discovery: circuit state change",
				zap.String("provider", "google_places"),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		}
	}

	return &PlacesProvider{
		client:  client,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		breaker: resilience.NewCircuitBreaker(cfg.Breaker),
	}
}

func (p *PlacesProvider) Name() string { return "google_places" }

func (p *PlacesProvider) Search(ctx context.Context, pt geo.Point) ([]model.RawCandidate, error) {
	req := google.TextSearchRequest{
		TextQuery:      p.cfg.Query,
		MaxResultCount: p.cfg.MaxResults,
	}
	if p.cfg.RadiusMeters > 0 {
		req.LocationBias = &google.LocationBias{Circle: google.Circle{
			Center: google.LatLng{Latitude: pt.Lat, Longitude: pt.Lon},
			Radius: p.cfg.RadiusMeters,
		}}
	}

	resp, err := resilience.Execute(ctx, p.breaker, func(ctx context.Context) (*google.TextSearchResponse, error) {
		return resilience.Do(ctx, p.cfg.Retry, func(ctx context.Context) (*google.TextSearchResponse, error) {
			if err := p.limiter.Wait(ctx); err != nil {
				return nil, eris.Wrap(err, "discovery: rate limit wait")
			}
			return p.client.SearchText(ctx, req)
		})
	})
	if err != nil {
		return nil, eris.Wrap(err, "discovery: places search")
	}

	out := make([]model.RawCandidate, 0, len(resp.Places))
	for _, place := range resp.Places {
		if place.ID == "" || place.Location == nil {
			zap.L().Debug("discovery: skipping place without id or location",
				zap.String("name", place.DisplayName.Text))
			continue
		}
		out = append(out, toCandidate(place))
	}
	return out, nil
}

func toCandidate(place google.Place) model.RawCandidate {
	attrs := map[string]string{AttrName: place.DisplayName.Text}
	if place.FormattedAddress != "" {
		attrs[AttrAddress] = place.FormattedAddress
	}
	if phone := CleanPhone(place.InternationalPhoneNumber); phone != "" {
		attrs[AttrPhone] = phone
	}
	if place.PrimaryType != "" {
		attrs[AttrCategory] = place.PrimaryType
	}
	return model.RawCandidate{
		ExternalID: place.ID,
		Location:   geo.Point{Lat: place.Location.Latitude, Lon: place.Location.Longitude},
		Attributes: attrs,
	}
}

// CleanPhone keeps only digits and '+'.
func CleanPhone(s string) string {
	return strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '+' {
			return r
		}
		return -1
	}, s)
}
