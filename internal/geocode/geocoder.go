// Package geocode resolves farm locations through the Google Maps
// geocoding API, behind a persistent cache and a circuit breaker so
// catalog workflows degrade to "no coordinates" instead of failing.
package geocode

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"strings"
	"time"

	"googlemaps.github.io/maps"

	"coffee-catalog/internal/models"
	"coffee-catalog/pkg/circuit"
	"coffee-catalog/pkg/database"
	errs "coffee-catalog/pkg/errors"
	"coffee-catalog/pkg/logging"
	"coffee-catalog/pkg/metrics"
)

// MapsClient abstracts the Google Maps client for testing.
// *maps.Client satisfies it.
type MapsClient interface {
	Geocode(ctx context.Context, r *maps.GeocodingRequest) ([]maps.GeocodingResult, error)
}

// Cache is the persistent query cache. *database.DB satisfies it.
type Cache interface {
	GetGeocodeCacheCtx(ctx context.Context, queryHash string) (*database.GeocodeEntry, error)
	PutGeocodeCacheCtx(ctx context.Context, queryHash string, e *database.GeocodeEntry) error
}

var (
	mLookups   = metrics.Default.Counter("geocode_lookups_total", "Geocode lookups requested")
	mCacheHits = metrics.Default.Counter("geocode_cache_hits_total", "Lookups served from cache")
	mAPICalls  = metrics.Default.Counter("geocode_api_calls_total", "Google Maps API calls made")
	mNoResult  = metrics.Default.Counter("geocode_no_result_total", "Lookups that found nothing")
)

// Location is a resolved farm position.
type Location struct {
	Lat     float64
	Lng     float64
	Country string
	Region  string
}

type Geocoder struct {
	client   MapsClient
	cache    Cache
	breaker  *circuit.Breaker
	cacheTTL time.Duration
	log      *logging.ComponentLogger
}

// Config tunes cache and breaker behavior.
type Config struct {
	CacheTTL time.Duration
	Breaker  circuit.Config
}

func DefaultConfig() Config {
	return Config{
		CacheTTL: 30 * 24 * time.Hour,
		Breaker: circuit.Config{
			Name:              "googlemaps",
			OperationTimeout:  10 * time.Second,
			OpenFor:           time.Minute,
			MaxConsecFailures: 5,
			WindowSize:        20,
			FailureRate:       0.5,
		},
	}
}

// NewClient builds the real Google Maps client from an API key.
func NewClient(apiKey string) (*maps.Client, error) {
	return maps.NewClient(maps.WithAPIKey(apiKey))
}

func New(client MapsClient, cache Cache, cfg Config, logger *logging.Logger) *Geocoder {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * 24 * time.Hour
	}
	g := &Geocoder{
		client:   client,
		cache:    cache,
		breaker:  circuit.New(cfg.Breaker, logger),
		cacheTTL: cfg.CacheTTL,
	}
	if logger != nil {
		g.log = logger.WithComponent("geocode")
	}
	return g
}

// BreakerState exposes the circuit state for health checks.
func (g *Geocoder) BreakerState() circuit.State { return g.breaker.State() }

// ResolveFarm finds coordinates for a farm. It returns nil with no error
// when the location cannot be determined; callers leave the farm where
// it was.
func (g *Geocoder) ResolveFarm(ctx context.Context, farm *models.Farm) (*Location, error) {
	query := buildQuery(farm)
	if query == "" {
		return nil, nil
	}
	return g.Lookup(ctx, query)
}

// Lookup geocodes a free-form query, cache first.
func (g *Geocoder) Lookup(ctx context.Context, query string) (*Location, error) {
	mLookups.Inc(1)
	hash := queryHash(query)

	if g.cache != nil {
		entry, err := g.cache.GetGeocodeCacheCtx(ctx, hash)
		if err != nil {
			if g.log != nil {
				g.log.Warn("geocode cache read failed", logging.Error(err))
			}
		} else if entry != nil && time.Since(entry.CachedAt) < g.cacheTTL {
			mCacheHits.Inc(1)
			return entryToLocation(entry), nil
		}
	}

	var results []maps.GeocodingResult
	err := g.breaker.Do(ctx, func(ctx context.Context) error {
		mAPICalls.Inc(1)
		var apiErr error
		results, apiErr = g.client.Geocode(ctx, &maps.GeocodingRequest{Address: query})
		return apiErr
	}, nil)
	if err != nil {
		return nil, errs.NewExternal("geocode.Lookup", "googlemaps", "geocoding request failed", err)
	}
	if len(results) == 0 {
		mNoResult.Inc(1)
		return nil, nil
	}

	loc := resultToLocation(results[0])
	if g.cache != nil {
		entry := &database.GeocodeEntry{
			Query: query,
			Lat:   loc.Lat,
			Lng:   loc.Lng,
		}
		if loc.Country != "" {
			entry.Country = &loc.Country
		}
		if loc.Region != "" {
			entry.Region = &loc.Region
		}
		if err := g.cache.PutGeocodeCacheCtx(ctx, hash, entry); err != nil && g.log != nil {
			g.log.Warn("geocode cache write failed", logging.Error(err))
		}
	}
	return loc, nil
}

// buildQuery assembles the most specific query the farm record allows.
// A farm with neither region nor country is not worth geocoding; bare
// farm names resolve to noise.
func buildQuery(farm *models.Farm) string {
	var parts []string
	if farm.Name != "" {
		parts = append(parts, farm.Name)
	}
	if farm.Region != nil && *farm.Region != "" {
		parts = append(parts, *farm.Region)
	}
	if farm.Country != nil && *farm.Country != "" {
		parts = append(parts, *farm.Country)
	}
	if len(parts) < 2 {
		return ""
	}
	return strings.Join(parts, ", ")
}

func queryHash(query string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(query))))
	return hex.EncodeToString(sum[:])
}

func entryToLocation(e *database.GeocodeEntry) *Location {
	loc := &Location{Lat: e.Lat, Lng: e.Lng}
	if e.Country != nil {
		loc.Country = *e.Country
	}
	if e.Region != nil {
		loc.Region = *e.Region
	}
	return loc
}

// resultToLocation extracts coordinates plus country and first-level
// administrative area from the geocoding result.
func resultToLocation(r maps.GeocodingResult) *Location {
	loc := &Location{
		Lat: r.Geometry.Location.Lat,
		Lng: r.Geometry.Location.Lng,
	}
	for _, comp := range r.AddressComponents {
		for _, t := range comp.Types {
			switch t {
			case "country":
				loc.Country = comp.LongName
			case "administrative_area_level_1":
				loc.Region = comp.LongName
			}
		}
	}
	return loc
}
