package forecast

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/weatherapp/forecast-service/internal/openweather"
)

var (
	// ErrUnavailable means every fallback tier was exhausted (or fallback
	// is disabled) and no data can be served.
	ErrUnavailable = errors.New("weather service unavailable and no fallback data")

	// ErrNoData means no persisted data exists for the requested city.
	ErrNoData = errors.New("no offline weather data available")
)

const (
	offlineMarker   = "⚠️ Offline data - "
	emergencyMarker = "⚠️ Emergency fallback - Weather service unavailable. Check weather conditions manually."

	syntheticDescription = "Weather data temporarily unavailable"
	offlineFallbackNote  = "Weather service temporarily unavailable"
)

// Config holds the fallback policy thresholds.
type Config struct {
	// Days is the forecast window served to callers.
	Days int
	// FreshWindow is how recent a cached record must be to short-circuit
	// the upstream call entirely.
	FreshWindow time.Duration
	// MaxAge is how old cached records may be and still serve as a stale
	// fallback when upstream is down.
	MaxAge time.Duration
	// FallbackEnabled gates the stale-cache and synthetic tiers.
	FallbackEnabled bool
	// EmergencyFallback gates the synthetic last-resort tier.
	EmergencyFallback bool
}

// Service resolves forecast requests under upstream uncertainty: it decides
// between fresh cache, a live upstream call, stale cache, and synthetic
// placeholder data, and labels each response with its provenance.
type Service struct {
	store    Store
	upstream Upstream
	cfg      Config
	clock    clockwork.Clock
	rng      *rand.Rand
	log      *zap.SugaredLogger
}

// NewService creates a Service with a real clock and a time-seeded RNG.
func NewService(store Store, upstream Upstream, cfg Config, log *zap.SugaredLogger) *Service {
	if cfg.Days <= 0 {
		cfg.Days = 3
	}
	if cfg.FreshWindow <= 0 {
		cfg.FreshWindow = 30 * time.Minute
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 24 * time.Hour
	}

	return &Service{
		store:    store,
		upstream: upstream,
		cfg:      cfg,
		clock:    clockwork.NewRealClock(),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		log:      log,
	}
}

// ResolveForecast returns the forecast window for a city, labelled with its
// provenance. The city is treated as an opaque cache key.
//
// Tier order: fresh cache, live upstream, stale cache, synthetic. A 4xx from
// upstream is a hard failure and skips the fallback tiers entirely.
func (s *Service) ResolveForecast(ctx context.Context, city string) ([]Record, Provenance, error) {
	today := NewDate(s.clock.Now())
	end := today.AddDays(s.cfg.Days)

	cached, err := s.store.RangeByCity(ctx, city, today, end)
	if err != nil {
		return nil, "", fmt.Errorf("read cached forecasts: %w", err)
	}

	if len(cached) > 0 && s.isFresh(cached[0]) {
		s.log.Infow("serving fresh cached forecast", "city", city, "days", len(cached))
		return cached, ProvenanceFreshCache, nil
	}

	samples, err := s.upstream.FetchForecast(ctx, city)
	if err == nil {
		records := AggregateSamples(city, samples, s.cfg.Days)
		persisted := make([]Record, 0, len(records))
		for _, rec := range records {
			saved, upsertErr := s.store.UpsertRecord(ctx, rec)
			if upsertErr != nil {
				// Serve the fetched data even if persisting it failed.
				s.log.Warnw("forecast upsert failed", "city", city, "date", rec.Date.String(), "error", upsertErr)
				saved = rec
			}
			persisted = append(persisted, saved)
		}
		s.log.Infow("fetched fresh forecast", "city", city, "days", len(persisted))
		return persisted, ProvenanceLive, nil
	}

	var se *openweather.StatusError
	if errors.As(err, &se) && se.ClientError() {
		s.log.Errorw("upstream rejected forecast request", "city", city, "status", se.StatusCode)
		return nil, "", se
	}

	s.log.Warnw("upstream forecast unavailable", "city", city, "error", err)
	return s.fallback(city, cached)
}

// fallback serves the stale-cache and synthetic tiers after an upstream
// failure. cached holds whatever the initial range read returned.
func (s *Service) fallback(city string, cached []Record) ([]Record, Provenance, error) {
	if !s.cfg.FallbackEnabled {
		return nil, "", fmt.Errorf("fallback disabled: %w", ErrUnavailable)
	}

	if len(cached) > 0 {
		age := s.clock.Now().Sub(cached[0].UpdatedAt)
		if age <= s.cfg.MaxAge {
			s.log.Infow("serving stale cached forecast", "city", city, "age", age)
			return markOffline(cached), ProvenanceStaleCache, nil
		}
		s.log.Warnw("cached forecast too old for fallback", "city", city, "age", age, "max_age", s.cfg.MaxAge)
	}

	if s.cfg.EmergencyFallback {
		s.log.Warnw("serving emergency fallback forecast", "city", city)
		return s.synthetic(city), ProvenanceSynthetic, nil
	}

	return nil, "", fmt.Errorf("no fallback data for %s: %w", city, ErrUnavailable)
}

// OfflineForecast returns every persisted record for a city, regardless of
// age, falling back to synthetic data when nothing is stored.
func (s *Service) OfflineForecast(ctx context.Context, city string) ([]Record, Provenance, error) {
	records, err := s.store.AllByCity(ctx, city)
	if err != nil {
		return nil, "", fmt.Errorf("read offline forecasts: %w", err)
	}

	if len(records) == 0 {
		if s.cfg.EmergencyFallback {
			s.log.Warnw("no offline data, serving emergency fallback", "city", city)
			return s.synthetic(city), ProvenanceSynthetic, nil
		}
		return nil, "", fmt.Errorf("%w for %s", ErrNoData, city)
	}

	return records, ProvenanceStaleCache, nil
}

// Health reports service health for the health endpoint.
type Health struct {
	Status          string `json:"status"`
	Database        string `json:"database"`
	ExternalAPI     string `json:"externalApi"`
	FallbackEnabled bool   `json:"fallbackEnabled"`
}

// ServiceHealth probes the store and the upstream API.
func (s *Service) ServiceHealth(ctx context.Context) Health {
	h := Health{Status: "UP", Database: "UP", ExternalAPI: "UP", FallbackEnabled: s.cfg.FallbackEnabled}

	if err := s.store.Ping(ctx); err != nil {
		s.log.Warnw("database health check failed", "error", err)
		h.Database = "DOWN"
	}

	if !s.upstream.Available(ctx) {
		h.ExternalAPI = "DOWN"
	}

	if h.Database != "UP" || h.ExternalAPI != "UP" {
		h.Status = "DEGRADED"
	}

	return h
}

func (s *Service) isFresh(rec Record) bool {
	return s.clock.Now().Sub(rec.UpdatedAt) <= s.cfg.FreshWindow
}

// markOffline copies records and prefixes their advisory text with the
// offline marker. Stored rows stay untouched.
func markOffline(records []Record) []Record {
	out := make([]Record, len(records))
	for i, rec := range records {
		advisory := rec.Advisory
		if advisory == "" {
			advisory = offlineFallbackNote
		}
		rec.Advisory = offlineMarker + advisory
		out[i] = rec
	}
	return out
}

// synthetic builds placeholder records with bounded random temperatures.
// Synthetic records are never persisted.
func (s *Service) synthetic(city string) []Record {
	today := NewDate(s.clock.Now())

	records := make([]Record, 0, s.cfg.Days)
	for i := 0; i < s.cfg.Days; i++ {
		high := 20.0 + s.rng.Float64()*10
		records = append(records, Record{
			City:        city,
			Date:        today.AddDays(i),
			HighTemp:    high,
			LowTemp:     high - 10,
			Description: syntheticDescription,
			Condition:   "Unknown",
			WindSpeed:   5.0,
			Humidity:    60,
			Pressure:    1013.25,
			Advisory:    emergencyMarker,
		})
	}

	return records
}
