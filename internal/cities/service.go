package cities

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/weatherapp/forecast-service/internal/common"
	"github.com/weatherapp/forecast-service/internal/openweather"
)

// ResultKind labels where a search response came from.
type ResultKind string

const (
	KindPopular  ResultKind = "popular_cities"
	KindFallback ResultKind = "fallback_search"
	KindLive     ResultKind = "live_search"
)

const (
	minQueryLen = 2
	maxResults  = 8
	geocodeMax  = 10
)

// City is a search result suitable for autocomplete.
type City struct {
	Name        string  `json:"name"`
	Country     string  `json:"country"`
	CountryCode string  `json:"country_code"`
	State       string  `json:"state"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	DisplayName string  `json:"display_name"`
}

// Geocoder abstracts the upstream geocoding endpoint.
type Geocoder interface {
	FetchGeocode(ctx context.Context, query string, limit int) ([]openweather.City, error)
}

// popularCities is the immutable static fallback table, loaded once.
var popularCities = []City{
	newCity("London", "United Kingdom", "GB", "England", 51.5074, -0.1278),
	newCity("New York", "United States", "US", "New York", 40.7128, -74.0060),
	newCity("Tokyo", "Japan", "JP", "Tokyo", 35.6762, 139.6503),
	newCity("Paris", "France", "FR", "Île-de-France", 48.8566, 2.3522),
	newCity("Berlin", "Germany", "DE", "Berlin", 52.5200, 13.4050),
	newCity("Sydney", "Australia", "AU", "New South Wales", -33.8688, 151.2093),
	newCity("Toronto", "Canada", "CA", "Ontario", 43.6532, -79.3832),
	newCity("Mumbai", "India", "IN", "Maharashtra", 19.0760, 72.8777),
	newCity("Beijing", "China", "CN", "Beijing", 39.9042, 116.4074),
	newCity("São Paulo", "Brazil", "BR", "São Paulo", -23.5505, -46.6333),
	newCity("Moscow", "Russia", "RU", "Moscow", 55.7558, 37.6176),
	newCity("Mexico City", "Mexico", "MX", "Mexico City", 19.4326, -99.1332),
	newCity("Cairo", "Egypt", "EG", "Cairo", 30.0444, 31.2357),
	newCity("Lagos", "Nigeria", "NG", "Lagos", 6.5244, 3.3792),
	newCity("Bangkok", "Thailand", "TH", "Bangkok", 13.7563, 100.5018),
}

var countryNames = map[string]string{
	"US": "United States",
	"GB": "United Kingdom",
	"CA": "Canada",
	"AU": "Australia",
	"DE": "Germany",
	"FR": "France",
	"IT": "Italy",
	"ES": "Spain",
	"JP": "Japan",
	"CN": "China",
	"IN": "India",
	"BR": "Brazil",
	"RU": "Russia",
	"MX": "Mexico",
}

// Service answers city search and autocomplete requests, falling back to the
// static popular-cities table when the query is too short or upstream fails.
type Service struct {
	geo Geocoder
	log *zap.SugaredLogger
}

func NewService(geo Geocoder, log *zap.SugaredLogger) *Service {
	return &Service{geo: geo, log: log}
}

// Search returns matching cities and the kind of result served. Queries
// shorter than two characters never reach the geocoding upstream. A 4xx from
// upstream is surfaced as an error; any other failure falls back to the
// popular list.
func (s *Service) Search(ctx context.Context, query string) ([]City, ResultKind, error) {
	trimmed := strings.TrimSpace(query)
	if len(trimmed) < minQueryLen {
		return filterPopular(trimmed), KindPopular, nil
	}

	results, err := s.geo.FetchGeocode(ctx, trimmed, geocodeMax)
	if err != nil {
		var se *openweather.StatusError
		if errors.As(err, &se) && se.ClientError() {
			s.log.Errorw("geocoding rejected search request", "query", trimmed, "status", se.StatusCode)
			return nil, "", se
		}

		s.log.Warnw("geocoding unavailable, using popular cities", "query", trimmed, "error", err)
		return filterPopular(trimmed), KindFallback, nil
	}

	if len(results) == 0 {
		s.log.Infow("no geocoding matches, using popular cities", "query", trimmed)
		return filterPopular(trimmed), KindFallback, nil
	}

	cities := make([]City, 0, maxResults)
	seen := make(map[string]bool)
	for _, r := range results {
		if len(cities) >= maxResults {
			break
		}

		c := newCity(r.Name, countryName(r.CountryCode), r.CountryCode, r.State, r.Latitude, r.Longitude)
		key := c.Name + "|" + c.State + "|" + c.CountryCode
		if seen[key] {
			continue
		}
		seen[key] = true
		cities = append(cities, c)
	}

	return cities, KindLive, nil
}

// Popular returns the static popular-cities list capped at maxResults.
func (s *Service) Popular() []City {
	out := make([]City, 0, maxResults)
	for i, c := range popularCities {
		if i >= maxResults {
			break
		}
		out = append(out, c)
	}
	return out
}

// filterPopular matches the popular list against the query by name or
// country substring. An empty query returns the head of the list.
func filterPopular(query string) []City {
	if query == "" {
		out := make([]City, 0, maxResults)
		for i, c := range popularCities {
			if i >= maxResults {
				break
			}
			out = append(out, c)
		}
		return out
	}

	var out []City
	for _, c := range popularCities {
		if len(out) >= maxResults {
			break
		}
		if common.ContainsFold(c.Name, query) || common.ContainsFold(c.Country, query) {
			out = append(out, c)
		}
	}
	return out
}

func countryName(code string) string {
	if name, ok := countryNames[code]; ok {
		return name
	}
	return code
}

func newCity(name, country, countryCode, state string, lat, lon float64) City {
	c := City{
		Name:        name,
		Country:     country,
		CountryCode: countryCode,
		State:       state,
		Latitude:    lat,
		Longitude:   lon,
	}

	parts := []string{name}
	if state != "" {
		parts = append(parts, state)
	}
	if country != "" {
		parts = append(parts, country)
	}
	c.DisplayName = strings.Join(parts, ", ")

	return c
}
