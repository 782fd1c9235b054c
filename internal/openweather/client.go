package openweather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Sample is one 3-hourly forecast entry from the upstream forecast endpoint.
type Sample struct {
	Timestamp   time.Time
	TempMax     float64
	TempMin     float64
	Description string
	Condition   string
	WindSpeed   float64
	Humidity    int
	Pressure    float64
	PrecipMM    float64
}

// City is a raw geocoding result. Country is the ISO code as returned by the
// API; mapping it to a display name is the caller's concern.
type City struct {
	Name        string
	CountryCode string
	State       string
	Latitude    float64
	Longitude   float64
}

// Config holds client settings.
type Config struct {
	APIKey  string
	BaseURL string // data API, e.g. https://api.openweathermap.org/data/2.5
	GeoURL  string // geocoding API, e.g. https://api.openweathermap.org/geo/1.0
	Days    int    // forecast window; the API returns 8 samples per day
	Client  *http.Client
	RPS     float64
	Burst   int
}

// Client calls the OpenWeatherMap forecast and geocoding APIs with retries,
// a circuit breaker, and a local rate limiter.
type Client struct {
	cfg     Config
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	log     *zap.SugaredLogger
}

// NewClient creates a Client. Forecast and geocoding calls share one breaker
// and one limiter since they hit the same upstream.
func NewClient(cfg Config, log *zap.SugaredLogger) *Client {
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Days <= 0 {
		cfg.Days = 3
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openweather",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})

	return &Client{
		cfg: cfg,
		httpCfg: HTTPClientConfig{
			Client: cfg.Client,
			Backoff: BackoffConfig{
				MaxRetries:      3,
				InitialInterval: 500 * time.Millisecond,
				MaxInterval:     5 * time.Second,
			},
		},
		circuit: cb,
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		log:     log,
	}
}

// FetchForecast returns the 3-hourly samples for the configured window.
func (c *Client) FetchForecast(ctx context.Context, city string) ([]Sample, error) {
	if c.cfg.APIKey == "" {
		return nil, fmt.Errorf("openweather api key is not configured")
	}

	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("q", city)
		values.Set("appid", c.cfg.APIKey)
		values.Set("units", "metric")
		values.Set("cnt", fmt.Sprintf("%d", c.cfg.Days*8))

		u := fmt.Sprintf("%s/forecast?%s", c.cfg.BaseURL, values.Encode())
		return http.NewRequest(http.MethodGet, u, nil)
	}

	resp, err := doRequestWithResilience(ctx, c.httpCfg, c.circuit, c.limiter, buildRequest)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload struct {
		List []struct {
			Dt   int64 `json:"dt"`
			Main struct {
				TempMax  float64 `json:"temp_max"`
				TempMin  float64 `json:"temp_min"`
				Humidity int     `json:"humidity"`
				Pressure float64 `json:"pressure"`
			} `json:"main"`
			Wind struct {
				Speed float64 `json:"speed"`
			} `json:"wind"`
			Rain struct {
				ThreeH float64 `json:"3h"`
			} `json:"rain"`
			Weather []struct {
				Main        string `json:"main"`
				Description string `json:"description"`
			} `json:"weather"`
		} `json:"list"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}

	if len(payload.List) == 0 {
		return nil, fmt.Errorf("%w: empty forecast payload", ErrUnavailable)
	}

	samples := make([]Sample, 0, len(payload.List))
	for _, item := range payload.List {
		s := Sample{
			Timestamp: time.Unix(item.Dt, 0).UTC(),
			TempMax:   item.Main.TempMax,
			TempMin:   item.Main.TempMin,
			Humidity:  item.Main.Humidity,
			Pressure:  item.Main.Pressure,
			WindSpeed: item.Wind.Speed,
			PrecipMM:  item.Rain.ThreeH,
		}
		if len(item.Weather) > 0 {
			s.Condition = item.Weather[0].Main
			s.Description = item.Weather[0].Description
		}
		samples = append(samples, s)
	}

	return samples, nil
}

// FetchGeocode resolves a free-text query into candidate cities.
func (c *Client) FetchGeocode(ctx context.Context, query string, limit int) ([]City, error) {
	if c.cfg.APIKey == "" {
		return nil, fmt.Errorf("openweather api key is not configured")
	}
	if limit <= 0 {
		limit = 10
	}

	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("q", query)
		values.Set("limit", fmt.Sprintf("%d", limit))
		values.Set("appid", c.cfg.APIKey)

		u := fmt.Sprintf("%s/direct?%s", c.cfg.GeoURL, values.Encode())
		return http.NewRequest(http.MethodGet, u, nil)
	}

	resp, err := doRequestWithResilience(ctx, c.httpCfg, c.circuit, c.limiter, buildRequest)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload []struct {
		Name    string  `json:"name"`
		Lat     float64 `json:"lat"`
		Lon     float64 `json:"lon"`
		Country string  `json:"country"`
		State   string  `json:"state"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}

	cities := make([]City, 0, len(payload))
	for _, item := range payload {
		cities = append(cities, City{
			Name:        item.Name,
			CountryCode: item.Country,
			State:       item.State,
			Latitude:    item.Lat,
			Longitude:   item.Lon,
		})
	}

	return cities, nil
}

// Available probes the upstream with a single cheap request. Used by the
// health endpoint; failures are reported, not retried.
func (c *Client) Available(ctx context.Context) bool {
	if c.cfg.APIKey == "" {
		return false
	}

	values := url.Values{}
	values.Set("q", "London")
	values.Set("appid", c.cfg.APIKey)

	u := fmt.Sprintf("%s/weather?%s", c.cfg.BaseURL, values.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return false
		}
	}

	resp, err := c.cfg.Client.Do(req)
	if err != nil {
		c.log.Debugw("weather api health probe failed", "error", err)
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
