package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig is the full service configuration, read from the environment.
type AppConfig struct {
	// OpenWeatherMap access.
	OpenWeatherAPIKey  string
	OpenWeatherBaseURL string
	OpenWeatherGeoURL  string
	HTTPTimeout        time.Duration

	// Fallback policy thresholds.
	ForecastDays      int
	FallbackEnabled   bool
	EmergencyFallback bool
	FreshWindow       time.Duration
	CacheMaxAge       time.Duration

	// Upstream rate limiting.
	UpstreamRPS   float64
	UpstreamBurst int

	// Persistence.
	DatabaseURL string

	// Background cache refresh. An empty city list disables the job.
	RefreshInterval time.Duration
	RefreshCities   []string

	Port     string
	LogLevel string
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}

	cfg := &AppConfig{}

	cfg.OpenWeatherAPIKey = os.Getenv("OPENWEATHER_API_KEY")
	cfg.OpenWeatherBaseURL = getenvDefault("OPENWEATHER_BASE_URL", "https://api.openweathermap.org/data/2.5")
	cfg.OpenWeatherGeoURL = getenvDefault("OPENWEATHER_GEO_URL", "https://api.openweathermap.org/geo/1.0")

	timeout, err := getenvDuration("HTTP_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	cfg.HTTPTimeout = timeout

	cfg.ForecastDays = getenvInt("FORECAST_DAYS", 3)
	if cfg.ForecastDays <= 0 {
		return nil, fmt.Errorf("FORECAST_DAYS must be positive")
	}

	cfg.FallbackEnabled = getenvBool("FALLBACK_ENABLED", true)
	cfg.EmergencyFallback = getenvBool("EMERGENCY_FALLBACK_ENABLED", true)

	fresh, err := getenvDuration("CACHE_FRESH_WINDOW", "30m")
	if err != nil {
		return nil, err
	}
	cfg.FreshWindow = fresh

	maxAge, err := getenvDuration("CACHE_MAX_AGE", "24h")
	if err != nil {
		return nil, err
	}
	cfg.CacheMaxAge = maxAge

	cfg.UpstreamRPS = getenvFloat("UPSTREAM_RPS", 1)
	cfg.UpstreamBurst = getenvInt("UPSTREAM_BURST", 5)

	cfg.DatabaseURL = getenvDefault("DATABASE_URL",
		"host=localhost port=5432 user=weather dbname=weather sslmode=disable")

	interval, err := getenvDuration("REFRESH_INTERVAL", "15m")
	if err != nil {
		return nil, err
	}
	cfg.RefreshInterval = interval
	cfg.RefreshCities = splitList(os.Getenv("REFRESH_CITIES"))

	cfg.Port = getenvDefault("PORT", "8080")
	cfg.LogLevel = getenvDefault("LOG_LEVEL", "info")

	return cfg, nil
}

func splitList(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key, def string) (time.Duration, error) {
	v := getenvDefault(key, def)
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
