package httpapi

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/weatherapp/forecast-service/internal/cities"
	"github.com/weatherapp/forecast-service/internal/forecast"
	"github.com/weatherapp/forecast-service/internal/openweather"
)

var validate = validator.New()

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, weatherSvc *forecast.Service, citySvc *cities.Service, log *zap.SugaredLogger) {
	h := &handlers{weather: weatherSvc, cities: citySvc, log: log}

	v1 := app.Group("/api/v1")

	v1.Get("/weather/forecast", h.getForecast)
	v1.Get("/weather/offline/:city", h.getOfflineForecast)
	v1.Get("/weather/health", h.weatherHealth)

	v1.Get("/cities/search", h.searchCities)
	v1.Get("/cities/popular", h.popularCities)
}

type handlers struct {
	weather *forecast.Service
	cities  *cities.Service
	log     *zap.SugaredLogger
}

// forecastQuery holds query parameters for the forecast endpoint.
type forecastQuery struct {
	City    string `validate:"required"`
	Offline bool
}

func (h *handlers) getForecast(c *fiber.Ctx) error {
	q := forecastQuery{
		City:    c.Query("city"),
		Offline: c.QueryBool("offline"),
	}
	if err := validate.Struct(q); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "city query parameter is required")
	}

	var (
		records []forecast.Record
		prov    forecast.Provenance
		err     error
	)

	if q.Offline {
		records, prov, err = h.weather.OfflineForecast(c.Context(), q.City)
	} else {
		records, prov, err = h.weather.ResolveForecast(c.Context(), q.City)
	}
	if err != nil {
		return h.mapForecastError(q.City, err)
	}

	return c.JSON(forecastEnvelope(q.City, records, prov, q.Offline))
}

func (h *handlers) getOfflineForecast(c *fiber.Ctx) error {
	city := c.Params("city")
	if city == "" {
		return fiber.NewError(fiber.StatusBadRequest, "city path parameter is required")
	}

	records, prov, err := h.weather.OfflineForecast(c.Context(), city)
	if err != nil {
		return h.mapForecastError(city, err)
	}

	return c.JSON(forecastEnvelope(city, records, prov, true))
}

func (h *handlers) weatherHealth(c *fiber.Ctx) error {
	health := h.weather.ServiceHealth(c.Context())

	status := fiber.StatusOK
	body := fiber.Map{
		"status":          health.Status,
		"database":        health.Database,
		"externalApi":     health.ExternalAPI,
		"fallbackEnabled": health.FallbackEnabled,
		"service":         "forecast-service",
		"timestamp":       time.Now().UTC(),
	}

	if health.Status != "UP" {
		status = fiber.StatusServiceUnavailable
		body["message"] = "External weather API unavailable - using fallback data"
	}

	return c.Status(status).JSON(body)
}

func (h *handlers) searchCities(c *fiber.Ctx) error {
	query := c.Query("q")
	if len(query) > 100 {
		return fiber.NewError(fiber.StatusBadRequest, "search query too long")
	}

	results, kind, err := h.cities.Search(c.Context(), query)
	if err != nil {
		var se *openweather.StatusError
		if errors.As(err, &se) && se.ClientError() {
			return fiber.NewError(fiber.StatusBadRequest, "invalid search query")
		}
		h.log.Errorw("city search failed", "query", query, "error", err)
		return fiber.NewError(fiber.StatusServiceUnavailable,
			"City search service is temporarily unavailable. Please try again in a few minutes.")
	}

	return c.JSON(fiber.Map{
		"query":     query,
		"cities":    results,
		"count":     len(results),
		"type":      kind,
		"message":   searchMessage(kind),
		"timestamp": time.Now().UTC(),
	})
}

func (h *handlers) popularCities(c *fiber.Ctx) error {
	results := h.cities.Popular()

	return c.JSON(fiber.Map{
		"cities":    results,
		"count":     len(results),
		"type":      cities.KindPopular,
		"message":   "Most popular cities worldwide",
		"timestamp": time.Now().UTC(),
	})
}

func (h *handlers) mapForecastError(city string, err error) error {
	var se *openweather.StatusError
	switch {
	case errors.As(err, &se) && se.ClientError():
		return fiber.NewError(fiber.StatusNotFound,
			"Weather data not found for the specified city. Please check the city name.")
	case errors.Is(err, forecast.ErrUnavailable):
		return fiber.NewError(fiber.StatusServiceUnavailable,
			"Weather service is temporarily unavailable. Please try again in a few minutes.")
	case errors.Is(err, forecast.ErrNoData):
		return fiber.NewError(fiber.StatusNotFound, "No cached weather data available for "+city)
	default:
		h.log.Errorw("forecast request failed", "city", city, "error", err)
		return fiber.NewError(fiber.StatusInternalServerError,
			"Unable to fetch weather data. Please try again later.")
	}
}

func forecastEnvelope(city string, records []forecast.Record, prov forecast.Provenance, offline bool) fiber.Map {
	fromCache := offline || prov == forecast.ProvenanceStaleCache || prov == forecast.ProvenanceSynthetic

	resp := fiber.Map{
		"city":         city,
		"forecasts":    records,
		"provenance":   prov,
		"offline_mode": offline,
		"from_cache":   fromCache,
		"total_days":   len(records),
		"timestamp":    time.Now().UTC(),
	}

	if fromCache && !offline {
		resp["notice"] = "External weather service unavailable. Showing cached data."
	}

	return resp
}

func searchMessage(kind cities.ResultKind) string {
	switch kind {
	case cities.KindPopular:
		return "Showing popular cities. Enter at least 2 characters to search."
	case cities.KindFallback:
		return "Search service temporarily unavailable. Showing matching popular cities."
	default:
		return "Live search results from geocoding service."
	}
}
