package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	httpapi "github.com/weatherapp/forecast-service/internal/api/http"
	"github.com/weatherapp/forecast-service/internal/cities"
	"github.com/weatherapp/forecast-service/internal/config"
	"github.com/weatherapp/forecast-service/internal/forecast"
	"github.com/weatherapp/forecast-service/internal/openweather"
	"github.com/weatherapp/forecast-service/internal/scheduler"
	"github.com/weatherapp/forecast-service/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zl, err := buildLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zl.Sync()
	slog := zl.Sugar()

	// Postgres-backed forecast store; migrations run on open.
	forecasts, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		slog.Fatalw("failed to open forecast store", "error", err)
	}

	// Shared HTTP client for outbound upstream calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	client := openweather.NewClient(openweather.Config{
		APIKey:  cfg.OpenWeatherAPIKey,
		BaseURL: cfg.OpenWeatherBaseURL,
		GeoURL:  cfg.OpenWeatherGeoURL,
		Days:    cfg.ForecastDays,
		Client:  httpClient,
		RPS:     cfg.UpstreamRPS,
		Burst:   cfg.UpstreamBurst,
	}, slog)

	weatherSvc := forecast.NewService(forecasts, client, forecast.Config{
		Days:              cfg.ForecastDays,
		FreshWindow:       cfg.FreshWindow,
		MaxAge:            cfg.CacheMaxAge,
		FallbackEnabled:   cfg.FallbackEnabled,
		EmergencyFallback: cfg.EmergencyFallback,
	}, slog)

	citySvc := cities.NewService(client, slog)

	// Optional background refresh keeping configured cities inside the
	// freshness window.
	sched := scheduler.New(cfg.RefreshCities, cfg.RefreshInterval, weatherSvc, slog)
	if err := sched.Start(); err != nil {
		slog.Fatalw("failed to start scheduler", "error", err)
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "forecast-service",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())

	// Basic liveness endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "forecast-service",
		})
	})

	// API routes.
	httpapi.RegisterRoutes(app, weatherSvc, citySvc, slog)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			slog.Errorw("fiber server stopped", "error", err)
		}
	}()

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Errorw("error during shutdown", "error", err)
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}
