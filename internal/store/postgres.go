package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/weatherapp/forecast-service/internal/forecast"
)

// forecastRow is the persistence model for one city/day forecast.
// CityKey is the lowercased city so the unique index matches the
// case-insensitive reads; City keeps the caller's original casing.
type forecastRow struct {
	ID               uint      `gorm:"primaryKey"`
	City             string    `gorm:"not null"`
	CityKey          string    `gorm:"not null;uniqueIndex:idx_city_forecast_date"`
	ForecastDate     time.Time `gorm:"not null;uniqueIndex:idx_city_forecast_date"`
	HighTemp         float64   `gorm:"not null"`
	LowTemp          float64   `gorm:"not null"`
	Description      string
	WeatherCondition string
	WindSpeed        float64
	Humidity         int
	Pressure         float64
	SpecialCondition string
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null"`
}

func (forecastRow) TableName() string {
	return "weather_forecasts"
}

// Forecasts is the gorm-backed forecast store.
type Forecasts struct {
	db *gorm.DB
}

var _ forecast.Store = (*Forecasts)(nil)

// Open connects to Postgres with the given DSN and runs migrations.
func Open(dsn string) (*Forecasts, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return New(db)
}

// New wraps an existing gorm handle and runs migrations. Tests use this with
// a sqlite database.
func New(db *gorm.DB) (*Forecasts, error) {
	if err := db.AutoMigrate(&forecastRow{}); err != nil {
		return nil, fmt.Errorf("migrate forecasts: %w", err)
	}
	return &Forecasts{db: db}, nil
}

// UpsertRecord inserts the record or overwrites the existing (city, date)
// row. Last write wins; concurrent upserts on the same key are not serialized.
func (f *Forecasts) UpsertRecord(ctx context.Context, rec forecast.Record) (forecast.Record, error) {
	row := toRow(rec)

	err := f.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "city_key"}, {Name: "forecast_date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"city", "high_temp", "low_temp", "description", "weather_condition",
			"wind_speed", "humidity", "pressure", "special_condition", "updated_at",
		}),
	}).Create(&row).Error
	if err != nil {
		return forecast.Record{}, fmt.Errorf("upsert forecast: %w", err)
	}

	// Re-read so the caller sees the persisted timestamps.
	var saved forecastRow
	err = f.db.WithContext(ctx).
		Where("city_key = ? AND forecast_date = ?", row.CityKey, row.ForecastDate).
		First(&saved).Error
	if err != nil {
		return forecast.Record{}, fmt.Errorf("reload forecast: %w", err)
	}

	return toRecord(saved), nil
}

// RangeByCity returns records with from <= date < to, ordered by date.
// City matching is case-insensitive.
func (f *Forecasts) RangeByCity(ctx context.Context, city string, from, to forecast.Date) ([]forecast.Record, error) {
	var rows []forecastRow
	err := f.db.WithContext(ctx).
		Where("city_key = ? AND forecast_date >= ? AND forecast_date < ?", cityKey(city), from.Time, to.Time).
		Order("forecast_date").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("range forecasts: %w", err)
	}

	return toRecords(rows), nil
}

// AllByCity returns every stored record for the city, ordered by date.
func (f *Forecasts) AllByCity(ctx context.Context, city string) ([]forecast.Record, error) {
	var rows []forecastRow
	err := f.db.WithContext(ctx).
		Where("city_key = ?", cityKey(city)).
		Order("forecast_date").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load forecasts: %w", err)
	}

	return toRecords(rows), nil
}

// Ping checks database connectivity.
func (f *Forecasts) Ping(ctx context.Context) error {
	sqlDB, err := f.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func cityKey(city string) string {
	return strings.ToLower(city)
}

func toRow(rec forecast.Record) forecastRow {
	return forecastRow{
		City:             rec.City,
		CityKey:          cityKey(rec.City),
		ForecastDate:     rec.Date.Time,
		HighTemp:         rec.HighTemp,
		LowTemp:          rec.LowTemp,
		Description:      rec.Description,
		WeatherCondition: rec.Condition,
		WindSpeed:        rec.WindSpeed,
		Humidity:         rec.Humidity,
		Pressure:         rec.Pressure,
		SpecialCondition: rec.Advisory,
	}
}

func toRecord(row forecastRow) forecast.Record {
	return forecast.Record{
		City:        row.City,
		Date:        forecast.NewDate(row.ForecastDate),
		HighTemp:    row.HighTemp,
		LowTemp:     row.LowTemp,
		Description: row.Description,
		Condition:   row.WeatherCondition,
		WindSpeed:   row.WindSpeed,
		Humidity:    row.Humidity,
		Pressure:    row.Pressure,
		Advisory:    row.SpecialCondition,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
}

func toRecords(rows []forecastRow) []forecast.Record {
	records := make([]forecast.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, toRecord(row))
	}
	return records
}
