package forecast

import (
	"context"
	"fmt"
	"time"

	"github.com/weatherapp/forecast-service/internal/openweather"
)

// Provenance describes where served forecast data came from.
type Provenance string

const (
	ProvenanceFreshCache Provenance = "fresh-cache"
	ProvenanceLive       Provenance = "live"
	ProvenanceStaleCache Provenance = "stale-cache"
	ProvenanceSynthetic  Provenance = "synthetic"
)

// Date is a calendar day without a time component, always UTC.
type Date struct {
	time.Time
}

// NewDate truncates t to its UTC calendar day.
func NewDate(t time.Time) Date {
	u := t.UTC()
	return Date{time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)}
}

// AddDays returns the date n calendar days later.
func (d Date) AddDays(n int) Date {
	return Date{d.Time.AddDate(0, 0, n)}
}

func (d Date) String() string {
	return d.Format("2006-01-02")
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", d.String())), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	t, err := time.ParseInLocation("2006-01-02", s, time.UTC)
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

// Record is one city's forecast for one calendar day.
// At most one record exists per (city, date); upserts win on conflict.
type Record struct {
	City        string    `json:"city"`
	Date        Date      `json:"forecastDate"`
	HighTemp    float64   `json:"high_temp"`
	LowTemp     float64   `json:"low_temp"`
	Description string    `json:"description"`
	Condition   string    `json:"weather_condition"`
	WindSpeed   float64   `json:"wind_speed"`
	Humidity    int       `json:"humidity"`
	Pressure    float64   `json:"pressure"`
	Advisory    string    `json:"special_condition"`
	CreatedAt   time.Time `json:"-"`
	UpdatedAt   time.Time `json:"-"`
}

// Store is the contract the persistent forecast store must satisfy.
// City matching is case-insensitive; the stored city keeps its original case.
type Store interface {
	// UpsertRecord inserts or updates the record for (city, date) and
	// returns the persisted state.
	UpsertRecord(ctx context.Context, rec Record) (Record, error)
	// RangeByCity returns records with from <= date < to, ordered by date.
	RangeByCity(ctx context.Context, city string, from, to Date) ([]Record, error)
	// AllByCity returns every record for the city, ordered by date.
	AllByCity(ctx context.Context, city string) ([]Record, error)
	Ping(ctx context.Context) error
}

// Upstream abstracts the external weather API for the fallback policy.
type Upstream interface {
	FetchForecast(ctx context.Context, city string) ([]openweather.Sample, error)
	Available(ctx context.Context) bool
}
