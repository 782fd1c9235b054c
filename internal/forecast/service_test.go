package forecast

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/weatherapp/forecast-service/internal/openweather"
)

// memStore is a minimal in-memory Store for exercising the fallback policy.
type memStore struct {
	mu      sync.Mutex
	rows    map[string]Record // key: lower(city)|date
	upserts int
	pingErr error
	now     func() time.Time
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{rows: make(map[string]Record), now: now}
}

func (m *memStore) key(city string, d Date) string {
	return strings.ToLower(city) + "|" + d.String()
}

func (m *memStore) seed(rec Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[m.key(rec.City, rec.Date)] = rec
}

func (m *memStore) UpsertRecord(_ context.Context, rec Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.upserts++
	k := m.key(rec.City, rec.Date)
	if existing, ok := m.rows[k]; ok {
		rec.CreatedAt = existing.CreatedAt
	} else {
		rec.CreatedAt = m.now()
	}
	rec.UpdatedAt = m.now()
	m.rows[k] = rec
	return rec, nil
}

func (m *memStore) RangeByCity(_ context.Context, city string, from, to Date) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Record
	for _, rec := range m.rows {
		if !strings.EqualFold(rec.City, city) {
			continue
		}
		if rec.Date.Before(from.Time) || !rec.Date.Before(to.Time) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date.Time) })
	return out, nil
}

func (m *memStore) AllByCity(_ context.Context, city string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Record
	for _, rec := range m.rows {
		if strings.EqualFold(rec.City, city) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date.Time) })
	return out, nil
}

func (m *memStore) Ping(context.Context) error {
	return m.pingErr
}

type stubUpstream struct {
	samples   []openweather.Sample
	err       error
	calls     int
	available bool
}

func (u *stubUpstream) FetchForecast(context.Context, string) ([]openweather.Sample, error) {
	u.calls++
	if u.err != nil {
		return nil, u.err
	}
	return u.samples, nil
}

func (u *stubUpstream) Available(context.Context) bool {
	return u.available
}

var testBase = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, up *stubUpstream, cfg Config) (*Service, *memStore, *clockwork.FakeClock) {
	t.Helper()

	clock := clockwork.NewFakeClockAt(testBase)
	st := newMemStore(clock.Now)

	svc := NewService(st, up, cfg, zap.NewNop().Sugar())
	svc.clock = clock
	svc.rng = rand.New(rand.NewSource(1))

	return svc, st, clock
}

func seedWindow(st *memStore, city string, updatedAt time.Time, days int) {
	today := NewDate(testBase)
	for i := 0; i < days; i++ {
		st.seed(Record{
			City:      city,
			Date:      today.AddDays(i),
			HighTemp:  15,
			LowTemp:   8,
			Condition: "Clouds",
			Advisory:  "Have a great day!",
			CreatedAt: updatedAt,
			UpdatedAt: updatedAt,
		})
	}
}

func threeDaySamples() []openweather.Sample {
	var samples []openweather.Sample
	for d := 0; d < 3; d++ {
		for h := 0; h < 8; h++ {
			samples = append(samples, openweather.Sample{
				Timestamp: testBase.Truncate(24 * time.Hour).Add(time.Duration(d*24+h*3) * time.Hour),
				TempMax:   18 + float64(h),
				TempMin:   8,
				Condition: "Clear",
				WindSpeed: 3,
				Humidity:  55,
				Pressure:  1012,
			})
		}
	}
	return samples
}

func TestResolveForecastFreshCacheShortCircuit(t *testing.T) {
	up := &stubUpstream{err: errors.New("must not be called")}
	svc, st, _ := newTestService(t, up, Config{FallbackEnabled: true, EmergencyFallback: true})

	seedWindow(st, "London", testBase.Add(-10*time.Minute), 3)

	records, prov, err := svc.ResolveForecast(context.Background(), "London")
	require.NoError(t, err)
	assert.Equal(t, ProvenanceFreshCache, prov)
	assert.Len(t, records, 3)
	assert.Zero(t, up.calls, "fresh cache must not trigger an upstream call")
}

func TestResolveForecastLiveFetchAndIdempotence(t *testing.T) {
	up := &stubUpstream{samples: threeDaySamples()}
	svc, st, _ := newTestService(t, up, Config{FallbackEnabled: true, EmergencyFallback: true})

	records, prov, err := svc.ResolveForecast(context.Background(), "Paris")
	require.NoError(t, err)
	assert.Equal(t, ProvenanceLive, prov)
	require.Len(t, records, 3)
	assert.Equal(t, 3, st.upserts)
	assert.Equal(t, 25.0, records[0].HighTemp)

	// Immediately after a live fetch the cache is fresh; a second call is
	// served from it without another upstream request.
	again, prov, err := svc.ResolveForecast(context.Background(), "Paris")
	require.NoError(t, err)
	assert.Equal(t, ProvenanceFreshCache, prov)
	assert.Equal(t, 1, up.calls)
	assert.Equal(t, records, again)
}

func TestResolveForecastCaseInsensitiveCityMatch(t *testing.T) {
	up := &stubUpstream{err: errors.New("must not be called")}
	svc, st, _ := newTestService(t, up, Config{FallbackEnabled: true, EmergencyFallback: true})

	seedWindow(st, "London", testBase.Add(-5*time.Minute), 3)

	records, prov, err := svc.ResolveForecast(context.Background(), "LONDON")
	require.NoError(t, err)
	assert.Equal(t, ProvenanceFreshCache, prov)
	assert.Len(t, records, 3)
}

func TestResolveForecastStaleCacheFallback(t *testing.T) {
	up := &stubUpstream{err: openweather.ErrUnavailable}
	svc, st, _ := newTestService(t, up, Config{FallbackEnabled: true, EmergencyFallback: true})

	seedWindow(st, "Berlin", testBase.Add(-2*time.Hour), 3)

	records, prov, err := svc.ResolveForecast(context.Background(), "Berlin")
	require.NoError(t, err)
	assert.Equal(t, ProvenanceStaleCache, prov)
	require.Len(t, records, 3)
	for _, rec := range records {
		assert.True(t, strings.HasPrefix(rec.Advisory, "⚠️ Offline data - "), "advisory %q missing offline marker", rec.Advisory)
	}

	// Stored rows keep their original advisory text.
	stored, err := st.AllByCity(context.Background(), "Berlin")
	require.NoError(t, err)
	for _, rec := range stored {
		assert.Equal(t, "Have a great day!", rec.Advisory)
	}
}

func TestResolveForecastSyntheticFallback(t *testing.T) {
	up := &stubUpstream{err: openweather.ErrUnavailable}
	svc, st, _ := newTestService(t, up, Config{Days: 3, FallbackEnabled: true, EmergencyFallback: true})

	records, prov, err := svc.ResolveForecast(context.Background(), "Atlantis")
	require.NoError(t, err)
	assert.Equal(t, ProvenanceSynthetic, prov)
	require.Len(t, records, 3)

	today := NewDate(testBase)
	for i, rec := range records {
		assert.Equal(t, "Atlantis", rec.City)
		assert.Equal(t, today.AddDays(i), rec.Date)
		assert.GreaterOrEqual(t, rec.HighTemp, 20.0)
		assert.Less(t, rec.HighTemp, 30.0)
		assert.Equal(t, rec.HighTemp-10, rec.LowTemp)
		assert.Equal(t, "Unknown", rec.Condition)
		assert.Contains(t, rec.Advisory, "Emergency fallback")
	}

	// Synthetic data is never persisted: the next request misses the cache
	// and goes synthetic again.
	assert.Zero(t, st.upserts)
	_, prov, err = svc.ResolveForecast(context.Background(), "Atlantis")
	require.NoError(t, err)
	assert.Equal(t, ProvenanceSynthetic, prov)
}

func TestResolveForecastCacheTooOldGoesSynthetic(t *testing.T) {
	up := &stubUpstream{err: openweather.ErrUnavailable}
	svc, st, _ := newTestService(t, up, Config{FallbackEnabled: true, EmergencyFallback: true})

	seedWindow(st, "Madrid", testBase.Add(-25*time.Hour), 3)

	_, prov, err := svc.ResolveForecast(context.Background(), "Madrid")
	require.NoError(t, err)
	assert.Equal(t, ProvenanceSynthetic, prov)
}

func TestResolveForecastClientErrorIsHardFailure(t *testing.T) {
	up := &stubUpstream{err: &openweather.StatusError{StatusCode: 404, Message: "city not found"}}
	svc, st, _ := newTestService(t, up, Config{FallbackEnabled: true, EmergencyFallback: true})

	// Even with usable stale cache, a 4xx must not fall back.
	seedWindow(st, "Nowhereville", testBase.Add(-2*time.Hour), 3)

	records, _, err := svc.ResolveForecast(context.Background(), "Nowhereville")
	require.Error(t, err)
	assert.Nil(t, records)

	var se *openweather.StatusError
	require.ErrorAs(t, err, &se)
	assert.True(t, se.ClientError())
}

func TestResolveForecastFallbackDisabled(t *testing.T) {
	up := &stubUpstream{err: openweather.ErrUnavailable}
	svc, st, _ := newTestService(t, up, Config{FallbackEnabled: false, EmergencyFallback: true})

	seedWindow(st, "Oslo", testBase.Add(-2*time.Hour), 3)

	_, _, err := svc.ResolveForecast(context.Background(), "Oslo")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestResolveForecastNoFallbackData(t *testing.T) {
	up := &stubUpstream{err: openweather.ErrUnavailable}
	svc, _, _ := newTestService(t, up, Config{FallbackEnabled: true, EmergencyFallback: false})

	_, _, err := svc.ResolveForecast(context.Background(), "Ghost Town")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestResolveForecastFreshnessWindowExpiry(t *testing.T) {
	up := &stubUpstream{samples: threeDaySamples()}
	svc, st, clock := newTestService(t, up, Config{FallbackEnabled: true, EmergencyFallback: true})

	_, prov, err := svc.ResolveForecast(context.Background(), "Tokyo")
	require.NoError(t, err)
	assert.Equal(t, ProvenanceLive, prov)

	// 31 minutes later the cache is no longer fresh and upstream is
	// consulted again.
	clock.Advance(31 * time.Minute)
	require.Equal(t, 3, st.upserts)

	_, prov, err = svc.ResolveForecast(context.Background(), "Tokyo")
	require.NoError(t, err)
	assert.Equal(t, ProvenanceLive, prov)
	assert.Equal(t, 2, up.calls)
}

func TestOfflineForecast(t *testing.T) {
	up := &stubUpstream{err: errors.New("must not be called")}
	svc, st, _ := newTestService(t, up, Config{Days: 3, FallbackEnabled: true, EmergencyFallback: true})

	// Offline serves everything stored, regardless of age.
	seedWindow(st, "Sydney", testBase.Add(-48*time.Hour), 2)

	records, prov, err := svc.OfflineForecast(context.Background(), "sydney")
	require.NoError(t, err)
	assert.Equal(t, ProvenanceStaleCache, prov)
	assert.Len(t, records, 2)
	assert.Zero(t, up.calls)
}

func TestOfflineForecastEmptyGoesSynthetic(t *testing.T) {
	up := &stubUpstream{}
	svc, _, _ := newTestService(t, up, Config{Days: 3, FallbackEnabled: true, EmergencyFallback: true})

	records, prov, err := svc.OfflineForecast(context.Background(), "Atlantis")
	require.NoError(t, err)
	assert.Equal(t, ProvenanceSynthetic, prov)
	assert.Len(t, records, 3)
}

func TestOfflineForecastEmptyWithoutEmergency(t *testing.T) {
	up := &stubUpstream{}
	svc, _, _ := newTestService(t, up, Config{FallbackEnabled: true, EmergencyFallback: false})

	_, _, err := svc.OfflineForecast(context.Background(), "Atlantis")
	require.ErrorIs(t, err, ErrNoData)
}

func TestServiceHealth(t *testing.T) {
	up := &stubUpstream{available: true}
	svc, st, _ := newTestService(t, up, Config{FallbackEnabled: true, EmergencyFallback: true})

	h := svc.ServiceHealth(context.Background())
	assert.Equal(t, "UP", h.Status)
	assert.Equal(t, "UP", h.Database)
	assert.Equal(t, "UP", h.ExternalAPI)
	assert.True(t, h.FallbackEnabled)

	up.available = false
	st.pingErr = errors.New("connection refused")

	h = svc.ServiceHealth(context.Background())
	assert.Equal(t, "DEGRADED", h.Status)
	assert.Equal(t, "DOWN", h.Database)
	assert.Equal(t, "DOWN", h.ExternalAPI)
}
