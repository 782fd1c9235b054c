package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/weatherapp/forecast-service/internal/forecast"
)

// Scheduler periodically resolves forecasts for configured cities so the
// persistent cache stays within the freshness window.
type Scheduler struct {
	scheduler *gocron.Scheduler
	service   *forecast.Service
	cities    []string
	interval  time.Duration
	log       *zap.SugaredLogger
}

// New creates a new Scheduler.
func New(cityNames []string, interval time.Duration, service *forecast.Service, log *zap.SugaredLogger) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	return &Scheduler{
		scheduler: s,
		service:   service,
		cities:    cityNames,
		interval:  interval,
		log:       log,
	}
}

// Start schedules the periodic refresh job and starts the underlying
// scheduler. With no cities configured the job is skipped entirely.
func (s *Scheduler) Start() error {
	if len(s.cities) == 0 {
		s.log.Info("scheduler: no refresh cities configured; nothing to schedule")
		return nil
	}

	interval := s.interval
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	_, err := s.scheduler.Every(interval).Do(func() {
		s.log.Info("scheduler: running forecast refresh job")

		var wg sync.WaitGroup
		for _, city := range s.cities {
			city := city
			wg.Add(1)
			go func() {
				defer wg.Done()

				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()

				if _, prov, err := s.service.ResolveForecast(ctx, city); err != nil {
					s.log.Warnw("scheduler: refresh failed", "city", city, "error", err)
				} else {
					s.log.Infow("scheduler: refreshed forecast", "city", city, "provenance", prov)
				}
			}()
		}
		wg.Wait()
		s.log.Info("scheduler: completed forecast refresh job")
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
