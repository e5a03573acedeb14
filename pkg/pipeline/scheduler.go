package pipeline

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler triggers periodic analysis runs.
type Scheduler struct {
	driver   *Driver
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
	logger   *slog.Logger
}

// NewScheduler runs the driver every intervalHours.
func NewScheduler(driver *Driver, intervalHours int) *Scheduler {
	if intervalHours <= 0 {
		intervalHours = 6
	}
	return &Scheduler{
		driver:   driver,
		interval: time.Duration(intervalHours) * time.Hour,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		logger:   slog.Default().With("component", "scheduler"),
	}
}

// Start launches the timer loop. Runs are incremental; overlapping
// triggers are absorbed by the driver's single-flight guard.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := s.driver.Run(ctx, RunOptions{}); err != nil {
					s.logger.Warn("scheduled analysis run failed", "error", err)
				}
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the loop and waits for it to exit.
func (s *Scheduler) Stop() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	<-s.done
}
