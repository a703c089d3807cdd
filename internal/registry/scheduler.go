package registry

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agrilink-solutions/farm-trace-service/internal/monitoring"
)

// Reloader is the unit of work the scheduler drives.
type Reloader interface {
	Reload(ctx context.Context) error
}

// alertThreshold is how many consecutive reload failures raise an operator
// alert.
const alertThreshold = 3

// Scheduler triggers periodic registry reloads. A tick that arrives while a
// reload is still running is skipped, so slow remote listings never stack.
type Scheduler struct {
	reloader Reloader
	interval time.Duration
	timeout  time.Duration

	running  atomic.Bool
	failures atomic.Int64
	stop     chan struct{}
	done     chan struct{}
}

// NewScheduler creates a Scheduler. Each reload runs with its own timeout,
// defaulting to the interval when zero.
func NewScheduler(reloader Reloader, interval, timeout time.Duration) *Scheduler {
	if timeout <= 0 {
		timeout = interval
	}
	return &Scheduler{
		reloader: reloader,
		interval: interval,
		timeout:  timeout,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the tick loop in the background.
func (s *Scheduler) Start() {
	go s.loop()
	log.Info().Dur("interval", s.interval).Msg("Reload scheduler started")
}

// Stop shuts the tick loop down and waits for it to exit. An in-flight
// reload finishes on its own.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
	log.Info().Msg("Reload scheduler stopped")
}

func (s *Scheduler) loop() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.trigger()
		}
	}
}

// trigger starts one reload unless a previous one still holds the in-flight
// flag.
func (s *Scheduler) trigger() {
	if !s.running.CompareAndSwap(false, true) {
		log.Warn().Msg("Previous reload still running, skipping tick")
		return
	}

	go func() {
		defer s.running.Store(false)

		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		if err := s.reloader.Reload(ctx); err != nil {
			failures := s.failures.Add(1)
			log.Error().Err(err).Int64("consecutive_failures", failures).Msg("Scheduled reload failed")
			if failures >= alertThreshold {
				monitoring.ReloadAlert("tenant cache is stale", map[string]string{
					"consecutive_failures": strconv.FormatInt(failures, 10),
				})
			}
			return
		}
		s.failures.Store(0)
	}()
}
