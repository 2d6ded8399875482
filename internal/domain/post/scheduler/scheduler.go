package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Job is one run of a periodic loop
type Job func(ctx context.Context) error

// Scheduler runs a job on a fixed interval and whenever it is kicked
type Scheduler struct {
	name     string
	job      Job
	interval time.Duration
	kicks    <-chan struct{}
	logger   *slog.Logger
	stopCh   chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithKicks makes every receive on ch trigger an extra run
func WithKicks(ch <-chan struct{}) Option {
	return func(s *Scheduler) {
		s.kicks = ch
	}
}

// New creates a new scheduler
func New(name string, job Job, interval time.Duration, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		name:     name,
		job:      job,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start starts the scheduler
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.Info("scheduler started", "loop", s.name, "interval", s.interval)

	s.wg.Add(1)
	go s.run(ctx)
}

// Stop cancels the current run and waits for it to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("scheduler stopped", "loop", s.name)
}

// run is the main scheduler loop. Runs never overlap: a kick during a run is
// picked up after it.
func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run immediately on start
	s.process(ctx, "start")

	for {
		select {
		case <-ticker.C:
			s.process(ctx, "tick")
		case <-s.kicks:
			s.process(ctx, "kick")
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) process(ctx context.Context, trigger string) {
	s.logger.Debug("loop run", "loop", s.name, "trigger", trigger)

	if err := s.job(ctx); err != nil {
		s.logger.Error("loop run failed", "loop", s.name, "trigger", trigger, "error", err)
	}
}
