package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// CronScheduler runs jobs on cron specs (including "@every 1h").
// A job that is still running when its next activation comes is skipped.
type CronScheduler struct {
	logger *slog.Logger
	parser cron.Parser
	c      *cron.Cron

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	loc     *time.Location
	entries map[string]cronEntry
}

type cronEntry struct {
	id   cron.EntryID
	spec string
	job  Job
}

// NewCron creates a cron scheduler evaluating specs in loc
func NewCron(logger *slog.Logger, loc *time.Location) *CronScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	cl := cronLogger{logger: logger}
	return &CronScheduler{
		logger: logger,
		parser: parser,
		c: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		ctx:     context.Background(),
		cancel:  func() {},
		loc:     loc,
		entries: make(map[string]cronEntry),
	}
}

// Add registers job under name on spec
func (s *CronScheduler) Add(name, spec string, job Job) error {
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("parsing %s schedule %q: %w", name, spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.addLocked(name, spec, job)
	if err != nil {
		return fmt.Errorf("adding %s schedule: %w", name, err)
	}
	s.entries[name] = cronEntry{id: id, spec: spec, job: job}
	s.logger.Info("cron job registered", "loop", name, "spec", spec, "timezone", s.loc.String())
	return nil
}

// SetLocation re-registers every job so clock based specs follow loc
func (s *CronScheduler) SetLocation(loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if loc.String() == s.loc.String() {
		return nil
	}
	s.loc = loc
	for name, e := range s.entries {
		s.c.Remove(e.id)
		id, err := s.addLocked(name, e.spec, e.job)
		if err != nil {
			delete(s.entries, name)
			return fmt.Errorf("re-adding %s schedule: %w", name, err)
		}
		e.id = id
		s.entries[name] = e
	}
	s.logger.Info("cron timezone changed", "timezone", loc.String(), "jobs", len(s.entries))
	return nil
}

// addLocked registers the job with the current location pinned into the spec
func (s *CronScheduler) addLocked(name, spec string, job Job) (cron.EntryID, error) {
	return s.c.AddFunc("CRON_TZ="+s.loc.String()+" "+spec, func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()

		if ctx.Err() != nil {
			return
		}
		s.logger.Debug("cron run", "loop", name)
		if err := job(ctx); err != nil {
			s.logger.Error("cron run failed", "loop", name, "error", err)
		}
	})
}

// Start starts the cron runner. Jobs receive a context derived from ctx.
func (s *CronScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()
	s.c.Start()
}

// Stop cancels running jobs and waits for them to return
func (s *CronScheduler) Stop() {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	<-s.c.Stop().Done()
	s.logger.Info("cron scheduler stopped")
}

// cronLogger adapts slog to cron.Logger
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
