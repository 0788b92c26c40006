// Package cron runs the service's periodic maintenance jobs on robfig/cron
// schedules.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// cronParser accepts standard 5-field expressions and descriptors such as
// "@hourly" and "@every 5m".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// JobFunc is one run of a job. Its context is cancelled when the scheduler
// stops.
type JobFunc func(ctx context.Context) error

// Config holds the dependencies for the scheduler.
type Config struct {
	Logger *slog.Logger
	// Timeout bounds a single job run; defaults to 5 minutes.
	Timeout time.Duration
}

type job struct {
	name string
	spec string
	fn   JobFunc
	id   cronlib.EntryID
}

// Scheduler runs named jobs. A job never overlaps with itself; a run that
// is still going when the next one is due is skipped.
type Scheduler struct {
	cron    *cronlib.Cron
	logger  *slog.Logger
	timeout time.Duration

	mu   sync.Mutex
	jobs map[string]*job
	ctx  context.Context

	cancel context.CancelFunc
}

// NewScheduler creates a new Scheduler with the given config.
func NewScheduler(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Scheduler{
		cron:    cronlib.New(cronlib.WithParser(cronParser), cronlib.WithChain(cronlib.SkipIfStillRunning(cronlib.DiscardLogger))),
		logger:  logger,
		timeout: timeout,
		jobs:    make(map[string]*job),
		ctx:     context.Background(),
	}
}

// Add registers fn under name with a cron spec. Names are unique.
func (s *Scheduler) Add(name, spec string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[name]; dup {
		return fmt.Errorf("cron: job %q already registered", name)
	}
	j := &job{name: name, spec: spec, fn: fn}
	id, err := s.cron.AddFunc(spec, func() { s.run(j) })
	if err != nil {
		return fmt.Errorf("cron: job %q: parse %q: %w", name, spec, err)
	}
	j.id = id
	s.jobs[name] = j
	return nil
}

// Start begins firing jobs in the background until ctx is done or Stop is
// called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()
	s.cron.Start()
	s.logger.Info("cron scheduler started", "jobs", s.Jobs())
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	<-s.cron.Stop().Done()
	s.logger.Info("cron scheduler stopped")
}

// RunNow runs the named job synchronously, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("cron: unknown job %q", name)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return j.fn(ctx)
}

// Jobs returns the registered job names, sorted.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Next returns when the named job fires next. Zero before Start.
func (s *Scheduler) Next(name string) time.Time {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(j.id).Next
}

func (s *Scheduler) run(j *job) {
	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	start := time.Now()
	if err := j.fn(ctx); err != nil {
		s.logger.Error("cron: job failed", "job", j.name, "error", err)
		return
	}
	s.logger.Debug("cron: job finished", "job", j.name, "duration_ms", time.Since(start).Milliseconds())
}

// NextRunTime parses the cron expression and returns the next run time after the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
