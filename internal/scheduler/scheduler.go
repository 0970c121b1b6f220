// Package scheduler runs the service's periodic jobs on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/couchcryptid/qclcd-etl-service/internal/observability"
)

// Job is a named task run on a six-field (seconds first) cron schedule.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// Scheduler runs Jobs. A job still running when its next tick arrives is
// skipped for that tick.
type Scheduler struct {
	cron    *cron.Cron
	mu      sync.Mutex
	names   map[cron.EntryID]Job
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates a stopped Scheduler.
func New(logger *slog.Logger, metrics *observability.Metrics) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		names:   make(map[cron.EntryID]Job),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
		metrics: metrics,
	}
}

// Add registers job. A job with an empty Spec is disabled and ignored.
func (s *Scheduler) Add(job Job) error {
	if job.Spec == "" {
		s.logger.Info("job disabled", "job", job.Name)
		return nil
	}
	if job.Run == nil {
		return fmt.Errorf("job %s: no run function", job.Name)
	}
	id, err := s.cron.AddFunc(job.Spec, func() { s.run(job) })
	if err != nil {
		return fmt.Errorf("job %s: parse schedule %q: %w", job.Name, job.Spec, err)
	}
	s.mu.Lock()
	s.names[id] = job
	s.mu.Unlock()
	s.logger.Info("job scheduled", "job", job.Name, "spec", job.Spec)
	return nil
}

// Len returns the number of scheduled jobs.
func (s *Scheduler) Len() int { return len(s.cron.Entries()) }

// JobStatus describes a scheduled job's timing. Next is zero until the
// scheduler starts and Prev until the job has run once.
type JobStatus struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next"`
	Prev time.Time `json:"prev,omitzero"`
}

// Jobs lists the scheduled jobs.
func (s *Scheduler) Jobs() []JobStatus {
	entries := s.cron.Entries()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(entries))
	for _, e := range entries {
		job := s.names[e.ID]
		out = append(out, JobStatus{Name: job.Name, Spec: job.Spec, Next: e.Next, Prev: e.Prev})
	}
	return out
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", s.Len())
}

// Stop prevents new runs, cancels the context of running jobs once ctx is
// done, and waits for them to return.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.cancel()
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done.Done()
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

func (s *Scheduler) run(job Job) {
	start := time.Now()
	s.logger.Info("job started", "job", job.Name)

	err := job.Run(s.ctx)
	outcome := "succeeded"
	switch {
	case errors.Is(err, context.Canceled):
		outcome = "cancelled"
	case err != nil:
		outcome = "failed"
	}
	s.metrics.ScheduledJobs.WithLabelValues(job.Name, outcome).Inc()

	if err != nil {
		s.logger.Error("job failed", "job", job.Name, "error", err, "duration", time.Since(start))
		return
	}
	s.logger.Info("job finished", "job", job.Name, "duration", time.Since(start))
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
