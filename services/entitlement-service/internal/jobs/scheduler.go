// Package jobs schedules the periodic maintenance sweeps.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one scheduled sweep. Run returns the number of records it touched.
type Job struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Run     func(ctx context.Context) (int, error)
}

type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
	jobs   []Job
	base   context.Context
}

func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
		base:   context.Background(),
	}
}

// Add registers j. A blank spec disables the job.
func (s *Scheduler) Add(j Job) error {
	if j.Spec == "" {
		s.logger.Info("job disabled", "job", j.Name)
		return nil
	}
	if j.Timeout <= 0 {
		j.Timeout = 5 * time.Minute
	}
	if _, err := s.cron.AddFunc(j.Spec, func() { s.runOnce(s.base, j) }); err != nil {
		return fmt.Errorf("schedule job %s (%q): %w", j.Name, j.Spec, err)
	}
	s.jobs = append(s.jobs, j)
	return nil
}

func (s *Scheduler) Jobs() []Job {
	return s.jobs
}

// Run starts the scheduler and blocks until ctx is done, then waits for
// running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.base = ctx
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) runOnce(parent context.Context, j Job) {
	if parent.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(parent, j.Timeout)
	defer cancel()

	start := time.Now()
	n, err := j.Run(ctx)
	if err != nil {
		s.logger.Error("job failed", "job", j.Name, "err", err, "duration", time.Since(start))
		return
	}
	s.logger.Debug("job finished", "job", j.Name, "count", n, "duration", time.Since(start))
}

type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
