package dialer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	cronlib "github.com/robfig/cron/v3"
)

// Scheduler runs the background actors (dialer ticks, queue sweeps) on cron specs.
// A job still running when its next slot fires is skipped rather than stacked.
type Scheduler struct {
	cron *cronlib.Cron
	log  *slog.Logger

	mu   sync.Mutex
	ctx  context.Context
	jobs []string
}

func NewScheduler(log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	cl := cronLogger{log: log}
	return &Scheduler{
		cron: cronlib.New(
			cronlib.WithLogger(cl),
			cronlib.WithChain(cronlib.Recover(cl), cronlib.SkipIfStillRunning(cl)),
		),
		log: log,
		ctx: context.Background(),
	}
}

// Add registers fn under spec ("@every 5s" or a five-field expression).
func (s *Scheduler) Add(name, spec string, fn func(ctx context.Context)) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		fn(ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	s.mu.Lock()
	s.jobs = append(s.jobs, name)
	s.mu.Unlock()
	return nil
}

// Run starts the jobs and blocks until ctx is done, then waits for running jobs.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	jobs := append([]string(nil), s.jobs...)
	s.mu.Unlock()

	s.cron.Start()
	s.log.Info("scheduler started", "jobs", jobs)
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
	return nil
}

// cronLogger adapts slog to the cron library's logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
