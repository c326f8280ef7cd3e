package webhook

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// ErrBusy is returned by Submit when every worker is busy and the backlog is full.
var ErrBusy = errors.New("webhook: dispatcher backlog full")

// Job is one acknowledged callback waiting to be applied.
type Job func(ctx context.Context)

// Dispatcher runs acknowledged callbacks on a fixed pool of workers.
type Dispatcher struct {
	jobs    chan Job
	workers int
	log     *slog.Logger
}

func NewDispatcher(workers, backlog int, log *slog.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 8
	}
	if backlog <= 0 {
		backlog = workers * 64
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{jobs: make(chan Job, backlog), workers: workers, log: log}
}

// Submit queues a job without blocking.
func (d *Dispatcher) Submit(job Job) error {
	select {
	case d.jobs <- job:
		return nil
	default:
		return ErrBusy
	}
}

// Run drains jobs until ctx is done. Jobs already queued at shutdown are finished with
// a context that is no longer canceled so their state changes are not cut in half.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	jobCtx := context.WithoutCancel(ctx)
	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case job := <-d.jobs:
					d.run(jobCtx, job)
				case <-gctx.Done():
					for {
						select {
						case job := <-d.jobs:
							d.run(jobCtx, job)
						default:
							return nil
						}
					}
				}
			}
		})
	}
	d.log.Info("webhook dispatcher started", "workers", d.workers)
	err := g.Wait()
	d.log.Info("webhook dispatcher stopped")
	return err
}

func (d *Dispatcher) run(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("webhook job panicked", "panic", r)
		}
	}()
	job(ctx)
}
