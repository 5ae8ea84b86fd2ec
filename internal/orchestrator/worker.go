package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrQueueFull is returned when the work queue cannot accept another job.
// Callers translate it to backpressure (HTTP 503) rather than blocking a
// request thread on a container build.
var ErrQueueFull = errors.New("work queue full")

// Job is a unit of deferred orchestration work.
type Job struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Worker runs orchestration jobs off the request path on a bounded queue.
// Jobs execute one at a time: builds saturate a single host anyway, and
// the per-subdomain locks would serialize most of them regardless.
type Worker struct {
	jobs chan Job
}

func NewWorker(size int) *Worker {
	return &Worker{jobs: make(chan Job, size)}
}

// Submit queues a job without blocking. Returns ErrQueueFull when the
// queue is at capacity.
func (w *Worker) Submit(name string, fn func(ctx context.Context) error) error {
	select {
	case w.jobs <- Job{Name: name, Fn: fn}:
		slog.Debug("worker: job queued", "job", name, "depth", len(w.jobs))
		return nil
	default:
		return fmt.Errorf("%w: rejected %s", ErrQueueFull, name)
	}
}

// Start processes jobs until ctx is cancelled. A cancelled context also
// cancels the running job; in-flight operations are resumable, so shutdown
// does not wait for them.
func (w *Worker) Start(ctx context.Context) {
	slog.Info("worker: started", "queue_capacity", cap(w.jobs))
	for {
		select {
		case <-ctx.Done():
			slog.Info("worker: stopped", "queued", len(w.jobs))
			return
		case job := <-w.jobs:
			start := time.Now()
			if err := job.Fn(ctx); err != nil {
				slog.Error("worker: job failed",
					"job", job.Name,
					"duration", time.Since(start).String(),
					"error", err)
			} else {
				slog.Info("worker: job complete",
					"job", job.Name,
					"duration", time.Since(start).String())
			}
		}
	}
}

// Depth reports the number of queued jobs.
func (w *Worker) Depth() int { return len(w.jobs) }

// Capacity reports the queue size.
func (w *Worker) Capacity() int { return cap(w.jobs) }
