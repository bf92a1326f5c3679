package check

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/unblockd/unblockd/internal/model"
)

const queueDepth = 64

// Result is what a worker reports back after one job settles.
type Result struct {
	Job    Job
	Report model.Report
	Err    error
}

// Supervisor owns the worker pool and the result loop. Workers pull
// jobs from a bounded queue and run the full pipeline, the loop settles
// outcomes: notifications and the event fan-out.
type Supervisor struct {
	runner  *Runner
	notify  *Notifier
	events  *Fanout
	workers int
	jobs    chan Job
	results chan Result
	wg      sync.WaitGroup
}

func NewSupervisor(runner *Runner, notify *Notifier, events *Fanout, workers int) *Supervisor {
	if workers < 1 {
		workers = 1
	}
	return &Supervisor{
		runner:  runner,
		notify:  notify,
		events:  events,
		workers: workers,
		jobs:    make(chan Job, queueDepth),
		results: make(chan Result, 1),
	}
}

// Enqueue hands a job to the pool without blocking. A full queue is an
// error the caller surfaces, requests must not pile up unbounded.
func (s *Supervisor) Enqueue(job Job) error {
	select {
	case s.jobs <- job:
		return nil
	default:
		return errors.New("check queue is full")
	}
}

// Do runs the supervisor until ctx is cancelled. Returns nil on
// graceful cancellation.
func (s *Supervisor) Do(ctx context.Context) error {
	slog.DebugContext(ctx, "starting check supervisor", slog.Int("workers", s.workers))

	for range s.workers {
		s.wg.Go(func() {
			s.work(ctx)
		})
	}
	defer s.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case result := <-s.results:
			s.settle(ctx, result)
		}
	}
}

func (s *Supervisor) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.jobs:
			report, err := s.runner.Execute(ctx, job)
			select {
			case s.results <- Result{Job: job, Report: report, Err: err}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *Supervisor) settle(ctx context.Context, result Result) {
	job := result.Job
	if result.Err != nil {
		slog.ErrorContext(ctx, "check failed",
			slog.String("job_id", job.ID),
			slog.String("host", job.Host.FQDN),
			slog.String("error", result.Err.Error()),
		)
		s.notify.CheckFailed(ctx, job, result.Err)
		s.events.Publish(ctx, Event{
			Name:   EventCheckFailed,
			IP:     job.IP,
			Email:  job.Email,
			UserID: job.UserID,
			HostID: job.Host.ID,
			Reason: result.Err.Error(),
		})
		return
	}

	s.notify.CheckCompleted(ctx, job, result.Report)
	s.events.Publish(ctx, Event{
		Name:     EventCheckCompleted,
		IP:       job.IP,
		Email:    job.Email,
		UserID:   job.UserID,
		HostID:   job.Host.ID,
		ReportID: result.Report.ID,
		Success:  result.Report.Success,
	})
}
