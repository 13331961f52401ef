// Package daemon owns the orchestrator's lifetime: it resumes persisted
// jobs on startup, turns observed chain heads into scheduling decisions,
// dispatches jobs to the pipeline worker pool, and services the operator
// control queue.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/petscheit/bankai-sub001/internal/core/domain"
	"github.com/petscheit/bankai-sub001/internal/infra/redis"
	"github.com/petscheit/bankai-sub001/internal/infra/storage"
	"github.com/petscheit/bankai-sub001/internal/pipeline"
)

// requeueSlotInterval re-enqueues waiting jobs every Nth head slot,
// matching the poll cadence to chain time instead of wall clock.
const requeueSlotInterval = 5

// Config holds daemon orchestration settings.
type Config struct {
	Workers int `yaml:"workers"`
}

// Daemon wires the listener, scheduler, dispatcher and control worker
// together and supervises their lifetimes. The first fatal error from
// any component cancels the rest and surfaces from Run.
type Daemon struct {
	cfg        Config
	jobs       storage.JobRepository
	state      storage.StateRepository
	scheduler  *Scheduler
	listener   *HeadListener
	dispatcher *Dispatcher
	control    *redis.Client
	log        *slog.Logger
}

// New assembles a daemon. control may be nil when no Redis is
// configured; the control worker is then disabled.
func New(
	cfg Config,
	jobs storage.JobRepository,
	state storage.StateRepository,
	exec *pipeline.Executor,
	scheduler *Scheduler,
	listener *HeadListener,
	control *redis.Client,
) *Daemon {
	return &Daemon{
		cfg:        cfg,
		jobs:       jobs,
		state:      state,
		scheduler:  scheduler,
		listener:   listener,
		dispatcher: NewDispatcher(exec, cfg.Workers),
		control:    control,
		log:        slog.Default(),
	}
}

// Run blocks until ctx is cancelled or a fatal error occurs. Startup is
// strictly ordered: jobs are resumed before any new head is processed,
// so resumed work holds its queue position ahead of new scheduling.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.dispatcher.Start(ctx)

	if err := d.resumeJobs(ctx); err != nil {
		cancel()
		d.dispatcher.Wait()
		return fmt.Errorf("resume failed: %w", err)
	}

	heads := make(chan domain.HeadEvent, 1)
	fatal := make(chan error, 2)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.listener.Run(ctx, heads)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := d.headLoop(ctx, heads); err != nil {
			fatal <- err
		}
	}()

	if d.control != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.controlLoop(ctx); err != nil {
				fatal <- err
			}
		}()
	}

	d.log.Info("Daemon running", "workers", d.cfg.Workers)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-fatal:
		d.log.Error("Fatal component error, shutting down", "error", runErr)
	}

	cancel()
	wg.Wait()
	d.dispatcher.Wait()
	return runErr
}

// headLoop consumes head events: persist the observed head, create any
// due jobs, and sweep waiting jobs back onto the queue every few slots.
func (d *Daemon) headLoop(ctx context.Context, heads <-chan domain.HeadEvent) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case head, ok := <-heads:
			if !ok {
				return nil
			}
			d.log.Debug("New head", "slot", head.Slot, "block_root", head.BlockRoot)

			if err := d.state.UpdateHead(ctx, head.Slot, head.BlockRoot); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("failed to persist head: %w", err)
			}

			if head.Slot%requeueSlotInterval == 0 {
				if err := d.requeueWaiting(ctx); err != nil {
					d.log.Warn("Requeue sweep failed", "error", err)
				}
			}

			jobs, err := d.scheduler.Evaluate(ctx, head)
			if err != nil {
				// Scheduling reads the settlement chain; transient RPC
				// failures are retried on the next head.
				d.log.Warn("Scheduling evaluation failed", "slot", head.Slot, "error", err)
				continue
			}
			for _, job := range jobs {
				if err := d.dispatcher.Enqueue(ctx, job); err != nil {
					return nil
				}
			}
		}
	}
}

// controlLoop services operator commands from the Redis control queue.
func (d *Daemon) controlLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		cmd, found, err := d.control.Pop(ctx, 2*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d.log.Warn("Control queue read failed", "error", err)
			continue
		}
		if !found {
			continue
		}

		switch cmd.Name {
		case redis.CommandCancel:
			if err := d.cancelJob(ctx, cmd); err != nil {
				d.log.Warn("Cancel command failed", "job_id", cmd.JobID, "error", err)
			}
		case redis.CommandRequeue:
			if err := d.requeueJob(ctx, cmd); err != nil {
				d.log.Warn("Requeue command failed", "job_id", cmd.JobID, "error", err)
			}
		}
	}
}

// cancelJob marks a job Cancelled. A worker mid-stage observes the
// cancellation on its next storage read and drops the job.
func (d *Daemon) cancelJob(ctx context.Context, cmd redis.Command) error {
	job, err := d.jobs.GetByID(ctx, cmd.JobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return fmt.Errorf("job %s is already %s", job.ID, job.Status)
	}
	if err := d.jobs.UpdateStatus(ctx, job.ID, domain.StatusCancelled); err != nil {
		return err
	}
	d.log.Info("Job cancelled by operator", "job_id", job.ID, "was", job.Status)
	return nil
}

// requeueJob puts an errored job back through the resume classifier and
// onto the queue.
func (d *Daemon) requeueJob(ctx context.Context, cmd redis.Command) error {
	job, err := d.jobs.GetByID(ctx, cmd.JobID)
	if err != nil {
		return err
	}
	if job.Status != domain.StatusError {
		return errors.New("only errored jobs can be requeued")
	}

	resumed := domain.StatusCreated
	if failedAt, err := domain.ParseJobStatus(job.FailedAtStep); err == nil {
		if r, err := ResumeStatus(failedAt); err == nil && !r.Terminal() {
			resumed = r
		}
	}
	if err := d.jobs.UpdateStatus(ctx, job.ID, resumed); err != nil {
		return err
	}
	job.Status = resumed
	d.log.Info("Job requeued by operator", "job_id", job.ID, "status", resumed)
	return d.dispatcher.Enqueue(ctx, job)
}
