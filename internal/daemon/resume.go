package daemon

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/petscheit/bankai-sub001/internal/core/domain"
)

// ResumeStatus maps a status found at startup to the status the job
// restarts from. Stages whose side effects did not produce a durable
// artifact rewind to Created; stages with a persisted batch handle are
// kept and polled; a verify call already broadcast collapses to Done.
//
// An unknown status is a refusal to guess: the daemon must not run
// against a database written by a newer schema.
func ResumeStatus(s domain.JobStatus) (domain.JobStatus, error) {
	switch s {
	case domain.StatusCreated,
		domain.StatusProgramInputsPrepared,
		domain.StatusStartedFetchingInputs,
		domain.StatusStartedTraceGeneration,
		domain.StatusPieGenerated:
		// In-process state (subprocesses, local files) died with the old
		// daemon; rebuild from scratch.
		return domain.StatusCreated, nil
	case domain.StatusProofRequested, domain.StatusWrapRequested:
		// The external service still holds the batch; resume polling.
		return s, nil
	case domain.StatusProofRetrieved:
		return domain.StatusWrapRequested, nil
	case domain.StatusWrappedProofDone,
		domain.StatusOffchainComputationFinished,
		domain.StatusReadyToBroadcastOnchain:
		return domain.StatusReadyToBroadcastOnchain, nil
	case domain.StatusProofVerifyCalledOnchain:
		// The verify transaction was already broadcast; re-running the
		// wait risks nothing but closing out avoids any chance of a
		// duplicate paid submission.
		return domain.StatusDone, nil
	case domain.StatusDone, domain.StatusError, domain.StatusCancelled:
		return s, nil
	}
	return "", fmt.Errorf("cannot resume job with unknown status %q", s)
}

// resumeJobs reclassifies every in-flight job at startup and enqueues
// the survivors. Any unknown status aborts startup.
func (d *Daemon) resumeJobs(ctx context.Context) error {
	jobs, err := d.jobs.ListInFlight(ctx)
	if err != nil {
		return fmt.Errorf("failed to list in-flight jobs: %w", err)
	}
	if len(jobs) == 0 {
		d.log.Info("No in-flight jobs to resume")
		return nil
	}

	for _, job := range jobs {
		resumed, err := ResumeStatus(job.Status)
		if err != nil {
			return fmt.Errorf("job %s: %w", job.ID, err)
		}
		if resumed == job.Status {
			// Left for the normal polling path; the requeue sweep picks
			// it up within a few slots.
			continue
		}
		slog.Info("Rewinding job for resume",
			"job_id", job.ID, "kind", job.Kind, "from", job.Status, "to", resumed)
		if err := d.jobs.UpdateStatus(ctx, job.ID, resumed); err != nil {
			return fmt.Errorf("failed to rewind job %s: %w", job.ID, err)
		}
		job.Status = resumed
		if job.Status.Terminal() {
			continue
		}
		if err := d.dispatcher.Enqueue(ctx, job); err != nil {
			return err
		}
	}

	d.log.Info("Resumed in-flight jobs", "count", len(jobs))
	return nil
}

// requeueWaiting re-enqueues every non-terminal job: batches being
// proven or wrapped, broadcasts deferred behind a pending committee
// update, and any job whose completion signal was dropped on a full
// queue. Runs on the requeue cadence so nothing stays stranded short of
// a restart. Signals for jobs a worker already holds are dropped at
// acquire time, and re-processing an up-to-date job is a no-op.
func (d *Daemon) requeueWaiting(ctx context.Context) error {
	jobs, err := d.jobs.ListInFlight(ctx)
	if err != nil {
		return fmt.Errorf("failed to list waiting jobs: %w", err)
	}
	for _, job := range jobs {
		if !d.dispatcher.tryEnqueue(job) {
			// Queue is saturated; the next sweep picks the rest up.
			break
		}
	}
	return nil
}
