package daemon

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/petscheit/bankai-sub001/internal/clients/settlement"
	"github.com/petscheit/bankai-sub001/internal/core/domain"
	"github.com/petscheit/bankai-sub001/internal/infra/storage"
	"github.com/petscheit/bankai-sub001/internal/metrics"
)

const (
	// maxInProgressBatches caps concurrent epoch batch jobs so a long
	// settlement lag doesn't flood the prover.
	maxInProgressBatches = 8
)

// Scheduler decides, per observed head, which proof jobs to create.
// Decisions are driven by three watermarks: the settlement chain's
// verified state, the database's in-progress state, and the head.
type Scheduler struct {
	jobs   storage.JobRepository
	settle settlement.Client
	log    *slog.Logger
}

// NewScheduler creates a job scheduler.
func NewScheduler(jobs storage.JobRepository, settle settlement.Client) *Scheduler {
	return &Scheduler{jobs: jobs, settle: settle, log: slog.Default()}
}

// Evaluate inspects the current head and returns the jobs to create,
// already persisted in Created status. Committee rotation takes
// priority: epoch batches past a committee boundary can't verify until
// the committee update lands, so the rotation job is created first.
func (s *Scheduler) Evaluate(ctx context.Context, head domain.HeadEvent) ([]*domain.Job, error) {
	verifiedSlot, err := s.settle.LatestEpochSlot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest verified epoch slot: %w", err)
	}

	var created []*domain.Job

	committeeJob, err := s.evaluateCommittee(ctx, verifiedSlot)
	if err != nil {
		return nil, err
	}
	if committeeJob != nil {
		created = append(created, committeeJob)
	}

	batchJob, err := s.evaluateEpochBatch(ctx, head, verifiedSlot)
	if err != nil {
		return nil, err
	}
	if batchJob != nil {
		created = append(created, batchJob)
	}

	return created, nil
}

// evaluateCommittee creates a sync committee job when verified epoch
// progress has entered a committee period whose successor is not yet
// proven or being proven.
func (s *Scheduler) evaluateCommittee(ctx context.Context, verifiedSlot uint64) (*domain.Job, error) {
	needed := domain.SlotToCommitteeID(verifiedSlot) + 1

	latestOnchain, err := s.settle.LatestCommitteeID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest committee id: %w", err)
	}
	latestInProgress, err := s.jobs.LatestCommitteeInProgress(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest in-progress committee: %w", err)
	}

	latest := latestOnchain
	if latestInProgress > latest {
		latest = latestInProgress
	}
	if needed <= latest {
		return nil, nil
	}

	// The proof is anchored at the last verified slot inside the current
	// period; it attests the NEXT committee's keys.
	job, err := domain.NewSyncCommitteeJob(verifiedSlot)
	if err != nil {
		return nil, err
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to persist committee job: %w", err)
	}
	metrics.JobsCreated.WithLabelValues(string(job.Kind)).Inc()
	s.log.Info("Scheduled sync committee job",
		"job_id", job.ID, "committee_id", needed, "slot", verifiedSlot)
	return job, nil
}

// evaluateEpochBatch creates one epoch batch job when the head has moved
// a full batch past the highest epoch that is verified or already being
// proven. The batch never crosses a committee boundary.
func (s *Scheduler) evaluateEpochBatch(ctx context.Context, head domain.HeadEvent, verifiedSlot uint64) (*domain.Job, error) {
	inProgress, err := s.jobs.CountInProgress(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count in-progress jobs: %w", err)
	}
	if inProgress >= maxInProgressBatches {
		s.log.Debug("In-progress cap reached, skipping batch scheduling", "in_progress", inProgress)
		return nil, nil
	}

	verifiedEpoch := domain.SlotToEpoch(verifiedSlot)
	scheduledEpoch, err := s.jobs.LatestEpochInProgress(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest scheduled epoch: %w", err)
	}

	floor := verifiedEpoch
	if scheduledEpoch > floor {
		floor = scheduledEpoch
	}

	headEpoch := domain.SlotToEpoch(head.Slot)
	if headEpoch < floor || headEpoch-floor < domain.TargetBatchSize {
		return nil, nil
	}

	begin := floor + 1
	end := begin + domain.TargetBatchSize - 1
	// Clamp to the committee period: epochs past the boundary need the
	// next committee's proof first.
	if boundary := domain.LastEpochOfCommittee(domain.CommitteeIDByEpoch(begin)); end > boundary {
		end = boundary
	}
	if begin > end {
		return nil, nil
	}

	exists, err := s.jobs.ExistsForRange(ctx, begin, end)
	if err != nil {
		return nil, fmt.Errorf("failed to check for existing batch: %w", err)
	}
	if exists {
		return nil, nil
	}

	job, err := domain.NewEpochBatchJob(begin, end)
	if err != nil {
		return nil, err
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to persist epoch batch job: %w", err)
	}
	metrics.JobsCreated.WithLabelValues(string(job.Kind)).Inc()
	s.log.Info("Scheduled epoch batch job",
		"job_id", job.ID, "begin_epoch", begin, "end_epoch", end, "head_epoch", headEpoch)
	return job, nil
}
