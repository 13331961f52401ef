package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/petscheit/bankai-sub001/internal/core/domain"
)

var (
	// ErrJobNotFound is returned when a job doesn't exist.
	ErrJobNotFound = errors.New("job not found")

	// ErrProofNotFound is returned when no verified proof exists for a range.
	ErrProofNotFound = errors.New("proof not found")
)

// StatusCount is one row of the counts-grouped-by-status query.
type StatusCount struct {
	Status domain.JobStatus `db:"status"`
	Count  int              `db:"count"`
}

// JobRepository is the durable job store. All updates are atomic per job
// row; status plus any artifact handle produced by a stage are persisted
// in a single statement.
type JobRepository interface {
	// Create persists a new job. Durability before any side effect.
	Create(ctx context.Context, job *domain.Job) error

	// GetByID retrieves a job, ErrJobNotFound if absent.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error)

	// UpdateStatus moves a job to a new status.
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.JobStatus) error

	// SetInputsRef persists the program-inputs artifact reference with the new status.
	SetInputsRef(ctx context.Context, id uuid.UUID, ref string, status domain.JobStatus) error

	// SetTraceRef persists the trace (PIE) artifact reference with the new status.
	SetTraceRef(ctx context.Context, id uuid.UUID, ref string, status domain.JobStatus) error

	// SetProverBatch persists the proving-service request handle with the new status.
	SetProverBatch(ctx context.Context, id uuid.UUID, batchID string, status domain.JobStatus) error

	// SetWrapperBatch persists the wrap request handle with the new status.
	SetWrapperBatch(ctx context.Context, id uuid.UUID, batchID string, status domain.JobStatus) error

	// SetTxHash persists the settlement transaction handle with the new status.
	SetTxHash(ctx context.Context, id uuid.UUID, txHash string, status domain.JobStatus) error

	// SetFailure marks the job Error, recording the step it failed at and
	// the reason for operator inspection.
	SetFailure(ctx context.Context, id uuid.UUID, failedAt domain.JobStatus, reason string) error

	// ListByStatus retrieves jobs in any of the given statuses.
	ListByStatus(ctx context.Context, statuses ...domain.JobStatus) ([]*domain.Job, error)

	// ListInFlight retrieves every job in a non-terminal status (resume scan).
	ListInFlight(ctx context.Context) ([]*domain.Job, error)

	// CountInProgress counts non-terminal jobs.
	CountInProgress(ctx context.Context) (int, error)

	// CountByStatus returns counts grouped by status.
	CountByStatus(ctx context.Context) ([]StatusCount, error)

	// LatestEpochInProgress returns the highest batch end epoch across
	// non-terminal epoch batch jobs, 0 if none.
	LatestEpochInProgress(ctx context.Context) (uint64, error)

	// LatestCommitteeInProgress returns the highest committee id being
	// proven by non-terminal sync committee jobs, 0 if none.
	LatestCommitteeInProgress(ctx context.Context) (uint64, error)

	// ExistsForRange reports whether any job already covers the exact epoch range.
	ExistsForRange(ctx context.Context, begin, end uint64) (bool, error)
}

// ProofRepository stores verified results for the reporting layer.
type ProofRepository interface {
	InsertVerifiedEpoch(ctx context.Context, epoch *domain.VerifiedEpoch) error
	InsertVerifiedSyncCommittee(ctx context.Context, committee *domain.VerifiedSyncCommittee) error

	// GetEpochProof retrieves decommitment data, ErrProofNotFound if absent.
	GetEpochProof(ctx context.Context, epochID uint64) (*domain.VerifiedEpoch, error)

	// GetCommitteeHash retrieves a verified committee hash, ErrProofNotFound if absent.
	GetCommitteeHash(ctx context.Context, committeeID uint64) (string, error)
}

// StateRepository tracks the daemon's view of the chain head.
type StateRepository interface {
	UpdateHead(ctx context.Context, slot uint64, blockRoot string) error
	GetHead(ctx context.Context) (slot uint64, blockRoot string, err error)
}
