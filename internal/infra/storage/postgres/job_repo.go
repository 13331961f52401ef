package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/petscheit/bankai-sub001/internal/core/domain"
	"github.com/petscheit/bankai-sub001/internal/infra/storage"
)

// JobRepo implements storage.JobRepository using PostgreSQL.
type JobRepo struct {
	db *DB
}

// NewJobRepo creates a new PostgreSQL job repository.
func NewJobRepo(db *DB) *JobRepo {
	return &JobRepo{db: db}
}

const jobColumns = `job_uuid, kind, status, slot, batch_range_begin_epoch, batch_range_end_epoch,
	inputs_ref, trace_ref, prover_batch_id, wrapper_batch_id, tx_hash, failed_at_step, failure_reason`

func (r *JobRepo) Create(ctx context.Context, job *domain.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	query := `
		INSERT INTO jobs (job_uuid, kind, status, slot, batch_range_begin_epoch, batch_range_end_epoch)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		job.ID, string(job.Kind), string(job.Status),
		job.Slot, job.BatchBeginEpoch, job.BatchEndEpoch)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (r *JobRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	var job domain.Job
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE job_uuid = $1`
	err := r.db.GetContext(ctx, &job, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (r *JobRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.JobStatus) error {
	return r.update(ctx, id,
		`UPDATE jobs SET status = $2, updated_at = NOW() WHERE job_uuid = $1`,
		string(status))
}

func (r *JobRepo) SetInputsRef(ctx context.Context, id uuid.UUID, ref string, status domain.JobStatus) error {
	return r.update(ctx, id,
		`UPDATE jobs SET inputs_ref = $2, status = $3, updated_at = NOW() WHERE job_uuid = $1`,
		ref, string(status))
}

func (r *JobRepo) SetTraceRef(ctx context.Context, id uuid.UUID, ref string, status domain.JobStatus) error {
	return r.update(ctx, id,
		`UPDATE jobs SET trace_ref = $2, status = $3, updated_at = NOW() WHERE job_uuid = $1`,
		ref, string(status))
}

func (r *JobRepo) SetProverBatch(ctx context.Context, id uuid.UUID, batchID string, status domain.JobStatus) error {
	return r.update(ctx, id,
		`UPDATE jobs SET prover_batch_id = $2, status = $3, updated_at = NOW() WHERE job_uuid = $1`,
		batchID, string(status))
}

func (r *JobRepo) SetWrapperBatch(ctx context.Context, id uuid.UUID, batchID string, status domain.JobStatus) error {
	return r.update(ctx, id,
		`UPDATE jobs SET wrapper_batch_id = $2, status = $3, updated_at = NOW() WHERE job_uuid = $1`,
		batchID, string(status))
}

func (r *JobRepo) SetTxHash(ctx context.Context, id uuid.UUID, txHash string, status domain.JobStatus) error {
	return r.update(ctx, id,
		`UPDATE jobs SET tx_hash = $2, status = $3, updated_at = NOW() WHERE job_uuid = $1`,
		txHash, string(status))
}

func (r *JobRepo) SetFailure(ctx context.Context, id uuid.UUID, failedAt domain.JobStatus, reason string) error {
	return r.update(ctx, id,
		`UPDATE jobs SET status = $2, failed_at_step = $3, failure_reason = $4, updated_at = NOW() WHERE job_uuid = $1`,
		string(domain.StatusError), string(failedAt), reason)
}

func (r *JobRepo) update(ctx context.Context, id uuid.UUID, query string, args ...any) error {
	allArgs := append([]any{id}, args...)
	res, err := r.db.ExecContext(ctx, query, allArgs...)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrJobNotFound
	}
	return nil
}

func (r *JobRepo) ListByStatus(ctx context.Context, statuses ...domain.JobStatus) ([]*domain.Job, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	raw := make([]string, len(statuses))
	for i, s := range statuses {
		raw[i] = string(s)
	}
	query, args, err := sqlx.In(`SELECT `+jobColumns+` FROM jobs WHERE status IN (?) ORDER BY created_at ASC`, raw)
	if err != nil {
		return nil, err
	}
	var jobs []*domain.Job
	if err := r.db.SelectContext(ctx, &jobs, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs by status: %w", err)
	}
	return jobs, nil
}

func (r *JobRepo) ListInFlight(ctx context.Context) ([]*domain.Job, error) {
	var jobs []*domain.Job
	query := `SELECT ` + jobColumns + ` FROM jobs
		WHERE status NOT IN ('DONE', 'ERROR', 'CANCELLED') ORDER BY created_at ASC`
	if err := r.db.SelectContext(ctx, &jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list in-flight jobs: %w", err)
	}
	return jobs, nil
}

func (r *JobRepo) CountInProgress(ctx context.Context) (int, error) {
	var count int
	query := `SELECT count(*) FROM jobs WHERE status NOT IN ('DONE', 'ERROR', 'CANCELLED')`
	if err := r.db.GetContext(ctx, &count, query); err != nil {
		return 0, fmt.Errorf("failed to count jobs in progress: %w", err)
	}
	return count, nil
}

func (r *JobRepo) CountByStatus(ctx context.Context) ([]storage.StatusCount, error) {
	var counts []storage.StatusCount
	query := `SELECT status, count(*) AS count FROM jobs GROUP BY status`
	if err := r.db.SelectContext(ctx, &counts, query); err != nil {
		return nil, fmt.Errorf("failed to count jobs by status: %w", err)
	}
	return counts, nil
}

func (r *JobRepo) LatestEpochInProgress(ctx context.Context) (uint64, error) {
	var epoch uint64
	query := `SELECT COALESCE(MAX(batch_range_end_epoch), 0) FROM jobs
		WHERE kind = $1 AND status NOT IN ('DONE', 'ERROR', 'CANCELLED')`
	if err := r.db.GetContext(ctx, &epoch, query, string(domain.JobKindEpochBatchUpdate)); err != nil {
		return 0, fmt.Errorf("failed to get latest epoch in progress: %w", err)
	}
	return epoch, nil
}

func (r *JobRepo) LatestCommitteeInProgress(ctx context.Context) (uint64, error) {
	var slot uint64
	query := `SELECT COALESCE(MAX(slot), 0) FROM jobs
		WHERE kind = $1 AND status NOT IN ('DONE', 'ERROR', 'CANCELLED')`
	if err := r.db.GetContext(ctx, &slot, query, string(domain.JobKindSyncCommitteeUpdate)); err != nil {
		return 0, fmt.Errorf("failed to get latest committee in progress: %w", err)
	}
	if slot == 0 {
		return 0, nil
	}
	// A rotation job anchored at slot proves the NEXT committee.
	return domain.SlotToCommitteeID(slot) + 1, nil
}

func (r *JobRepo) ExistsForRange(ctx context.Context, begin, end uint64) (bool, error) {
	var count int
	query := `SELECT count(*) FROM jobs WHERE batch_range_begin_epoch = $1 AND batch_range_end_epoch = $2`
	if err := r.db.GetContext(ctx, &count, query, begin, end); err != nil {
		return false, fmt.Errorf("failed to check job range: %w", err)
	}
	return count > 0, nil
}
