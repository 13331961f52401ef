package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// JobKind determines which range fields are meaningful and which
// pipeline variant processes the job.
type JobKind string

const (
	JobKindEpochBatchUpdate    JobKind = "EPOCH_BATCH_UPDATE"
	JobKindSyncCommitteeUpdate JobKind = "SYNC_COMMITTEE_UPDATE"
)

// ParseJobKind decodes the storage representation of a job kind.
func ParseJobKind(s string) (JobKind, error) {
	switch JobKind(s) {
	case JobKindEpochBatchUpdate, JobKindSyncCommitteeUpdate:
		return JobKind(s), nil
	}
	return "", fmt.Errorf("unknown job kind %q", s)
}

// JobStatus is the job's position in the pipeline state machine. Each
// status names the last completed step.
type JobStatus string

const (
	StatusCreated                     JobStatus = "CREATED"
	StatusProgramInputsPrepared       JobStatus = "PROGRAM_INPUTS_PREPARED"
	StatusStartedFetchingInputs       JobStatus = "STARTED_FETCHING_INPUTS"
	StatusStartedTraceGeneration      JobStatus = "STARTED_TRACE_GENERATION"
	StatusPieGenerated                JobStatus = "PIE_GENERATED"
	StatusProofRequested              JobStatus = "OFFCHAIN_PROOF_REQUESTED"
	StatusProofRetrieved              JobStatus = "OFFCHAIN_PROOF_RETRIEVED"
	StatusWrapRequested               JobStatus = "WRAP_PROOF_REQUESTED"
	StatusWrappedProofDone            JobStatus = "WRAPPED_PROOF_DONE"
	StatusOffchainComputationFinished JobStatus = "OFFCHAIN_COMPUTATION_FINISHED"
	StatusReadyToBroadcastOnchain     JobStatus = "READY_TO_BROADCAST_ONCHAIN"
	StatusProofVerifyCalledOnchain    JobStatus = "PROOF_VERIFY_CALLED_ONCHAIN"
	StatusDone                        JobStatus = "DONE"
	StatusError                       JobStatus = "ERROR"
	StatusCancelled                   JobStatus = "CANCELLED"
)

// successors is the single designated next status for each non-terminal
// status. Statuses absent from the map are terminal.
var successors = map[JobStatus]JobStatus{
	StatusCreated:                     StatusProgramInputsPrepared,
	StatusProgramInputsPrepared:       StatusStartedFetchingInputs,
	StatusStartedFetchingInputs:       StatusStartedTraceGeneration,
	StatusStartedTraceGeneration:      StatusPieGenerated,
	StatusPieGenerated:                StatusProofRequested,
	StatusProofRequested:              StatusProofRetrieved,
	StatusProofRetrieved:              StatusWrapRequested,
	StatusWrapRequested:               StatusWrappedProofDone,
	StatusWrappedProofDone:            StatusOffchainComputationFinished,
	StatusOffchainComputationFinished: StatusReadyToBroadcastOnchain,
	StatusReadyToBroadcastOnchain:     StatusProofVerifyCalledOnchain,
	StatusProofVerifyCalledOnchain:    StatusDone,
}

// Next returns the designated successor status. ok is false for
// terminal statuses.
func (s JobStatus) Next() (next JobStatus, ok bool) {
	next, ok = successors[s]
	return next, ok
}

// Terminal reports whether the status has no outgoing transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusDone, StatusError, StatusCancelled:
		return true
	}
	return false
}

// Waiting reports whether the job is blocked on an asynchronous external
// response that is polled rather than re-issued. Waiting jobs are
// re-enqueued by the daemon's requeue loop, not by stage completion.
func (s JobStatus) Waiting() bool {
	return s == StatusProofRequested || s == StatusWrapRequested
}

// ParseJobStatus decodes the storage representation of a status. Every
// variant must be matched here; the state machine test asserts the
// encode/decode is exhaustive.
func ParseJobStatus(s string) (JobStatus, error) {
	switch JobStatus(s) {
	case StatusCreated, StatusProgramInputsPrepared, StatusStartedFetchingInputs,
		StatusStartedTraceGeneration, StatusPieGenerated, StatusProofRequested,
		StatusProofRetrieved, StatusWrapRequested, StatusWrappedProofDone,
		StatusOffchainComputationFinished, StatusReadyToBroadcastOnchain,
		StatusProofVerifyCalledOnchain, StatusDone, StatusError, StatusCancelled:
		return JobStatus(s), nil
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// AllStatuses lists every status in pipeline order, terminals last.
func AllStatuses() []JobStatus {
	return []JobStatus{
		StatusCreated, StatusProgramInputsPrepared, StatusStartedFetchingInputs,
		StatusStartedTraceGeneration, StatusPieGenerated, StatusProofRequested,
		StatusProofRetrieved, StatusWrapRequested, StatusWrappedProofDone,
		StatusOffchainComputationFinished, StatusReadyToBroadcastOnchain,
		StatusProofVerifyCalledOnchain, StatusDone, StatusError, StatusCancelled,
	}
}

// Job is the persisted unit of work. Storage owns the canonical state;
// in-memory copies drive one stage transition and are then discarded.
type Job struct {
	ID     uuid.UUID `db:"job_uuid"`
	Kind   JobKind   `db:"kind"`
	Status JobStatus `db:"status"`

	// Range fields: exactly one of {batch range pair, slot} is set,
	// determined by Kind.
	Slot            *uint64 `db:"slot"`
	BatchBeginEpoch *uint64 `db:"batch_range_begin_epoch"`
	BatchEndEpoch   *uint64 `db:"batch_range_end_epoch"`

	// Durable artifact handles produced by pipeline stages. Re-attempts
	// check these before re-issuing non-idempotent external calls.
	InputsRef      string `db:"inputs_ref"`
	TraceRef       string `db:"trace_ref"`
	ProverBatchID  string `db:"prover_batch_id"`
	WrapperBatchID string `db:"wrapper_batch_id"`
	TxHash         string `db:"tx_hash"`

	FailedAtStep string `db:"failed_at_step"`
	FailureRaw   string `db:"failure_reason"`
}

// NewEpochBatchJob constructs a Created job covering the inclusive epoch
// range [begin, end].
func NewEpochBatchJob(begin, end uint64) (*Job, error) {
	if begin > end {
		return nil, fmt.Errorf("%w: epoch batch range [%d, %d] is inverted", ErrInvariant, begin, end)
	}
	job := &Job{
		ID:              uuid.New(),
		Kind:            JobKindEpochBatchUpdate,
		Status:          StatusCreated,
		BatchBeginEpoch: &begin,
		BatchEndEpoch:   &end,
	}
	return job, job.Validate()
}

// NewSyncCommitteeJob constructs a Created job for the committee
// rotation at the given slot.
func NewSyncCommitteeJob(slot uint64) (*Job, error) {
	job := &Job{
		ID:     uuid.New(),
		Kind:   JobKindSyncCommitteeUpdate,
		Status: StatusCreated,
		Slot:   &slot,
	}
	return job, job.Validate()
}

// Validate enforces the kind/range invariant.
func (j *Job) Validate() error {
	switch j.Kind {
	case JobKindEpochBatchUpdate:
		if j.BatchBeginEpoch == nil || j.BatchEndEpoch == nil {
			return fmt.Errorf("%w: epoch batch job %s missing epoch range", ErrInvariant, j.ID)
		}
		if j.Slot != nil {
			return fmt.Errorf("%w: epoch batch job %s must not carry a slot", ErrInvariant, j.ID)
		}
		if *j.BatchBeginEpoch > *j.BatchEndEpoch {
			return fmt.Errorf("%w: epoch batch job %s range [%d, %d] is inverted",
				ErrInvariant, j.ID, *j.BatchBeginEpoch, *j.BatchEndEpoch)
		}
	case JobKindSyncCommitteeUpdate:
		if j.Slot == nil {
			return fmt.Errorf("%w: sync committee job %s missing slot", ErrInvariant, j.ID)
		}
		if j.BatchBeginEpoch != nil || j.BatchEndEpoch != nil {
			return fmt.Errorf("%w: sync committee job %s must not carry an epoch range", ErrInvariant, j.ID)
		}
	default:
		return fmt.Errorf("%w: job %s has unknown kind %q", ErrInvariant, j.ID, j.Kind)
	}
	return nil
}
