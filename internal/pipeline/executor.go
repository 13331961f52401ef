// Package pipeline drives a job through its proving stages. Each call
// to Process performs exactly the side effect associated with leaving
// the job's current status, persists the resulting status together with
// any artifact handle the effect produced, and reports whether the job
// is immediately runnable again.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/petscheit/bankai-sub001/internal/clients/beacon"
	"github.com/petscheit/bankai-sub001/internal/clients/prover"
	"github.com/petscheit/bankai-sub001/internal/clients/settlement"
	"github.com/petscheit/bankai-sub001/internal/core/domain"
	"github.com/petscheit/bankai-sub001/internal/infra/storage"
	"github.com/petscheit/bankai-sub001/internal/metrics"
)

// TraceRunner is the heavy-compute black box that turns program inputs
// into a provable trace artifact.
type TraceRunner interface {
	Start(ctx context.Context, inputsRef string) (handle string, err error)
	Wait(ctx context.Context, handle string) (traceRef string, err error)
}

// Executor advances jobs one stage at a time. Storage is the canonical
// owner of job state; the executor re-reads the job before acting so a
// concurrent cancellation or a crash-restart race can't advance a stale
// copy.
type Executor struct {
	jobs   storage.JobRepository
	proofs storage.ProofRepository
	beacon beacon.Client
	prover prover.Client
	settle settlement.Client
	tracer TraceRunner
	retry  *RetryPolicy
	log    *slog.Logger
}

// NewExecutor wires the stage executor.
func NewExecutor(
	jobs storage.JobRepository,
	proofs storage.ProofRepository,
	beaconClient beacon.Client,
	proverClient prover.Client,
	settleClient settlement.Client,
	tracer TraceRunner,
	retry *RetryPolicy,
) *Executor {
	if retry == nil {
		retry = DefaultRetryPolicy()
	}
	return &Executor{
		jobs:   jobs,
		proofs: proofs,
		beacon: beaconClient,
		prover: proverClient,
		settle: settleClient,
		tracer: tracer,
		retry:  retry,
		log:    slog.Default(),
	}
}

// Process performs one stage transition for the job and returns
// runnable=true when the job advanced to a non-terminal, non-waiting
// status and should be re-enqueued immediately. A stage failure past
// the retry budget marks the job Error in storage; Process only returns
// an error for storage failures, which the daemon escalates when they
// persist.
func (e *Executor) Process(ctx context.Context, stale *domain.Job) (runnable bool, err error) {
	// Re-read the authoritative record: the enqueued copy may have been
	// cancelled or advanced since it was produced.
	job, err := e.jobs.GetByID(ctx, stale.ID)
	if err != nil {
		return false, fmt.Errorf("failed to load job %s: %w", stale.ID, err)
	}
	if job.Status.Terminal() {
		e.log.Debug("Skipping terminal job", "job_id", job.ID, "status", job.Status)
		return false, nil
	}
	if err := job.Validate(); err != nil {
		return false, e.fail(ctx, job, err)
	}

	from := job.Status
	advanced, stageErr := e.runStage(ctx, job)
	if stageErr != nil {
		if errors.Is(stageErr, ErrStorage) {
			// A flaky write must not discard the work already bought;
			// the job keeps its last durable status and the daemon
			// escalates if storage stays down.
			return false, stageErr
		}
		return false, e.fail(ctx, job, stageErr)
	}
	if !advanced {
		return false, nil
	}

	metrics.StageTransitions.WithLabelValues(string(from), string(job.Status)).Inc()
	e.log.Info("Job advanced",
		"job_id", job.ID, "kind", job.Kind, "from", from, "to", job.Status)

	if job.Status == domain.StatusDone {
		metrics.JobsCompleted.WithLabelValues(string(job.Kind)).Inc()
	}
	return !job.Status.Terminal() && !job.Status.Waiting(), nil
}

// runStage mutates job in place to its new status when it advances.
func (e *Executor) runStage(ctx context.Context, job *domain.Job) (advanced bool, err error) {
	switch job.Status {
	case domain.StatusCreated:
		return e.prepareInputs(ctx, job)
	case domain.StatusProgramInputsPrepared:
		return e.fetchInputs(ctx, job)
	case domain.StatusStartedFetchingInputs:
		return e.startTrace(ctx, job)
	case domain.StatusStartedTraceGeneration:
		return e.awaitTrace(ctx, job)
	case domain.StatusPieGenerated:
		return e.requestProof(ctx, job)
	case domain.StatusProofRequested:
		return e.pollProof(ctx, job)
	case domain.StatusProofRetrieved:
		return e.requestWrap(ctx, job)
	case domain.StatusWrapRequested:
		return e.pollWrap(ctx, job)
	case domain.StatusWrappedProofDone:
		return e.finishOffchain(ctx, job)
	case domain.StatusOffchainComputationFinished:
		return e.markReady(ctx, job)
	case domain.StatusReadyToBroadcastOnchain:
		return e.broadcast(ctx, job)
	case domain.StatusProofVerifyCalledOnchain:
		return e.awaitVerification(ctx, job)
	}
	return false, fmt.Errorf("%w: job %s has unprocessable status %q", domain.ErrInvariant, job.ID, job.Status)
}

// fail records a stage failure. Terminal failures (including exhausted
// retry budgets and invariant violations) move the job to Error with the
// reason persisted for operator inspection.
func (e *Executor) fail(ctx context.Context, job *domain.Job, stageErr error) error {
	if ctx.Err() != nil {
		// Shutdown, not a job failure: leave the status untouched so the
		// job resumes at its last persisted checkpoint.
		return nil
	}
	e.log.Error("Stage failed",
		"job_id", job.ID, "kind", job.Kind, "status", job.Status, "error", stageErr)

	if err := e.jobs.SetFailure(ctx, job.ID, job.Status, stageErr.Error()); err != nil {
		return fmt.Errorf("failed to record failure for job %s: %w", job.ID, err)
	}
	metrics.JobsErrored.WithLabelValues(string(job.Kind)).Inc()
	return nil
}

func (e *Executor) prepareInputs(ctx context.Context, job *domain.Job) (bool, error) {
	var ref string
	err := e.retry.Do(ctx, "prepare program inputs", func(ctx context.Context) error {
		var err error
		ref, err = e.beacon.PrepareInputs(ctx, job)
		return err
	})
	if err != nil {
		return false, err
	}
	if err := e.jobs.SetInputsRef(ctx, job.ID, ref, domain.StatusProgramInputsPrepared); err != nil {
		return false, Storage(err)
	}
	job.InputsRef = ref
	job.Status = domain.StatusProgramInputsPrepared
	return true, nil
}

func (e *Executor) fetchInputs(ctx context.Context, job *domain.Job) (bool, error) {
	var ref string
	err := e.retry.Do(ctx, "fetch consensus inputs", func(ctx context.Context) error {
		var err error
		ref, err = e.beacon.FetchInputs(ctx, job)
		return err
	})
	if err != nil {
		return false, err
	}
	if err := e.jobs.SetInputsRef(ctx, job.ID, ref, domain.StatusStartedFetchingInputs); err != nil {
		return false, Storage(err)
	}
	job.InputsRef = ref
	job.Status = domain.StatusStartedFetchingInputs
	return true, nil
}

func (e *Executor) startTrace(ctx context.Context, job *domain.Job) (bool, error) {
	var handle string
	err := e.retry.Do(ctx, "start trace generation", func(ctx context.Context) error {
		var err error
		handle, err = e.tracer.Start(ctx, job.InputsRef)
		return err
	})
	if err != nil {
		return false, err
	}
	if err := e.jobs.SetTraceRef(ctx, job.ID, handle, domain.StatusStartedTraceGeneration); err != nil {
		return false, Storage(err)
	}
	job.TraceRef = handle
	job.Status = domain.StatusStartedTraceGeneration
	return true, nil
}

func (e *Executor) awaitTrace(ctx context.Context, job *domain.Job) (bool, error) {
	var ref string
	err := e.retry.Do(ctx, "await trace generation", func(ctx context.Context) error {
		var err error
		ref, err = e.tracer.Wait(ctx, job.TraceRef)
		return err
	})
	if err != nil {
		return false, err
	}
	if err := e.jobs.SetTraceRef(ctx, job.ID, ref, domain.StatusPieGenerated); err != nil {
		return false, Storage(err)
	}
	job.TraceRef = ref
	job.Status = domain.StatusPieGenerated
	return true, nil
}

func (e *Executor) requestProof(ctx context.Context, job *domain.Job) (bool, error) {
	// A proof request is a paid external call: reuse a handle left by an
	// earlier attempt instead of submitting a duplicate.
	batchID := job.ProverBatchID
	if batchID == "" {
		err := e.retry.Do(ctx, "submit proof batch", func(ctx context.Context) error {
			var err error
			batchID, err = e.prover.SubmitBatch(ctx, job.TraceRef, job.Kind)
			return err
		})
		if err != nil {
			return false, err
		}
	} else {
		e.log.Info("Reusing existing prover batch", "job_id", job.ID, "batch_id", batchID)
	}
	if err := e.jobs.SetProverBatch(ctx, job.ID, batchID, domain.StatusProofRequested); err != nil {
		return false, Storage(err)
	}
	job.ProverBatchID = batchID
	job.Status = domain.StatusProofRequested
	return true, nil
}

func (e *Executor) pollProof(ctx context.Context, job *domain.Job) (bool, error) {
	var status string
	err := e.retry.Do(ctx, "poll proof batch", func(ctx context.Context) error {
		var err error
		status, err = e.prover.BatchStatus(ctx, job.ProverBatchID)
		return err
	})
	if err != nil {
		return false, err
	}

	switch status {
	case prover.BatchStatusDone:
		err := e.retry.Do(ctx, "fetch proof", func(ctx context.Context) error {
			_, err := e.prover.FetchProof(ctx, job.ProverBatchID)
			return err
		})
		if err != nil {
			return false, err
		}
		if err := e.jobs.UpdateStatus(ctx, job.ID, domain.StatusProofRetrieved); err != nil {
			return false, Storage(err)
		}
		job.Status = domain.StatusProofRetrieved
		return true, nil
	case prover.BatchStatusFailed:
		return false, Terminalf("proof generation failed for batch %s", job.ProverBatchID)
	default:
		// Still proving; the requeue loop polls again later.
		e.log.Debug("Proof batch pending", "job_id", job.ID, "batch_id", job.ProverBatchID)
		return false, nil
	}
}

func (e *Executor) requestWrap(ctx context.Context, job *domain.Job) (bool, error) {
	wrapperID := job.WrapperBatchID
	if wrapperID == "" {
		err := e.retry.Do(ctx, "submit wrap request", func(ctx context.Context) error {
			var err error
			wrapperID, err = e.prover.SubmitWrap(ctx, "proofs/"+job.ProverBatchID+".json", job.ProverBatchID)
			return err
		})
		if err != nil {
			return false, err
		}
	} else {
		e.log.Info("Reusing existing wrapper batch", "job_id", job.ID, "batch_id", wrapperID)
	}
	if err := e.jobs.SetWrapperBatch(ctx, job.ID, wrapperID, domain.StatusWrapRequested); err != nil {
		return false, Storage(err)
	}
	job.WrapperBatchID = wrapperID
	job.Status = domain.StatusWrapRequested
	return true, nil
}

func (e *Executor) pollWrap(ctx context.Context, job *domain.Job) (bool, error) {
	var status string
	err := e.retry.Do(ctx, "poll wrap batch", func(ctx context.Context) error {
		var err error
		status, err = e.prover.BatchStatus(ctx, job.WrapperBatchID)
		return err
	})
	if err != nil {
		return false, err
	}

	switch status {
	case prover.BatchStatusDone:
		if err := e.jobs.UpdateStatus(ctx, job.ID, domain.StatusWrappedProofDone); err != nil {
			return false, Storage(err)
		}
		job.Status = domain.StatusWrappedProofDone
		return true, nil
	case prover.BatchStatusFailed:
		return false, Terminalf("proof wrapping failed for batch %s", job.WrapperBatchID)
	default:
		e.log.Debug("Wrap batch pending", "job_id", job.ID, "batch_id", job.WrapperBatchID)
		return false, nil
	}
}

func (e *Executor) finishOffchain(ctx context.Context, job *domain.Job) (bool, error) {
	if err := e.jobs.UpdateStatus(ctx, job.ID, domain.StatusOffchainComputationFinished); err != nil {
		return false, Storage(err)
	}
	job.Status = domain.StatusOffchainComputationFinished
	return true, nil
}

func (e *Executor) markReady(ctx context.Context, job *domain.Job) (bool, error) {
	if err := e.jobs.UpdateStatus(ctx, job.ID, domain.StatusReadyToBroadcastOnchain); err != nil {
		return false, Storage(err)
	}
	job.Status = domain.StatusReadyToBroadcastOnchain
	return true, nil
}

func (e *Executor) broadcast(ctx context.Context, job *domain.Job) (bool, error) {
	// An epoch batch can only verify against a committee the settlement
	// contract already knows. Stay put until the committee update lands.
	if job.Kind == domain.JobKindEpochBatchUpdate {
		required := domain.CommitteeIDByEpoch(*job.BatchEndEpoch)
		var latest uint64
		err := e.retry.Do(ctx, "get latest committee id", func(ctx context.Context) error {
			var err error
			latest, err = e.settle.LatestCommitteeID(ctx)
			return err
		})
		if err != nil {
			return false, err
		}
		if required > latest {
			e.log.Info("Waiting for sync committee update before broadcast",
				"job_id", job.ID, "required", required, "latest", latest)
			return false, nil
		}
	}

	// Never re-broadcast: a tx hash left by an earlier attempt means the
	// submission already happened.
	txHash := job.TxHash
	if txHash == "" {
		err := e.retry.Do(ctx, "submit update on-chain", func(ctx context.Context) error {
			var err error
			txHash, err = e.settle.SubmitUpdate(ctx, job)
			return err
		})
		if err != nil {
			return false, err
		}
	} else {
		e.log.Info("Transaction already submitted, skipping broadcast", "job_id", job.ID, "tx_hash", txHash)
	}
	if err := e.jobs.SetTxHash(ctx, job.ID, txHash, domain.StatusProofVerifyCalledOnchain); err != nil {
		return false, Storage(err)
	}
	job.TxHash = txHash
	job.Status = domain.StatusProofVerifyCalledOnchain
	return true, nil
}

func (e *Executor) awaitVerification(ctx context.Context, job *domain.Job) (bool, error) {
	err := e.retry.Do(ctx, "wait for confirmation", func(ctx context.Context) error {
		return e.settle.WaitForConfirmation(ctx, job.TxHash)
	})
	if err != nil {
		return false, err
	}

	if err := e.recordVerified(ctx, job); err != nil {
		return false, err
	}
	if err := e.jobs.UpdateStatus(ctx, job.ID, domain.StatusDone); err != nil {
		return false, Storage(err)
	}
	job.Status = domain.StatusDone
	e.log.Info("Job verified on-chain", "job_id", job.ID, "kind", job.Kind, "tx_hash", job.TxHash)
	return true, nil
}

// recordVerified writes the audit rows the reporting layer serves.
func (e *Executor) recordVerified(ctx context.Context, job *domain.Job) error {
	switch job.Kind {
	case domain.JobKindEpochBatchUpdate:
		for epoch := *job.BatchBeginEpoch; epoch <= *job.BatchEndEpoch; epoch++ {
			rec := &domain.VerifiedEpoch{
				EpochID:    epoch,
				Slot:       epoch * domain.SlotsPerEpoch,
				BatchIndex: int(epoch - *job.BatchBeginEpoch),
				BatchRoot:  job.WrapperBatchID,
			}
			if err := e.proofs.InsertVerifiedEpoch(ctx, rec); err != nil {
				return Storage(err)
			}
		}
		metrics.LatestVerifiedEpoch.Set(float64(*job.BatchEndEpoch))
	case domain.JobKindSyncCommitteeUpdate:
		var hash string
		err := e.retry.Do(ctx, "get committee hash", func(ctx context.Context) error {
			var err error
			hash, err = e.settle.CommitteeHash(ctx, *job.Slot)
			return err
		})
		if err != nil {
			return err
		}
		rec := &domain.VerifiedSyncCommittee{
			CommitteeID:   domain.SlotToCommitteeID(*job.Slot) + 1,
			CommitteeHash: hash,
			Slot:          *job.Slot,
		}
		if err := e.proofs.InsertVerifiedSyncCommittee(ctx, rec); err != nil {
			return Storage(err)
		}
	}
	return nil
}
