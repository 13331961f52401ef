package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/petscheit/bankai-sub001/internal/clients/prover"
	"github.com/petscheit/bankai-sub001/internal/core/domain"
	"github.com/petscheit/bankai-sub001/internal/infra/storage/memory"
)

// =============================================================================
// Mocks
// =============================================================================

type mockBeacon struct {
	headSlot uint64
}

func (m *mockBeacon) Head(ctx context.Context) (domain.HeadEvent, error) {
	return domain.HeadEvent{Slot: m.headSlot, BlockRoot: "0xroot"}, nil
}

func (m *mockBeacon) PrepareInputs(ctx context.Context, job *domain.Job) (string, error) {
	return "inputs/" + job.ID.String() + ".json", nil
}

func (m *mockBeacon) FetchInputs(ctx context.Context, job *domain.Job) (string, error) {
	return job.InputsRef, nil
}

type mockProver struct {
	mu          sync.Mutex
	batchStatus map[string]string
	submits     int
	wraps       int
	submitErr   error
}

func (m *mockProver) SubmitBatch(ctx context.Context, traceRef string, kind domain.JobKind) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.submitErr != nil {
		return "", m.submitErr
	}
	m.submits++
	return "batch-1", nil
}

func (m *mockProver) BatchStatus(ctx context.Context, batchID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.batchStatus[batchID]; ok {
		return s, nil
	}
	return prover.BatchStatusPending, nil
}

func (m *mockProver) FetchProof(ctx context.Context, batchID string) (string, error) {
	return "proofs/" + batchID + ".json", nil
}

func (m *mockProver) SubmitWrap(ctx context.Context, proofRef string, batchID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wraps++
	return "wrap-1", nil
}

func (m *mockProver) setStatus(batchID, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.batchStatus == nil {
		m.batchStatus = map[string]string{}
	}
	m.batchStatus[batchID] = status
}

type mockSettlement struct {
	mu          sync.Mutex
	epochSlot   uint64
	committeeID uint64
	submits     int
}

func (m *mockSettlement) LatestEpochSlot(ctx context.Context) (uint64, error) {
	return m.epochSlot, nil
}

func (m *mockSettlement) LatestCommitteeID(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.committeeID, nil
}

func (m *mockSettlement) CommitteeHash(ctx context.Context, slot uint64) (string, error) {
	return "0xcommittee", nil
}

func (m *mockSettlement) SubmitUpdate(ctx context.Context, job *domain.Job) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submits++
	return "0xtx", nil
}

func (m *mockSettlement) WaitForConfirmation(ctx context.Context, txHash string) error {
	return nil
}

type mockTracer struct{}

func (m *mockTracer) Start(ctx context.Context, inputsRef string) (string, error) {
	return "trace-handle", nil
}

func (m *mockTracer) Wait(ctx context.Context, handle string) (string, error) {
	return "artifacts/" + handle + ".pie", nil
}

// =============================================================================
// Harness
// =============================================================================

type harness struct {
	t      *testing.T
	store  *memory.Store
	beacon *mockBeacon
	prover *mockProver
	settle *mockSettlement
	exec   *Executor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		store:  memory.NewStore(),
		beacon: &mockBeacon{headSlot: 1_000_000},
		prover: &mockProver{},
		settle: &mockSettlement{committeeID: 1 << 20},
	}
	retry := &RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Classifier:   DefaultClassifier,
	}
	h.exec = NewExecutor(h.store, h.store, h.beacon, h.prover, h.settle, &mockTracer{}, retry)
	return h
}

// drive processes the job until it stops being immediately runnable.
func (h *harness) drive(t *testing.T, job *domain.Job) *domain.Job {
	t.Helper()
	for i := 0; i < 20; i++ {
		runnable, err := h.exec.Process(context.Background(), job)
		if err != nil {
			t.Fatalf("process: %v", err)
		}
		cur, err := h.store.GetByID(context.Background(), job.ID)
		if err != nil {
			t.Fatal(err)
		}
		if !runnable {
			return cur
		}
		job = cur
	}
	t.Fatal("job did not settle after 20 stages")
	return nil
}

func (h *harness) mustCreate(job *domain.Job, err error) *domain.Job {
	h.t.Helper()
	if err != nil {
		h.t.Fatal(err)
	}
	if err := h.store.Create(context.Background(), job); err != nil {
		h.t.Fatal(err)
	}
	return job
}

// =============================================================================
// Tests
// =============================================================================

func TestEpochBatchFullWalk(t *testing.T) {
	h := newHarness(t)
	job := h.mustCreate(domain.NewEpochBatchJob(100, 131))

	// Created through PieGenerated and the proof submission.
	job = h.drive(t, job)
	if job.Status != domain.StatusProofRequested {
		t.Fatalf("status = %s, want %s", job.Status, domain.StatusProofRequested)
	}
	if job.InputsRef == "" || job.TraceRef == "" || job.ProverBatchID != "batch-1" {
		t.Fatalf("missing artifact handles: %+v", job)
	}

	// Proof finishes; polling picks it up and runs to the wrap request.
	h.prover.setStatus("batch-1", prover.BatchStatusDone)
	job = h.drive(t, job)
	if job.Status != domain.StatusWrapRequested {
		t.Fatalf("status = %s, want %s", job.Status, domain.StatusWrapRequested)
	}

	// Wrap finishes; the job broadcasts and completes.
	h.prover.setStatus("wrap-1", prover.BatchStatusDone)
	job = h.drive(t, job)
	if job.Status != domain.StatusDone {
		t.Fatalf("status = %s, want %s", job.Status, domain.StatusDone)
	}
	if job.TxHash != "0xtx" {
		t.Errorf("tx hash = %q", job.TxHash)
	}

	// Every epoch in the range has a verified row.
	for epoch := uint64(100); epoch <= 131; epoch++ {
		if _, err := h.store.GetEpochProof(context.Background(), epoch); err != nil {
			t.Errorf("epoch %d: %v", epoch, err)
		}
	}
}

func TestSyncCommitteeFullWalk(t *testing.T) {
	h := newHarness(t)
	slot := uint64(8191)
	job := h.mustCreate(domain.NewSyncCommitteeJob(slot))

	job = h.drive(t, job)
	h.prover.setStatus("batch-1", prover.BatchStatusDone)
	job = h.drive(t, job)
	h.prover.setStatus("wrap-1", prover.BatchStatusDone)
	job = h.drive(t, job)

	if job.Status != domain.StatusDone {
		t.Fatalf("status = %s, want %s", job.Status, domain.StatusDone)
	}
	// The proof at slot 8191 attests committee period 1.
	hash, err := h.store.GetCommitteeHash(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if hash != "0xcommittee" {
		t.Errorf("committee hash = %q", hash)
	}
}

func TestProofPendingDoesNotAdvance(t *testing.T) {
	h := newHarness(t)
	job := h.mustCreate(domain.NewEpochBatchJob(0, 31))

	job = h.drive(t, job)
	if job.Status != domain.StatusProofRequested {
		t.Fatalf("status = %s", job.Status)
	}

	// Prover still pending: processing again is a no-op.
	job = h.drive(t, job)
	if job.Status != domain.StatusProofRequested {
		t.Fatalf("pending poll advanced job to %s", job.Status)
	}
}

func TestProofFailureMarksJobError(t *testing.T) {
	h := newHarness(t)
	job := h.mustCreate(domain.NewEpochBatchJob(0, 31))

	job = h.drive(t, job)
	h.prover.setStatus("batch-1", prover.BatchStatusFailed)
	job = h.drive(t, job)

	if job.Status != domain.StatusError {
		t.Fatalf("status = %s, want %s", job.Status, domain.StatusError)
	}
	if job.FailedAtStep != string(domain.StatusProofRequested) {
		t.Errorf("failed_at_step = %q", job.FailedAtStep)
	}
	if !strings.Contains(job.FailureRaw, "proof generation failed") {
		t.Errorf("failure reason = %q", job.FailureRaw)
	}
}

func TestTransientExhaustionMarksJobError(t *testing.T) {
	h := newHarness(t)
	h.prover.submitErr = errors.New("connection refused")
	job := h.mustCreate(domain.NewEpochBatchJob(0, 31))

	job = h.drive(t, job)
	if job.Status != domain.StatusError {
		t.Fatalf("status = %s, want %s", job.Status, domain.StatusError)
	}
	if job.FailedAtStep != string(domain.StatusPieGenerated) {
		t.Errorf("failed_at_step = %q", job.FailedAtStep)
	}
}

func TestProofSubmissionDeduped(t *testing.T) {
	h := newHarness(t)
	job := h.mustCreate(domain.NewEpochBatchJob(0, 31))
	job = h.drive(t, job)
	if h.prover.submits != 1 {
		t.Fatalf("submits = %d", h.prover.submits)
	}

	// Simulate a crash after submission but before the status write: the
	// job is back at PieGenerated with the batch handle persisted.
	if err := h.store.SetProverBatch(context.Background(), job.ID, "batch-1", domain.StatusPieGenerated); err != nil {
		t.Fatal(err)
	}
	job, _ = h.store.GetByID(context.Background(), job.ID)
	job = h.drive(t, job)

	if job.Status != domain.StatusProofRequested {
		t.Fatalf("status = %s", job.Status)
	}
	if h.prover.submits != 1 {
		t.Errorf("duplicate proof submission: submits = %d", h.prover.submits)
	}
}

func TestBroadcastWaitsForCommitteeUpdate(t *testing.T) {
	h := newHarness(t)
	// Batch ends in committee period 1; settlement only knows period 0.
	h.settle.committeeID = 0
	job := h.mustCreate(domain.NewEpochBatchJob(260, 291))

	job = h.drive(t, job)
	h.prover.setStatus("batch-1", prover.BatchStatusDone)
	job = h.drive(t, job)
	h.prover.setStatus("wrap-1", prover.BatchStatusDone)
	job = h.drive(t, job)

	if job.Status != domain.StatusReadyToBroadcastOnchain {
		t.Fatalf("status = %s, want %s", job.Status, domain.StatusReadyToBroadcastOnchain)
	}
	if h.settle.submits != 0 {
		t.Errorf("broadcast happened despite missing committee: submits = %d", h.settle.submits)
	}

	// Committee update lands; the next pass broadcasts.
	h.settle.mu.Lock()
	h.settle.committeeID = 1
	h.settle.mu.Unlock()
	job = h.drive(t, job)
	if job.Status != domain.StatusDone {
		t.Fatalf("status = %s, want %s", job.Status, domain.StatusDone)
	}
	if h.settle.submits != 1 {
		t.Errorf("submits = %d", h.settle.submits)
	}
}

func TestBroadcastDeduped(t *testing.T) {
	h := newHarness(t)
	job := h.mustCreate(domain.NewEpochBatchJob(0, 31))

	// Crash-recovery shape: ready to broadcast with a tx hash already
	// persisted from the interrupted attempt.
	if err := h.store.SetTxHash(context.Background(), job.ID, "0xold", domain.StatusReadyToBroadcastOnchain); err != nil {
		t.Fatal(err)
	}
	job, _ = h.store.GetByID(context.Background(), job.ID)
	job = h.drive(t, job)

	if job.Status != domain.StatusDone {
		t.Fatalf("status = %s", job.Status)
	}
	if h.settle.submits != 0 {
		t.Errorf("re-broadcast happened: submits = %d", h.settle.submits)
	}
	if job.TxHash != "0xold" {
		t.Errorf("tx hash = %q, want original", job.TxHash)
	}
}

func TestCancelledJobIsSkipped(t *testing.T) {
	h := newHarness(t)
	job := h.mustCreate(domain.NewEpochBatchJob(0, 31))
	if err := h.store.UpdateStatus(context.Background(), job.ID, domain.StatusCancelled); err != nil {
		t.Fatal(err)
	}

	// The worker holds a stale copy claiming Created; the executor must
	// observe the cancellation in storage and do nothing.
	runnable, err := h.exec.Process(context.Background(), job)
	if err != nil {
		t.Fatal(err)
	}
	if runnable {
		t.Error("cancelled job reported runnable")
	}
	cur, _ := h.store.GetByID(context.Background(), job.ID)
	if cur.Status != domain.StatusCancelled {
		t.Errorf("status = %s, want %s", cur.Status, domain.StatusCancelled)
	}
	if h.prover.submits != 0 {
		t.Errorf("cancelled job reached the prover")
	}
}

// flakyJobs fails status writes on demand while leaving reads intact.
type flakyJobs struct {
	*memory.Store
	failWrites bool
}

func (f *flakyJobs) SetInputsRef(ctx context.Context, id uuid.UUID, ref string, status domain.JobStatus) error {
	if f.failWrites {
		return errors.New("connection reset by peer")
	}
	return f.Store.SetInputsRef(ctx, id, ref, status)
}

func TestStorageFailureDoesNotErrorJob(t *testing.T) {
	store := memory.NewStore()
	jobs := &flakyJobs{Store: store, failWrites: true}
	retry := &RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Classifier:   DefaultClassifier,
	}
	exec := NewExecutor(jobs, store,
		&mockBeacon{headSlot: 1_000_000}, &mockProver{}, &mockSettlement{committeeID: 1 << 20}, &mockTracer{}, retry)

	job, err := domain.NewEpochBatchJob(0, 31)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Create(context.Background(), job); err != nil {
		t.Fatal(err)
	}

	runnable, err := exec.Process(context.Background(), job)
	if err == nil {
		t.Fatal("expected the failed write to surface")
	}
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("error = %v, want a storage failure", err)
	}
	if runnable {
		t.Error("job reported runnable after a failed write")
	}

	// The job keeps its last durable status and carries no failure mark.
	cur, err := store.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cur.Status != domain.StatusCreated {
		t.Fatalf("status = %s, want %s", cur.Status, domain.StatusCreated)
	}
	if cur.FailureRaw != "" {
		t.Errorf("failure recorded for a storage outage: %q", cur.FailureRaw)
	}

	// Storage recovers; the same signal advances the job normally.
	jobs.failWrites = false
	if _, err := exec.Process(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	cur, err = store.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cur.Status != domain.StatusProgramInputsPrepared {
		t.Fatalf("status after recovery = %s, want %s", cur.Status, domain.StatusProgramInputsPrepared)
	}
}
