package daemon

import (
	"context"
	"log/slog"
	"testing"

	"github.com/petscheit/bankai-sub001/internal/core/domain"
	"github.com/petscheit/bankai-sub001/internal/infra/storage/memory"
)

func TestResumeStatusTable(t *testing.T) {
	cases := []struct {
		from domain.JobStatus
		want domain.JobStatus
	}{
		{domain.StatusCreated, domain.StatusCreated},
		{domain.StatusProgramInputsPrepared, domain.StatusCreated},
		{domain.StatusStartedFetchingInputs, domain.StatusCreated},
		{domain.StatusStartedTraceGeneration, domain.StatusCreated},
		{domain.StatusPieGenerated, domain.StatusCreated},
		{domain.StatusProofRequested, domain.StatusProofRequested},
		{domain.StatusProofRetrieved, domain.StatusWrapRequested},
		{domain.StatusWrapRequested, domain.StatusWrapRequested},
		{domain.StatusWrappedProofDone, domain.StatusReadyToBroadcastOnchain},
		{domain.StatusOffchainComputationFinished, domain.StatusReadyToBroadcastOnchain},
		{domain.StatusReadyToBroadcastOnchain, domain.StatusReadyToBroadcastOnchain},
		{domain.StatusProofVerifyCalledOnchain, domain.StatusDone},
		{domain.StatusDone, domain.StatusDone},
		{domain.StatusError, domain.StatusError},
		{domain.StatusCancelled, domain.StatusCancelled},
	}
	for _, tc := range cases {
		got, err := ResumeStatus(tc.from)
		if err != nil {
			t.Errorf("ResumeStatus(%s): %v", tc.from, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ResumeStatus(%s) = %s, want %s", tc.from, got, tc.want)
		}
	}
}

func TestResumeStatusCoversEveryStatus(t *testing.T) {
	for _, s := range domain.AllStatuses() {
		if _, err := ResumeStatus(s); err != nil {
			t.Errorf("ResumeStatus(%s) unexpectedly failed: %v", s, err)
		}
	}
}

func TestResumeStatusUnknownIsFatal(t *testing.T) {
	if _, err := ResumeStatus("SOMETHING_NEW"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestResumeVerifyCalledCollapsesToDone(t *testing.T) {
	// The verify transaction already went out; restarting the wait could
	// only duplicate a paid submission, so the job closes out instead.
	got, err := ResumeStatus(domain.StatusProofVerifyCalledOnchain)
	if err != nil {
		t.Fatal(err)
	}
	if got != domain.StatusDone {
		t.Fatalf("ResumeStatus(%s) = %s, want %s",
			domain.StatusProofVerifyCalledOnchain, got, domain.StatusDone)
	}
}

func TestResumeStatusIdempotent(t *testing.T) {
	// Resuming a resumed status must be a fixed point: a daemon that
	// crashes immediately after rewinding makes no further change.
	for _, s := range domain.AllStatuses() {
		once, err := ResumeStatus(s)
		if err != nil {
			t.Fatal(err)
		}
		twice, err := ResumeStatus(once)
		if err != nil {
			t.Fatal(err)
		}
		if twice != once {
			t.Errorf("ResumeStatus not idempotent at %s: %s -> %s", s, once, twice)
		}
	}
}

func jobAt(t *testing.T, store *memory.Store, status domain.JobStatus) *domain.Job {
	t.Helper()
	job, err := domain.NewEpochBatchJob(0, 31)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Create(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	if status != domain.StatusCreated {
		if err := store.UpdateStatus(context.Background(), job.ID, status); err != nil {
			t.Fatal(err)
		}
		job.Status = status
	}
	return job
}

func TestRequeueSweepCoversAllInFlightStatuses(t *testing.T) {
	store := memory.NewStore()
	// Workers deliberately not started: the queue depth is the assertion.
	d := &Daemon{
		jobs:       store,
		dispatcher: NewDispatcher(testExecutor(store), 1),
		log:        slog.Default(),
	}

	inFlight := []domain.JobStatus{
		domain.StatusProofRequested,
		domain.StatusWrapRequested,
		domain.StatusProofRetrieved,
		domain.StatusOffchainComputationFinished,
		domain.StatusReadyToBroadcastOnchain,
		domain.StatusProofVerifyCalledOnchain,
	}
	for _, s := range inFlight {
		jobAt(t, store, s)
	}
	// Terminal jobs never get a signal.
	for _, s := range []domain.JobStatus{domain.StatusDone, domain.StatusError, domain.StatusCancelled} {
		jobAt(t, store, s)
	}

	if err := d.requeueWaiting(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := len(d.dispatcher.queue); got != len(inFlight) {
		t.Fatalf("sweep enqueued %d jobs, want %d", got, len(inFlight))
	}
}

func TestResumeStartupSkipsUnchangedAndClosesVerified(t *testing.T) {
	store := memory.NewStore()
	d := &Daemon{
		jobs:       store,
		dispatcher: NewDispatcher(testExecutor(store), 1),
		log:        slog.Default(),
	}
	ctx := context.Background()

	rewound := jobAt(t, store, domain.StatusPieGenerated)
	polling := jobAt(t, store, domain.StatusProofRequested)
	verified := jobAt(t, store, domain.StatusProofVerifyCalledOnchain)

	if err := d.resumeJobs(ctx); err != nil {
		t.Fatal(err)
	}

	// Only the rewound job gets a startup signal; jobs parked on an
	// external service are left to the requeue sweep.
	if got := len(d.dispatcher.queue); got != 1 {
		t.Fatalf("startup enqueued %d jobs, want 1", got)
	}

	cur, err := store.GetByID(ctx, rewound.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cur.Status != domain.StatusCreated {
		t.Errorf("rewound job status = %s, want %s", cur.Status, domain.StatusCreated)
	}
	cur, err = store.GetByID(ctx, polling.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cur.Status != domain.StatusProofRequested {
		t.Errorf("polling job status = %s, want untouched %s", cur.Status, domain.StatusProofRequested)
	}
	cur, err = store.GetByID(ctx, verified.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cur.Status != domain.StatusDone {
		t.Errorf("verified job status = %s, want %s", cur.Status, domain.StatusDone)
	}
}
