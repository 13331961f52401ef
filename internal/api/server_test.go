package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/petscheit/bankai-sub001/internal/core/domain"
	"github.com/petscheit/bankai-sub001/internal/infra/storage/memory"
)

func testServer(t *testing.T) (*Server, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	return NewServer(Config{Port: 0}, store, store, store), store
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealth(t *testing.T) {
	s, _ := testServer(t)
	rec := get(t, s, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestStatus(t *testing.T) {
	s, store := testServer(t)
	ctx := context.Background()

	if err := store.UpdateHead(ctx, 123456, "0xroot"); err != nil {
		t.Fatal(err)
	}
	job, err := domain.NewEpochBatchJob(0, 31)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Create(ctx, job); err != nil {
		t.Fatal(err)
	}

	rec := get(t, s, "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		HeadSlot uint64         `json:"head_slot"`
		InFlight int            `json:"jobs_in_flight"`
		ByStatus map[string]int `json:"jobs_by_status"`
	}
	decode(t, rec, &resp)
	if resp.HeadSlot != 123456 {
		t.Errorf("head slot = %d", resp.HeadSlot)
	}
	if resp.InFlight != 1 {
		t.Errorf("in flight = %d", resp.InFlight)
	}
	if resp.ByStatus["CREATED"] != 1 {
		t.Errorf("by status = %v", resp.ByStatus)
	}
}

func TestGetJob(t *testing.T) {
	s, store := testServer(t)
	job, err := domain.NewSyncCommitteeJob(8191)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Create(context.Background(), job); err != nil {
		t.Fatal(err)
	}

	rec := get(t, s, "/jobs/"+job.ID.String())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		ID     string `json:"job_uuid"`
		Kind   string `json:"kind"`
		Status string `json:"status"`
	}
	decode(t, rec, &resp)
	if resp.ID != job.ID.String() || resp.Kind != "SYNC_COMMITTEE_UPDATE" || resp.Status != "CREATED" {
		t.Errorf("unexpected job response: %+v", resp)
	}

	if rec := get(t, s, "/jobs/"+uuid.NewString()); rec.Code != http.StatusNotFound {
		t.Errorf("unknown job status = %d", rec.Code)
	}
	if rec := get(t, s, "/jobs/not-a-uuid"); rec.Code != http.StatusBadRequest {
		t.Errorf("malformed id status = %d", rec.Code)
	}
}

func TestErroredJobs(t *testing.T) {
	s, store := testServer(t)
	ctx := context.Background()

	ok, err := domain.NewEpochBatchJob(0, 31)
	if err != nil {
		t.Fatal(err)
	}
	failed, err := domain.NewEpochBatchJob(32, 63)
	if err != nil {
		t.Fatal(err)
	}
	for _, j := range []*domain.Job{ok, failed} {
		if err := store.Create(ctx, j); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.SetFailure(ctx, failed.ID, domain.StatusPieGenerated, "prover rejected batch"); err != nil {
		t.Fatal(err)
	}

	rec := get(t, s, "/jobs/errored")
	var resp []struct {
		ID            string `json:"job_uuid"`
		FailedAtStep  string `json:"failed_at_step"`
		FailureReason string `json:"failure_reason"`
	}
	decode(t, rec, &resp)
	if len(resp) != 1 {
		t.Fatalf("errored jobs = %d, want 1", len(resp))
	}
	if resp[0].ID != failed.ID.String() {
		t.Errorf("wrong job returned: %s", resp[0].ID)
	}
	if resp[0].FailedAtStep != "PIE_GENERATED" || resp[0].FailureReason == "" {
		t.Errorf("failure detail missing: %+v", resp[0])
	}
}

func TestEpochProof(t *testing.T) {
	s, store := testServer(t)
	err := store.InsertVerifiedEpoch(context.Background(), &domain.VerifiedEpoch{
		EpochID:   100,
		Slot:      3200,
		BatchRoot: "0xbatch",
	})
	if err != nil {
		t.Fatal(err)
	}

	rec := get(t, s, "/epoch_proof/100")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec := get(t, s, "/epoch_proof/999"); rec.Code != http.StatusNotFound {
		t.Errorf("missing proof status = %d", rec.Code)
	}
	if rec := get(t, s, "/epoch_proof/abc"); rec.Code != http.StatusBadRequest {
		t.Errorf("malformed epoch status = %d", rec.Code)
	}
}

func TestCommitteeHash(t *testing.T) {
	s, store := testServer(t)
	err := store.InsertVerifiedSyncCommittee(context.Background(), &domain.VerifiedSyncCommittee{
		CommitteeID:   2,
		CommitteeHash: "0xhash",
		Slot:          8191,
	})
	if err != nil {
		t.Fatal(err)
	}

	rec := get(t, s, "/committee_hash/2")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		CommitteeHash string `json:"committee_hash"`
	}
	decode(t, rec, &resp)
	if resp.CommitteeHash != "0xhash" {
		t.Errorf("hash = %q", resp.CommitteeHash)
	}

	if rec := get(t, s, "/committee_hash/9"); rec.Code != http.StatusNotFound {
		t.Errorf("missing hash status = %d", rec.Code)
	}
}
