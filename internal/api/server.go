// Package api exposes the daemon's read-only reporting surface: job
// status counts, errored jobs, per-job detail and verified proof data.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/petscheit/bankai-sub001/internal/core/domain"
	"github.com/petscheit/bankai-sub001/internal/infra/storage"
)

// Config holds API server settings.
type Config struct {
	Port int `yaml:"port"`
}

// Server is the reporting HTTP server.
type Server struct {
	jobs   storage.JobRepository
	proofs storage.ProofRepository
	state  storage.StateRepository
	server *http.Server
	log    *slog.Logger
}

// NewServer creates the reporting server.
func NewServer(cfg Config, jobs storage.JobRepository, proofs storage.ProofRepository, state storage.StateRepository) *Server {
	s := &Server{
		jobs:   jobs,
		proofs: proofs,
		state:  state,
		log:    slog.Default(),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/status", s.handleStatus)
	r.Get("/jobs/errored", s.handleErroredJobs)
	r.Get("/jobs/{job_id}", s.handleJob)
	r.Get("/epoch_proof/{epoch_id}", s.handleEpochProof)
	r.Get("/committee_hash/{committee_id}", s.handleCommitteeHash)

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}
	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info("API server listening", "addr", s.server.Addr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

type statusResponse struct {
	HeadSlot  uint64         `json:"head_slot"`
	BlockRoot string         `json:"head_block_root"`
	InFlight  int            `json:"jobs_in_flight"`
	ByStatus  map[string]int `json:"jobs_by_status"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	slot, root, err := s.state.GetHead(r.Context())
	if err != nil {
		s.serverError(w, err)
		return
	}
	counts, err := s.jobs.CountByStatus(r.Context())
	if err != nil {
		s.serverError(w, err)
		return
	}
	inFlight, err := s.jobs.CountInProgress(r.Context())
	if err != nil {
		s.serverError(w, err)
		return
	}

	resp := statusResponse{
		HeadSlot:  slot,
		BlockRoot: root,
		InFlight:  inFlight,
		ByStatus:  make(map[string]int, len(counts)),
	}
	for _, c := range counts {
		resp.ByStatus[string(c.Status)] = c.Count
	}
	writeJSON(w, http.StatusOK, resp)
}

type jobResponse struct {
	ID             string  `json:"job_uuid"`
	Kind           string  `json:"kind"`
	Status         string  `json:"status"`
	Slot           *uint64 `json:"slot,omitempty"`
	BatchBegin     *uint64 `json:"batch_range_begin_epoch,omitempty"`
	BatchEnd       *uint64 `json:"batch_range_end_epoch,omitempty"`
	ProverBatchID  string  `json:"prover_batch_id,omitempty"`
	WrapperBatchID string  `json:"wrapper_batch_id,omitempty"`
	TxHash         string  `json:"tx_hash,omitempty"`
	FailedAtStep   string  `json:"failed_at_step,omitempty"`
	FailureReason  string  `json:"failure_reason,omitempty"`
}

func toJobResponse(job *domain.Job) jobResponse {
	return jobResponse{
		ID:             job.ID.String(),
		Kind:           string(job.Kind),
		Status:         string(job.Status),
		Slot:           job.Slot,
		BatchBegin:     job.BatchBeginEpoch,
		BatchEnd:       job.BatchEndEpoch,
		ProverBatchID:  job.ProverBatchID,
		WrapperBatchID: job.WrapperBatchID,
		TxHash:         job.TxHash,
		FailedAtStep:   job.FailedAtStep,
		FailureReason:  job.FailureRaw,
	}
}

func (s *Server) handleErroredJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.jobs.ListByStatus(r.Context(), domain.StatusError)
	if err != nil {
		s.serverError(w, err)
		return
	}
	resp := make([]jobResponse, 0, len(jobs))
	for _, job := range jobs {
		resp = append(resp, toJobResponse(job))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "job_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	job, err := s.jobs.GetByID(r.Context(), id)
	if errors.Is(err, storage.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

func (s *Server) handleEpochProof(w http.ResponseWriter, r *http.Request) {
	epochID, err := strconv.ParseUint(chi.URLParam(r, "epoch_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid epoch id")
		return
	}
	proof, err := s.proofs.GetEpochProof(r.Context(), epochID)
	if errors.Is(err, storage.ErrProofNotFound) {
		writeError(w, http.StatusNotFound, "no verified proof for epoch")
		return
	}
	if err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proof)
}

func (s *Server) handleCommitteeHash(w http.ResponseWriter, r *http.Request) {
	committeeID, err := strconv.ParseUint(chi.URLParam(r, "committee_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid committee id")
		return
	}
	hash, err := s.proofs.GetCommitteeHash(r.Context(), committeeID)
	if errors.Is(err, storage.ErrProofNotFound) {
		writeError(w, http.StatusNotFound, "no verified hash for committee")
		return
	}
	if err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"committee_id":   committeeID,
		"committee_hash": hash,
	})
}

func (s *Server) serverError(w http.ResponseWriter, err error) {
	s.log.Error("API request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
