package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/petscheit/bankai-sub001/internal/core/domain"
	"github.com/petscheit/bankai-sub001/internal/infra/storage"
)

// Store is an in-memory implementation of every storage contract.
// Used for tests and DB-less runs.
type Store struct {
	mu         sync.Mutex
	jobs       map[uuid.UUID]*domain.Job
	order      []uuid.UUID
	epochs     map[uint64]*domain.VerifiedEpoch
	committees map[uint64]*domain.VerifiedSyncCommittee
	headSlot   uint64
	headRoot   string
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		jobs:       make(map[uuid.UUID]*domain.Job),
		epochs:     make(map[uint64]*domain.VerifiedEpoch),
		committees: make(map[uint64]*domain.VerifiedSyncCommittee),
	}
}

func cloneJob(j *domain.Job) *domain.Job {
	c := *j
	if j.Slot != nil {
		v := *j.Slot
		c.Slot = &v
	}
	if j.BatchBeginEpoch != nil {
		v := *j.BatchBeginEpoch
		c.BatchBeginEpoch = &v
	}
	if j.BatchEndEpoch != nil {
		v := *j.BatchEndEpoch
		c.BatchEndEpoch = &v
	}
	return &c
}

// JobRepository

func (s *Store) Create(ctx context.Context, job *domain.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = cloneJob(job)
	s.order = append(s.order, job.ID)
	return nil
}

func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, storage.ErrJobNotFound
	}
	return cloneJob(job), nil
}

func (s *Store) mutate(id uuid.UUID, fn func(*domain.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return storage.ErrJobNotFound
	}
	fn(job)
	return nil
}

func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.JobStatus) error {
	return s.mutate(id, func(j *domain.Job) { j.Status = status })
}

func (s *Store) SetInputsRef(ctx context.Context, id uuid.UUID, ref string, status domain.JobStatus) error {
	return s.mutate(id, func(j *domain.Job) { j.InputsRef = ref; j.Status = status })
}

func (s *Store) SetTraceRef(ctx context.Context, id uuid.UUID, ref string, status domain.JobStatus) error {
	return s.mutate(id, func(j *domain.Job) { j.TraceRef = ref; j.Status = status })
}

func (s *Store) SetProverBatch(ctx context.Context, id uuid.UUID, batchID string, status domain.JobStatus) error {
	return s.mutate(id, func(j *domain.Job) { j.ProverBatchID = batchID; j.Status = status })
}

func (s *Store) SetWrapperBatch(ctx context.Context, id uuid.UUID, batchID string, status domain.JobStatus) error {
	return s.mutate(id, func(j *domain.Job) { j.WrapperBatchID = batchID; j.Status = status })
}

func (s *Store) SetTxHash(ctx context.Context, id uuid.UUID, txHash string, status domain.JobStatus) error {
	return s.mutate(id, func(j *domain.Job) { j.TxHash = txHash; j.Status = status })
}

func (s *Store) SetFailure(ctx context.Context, id uuid.UUID, failedAt domain.JobStatus, reason string) error {
	return s.mutate(id, func(j *domain.Job) {
		j.Status = domain.StatusError
		j.FailedAtStep = string(failedAt)
		j.FailureRaw = reason
	})
}

func (s *Store) ListByStatus(ctx context.Context, statuses ...domain.JobStatus) ([]*domain.Job, error) {
	want := make(map[domain.JobStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []*domain.Job
	for _, id := range s.order {
		if job := s.jobs[id]; want[job.Status] {
			res = append(res, cloneJob(job))
		}
	}
	return res, nil
}

func (s *Store) ListInFlight(ctx context.Context) ([]*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []*domain.Job
	for _, id := range s.order {
		if job := s.jobs[id]; !job.Status.Terminal() {
			res = append(res, cloneJob(job))
		}
	}
	return res, nil
}

func (s *Store) CountInProgress(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, job := range s.jobs {
		if !job.Status.Terminal() {
			count++
		}
	}
	return count, nil
}

func (s *Store) CountByStatus(ctx context.Context) ([]storage.StatusCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byStatus := make(map[domain.JobStatus]int)
	for _, job := range s.jobs {
		byStatus[job.Status]++
	}
	counts := make([]storage.StatusCount, 0, len(byStatus))
	for status, n := range byStatus {
		counts = append(counts, storage.StatusCount{Status: status, Count: n})
	}
	sort.Slice(counts, func(i, j int) bool { return counts[i].Status < counts[j].Status })
	return counts, nil
}

func (s *Store) LatestEpochInProgress(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest uint64
	for _, job := range s.jobs {
		if job.Kind != domain.JobKindEpochBatchUpdate || job.Status.Terminal() {
			continue
		}
		if job.BatchEndEpoch != nil && *job.BatchEndEpoch > latest {
			latest = *job.BatchEndEpoch
		}
	}
	return latest, nil
}

func (s *Store) LatestCommitteeInProgress(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest uint64
	for _, job := range s.jobs {
		if job.Kind != domain.JobKindSyncCommitteeUpdate || job.Status.Terminal() {
			continue
		}
		if job.Slot != nil {
			// A rotation job anchored at slot proves the NEXT committee.
			if id := domain.SlotToCommitteeID(*job.Slot) + 1; id > latest {
				latest = id
			}
		}
	}
	return latest, nil
}

func (s *Store) ExistsForRange(ctx context.Context, begin, end uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.BatchBeginEpoch != nil && job.BatchEndEpoch != nil &&
			*job.BatchBeginEpoch == begin && *job.BatchEndEpoch == end {
			return true, nil
		}
	}
	return false, nil
}

// ProofRepository

func (s *Store) InsertVerifiedEpoch(ctx context.Context, e *domain.VerifiedEpoch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.epochs[e.EpochID]; !ok {
		c := *e
		s.epochs[e.EpochID] = &c
	}
	return nil
}

func (s *Store) InsertVerifiedSyncCommittee(ctx context.Context, c *domain.VerifiedSyncCommittee) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.committees[c.CommitteeID]; !ok {
		cp := *c
		s.committees[c.CommitteeID] = &cp
	}
	return nil
}

func (s *Store) GetEpochProof(ctx context.Context, epochID uint64) (*domain.VerifiedEpoch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.epochs[epochID]
	if !ok {
		return nil, storage.ErrProofNotFound
	}
	c := *e
	return &c, nil
}

func (s *Store) GetCommitteeHash(ctx context.Context, committeeID uint64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.committees[committeeID]
	if !ok {
		return "", storage.ErrProofNotFound
	}
	return c.CommitteeHash, nil
}

// StateRepository

func (s *Store) UpdateHead(ctx context.Context, slot uint64, blockRoot string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.headSlot = slot
	s.headRoot = blockRoot
	return nil
}

func (s *Store) GetHead(ctx context.Context) (uint64, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headSlot, s.headRoot, nil
}
