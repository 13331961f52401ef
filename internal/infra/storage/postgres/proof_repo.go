package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/petscheit/bankai-sub001/internal/core/domain"
	"github.com/petscheit/bankai-sub001/internal/infra/storage"
)

// ProofRepo implements storage.ProofRepository using PostgreSQL.
type ProofRepo struct {
	db *DB
}

// NewProofRepo creates a new PostgreSQL proof repository.
func NewProofRepo(db *DB) *ProofRepo {
	return &ProofRepo{db: db}
}

func (r *ProofRepo) InsertVerifiedEpoch(ctx context.Context, e *domain.VerifiedEpoch) error {
	query := `
		INSERT INTO verified_epochs (epoch_id, beacon_header_root, beacon_state_root, slot,
			committee_hash, n_signers, execution_header_hash, execution_header_height, batch_index, batch_root)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (epoch_id) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query,
		e.EpochID, e.BeaconHeaderRoot, e.BeaconStateRoot, e.Slot,
		e.CommitteeHash, e.NSigners, e.ExecutionHeaderHash, e.ExecutionHeight,
		e.BatchIndex, e.BatchRoot)
	if err != nil {
		return fmt.Errorf("failed to insert verified epoch %d: %w", e.EpochID, err)
	}
	return nil
}

func (r *ProofRepo) InsertVerifiedSyncCommittee(ctx context.Context, c *domain.VerifiedSyncCommittee) error {
	query := `
		INSERT INTO verified_sync_committees (committee_id, committee_hash, slot)
		VALUES ($1, $2, $3)
		ON CONFLICT (committee_id) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query, c.CommitteeID, c.CommitteeHash, c.Slot)
	if err != nil {
		return fmt.Errorf("failed to insert verified sync committee %d: %w", c.CommitteeID, err)
	}
	return nil
}

func (r *ProofRepo) GetEpochProof(ctx context.Context, epochID uint64) (*domain.VerifiedEpoch, error) {
	var e domain.VerifiedEpoch
	query := `
		SELECT epoch_id, beacon_header_root, beacon_state_root, slot, committee_hash,
			n_signers, execution_header_hash, execution_header_height, batch_index, batch_root
		FROM verified_epochs WHERE epoch_id = $1
	`
	err := r.db.GetContext(ctx, &e, query, epochID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrProofNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get epoch proof: %w", err)
	}
	return &e, nil
}

func (r *ProofRepo) GetCommitteeHash(ctx context.Context, committeeID uint64) (string, error) {
	var hash string
	query := `SELECT committee_hash FROM verified_sync_committees WHERE committee_id = $1`
	err := r.db.GetContext(ctx, &hash, query, committeeID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", storage.ErrProofNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get committee hash: %w", err)
	}
	return hash, nil
}
