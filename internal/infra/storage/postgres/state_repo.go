package postgres

import (
	"context"
	"fmt"
)

// StateRepo implements storage.StateRepository using PostgreSQL.
type StateRepo struct {
	db *DB
}

// NewStateRepo creates a new PostgreSQL daemon-state repository.
func NewStateRepo(db *DB) *StateRepo {
	return &StateRepo{db: db}
}

func (r *StateRepo) UpdateHead(ctx context.Context, slot uint64, blockRoot string) error {
	query := `UPDATE daemon_state SET head_slot = $1, head_block_root = $2, updated_at = NOW() WHERE id = 1`
	if _, err := r.db.ExecContext(ctx, query, slot, blockRoot); err != nil {
		return fmt.Errorf("failed to update daemon head: %w", err)
	}
	return nil
}

func (r *StateRepo) GetHead(ctx context.Context) (uint64, string, error) {
	var row struct {
		Slot uint64 `db:"head_slot"`
		Root string `db:"head_block_root"`
	}
	if err := r.db.GetContext(ctx, &row, `SELECT head_slot, head_block_root FROM daemon_state WHERE id = 1`); err != nil {
		return 0, "", fmt.Errorf("failed to get daemon head: %w", err)
	}
	return row.Slot, row.Root, nil
}
