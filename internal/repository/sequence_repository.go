package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/uninorte/portal-api/internal/models"
)

// SequenceRepository reserves sequential identifier numbers per
// (role, year) shard. Student sequences reset each calendar year
// because the year is part of the key; the professor sequence is
// global and stored under year 0.
type SequenceRepository struct {
	db *sqlx.DB
}

// NewSequenceRepository constructs the repository.
func NewSequenceRepository(db *sqlx.DB) *SequenceRepository {
	return &SequenceRepository{db: db}
}

// GlobalYear is the year key used for sequences that never reset.
const GlobalYear = 0

// NextWithTx atomically reserves and returns the next value for the
// shard. The single upsert statement both initialises the row and
// increments it while holding the row lock, so two concurrent
// approvals in the same shard can never observe the same value.
func (r *SequenceRepository) NextWithTx(ctx context.Context, tx *sqlx.Tx, role models.UserRole, year int) (int, error) {
	const query = `INSERT INTO identifier_sequences (role, year, last_value) VALUES ($1, $2, 1)
        ON CONFLICT (role, year) DO UPDATE SET last_value = identifier_sequences.last_value + 1
        RETURNING last_value`
	var next int
	if err := tx.GetContext(ctx, &next, query, role, year); err != nil {
		return 0, fmt.Errorf("next sequence value for %s/%d: %w", role, year, err)
	}
	return next, nil
}

// Current returns the last issued value for a shard, zero when the
// shard has never issued.
func (r *SequenceRepository) Current(ctx context.Context, role models.UserRole, year int) (int, error) {
	const query = `SELECT COALESCE(MAX(last_value), 0) FROM identifier_sequences WHERE role = $1 AND year = $2`
	var current int
	if err := r.db.GetContext(ctx, &current, query, role, year); err != nil {
		return 0, fmt.Errorf("current sequence value for %s/%d: %w", role, year, err)
	}
	return current, nil
}
