package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/hangawi/ai-schedule-api/internal/models"
)

// PreferenceRepository reads and writes users' preferred blocks. The
// coordination engine consumes blocks already resolved for a date range and
// appends date-specific exceptions after negotiated moves so preferences
// stay consistent with the calendar.
type PreferenceRepository struct {
	db *sqlx.DB
}

// NewPreferenceRepository constructs the repository.
func NewPreferenceRepository(db *sqlx.DB) *PreferenceRepository {
	return &PreferenceRepository{db: db}
}

// GetPreferredBlocks returns a user's recurring blocks and exceptions.
func (r *PreferenceRepository) GetPreferredBlocks(ctx context.Context, userID string) ([]models.PreferredBlock, error) {
	const query = `SELECT id, user_id, day_of_week, specific_date, start_time, end_time, priority, created_at, updated_at
	FROM preferred_blocks WHERE user_id = $1 ORDER BY day_of_week, start_time`
	var blocks []models.PreferredBlock
	if err := r.db.SelectContext(ctx, &blocks, query, userID); err != nil {
		return nil, fmt.Errorf("get preferred blocks: %w", err)
	}
	return blocks, nil
}

// AddBlock appends one block, typically a date-specific exception created
// when a negotiated move lands outside the user's declared windows.
func (r *PreferenceRepository) AddBlock(ctx context.Context, block *models.PreferredBlock) error {
	if block.ID == "" {
		block.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if block.CreatedAt.IsZero() {
		block.CreatedAt = now
	}
	block.UpdatedAt = now
	const query = `INSERT INTO preferred_blocks
	(id, user_id, day_of_week, specific_date, start_time, end_time, priority, created_at, updated_at)
	VALUES (:id, :user_id, :day_of_week, :specific_date, :start_time, :end_time, :priority, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, block); err != nil {
		return fmt.Errorf("add preferred block: %w", err)
	}
	return nil
}
