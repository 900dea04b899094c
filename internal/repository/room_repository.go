package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/hangawi/ai-schedule-api/internal/models"
)

// RoomRepository reads room aggregates.
type RoomRepository struct {
	db *sqlx.DB
}

// NewRoomRepository constructs the repository.
func NewRoomRepository(db *sqlx.DB) *RoomRepository {
	return &RoomRepository{db: db}
}

// FindByID fetches one room.
func (r *RoomRepository) FindByID(ctx context.Context, id string) (*models.Room, error) {
	const query = `SELECT id, owner_id, name, min_slots_per_week, owner_time_preference,
       require_chain_consent, version, created_at, updated_at
	FROM rooms WHERE id = $1`
	var room models.Room
	if err := r.db.GetContext(ctx, &room, query, id); err != nil {
		return nil, err
	}
	return &room, nil
}
