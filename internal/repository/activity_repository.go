package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/hangawi/ai-schedule-api/internal/models"
)

// ActivityRepository appends coordination audit entries.
type ActivityRepository struct {
	db *sqlx.DB
}

// NewActivityRepository constructs the repository.
func NewActivityRepository(db *sqlx.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// Insert appends one activity row.
func (r *ActivityRepository) Insert(ctx context.Context, activity *models.Activity) error {
	if activity.ID == "" {
		activity.ID = uuid.NewString()
	}
	if activity.CreatedAt.IsZero() {
		activity.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO activities (id, room_id, actor_id, action, details, created_at)
	VALUES (:id, :room_id, :actor_id, :action, :details, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, activity); err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

// ListByRoom returns recent activity, newest first.
func (r *ActivityRepository) ListByRoom(ctx context.Context, roomID string, limit int) ([]models.Activity, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT id, room_id, actor_id, action, details, created_at
	FROM activities WHERE room_id = $1 ORDER BY created_at DESC LIMIT %d`, limit)
	var activities []models.Activity
	if err := r.db.SelectContext(ctx, &activities, query, roomID); err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	return activities, nil
}
