package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/hangawi/ai-schedule-api/internal/models"
)

// MemberRepository persists room membership and carry-over debt.
type MemberRepository struct {
	db *sqlx.DB
}

// NewMemberRepository constructs the repository.
func NewMemberRepository(db *sqlx.DB) *MemberRepository {
	return &MemberRepository{db: db}
}

// ListByRoom returns every member of a room, oldest join first.
func (r *MemberRepository) ListByRoom(ctx context.Context, roomID string) ([]models.Member, error) {
	const query = `SELECT id, room_id, user_id, priority, carry_over_hours, joined_at, updated_at
	FROM members WHERE room_id = $1 ORDER BY joined_at`
	var members []models.Member
	if err := r.db.SelectContext(ctx, &members, query, roomID); err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return members, nil
}

// FindByUser resolves a room membership row.
func (r *MemberRepository) FindByUser(ctx context.Context, roomID, userID string) (*models.Member, error) {
	const query = `SELECT id, room_id, user_id, priority, carry_over_hours, joined_at, updated_at
	FROM members WHERE room_id = $1 AND user_id = $2`
	var member models.Member
	if err := r.db.GetContext(ctx, &member, query, roomID, userID); err != nil {
		return nil, err
	}
	return &member, nil
}

// UpdateCarryOverHours mirrors the member's current quota debt.
func (r *MemberRepository) UpdateCarryOverHours(ctx context.Context, roomID, userID string, hours float64) error {
	const query = `UPDATE members SET carry_over_hours = $3, updated_at = $4
	WHERE room_id = $1 AND user_id = $2`
	if _, err := r.db.ExecContext(ctx, query, roomID, userID, hours, time.Now().UTC()); err != nil {
		return fmt.Errorf("update carry-over hours: %w", err)
	}
	return nil
}
