package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/hangawi/ai-schedule-api/internal/models"
)

// SlotRepository persists a room's assigned slots. All multi-row mutations
// run inside one transaction guarded by the room's version column so
// concurrent coordination operations on the same room never observe a
// half-applied move.
type SlotRepository struct {
	db *sqlx.DB
}

// NewSlotRepository constructs the repository.
func NewSlotRepository(db *sqlx.DB) *SlotRepository {
	return &SlotRepository{db: db}
}

const slotColumns = `id, room_id, user_id, date, day, start_time, end_time, subject, status, created_at, updated_at`

// ListByRoomRange returns slots inside [start, end] ordered chronologically.
func (r *SlotRepository) ListByRoomRange(ctx context.Context, roomID string, start, end time.Time) ([]models.AssignedSlot, error) {
	query := fmt.Sprintf(`SELECT %s FROM assigned_slots
	WHERE room_id = $1 AND date >= $2 AND date <= $3
	ORDER BY date, start_time`, slotColumns)
	var slots []models.AssignedSlot
	if err := r.db.SelectContext(ctx, &slots, query, roomID, start, end); err != nil {
		return nil, fmt.Errorf("list slots by range: %w", err)
	}
	return slots, nil
}

// ListByUser returns one member's slots in a room.
func (r *SlotRepository) ListByUser(ctx context.Context, roomID, userID string) ([]models.AssignedSlot, error) {
	query := fmt.Sprintf(`SELECT %s FROM assigned_slots
	WHERE room_id = $1 AND user_id = $2
	ORDER BY date, start_time`, slotColumns)
	var slots []models.AssignedSlot
	if err := r.db.SelectContext(ctx, &slots, query, roomID, userID); err != nil {
		return nil, fmt.Errorf("list slots by user: %w", err)
	}
	return slots, nil
}

// ListOverlapping returns slots intersecting [startTime, endTime) on a date.
func (r *SlotRepository) ListOverlapping(ctx context.Context, roomID string, date time.Time, startTime, endTime string) ([]models.AssignedSlot, error) {
	query := fmt.Sprintf(`SELECT %s FROM assigned_slots
	WHERE room_id = $1 AND date = $2 AND start_time < $4 AND end_time > $3
	ORDER BY start_time`, slotColumns)
	var slots []models.AssignedSlot
	if err := r.db.SelectContext(ctx, &slots, query, roomID, date, startTime, endTime); err != nil {
		return nil, fmt.Errorf("list overlapping slots: %w", err)
	}
	return slots, nil
}

// ReplaceRange atomically replaces the room's slots inside [start, end].
// The room version must match expectedVersion or ErrVersionConflict is
// returned; a successful replace bumps the version.
func (r *SlotRepository) ReplaceRange(ctx context.Context, roomID string, start, end time.Time, slots []models.AssignedSlot, expectedVersion int) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace range: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := bumpRoomVersion(ctx, tx, roomID, expectedVersion); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM assigned_slots WHERE room_id = $1 AND date >= $2 AND date <= $3`,
		roomID, start, end); err != nil {
		return fmt.Errorf("clear slot range: %w", err)
	}

	if err := insertSlots(ctx, tx, slots); err != nil {
		return err
	}
	return tx.Commit()
}

// ApplyMoves atomically deletes and inserts slot rows for swaps, relocations
// and chain completions. Guarded by the room version like ReplaceRange.
func (r *SlotRepository) ApplyMoves(ctx context.Context, roomID string, expectedVersion int, removeIDs []string, add []models.AssignedSlot) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin apply moves: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := bumpRoomVersion(ctx, tx, roomID, expectedVersion); err != nil {
		return err
	}

	for _, id := range removeIDs {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM assigned_slots WHERE room_id = $1 AND id = $2`, roomID, id); err != nil {
			return fmt.Errorf("delete slot %s: %w", id, err)
		}
	}
	if err := insertSlots(ctx, tx, add); err != nil {
		return err
	}
	return tx.Commit()
}

func bumpRoomVersion(ctx context.Context, tx *sqlx.Tx, roomID string, expectedVersion int) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE rooms SET version = version + 1, updated_at = NOW() WHERE id = $1 AND version = $2`,
		roomID, expectedVersion)
	if err != nil {
		return fmt.Errorf("bump room version: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check room version rows: %w", err)
	}
	if rows == 0 {
		return ErrVersionConflict
	}
	return nil
}

func insertSlots(ctx context.Context, tx *sqlx.Tx, slots []models.AssignedSlot) error {
	const query = `INSERT INTO assigned_slots
	(id, room_id, user_id, date, day, start_time, end_time, subject, status, created_at, updated_at)
	VALUES (:id, :room_id, :user_id, :date, :day, :start_time, :end_time, :subject, :status, :created_at, :updated_at)`
	now := time.Now().UTC()
	for i := range slots {
		slot := slots[i]
		if slot.ID == "" {
			slot.ID = uuid.NewString()
		}
		if slot.Status == "" {
			slot.Status = models.SlotStatusConfirmed
		}
		if slot.CreatedAt.IsZero() {
			slot.CreatedAt = now
		}
		slot.UpdatedAt = now
		if _, err := tx.NamedExecContext(ctx, query, slot); err != nil {
			return fmt.Errorf("insert slot: %w", err)
		}
	}
	return nil
}
