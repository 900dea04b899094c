package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/hangawi/ai-schedule-api/internal/models"
)

// CarryOverRepository persists the ledger of unmet weekly quota.
type CarryOverRepository struct {
	db *sqlx.DB
}

// NewCarryOverRepository constructs the repository.
func NewCarryOverRepository(db *sqlx.DB) *CarryOverRepository {
	return &CarryOverRepository{db: db}
}

const carryOverColumns = `id, room_id, user_id, run_date, needed_hours, resolved, intervention, created_at`

// ListOpenByRoom returns unresolved records for a room.
func (r *CarryOverRepository) ListOpenByRoom(ctx context.Context, roomID string) ([]models.CarryOverRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM carry_over_records
	WHERE room_id = $1 AND resolved = FALSE ORDER BY run_date`, carryOverColumns)
	var records []models.CarryOverRecord
	if err := r.db.SelectContext(ctx, &records, query, roomID); err != nil {
		return nil, fmt.Errorf("list open carry-overs: %w", err)
	}
	return records, nil
}

// ListRecentByUser returns a member's latest records, newest first.
func (r *CarryOverRepository) ListRecentByUser(ctx context.Context, roomID, userID string, limit int) ([]models.CarryOverRecord, error) {
	if limit <= 0 {
		limit = 2
	}
	query := fmt.Sprintf(`SELECT %s FROM carry_over_records
	WHERE room_id = $1 AND user_id = $2 ORDER BY run_date DESC LIMIT %d`, carryOverColumns, limit)
	var records []models.CarryOverRecord
	if err := r.db.SelectContext(ctx, &records, query, roomID, userID); err != nil {
		return nil, fmt.Errorf("list recent carry-overs: %w", err)
	}
	return records, nil
}

// ListByRoom returns the full ledger for a room, newest first.
func (r *CarryOverRepository) ListByRoom(ctx context.Context, roomID string) ([]models.CarryOverRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM carry_over_records
	WHERE room_id = $1 ORDER BY run_date DESC, user_id`, carryOverColumns)
	var records []models.CarryOverRecord
	if err := r.db.SelectContext(ctx, &records, query, roomID); err != nil {
		return nil, fmt.Errorf("list carry-overs: %w", err)
	}
	return records, nil
}

// CreateBatch inserts the records produced by one scheduling run.
func (r *CarryOverRepository) CreateBatch(ctx context.Context, records []models.CarryOverRecord) error {
	const query = `INSERT INTO carry_over_records
	(id, room_id, user_id, run_date, needed_hours, resolved, intervention, created_at)
	VALUES (:id, :room_id, :user_id, :run_date, :needed_hours, :resolved, :intervention, :created_at)`
	now := time.Now().UTC()
	for i := range records {
		record := records[i]
		if record.ID == "" {
			record.ID = uuid.NewString()
		}
		if record.CreatedAt.IsZero() {
			record.CreatedAt = now
		}
		if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
			return fmt.Errorf("insert carry-over record: %w", err)
		}
	}
	return nil
}

// MarkResolved closes satisfied records.
func (r *CarryOverRepository) MarkResolved(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	const query = `UPDATE carry_over_records SET resolved = TRUE WHERE id = ANY($1)`
	if _, err := r.db.ExecContext(ctx, query, pq.Array(ids)); err != nil {
		return fmt.Errorf("mark carry-overs resolved: %w", err)
	}
	return nil
}
