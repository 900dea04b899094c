package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	"github.com/hangawi/ai-schedule-api/internal/models"
)

// RequestRepository persists negotiation requests.
type RequestRepository struct {
	db *sqlx.DB
}

// NewRequestRepository constructs the repository.
func NewRequestRepository(db *sqlx.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

const requestColumns = `id, room_id, requester_id, target_user_id, kind, status, time_slot,
       requester_slots, reason, chain_data, created_at, responded_at`

// Create inserts a new request row.
func (r *RequestRepository) Create(ctx context.Context, request *models.Request) error {
	if request.ID == "" {
		request.ID = uuid.NewString()
	}
	if request.Status == "" {
		request.Status = models.RequestStatusPending
	}
	if request.CreatedAt.IsZero() {
		request.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO requests
	(id, room_id, requester_id, target_user_id, kind, status, time_slot, requester_slots, reason, chain_data, created_at, responded_at)
	VALUES (:id, :room_id, :requester_id, :target_user_id, :kind, :status, :time_slot, :requester_slots, :reason, :chain_data, :created_at, :responded_at)`
	if _, err := r.db.NamedExecContext(ctx, query, request); err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return nil
}

// FindByID fetches a request.
func (r *RequestRepository) FindByID(ctx context.Context, id string) (*models.Request, error) {
	query := fmt.Sprintf(`SELECT %s FROM requests WHERE id = $1`, requestColumns)
	var request models.Request
	if err := r.db.GetContext(ctx, &request, query, id); err != nil {
		return nil, err
	}
	return &request, nil
}

// ListByRoom returns the room's requests, newest first.
func (r *RequestRepository) ListByRoom(ctx context.Context, roomID string, status models.RequestStatus, limit, offset int) ([]models.Request, error) {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf(`SELECT %s FROM requests WHERE room_id = $1`, requestColumns))
	args := []interface{}{roomID}
	if status != "" {
		args = append(args, status)
		builder.WriteString(fmt.Sprintf(" AND status = $%d", len(args)))
	}
	builder.WriteString(" ORDER BY created_at DESC")
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var requests []models.Request
	if err := r.db.SelectContext(ctx, &requests, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	return requests, nil
}

// HasDuplicate reports whether the requester already has a live request of
// the same kind against the same slot and target.
func (r *RequestRepository) HasDuplicate(ctx context.Context, roomID, requesterID string, kind models.RequestKind, targetUserID *string, timeSlot types.JSONText) (bool, error) {
	const query = `SELECT COUNT(1) FROM requests
	WHERE room_id = $1 AND requester_id = $2 AND kind = $3
	  AND time_slot = $4
	  AND (target_user_id = $5 OR ($5 IS NULL AND target_user_id IS NULL))
	  AND status IN ('pending', 'waiting_for_chain', 'needs_chain_confirmation')`
	var count int
	if err := r.db.GetContext(ctx, &count, query, roomID, requesterID, kind, timeSlot, targetUserID); err != nil {
		return false, fmt.Errorf("check duplicate request: %w", err)
	}
	return count > 0, nil
}

// UpdateStatusParams groups the mutable columns touched by a transition.
type UpdateStatusParams struct {
	ID          string
	Status      models.RequestStatus
	Reason      string
	ChainData   types.JSONText
	RespondedAt *time.Time
}

// UpdateStatus applies a state transition. Requests already in a terminal
// state never match the guard; callers translate sql.ErrNoRows accordingly.
func (r *RequestRepository) UpdateStatus(ctx context.Context, params UpdateStatusParams) error {
	setParts := []string{"status = :status"}
	if params.Reason != "" {
		setParts = append(setParts, "reason = :reason")
	}
	if params.ChainData != nil {
		setParts = append(setParts, "chain_data = :chain_data")
	}
	if params.RespondedAt != nil {
		setParts = append(setParts, "responded_at = :responded_at")
	}
	query := fmt.Sprintf(`UPDATE requests SET %s
	WHERE id = :id AND status IN ('pending', 'waiting_for_chain', 'needs_chain_confirmation')`,
		strings.Join(setParts, ", "))
	result, err := r.db.NamedExecContext(ctx, query, map[string]interface{}{
		"id":           params.ID,
		"status":       params.Status,
		"reason":       params.Reason,
		"chain_data":   params.ChainData,
		"responded_at": params.RespondedAt,
	})
	if err != nil {
		return fmt.Errorf("update request status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check request update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListChainChildren returns live chain sub-requests spawned by a request.
func (r *RequestRepository) ListChainChildren(ctx context.Context, originalRequestID string) ([]models.Request, error) {
	query := fmt.Sprintf(`SELECT %s FROM requests
	WHERE kind = 'chain_request'
	  AND chain_data->>'original_request_id' = $1
	  AND status IN ('pending', 'waiting_for_chain', 'needs_chain_confirmation')`, requestColumns)
	var requests []models.Request
	if err := r.db.SelectContext(ctx, &requests, query, originalRequestID); err != nil {
		return nil, fmt.Errorf("list chain children: %w", err)
	}
	return requests, nil
}
