package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// Activity is an append-only audit entry for coordination actions. Writes are
// fire-and-forget; a failed insert never rolls back the operation it logs.
type Activity struct {
	ID        string         `db:"id" json:"id"`
	RoomID    string         `db:"room_id" json:"room_id"`
	ActorID   string         `db:"actor_id" json:"actor_id"`
	Action    string         `db:"action" json:"action"`
	Details   types.JSONText `db:"details" json:"details,omitempty"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
