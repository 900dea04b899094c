package models

import "time"

// Member is a participant competing for slots of the owner's time in a room.
// CarryOverHours is quota debt rolled forward from previous scheduling runs.
type Member struct {
	ID             string    `db:"id" json:"id"`
	RoomID         string    `db:"room_id" json:"room_id"`
	UserID         string    `db:"user_id" json:"user_id"`
	Priority       int       `db:"priority" json:"priority"`
	CarryOverHours float64   `db:"carry_over_hours" json:"carry_over_hours"`
	JoinedAt       time.Time `db:"joined_at" json:"joined_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// CarryOverRecord tracks one run's unmet quota for a member. Intervention is
// set when the member has missed quota in consecutive prior runs and the
// owner should step in.
type CarryOverRecord struct {
	ID           string    `db:"id" json:"id"`
	RoomID       string    `db:"room_id" json:"room_id"`
	UserID       string    `db:"user_id" json:"user_id"`
	RunDate      time.Time `db:"run_date" json:"run_date"`
	NeededHours  float64   `db:"needed_hours" json:"needed_hours"`
	Resolved     bool      `db:"resolved" json:"resolved"`
	Intervention bool      `db:"intervention" json:"intervention"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
