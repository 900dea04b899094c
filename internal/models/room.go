package models

import "time"

// OwnerTimePreference orders which part of the day the owner claims first
// during arbitration.
type OwnerTimePreference string

const (
	OwnerPrefersMorning   OwnerTimePreference = "morning"
	OwnerPrefersLunch     OwnerTimePreference = "lunch"
	OwnerPrefersAfternoon OwnerTimePreference = "afternoon"
	OwnerPrefersEvening   OwnerTimePreference = "evening"
)

// Room is the shared calendar a single owner partitions among members.
// Version guards optimistic read-modify-write cycles on the room's slots.
type Room struct {
	ID                  string              `db:"id" json:"id"`
	OwnerID             string              `db:"owner_id" json:"owner_id"`
	Name                string              `db:"name" json:"name"`
	MinSlotsPerWeek     int                 `db:"min_slots_per_week" json:"min_slots_per_week"`
	OwnerTimePreference OwnerTimePreference `db:"owner_time_preference" json:"owner_time_preference"`
	RequireChainConsent bool                `db:"require_chain_consent" json:"require_chain_consent"`
	Version             int                 `db:"version" json:"version"`
	CreatedAt           time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time           `db:"updated_at" json:"updated_at"`
}
