package models

import "time"

// PreferredBlock is a declared window of availability. A recurring block sets
// DayOfWeek (1=Monday .. 7=Sunday); a date-specific exception sets
// SpecificDate and overrides recurring blocks for that date.
type PreferredBlock struct {
	ID           string     `db:"id" json:"id"`
	UserID       string     `db:"user_id" json:"user_id"`
	DayOfWeek    int        `db:"day_of_week" json:"day_of_week"`
	SpecificDate *time.Time `db:"specific_date" json:"specific_date,omitempty"`
	StartTime    string     `db:"start_time" json:"start_time"`
	EndTime      string     `db:"end_time" json:"end_time"`
	Priority     int        `db:"priority" json:"priority"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// AppliesTo reports whether the block covers the given calendar date.
// Specific-date exceptions for a date shadow every recurring block on it;
// the caller (MergePreferredWindows) handles that precedence.
func (b PreferredBlock) AppliesTo(date time.Time) bool {
	if b.SpecificDate != nil {
		return sameDate(*b.SpecificDate, date)
	}
	return b.DayOfWeek == ISOWeekday(date)
}

// ISOWeekday maps time.Weekday onto the 1=Monday .. 7=Sunday convention used
// across preferred blocks.
func ISOWeekday(date time.Time) int {
	wd := int(date.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
