package models

import "time"

// SlotStatus marks the lifecycle of an assigned slot.
type SlotStatus string

const (
	SlotStatusConfirmed SlotStatus = "confirmed"
)

// AssignedSlot is a durable booking of the owner's time by one member. For a
// given room at most one slot may cover any (date, start..end) range.
type AssignedSlot struct {
	ID        string     `db:"id" json:"id"`
	RoomID    string     `db:"room_id" json:"room_id"`
	UserID    string     `db:"user_id" json:"user_id"`
	Date      time.Time  `db:"date" json:"date"`
	Day       string     `db:"day" json:"day"`
	StartTime string     `db:"start_time" json:"start_time"`
	EndTime   string     `db:"end_time" json:"end_time"`
	Subject   string     `db:"subject" json:"subject"`
	Status    SlotStatus `db:"status" json:"status"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// DurationMinutes returns the slot length in minutes.
func (s AssignedSlot) DurationMinutes() int {
	return MinuteOfDay(s.EndTime) - MinuteOfDay(s.StartTime)
}

// OverlapsRange reports whether the slot intersects the half-open
// [startMin, endMin) range on the given date.
func (s AssignedSlot) OverlapsRange(date time.Time, startMin, endMin int) bool {
	if !sameDate(s.Date, date) {
		return false
	}
	return MinuteOfDay(s.StartTime) < endMin && MinuteOfDay(s.EndTime) > startMin
}

// Ref condenses the slot into the wire-level reference embedded in requests.
func (s AssignedSlot) Ref() SlotRef {
	return SlotRef{
		Date:      DateKey(s.Date),
		Day:       s.Day,
		StartTime: s.StartTime,
		EndTime:   s.EndTime,
		Subject:   s.Subject,
	}
}
