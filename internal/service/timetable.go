package service

import (
	"fmt"
	"sort"
	"time"

	"github.com/hangawi/ai-schedule-api/internal/models"
)

// MemberAvail records one member's declared availability for a cell.
type MemberAvail struct {
	UserID   string
	Priority int
}

// CandidateCell is one 30-minute interval of the owner's working day during
// a scheduling run. Ephemeral: rebuilt from durable state on every run.
type CandidateCell struct {
	Date       time.Time
	StartTime  string
	DayOfWeek  int
	AssignedTo string
	Available  []MemberAvail
}

// AvailableFor returns the availability entry for a user, if any.
func (c *CandidateCell) AvailableFor(userID string) (MemberAvail, bool) {
	for _, avail := range c.Available {
		if avail.UserID == userID {
			return avail, true
		}
	}
	return MemberAvail{}, false
}

// TimetableOptions bounds the candidate grid.
type TimetableOptions struct {
	StartHour   int
	EndHour     int
	SlotMinutes int
}

func (o TimetableOptions) normalized() TimetableOptions {
	if o.StartHour <= 0 {
		o.StartHour = 9
	}
	if o.EndHour <= o.StartHour {
		o.EndHour = 18
	}
	if o.SlotMinutes <= 0 {
		o.SlotMinutes = 30
	}
	return o
}

// Timetable is the candidate grid for one scheduling run, keyed by
// "yyyy-mm-dd|HH:MM".
type Timetable struct {
	Options TimetableOptions
	Dates   []time.Time
	Cells   map[string]*CandidateCell
}

// CellKey builds the canonical grid key.
func CellKey(date time.Time, clock string) string {
	return fmt.Sprintf("%s|%s", models.DateKey(date), clock)
}

// BuildTimetable turns a date range, the room's confirmed slots and the
// members' preferred blocks into the candidate grid. Weekends are excluded
// unconditionally. Cells covered by an existing slot are pre-assigned and
// excluded from further assignment; cells nobody declared for stay as inert
// placeholders. The build is pure: identical inputs yield identical grids.
func BuildTimetable(blocksByUser map[string][]models.PreferredBlock, slots []models.AssignedSlot, start, end time.Time, opts TimetableOptions) *Timetable {
	opts = opts.normalized()
	tt := &Timetable{
		Options: opts,
		Cells:   make(map[string]*CandidateCell),
	}

	for date := models.DateOnly(start); !date.After(models.DateOnly(end)); date = date.AddDate(0, 0, 1) {
		if models.IsWeekend(date) {
			continue
		}
		tt.Dates = append(tt.Dates, date)
		for minute := opts.StartHour * 60; minute < opts.EndHour*60; minute += opts.SlotMinutes {
			clock := models.ClockOf(minute)
			tt.Cells[CellKey(date, clock)] = &CandidateCell{
				Date:      date,
				StartTime: clock,
				DayOfWeek: models.ISOWeekday(date),
			}
		}
	}

	for _, slot := range slots {
		startMin := models.MinuteOfDay(slot.StartTime)
		endMin := models.MinuteOfDay(slot.EndTime)
		for minute := startMin; minute < endMin; minute += opts.SlotMinutes {
			if cell, ok := tt.Cells[CellKey(models.DateOnly(slot.Date), models.ClockOf(minute))]; ok {
				cell.AssignedTo = slot.UserID
			}
		}
	}

	userIDs := make([]string, 0, len(blocksByUser))
	for userID := range blocksByUser {
		userIDs = append(userIDs, userID)
	}
	sort.Strings(userIDs)

	for _, userID := range userIDs {
		blocks := blocksByUser[userID]
		for _, date := range tt.Dates {
			applyAvailability(tt, userID, blocks, date)
		}
	}
	return tt
}

// applyAvailability marks every cell a user's blocks cover for one date. The
// entry carries the covering block's priority; when several blocks cover the
// same cell the highest priority wins.
func applyAvailability(tt *Timetable, userID string, blocks []models.PreferredBlock, date time.Time) {
	hasException := false
	for _, block := range blocks {
		if block.SpecificDate != nil && block.AppliesTo(date) {
			hasException = true
			break
		}
	}
	for _, block := range blocks {
		if !block.AppliesTo(date) {
			continue
		}
		if hasException && block.SpecificDate == nil {
			continue
		}
		startMin := models.MinuteOfDay(block.StartTime)
		endMin := models.MinuteOfDay(block.EndTime)
		if startMin < 0 || endMin <= startMin {
			continue
		}
		for minute := startMin; minute < endMin; minute += tt.Options.SlotMinutes {
			cell, ok := tt.Cells[CellKey(date, models.ClockOf(minute))]
			if !ok {
				continue
			}
			if avail, exists := cell.AvailableFor(userID); exists {
				if block.Priority > avail.Priority {
					for i := range cell.Available {
						if cell.Available[i].UserID == userID {
							cell.Available[i].Priority = block.Priority
						}
					}
				}
				continue
			}
			cell.Available = append(cell.Available, MemberAvail{UserID: userID, Priority: block.Priority})
		}
	}
}

// SortedKeys returns grid keys in chronological order.
func (tt *Timetable) SortedKeys() []string {
	keys := make([]string, 0, len(tt.Cells))
	for key := range tt.Cells {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// previousCell returns the cell one slot earlier on the same date, nil at
// the start of the working day.
func (tt *Timetable) previousCell(cell *CandidateCell) *CandidateCell {
	minute := models.MinuteOfDay(cell.StartTime) - tt.Options.SlotMinutes
	if minute < tt.Options.StartHour*60 {
		return nil
	}
	return tt.Cells[CellKey(cell.Date, models.ClockOf(minute))]
}
