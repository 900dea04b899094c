package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hangawi/ai-schedule-api/internal/models"
)

func TestBuildTimetableSkipsWeekends(t *testing.T) {
	start := mustDate(testMonday)
	end := start.AddDate(0, 0, 6)

	tt := BuildTimetable(nil, nil, start, end, TimetableOptions{})

	require.Len(t, tt.Dates, 5)
	for _, date := range tt.Dates {
		assert.False(t, models.IsWeekend(date))
	}
	// 5 weekdays x 18 half-hour cells between 09:00 and 18:00.
	assert.Len(t, tt.Cells, 5*18)
}

func TestBuildTimetablePreAssignsExistingSlots(t *testing.T) {
	start := mustDate(testMonday)
	slots := []models.AssignedSlot{{
		UserID:    "alice",
		Date:      start,
		StartTime: "10:00",
		EndTime:   "11:00",
	}}

	tt := BuildTimetable(nil, slots, start, start, TimetableOptions{})

	assert.Equal(t, "alice", tt.Cells[CellKey(start, "10:00")].AssignedTo)
	assert.Equal(t, "alice", tt.Cells[CellKey(start, "10:30")].AssignedTo)
	assert.Empty(t, tt.Cells[CellKey(start, "11:00")].AssignedTo)
}

func TestBuildTimetableMarksAvailability(t *testing.T) {
	start := mustDate(testMonday)
	blocks := map[string][]models.PreferredBlock{
		"alice": {recurringBlock(1, "09:00", "10:00", 3)},
		"bob":   {recurringBlock(1, "09:30", "10:30", 2)},
	}

	tt := BuildTimetable(blocks, nil, start, start, TimetableOptions{})

	first := tt.Cells[CellKey(start, "09:00")]
	require.Len(t, first.Available, 1)
	assert.Equal(t, "alice", first.Available[0].UserID)

	shared := tt.Cells[CellKey(start, "09:30")]
	assert.Len(t, shared.Available, 2)

	_, aliceLater := tt.Cells[CellKey(start, "10:00")].AvailableFor("alice")
	assert.False(t, aliceLater)
}

func TestBuildTimetableKeepsHighestPriorityPerCell(t *testing.T) {
	start := mustDate(testMonday)
	blocks := map[string][]models.PreferredBlock{
		"alice": {
			recurringBlock(1, "09:00", "11:00", 2),
			recurringBlock(1, "10:00", "10:30", 5),
		},
	}

	tt := BuildTimetable(blocks, nil, start, start, TimetableOptions{})

	avail, ok := tt.Cells[CellKey(start, "10:00")].AvailableFor("alice")
	require.True(t, ok)
	assert.Equal(t, 5, avail.Priority)

	avail, ok = tt.Cells[CellKey(start, "09:00")].AvailableFor("alice")
	require.True(t, ok)
	assert.Equal(t, 2, avail.Priority)
}

func TestBuildTimetableExceptionReplacesRecurringDay(t *testing.T) {
	start := mustDate(testMonday)
	blocks := map[string][]models.PreferredBlock{
		"alice": {
			recurringBlock(1, "09:00", "10:00", 3),
			exceptionBlock(start, "14:00", "15:00"),
		},
	}

	tt := BuildTimetable(blocks, nil, start, start, TimetableOptions{})

	_, morning := tt.Cells[CellKey(start, "09:00")].AvailableFor("alice")
	assert.False(t, morning)
	_, afternoon := tt.Cells[CellKey(start, "14:00")].AvailableFor("alice")
	assert.True(t, afternoon)
}

func TestSortedKeysChronological(t *testing.T) {
	start := mustDate(testMonday)
	tt := BuildTimetable(nil, nil, start, start.AddDate(0, 0, 1), TimetableOptions{})

	keys := tt.SortedKeys()
	require.NotEmpty(t, keys)
	assert.Equal(t, CellKey(start, "09:00"), keys[0])
	assert.Equal(t, CellKey(start.AddDate(0, 0, 1), "17:30"), keys[len(keys)-1])
}

func TestPreviousCell(t *testing.T) {
	start := mustDate(testMonday)
	tt := BuildTimetable(nil, nil, start, start, TimetableOptions{})

	cell := tt.Cells[CellKey(start, "09:30")]
	prev := tt.previousCell(cell)
	require.NotNil(t, prev)
	assert.Equal(t, "09:00", prev.StartTime)

	assert.Nil(t, tt.previousCell(tt.Cells[CellKey(start, "09:00")]))
}
