package service

import (
	"sort"
	"time"

	"github.com/hangawi/ai-schedule-api/internal/models"
)

// Interval is a half-open [Start, End) range in minutes since midnight.
type Interval struct {
	Start int
	End   int
}

// Contains reports whether [start, end) fits entirely inside the interval.
func (iv Interval) Contains(start, end int) bool {
	return start >= iv.Start && end <= iv.End
}

// DurationMinutes returns the interval length.
func (iv Interval) DurationMinutes() int {
	return iv.End - iv.Start
}

// MergePreferredWindows resolves a user's blocks for one calendar date into
// sorted, coalesced intervals. Date-specific exception blocks shadow every
// recurring block for that date; overlapping or adjacent blocks collapse
// into one continuous window. This is the single merge used by the
// assignment algorithm, the relocation validator and the chain search.
func MergePreferredWindows(blocks []models.PreferredBlock, date time.Time) []Interval {
	var exceptions, recurring []Interval
	hasException := false
	for _, block := range blocks {
		start := models.MinuteOfDay(block.StartTime)
		end := models.MinuteOfDay(block.EndTime)
		if start < 0 || end <= start {
			continue
		}
		if block.SpecificDate != nil {
			if !block.AppliesTo(date) {
				continue
			}
			hasException = true
			exceptions = append(exceptions, Interval{Start: start, End: end})
			continue
		}
		if block.AppliesTo(date) {
			recurring = append(recurring, Interval{Start: start, End: end})
		}
	}

	selected := recurring
	if hasException {
		selected = exceptions
	}
	return coalesce(selected)
}

// WindowsContain reports whether any merged window fully contains the range.
func WindowsContain(windows []Interval, start, end int) bool {
	for _, w := range windows {
		if w.Contains(start, end) {
			return true
		}
	}
	return false
}

func coalesce(intervals []Interval) []Interval {
	if len(intervals) == 0 {
		return nil
	}
	sort.Slice(intervals, func(i, j int) bool {
		if intervals[i].Start == intervals[j].Start {
			return intervals[i].End < intervals[j].End
		}
		return intervals[i].Start < intervals[j].Start
	})
	merged := []Interval{intervals[0]}
	for _, iv := range intervals[1:] {
		last := &merged[len(merged)-1]
		if iv.Start <= last.End {
			if iv.End > last.End {
				last.End = iv.End
			}
			continue
		}
		merged = append(merged, iv)
	}
	return merged
}
