package dto

import "github.com/hangawi/ai-schedule-api/internal/models"

// AutoAssignRequest triggers a scheduling run for a room.
type AutoAssignRequest struct {
	StartDate       string `json:"startDate" validate:"required,datetime=2006-01-02"`
	Weeks           int    `json:"weeks" validate:"omitempty,min=1,max=8"`
	MinSlotsPerWeek int    `json:"minSlotsPerWeek" validate:"omitempty,min=1"`
}

// UnresolvedCell surfaces a contested cell the algorithm could not award:
// multiple members wanted it and the owner declared no availability.
type UnresolvedCell struct {
	Date       string   `json:"date"`
	StartTime  string   `json:"startTime"`
	Contenders []string `json:"contenders"`
}

// MemberAssignmentSummary aggregates one member's outcome for a run.
type MemberAssignmentSummary struct {
	UserID        string  `json:"userId"`
	SlotCount     int     `json:"slotCount"`
	AssignedHours float64 `json:"assignedHours"`
	QuotaMet      bool    `json:"quotaMet"`
}

// AutoAssignResponse reports the outcome of a scheduling run.
type AutoAssignResponse struct {
	RoomID        string                           `json:"roomId"`
	StartDate     string                           `json:"startDate"`
	EndDate       string                           `json:"endDate"`
	SlotsByMember map[string][]models.AssignedSlot `json:"slotsByMember"`
	CarryOvers    []models.CarryOverRecord         `json:"carryOvers,omitempty"`
	Unresolved    []UnresolvedCell                 `json:"unresolved,omitempty"`
	Summaries     []MemberAssignmentSummary        `json:"summaries"`
}

// TimetableQuery bounds a candidate grid preview.
type TimetableQuery struct {
	StartDate string `form:"start" validate:"required,datetime=2006-01-02"`
	EndDate   string `form:"end" validate:"required,datetime=2006-01-02"`
}

// TimetableCell is the wire shape of one candidate cell.
type TimetableCell struct {
	Date       string   `json:"date"`
	StartTime  string   `json:"startTime"`
	DayOfWeek  int      `json:"dayOfWeek"`
	AssignedTo string   `json:"assignedTo,omitempty"`
	Available  []string `json:"available,omitempty"`
}
