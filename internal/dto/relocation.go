package dto

import "github.com/hangawi/ai-schedule-api/internal/models"

// RelocateSlotRequest moves one of the caller's assigned slots to a new
// date and, optionally, a pinned start time. When TargetStartTime is empty
// the validator places the slot at the nearest acceptable interval on the
// target date.
type RelocateSlotRequest struct {
	SourceDate      string `json:"sourceDate" validate:"required,datetime=2006-01-02"`
	SourceStartTime string `json:"sourceStartTime" validate:"required"`
	TargetDate      string `json:"targetDate" validate:"required,datetime=2006-01-02"`
	TargetStartTime string `json:"targetStartTime" validate:"omitempty"`
	TravelMode      string `json:"travelMode" validate:"omitempty,oneof=walk transit drive"`
	FromLocation    string `json:"fromLocation" validate:"omitempty,max=200"`
	ToLocation      string `json:"toLocation" validate:"omitempty,max=200"`
}

const (
	RelocationOutcomeMoved     = "moved"
	RelocationOutcomeEscalated = "escalated"
)

// RelocateSlotResponse reports either the executed move or the escalation
// request awaiting the conflicting member's approval.
type RelocateSlotResponse struct {
	Outcome string               `json:"outcome"`
	Slot    *models.AssignedSlot `json:"slot,omitempty"`
	Request *models.Request      `json:"request,omitempty"`
	Reason  string               `json:"reason,omitempty"`
}
