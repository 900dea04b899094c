package dto

import "github.com/hangawi/ai-schedule-api/internal/models"

// CreateRequestRequest files a new negotiation request against a slot.
// chain_request is engine-created and cannot be filed directly.
type CreateRequestRequest struct {
	Kind           string           `json:"kind" validate:"required,oneof=time_request time_change slot_swap slot_release"`
	TargetUserID   string           `json:"targetUserId" validate:"omitempty"`
	TimeSlot       models.SlotRef   `json:"timeSlot" validate:"required"`
	RequesterSlots []models.SlotRef `json:"requesterSlots" validate:"omitempty,max=16,dive"`
	Reason         string           `json:"reason" validate:"omitempty,max=500"`
}

// RespondRequest carries the optional reviewer note for approve/reject.
type RespondRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=500"`
}

// RequestListQuery filters the room's requests.
type RequestListQuery struct {
	Status   string `form:"status" validate:"omitempty,oneof=pending approved rejected waiting_for_chain needs_chain_confirmation cancelled"`
	Page     int    `form:"page" validate:"omitempty,min=1"`
	PageSize int    `form:"pageSize" validate:"omitempty,min=1,max=100"`
}

// RequestResolution describes what an approval actually changed so the
// caller can render the resulting moves.
type RequestResolution struct {
	Request    *models.Request       `json:"request"`
	Moves      []SlotMove            `json:"moves,omitempty"`
	ChainChild *models.Request       `json:"chainChild,omitempty"`
	Slots      []models.AssignedSlot `json:"slots,omitempty"`
}

// SlotMove is one remove-old/add-new pair applied during resolution.
type SlotMove struct {
	UserID string          `json:"userId"`
	From   *models.SlotRef `json:"from,omitempty"`
	To     *models.SlotRef `json:"to,omitempty"`
}
