package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx/types"
)

// RequestKind enumerates the negotiation request types.
type RequestKind string

const (
	RequestKindTimeRequest  RequestKind = "time_request"
	RequestKindTimeChange   RequestKind = "time_change"
	RequestKindSlotSwap     RequestKind = "slot_swap"
	RequestKindSlotRelease  RequestKind = "slot_release"
	RequestKindChainRequest RequestKind = "chain_request"
)

// RequestStatus captures the negotiation state machine. Terminal states are
// approved, rejected and cancelled; a request never leaves a terminal state.
type RequestStatus string

const (
	RequestStatusPending           RequestStatus = "pending"
	RequestStatusApproved          RequestStatus = "approved"
	RequestStatusRejected          RequestStatus = "rejected"
	RequestStatusWaitingForChain   RequestStatus = "waiting_for_chain"
	RequestStatusNeedsChainConsent RequestStatus = "needs_chain_confirmation"
	RequestStatusCancelled         RequestStatus = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s RequestStatus) Terminal() bool {
	switch s {
	case RequestStatusApproved, RequestStatusRejected, RequestStatusCancelled:
		return true
	}
	return false
}

// SlotRef points at a slot boundary without owning the durable record.
type SlotRef struct {
	Date      string `json:"date"`
	Day       string `json:"day,omitempty"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Subject   string `json:"subject,omitempty"`
}

// DurationMinutes returns the referenced interval length.
func (r SlotRef) DurationMinutes() int {
	return MinuteOfDay(r.EndTime) - MinuteOfDay(r.StartTime)
}

// ParsedDate resolves the yyyy-mm-dd date field.
func (r SlotRef) ParsedDate() (time.Time, error) {
	t, err := time.Parse("2006-01-02", r.Date)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse slot date %q: %w", r.Date, err)
	}
	return t, nil
}

// ChainLink records the provenance of a multi-hop negotiation so a late
// approval or rejection can complete or unwind the whole chain.
type ChainLink struct {
	OriginalRequesterID string   `json:"original_requester_id"`
	OriginalRequestID   string   `json:"original_request_id"`
	IntermediateUserID  string   `json:"intermediate_user_id"`
	IntermediateSlot    SlotRef  `json:"intermediate_slot"`
	CandidateUserIDs    []string `json:"candidate_user_ids,omitempty"`
	RejectedUserIDs     []string `json:"rejected_user_ids,omitempty"`
	Depth               int      `json:"depth"`
}

// Request is one negotiation action over already-assigned slots.
type Request struct {
	ID             string         `db:"id" json:"id"`
	RoomID         string         `db:"room_id" json:"room_id"`
	RequesterID    string         `db:"requester_id" json:"requester_id"`
	TargetUserID   *string        `db:"target_user_id" json:"target_user_id,omitempty"`
	Kind           RequestKind    `db:"kind" json:"kind"`
	Status         RequestStatus  `db:"status" json:"status"`
	TimeSlot       types.JSONText `db:"time_slot" json:"time_slot"`
	RequesterSlots types.JSONText `db:"requester_slots" json:"requester_slots,omitempty"`
	Reason         string         `db:"reason" json:"reason"`
	ChainData      types.JSONText `db:"chain_data" json:"chain_data,omitempty"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	RespondedAt    *time.Time     `db:"responded_at" json:"responded_at,omitempty"`
}

// DecodeTimeSlot unpacks the targeted slot reference.
func (r *Request) DecodeTimeSlot() (SlotRef, error) {
	var ref SlotRef
	if len(r.TimeSlot) == 0 {
		return ref, fmt.Errorf("request %s has no time slot", r.ID)
	}
	if err := json.Unmarshal(r.TimeSlot, &ref); err != nil {
		return ref, fmt.Errorf("decode request time slot: %w", err)
	}
	return ref, nil
}

// DecodeRequesterSlots unpacks the slots the requester offers in exchange.
func (r *Request) DecodeRequesterSlots() ([]SlotRef, error) {
	if len(r.RequesterSlots) == 0 {
		return nil, nil
	}
	var refs []SlotRef
	if err := json.Unmarshal(r.RequesterSlots, &refs); err != nil {
		return nil, fmt.Errorf("decode requester slots: %w", err)
	}
	return refs, nil
}

// DecodeChain unpacks chain provenance, nil when the request is not part of
// a chain.
func (r *Request) DecodeChain() (*ChainLink, error) {
	if len(r.ChainData) == 0 {
		return nil, nil
	}
	var link ChainLink
	if err := json.Unmarshal(r.ChainData, &link); err != nil {
		return nil, fmt.Errorf("decode chain data: %w", err)
	}
	return &link, nil
}

// EncodeSlotRef marshals a slot reference for storage.
func EncodeSlotRef(ref SlotRef) types.JSONText {
	raw, _ := json.Marshal(ref)
	return types.JSONText(raw)
}

// EncodeSlotRefs marshals a slice of slot references for storage.
func EncodeSlotRefs(refs []SlotRef) types.JSONText {
	if len(refs) == 0 {
		return nil
	}
	raw, _ := json.Marshal(refs)
	return types.JSONText(raw)
}

// EncodeChain marshals chain provenance for storage.
func EncodeChain(link *ChainLink) types.JSONText {
	if link == nil {
		return nil
	}
	raw, _ := json.Marshal(link)
	return types.JSONText(raw)
}
