package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hangawi/ai-schedule-api/internal/dto"
	"github.com/hangawi/ai-schedule-api/internal/models"
	appErrors "github.com/hangawi/ai-schedule-api/pkg/errors"
)

func newRelocationFixture(travel TravelEstimator) (*RelocationService, *memStore) {
	store := newMemStore(testRoom("owner-1"))
	store.addMember("alice", 3)
	store.addMember("bob", 3)
	store.addBlock("owner-1", 1, "09:00", "18:00", 5)
	store.addBlock("owner-1", 2, "09:00", "18:00", 5)
	svc := NewRelocationService(store, store, store, store, travel, nil, nil, nil, nil, nil, testSettings())
	return svc, store
}

func relocateReq(sourceStart, targetDate, targetStart string) dto.RelocateSlotRequest {
	return dto.RelocateSlotRequest{
		SourceDate:      testMonday,
		SourceStartTime: sourceStart,
		TargetDate:      targetDate,
		TargetStartTime: targetStart,
	}
}

func TestRelocateRejectsWeekendTarget(t *testing.T) {
	svc, store := newRelocationFixture(nil)
	store.addSlot("alice", mustDate(testMonday), "10:00", "10:30")

	_, err := svc.Relocate(context.Background(), "room-1", "alice", relocateReq("10:00", "2026-09-12", ""))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Contains(t, appErrors.FromError(err).Message, "weekend")
}

func TestRelocateRequiresOwnerAvailability(t *testing.T) {
	svc, store := newRelocationFixture(nil)
	store.addSlot("alice", mustDate(testMonday), "10:00", "10:30")

	// The owner declared nothing for Wednesday.
	_, err := svc.Relocate(context.Background(), "room-1", "alice", relocateReq("10:00", "2026-09-09", ""))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestRelocateEnforcesVicinity(t *testing.T) {
	svc, store := newRelocationFixture(nil)
	store.addSlot("alice", mustDate(testMonday), "10:00", "10:30")
	store.addBlock("alice", 1, "09:00", "12:00", 3)

	// Next Monday is seven days out; the vicinity bound is three.
	_, err := svc.Relocate(context.Background(), "room-1", "alice", relocateReq("10:00", "2026-09-14", ""))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Contains(t, appErrors.FromError(err).Message, "days from the source slot")
}

func TestRelocateRequiresHolderAvailability(t *testing.T) {
	svc, store := newRelocationFixture(nil)
	store.addSlot("alice", mustDate(testMonday), "10:00", "10:30")

	_, err := svc.Relocate(context.Background(), "room-1", "alice", relocateReq("10:00", testTuesday, ""))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
	assert.Contains(t, appErrors.FromError(err).Message, "slot holder")
}

func TestRelocateOnlyByHolderOrOwner(t *testing.T) {
	svc, store := newRelocationFixture(nil)
	store.addSlot("alice", mustDate(testMonday), "10:00", "10:30")

	_, err := svc.Relocate(context.Background(), "room-1", "bob", relocateReq("10:00", testTuesday, "11:00"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestRelocatePinnedMovesIntoFreeInterval(t *testing.T) {
	svc, store := newRelocationFixture(nil)
	store.addSlot("alice", mustDate(testMonday), "10:00", "10:30")
	store.addBlock("alice", 2, "09:00", "12:00", 3)

	result, err := svc.Relocate(context.Background(), "room-1", "alice", relocateReq("10:00", testTuesday, "11:00"))
	require.NoError(t, err)
	assert.Equal(t, dto.RelocationOutcomeMoved, result.Outcome)
	require.NotNil(t, result.Slot)

	aliceSlots := store.slotsFor("alice")
	require.Len(t, aliceSlots, 1)
	assert.Equal(t, "Tuesday", aliceSlots[0].Day)
	assert.Equal(t, "11:00", aliceSlots[0].StartTime)
	assert.Equal(t, "11:30", aliceSlots[0].EndTime)
}

func TestRelocatePinnedConflictEscalatesToOccupant(t *testing.T) {
	svc, store := newRelocationFixture(nil)
	store.addSlot("alice", mustDate(testMonday), "10:00", "10:30")
	store.addSlot("bob", mustDate(testTuesday), "11:00", "11:30")
	store.addBlock("alice", 2, "09:00", "12:00", 3)

	result, err := svc.Relocate(context.Background(), "room-1", "alice", relocateReq("10:00", testTuesday, "11:00"))
	require.NoError(t, err)
	assert.Equal(t, dto.RelocationOutcomeEscalated, result.Outcome)
	require.NotNil(t, result.Request)
	require.NotNil(t, result.Request.TargetUserID)
	assert.Equal(t, "bob", *result.Request.TargetUserID)
	assert.Equal(t, models.RequestKindTimeRequest, result.Request.Kind)
	assert.Equal(t, models.RequestStatusPending, result.Request.Status)

	// The calendar stays untouched until the request is approved.
	aliceSlots := store.slotsFor("alice")
	require.Len(t, aliceSlots, 1)
	assert.Equal(t, "Monday", aliceSlots[0].Day)
}

func TestRelocateAutoPlacesNearestFreeInterval(t *testing.T) {
	svc, store := newRelocationFixture(nil)
	store.addSlot("alice", mustDate(testMonday), "10:00", "10:30")
	store.addSlot("bob", mustDate(testTuesday), "10:00", "10:30")
	store.addBlock("alice", 2, "10:00", "11:00", 3)

	result, err := svc.Relocate(context.Background(), "room-1", "alice", relocateReq("10:00", testTuesday, ""))
	require.NoError(t, err)
	assert.Equal(t, dto.RelocationOutcomeMoved, result.Outcome)

	aliceSlots := store.slotsFor("alice")
	require.Len(t, aliceSlots, 1)
	assert.Equal(t, "10:30", aliceSlots[0].StartTime)
}

func TestRelocateAutoPlaceExhaustedEscalatesToOwner(t *testing.T) {
	svc, store := newRelocationFixture(nil)
	store.addSlot("alice", mustDate(testMonday), "10:00", "10:30")
	store.addSlot("bob", mustDate(testTuesday), "10:00", "10:30")
	// Alice's Tuesday window is exactly the interval bob holds.
	store.addBlock("alice", 2, "10:00", "10:30", 3)

	result, err := svc.Relocate(context.Background(), "room-1", "alice", relocateReq("10:00", testTuesday, ""))
	require.NoError(t, err)
	assert.Equal(t, dto.RelocationOutcomeEscalated, result.Outcome)
	require.NotNil(t, result.Request.TargetUserID)
	assert.Equal(t, "owner-1", *result.Request.TargetUserID)
	assert.Equal(t, "no free interval on the target date", result.Reason)
}

func TestRelocateTravelPaddingWidensConflictCheck(t *testing.T) {
	store := newMemStore(testRoom("owner-1"))
	store.addMember("alice", 3)
	store.addMember("bob", 3)
	store.addBlock("owner-1", 2, "09:00", "18:00", 5)
	store.addBlock("owner-1", 1, "09:00", "18:00", 5)
	store.addSlot("alice", mustDate(testMonday), "11:00", "11:30")
	store.addSlot("bob", mustDate(testTuesday), "10:30", "11:00")
	store.addBlock("alice", 2, "09:00", "12:00", 3)

	request := dto.RelocateSlotRequest{
		SourceDate:      testMonday,
		SourceStartTime: "11:00",
		TargetDate:      testTuesday,
		TargetStartTime: "11:00",
		TravelMode:      "walk",
		FromLocation:    "library",
		ToLocation:      "annex",
	}

	// A 20 minute walk pads the check by one full slot, so bob's adjacent
	// slot becomes a conflict.
	padded := NewRelocationService(store, store, store, store, StaticTravelEstimator{Minutes: 20}, nil, nil, nil, nil, nil, testSettings())
	result, err := padded.Relocate(context.Background(), "room-1", "alice", request)
	require.NoError(t, err)
	assert.Equal(t, dto.RelocationOutcomeEscalated, result.Outcome)

	// Without a travel mode the same move is clean.
	request.TravelMode = ""
	plain := NewRelocationService(store, store, store, store, nil, nil, nil, nil, nil, nil, testSettings())
	result, err = plain.Relocate(context.Background(), "room-1", "alice", request)
	require.NoError(t, err)
	assert.Equal(t, dto.RelocationOutcomeMoved, result.Outcome)
}

func TestTravelPaddingRoundsUpToSlotGrid(t *testing.T) {
	assert.Equal(t, 0, travelPadding(0, 30))
	assert.Equal(t, 30, travelPadding(1, 30))
	assert.Equal(t, 30, travelPadding(30, 30))
	assert.Equal(t, 60, travelPadding(31, 30))
}
