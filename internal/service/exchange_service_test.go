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

const testTuesday = "2026-09-08"

func newExchangeFixture() (*ExchangeService, *memStore) {
	store := newMemStore(testRoom("owner-1"))
	store.addMember("alice", 3)
	store.addMember("bob", 3)
	store.addMember("carol", 3)
	// The owner's windows bound every reassignment.
	store.addBlock("owner-1", 1, "09:00", "18:00", 5)
	store.addBlock("owner-1", 2, "09:00", "18:00", 5)
	svc := NewExchangeService(store, store, store, store, requestStore{store}, nil, nil, nil, nil, nil, testSettings())
	return svc, store
}

func slotRef(date, start, end string) models.SlotRef {
	return models.SlotRef{Date: date, StartTime: start, EndTime: end}
}

func TestCreateRequestRejectsNonMember(t *testing.T) {
	svc, store := newExchangeFixture()
	store.addSlot("bob", mustDate(testMonday), "10:00", "10:30")

	_, err := svc.Create(context.Background(), "room-1", "stranger", dto.CreateRequestRequest{
		Kind:     "time_request",
		TimeSlot: slotRef(testMonday, "10:00", "10:30"),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestCreateRequestResolvesOccupantAsTarget(t *testing.T) {
	svc, store := newExchangeFixture()
	store.addSlot("bob", mustDate(testMonday), "10:00", "10:30")

	request, err := svc.Create(context.Background(), "room-1", "alice", dto.CreateRequestRequest{
		Kind:     "time_request",
		TimeSlot: slotRef(testMonday, "10:00", "10:30"),
	})
	require.NoError(t, err)
	require.NotNil(t, request.TargetUserID)
	assert.Equal(t, "bob", *request.TargetUserID)
	assert.Equal(t, models.RequestStatusPending, request.Status)
}

func TestCreateRequestRejectsDuplicate(t *testing.T) {
	svc, store := newExchangeFixture()
	store.addSlot("bob", mustDate(testMonday), "10:00", "10:30")

	input := dto.CreateRequestRequest{
		Kind:     "time_request",
		TimeSlot: slotRef(testMonday, "10:00", "10:30"),
	}
	_, err := svc.Create(context.Background(), "room-1", "alice", input)
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), "room-1", "alice", input)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrDuplicateRequest.Code, appErrors.FromError(err).Code)
}

func TestCreateRequestNeedsOccupiedSlot(t *testing.T) {
	svc, _ := newExchangeFixture()

	_, err := svc.Create(context.Background(), "room-1", "alice", dto.CreateRequestRequest{
		Kind:     "time_request",
		TimeSlot: slotRef(testMonday, "10:00", "10:30"),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestApproveRequiresTargetOrOwner(t *testing.T) {
	svc, store := newExchangeFixture()
	store.addSlot("bob", mustDate(testMonday), "10:00", "10:30")
	request, err := svc.Create(context.Background(), "room-1", "alice", dto.CreateRequestRequest{
		Kind:     "time_request",
		TimeSlot: slotRef(testMonday, "10:00", "10:30"),
	})
	require.NoError(t, err)

	_, err = svc.Approve(context.Background(), request.ID, "carol", "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestApproveSlotReleaseRemovesSlot(t *testing.T) {
	svc, store := newExchangeFixture()
	store.addSlot("alice", mustDate(testMonday), "10:00", "10:30")

	request, err := svc.Create(context.Background(), "room-1", "alice", dto.CreateRequestRequest{
		Kind:     "slot_release",
		TimeSlot: slotRef(testMonday, "10:00", "10:30"),
	})
	require.NoError(t, err)
	require.NotNil(t, request.TargetUserID)
	assert.Equal(t, "owner-1", *request.TargetUserID)

	resolution, err := svc.Approve(context.Background(), request.ID, "owner-1", "")
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusApproved, resolution.Request.Status)
	assert.Empty(t, store.slotsFor("alice"))
	require.Len(t, resolution.Moves, 1)
	assert.Nil(t, resolution.Moves[0].To)
}

func TestApproveSwapExchangesSlots(t *testing.T) {
	svc, store := newExchangeFixture()
	store.addSlot("alice", mustDate(testMonday), "09:00", "09:30")
	store.addSlot("bob", mustDate(testMonday), "10:00", "10:30")

	request, err := svc.Create(context.Background(), "room-1", "alice", dto.CreateRequestRequest{
		Kind:           "slot_swap",
		TimeSlot:       slotRef(testMonday, "10:00", "10:30"),
		RequesterSlots: []models.SlotRef{slotRef(testMonday, "09:00", "09:30")},
	})
	require.NoError(t, err)

	resolution, err := svc.Approve(context.Background(), request.ID, "bob", "")
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusApproved, resolution.Request.Status)
	require.Len(t, resolution.Moves, 2)

	aliceSlots := store.slotsFor("alice")
	require.Len(t, aliceSlots, 1)
	assert.Equal(t, "10:00", aliceSlots[0].StartTime)
	bobSlots := store.slotsFor("bob")
	require.Len(t, bobSlots, 1)
	assert.Equal(t, "09:00", bobSlots[0].StartTime)
}

func TestApproveTimeRequestRelocatesTarget(t *testing.T) {
	svc, store := newExchangeFixture()
	store.addSlot("bob", mustDate(testMonday), "10:00", "10:30")
	// Bob declared a wider window, so the engine can slide him to 10:30.
	store.addBlock("bob", 1, "10:00", "11:00", 3)

	request, err := svc.Create(context.Background(), "room-1", "alice", dto.CreateRequestRequest{
		Kind:     "time_request",
		TimeSlot: slotRef(testMonday, "10:00", "10:30"),
	})
	require.NoError(t, err)

	resolution, err := svc.Approve(context.Background(), request.ID, "bob", "")
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusApproved, resolution.Request.Status)
	assert.Nil(t, resolution.ChainChild)

	aliceSlots := store.slotsFor("alice")
	require.Len(t, aliceSlots, 1)
	assert.Equal(t, "10:00", aliceSlots[0].StartTime)
	bobSlots := store.slotsFor("bob")
	require.Len(t, bobSlots, 1)
	assert.Equal(t, "10:30", bobSlots[0].StartTime)
}

// chainFixture wires the canonical three-party chain: alice wants bob's
// Monday slot, bob can only live in carol's Tuesday slot, and carol has a
// free interval right after her own.
func chainFixture(t *testing.T) (*ExchangeService, *memStore, *models.Request) {
	t.Helper()
	svc, store := newExchangeFixture()
	store.addSlot("bob", mustDate(testMonday), "10:00", "10:30")
	store.addSlot("carol", mustDate(testTuesday), "10:00", "10:30")
	store.addBlock("bob", 2, "10:00", "10:30", 3)
	store.addBlock("carol", 2, "10:00", "11:00", 3)

	request, err := svc.Create(context.Background(), "room-1", "alice", dto.CreateRequestRequest{
		Kind:     "time_request",
		TimeSlot: slotRef(testMonday, "10:00", "10:30"),
	})
	require.NoError(t, err)
	return svc, store, request
}

func TestApproveTimeRequestEscalatesToChain(t *testing.T) {
	svc, store, request := chainFixture(t)

	resolution, err := svc.Approve(context.Background(), request.ID, "bob", "")
	require.NoError(t, err)

	assert.Equal(t, models.RequestStatusWaitingForChain, resolution.Request.Status)
	require.NotNil(t, resolution.ChainChild)
	child := resolution.ChainChild
	assert.Equal(t, models.RequestKindChainRequest, child.Kind)
	require.NotNil(t, child.TargetUserID)
	assert.Equal(t, "carol", *child.TargetUserID)

	link, err := child.DecodeChain()
	require.NoError(t, err)
	assert.Equal(t, request.ID, link.OriginalRequestID)
	assert.Equal(t, "alice", link.OriginalRequesterID)
	assert.Equal(t, 1, link.Depth)
	assert.Equal(t, testTuesday, link.IntermediateSlot.Date)
	assert.Equal(t, "10:30", link.IntermediateSlot.StartTime)

	// Nothing moved yet.
	require.Len(t, store.slotsFor("bob"), 1)
	assert.Equal(t, "Monday", store.slotsFor("bob")[0].Day)
}

func TestApproveChainResolvesAllThreeMoves(t *testing.T) {
	svc, store, request := chainFixture(t)
	resolution, err := svc.Approve(context.Background(), request.ID, "bob", "")
	require.NoError(t, err)
	child := resolution.ChainChild

	final, err := svc.Approve(context.Background(), child.ID, "carol", "")
	require.NoError(t, err)
	require.Len(t, final.Moves, 3)

	aliceSlots := store.slotsFor("alice")
	require.Len(t, aliceSlots, 1)
	assert.Equal(t, "Monday", aliceSlots[0].Day)
	assert.Equal(t, "10:00", aliceSlots[0].StartTime)

	bobSlots := store.slotsFor("bob")
	require.Len(t, bobSlots, 1)
	assert.Equal(t, "Tuesday", bobSlots[0].Day)
	assert.Equal(t, "10:00", bobSlots[0].StartTime)

	carolSlots := store.slotsFor("carol")
	require.Len(t, carolSlots, 1)
	assert.Equal(t, "Tuesday", carolSlots[0].Day)
	assert.Equal(t, "10:30", carolSlots[0].StartTime)

	original, err := store.FindRequest(context.Background(), request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusApproved, original.Status)
}

func TestApproveChainRejectsStaleInterval(t *testing.T) {
	svc, store, request := chainFixture(t)
	resolution, err := svc.Approve(context.Background(), request.ID, "bob", "")
	require.NoError(t, err)
	child := resolution.ChainChild

	// Somebody grabbed carol's fresh interval before she answered.
	store.addSlot("dave", mustDate(testTuesday), "10:30", "11:00")

	_, err = svc.Approve(context.Background(), child.ID, "carol", "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestRejectChainCascadesToOriginal(t *testing.T) {
	svc, store, request := chainFixture(t)
	resolution, err := svc.Approve(context.Background(), request.ID, "bob", "")
	require.NoError(t, err)
	child := resolution.ChainChild

	_, err = svc.Reject(context.Background(), child.ID, "carol", "")
	require.NoError(t, err)

	original, err := store.FindRequest(context.Background(), request.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusRejected, original.Status)
	assert.Contains(t, original.Reason, "carol")

	link, err := original.DecodeChain()
	require.NoError(t, err)
	assert.Contains(t, link.RejectedUserIDs, "carol")

	// Calendar untouched.
	require.Len(t, store.slotsFor("bob"), 1)
	require.Len(t, store.slotsFor("carol"), 1)
	assert.Empty(t, store.slotsFor("alice"))
}

func TestCancelCascadesToChainChildren(t *testing.T) {
	svc, store, request := chainFixture(t)
	resolution, err := svc.Approve(context.Background(), request.ID, "bob", "")
	require.NoError(t, err)
	child := resolution.ChainChild

	cancelled, err := svc.Cancel(context.Background(), request.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusCancelled, cancelled.Status)

	stored, err := store.FindRequest(context.Background(), child.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusRejected, stored.Status)
	assert.Equal(t, "original request cancelled", stored.Reason)
}

func TestCancelOnlyByRequester(t *testing.T) {
	svc, _, request := chainFixture(t)

	_, err := svc.Cancel(context.Background(), request.ID, "bob")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestChainConsentGateSpawnsOnConfirm(t *testing.T) {
	svc, store, request := chainFixture(t)
	store.room.RequireChainConsent = true

	resolution, err := svc.Approve(context.Background(), request.ID, "bob", "")
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusNeedsChainConsent, resolution.Request.Status)
	assert.Nil(t, resolution.ChainChild)

	// Only the requester may give the go-ahead.
	_, err = svc.ConfirmChain(context.Background(), request.ID, "bob")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	confirmed, err := svc.ConfirmChain(context.Background(), request.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusWaitingForChain, confirmed.Request.Status)
	require.NotNil(t, confirmed.ChainChild)
	assert.Equal(t, "carol", *confirmed.ChainChild.TargetUserID)
}

func TestTimeRequestRejectedWhenNoChainCandidate(t *testing.T) {
	svc, store := newExchangeFixture()
	store.addSlot("bob", mustDate(testMonday), "10:00", "10:30")
	// Bob has nowhere to go and nobody can host him.
	store.addBlock("bob", 1, "10:00", "10:30", 3)

	request, err := svc.Create(context.Background(), "room-1", "alice", dto.CreateRequestRequest{
		Kind:     "time_request",
		TimeSlot: slotRef(testMonday, "10:00", "10:30"),
	})
	require.NoError(t, err)

	resolution, err := svc.Approve(context.Background(), request.ID, "bob", "")
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusRejected, resolution.Request.Status)
	assert.Equal(t, "no alternative found", resolution.Request.Reason)
}

func TestRespondingToFinalizedRequestFails(t *testing.T) {
	svc, store := newExchangeFixture()
	store.addSlot("bob", mustDate(testMonday), "10:00", "10:30")
	request, err := svc.Create(context.Background(), "room-1", "alice", dto.CreateRequestRequest{
		Kind:     "time_request",
		TimeSlot: slotRef(testMonday, "10:00", "10:30"),
	})
	require.NoError(t, err)

	_, err = svc.Reject(context.Background(), request.ID, "bob", "no thanks")
	require.NoError(t, err)

	_, err = svc.Approve(context.Background(), request.ID, "bob", "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrRequestFinalized.Code, appErrors.FromError(err).Code)
}

func TestTimeChangeFreesOfferedSlotForTarget(t *testing.T) {
	svc, store := newExchangeFixture()
	// Alice offers her own 10:30 slot while asking for bob's 10:00; bob's
	// only other window is exactly the interval alice vacates.
	store.addSlot("alice", mustDate(testMonday), "10:30", "11:00")
	store.addSlot("bob", mustDate(testMonday), "10:00", "10:30")
	store.addBlock("bob", 1, "10:00", "11:00", 3)

	request, err := svc.Create(context.Background(), "room-1", "alice", dto.CreateRequestRequest{
		Kind:           "time_change",
		TimeSlot:       slotRef(testMonday, "10:00", "10:30"),
		RequesterSlots: []models.SlotRef{slotRef(testMonday, "10:30", "11:00")},
	})
	require.NoError(t, err)

	resolution, err := svc.Approve(context.Background(), request.ID, "bob", "")
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusApproved, resolution.Request.Status)

	aliceSlots := store.slotsFor("alice")
	require.Len(t, aliceSlots, 1)
	assert.Equal(t, "10:00", aliceSlots[0].StartTime)
	bobSlots := store.slotsFor("bob")
	require.Len(t, bobSlots, 1)
	assert.Equal(t, "10:30", bobSlots[0].StartTime)
}
