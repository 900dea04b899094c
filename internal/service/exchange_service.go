package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/hangawi/ai-schedule-api/internal/dto"
	"github.com/hangawi/ai-schedule-api/internal/models"
	"github.com/hangawi/ai-schedule-api/internal/repository"
	appErrors "github.com/hangawi/ai-schedule-api/pkg/errors"
	"github.com/hangawi/ai-schedule-api/pkg/events"
)

type exchangeRoomReader interface {
	FindByID(ctx context.Context, id string) (*models.Room, error)
}

type exchangeMemberReader interface {
	ListByRoom(ctx context.Context, roomID string) ([]models.Member, error)
}

type exchangePreferenceStore interface {
	GetPreferredBlocks(ctx context.Context, userID string) ([]models.PreferredBlock, error)
	AddBlock(ctx context.Context, block *models.PreferredBlock) error
}

type exchangeSlotStore interface {
	ListByUser(ctx context.Context, roomID, userID string) ([]models.AssignedSlot, error)
	ListOverlapping(ctx context.Context, roomID string, date time.Time, startTime, endTime string) ([]models.AssignedSlot, error)
	ApplyMoves(ctx context.Context, roomID string, expectedVersion int, removeIDs []string, add []models.AssignedSlot) error
}

type exchangeRequestStore interface {
	Create(ctx context.Context, request *models.Request) error
	FindByID(ctx context.Context, id string) (*models.Request, error)
	ListByRoom(ctx context.Context, roomID string, status models.RequestStatus, limit, offset int) ([]models.Request, error)
	HasDuplicate(ctx context.Context, roomID, requesterID string, kind models.RequestKind, targetUserID *string, timeSlot types.JSONText) (bool, error)
	UpdateStatus(ctx context.Context, params repository.UpdateStatusParams) error
	ListChainChildren(ctx context.Context, originalRequestID string) ([]models.Request, error)
}

// ExchangeService drives the negotiation protocol over assigned slots:
// direct swap and release, relocation-backed time requests, and multi-hop
// chain negotiation.
type ExchangeService struct {
	rooms      exchangeRoomReader
	members    exchangeMemberReader
	prefs      exchangePreferenceStore
	slots      exchangeSlotStore
	requests   exchangeRequestStore
	cache      *CacheService
	activities activitySink
	notifier   eventNotifier
	validator  *validator.Validate
	logger     *zap.Logger
	settings   CoordinationSettings
}

// NewExchangeService wires the negotiation dependencies.
func NewExchangeService(
	rooms exchangeRoomReader,
	members exchangeMemberReader,
	prefs exchangePreferenceStore,
	slots exchangeSlotStore,
	requests exchangeRequestStore,
	cache *CacheService,
	activities activitySink,
	notifier eventNotifier,
	validate *validator.Validate,
	logger *zap.Logger,
	settings CoordinationSettings,
) *ExchangeService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if activities == nil {
		activities = nopActivitySink{}
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &ExchangeService{
		rooms:      rooms,
		members:    members,
		prefs:      prefs,
		slots:      slots,
		requests:   requests,
		cache:      cache,
		activities: activities,
		notifier:   notifier,
		validator:  validate,
		logger:     logger,
		settings:   settings.normalized(),
	}
}

// Create files a new negotiation request.
func (s *ExchangeService) Create(ctx context.Context, roomID, requesterID string, req dto.CreateRequestRequest) (*models.Request, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request payload")
	}
	kind := models.RequestKind(req.Kind)
	targetDate, err := req.TimeSlot.ParsedDate()
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "timeSlot date must be yyyy-mm-dd")
	}
	if req.TimeSlot.DurationMinutes() <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "timeSlot must span a positive duration")
	}

	room, err := s.loadRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := s.ensureMembership(ctx, roomID, requesterID, room); err != nil {
		return nil, err
	}

	targetUserID, err := s.resolveTarget(ctx, room, requesterID, kind, req, targetDate)
	if err != nil {
		return nil, err
	}

	encodedSlot := models.EncodeSlotRef(req.TimeSlot)
	duplicate, err := s.requests.HasDuplicate(ctx, roomID, requesterID, kind, targetUserID, encodedSlot)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check duplicate requests")
	}
	if duplicate {
		return nil, appErrors.Clone(appErrors.ErrDuplicateRequest, "")
	}

	request := &models.Request{
		RoomID:         roomID,
		RequesterID:    requesterID,
		TargetUserID:   targetUserID,
		Kind:           kind,
		Status:         models.RequestStatusPending,
		TimeSlot:       encodedSlot,
		RequesterSlots: models.EncodeSlotRefs(req.RequesterSlots),
		Reason:         req.Reason,
	}
	if err := s.requests.Create(ctx, request); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create request")
	}

	s.activities.Log(ctx, &models.Activity{
		RoomID:  roomID,
		ActorID: requesterID,
		Action:  "request_created",
		Details: activityDetails(map[string]any{"requestId": request.ID, "kind": string(kind)}),
	})
	s.notifier.Publish(ctx, events.Event{RoomID: roomID, Kind: "request_created", Payload: request})
	return request, nil
}

// Approve resolves a pending request on behalf of its target (or the room
// owner). The outcome depends on the request kind; time requests may spawn a
// chain instead of finishing.
func (s *ExchangeService) Approve(ctx context.Context, requestID, actorID, note string) (*dto.RequestResolution, error) {
	request, room, err := s.loadLiveRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeResponder(request, room, actorID); err != nil {
		return nil, err
	}

	var resolution *dto.RequestResolution
	switch request.Kind {
	case models.RequestKindSlotRelease:
		resolution, err = s.approveRelease(ctx, room, request)
	case models.RequestKindSlotSwap:
		resolution, err = s.approveSwap(ctx, room, request)
	case models.RequestKindTimeRequest, models.RequestKindTimeChange:
		resolution, err = s.approveWithRelocation(ctx, room, request)
	case models.RequestKindChainRequest:
		resolution, err = s.approveChain(ctx, room, request)
	default:
		err = appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown request kind %q", request.Kind))
	}
	if err != nil {
		return nil, err
	}

	s.activities.Log(ctx, &models.Activity{
		RoomID:  room.ID,
		ActorID: actorID,
		Action:  "request_resolved",
		Details: activityDetails(map[string]any{
			"requestId": request.ID,
			"kind":      string(request.Kind),
			"status":    string(resolution.Request.Status),
			"note":      note,
		}),
	})
	s.notifier.Publish(ctx, events.Event{RoomID: room.ID, Kind: "request_" + string(resolution.Request.Status), Payload: resolution})
	return resolution, nil
}

// Reject declines a pending request. Rejecting a chain sub-request also
// rejects the original request: partial chains never leave half-moves.
func (s *ExchangeService) Reject(ctx context.Context, requestID, actorID, reason string) (*models.Request, error) {
	request, room, err := s.loadLiveRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeResponder(request, room, actorID); err != nil {
		return nil, err
	}

	if reason == "" {
		reason = "declined by " + actorID
	}
	if err := s.transition(ctx, request, models.RequestStatusRejected, reason, nil); err != nil {
		return nil, err
	}

	if request.Kind == models.RequestKindChainRequest {
		if err := s.rejectChainOriginal(ctx, request, actorID); err != nil {
			return nil, err
		}
	}

	s.activities.Log(ctx, &models.Activity{
		RoomID:  room.ID,
		ActorID: actorID,
		Action:  "request_rejected",
		Details: activityDetails(map[string]any{"requestId": request.ID, "reason": reason}),
	})
	s.notifier.Publish(ctx, events.Event{RoomID: room.ID, Kind: "request_rejected", Payload: request})
	return request, nil
}

// Cancel withdraws a live request. Only the original requester may cancel;
// cancelling a chain with in-flight sub-requests rejects those too.
func (s *ExchangeService) Cancel(ctx context.Context, requestID, actorID string) (*models.Request, error) {
	request, room, err := s.loadLiveRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.RequesterID != actorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the original requester may cancel")
	}

	children, err := s.requests.ListChainChildren(ctx, request.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load chain sub-requests")
	}
	for i := range children {
		if err := s.transition(ctx, &children[i], models.RequestStatusRejected, "original request cancelled", nil); err != nil {
			return nil, err
		}
		s.notifier.Publish(ctx, events.Event{RoomID: room.ID, Kind: "request_rejected", Payload: &children[i]})
	}

	if err := s.transition(ctx, request, models.RequestStatusCancelled, "", nil); err != nil {
		return nil, err
	}

	s.activities.Log(ctx, &models.Activity{
		RoomID:  room.ID,
		ActorID: actorID,
		Action:  "request_cancelled",
		Details: activityDetails(map[string]any{"requestId": request.ID, "subRequests": len(children)}),
	})
	s.notifier.Publish(ctx, events.Event{RoomID: room.ID, Kind: "request_cancelled", Payload: request})
	return request, nil
}

// ConfirmChain is the original requester's explicit go-ahead to contact a
// third party when the room requires consent before chain escalation.
func (s *ExchangeService) ConfirmChain(ctx context.Context, requestID, actorID string) (*dto.RequestResolution, error) {
	request, room, err := s.loadLiveRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.RequesterID != actorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the original requester may confirm the chain")
	}
	if request.Status != models.RequestStatusNeedsChainConsent {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "request is not awaiting chain confirmation")
	}
	link, err := request.DecodeChain()
	if err != nil || link == nil || len(link.CandidateUserIDs) == 0 {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "no chain candidates recorded for this request")
	}
	return s.spawnChain(ctx, room, request, link)
}

// List returns the room's requests.
func (s *ExchangeService) List(ctx context.Context, roomID string, query dto.RequestListQuery) ([]models.Request, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request filter")
	}
	pageSize := query.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	offset := 0
	if query.Page > 1 {
		offset = (query.Page - 1) * pageSize
	}
	list, err := s.requests.ListByRoom(ctx, roomID, models.RequestStatus(query.Status), pageSize, offset)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list requests")
	}
	return list, nil
}

// --- approval paths ---

func (s *ExchangeService) approveRelease(ctx context.Context, room *models.Room, request *models.Request) (*dto.RequestResolution, error) {
	ref, err := request.DecodeTimeSlot()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "corrupt request slot")
	}
	slot, err := s.findSlotByRef(ctx, room.ID, ref)
	if err != nil {
		return nil, err
	}
	if slot.UserID != request.RequesterID {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "released slot no longer belongs to the requester")
	}

	if err := s.applyMoves(ctx, room.ID, []string{slot.ID}, nil); err != nil {
		return nil, err
	}
	if err := s.transition(ctx, request, models.RequestStatusApproved, "", nil); err != nil {
		return nil, err
	}
	from := slot.Ref()
	return &dto.RequestResolution{
		Request: request,
		Moves:   []dto.SlotMove{{UserID: slot.UserID, From: &from}},
	}, nil
}

func (s *ExchangeService) approveSwap(ctx context.Context, room *models.Room, request *models.Request) (*dto.RequestResolution, error) {
	targetRef, err := request.DecodeTimeSlot()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "corrupt request slot")
	}
	offered, err := request.DecodeRequesterSlots()
	if err != nil || len(offered) == 0 {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "swap request carries no requester slot")
	}

	targetSlot, err := s.findSlotByRef(ctx, room.ID, targetRef)
	if err != nil {
		return nil, err
	}
	requesterSlot, err := s.findSlotByRef(ctx, room.ID, offered[0])
	if err != nil {
		return nil, err
	}
	if requesterSlot.UserID != request.RequesterID {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "offered slot no longer belongs to the requester")
	}

	swapped := []models.AssignedSlot{
		rebookSlot(room.ID, request.RequesterID, targetSlot),
		rebookSlot(room.ID, targetSlot.UserID, requesterSlot),
	}
	if err := s.applyMoves(ctx, room.ID, []string{targetSlot.ID, requesterSlot.ID}, swapped); err != nil {
		return nil, err
	}
	s.ensurePreferenceCovers(ctx, request.RequesterID, swapped[0])
	s.ensurePreferenceCovers(ctx, targetSlot.UserID, swapped[1])

	if err := s.transition(ctx, request, models.RequestStatusApproved, "", nil); err != nil {
		return nil, err
	}
	fromTarget := targetSlot.Ref()
	fromRequester := requesterSlot.Ref()
	toTarget := swapped[0].Ref()
	toRequester := swapped[1].Ref()
	return &dto.RequestResolution{
		Request: request,
		Moves: []dto.SlotMove{
			{UserID: request.RequesterID, From: &fromRequester, To: &toTarget},
			{UserID: targetSlot.UserID, From: &fromTarget, To: &toRequester},
		},
		Slots: swapped,
	}, nil
}

// approveWithRelocation first tries to relocate the target member to an
// equivalent free interval inside their own windows. When none exists it
// escalates into a chain; when no chain candidate exists either, the
// request dies with an explanatory rejection.
func (s *ExchangeService) approveWithRelocation(ctx context.Context, room *models.Room, request *models.Request) (*dto.RequestResolution, error) {
	targetRef, err := request.DecodeTimeSlot()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "corrupt request slot")
	}
	targetSlot, err := s.findSlotByRef(ctx, room.ID, targetRef)
	if err != nil {
		return nil, err
	}

	oldRequesterSlots, err := s.loadOfferedSlots(ctx, room, request)
	if err != nil {
		return nil, err
	}
	// Slots the requester vacates without replacement are free for the
	// target to move into. The target's own slot is not: the requester
	// occupies that boundary the moment the move lands.
	vacated := make(map[string]bool, len(oldRequesterSlots))
	removeIDs := []string{targetSlot.ID}
	for _, slot := range oldRequesterSlots {
		vacated[slot.ID] = true
		removeIDs = append(removeIDs, slot.ID)
	}

	dest, found, err := s.findRelocationInterval(ctx, room, targetSlot.UserID, targetSlot.Date,
		models.MinuteOfDay(targetSlot.StartTime), targetSlot.DurationMinutes(), vacated)
	if err != nil {
		return nil, err
	}
	if !found {
		return s.escalateToChain(ctx, room, request, targetSlot)
	}

	add := []models.AssignedSlot{
		rebookSlot(room.ID, request.RequesterID, targetSlot),
		{
			RoomID:    room.ID,
			UserID:    targetSlot.UserID,
			Date:      dest.date,
			Day:       dest.date.Weekday().String(),
			StartTime: models.ClockOf(dest.start),
			EndTime:   models.ClockOf(dest.start + targetSlot.DurationMinutes()),
			Subject:   targetSlot.Subject,
			Status:    models.SlotStatusConfirmed,
		},
	}
	if err := s.applyMoves(ctx, room.ID, removeIDs, add); err != nil {
		return nil, err
	}
	s.ensurePreferenceCovers(ctx, request.RequesterID, add[0])

	if err := s.transition(ctx, request, models.RequestStatusApproved, "", nil); err != nil {
		return nil, err
	}
	fromTarget := targetSlot.Ref()
	toRequester := add[0].Ref()
	toTarget := add[1].Ref()
	moves := []dto.SlotMove{
		{UserID: request.RequesterID, To: &toRequester},
		{UserID: targetSlot.UserID, From: &fromTarget, To: &toTarget},
	}
	for _, slot := range oldRequesterSlots {
		ref := slot.Ref()
		moves[0].From = &ref
	}
	return &dto.RequestResolution{Request: request, Moves: moves, Slots: add}, nil
}

// escalateToChain searches other members for someone whose assigned slot the
// target could take, provided that member can themselves move to a fresh
// interval of equal duration.
func (s *ExchangeService) escalateToChain(ctx context.Context, room *models.Room, request *models.Request, targetSlot *models.AssignedSlot) (*dto.RequestResolution, error) {
	parentLink, err := request.DecodeChain()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "corrupt chain data")
	}
	depth := 1
	var rejected []string
	if parentLink != nil {
		depth = parentLink.Depth + 1
		rejected = parentLink.RejectedUserIDs
	}
	if depth > s.settings.MaxChainDepth {
		if err := s.transition(ctx, request, models.RequestStatusRejected, "chain depth limit reached", nil); err != nil {
			return nil, err
		}
		return &dto.RequestResolution{Request: request}, nil
	}

	candidates, err := s.chainCandidates(ctx, room, request, targetSlot, rejected)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		if err := s.transition(ctx, request, models.RequestStatusRejected, "no alternative found", nil); err != nil {
			return nil, err
		}
		return &dto.RequestResolution{Request: request}, nil
	}

	candidateIDs := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		candidateIDs = append(candidateIDs, candidate.userID)
	}
	link := &models.ChainLink{
		OriginalRequesterID: request.RequesterID,
		OriginalRequestID:   request.ID,
		CandidateUserIDs:    candidateIDs,
		RejectedUserIDs:     rejected,
		Depth:               depth,
	}

	if room.RequireChainConsent {
		if err := s.transition(ctx, request, models.RequestStatusNeedsChainConsent, "", models.EncodeChain(link)); err != nil {
			return nil, err
		}
		return &dto.RequestResolution{Request: request}, nil
	}
	return s.spawnChain(ctx, room, request, link)
}

// spawnChain files the chain_request against the first viable candidate and
// parks the original request in waiting_for_chain.
func (s *ExchangeService) spawnChain(ctx context.Context, room *models.Room, request *models.Request, link *models.ChainLink) (*dto.RequestResolution, error) {
	targetRef, err := request.DecodeTimeSlot()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "corrupt request slot")
	}
	targetSlot, err := s.findSlotByRef(ctx, room.ID, targetRef)
	if err != nil {
		return nil, err
	}
	candidates, err := s.chainCandidates(ctx, room, request, targetSlot, link.RejectedUserIDs)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		if err := s.transition(ctx, request, models.RequestStatusRejected, "no alternative found", nil); err != nil {
			return nil, err
		}
		return &dto.RequestResolution{Request: request}, nil
	}
	chosen := candidates[0]

	link.IntermediateUserID = chosen.userID
	link.IntermediateSlot = models.SlotRef{
		Date:      models.DateKey(chosen.freeDate),
		Day:       chosen.freeDate.Weekday().String(),
		StartTime: models.ClockOf(chosen.freeStart),
		EndTime:   models.ClockOf(chosen.freeStart + chosen.slot.DurationMinutes()),
	}

	child := &models.Request{
		RoomID:       room.ID,
		RequesterID:  request.RequesterID,
		TargetUserID: &chosen.userID,
		Kind:         models.RequestKindChainRequest,
		Status:       models.RequestStatusPending,
		TimeSlot:     models.EncodeSlotRef(chosen.slot.Ref()),
		Reason:       fmt.Sprintf("chain relocation for request %s", request.ID),
		ChainData:    models.EncodeChain(link),
	}
	if err := s.requests.Create(ctx, child); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create chain request")
	}
	if err := s.transition(ctx, request, models.RequestStatusWaitingForChain, "", models.EncodeChain(link)); err != nil {
		return nil, err
	}

	s.notifier.Publish(ctx, events.Event{RoomID: room.ID, Kind: "chain_escalated", Payload: child})
	return &dto.RequestResolution{Request: request, ChainChild: child}, nil
}

// approveChain completes the whole chain atomically: the original requester
// gains the target's old slot, the target gains the chain user's old slot,
// and the chain user moves to the fresh interval they accepted.
func (s *ExchangeService) approveChain(ctx context.Context, room *models.Room, chainReq *models.Request) (*dto.RequestResolution, error) {
	link, err := chainReq.DecodeChain()
	if err != nil || link == nil {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "chain request carries no chain data")
	}
	original, err := s.requests.FindByID(ctx, link.OriginalRequestID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load original request")
	}
	if original.Status != models.RequestStatusWaitingForChain {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "original request is no longer waiting for this chain")
	}

	originalRef, err := original.DecodeTimeSlot()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "corrupt original request slot")
	}
	targetSlot, err := s.findSlotByRef(ctx, room.ID, originalRef)
	if err != nil {
		return nil, err
	}
	chainRef, err := chainReq.DecodeTimeSlot()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "corrupt chain request slot")
	}
	chainSlot, err := s.findSlotByRef(ctx, room.ID, chainRef)
	if err != nil {
		return nil, err
	}
	freshDate, err := link.IntermediateSlot.ParsedDate()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "corrupt chain interval")
	}

	removeIDs := []string{targetSlot.ID, chainSlot.ID}
	oldRequesterSlots, err := s.loadOfferedSlots(ctx, room, original)
	if err != nil {
		return nil, err
	}
	vacated := make(map[string]bool, len(oldRequesterSlots))
	for _, slot := range oldRequesterSlots {
		vacated[slot.ID] = true
		removeIDs = append(removeIDs, slot.ID)
	}

	// The fresh interval was free when the chain was proposed; it may not be
	// anymore.
	free, err := s.intervalFree(ctx, room.ID, models.DateOnly(freshDate),
		models.MinuteOfDay(link.IntermediateSlot.StartTime), models.MinuteOfDay(link.IntermediateSlot.EndTime), vacated)
	if err != nil {
		return nil, err
	}
	if !free {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "proposed chain interval is no longer free")
	}

	add := []models.AssignedSlot{
		rebookSlot(room.ID, original.RequesterID, targetSlot),
		rebookSlot(room.ID, targetSlot.UserID, chainSlot),
		{
			RoomID:    room.ID,
			UserID:    link.IntermediateUserID,
			Date:      models.DateOnly(freshDate),
			Day:       freshDate.Weekday().String(),
			StartTime: link.IntermediateSlot.StartTime,
			EndTime:   link.IntermediateSlot.EndTime,
			Subject:   chainSlot.Subject,
			Status:    models.SlotStatusConfirmed,
		},
	}
	if err := s.applyMoves(ctx, room.ID, removeIDs, add); err != nil {
		return nil, err
	}
	s.ensurePreferenceCovers(ctx, original.RequesterID, add[0])
	s.ensurePreferenceCovers(ctx, targetSlot.UserID, add[1])

	if err := s.transition(ctx, chainReq, models.RequestStatusApproved, "", nil); err != nil {
		return nil, err
	}
	if err := s.transition(ctx, original, models.RequestStatusApproved, "resolved via chain", nil); err != nil {
		return nil, err
	}

	fromTarget := targetSlot.Ref()
	fromChain := chainSlot.Ref()
	toRequester := add[0].Ref()
	toTarget := add[1].Ref()
	toChain := add[2].Ref()
	return &dto.RequestResolution{
		Request: chainReq,
		Moves: []dto.SlotMove{
			{UserID: original.RequesterID, To: &toRequester},
			{UserID: targetSlot.UserID, From: &fromTarget, To: &toTarget},
			{UserID: link.IntermediateUserID, From: &fromChain, To: &toChain},
		},
		Slots: add,
	}, nil
}

func (s *ExchangeService) rejectChainOriginal(ctx context.Context, chainReq *models.Request, actorID string) error {
	link, err := chainReq.DecodeChain()
	if err != nil || link == nil {
		return nil
	}
	original, err := s.requests.FindByID(ctx, link.OriginalRequestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load original request")
	}
	if original.Status.Terminal() {
		return nil
	}
	link.RejectedUserIDs = append(link.RejectedUserIDs, actorID)
	reason := fmt.Sprintf("chain candidate %s declined", actorID)
	return s.transition(ctx, original, models.RequestStatusRejected, reason, models.EncodeChain(link))
}

// --- shared helpers ---

type relocationTarget struct {
	date  time.Time
	start int
}

type chainCandidate struct {
	userID    string
	slot      *models.AssignedSlot
	freeDate  time.Time
	freeStart int
}

// findRelocationInterval looks for a free interval of the given duration
// inside both the user's and the owner's merged windows, expanding outward
// from the original date and time, nearest candidate first.
func (s *ExchangeService) findRelocationInterval(ctx context.Context, room *models.Room, userID string, fromDate time.Time, fromStart, duration int, excludeSlots map[string]bool) (relocationTarget, bool, error) {
	userBlocks, err := s.prefs.GetPreferredBlocks(ctx, userID)
	if err != nil {
		return relocationTarget{}, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load member preferences")
	}
	ownerBlocks, err := s.prefs.GetPreferredBlocks(ctx, room.OwnerID)
	if err != nil {
		return relocationTarget{}, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load owner preferences")
	}

	fromDate = models.DateOnly(fromDate)
	for dayOffset := 0; dayOffset <= relocationSearchHorizonDays; dayOffset++ {
		for _, sign := range []int{0, 1, -1} {
			if (dayOffset == 0 && sign != 0) || (dayOffset > 0 && sign == 0) {
				continue
			}
			date := fromDate.AddDate(0, 0, sign*dayOffset)
			if models.IsWeekend(date) {
				continue
			}
			start, ok, err := s.searchDay(ctx, room, userBlocks, ownerBlocks, date, fromStart, duration, excludeSlots)
			if err != nil {
				return relocationTarget{}, false, err
			}
			if ok {
				return relocationTarget{date: date, start: start}, true, nil
			}
		}
	}
	return relocationTarget{}, false, nil
}

const relocationSearchHorizonDays = 7

// searchDay scans one date for a fitting interval, starting at the original
// start time and expanding by before/after offsets, nearest first.
func (s *ExchangeService) searchDay(ctx context.Context, room *models.Room, userBlocks, ownerBlocks []models.PreferredBlock, date time.Time, fromStart, duration int, excludeSlots map[string]bool) (int, bool, error) {
	userWindows := MergePreferredWindows(userBlocks, date)
	if len(userWindows) == 0 {
		return 0, false, nil
	}
	ownerWindows := MergePreferredWindows(ownerBlocks, date)
	if len(ownerWindows) == 0 {
		return 0, false, nil
	}

	dayStart := s.settings.WorkingHoursStart * 60
	dayEnd := s.settings.WorkingHoursEnd * 60
	step := s.settings.SlotMinutes

	for offset := 0; fromStart-offset >= dayStart || fromStart+offset+duration <= dayEnd; offset += step {
		for _, sign := range []int{1, -1} {
			if offset == 0 && sign == -1 {
				continue
			}
			start := fromStart + sign*offset
			end := start + duration
			if start < dayStart || end > dayEnd {
				continue
			}
			if !WindowsContain(userWindows, start, end) || !WindowsContain(ownerWindows, start, end) {
				continue
			}
			free, err := s.intervalFree(ctx, room.ID, date, start, end, excludeSlots)
			if err != nil {
				return 0, false, err
			}
			if free {
				return start, true, nil
			}
		}
	}
	return 0, false, nil
}

func (s *ExchangeService) intervalFree(ctx context.Context, roomID string, date time.Time, start, end int, excludeSlots map[string]bool) (bool, error) {
	overlapping, err := s.slots.ListOverlapping(ctx, roomID, date, models.ClockOf(start), models.ClockOf(end))
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check slot conflicts")
	}
	for _, slot := range overlapping {
		if !excludeSlots[slot.ID] {
			return false, nil
		}
	}
	return true, nil
}

// chainCandidates ranks members who hold a slot the target could take and
// can themselves move to a fresh interval of equal duration.
func (s *ExchangeService) chainCandidates(ctx context.Context, room *models.Room, request *models.Request, targetSlot *models.AssignedSlot, rejected []string) ([]chainCandidate, error) {
	members, err := s.members.ListByRoom(ctx, room.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load members")
	}
	rejectedSet := make(map[string]bool, len(rejected))
	for _, userID := range rejected {
		rejectedSet[userID] = true
	}
	targetBlocks, err := s.prefs.GetPreferredBlocks(ctx, targetSlot.UserID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load target preferences")
	}

	var candidates []chainCandidate
	for _, member := range members {
		userID := member.UserID
		if userID == request.RequesterID || userID == targetSlot.UserID || userID == room.OwnerID || rejectedSet[userID] {
			continue
		}
		held, err := s.slots.ListByUser(ctx, room.ID, userID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load member slots")
		}
		for i := range held {
			slot := held[i]
			if slot.DurationMinutes() != targetSlot.DurationMinutes() {
				continue
			}
			// The target must be able to live in the candidate's slot.
			windows := MergePreferredWindows(targetBlocks, models.DateOnly(slot.Date))
			if !WindowsContain(windows, models.MinuteOfDay(slot.StartTime), models.MinuteOfDay(slot.EndTime)) {
				continue
			}
			// Neither the candidate's slot nor the target's slot frees up:
			// both boundaries are re-occupied when the chain resolves.
			dest, found, err := s.findRelocationInterval(ctx, room, userID, slot.Date,
				models.MinuteOfDay(slot.StartTime), slot.DurationMinutes(), nil)
			if err != nil {
				return nil, err
			}
			if !found {
				continue
			}
			candidates = append(candidates, chainCandidate{
				userID:    userID,
				slot:      &held[i],
				freeDate:  dest.date,
				freeStart: dest.start,
			})
			break
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].userID < candidates[j].userID })
	return candidates, nil
}

func (s *ExchangeService) loadOfferedSlots(ctx context.Context, room *models.Room, request *models.Request) ([]*models.AssignedSlot, error) {
	if request.Kind != models.RequestKindTimeChange {
		return nil, nil
	}
	refs, err := request.DecodeRequesterSlots()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "corrupt requester slots")
	}
	var slots []*models.AssignedSlot
	for _, ref := range refs {
		slot, err := s.findSlotByRef(ctx, room.ID, ref)
		if err != nil {
			return nil, err
		}
		if slot.UserID != request.RequesterID {
			return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "offered slot no longer belongs to the requester")
		}
		slots = append(slots, slot)
	}
	return slots, nil
}

func (s *ExchangeService) findSlotByRef(ctx context.Context, roomID string, ref models.SlotRef) (*models.AssignedSlot, error) {
	date, err := ref.ParsedDate()
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "slot date must be yyyy-mm-dd")
	}
	overlapping, err := s.slots.ListOverlapping(ctx, roomID, models.DateOnly(date), ref.StartTime, ref.EndTime)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve slot")
	}
	for i := range overlapping {
		if overlapping[i].StartTime == ref.StartTime && overlapping[i].EndTime == ref.EndTime {
			return &overlapping[i], nil
		}
	}
	if len(overlapping) > 0 {
		return &overlapping[0], nil
	}
	return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("no assigned slot at %s %s-%s", ref.Date, ref.StartTime, ref.EndTime))
}

// applyMoves wraps the versioned write in the bounded optimistic retry and
// drops any cached grids for the room once the calendar changed.
func (s *ExchangeService) applyMoves(ctx context.Context, roomID string, removeIDs []string, add []models.AssignedSlot) error {
	if err := applyVersionedMoves(ctx, s.rooms, s.slots, roomID, s.settings.RetryAttempts, removeIDs, add); err != nil {
		return err
	}
	if err := s.cache.Invalidate(ctx, RoomCachePattern(roomID)); err != nil {
		s.logger.Sugar().Warnw("cache invalidation failed", "room_id", roomID, "error", err)
	}
	return nil
}

// ensurePreferenceCovers keeps the preference store consistent with the
// calendar after a negotiated move.
func (s *ExchangeService) ensurePreferenceCovers(ctx context.Context, userID string, slot models.AssignedSlot) {
	upsertPreferenceException(ctx, s.prefs, s.logger, userID, slot)
}

func (s *ExchangeService) loadRoom(ctx context.Context, roomID string) (*models.Room, error) {
	room, err := s.rooms.FindByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "room not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load room")
	}
	return room, nil
}

func (s *ExchangeService) ensureMembership(ctx context.Context, roomID, userID string, room *models.Room) error {
	if userID == room.OwnerID {
		return nil
	}
	members, err := s.members.ListByRoom(ctx, roomID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load members")
	}
	for _, member := range members {
		if member.UserID == userID {
			return nil
		}
	}
	return appErrors.Clone(appErrors.ErrForbidden, "requester is not a member of this room")
}

// resolveTarget pins the user whose approval the request needs.
func (s *ExchangeService) resolveTarget(ctx context.Context, room *models.Room, requesterID string, kind models.RequestKind, req dto.CreateRequestRequest, targetDate time.Time) (*string, error) {
	if req.TargetUserID != "" {
		target := req.TargetUserID
		return &target, nil
	}
	if kind == models.RequestKindSlotRelease {
		owner := room.OwnerID
		return &owner, nil
	}
	occupying, err := s.slots.ListOverlapping(ctx, room.ID, models.DateOnly(targetDate), req.TimeSlot.StartTime, req.TimeSlot.EndTime)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve target slot")
	}
	for _, slot := range occupying {
		if slot.UserID != requesterID {
			target := slot.UserID
			return &target, nil
		}
	}
	if kind == models.RequestKindSlotSwap || kind == models.RequestKindTimeRequest || kind == models.RequestKindTimeChange {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "requested slot is not held by another member")
	}
	return nil, nil
}

func (s *ExchangeService) loadLiveRequest(ctx context.Context, requestID string) (*models.Request, *models.Room, error) {
	request, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "request not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	if request.Status.Terminal() {
		return nil, nil, appErrors.Clone(appErrors.ErrRequestFinalized, "")
	}
	room, err := s.loadRoom(ctx, request.RoomID)
	if err != nil {
		return nil, nil, err
	}
	return request, room, nil
}

func (s *ExchangeService) authorizeResponder(request *models.Request, room *models.Room, actorID string) error {
	if actorID == room.OwnerID {
		return nil
	}
	if request.TargetUserID != nil && *request.TargetUserID == actorID {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "only the request target or the room owner may respond")
}

// transition applies a guarded state change and mirrors it on the in-memory
// request so callers see the final entity.
func (s *ExchangeService) transition(ctx context.Context, request *models.Request, status models.RequestStatus, reason string, chainData types.JSONText) error {
	now := time.Now().UTC()
	params := repository.UpdateStatusParams{
		ID:        request.ID,
		Status:    status,
		Reason:    reason,
		ChainData: chainData,
	}
	if status.Terminal() {
		params.RespondedAt = &now
	}
	if err := s.requests.UpdateStatus(ctx, params); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrRequestFinalized, "")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update request status")
	}
	request.Status = status
	if reason != "" {
		request.Reason = reason
	}
	if chainData != nil {
		request.ChainData = chainData
	}
	if params.RespondedAt != nil {
		request.RespondedAt = params.RespondedAt
	}
	return nil
}

func rebookSlot(roomID, newUserID string, slot *models.AssignedSlot) models.AssignedSlot {
	return models.AssignedSlot{
		RoomID:    roomID,
		UserID:    newUserID,
		Date:      slot.Date,
		Day:       slot.Day,
		StartTime: slot.StartTime,
		EndTime:   slot.EndTime,
		Subject:   slot.Subject,
		Status:    models.SlotStatusConfirmed,
	}
}
