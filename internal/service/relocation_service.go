package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/hangawi/ai-schedule-api/internal/dto"
	"github.com/hangawi/ai-schedule-api/internal/models"
	appErrors "github.com/hangawi/ai-schedule-api/pkg/errors"
	"github.com/hangawi/ai-schedule-api/pkg/events"
)

type relocationRequestWriter interface {
	Create(ctx context.Context, request *models.Request) error
}

// RelocationService validates and executes single-slot moves. Checks run in
// a fixed order so callers always get the most fundamental violation first:
// weekday, owner windows, member windows and vicinity, then conflicts.
// Conflicts never hard-fail a move; a pinned time escalates into a
// negotiation request and a free time falls back to the nearest open
// interval on the target date.
type RelocationService struct {
	rooms      exchangeRoomReader
	prefs      exchangePreferenceStore
	slots      exchangeSlotStore
	requests   relocationRequestWriter
	travel     TravelEstimator
	cache      *CacheService
	activities activitySink
	notifier   eventNotifier
	validator  *validator.Validate
	logger     *zap.Logger
	settings   CoordinationSettings
}

// NewRelocationService wires the relocation dependencies.
func NewRelocationService(
	rooms exchangeRoomReader,
	prefs exchangePreferenceStore,
	slots exchangeSlotStore,
	requests relocationRequestWriter,
	travel TravelEstimator,
	cache *CacheService,
	activities activitySink,
	notifier eventNotifier,
	validate *validator.Validate,
	logger *zap.Logger,
	settings CoordinationSettings,
) *RelocationService {
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
	if travel == nil {
		travel = StaticTravelEstimator{}
	}
	return &RelocationService{
		rooms:      rooms,
		prefs:      prefs,
		slots:      slots,
		requests:   requests,
		travel:     travel,
		cache:      cache,
		activities: activities,
		notifier:   notifier,
		validator:  validate,
		logger:     logger,
		settings:   settings.normalized(),
	}
}

// Relocate moves one of the caller's slots to the requested date and time.
func (s *RelocationService) Relocate(ctx context.Context, roomID, actorID string, req dto.RelocateSlotRequest) (*dto.RelocateSlotResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid relocation payload")
	}
	sourceDate, err := time.Parse("2006-01-02", req.SourceDate)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "sourceDate must be yyyy-mm-dd")
	}
	targetDate, err := time.Parse("2006-01-02", req.TargetDate)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "targetDate must be yyyy-mm-dd")
	}
	sourceDate = models.DateOnly(sourceDate)
	targetDate = models.DateOnly(targetDate)

	room, err := s.rooms.FindByID(ctx, roomID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load room")
	}

	source, err := s.findSourceSlot(ctx, roomID, sourceDate, req.SourceStartTime)
	if err != nil {
		return nil, err
	}
	if source.UserID != actorID && actorID != room.OwnerID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the slot holder or the room owner may relocate a slot")
	}
	duration := source.DurationMinutes()

	// Check 1: weekdays only.
	if models.IsWeekend(targetDate) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "target date falls on a weekend")
	}

	// Check 2: the owner must be available on the target date.
	ownerBlocks, err := s.prefs.GetPreferredBlocks(ctx, room.OwnerID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load owner preferences")
	}
	ownerWindows := MergePreferredWindows(ownerBlocks, targetDate)
	if len(ownerWindows) == 0 {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "room owner has no availability on the target date")
	}

	// Check 3: the move must stay within the holder's windows and vicinity.
	if dayDistance(sourceDate, targetDate) > s.settings.VicinityDays {
		return nil, appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("target date is more than %d days from the source slot", s.settings.VicinityDays))
	}
	holderBlocks, err := s.prefs.GetPreferredBlocks(ctx, source.UserID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load member preferences")
	}
	holderWindows := MergePreferredWindows(holderBlocks, targetDate)
	if len(holderWindows) == 0 {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "slot holder has no availability on the target date")
	}

	padding, err := s.travelPadding(ctx, req)
	if err != nil {
		return nil, err
	}

	if req.TargetStartTime != "" {
		return s.relocatePinned(ctx, room, source, req, targetDate, duration, ownerWindows, holderWindows, padding, actorID)
	}
	return s.relocateAutoPlace(ctx, room, source, targetDate, duration, ownerWindows, holderWindows, padding, actorID)
}

// relocatePinned honors an explicit target time; checks 4 and 5 escalate
// instead of failing.
func (s *RelocationService) relocatePinned(ctx context.Context, room *models.Room, source *models.AssignedSlot, req dto.RelocateSlotRequest, targetDate time.Time, duration int, ownerWindows, holderWindows []Interval, padding int, actorID string) (*dto.RelocateSlotResponse, error) {
	start := models.MinuteOfDay(req.TargetStartTime)
	if start < 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "targetStartTime must be hh:mm")
	}
	end := start + duration
	if !s.withinWorkingHours(start, end) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "target interval is outside working hours")
	}
	if !WindowsContain(ownerWindows, start, end) {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "target interval is outside the owner's availability")
	}
	if !WindowsContain(holderWindows, start, end) {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "target interval is outside the slot holder's availability")
	}

	// Checks 4 and 5: occupancy, padded by travel time when requested.
	conflicts, err := s.paddedConflicts(ctx, room.ID, targetDate, start, end, padding, source.ID)
	if err != nil {
		return nil, err
	}
	if len(conflicts) > 0 {
		return s.escalate(ctx, room, source, targetDate, start, end, conflicts, actorID)
	}
	return s.executeMove(ctx, room, source, targetDate, start, end, actorID)
}

// relocateAutoPlace scans the target date for the nearest acceptable
// interval to the source start time.
func (s *RelocationService) relocateAutoPlace(ctx context.Context, room *models.Room, source *models.AssignedSlot, targetDate time.Time, duration int, ownerWindows, holderWindows []Interval, padding int, actorID string) (*dto.RelocateSlotResponse, error) {
	fromStart := models.MinuteOfDay(source.StartTime)
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
			if !WindowsContain(ownerWindows, start, end) || !WindowsContain(holderWindows, start, end) {
				continue
			}
			conflicts, err := s.paddedConflicts(ctx, room.ID, targetDate, start, end, padding, source.ID)
			if err != nil {
				return nil, err
			}
			if len(conflicts) == 0 {
				return s.executeMove(ctx, room, source, targetDate, start, end, actorID)
			}
		}
	}
	return s.escalate(ctx, room, source, targetDate, fromStart, fromStart+duration, nil, actorID)
}

func (s *RelocationService) executeMove(ctx context.Context, room *models.Room, source *models.AssignedSlot, targetDate time.Time, start, end int, actorID string) (*dto.RelocateSlotResponse, error) {
	moved := models.AssignedSlot{
		RoomID:    room.ID,
		UserID:    source.UserID,
		Date:      targetDate,
		Day:       targetDate.Weekday().String(),
		StartTime: models.ClockOf(start),
		EndTime:   models.ClockOf(end),
		Subject:   source.Subject,
		Status:    models.SlotStatusConfirmed,
	}
	if err := applyVersionedMoves(ctx, s.rooms, s.slots, room.ID, s.settings.RetryAttempts, []string{source.ID}, []models.AssignedSlot{moved}); err != nil {
		return nil, err
	}
	if err := s.cache.Invalidate(ctx, RoomCachePattern(room.ID)); err != nil {
		s.logger.Sugar().Warnw("cache invalidation failed", "room_id", room.ID, "error", err)
	}
	upsertPreferenceException(ctx, s.prefs, s.logger, source.UserID, moved)

	s.activities.Log(ctx, &models.Activity{
		RoomID:  room.ID,
		ActorID: actorID,
		Action:  "slot_relocated",
		Details: activityDetails(map[string]any{
			"userId": source.UserID,
			"from":   fmt.Sprintf("%s %s", models.DateKey(source.Date), source.StartTime),
			"to":     fmt.Sprintf("%s %s", models.DateKey(targetDate), moved.StartTime),
		}),
	})
	s.notifier.Publish(ctx, events.Event{RoomID: room.ID, Kind: "slot_relocated", Payload: moved})
	return &dto.RelocateSlotResponse{Outcome: dto.RelocationOutcomeMoved, Slot: &moved}, nil
}

// escalate files a negotiation request instead of forcing the move. A
// conflicting member becomes the target; with no single conflicting member
// the room owner arbitrates.
func (s *RelocationService) escalate(ctx context.Context, room *models.Room, source *models.AssignedSlot, targetDate time.Time, start, end int, conflicts []models.AssignedSlot, actorID string) (*dto.RelocateSlotResponse, error) {
	target := room.OwnerID
	reason := "no free interval on the target date"
	for _, conflict := range conflicts {
		if conflict.UserID != source.UserID {
			target = conflict.UserID
			reason = "requested interval is held by another member"
			break
		}
	}

	request := &models.Request{
		RoomID:       room.ID,
		RequesterID:  source.UserID,
		TargetUserID: &target,
		Kind:         models.RequestKindTimeRequest,
		Status:       models.RequestStatusPending,
		TimeSlot: models.EncodeSlotRef(models.SlotRef{
			Date:      models.DateKey(targetDate),
			Day:       targetDate.Weekday().String(),
			StartTime: models.ClockOf(start),
			EndTime:   models.ClockOf(end),
			Subject:   source.Subject,
		}),
		RequesterSlots: models.EncodeSlotRefs([]models.SlotRef{source.Ref()}),
		Reason:         reason,
	}
	if err := s.requests.Create(ctx, request); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to escalate relocation")
	}

	s.activities.Log(ctx, &models.Activity{
		RoomID:  room.ID,
		ActorID: actorID,
		Action:  "relocation_escalated",
		Details: activityDetails(map[string]any{"requestId": request.ID, "reason": reason}),
	})
	s.notifier.Publish(ctx, events.Event{RoomID: room.ID, Kind: "relocation_escalated", Payload: request})
	return &dto.RelocateSlotResponse{Outcome: dto.RelocationOutcomeEscalated, Request: request, Reason: reason}, nil
}

func (s *RelocationService) paddedConflicts(ctx context.Context, roomID string, date time.Time, start, end, padding int, excludeID string) ([]models.AssignedSlot, error) {
	checkStart := start - padding
	if checkStart < 0 {
		checkStart = 0
	}
	checkEnd := end + padding
	if checkEnd > 24*60 {
		checkEnd = 24 * 60
	}
	overlapping, err := s.slots.ListOverlapping(ctx, roomID, date, models.ClockOf(checkStart), models.ClockOf(checkEnd))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check slot conflicts")
	}
	conflicts := overlapping[:0:0]
	for _, slot := range overlapping {
		if slot.ID != excludeID {
			conflicts = append(conflicts, slot)
		}
	}
	return conflicts, nil
}

func (s *RelocationService) travelPadding(ctx context.Context, req dto.RelocateSlotRequest) (int, error) {
	if req.TravelMode == "" {
		return 0, nil
	}
	minutes, err := s.travel.EstimateMinutes(ctx, req.TravelMode, req.FromLocation, req.ToLocation)
	if err != nil {
		s.logger.Sugar().Warnw("travel estimate failed, relocating without padding", "error", err)
		return 0, nil
	}
	return travelPadding(minutes, s.settings.SlotMinutes), nil
}

func (s *RelocationService) findSourceSlot(ctx context.Context, roomID string, date time.Time, startTime string) (*models.AssignedSlot, error) {
	start := models.MinuteOfDay(startTime)
	if start < 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "sourceStartTime must be hh:mm")
	}
	overlapping, err := s.slots.ListOverlapping(ctx, roomID, date, startTime, models.ClockOf(start+s.settings.SlotMinutes))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve source slot")
	}
	for i := range overlapping {
		if overlapping[i].StartTime == startTime {
			return &overlapping[i], nil
		}
	}
	if len(overlapping) > 0 {
		return &overlapping[0], nil
	}
	return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("no assigned slot at %s %s", models.DateKey(date), startTime))
}

func (s *RelocationService) withinWorkingHours(start, end int) bool {
	return start >= s.settings.WorkingHoursStart*60 && end <= s.settings.WorkingHoursEnd*60
}

func dayDistance(a, b time.Time) int {
	diff := int(b.Sub(a).Hours() / 24)
	if diff < 0 {
		return -diff
	}
	return diff
}
