package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/hangawi/ai-schedule-api/internal/dto"
	"github.com/hangawi/ai-schedule-api/internal/models"
	"github.com/hangawi/ai-schedule-api/internal/repository"
	"github.com/hangawi/ai-schedule-api/pkg/config"
	appErrors "github.com/hangawi/ai-schedule-api/pkg/errors"
	"github.com/hangawi/ai-schedule-api/pkg/events"
)

type coordRoomReader interface {
	FindByID(ctx context.Context, id string) (*models.Room, error)
}

type coordMemberStore interface {
	ListByRoom(ctx context.Context, roomID string) ([]models.Member, error)
	UpdateCarryOverHours(ctx context.Context, roomID, userID string, hours float64) error
}

type coordPreferenceReader interface {
	GetPreferredBlocks(ctx context.Context, userID string) ([]models.PreferredBlock, error)
}

type coordSlotStore interface {
	ListByRoomRange(ctx context.Context, roomID string, start, end time.Time) ([]models.AssignedSlot, error)
	ReplaceRange(ctx context.Context, roomID string, start, end time.Time, slots []models.AssignedSlot, expectedVersion int) error
}

type coordCarryOverStore interface {
	ListOpenByRoom(ctx context.Context, roomID string) ([]models.CarryOverRecord, error)
	ListRecentByUser(ctx context.Context, roomID, userID string, limit int) ([]models.CarryOverRecord, error)
	CreateBatch(ctx context.Context, records []models.CarryOverRecord) error
	MarkResolved(ctx context.Context, ids []string) error
}

// CoordinationSettings tunes the assignment and negotiation engine.
type CoordinationSettings struct {
	WorkingHoursStart int
	WorkingHoursEnd   int
	SlotMinutes       int
	MaxChainDepth     int
	RetryAttempts     int
	InterventionRuns  int
	VicinityDays      int
	MinQuotaMinutes   int
	MaxQuotaMinutes   int
}

func (s CoordinationSettings) normalized() CoordinationSettings {
	if s.WorkingHoursStart <= 0 {
		s.WorkingHoursStart = 9
	}
	if s.WorkingHoursEnd <= s.WorkingHoursStart {
		s.WorkingHoursEnd = 18
	}
	if s.SlotMinutes <= 0 {
		s.SlotMinutes = 30
	}
	if s.MaxChainDepth <= 0 {
		s.MaxChainDepth = 5
	}
	if s.RetryAttempts <= 0 {
		s.RetryAttempts = 3
	}
	if s.InterventionRuns <= 0 {
		s.InterventionRuns = 2
	}
	if s.VicinityDays <= 0 {
		s.VicinityDays = 3
	}
	if s.MinQuotaMinutes <= 0 {
		s.MinQuotaMinutes = 10
	}
	if s.MaxQuotaMinutes <= 0 {
		s.MaxQuotaMinutes = 600
	}
	return s
}

// SettingsFromConfig maps the environment-driven config onto engine settings.
func SettingsFromConfig(cfg config.CoordinationConfig) CoordinationSettings {
	return CoordinationSettings{
		WorkingHoursStart: cfg.WorkingHoursStart,
		WorkingHoursEnd:   cfg.WorkingHoursEnd,
		SlotMinutes:       cfg.SlotMinutes,
		MaxChainDepth:     cfg.MaxChainDepth,
		RetryAttempts:     cfg.RetryAttempts,
		InterventionRuns:  cfg.InterventionRuns,
		VicinityDays:      cfg.RelocationVicinity,
		MinQuotaMinutes:   cfg.MinQuotaMinutes,
		MaxQuotaMinutes:   cfg.MaxQuotaMinutes,
	}.normalized()
}

func (s CoordinationSettings) timetableOptions() TimetableOptions {
	return TimetableOptions{StartHour: s.WorkingHoursStart, EndHour: s.WorkingHoursEnd, SlotMinutes: s.SlotMinutes}
}

// AutoAssignService partitions the owner's available time among room members
// in five ordered phases.
type AutoAssignService struct {
	rooms      coordRoomReader
	members    coordMemberStore
	prefs      coordPreferenceReader
	slots      coordSlotStore
	carryovers coordCarryOverStore
	cache      *CacheService
	activities activitySink
	notifier   eventNotifier
	validator  *validator.Validate
	logger     *zap.Logger
	settings   CoordinationSettings
}

// NewAutoAssignService wires the scheduling run dependencies.
func NewAutoAssignService(
	rooms coordRoomReader,
	members coordMemberStore,
	prefs coordPreferenceReader,
	slots coordSlotStore,
	carryovers coordCarryOverStore,
	cache *CacheService,
	activities activitySink,
	notifier eventNotifier,
	validate *validator.Validate,
	logger *zap.Logger,
	settings CoordinationSettings,
) *AutoAssignService {
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
	return &AutoAssignService{
		rooms:      rooms,
		members:    members,
		prefs:      prefs,
		slots:      slots,
		carryovers: carryovers,
		cache:      cache,
		activities: activities,
		notifier:   notifier,
		validator:  validate,
		logger:     logger,
		settings:   settings.normalized(),
	}
}

// Run executes one scheduling run for the room and persists the outcome.
func (s *AutoAssignService) Run(ctx context.Context, roomID, actorID string, req dto.AutoAssignRequest) (*dto.AutoAssignResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid auto-assign payload")
	}

	room, err := s.rooms.FindByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "room not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load room")
	}
	if actorID != room.OwnerID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the room owner may run auto-assignment")
	}

	quota := room.MinSlotsPerWeek
	if req.MinSlotsPerWeek > 0 {
		quota = req.MinSlotsPerWeek
	}
	quotaMinutes := quota * s.settings.SlotMinutes
	if quotaMinutes < s.settings.MinQuotaMinutes || quotaMinutes > s.settings.MaxQuotaMinutes {
		return nil, appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("weekly quota must be between %d and %d minutes", s.settings.MinQuotaMinutes, s.settings.MaxQuotaMinutes))
	}

	start, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "startDate must be yyyy-mm-dd")
	}
	weeks := req.Weeks
	if weeks <= 0 {
		weeks = 1
	}
	start = models.DateOnly(start)
	end := start.AddDate(0, 0, weeks*7-1)

	members, err := s.members.ListByRoom(ctx, roomID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load members")
	}

	blocksByUser := make(map[string][]models.PreferredBlock, len(members)+1)
	ownerBlocks, err := s.prefs.GetPreferredBlocks(ctx, room.OwnerID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load owner preferences")
	}
	if len(ownerBlocks) == 0 {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "owner has no preferred blocks; nothing to partition")
	}
	blocksByUser[room.OwnerID] = ownerBlocks

	participants := make([]models.Member, 0, len(members))
	for _, member := range members {
		if member.UserID == room.OwnerID {
			continue
		}
		blocks, err := s.prefs.GetPreferredBlocks(ctx, member.UserID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load member preferences")
		}
		blocksByUser[member.UserID] = blocks
		participants = append(participants, member)
	}
	if len(participants) == 0 {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "room has no members to schedule")
	}

	existing, err := s.slots.ListByRoomRange(ctx, roomID, start, end)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assigned slots")
	}

	openCarryOvers, err := s.carryovers.ListOpenByRoom(ctx, roomID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load carry-over ledger")
	}

	tt := BuildTimetable(blocksByUser, existing, start, end, s.settings.timetableOptions())

	state := newAssignmentState(tt, room, participants, quota*weeks, openCarryOvers, s.settings)
	state.runDeferredCarryOver()
	state.runUndisputed()
	state.runIterativeGreedy()
	state.runOwnerArbitration()
	newRecords := state.runCarryOverFinalize()

	produced := state.exportSlots(roomID)
	merged := append(append([]models.AssignedSlot{}, existing...), produced...)

	persist := func(ctx context.Context) error {
		current, err := s.rooms.FindByID(ctx, roomID)
		if err != nil {
			return err
		}
		return s.slots.ReplaceRange(ctx, roomID, start, end, merged, current.Version)
	}
	if err := repository.WithOptimisticRetry(ctx, s.settings.RetryAttempts, persist); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return nil, appErrors.Clone(appErrors.ErrVersionConflict, "room schedule changed concurrently; retries exhausted")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist assigned slots")
	}

	if err := s.settleCarryOvers(ctx, room, state, openCarryOvers, newRecords); err != nil {
		return nil, err
	}
	if err := s.cache.Invalidate(ctx, RoomCachePattern(roomID)); err != nil {
		s.logger.Sugar().Warnw("cache invalidation failed", "room_id", roomID, "error", err)
	}

	resp := state.buildResponse(roomID, start, end, produced, newRecords)

	s.activities.Log(ctx, &models.Activity{
		RoomID:  roomID,
		ActorID: actorID,
		Action:  "auto_assign_run",
		Details: activityDetails(map[string]any{
			"startDate":  req.StartDate,
			"weeks":      weeks,
			"slots":      len(produced),
			"carryOvers": len(newRecords),
			"unresolved": len(resp.Unresolved),
		}),
	})
	s.notifier.Publish(ctx, events.Event{RoomID: roomID, Kind: "slots_assigned", Payload: resp})

	s.logger.Sugar().Infow("auto-assign run complete",
		"room_id", roomID, "slots", len(produced), "carry_overs", len(newRecords), "unresolved", len(resp.Unresolved))
	return resp, nil
}

// settleCarryOvers resolves owed records that were satisfied this run,
// persists the fresh deficit records and mirrors the debt on the member rows.
func (s *AutoAssignService) settleCarryOvers(ctx context.Context, room *models.Room, state *assignmentState, open []models.CarryOverRecord, created []models.CarryOverRecord) error {
	var resolved []string
	for _, record := range open {
		if state.owedSatisfied(record.UserID) {
			resolved = append(resolved, record.ID)
		}
	}
	if len(resolved) > 0 {
		if err := s.carryovers.MarkResolved(ctx, resolved); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve carry-over records")
		}
	}

	for i := range created {
		recent, err := s.carryovers.ListRecentByUser(ctx, room.ID, created[i].UserID, s.settings.InterventionRuns)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check carry-over history")
		}
		if len(recent) >= s.settings.InterventionRuns {
			created[i].Intervention = true
		}
	}
	if len(created) > 0 {
		if err := s.carryovers.CreateBatch(ctx, created); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record carry-overs")
		}
	}

	deficits := make(map[string]float64, len(created))
	for _, record := range created {
		deficits[record.UserID] += record.NeededHours
	}
	for _, member := range state.participants() {
		if err := s.members.UpdateCarryOverHours(ctx, room.ID, member, deficits[member]); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update member carry-over")
		}
	}
	return nil
}

// --- Assignment state & phases ---

type memberProgress struct {
	userID     string
	priority   int
	assigned   int
	owedCells  int
	owedFilled int
	startSum   int
	startCount int
}

func (p *memberProgress) recordStart(minute int) {
	p.startSum += minute
	p.startCount++
}

func (p *memberProgress) averageStart() (int, bool) {
	if p.startCount == 0 {
		return 0, false
	}
	return p.startSum / p.startCount, true
}

type assignmentState struct {
	tt            *Timetable
	room          *models.Room
	quota         int
	settings      CoordinationSettings
	progress      map[string]*memberProgress
	order         []string
	newlyAssigned map[*CandidateCell]bool
}

func newAssignmentState(tt *Timetable, room *models.Room, members []models.Member, quota int, open []models.CarryOverRecord, settings CoordinationSettings) *assignmentState {
	owed := make(map[string]int)
	for _, record := range open {
		owed[record.UserID] += int(record.NeededHours * 60 / float64(settings.SlotMinutes))
	}
	state := &assignmentState{
		tt:            tt,
		room:          room,
		quota:         quota,
		settings:      settings,
		progress:      make(map[string]*memberProgress, len(members)),
		newlyAssigned: make(map[*CandidateCell]bool),
	}
	for _, member := range members {
		state.progress[member.UserID] = &memberProgress{
			userID:    member.UserID,
			priority:  member.Priority,
			owedCells: owed[member.UserID],
		}
		state.order = append(state.order, member.UserID)
	}
	sort.Strings(state.order)
	return state
}

func (st *assignmentState) participants() []string {
	return st.order
}

func (st *assignmentState) owedSatisfied(userID string) bool {
	p, ok := st.progress[userID]
	if !ok {
		return false
	}
	return p.owedCells > 0 && p.owedFilled >= p.owedCells
}

// ownerAvailable reports whether the owner declared this cell. Because the
// owner's windows bound every assignment, members are only matched on cells
// inside them; the owner entry itself marks arbitrable cells.
func (st *assignmentState) ownerAvailable(cell *CandidateCell) bool {
	_, ok := cell.AvailableFor(st.room.OwnerID)
	return ok
}

// contenders lists non-owner availability entries for an unassigned cell.
func (st *assignmentState) contenders(cell *CandidateCell) []MemberAvail {
	var result []MemberAvail
	for _, avail := range cell.Available {
		if avail.UserID == st.room.OwnerID {
			continue
		}
		if _, tracked := st.progress[avail.UserID]; !tracked {
			continue
		}
		result = append(result, avail)
	}
	return result
}

// eligible reports whether a member may take a cell: unassigned, declared by
// the member, and inside the owner's declared windows.
func (st *assignmentState) eligible(cell *CandidateCell, userID string) bool {
	if cell.AssignedTo != "" {
		return false
	}
	if !st.ownerAvailable(cell) {
		return false
	}
	_, ok := cell.AvailableFor(userID)
	return ok
}

func (st *assignmentState) assign(cell *CandidateCell, userID string) {
	cell.AssignedTo = userID
	st.newlyAssigned[cell] = true
	if p, ok := st.progress[userID]; ok {
		p.assigned++
		p.recordStart(models.MinuteOfDay(cell.StartTime))
	}
}

// Phase 1: members owed hours from previous runs are served first, from their
// least-contended cells, up to what they are owed.
func (st *assignmentState) runDeferredCarryOver() {
	owed := make([]*memberProgress, 0)
	for _, userID := range st.order {
		if st.progress[userID].owedCells > 0 {
			owed = append(owed, st.progress[userID])
		}
	}
	sort.Slice(owed, func(i, j int) bool {
		if owed[i].owedCells == owed[j].owedCells {
			return owed[i].userID < owed[j].userID
		}
		return owed[i].owedCells > owed[j].owedCells
	})

	for _, p := range owed {
		for p.owedFilled < p.owedCells {
			cell := st.leastContendedCell(p.userID)
			if cell == nil {
				break
			}
			st.assign(cell, p.userID)
			p.owedFilled++
		}
	}
}

func (st *assignmentState) leastContendedCell(userID string) *CandidateCell {
	var best *CandidateCell
	bestContention := 0
	for _, key := range st.tt.SortedKeys() {
		cell := st.tt.Cells[key]
		if !st.eligible(cell, userID) {
			continue
		}
		contention := len(st.contenders(cell))
		if best == nil || contention < bestContention {
			best = cell
			bestContention = contention
		}
	}
	return best
}

// Phase 2: cells wanted by exactly one member are theirs outright.
func (st *assignmentState) runUndisputed() {
	for _, key := range st.tt.SortedKeys() {
		cell := st.tt.Cells[key]
		if cell.AssignedTo != "" || !st.ownerAvailable(cell) {
			continue
		}
		contenders := st.contenders(cell)
		if len(contenders) != 1 {
			continue
		}
		p := st.progress[contenders[0].UserID]
		if p.assigned >= st.quota {
			continue
		}
		st.assign(cell, contenders[0].UserID)
	}
}

// greedyBasePriority is the priority the iterative phase itself runs at; a
// member's declared block priority scores relative to it.
const greedyBasePriority = 1

// Phase 3: repeatedly give the member furthest below quota their best-scoring
// cell until nobody below quota can take anything.
func (st *assignmentState) runIterativeGreedy() {
	exhausted := make(map[string]bool)
	for {
		var next *memberProgress
		for _, userID := range st.order {
			p := st.progress[userID]
			if exhausted[userID] || p.assigned >= st.quota {
				continue
			}
			if next == nil || st.quota-p.assigned > st.quota-next.assigned {
				next = p
			}
		}
		if next == nil {
			return
		}
		cell := st.bestCellFor(next)
		if cell == nil {
			exhausted[next.userID] = true
			continue
		}
		st.assign(cell, next.userID)
	}
}

// scoreCell implements the greedy heuristic: prefer uncontended cells, honor
// declared priority, reward contiguity with the member's previous cell, and
// pull assignments toward the member's running-average start time.
func (st *assignmentState) scoreCell(cell *CandidateCell, p *memberProgress) int {
	avail, _ := cell.AvailableFor(p.userID)
	score := 1000
	score -= 10 * len(st.contenders(cell))
	score += 50 * (avail.Priority - greedyBasePriority)
	if prev := st.tt.previousCell(cell); prev != nil && prev.AssignedTo == p.userID {
		score += 200
	}
	if avg, ok := p.averageStart(); ok {
		distanceHours := abs(models.MinuteOfDay(cell.StartTime)-avg) / 60
		bonus := 100 - 20*distanceHours
		if bonus > 0 {
			score += bonus
		}
	}
	return score
}

func (st *assignmentState) bestCellFor(p *memberProgress) *CandidateCell {
	var best *CandidateCell
	bestScore := 0
	for _, key := range st.tt.SortedKeys() {
		cell := st.tt.Cells[key]
		if !st.eligible(cell, p.userID) {
			continue
		}
		score := st.scoreCell(cell, p)
		if best == nil || score > bestScore {
			best = cell
			bestScore = score
		}
	}
	return best
}

// Phase 4: contested cells the owner also wants go to the owner instead of
// staying unresolved, preferred time band first.
func (st *assignmentState) runOwnerArbitration() {
	keys := st.tt.SortedKeys()
	sort.SliceStable(keys, func(i, j int) bool {
		bi := st.bandRank(st.tt.Cells[keys[i]])
		bj := st.bandRank(st.tt.Cells[keys[j]])
		if bi == bj {
			return keys[i] < keys[j]
		}
		return bi < bj
	})
	for _, key := range keys {
		cell := st.tt.Cells[key]
		if cell.AssignedTo != "" || !st.ownerAvailable(cell) {
			continue
		}
		if len(st.contenders(cell)) > 1 {
			st.assign(cell, st.room.OwnerID)
		}
	}
}

func (st *assignmentState) bandRank(cell *CandidateCell) int {
	minute := models.MinuteOfDay(cell.StartTime)
	var band models.OwnerTimePreference
	switch {
	case minute < 12*60:
		band = models.OwnerPrefersMorning
	case minute < 14*60:
		band = models.OwnerPrefersLunch
	case minute < 17*60:
		band = models.OwnerPrefersAfternoon
	default:
		band = models.OwnerPrefersEvening
	}
	if st.room.OwnerTimePreference != "" && band == st.room.OwnerTimePreference {
		return 0
	}
	return 1
}

// Phase 5: best-effort fill for members still short, then convert what is
// still missing into carry-over records for the next run.
func (st *assignmentState) runCarryOverFinalize() []models.CarryOverRecord {
	for _, userID := range st.order {
		p := st.progress[userID]
		for p.assigned < st.quota {
			cell := st.firstEligibleCell(userID)
			if cell == nil {
				break
			}
			st.assign(cell, userID)
		}
	}

	runDate := models.DateOnly(time.Now().UTC())
	var records []models.CarryOverRecord
	for _, userID := range st.order {
		p := st.progress[userID]
		if p.assigned >= st.quota {
			continue
		}
		missing := st.quota - p.assigned
		records = append(records, models.CarryOverRecord{
			RoomID:      st.room.ID,
			UserID:      userID,
			RunDate:     runDate,
			NeededHours: float64(missing*st.settings.SlotMinutes) / 60,
		})
	}
	return records
}

func (st *assignmentState) firstEligibleCell(userID string) *CandidateCell {
	for _, key := range st.tt.SortedKeys() {
		cell := st.tt.Cells[key]
		if st.eligible(cell, userID) {
			return cell
		}
	}
	return nil
}

// exportSlots merges the cells awarded this run into contiguous AssignedSlot
// blocks per member and day. Pre-existing assignments are untouched.
func (st *assignmentState) exportSlots(roomID string) []models.AssignedSlot {
	type cellRef struct {
		cell *CandidateCell
		min  int
	}
	byOwnerDate := make(map[string][]cellRef)
	for _, key := range st.tt.SortedKeys() {
		cell := st.tt.Cells[key]
		if cell.AssignedTo == "" || !st.newlyAssigned[cell] {
			continue
		}
		groupKey := cell.AssignedTo + "|" + models.DateKey(cell.Date)
		byOwnerDate[groupKey] = append(byOwnerDate[groupKey], cellRef{cell: cell, min: models.MinuteOfDay(cell.StartTime)})
	}

	groupKeys := make([]string, 0, len(byOwnerDate))
	for key := range byOwnerDate {
		groupKeys = append(groupKeys, key)
	}
	sort.Strings(groupKeys)

	var slots []models.AssignedSlot
	for _, groupKey := range groupKeys {
		refs := byOwnerDate[groupKey]
		sort.Slice(refs, func(i, j int) bool { return refs[i].min < refs[j].min })
		runStart := refs[0].min
		runEnd := runStart + st.settings.SlotMinutes
		flush := func() {
			first := refs[0].cell
			slots = append(slots, models.AssignedSlot{
				RoomID:    roomID,
				UserID:    first.AssignedTo,
				Date:      first.Date,
				Day:       first.Date.Weekday().String(),
				StartTime: models.ClockOf(runStart),
				EndTime:   models.ClockOf(runEnd),
				Subject:   "coordination",
				Status:    models.SlotStatusConfirmed,
			})
		}
		for _, ref := range refs[1:] {
			if ref.min == runEnd {
				runEnd += st.settings.SlotMinutes
				continue
			}
			flush()
			runStart = ref.min
			runEnd = runStart + st.settings.SlotMinutes
		}
		flush()
	}
	return slots
}

func (st *assignmentState) buildResponse(roomID string, start, end time.Time, produced []models.AssignedSlot, records []models.CarryOverRecord) *dto.AutoAssignResponse {
	byMember := make(map[string][]models.AssignedSlot)
	for _, slot := range produced {
		byMember[slot.UserID] = append(byMember[slot.UserID], slot)
	}

	var unresolved []dto.UnresolvedCell
	for _, key := range st.tt.SortedKeys() {
		cell := st.tt.Cells[key]
		if cell.AssignedTo != "" {
			continue
		}
		contenders := st.contenders(cell)
		if len(contenders) < 2 || st.ownerAvailable(cell) {
			continue
		}
		ids := make([]string, 0, len(contenders))
		for _, avail := range contenders {
			ids = append(ids, avail.UserID)
		}
		unresolved = append(unresolved, dto.UnresolvedCell{
			Date:       models.DateKey(cell.Date),
			StartTime:  cell.StartTime,
			Contenders: ids,
		})
	}

	summaries := make([]dto.MemberAssignmentSummary, 0, len(st.order))
	for _, userID := range st.order {
		p := st.progress[userID]
		summaries = append(summaries, dto.MemberAssignmentSummary{
			UserID:        userID,
			SlotCount:     p.assigned,
			AssignedHours: float64(p.assigned*st.settings.SlotMinutes) / 60,
			QuotaMet:      p.assigned >= st.quota,
		})
	}

	return &dto.AutoAssignResponse{
		RoomID:        roomID,
		StartDate:     models.DateKey(start),
		EndDate:       models.DateKey(end),
		SlotsByMember: byMember,
		CarryOvers:    records,
		Unresolved:    unresolved,
		Summaries:     summaries,
	}
}

func abs(value int) int {
	if value < 0 {
		return -value
	}
	return value
}
