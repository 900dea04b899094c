package service

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx/types"

	"github.com/hangawi/ai-schedule-api/internal/models"
	"github.com/hangawi/ai-schedule-api/internal/repository"
)

// memStore is an in-memory double for the persistence surface the
// coordination services consume. One instance backs every interface so a
// test observes a single consistent calendar.
type memStore struct {
	room       *models.Room
	members    []models.Member
	blocks     map[string][]models.PreferredBlock
	slots      []models.AssignedSlot
	requests   map[string]*models.Request
	carryOvers []models.CarryOverRecord
	carryHours map[string]float64
	nextID     int

	replaceCalls  int
	conflictsLeft int
}

func newMemStore(room *models.Room) *memStore {
	return &memStore{
		room:       room,
		blocks:     make(map[string][]models.PreferredBlock),
		requests:   make(map[string]*models.Request),
		carryHours: make(map[string]float64),
	}
}

func (m *memStore) id(prefix string) string {
	m.nextID++
	return fmt.Sprintf("%s-%d", prefix, m.nextID)
}

func (m *memStore) addMember(userID string, priority int) {
	m.members = append(m.members, models.Member{
		ID:       m.id("member"),
		RoomID:   m.room.ID,
		UserID:   userID,
		Priority: priority,
	})
}

func (m *memStore) addBlock(userID string, dayOfWeek int, start, end string, priority int) {
	m.blocks[userID] = append(m.blocks[userID], models.PreferredBlock{
		ID:        m.id("block"),
		UserID:    userID,
		DayOfWeek: dayOfWeek,
		StartTime: start,
		EndTime:   end,
		Priority:  priority,
	})
}

func (m *memStore) addSlot(userID string, date time.Time, start, end string) string {
	slot := models.AssignedSlot{
		ID:        m.id("slot"),
		RoomID:    m.room.ID,
		UserID:    userID,
		Date:      models.DateOnly(date),
		Day:       date.Weekday().String(),
		StartTime: start,
		EndTime:   end,
		Subject:   "coordination",
		Status:    models.SlotStatusConfirmed,
	}
	m.slots = append(m.slots, slot)
	return slot.ID
}

func (m *memStore) slotByID(id string) *models.AssignedSlot {
	for i := range m.slots {
		if m.slots[i].ID == id {
			return &m.slots[i]
		}
	}
	return nil
}

func (m *memStore) slotsFor(userID string) []models.AssignedSlot {
	var result []models.AssignedSlot
	for _, slot := range m.slots {
		if slot.UserID == userID {
			result = append(result, slot)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Date.Equal(result[j].Date) {
			return result[i].Date.Before(result[j].Date)
		}
		return result[i].StartTime < result[j].StartTime
	})
	return result
}

// --- room / member / preference stores ---

func (m *memStore) FindByID(ctx context.Context, id string) (*models.Room, error) {
	if m.room == nil || m.room.ID != id {
		return nil, sql.ErrNoRows
	}
	cp := *m.room
	return &cp, nil
}

func (m *memStore) ListByRoom(ctx context.Context, roomID string) ([]models.Member, error) {
	return append([]models.Member{}, m.members...), nil
}

func (m *memStore) UpdateCarryOverHours(ctx context.Context, roomID, userID string, hours float64) error {
	m.carryHours[userID] = hours
	return nil
}

func (m *memStore) GetPreferredBlocks(ctx context.Context, userID string) ([]models.PreferredBlock, error) {
	return append([]models.PreferredBlock{}, m.blocks[userID]...), nil
}

func (m *memStore) AddBlock(ctx context.Context, block *models.PreferredBlock) error {
	if block.ID == "" {
		block.ID = m.id("block")
	}
	m.blocks[block.UserID] = append(m.blocks[block.UserID], *block)
	return nil
}

// --- slot store ---

func (m *memStore) ListByRoomRange(ctx context.Context, roomID string, start, end time.Time) ([]models.AssignedSlot, error) {
	var result []models.AssignedSlot
	for _, slot := range m.slots {
		if !slot.Date.Before(start) && !slot.Date.After(end) {
			result = append(result, slot)
		}
	}
	return result, nil
}

func (m *memStore) ListByUser(ctx context.Context, roomID, userID string) ([]models.AssignedSlot, error) {
	return m.slotsFor(userID), nil
}

func (m *memStore) ListOverlapping(ctx context.Context, roomID string, date time.Time, startTime, endTime string) ([]models.AssignedSlot, error) {
	start := models.MinuteOfDay(startTime)
	end := models.MinuteOfDay(endTime)
	var result []models.AssignedSlot
	for _, slot := range m.slots {
		if slot.OverlapsRange(date, start, end) {
			result = append(result, slot)
		}
	}
	return result, nil
}

func (m *memStore) checkVersion(expected int) error {
	if m.conflictsLeft > 0 {
		m.conflictsLeft--
		m.room.Version++
		return repository.ErrVersionConflict
	}
	if expected != m.room.Version {
		return repository.ErrVersionConflict
	}
	m.room.Version++
	return nil
}

func (m *memStore) ReplaceRange(ctx context.Context, roomID string, start, end time.Time, slots []models.AssignedSlot, expectedVersion int) error {
	if err := m.checkVersion(expectedVersion); err != nil {
		return err
	}
	m.replaceCalls++
	var kept []models.AssignedSlot
	for _, slot := range m.slots {
		if slot.Date.Before(start) || slot.Date.After(end) {
			kept = append(kept, slot)
		}
	}
	for _, slot := range slots {
		if slot.ID == "" {
			slot.ID = m.id("slot")
		}
		kept = append(kept, slot)
	}
	m.slots = kept
	return nil
}

func (m *memStore) ApplyMoves(ctx context.Context, roomID string, expectedVersion int, removeIDs []string, add []models.AssignedSlot) error {
	if err := m.checkVersion(expectedVersion); err != nil {
		return err
	}
	remove := make(map[string]bool, len(removeIDs))
	for _, id := range removeIDs {
		remove[id] = true
	}
	var kept []models.AssignedSlot
	for _, slot := range m.slots {
		if !remove[slot.ID] {
			kept = append(kept, slot)
		}
	}
	for _, slot := range add {
		if slot.ID == "" {
			slot.ID = m.id("slot")
		}
		kept = append(kept, slot)
	}
	m.slots = kept
	return nil
}

// --- request store ---

func (m *memStore) Create(ctx context.Context, request *models.Request) error {
	if request.ID == "" {
		request.ID = m.id("req")
	}
	if request.Status == "" {
		request.Status = models.RequestStatusPending
	}
	if request.CreatedAt.IsZero() {
		request.CreatedAt = time.Now().UTC()
	}
	cp := *request
	m.requests[request.ID] = &cp
	return nil
}

func (m *memStore) FindRequest(ctx context.Context, id string) (*models.Request, error) {
	request, ok := m.requests[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *request
	return &cp, nil
}

func (m *memStore) ListRequests(ctx context.Context, roomID string, status models.RequestStatus, limit, offset int) ([]models.Request, error) {
	var result []models.Request
	for _, request := range m.requests {
		if status != "" && request.Status != status {
			continue
		}
		result = append(result, *request)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *memStore) HasDuplicate(ctx context.Context, roomID, requesterID string, kind models.RequestKind, targetUserID *string, timeSlot types.JSONText) (bool, error) {
	for _, request := range m.requests {
		if request.RequesterID != requesterID || request.Kind != kind || request.Status.Terminal() {
			continue
		}
		if !bytes.Equal(request.TimeSlot, timeSlot) {
			continue
		}
		if (targetUserID == nil) != (request.TargetUserID == nil) {
			continue
		}
		if targetUserID != nil && *targetUserID != *request.TargetUserID {
			continue
		}
		return true, nil
	}
	return false, nil
}

func (m *memStore) UpdateStatus(ctx context.Context, params repository.UpdateStatusParams) error {
	request, ok := m.requests[params.ID]
	if !ok || request.Status.Terminal() {
		return sql.ErrNoRows
	}
	request.Status = params.Status
	if params.Reason != "" {
		request.Reason = params.Reason
	}
	if params.ChainData != nil {
		request.ChainData = params.ChainData
	}
	if params.RespondedAt != nil {
		request.RespondedAt = params.RespondedAt
	}
	return nil
}

func (m *memStore) ListChainChildren(ctx context.Context, originalRequestID string) ([]models.Request, error) {
	var result []models.Request
	for _, request := range m.requests {
		if request.Kind != models.RequestKindChainRequest || request.Status.Terminal() {
			continue
		}
		link, err := request.DecodeChain()
		if err != nil || link == nil {
			continue
		}
		if link.OriginalRequestID == originalRequestID {
			result = append(result, *request)
		}
	}
	return result, nil
}

// --- carry-over store ---

func (m *memStore) ListOpenByRoom(ctx context.Context, roomID string) ([]models.CarryOverRecord, error) {
	var result []models.CarryOverRecord
	for _, record := range m.carryOvers {
		if !record.Resolved {
			result = append(result, record)
		}
	}
	return result, nil
}

func (m *memStore) ListRecentByUser(ctx context.Context, roomID, userID string, limit int) ([]models.CarryOverRecord, error) {
	var result []models.CarryOverRecord
	for i := len(m.carryOvers) - 1; i >= 0 && len(result) < limit; i-- {
		if m.carryOvers[i].UserID == userID {
			result = append(result, m.carryOvers[i])
		}
	}
	return result, nil
}

func (m *memStore) ListCarryOvers(ctx context.Context, roomID string) ([]models.CarryOverRecord, error) {
	return append([]models.CarryOverRecord{}, m.carryOvers...), nil
}

func (m *memStore) CreateBatch(ctx context.Context, records []models.CarryOverRecord) error {
	for _, record := range records {
		if record.ID == "" {
			record.ID = m.id("carry")
		}
		m.carryOvers = append(m.carryOvers, record)
	}
	return nil
}

func (m *memStore) MarkResolved(ctx context.Context, ids []string) error {
	resolved := make(map[string]bool, len(ids))
	for _, id := range ids {
		resolved[id] = true
	}
	for i := range m.carryOvers {
		if resolved[m.carryOvers[i].ID] {
			m.carryOvers[i].Resolved = true
		}
	}
	return nil
}

// requestStore adapts memStore to the request-store interfaces; the method
// names FindByID and ListByRoom are already taken by the room and member
// views of the same store.
type requestStore struct{ *memStore }

func (s requestStore) FindByID(ctx context.Context, id string) (*models.Request, error) {
	return s.memStore.FindRequest(ctx, id)
}

func (s requestStore) ListByRoom(ctx context.Context, roomID string, status models.RequestStatus, limit, offset int) ([]models.Request, error) {
	return s.memStore.ListRequests(ctx, roomID, status, limit, offset)
}

// carryStore adapts memStore to the carry-over reader interface.
type carryStore struct{ *memStore }

func (s carryStore) ListByRoom(ctx context.Context, roomID string) ([]models.CarryOverRecord, error) {
	return s.memStore.ListCarryOvers(ctx, roomID)
}

func testRoom(owner string) *models.Room {
	return &models.Room{
		ID:              "room-1",
		OwnerID:         owner,
		Name:            "study room",
		MinSlotsPerWeek: 2,
		Version:         1,
	}
}

func mustDate(value string) time.Time {
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		panic(err)
	}
	return t
}

func testSettings() CoordinationSettings {
	return CoordinationSettings{}.normalized()
}
