package service

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hangawi/ai-schedule-api/internal/dto"
	"github.com/hangawi/ai-schedule-api/internal/models"
	appErrors "github.com/hangawi/ai-schedule-api/pkg/errors"
	"github.com/hangawi/ai-schedule-api/pkg/storage"
)

func newScheduleFixture() (*ScheduleService, *memStore) {
	store := newMemStore(testRoom("owner-1"))
	store.addMember("alice", 3)
	store.addBlock("owner-1", 1, "09:00", "12:00", 5)
	store.addBlock("alice", 1, "09:00", "10:00", 3)
	svc := NewScheduleService(store, store, store, store, carryStore{store}, nil, nil, nil, nil, nil, testSettings())
	return svc, store
}

func TestTimetableReturnsGridWithAvailability(t *testing.T) {
	svc, store := newScheduleFixture()
	store.addSlot("alice", mustDate(testMonday), "09:00", "09:30")

	cells, cacheHit, err := svc.Timetable(context.Background(), "room-1", dto.TimetableQuery{
		StartDate: testMonday,
		EndDate:   testMonday,
	})
	require.NoError(t, err)
	assert.False(t, cacheHit)
	require.Len(t, cells, 18)

	first := cells[0]
	assert.Equal(t, testMonday, first.Date)
	assert.Equal(t, "09:00", first.StartTime)
	assert.Equal(t, 1, first.DayOfWeek)
	assert.Equal(t, "alice", first.AssignedTo)
	assert.Equal(t, []string{"alice", "owner-1"}, first.Available)

	second := cells[1]
	assert.Empty(t, second.AssignedTo)
	assert.Equal(t, []string{"alice", "owner-1"}, second.Available)

	// Past the owner's noon boundary nobody is available.
	last := cells[len(cells)-1]
	assert.Equal(t, "17:30", last.StartTime)
	assert.Empty(t, last.Available)
}

func TestTimetableRejectsInvertedRange(t *testing.T) {
	svc, _ := newScheduleFixture()

	_, _, err := svc.Timetable(context.Background(), "room-1", dto.TimetableQuery{
		StartDate: testTuesday,
		EndDate:   testMonday,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestTimetableRejectsOversizedRange(t *testing.T) {
	svc, _ := newScheduleFixture()

	_, _, err := svc.Timetable(context.Background(), "room-1", dto.TimetableQuery{
		StartDate: testMonday,
		EndDate:   "2026-12-01",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestCarryOversRequiresKnownRoom(t *testing.T) {
	svc, _ := newScheduleFixture()

	_, err := svc.CarryOvers(context.Background(), "missing-room")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestCarryOversReturnsLedger(t *testing.T) {
	svc, store := newScheduleFixture()
	store.carryOvers = append(store.carryOvers, models.CarryOverRecord{
		ID: "c1", RoomID: "room-1", UserID: "alice",
		RunDate: mustDate(testMonday), NeededHours: 0.5,
	})

	records, err := svc.CarryOvers(context.Background(), "room-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "alice", records[0].UserID)
}

func TestExportCSVRendersSlots(t *testing.T) {
	svc, store := newScheduleFixture()
	store.addSlot("alice", mustDate(testMonday), "09:00", "09:30")

	result, err := svc.Export(context.Background(), "room-1", "csv", testMonday, testMonday)
	require.NoError(t, err)
	assert.Equal(t, "text/csv", result.ContentType)
	assert.Equal(t, "schedule-2026-09-07-2026-09-07.csv", result.Filename)
	assert.Contains(t, string(result.Data), "alice")
	assert.Contains(t, string(result.Data), "09:00")
}

func TestExportArchivesCopyWithDownloadToken(t *testing.T) {
	store := newMemStore(testRoom("owner-1"))
	store.addMember("alice", 3)
	store.addSlot("alice", mustDate(testMonday), "09:00", "09:30")
	archive, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("test-secret", time.Hour)
	svc := NewScheduleService(store, store, store, store, carryStore{store}, nil, archive, signer, nil, nil, testSettings())

	result, err := svc.Export(context.Background(), "room-1", "csv", testMonday, testMonday)
	require.NoError(t, err)
	require.NotEmpty(t, result.DownloadToken)

	file, name, err := svc.OpenArchived(result.DownloadToken)
	require.NoError(t, err)
	defer file.Close()
	assert.Equal(t, result.Filename, name)
	stored, err := io.ReadAll(file)
	require.NoError(t, err)
	assert.Equal(t, result.Data, stored)
}

func TestOpenArchivedRejectsBadToken(t *testing.T) {
	archive, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("test-secret", time.Hour)
	store := newMemStore(testRoom("owner-1"))
	svc := NewScheduleService(store, store, store, store, carryStore{store}, nil, archive, signer, nil, nil, testSettings())

	_, _, err = svc.OpenArchived("not-a-token")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestExportPDFProducesDocument(t *testing.T) {
	svc, store := newScheduleFixture()
	store.addSlot("alice", mustDate(testMonday), "09:00", "09:30")

	result, err := svc.Export(context.Background(), "room-1", "pdf", testMonday, testMonday)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", result.ContentType)
	assert.True(t, bytes.HasPrefix(result.Data, []byte("%PDF")))
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	svc, _ := newScheduleFixture()

	_, err := svc.Export(context.Background(), "room-1", "xlsx", testMonday, testMonday)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
