package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/hangawi/ai-schedule-api/internal/dto"
	"github.com/hangawi/ai-schedule-api/internal/models"
	appErrors "github.com/hangawi/ai-schedule-api/pkg/errors"
	"github.com/hangawi/ai-schedule-api/pkg/export"
	"github.com/hangawi/ai-schedule-api/pkg/storage"
)

type scheduleCarryOverReader interface {
	ListByRoom(ctx context.Context, roomID string) ([]models.CarryOverRecord, error)
}

// ScheduleService serves read views over a room's calendar: the candidate
// grid, carry-over ledger, and tabular exports.
type ScheduleService struct {
	rooms      exchangeRoomReader
	members    exchangeMemberReader
	prefs      exchangePreferenceStore
	slots      coordSlotStore
	carryOvers scheduleCarryOverReader
	cache      *CacheService
	archive    *storage.LocalStorage
	signer     *storage.SignedURLSigner
	validator  *validator.Validate
	logger     *zap.Logger
	settings   CoordinationSettings
}

// NewScheduleService wires the read-side dependencies.
func NewScheduleService(
	rooms exchangeRoomReader,
	members exchangeMemberReader,
	prefs exchangePreferenceStore,
	slots coordSlotStore,
	carryOvers scheduleCarryOverReader,
	cache *CacheService,
	archive *storage.LocalStorage,
	signer *storage.SignedURLSigner,
	validate *validator.Validate,
	logger *zap.Logger,
	settings CoordinationSettings,
) *ScheduleService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScheduleService{
		rooms:      rooms,
		members:    members,
		prefs:      prefs,
		slots:      slots,
		carryOvers: carryOvers,
		cache:      cache,
		archive:    archive,
		signer:     signer,
		validator:  validate,
		logger:     logger,
		settings:   settings.normalized(),
	}
}

// Timetable builds the candidate grid for a date range, including current
// assignments and per-cell availability. The second return reports whether
// the grid was served from cache.
func (s *ScheduleService) Timetable(ctx context.Context, roomID string, query dto.TimetableQuery) ([]dto.TimetableCell, bool, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid timetable range")
	}
	start, end, err := parseDateRange(query.StartDate, query.EndDate)
	if err != nil {
		return nil, false, err
	}

	cacheKey := TimetableCacheKey(roomID, query.StartDate, query.EndDate)
	var cached []dto.TimetableCell
	if hit, err := s.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
		return cached, true, nil
	}

	room, err := s.loadRoom(ctx, roomID)
	if err != nil {
		return nil, false, err
	}
	members, err := s.members.ListByRoom(ctx, roomID)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load members")
	}
	blocks, err := s.collectBlocks(ctx, room, members)
	if err != nil {
		return nil, false, err
	}
	slots, err := s.slots.ListByRoomRange(ctx, roomID, start, end)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load slots")
	}

	tt := BuildTimetable(blocks, slots, start, end, s.settings.timetableOptions())
	cells := make([]dto.TimetableCell, 0, len(tt.Cells))
	for _, key := range tt.SortedKeys() {
		cell := tt.Cells[key]
		available := make([]string, 0, len(cell.Available))
		for _, member := range cell.Available {
			available = append(available, member.UserID)
		}
		sort.Strings(available)
		cells = append(cells, dto.TimetableCell{
			Date:       models.DateKey(cell.Date),
			StartTime:  cell.StartTime,
			DayOfWeek:  cell.DayOfWeek,
			AssignedTo: cell.AssignedTo,
			Available:  available,
		})
	}
	if err := s.cache.Set(ctx, cacheKey, cells, 0); err != nil {
		s.logger.Sugar().Warnw("timetable cache write failed", "room_id", roomID, "error", err)
	}
	return cells, false, nil
}

// Slots lists the room's assigned slots inside a date range.
func (s *ScheduleService) Slots(ctx context.Context, roomID string, query dto.TimetableQuery) ([]models.AssignedSlot, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid slot range")
	}
	start, end, err := parseDateRange(query.StartDate, query.EndDate)
	if err != nil {
		return nil, err
	}
	if _, err := s.loadRoom(ctx, roomID); err != nil {
		return nil, err
	}
	slots, err := s.slots.ListByRoomRange(ctx, roomID, start, end)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load slots")
	}
	return slots, nil
}

// CarryOvers returns the room's carry-over ledger.
func (s *ScheduleService) CarryOvers(ctx context.Context, roomID string) ([]models.CarryOverRecord, error) {
	if _, err := s.loadRoom(ctx, roomID); err != nil {
		return nil, err
	}
	records, err := s.carryOvers.ListByRoom(ctx, roomID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load carry-over records")
	}
	return records, nil
}

// ExportResult carries rendered bytes plus transport metadata. DownloadToken
// is set when the file was also archived and can be fetched again later.
type ExportResult struct {
	ContentType   string
	Filename      string
	Data          []byte
	DownloadToken string
}

// Export renders the room's assigned slots for a range as CSV or PDF.
func (s *ScheduleService) Export(ctx context.Context, roomID, format, startDate, endDate string) (*ExportResult, error) {
	start, end, err := parseDateRange(startDate, endDate)
	if err != nil {
		return nil, err
	}
	room, err := s.loadRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	slots, err := s.slots.ListByRoomRange(ctx, roomID, start, end)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load slots")
	}

	dataset := export.Dataset{
		Columns: []string{"Date", "Day", "Start", "End", "Member", "Subject"},
	}
	for _, slot := range slots {
		dataset.Rows = append(dataset.Rows, []string{
			models.DateKey(slot.Date),
			slot.Day,
			slot.StartTime,
			slot.EndTime,
			slot.UserID,
			slot.Subject,
		})
	}

	base := fmt.Sprintf("schedule-%s-%s", models.DateKey(start), models.DateKey(end))
	var result *ExportResult
	switch format {
	case "csv", "":
		data, err := export.CSV(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		result = &ExportResult{ContentType: "text/csv", Filename: base + ".csv", Data: data}
	case "pdf":
		data, err := export.PDF(dataset, room.Name+" schedule")
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		result = &ExportResult{ContentType: "application/pdf", Filename: base + ".pdf", Data: data}
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
	s.archiveExport(roomID, result)
	return result, nil
}

// archiveExport keeps a disk copy of the rendered file when an archive
// directory is configured and stamps the result with a signed download
// token. Failures only log; the immediate download still succeeds.
func (s *ScheduleService) archiveExport(roomID string, result *ExportResult) {
	if s.archive == nil || result == nil {
		return
	}
	name := filepath.Join(roomID, result.Filename)
	if _, err := s.archive.Save(name, result.Data); err != nil {
		s.logger.Sugar().Warnw("export archive failed", "room_id", roomID, "file", name, "error", err)
		return
	}
	if s.signer == nil {
		return
	}
	token, err := s.signer.Generate(roomID, name)
	if err != nil {
		s.logger.Sugar().Warnw("export token generation failed", "room_id", roomID, "error", err)
		return
	}
	result.DownloadToken = token
}

// OpenArchived validates a signed download token and opens the archived
// export it references.
func (s *ScheduleService) OpenArchived(token string) (*os.File, string, error) {
	if s.archive == nil || s.signer == nil {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "export archive is not enabled")
	}
	_, relPath, err := s.signer.Parse(token)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	file, err := s.archive.Open(relPath)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "archived export not found")
	}
	return file, filepath.Base(relPath), nil
}

func (s *ScheduleService) loadRoom(ctx context.Context, roomID string) (*models.Room, error) {
	room, err := s.rooms.FindByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "room not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load room")
	}
	return room, nil
}

func (s *ScheduleService) collectBlocks(ctx context.Context, room *models.Room, members []models.Member) (map[string][]models.PreferredBlock, error) {
	blocks := make(map[string][]models.PreferredBlock, len(members)+1)
	ownerBlocks, err := s.prefs.GetPreferredBlocks(ctx, room.OwnerID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load owner preferences")
	}
	blocks[room.OwnerID] = ownerBlocks
	for _, member := range members {
		memberBlocks, err := s.prefs.GetPreferredBlocks(ctx, member.UserID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load member preferences")
		}
		blocks[member.UserID] = memberBlocks
	}
	return blocks, nil
}

func parseDateRange(startDate, endDate string) (time.Time, time.Time, error) {
	start, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrValidation, "start date must be yyyy-mm-dd")
	}
	end, err := time.Parse("2006-01-02", endDate)
	if err != nil {
		return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrValidation, "end date must be yyyy-mm-dd")
	}
	start = models.DateOnly(start)
	end = models.DateOnly(end)
	if end.Before(start) {
		return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrValidation, "end date precedes start date")
	}
	if end.Sub(start) > 62*24*time.Hour {
		return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrValidation, "date range exceeds two months")
	}
	return start, end, nil
}
