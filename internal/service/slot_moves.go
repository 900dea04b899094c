package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/hangawi/ai-schedule-api/internal/models"
	"github.com/hangawi/ai-schedule-api/internal/repository"
	appErrors "github.com/hangawi/ai-schedule-api/pkg/errors"
)

// applyVersionedMoves executes a remove-and-add batch against the room's
// current version, retrying on concurrent schedule changes.
func applyVersionedMoves(ctx context.Context, rooms exchangeRoomReader, slots exchangeSlotStore, roomID string, attempts int, removeIDs []string, add []models.AssignedSlot) error {
	apply := func(ctx context.Context) error {
		room, err := rooms.FindByID(ctx, roomID)
		if err != nil {
			return err
		}
		return slots.ApplyMoves(ctx, roomID, room.Version, removeIDs, add)
	}
	if err := repository.WithOptimisticRetry(ctx, attempts, apply); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			return appErrors.Clone(appErrors.ErrVersionConflict, "room schedule changed concurrently; retries exhausted")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to apply slot moves")
	}
	return nil
}

// upsertPreferenceException appends a date-specific block when a move lands
// a member outside their declared windows. Failures only log: the calendar
// write already happened and preference drift is repairable.
func upsertPreferenceException(ctx context.Context, prefs exchangePreferenceStore, logger *zap.Logger, userID string, slot models.AssignedSlot) {
	blocks, err := prefs.GetPreferredBlocks(ctx, userID)
	if err != nil {
		logger.Sugar().Warnw("preference consistency check failed", "user_id", userID, "error", err)
		return
	}
	windows := MergePreferredWindows(blocks, models.DateOnly(slot.Date))
	if WindowsContain(windows, models.MinuteOfDay(slot.StartTime), models.MinuteOfDay(slot.EndTime)) {
		return
	}
	date := models.DateOnly(slot.Date)
	if err := prefs.AddBlock(ctx, &models.PreferredBlock{
		UserID:       userID,
		SpecificDate: &date,
		StartTime:    slot.StartTime,
		EndTime:      slot.EndTime,
		Priority:     3,
	}); err != nil {
		logger.Sugar().Warnw("preference exception insert failed", "user_id", userID, "error", err)
	}
}
