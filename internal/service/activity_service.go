package service

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hangawi/ai-schedule-api/internal/models"
	"github.com/hangawi/ai-schedule-api/pkg/config"
	appErrors "github.com/hangawi/ai-schedule-api/pkg/errors"
	"github.com/hangawi/ai-schedule-api/pkg/jobs"
)

type activityStore interface {
	Insert(ctx context.Context, activity *models.Activity) error
	ListByRoom(ctx context.Context, roomID string, limit int) ([]models.Activity, error)
}

// ActivityService records room activity off the request path. Writes are
// fire-and-forget through a worker queue so a slow audit insert never adds
// latency to a coordination call.
type ActivityService struct {
	store  activityStore
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewActivityService wires the async writer.
func NewActivityService(store activityStore, cfg config.ActivityConfig, logger *zap.Logger) *ActivityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &ActivityService{store: store, logger: logger}
	s.queue = jobs.NewQueue("activity", s.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		Logger:     logger,
	})
	return s
}

// Start launches the writer workers.
func (s *ActivityService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the workers.
func (s *ActivityService) Stop() {
	s.queue.Stop()
}

// Log enqueues one activity record. Failures only log; activity is an
// audit trail, not a ledger the caller depends on.
func (s *ActivityService) Log(ctx context.Context, activity *models.Activity) {
	if activity == nil {
		return
	}
	err := s.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    activity.Action,
		Payload: activity,
	})
	if err != nil {
		s.logger.Sugar().Warnw("activity enqueue failed", "action", activity.Action, "error", err)
	}
}

// List returns the room's recent activity, newest first.
func (s *ActivityService) List(ctx context.Context, roomID string, limit int) ([]models.Activity, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	list, err := s.store.ListByRoom(ctx, roomID, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list activity")
	}
	return list, nil
}

func (s *ActivityService) handle(ctx context.Context, job jobs.Job) error {
	activity, ok := job.Payload.(*models.Activity)
	if !ok {
		s.logger.Sugar().Errorw("unexpected activity payload", "type", job.Type)
		return nil
	}
	return s.store.Insert(ctx, activity)
}
