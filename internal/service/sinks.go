package service

import (
	"context"
	"encoding/json"

	"github.com/jmoiron/sqlx/types"

	"github.com/hangawi/ai-schedule-api/internal/models"
	"github.com/hangawi/ai-schedule-api/pkg/events"
)

// activitySink records coordination actions. Implementations must never make
// a failed write fail the operation being logged.
type activitySink interface {
	Log(ctx context.Context, activity *models.Activity)
}

// eventNotifier pushes room-scoped events across the notification boundary.
type eventNotifier interface {
	Publish(ctx context.Context, event events.Event)
}

// nopActivitySink is the default when no sink is wired.
type nopActivitySink struct{}

func (nopActivitySink) Log(context.Context, *models.Activity) {}

// nopNotifier is the default when no notifier is wired.
type nopNotifier struct{}

func (nopNotifier) Publish(context.Context, events.Event) {}

func activityDetails(payload map[string]any) types.JSONText {
	if len(payload) == 0 {
		return nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	return types.JSONText(raw)
}
