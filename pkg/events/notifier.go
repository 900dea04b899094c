package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Event is a room-scoped notification for the presentation layer. The
// payload mirrors the mutated entity.
type Event struct {
	RoomID  string      `json:"room_id"`
	Kind    string      `json:"kind"`
	Payload interface{} `json:"payload,omitempty"`
	At      time.Time   `json:"at"`
}

// Notifier publishes events. Publishing is fire-and-forget: failures are
// logged and never surfaced to the triggering operation.
type Notifier interface {
	Publish(ctx context.Context, event Event)
}

// RedisNotifier broadcasts events over a per-room pub/sub channel.
type RedisNotifier struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisNotifier builds a notifier on top of an existing Redis client.
func NewRedisNotifier(client *redis.Client, logger *zap.Logger) *RedisNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisNotifier{client: client, logger: logger}
}

// Channel returns the pub/sub channel name for a room.
func Channel(roomID string) string {
	return fmt.Sprintf("room:%s:events", roomID)
}

// Publish serialises and broadcasts the event.
func (n *RedisNotifier) Publish(ctx context.Context, event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	raw, err := json.Marshal(event)
	if err != nil {
		n.logger.Sugar().Warnw("event marshal failed", "room_id", event.RoomID, "kind", event.Kind, "error", err)
		return
	}
	if err := n.client.Publish(ctx, Channel(event.RoomID), raw).Err(); err != nil {
		n.logger.Sugar().Warnw("event publish failed", "room_id", event.RoomID, "kind", event.Kind, "error", err)
	}
}

// Nop discards every event.
type Nop struct{}

// Publish implements Notifier.
func (Nop) Publish(context.Context, Event) {}
