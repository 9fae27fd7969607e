package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Envelope is the JSON frame published on a search channel.
type Envelope struct {
	Event   string    `json:"event"`
	Payload any       `json:"payload"`
	At      time.Time `json:"at"`
}

// RedisNotifier publishes envelopes over Redis pub/sub. Subscribers that are
// not listening simply miss the event; that is the contract.
type RedisNotifier struct {
	rdb *redis.Client
	log *slog.Logger
}

func NewRedisNotifier(rdb *redis.Client, logger *slog.Logger) *RedisNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisNotifier{rdb: rdb, log: logger}
}

func (n *RedisNotifier) Publish(ctx context.Context, searchID uuid.UUID, event string, payload any) {
	frame, err := json.Marshal(Envelope{Event: event, Payload: payload, At: time.Now().UTC()})
	if err != nil {
		n.log.Warn("realtime.encode_failed", "search_id", searchID, "event", event, "error", err)
		return
	}
	if err := n.rdb.Publish(ctx, Channel(searchID), frame).Err(); err != nil {
		n.log.Warn("realtime.publish_failed", "search_id", searchID, "event", event, "error", err)
	}
}
