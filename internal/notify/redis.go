package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"warrantly.org/internal/obs"
	"warrantly.org/internal/warranty"
)

const publishTimeout = 2 * time.Second

// RedisStream publishes lifecycle events to a Redis Stream consumed by the
// external notification channel.
type RedisStream struct {
	client *redis.Client
	stream string
}

var _ warranty.Notifier = (*RedisStream)(nil)

// NewRedisStream constructs a publisher for the given stream key.
func NewRedisStream(client *redis.Client, stream string) *RedisStream {
	if stream == "" {
		stream = "warranty_events"
	}
	return &RedisStream{client: client, stream: stream}
}

// LifecycleChanged implements warranty.Notifier by XADDing the event.
func (r *RedisStream) LifecycleChanged(ctx context.Context, w warranty.Warranty, ev warranty.ClaimEvent) {
	payload, err := json.Marshal(eventFor(w, ev))
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]interface{}{"payload": payload},
	}).Err()
	if err != nil {
		obs.Emit("error", map[string]any{
			"msg":   "notify publish failed",
			"error": err.Error(),
		})
	}
}
