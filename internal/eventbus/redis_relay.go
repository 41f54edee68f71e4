package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/kazz187/taskdesk/pkg/clog"
)

// RedisRelay mirrors locally published events to a Redis channel and replays
// events published by other replicas into the local Bus, so that change-feed
// subscribers see writes made through any server sharing the same store.
type RedisRelay struct {
	bus     *Bus
	client  *redis.Client
	channel string
	out     chan *Event
}

func NewRedisRelay(bus *Bus, redisURL, channel string) (*RedisRelay, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	r := &RedisRelay{
		bus:     bus,
		client:  redis.NewClient(opt),
		channel: channel,
		out:     make(chan *Event, 256),
	}
	bus.OnPublish(func(e *Event) {
		select {
		case r.out <- e:
		default:
			slog.Warn("redis relay buffer full, dropping event", "event_type", e.Type, "resource_id", e.ResourceID)
		}
	})
	return r, nil
}

// Start blocks until ctx is cancelled.
func (r *RedisRelay) Start(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to reach redis: %w", err)
	}
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()
	defer r.client.Close()

	in := sub.Channel()
	slog.Info("redis relay started", "channel", r.channel, "origin", r.bus.ID())
	for {
		select {
		case <-ctx.Done():
			slog.Info("redis relay stopped")
			return nil
		case e := <-r.out:
			r.forward(ctx, e)
		case msg, ok := <-in:
			if !ok {
				return fmt.Errorf("redis subscription closed")
			}
			r.replay(ctx, msg.Payload)
		}
	}
}

func (r *RedisRelay) forward(ctx context.Context, e *Event) {
	data, err := json.Marshal(e)
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal event", clog.ErrorAttributeKey, err)
		return
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to publish event to redis", "event_type", e.Type, clog.ErrorAttributeKey, err)
	}
}

func (r *RedisRelay) replay(ctx context.Context, payload string) {
	e, err := decodeRemoteEvent(payload, r.bus.ID())
	if err != nil {
		slog.WarnContext(ctx, "dropping malformed relay message", clog.ErrorAttributeKey, err)
		return
	}
	if e == nil {
		return
	}
	r.bus.Publish(e)
}

// decodeRemoteEvent returns nil for events that originated on localID.
func decodeRemoteEvent(payload, localID string) (*Event, error) {
	var e Event
	if err := json.Unmarshal([]byte(payload), &e); err != nil {
		return nil, err
	}
	if e.Origin == localID || e.Origin == "" {
		return nil, nil
	}
	return &e, nil
}
