package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisRelay mirrors events between instances over Redis pub/sub. Every
// instance publishes to <prefix>room:<id>:events and pattern-subscribes to
// all rooms, skipping events it sent itself.
type RedisRelay struct {
	client   *redis.Client
	prefix   string
	instance string
	logger   *slog.Logger
}

func NewRedisRelay(client *redis.Client, prefix string, logger *slog.Logger) *RedisRelay {
	return &RedisRelay{
		client:   client,
		prefix:   prefix,
		instance: uuid.NewString(),
		logger:   logger,
	}
}

// Channel is the pub/sub channel carrying roomID's events.
func (r *RedisRelay) Channel(roomID string) string {
	return r.prefix + "room:" + roomID + ":events"
}

// roomFromChannel recovers the room id from a channel name.
func (r *RedisRelay) roomFromChannel(ch string) (string, bool) {
	rest, ok := strings.CutPrefix(ch, r.prefix+"room:")
	if !ok {
		return "", false
	}
	return strings.CutSuffix(rest, ":events")
}

func (r *RedisRelay) Publish(ctx context.Context, ev Event) error {
	ev.Origin = r.instance
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	return r.client.Publish(ctx, r.Channel(ev.RoomID), data).Err()
}

// Run hands events relayed by other instances to deliver until ctx is done.
func (r *RedisRelay) Run(ctx context.Context, deliver func(Event) PublishResult) error {
	ps := r.client.PSubscribe(ctx, r.Channel("*"))
	defer ps.Close()

	// Wait for the subscription to be confirmed so startup errors surface.
	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to %s: %w", r.Channel("*"), err)
	}
	r.logger.Info("redis relay subscribed", "pattern", r.Channel("*"), "instance", r.instance)

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			ev, ok := r.decode(msg)
			if !ok {
				continue
			}
			deliver(ev)
		}
	}
}

func (r *RedisRelay) decode(msg *redis.Message) (Event, bool) {
	var ev Event
	if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
		r.logger.Warn("dropping undecodable relay event", "channel", msg.Channel, "error", err)
		return ev, false
	}
	if ev.Origin == r.instance {
		return ev, false
	}
	if room, ok := r.roomFromChannel(msg.Channel); ok && ev.RoomID == "" {
		ev.RoomID = room
	}
	return ev, true
}

// Check satisfies health.Checker.
func (r *RedisRelay) Check(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
