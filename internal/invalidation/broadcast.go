// Package invalidation carries cache eviction notices between instances.
// Delivery is best-effort; the cache TTL bounds staleness when a message is
// lost, so a missed broadcast is never an error.
package invalidation

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Message is one invalidation notice. Origin identifies the publishing
// instance so a writer can skip its own echo; it already evicted locally.
type Message struct {
	Origin string `json:"origin"`
	Key    string `json:"key"`
}

// Handler receives invalidated cache keys in receipt order.
type Handler func(key string)

// RedisBroadcast publishes and subscribes invalidation notices on one redis
// pub/sub topic.
type RedisBroadcast struct {
	client     *redis.Client
	log        *zap.Logger
	topic      string
	instanceID string
}

func NewRedisBroadcast(client *redis.Client, log *zap.Logger, topic string) *RedisBroadcast {
	return &RedisBroadcast{
		client:     client,
		log:        log.Named("tariff.invalidation"),
		topic:      topic,
		instanceID: uuid.NewString(),
	}
}

// Publish sends the invalidated key to all subscribed instances.
func (b *RedisBroadcast) Publish(ctx context.Context, key string) error {
	if strings.TrimSpace(key) == "" {
		return nil
	}
	payload, err := json.Marshal(Message{Origin: b.instanceID, Key: key})
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.topic, payload).Err()
}

// accept decodes one raw payload, returning the key to evict and whether the
// message applies to this instance.
func (b *RedisBroadcast) accept(payload string) (string, bool) {
	var notice Message
	if err := json.Unmarshal([]byte(payload), &notice); err != nil {
		b.log.Warn("dropping malformed invalidation message", zap.Error(err))
		return "", false
	}
	if notice.Origin == b.instanceID || notice.Key == "" {
		return "", false
	}
	return notice.Key, true
}

// Run consumes the topic until ctx is cancelled, applying each foreign key
// through the handler. Malformed messages are dropped.
func (b *RedisBroadcast) Run(ctx context.Context, handle Handler) {
	sub := b.client.Subscribe(ctx, b.topic)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if key, ok := b.accept(msg.Payload); ok {
				handle(key)
			}
		}
	}
}
