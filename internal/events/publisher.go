// Package events ships outbound domain events to the audit/notification
// pipeline. The Redis publisher appends to a stream with at-least-once
// semantics; consumers are expected to deduplicate on event ID.
package events

import (
	"context"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"

	"github.com/ngenohkevin/circulation/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RedisPublisher appends domain events to a Redis stream via XADD.
type RedisPublisher struct {
	client *redis.Client
	stream string
}

// NewRedisPublisher creates a publisher writing to the given stream.
func NewRedisPublisher(client *redis.Client, stream string) *RedisPublisher {
	return &RedisPublisher{
		client: client,
		stream: stream,
	}
}

// Publish appends one event to the stream. The payload is serialized as
// JSON; the event ID rides along for consumer-side deduplication.
func (p *RedisPublisher) Publish(ctx context.Context, event models.DomainEvent) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"event_id":    event.ID,
			"event_type":  event.Type,
			"occurred_at": event.OccurredAt.Format("2006-01-02T15:04:05.000Z07:00"),
			"payload":     string(payload),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to append event to stream: %w", err)
	}

	return nil
}

// NopPublisher discards events. Used in tests and in deployments without an
// event pipeline.
type NopPublisher struct{}

// NewNopPublisher creates a publisher that drops everything.
func NewNopPublisher() *NopPublisher {
	return &NopPublisher{}
}

// Publish discards the event.
func (p *NopPublisher) Publish(_ context.Context, _ models.DomainEvent) error {
	return nil
}
