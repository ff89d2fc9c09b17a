package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/music-match-system/pkg/models"
)

type EventType string

const (
	// EventTypeSyncRequested asks the background worker to backfill a user.
	EventTypeSyncRequested EventType = "sync_requested"
	// EventTypeSyncCompleted reports the stats of a finished backfill.
	EventTypeSyncCompleted EventType = "sync_completed"
	// EventTypeSyncFailed reports a backfill that errored out.
	EventTypeSyncFailed EventType = "sync_failed"
	// EventTypePlaysScrobbled notifies that new plays were counted.
	EventTypePlaysScrobbled EventType = "plays_scrobbled"
)

type Event struct {
	Type      EventType       `json:"type"`
	UserID    string          `json:"user_id"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

type SyncRequestedPayload struct {
	Trigger string `json:"trigger"` // "manual", "connect"
}

type SyncCompletedPayload struct {
	Stats models.IngestStats `json:"stats"`
}

type SyncFailedPayload struct {
	Reason string `json:"reason"`
}

type PlaysScrobbledPayload struct {
	Scrobbled int `json:"scrobbled"`
}

type KafkaClient struct {
	writer *kafka.Writer
	reader *kafka.Reader
}

func NewKafkaClient(brokers []string, topic string, groupID string) *KafkaClient {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafka.LastOffset,
	})

	return &KafkaClient{
		writer: writer,
		reader: reader,
	}
}

func (k *KafkaClient) publish(ctx context.Context, eventType EventType, userID string, payload interface{}) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	event := Event{
		Type:      eventType,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
		Payload:   payloadJSON,
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		// Keying by user keeps one user's events in order within a partition.
		Key:   []byte(userID),
		Value: eventJSON,
	}

	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	return nil
}

// PublishSyncRequested enqueues a fire-and-forget backfill for the user.
func (k *KafkaClient) PublishSyncRequested(ctx context.Context, userID uuid.UUID, trigger string) error {
	return k.publish(ctx, EventTypeSyncRequested, userID.String(), SyncRequestedPayload{Trigger: trigger})
}

func (k *KafkaClient) PublishSyncCompleted(ctx context.Context, userID uuid.UUID, stats models.IngestStats) error {
	return k.publish(ctx, EventTypeSyncCompleted, userID.String(), SyncCompletedPayload{Stats: stats})
}

func (k *KafkaClient) PublishSyncFailed(ctx context.Context, userID uuid.UUID, reason string) error {
	return k.publish(ctx, EventTypeSyncFailed, userID.String(), SyncFailedPayload{Reason: reason})
}

func (k *KafkaClient) PublishPlaysScrobbled(ctx context.Context, userID uuid.UUID, scrobbled int) error {
	return k.publish(ctx, EventTypePlaysScrobbled, userID.String(), PlaysScrobbledPayload{Scrobbled: scrobbled})
}

// ConsumeEvents reads events until the context is cancelled, passing each to
// the handler. Handler errors are returned to the caller, which decides
// whether to resume.
func (k *KafkaClient) ConsumeEvents(ctx context.Context, handler func(Event) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			msg, err := k.reader.ReadMessage(ctx)
			if err != nil {
				return fmt.Errorf("failed to read message: %w", err)
			}

			var event Event
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal event: %w", err)
			}

			if err := handler(event); err != nil {
				return fmt.Errorf("failed to handle event: %w", err)
			}
		}
	}
}

func (k *KafkaClient) Close() error {
	if err := k.writer.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}
	if err := k.reader.Close(); err != nil {
		return fmt.Errorf("failed to close reader: %w", err)
	}
	return nil
}
