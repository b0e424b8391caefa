package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/couchcryptid/quake-feed-service/internal/config"
	"github.com/couchcryptid/quake-feed-service/internal/domain"
	"github.com/rs/xid"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer produces every published event set to a Kafka topic.
// It implements pipeline.Sink.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured snapshot topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// Publish writes one message per event, keyed by event ID, in a single
// WriteMessages call. All messages of one call share a snapshot_id header.
func (w *Writer) Publish(ctx context.Context, events []domain.Quake) error {
	if len(events) == 0 {
		return nil
	}
	snapshot := xid.New().String()
	msgs := make([]kafkago.Message, len(events))
	for i := range events {
		msg, err := serializeToMessage(events[i], snapshot, len(events))
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write snapshot %s: %w", snapshot, err)
	}
	w.logger.Debug("snapshot published", "snapshot_id", snapshot, "events", len(events))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a Quake into a Kafka message.
func serializeToMessage(event domain.Quake, snapshot string, size int) (kafkago.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize quake %s: %w", event.ID, err)
	}
	eventType := "earthquake"
	if event.EventType != nil {
		eventType = *event.EventType
	}
	msg := kafkago.Message{
		Key:   []byte(event.ID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(eventType)},
			{Key: "snapshot_id", Value: []byte(snapshot)},
			{Key: "snapshot_size", Value: []byte(strconv.Itoa(size))},
		},
	}
	if event.Time > 0 {
		msg.Time = time.UnixMilli(event.Time).UTC()
	}
	return msg, nil
}
