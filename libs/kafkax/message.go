package kafkax

import (
	"context"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// EventMeta is the canonical metadata carried on Kafka messages across services.
type EventMeta struct {
	EventID    string
	EventType  string
	OccurredAt time.Time
}

// NewMessage builds a message on topic meta.EventType with metadata headers and the
// W3C trace context of ctx.
func NewMessage(ctx context.Context, key string, payload []byte, meta EventMeta) kafka.Message {
	headers := []kafka.Header{
		{Key: "event_id", Value: []byte(meta.EventID)},
		{Key: "event_type", Value: []byte(meta.EventType)},
	}
	if !meta.OccurredAt.IsZero() {
		headers = append(headers, kafka.Header{Key: "occurred_at", Value: []byte(meta.OccurredAt.UTC().Format(time.RFC3339Nano))})
	}
	return kafka.Message{
		Topic:   meta.EventType,
		Key:     []byte(key),
		Value:   payload,
		Headers: InjectTraceHeaders(ctx, headers),
	}
}

func ExtractEventMeta(msg kafka.Message) EventMeta {
	meta := EventMeta{
		EventID:   HeaderValue(msg.Headers, "event_id"),
		EventType: HeaderValue(msg.Headers, "event_type"),
	}
	if meta.EventID == "" {
		meta.EventID = string(msg.Key)
	}
	if meta.EventType == "" {
		meta.EventType = msg.Topic
	}
	if raw := HeaderValue(msg.Headers, "occurred_at"); raw != "" {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			meta.OccurredAt = ts
		}
	}
	return meta
}

func HeaderValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
