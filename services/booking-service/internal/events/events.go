// Package events publishes appointment lifecycle events. Events are recorded in the storage
// outbox together with the appointment write and a Relay forwards them. The Kafka topic equals
// the event type and the message key is the provider id, so one provider's events stay ordered.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/md-rashed-zaman/slotbook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/slotbook/libs/otel"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage"
)

const (
	TypeBooked      = "booking.appointment.booked.v1"
	TypeRescheduled = "booking.appointment.rescheduled.v1"
	TypeCancelled   = "booking.appointment.cancelled.v1"
)

type AppointmentEvent struct {
	EventID       string            `json:"event_id"`
	EventType     string            `json:"event_type"`
	OccurredAt    time.Time         `json:"occurred_at"`
	Appointment   model.Appointment `json:"appointment"`
	PreviousStart *time.Time        `json:"previous_start_time,omitempty"`
}

func NewAppointmentEvent(eventType string, appt model.Appointment) AppointmentEvent {
	return AppointmentEvent{
		EventID:     uuid.NewString(),
		EventType:   eventType,
		OccurredAt:  time.Now().UTC(),
		Appointment: appt,
	}
}

// Record encodes ev for the outbox, keeping the trace context of ctx.
func (ev AppointmentEvent) Record(ctx context.Context) (storage.OutboxEvent, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return storage.OutboxEvent{}, fmt.Errorf("marshal %s: %w", ev.EventType, err)
	}
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	return storage.OutboxEvent{
		ID:          ev.EventID,
		Type:        ev.EventType,
		Key:         ev.Appointment.ProviderID,
		Payload:     payload,
		Traceparent: traceparent,
		Tracestate:  tracestate,
		OccurredAt:  ev.OccurredAt,
	}, nil
}

type Publisher interface {
	Publish(ctx context.Context, evs ...storage.OutboxEvent) error
}

// Nop drops every event. It is used when no brokers are configured.
type Nop struct{}

func (Nop) Publish(context.Context, ...storage.OutboxEvent) error { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
}

func NewKafkaPublisher(brokers []string) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}}
}

// Publish writes evs in one call. Each message carries the trace context stored with its event.
func (p *KafkaPublisher) Publish(ctx context.Context, evs ...storage.OutboxEvent) error {
	if len(evs) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, len(evs))
	for i, ev := range evs {
		msgCtx := otelx.ContextWithTraceContext(ctx, ev.Traceparent, ev.Tracestate)
		msgs[i] = kafkax.NewMessage(msgCtx, ev.Key, ev.Payload, kafkax.EventMeta{
			EventID:    ev.ID,
			EventType:  ev.Type,
			OccurredAt: ev.OccurredAt,
		})
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d events: %w", len(evs), err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error { return p.writer.Close() }
