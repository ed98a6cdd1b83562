package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/slotbook/libs/kafkax"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

var start = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func appointment(providerID string, slot int) model.Appointment {
	at := start.Add(time.Duration(slot) * time.Hour)
	return model.Appointment{
		ID: uuid.NewString(), ProviderID: providerID, StartTime: at, EndTime: at.Add(30 * time.Minute),
		Status: model.StatusScheduled,
	}
}

func TestKafkaPublisher(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w}

	ev := NewAppointmentEvent(TypeBooked, appointment("p1", 0))
	rec, err := ev.Record(context.Background())
	require.NoError(t, err)
	require.Equal(t, "p1", rec.Key)
	require.NoError(t, p.Publish(context.Background(), rec))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	require.Equal(t, TypeBooked, msg.Topic)
	require.Equal(t, "p1", string(msg.Key))
	require.Equal(t, ev.EventID, kafkax.HeaderValue(msg.Headers, "event_id"))
	require.Equal(t, TypeBooked, kafkax.HeaderValue(msg.Headers, "event_type"))

	var decoded AppointmentEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	require.Equal(t, ev.Appointment.ID, decoded.Appointment.ID)
	require.True(t, decoded.Appointment.StartTime.Equal(start))
}

func TestKafkaPublisherError(t *testing.T) {
	p := &KafkaPublisher{writer: &fakeWriter{err: errors.New("broker down")}}
	rec, err := NewAppointmentEvent(TypeCancelled, model.Appointment{ID: "a1"}).Record(context.Background())
	require.NoError(t, err)
	require.ErrorContains(t, p.Publish(context.Background(), rec), "broker down")
}

func TestRelayFlush(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	var want []string
	for i := range 3 {
		ev := NewAppointmentEvent(TypeBooked, appointment("p1", i))
		rec, err := ev.Record(ctx)
		require.NoError(t, err)
		require.NoError(t, store.WriteAppointment(ctx, ev.Appointment, int64(i), rec))
		want = append(want, ev.EventID)
	}

	w := &fakeWriter{err: errors.New("broker down")}
	relay := NewRelay(store, &KafkaPublisher{writer: w}, slog.New(slog.NewTextHandler(io.Discard, nil)), RelayConfig{BatchSize: 2})

	n, err := relay.Flush(ctx)
	require.ErrorContains(t, err, "broker down")
	require.Zero(t, n)

	// The failed batch is still pending and goes out once the broker is back.
	w.err = nil
	n, err = relay.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	var got []string
	for _, msg := range w.msgs {
		got = append(got, kafkax.HeaderValue(msg.Headers, "event_id"))
	}
	require.Equal(t, want, got)

	n, err = relay.Flush(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestRelayRunStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := storage.NewMemory()
	ev := NewAppointmentEvent(TypeBooked, appointment("p1", 0))
	rec, err := ev.Record(ctx)
	require.NoError(t, err)
	require.NoError(t, store.WriteAppointment(ctx, ev.Appointment, 0, rec))

	w := &fakeWriter{}
	relay := NewRelay(store, &KafkaPublisher{writer: w}, slog.New(slog.NewTextHandler(io.Discard, nil)), RelayConfig{PollEvery: time.Hour})
	done := make(chan struct{})
	go func() {
		relay.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not stop")
	}
	require.Len(t, w.msgs, 1, "pending events are flushed on shutdown")
}
