// Package fsstore implements storage.Store on Cloud Firestore through the Firebase Admin SDK.
// Collections are prefixed so several deployments can share one project.
package fsstore

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage"
)

type Store struct {
	client *firestore.Client
	prefix string
}

var _ storage.Store = (*Store)(nil)

// Open connects through a Firebase app. credentialsFile may be empty to use application default
// credentials (or the emulator when FIRESTORE_EMULATOR_HOST is set).
func Open(ctx context.Context, projectID, credentialsFile string, opts ...option.ClientOption) (*Store, error) {
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase: error initializing app: %w", err)
	}
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase: error getting Firestore client: %w", err)
	}
	return New(client, ""), nil
}

func New(client *firestore.Client, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

func (s *Store) coll(name string) *firestore.CollectionRef {
	return s.client.Collection(s.prefix + name)
}

func (s *Store) Ping(ctx context.Context) error {
	_, err := s.coll("provider_schedules").Limit(1).Documents(ctx).Next()
	if errors.Is(err, iterator.Done) {
		return nil
	}
	return err
}

func (s *Store) Close(context.Context) error { return s.client.Close() }

func isNotFound(err error) bool { return status.Code(err) == codes.NotFound }

func get[T any](ctx context.Context, ref *firestore.DocumentRef) (T, error) {
	var out T
	snap, err := ref.Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return out, storage.ErrNotFound
		}
		return out, err
	}
	if err := snap.DataTo(&out); err != nil {
		return out, fmt.Errorf("decode %s: %w", ref.Path, err)
	}
	return out, nil
}

func all[T any](iter *firestore.DocumentIterator) ([]T, error) {
	defer iter.Stop()
	out := []T{}
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		var v T
		if err := snap.DataTo(&v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", snap.Ref.Path, err)
		}
		out = append(out, v)
	}
}

func (s *Store) delete(ctx context.Context, ref *firestore.DocumentRef) error {
	_, err := ref.Delete(ctx, firestore.Exists)
	if isNotFound(err) {
		return storage.ErrNotFound
	}
	return err
}

func (s *Store) PutAppointmentType(ctx context.Context, t model.AppointmentType) error {
	_, err := s.coll("appointment_types").Doc(t.ID).Set(ctx, t)
	return err
}

func (s *Store) GetAppointmentType(ctx context.Context, id string) (model.AppointmentType, error) {
	return get[model.AppointmentType](ctx, s.coll("appointment_types").Doc(id))
}

func (s *Store) ListAppointmentTypes(ctx context.Context) ([]model.AppointmentType, error) {
	return all[model.AppointmentType](s.coll("appointment_types").OrderBy("name", firestore.Asc).Documents(ctx))
}

func (s *Store) DeleteAppointmentType(ctx context.Context, id string) error {
	return s.delete(ctx, s.coll("appointment_types").Doc(id))
}

func (s *Store) PutProvider(ctx context.Context, p model.Provider) error {
	_, err := s.coll("providers").Doc(p.ID).Set(ctx, p)
	return err
}

func (s *Store) GetProvider(ctx context.Context, id string) (model.Provider, error) {
	return get[model.Provider](ctx, s.coll("providers").Doc(id))
}

func (s *Store) ListProviders(ctx context.Context, f storage.ProviderFilter) ([]model.Provider, error) {
	q := s.coll("providers").Query
	if f.ActiveOnly {
		q = q.Where("active", "==", true)
	}
	if f.AppointmentTypeID != "" {
		q = q.Where("appointment_type_ids", "array-contains", f.AppointmentTypeID)
	}
	return all[model.Provider](q.OrderBy("name", firestore.Asc).Documents(ctx))
}

func (s *Store) PutCustomer(ctx context.Context, c model.Customer) error {
	_, err := s.coll("customers").Doc(c.ID).Set(ctx, c)
	return err
}

func (s *Store) GetCustomer(ctx context.Context, id string) (model.Customer, error) {
	return get[model.Customer](ctx, s.coll("customers").Doc(id))
}

func (s *Store) ListCustomers(ctx context.Context, f storage.CustomerFilter) ([]model.Customer, error) {
	q := s.coll("customers").Query
	if f.Email != "" {
		q = q.Where("email", "==", f.Email)
	}
	if f.Phone != "" {
		q = q.Where("phone", "==", f.Phone)
	}
	customers, err := all[model.Customer](q.Documents(ctx))
	if err != nil {
		return nil, err
	}
	slices.SortFunc(customers, func(a, b model.Customer) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return customers, nil
}

func (s *Store) DeleteCustomer(ctx context.Context, id string) error {
	return s.delete(ctx, s.coll("customers").Doc(id))
}

func (s *Store) GetAppointment(ctx context.Context, id string) (model.Appointment, error) {
	return get[model.Appointment](ctx, s.coll("appointments").Doc(id))
}

// ListAppointments pushes equality filters to Firestore and finishes range filtering and
// ordering in memory, so no composite indexes are needed.
func (s *Store) ListAppointments(ctx context.Context, f storage.AppointmentFilter) ([]model.Appointment, error) {
	q := s.coll("appointments").Query
	if f.ProviderID != "" {
		q = q.Where("provider_id", "==", f.ProviderID)
	}
	if f.CustomerID != "" {
		q = q.Where("customer_id", "==", f.CustomerID)
	}
	if f.Status != "" {
		q = q.Where("status", "==", string(f.Status))
	}
	appts, err := all[model.Appointment](q.Documents(ctx))
	if err != nil {
		return nil, err
	}
	out := appts[:0]
	for _, a := range appts {
		if storage.MatchAppointment(a, f) {
			out = append(out, a)
		}
	}
	storage.SortAppointments(out)
	return out, nil
}

type scheduleDoc struct {
	Revision int64 `firestore:"revision"`
}

func (s *Store) scheduleQuery(providerID string, to time.Time) firestore.Query {
	return s.coll("appointments").
		Where("provider_id", "==", providerID).
		Where("status", "==", string(model.StatusScheduled)).
		Where("start_time", "<", to)
}

// ProviderSchedule reads the revision and the appointments inside one read-only transaction, so
// both come from the same snapshot.
func (s *Store) ProviderSchedule(ctx context.Context, providerID string, from, to time.Time) (storage.Schedule, error) {
	sched := storage.Schedule{ProviderID: providerID}
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		sched.Revision, sched.Appointments = 0, nil
		snap, err := tx.Get(s.coll("provider_schedules").Doc(providerID))
		switch {
		case isNotFound(err):
		case err != nil:
			return err
		default:
			var doc scheduleDoc
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
			sched.Revision = doc.Revision
		}
		appts, err := all[model.Appointment](tx.Documents(s.scheduleQuery(providerID, to)))
		if err != nil {
			return err
		}
		for _, a := range appts {
			if a.EndTime.After(from) {
				sched.Appointments = append(sched.Appointments, a)
			}
		}
		return nil
	}, firestore.ReadOnly)
	if err != nil {
		return storage.Schedule{}, err
	}
	storage.SortAppointments(sched.Appointments)
	return sched, nil
}

// WriteAppointment compares and bumps the schedule revision in a transaction. Firestore retries
// contended transactions, and the retry then sees the newer revision and reports a conflict.
func (s *Store) WriteAppointment(ctx context.Context, appt model.Appointment, expectedRevision int64, evs ...storage.OutboxEvent) error {
	schedRef := s.coll("provider_schedules").Doc(appt.ProviderID)
	apptRef := s.coll("appointments").Doc(appt.ID)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var current int64
		snap, err := tx.Get(schedRef)
		switch {
		case isNotFound(err):
		case err != nil:
			return err
		default:
			var doc scheduleDoc
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
			current = doc.Revision
		}
		if current != expectedRevision {
			return storage.ErrRevisionConflict
		}
		if err := tx.Set(schedRef, scheduleDoc{Revision: current + 1}); err != nil {
			return err
		}
		if err := tx.Set(apptRef, appt); err != nil {
			return err
		}
		for _, ev := range evs {
			if err := tx.Create(s.coll("outbox_events").Doc(ev.ID), toOutboxDoc(ev)); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, storage.ErrRevisionConflict) || status.Code(err) == codes.Aborted {
		return storage.ErrRevisionConflict
	}
	return err
}

type outboxDoc struct {
	ID          string    `firestore:"id"`
	Type        string    `firestore:"event_type"`
	Key         string    `firestore:"event_key"`
	Payload     []byte    `firestore:"payload"`
	Traceparent string    `firestore:"traceparent"`
	Tracestate  string    `firestore:"tracestate"`
	OccurredAt  time.Time `firestore:"occurred_at"`
	Published   bool      `firestore:"published"`
}

func toOutboxDoc(ev storage.OutboxEvent) outboxDoc {
	return outboxDoc{
		ID: ev.ID, Type: ev.Type, Key: ev.Key, Payload: ev.Payload,
		Traceparent: ev.Traceparent, Tracestate: ev.Tracestate, OccurredAt: ev.OccurredAt,
	}
}

// DrainOutbox orders pending events in memory; ordering in the query would need a composite
// index on (published, occurred_at). Delivery is at least once.
func (s *Store) DrainOutbox(ctx context.Context, limit int, publish func(context.Context, []storage.OutboxEvent) error) (int, error) {
	docs, err := all[outboxDoc](s.coll("outbox_events").Where("published", "==", false).Documents(ctx))
	if err != nil {
		return 0, err
	}
	slices.SortFunc(docs, func(a, b outboxDoc) int {
		return cmp.Or(a.OccurredAt.Compare(b.OccurredAt), cmp.Compare(a.ID, b.ID))
	})
	docs = docs[:min(limit, len(docs))]
	if len(docs) == 0 {
		return 0, nil
	}

	batch := make([]storage.OutboxEvent, len(docs))
	for i, d := range docs {
		batch[i] = storage.OutboxEvent{
			ID: d.ID, Type: d.Type, Key: d.Key, Payload: d.Payload,
			Traceparent: d.Traceparent, Tracestate: d.Tracestate, OccurredAt: d.OccurredAt,
		}
	}
	if err := publish(ctx, batch); err != nil {
		return 0, err
	}
	err = s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		for _, d := range docs {
			err := tx.Update(s.coll("outbox_events").Doc(d.ID), []firestore.Update{
				{Path: "published", Value: true},
				{Path: "published_at", Value: firestore.ServerTimestamp},
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("mark outbox events published: %w", err)
	}
	return len(batch), nil
}
