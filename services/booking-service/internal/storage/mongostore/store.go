// Package mongostore implements storage.Store on MongoDB. Appointment writes run in a
// multi-document transaction, so the server must be a replica set.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage"
)

const (
	collAppointmentTypes  = "appointment_types"
	collProviders         = "providers"
	collCustomers         = "customers"
	collAppointments      = "appointments"
	collProviderSchedules = "provider_schedules"
	collOutbox            = "outbox_events"
)

type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

var _ storage.Store = (*Store)(nil)

func Open(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return New(client, database), nil
}

func New(client *mongo.Client, database string) *Store {
	return &Store{client: client, db: client.Database(database)}
}

// EnsureIndexes creates the indexes used by list and schedule queries.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		collProviders: {
			{Keys: bson.D{{Key: "appointment_type_ids", Value: 1}}},
			{Keys: bson.D{{Key: "active", Value: 1}, {Key: "name", Value: 1}}},
		},
		collCustomers: {
			{Keys: bson.D{{Key: "email", Value: 1}}},
			{Keys: bson.D{{Key: "phone", Value: 1}}},
		},
		collAppointments: {
			{Keys: bson.D{{Key: "provider_id", Value: 1}, {Key: "status", Value: 1}, {Key: "start_time", Value: 1}}},
			{Keys: bson.D{{Key: "customer_id", Value: 1}, {Key: "start_time", Value: 1}}},
		},
		collOutbox: {
			{Keys: bson.D{{Key: "published", Value: 1}, {Key: "occurred_at", Value: 1}}},
		},
	}
	for coll, models := range indexes {
		if _, err := s.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create %s indexes: %w", coll, err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx, nil) }

func (s *Store) Close(ctx context.Context) error { return s.client.Disconnect(ctx) }

func (s *Store) put(ctx context.Context, coll, id string, doc any) error {
	_, err := s.db.Collection(coll).ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	return err
}

func (s *Store) get(ctx context.Context, coll, id string, out any) error {
	err := s.db.Collection(coll).FindOne(ctx, bson.M{"_id": id}).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return storage.ErrNotFound
	}
	return err
}

func (s *Store) delete(ctx context.Context, coll, id string) error {
	res, err := s.db.Collection(coll).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func find[T any](ctx context.Context, coll *mongo.Collection, filter bson.M, sort bson.D) ([]T, error) {
	cur, err := coll.Find(ctx, filter, options.Find().SetSort(sort))
	if err != nil {
		return nil, err
	}
	out := []T{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

var byName = bson.D{{Key: "name", Value: 1}, {Key: "_id", Value: 1}}

func (s *Store) PutAppointmentType(ctx context.Context, t model.AppointmentType) error {
	return s.put(ctx, collAppointmentTypes, t.ID, t)
}

func (s *Store) GetAppointmentType(ctx context.Context, id string) (model.AppointmentType, error) {
	var t model.AppointmentType
	err := s.get(ctx, collAppointmentTypes, id, &t)
	return t, err
}

func (s *Store) ListAppointmentTypes(ctx context.Context) ([]model.AppointmentType, error) {
	return find[model.AppointmentType](ctx, s.db.Collection(collAppointmentTypes), bson.M{}, byName)
}

func (s *Store) DeleteAppointmentType(ctx context.Context, id string) error {
	return s.delete(ctx, collAppointmentTypes, id)
}

func (s *Store) PutProvider(ctx context.Context, p model.Provider) error {
	return s.put(ctx, collProviders, p.ID, p)
}

func (s *Store) GetProvider(ctx context.Context, id string) (model.Provider, error) {
	var p model.Provider
	err := s.get(ctx, collProviders, id, &p)
	return p, err
}

func (s *Store) ListProviders(ctx context.Context, f storage.ProviderFilter) ([]model.Provider, error) {
	filter := bson.M{}
	if f.ActiveOnly {
		filter["active"] = true
	}
	if f.AppointmentTypeID != "" {
		// Equality on an array field matches any element.
		filter["appointment_type_ids"] = f.AppointmentTypeID
	}
	return find[model.Provider](ctx, s.db.Collection(collProviders), filter, byName)
}

func (s *Store) PutCustomer(ctx context.Context, c model.Customer) error {
	return s.put(ctx, collCustomers, c.ID, c)
}

func (s *Store) GetCustomer(ctx context.Context, id string) (model.Customer, error) {
	var c model.Customer
	err := s.get(ctx, collCustomers, id, &c)
	return c, err
}

func (s *Store) ListCustomers(ctx context.Context, f storage.CustomerFilter) ([]model.Customer, error) {
	filter := bson.M{}
	if f.Email != "" {
		filter["email"] = f.Email
	}
	if f.Phone != "" {
		filter["phone"] = f.Phone
	}
	return find[model.Customer](ctx, s.db.Collection(collCustomers), filter, byName)
}

func (s *Store) DeleteCustomer(ctx context.Context, id string) error {
	return s.delete(ctx, collCustomers, id)
}

var byStart = bson.D{{Key: "start_time", Value: 1}, {Key: "_id", Value: 1}}

func (s *Store) GetAppointment(ctx context.Context, id string) (model.Appointment, error) {
	var a model.Appointment
	err := s.get(ctx, collAppointments, id, &a)
	return a, err
}

func (s *Store) ListAppointments(ctx context.Context, f storage.AppointmentFilter) ([]model.Appointment, error) {
	filter := bson.M{}
	if f.ProviderID != "" {
		filter["provider_id"] = f.ProviderID
	}
	if f.CustomerID != "" {
		filter["customer_id"] = f.CustomerID
	}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	start := bson.M{}
	if !f.From.IsZero() {
		start["$gte"] = f.From
	}
	if !f.To.IsZero() {
		start["$lt"] = f.To
	}
	if len(start) > 0 {
		filter["start_time"] = start
	}
	return find[model.Appointment](ctx, s.db.Collection(collAppointments), filter, byStart)
}

type scheduleDoc struct {
	ProviderID string `bson:"_id"`
	Revision   int64  `bson:"revision"`
}

// ProviderSchedule reads the revision before the appointments. A write landing in between makes
// the snapshot newer than its revision, which WriteAppointment then rejects.
func (s *Store) ProviderSchedule(ctx context.Context, providerID string, from, to time.Time) (storage.Schedule, error) {
	var doc scheduleDoc
	err := s.db.Collection(collProviderSchedules).FindOne(ctx, bson.M{"_id": providerID}).Decode(&doc)
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return storage.Schedule{}, err
	}
	appts, err := find[model.Appointment](ctx, s.db.Collection(collAppointments), bson.M{
		"provider_id": providerID,
		"status":      model.StatusScheduled,
		"start_time":  bson.M{"$lt": to},
		"end_time":    bson.M{"$gt": from},
	}, byStart)
	if err != nil {
		return storage.Schedule{}, err
	}
	return storage.Schedule{ProviderID: providerID, Revision: doc.Revision, Appointments: appts}, nil
}

func (s *Store) WriteAppointment(ctx context.Context, appt model.Appointment, expectedRevision int64, evs ...storage.OutboxEvent) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("could not start mongo session: %w", err)
	}
	defer sess.EndSession(ctx)

	txnFn := func(sc mongo.SessionContext) error {
		schedules := s.db.Collection(collProviderSchedules)
		if expectedRevision == 0 {
			if _, err := schedules.InsertOne(sc, scheduleDoc{ProviderID: appt.ProviderID, Revision: 1}); err != nil {
				if mongo.IsDuplicateKeyError(err) {
					return storage.ErrRevisionConflict
				}
				return err
			}
		} else {
			res, err := schedules.UpdateOne(sc,
				bson.M{"_id": appt.ProviderID, "revision": expectedRevision},
				bson.M{"$inc": bson.M{"revision": 1}},
			)
			if err != nil {
				return err
			}
			if res.MatchedCount == 0 {
				return storage.ErrRevisionConflict
			}
		}
		if _, err := s.db.Collection(collAppointments).ReplaceOne(sc, bson.M{"_id": appt.ID}, appt, options.Replace().SetUpsert(true)); err != nil {
			return err
		}
		if len(evs) == 0 {
			return nil
		}
		docs := make([]any, len(evs))
		for i, ev := range evs {
			docs[i] = toOutboxDoc(ev)
		}
		_, err := s.db.Collection(collOutbox).InsertMany(sc, docs)
		return err
	}

	err = mongo.WithSession(ctx, sess, func(sc mongo.SessionContext) error {
		if err := sc.StartTransaction(); err != nil {
			return err
		}
		if err := txnFn(sc); err != nil {
			_ = sc.AbortTransaction(sc)
			return err
		}
		return sc.CommitTransaction(sc)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrRevisionConflict), isWriteConflict(err):
		return storage.ErrRevisionConflict
	default:
		return fmt.Errorf("appointment transaction failed: %w", err)
	}
}

// isWriteConflict detects a concurrent transaction touching the same schedule document.
func isWriteConflict(err error) bool {
	var labeled mongo.LabeledError
	if errors.As(err, &labeled) && labeled.HasErrorLabel("TransientTransactionError") {
		return true
	}
	return mongo.IsDuplicateKeyError(err)
}

type outboxDoc struct {
	ID          string     `bson:"_id"`
	Type        string     `bson:"event_type"`
	Key         string     `bson:"event_key"`
	Payload     []byte     `bson:"payload"`
	Traceparent string     `bson:"traceparent"`
	Tracestate  string     `bson:"tracestate"`
	OccurredAt  time.Time  `bson:"occurred_at"`
	Published   bool       `bson:"published"`
	PublishedAt *time.Time `bson:"published_at,omitempty"`
}

func toOutboxDoc(ev storage.OutboxEvent) outboxDoc {
	return outboxDoc{
		ID: ev.ID, Type: ev.Type, Key: ev.Key, Payload: ev.Payload,
		Traceparent: ev.Traceparent, Tracestate: ev.Tracestate, OccurredAt: ev.OccurredAt,
	}
}

// DrainOutbox delivers at least once: a relay that dies between publish and the update resends
// the batch.
func (s *Store) DrainOutbox(ctx context.Context, limit int, publish func(context.Context, []storage.OutboxEvent) error) (int, error) {
	coll := s.db.Collection(collOutbox)
	opts := options.Find().
		SetSort(bson.D{{Key: "occurred_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit))
	cur, err := coll.Find(ctx, bson.M{"published": false}, opts)
	if err != nil {
		return 0, err
	}
	var docs []outboxDoc
	if err := cur.All(ctx, &docs); err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}

	batch := make([]storage.OutboxEvent, len(docs))
	ids := make([]string, len(docs))
	for i, d := range docs {
		batch[i] = storage.OutboxEvent{
			ID: d.ID, Type: d.Type, Key: d.Key, Payload: d.Payload,
			Traceparent: d.Traceparent, Tracestate: d.Tracestate, OccurredAt: d.OccurredAt,
		}
		ids[i] = d.ID
	}
	if err := publish(ctx, batch); err != nil {
		return 0, err
	}
	_, err = coll.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}},
		bson.M{"$set": bson.M{"published": true, "published_at": time.Now().UTC()}},
	)
	if err != nil {
		return 0, fmt.Errorf("mark outbox events published: %w", err)
	}
	return len(batch), nil
}
