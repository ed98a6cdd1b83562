// Package pgstore implements storage.Store on PostgreSQL. Overlap between scheduled appointments
// is additionally enforced by an exclusion constraint.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/md-rashed-zaman/slotbook/libs/db"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage"
)

//go:embed schema.sql
var schema string

type Store struct {
	pool *db.Pool
}

var _ storage.Store = (*Store)(nil)

func New(pool *db.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate creates the tables if they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) Close(context.Context) error {
	s.pool.Close()
	return nil
}

func (s *Store) PutAppointmentType(ctx context.Context, t model.AppointmentType) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO appointment_types (id, name, description, duration_minutes, price, color, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			duration_minutes = EXCLUDED.duration_minutes,
			price = EXCLUDED.price,
			color = EXCLUDED.color,
			updated_at = EXCLUDED.updated_at
	`, t.ID, t.Name, t.Description, t.DurationMinutes, t.Price, t.Color, t.CreatedAt, t.UpdatedAt)
	return err
}

const appointmentTypeColumns = `id, name, description, duration_minutes, price, color, created_at, updated_at`

func scanAppointmentType(row pgx.Row) (model.AppointmentType, error) {
	var t model.AppointmentType
	err := row.Scan(&t.ID, &t.Name, &t.Description, &t.DurationMinutes, &t.Price, &t.Color, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func (s *Store) GetAppointmentType(ctx context.Context, id string) (model.AppointmentType, error) {
	t, err := scanAppointmentType(s.pool.QueryRow(ctx, `SELECT `+appointmentTypeColumns+` FROM appointment_types WHERE id = $1`, id))
	return t, translate(err)
}

func (s *Store) ListAppointmentTypes(ctx context.Context) ([]model.AppointmentType, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+appointmentTypeColumns+` FROM appointment_types ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAppointmentType)
}

func (s *Store) DeleteAppointmentType(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM appointment_types WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) PutProvider(ctx context.Context, p model.Provider) error {
	typeIDs := p.AppointmentTypeIDs
	if typeIDs == nil {
		typeIDs = []string{}
	}
	windows := p.Availability
	if windows == nil {
		windows = []model.AvailabilityWindow{}
	}
	dates := p.UnavailableDates
	if dates == nil {
		dates = []string{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO providers
			(id, name, email, phone, specialization, appointment_type_ids, active, timezone, availability, unavailable_dates, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			specialization = EXCLUDED.specialization,
			appointment_type_ids = EXCLUDED.appointment_type_ids,
			active = EXCLUDED.active,
			timezone = EXCLUDED.timezone,
			availability = EXCLUDED.availability,
			unavailable_dates = EXCLUDED.unavailable_dates,
			updated_at = EXCLUDED.updated_at
	`, p.ID, p.Name, p.Email, p.Phone, p.Specialization, typeIDs, p.Active, p.Timezone, windows, dates, p.CreatedAt, p.UpdatedAt)
	return err
}

const providerColumns = `id, name, email, phone, specialization, appointment_type_ids, active, timezone, availability, unavailable_dates, created_at, updated_at`

func scanProvider(row pgx.Row) (model.Provider, error) {
	var p model.Provider
	err := row.Scan(&p.ID, &p.Name, &p.Email, &p.Phone, &p.Specialization, &p.AppointmentTypeIDs, &p.Active,
		&p.Timezone, &p.Availability, &p.UnavailableDates, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (s *Store) GetProvider(ctx context.Context, id string) (model.Provider, error) {
	p, err := scanProvider(s.pool.QueryRow(ctx, `SELECT `+providerColumns+` FROM providers WHERE id = $1`, id))
	return p, translate(err)
}

func (s *Store) ListProviders(ctx context.Context, f storage.ProviderFilter) ([]model.Provider, error) {
	var where []string
	var args []any
	if f.ActiveOnly {
		where = append(where, "active")
	}
	if f.AppointmentTypeID != "" {
		args = append(args, f.AppointmentTypeID)
		where = append(where, fmt.Sprintf("$%d = ANY(appointment_type_ids)", len(args)))
	}
	rows, err := s.pool.Query(ctx, `SELECT `+providerColumns+` FROM providers`+whereClause(where)+` ORDER BY name, id`, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanProvider)
}

func (s *Store) PutCustomer(ctx context.Context, c model.Customer) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO customers (id, name, email, phone, address, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			address = EXCLUDED.address,
			updated_at = EXCLUDED.updated_at
	`, c.ID, c.Name, c.Email, c.Phone, c.Address, c.CreatedAt, c.UpdatedAt)
	return err
}

const customerColumns = `id, name, email, phone, address, created_at, updated_at`

func scanCustomer(row pgx.Row) (model.Customer, error) {
	var c model.Customer
	err := row.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Address, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (s *Store) GetCustomer(ctx context.Context, id string) (model.Customer, error) {
	c, err := scanCustomer(s.pool.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id))
	return c, translate(err)
}

func (s *Store) ListCustomers(ctx context.Context, f storage.CustomerFilter) ([]model.Customer, error) {
	var where []string
	var args []any
	if f.Email != "" {
		args = append(args, f.Email)
		where = append(where, fmt.Sprintf("email = $%d", len(args)))
	}
	if f.Phone != "" {
		args = append(args, f.Phone)
		where = append(where, fmt.Sprintf("phone = $%d", len(args)))
	}
	rows, err := s.pool.Query(ctx, `SELECT `+customerColumns+` FROM customers`+whereClause(where)+` ORDER BY name, id`, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanCustomer)
}

func (s *Store) DeleteCustomer(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM customers WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

const appointmentColumns = `id, provider_id, customer_id, appointment_type_id, start_time, end_time, status, notes, created_at, updated_at, cancelled_at`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var a model.Appointment
	var status string
	err := row.Scan(&a.ID, &a.ProviderID, &a.CustomerID, &a.AppointmentTypeID, &a.StartTime, &a.EndTime,
		&status, &a.Notes, &a.CreatedAt, &a.UpdatedAt, &a.CancelledAt)
	a.Status = model.Status(status)
	return a, err
}

func (s *Store) GetAppointment(ctx context.Context, id string) (model.Appointment, error) {
	a, err := scanAppointment(s.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id))
	return a, translate(err)
}

func (s *Store) ListAppointments(ctx context.Context, f storage.AppointmentFilter) ([]model.Appointment, error) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.ProviderID != "" {
		add("provider_id = $%d", f.ProviderID)
	}
	if f.CustomerID != "" {
		add("customer_id = $%d", f.CustomerID)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if !f.From.IsZero() {
		add("start_time >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("start_time < $%d", f.To)
	}
	rows, err := s.pool.Query(ctx, `SELECT `+appointmentColumns+` FROM appointments`+whereClause(where)+` ORDER BY start_time, id`, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAppointment)
}

func (s *Store) ProviderSchedule(ctx context.Context, providerID string, from, to time.Time) (storage.Schedule, error) {
	sched := storage.Schedule{ProviderID: providerID}
	err := s.pool.InTxWith(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `SELECT revision FROM provider_schedules WHERE provider_id = $1`, providerID).Scan(&sched.Revision)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		rows, err := tx.Query(ctx, `
			SELECT `+appointmentColumns+`
			FROM appointments
			WHERE provider_id = $1
				AND status = 'scheduled'
				AND start_time < $3
				AND end_time > $2
			ORDER BY start_time, id
		`, providerID, from, to)
		if err != nil {
			return err
		}
		sched.Appointments, err = collect(rows, scanAppointment)
		return err
	})
	if err != nil {
		return storage.Schedule{}, err
	}
	return sched, nil
}

func (s *Store) WriteAppointment(ctx context.Context, appt model.Appointment, expectedRevision int64, evs ...storage.OutboxEvent) error {
	return s.pool.InTx(ctx, func(tx pgx.Tx) error {
		var tag pgconn.CommandTag
		var err error
		if expectedRevision == 0 {
			tag, err = tx.Exec(ctx, `
				INSERT INTO provider_schedules (provider_id, revision) VALUES ($1, 1)
				ON CONFLICT (provider_id) DO NOTHING
			`, appt.ProviderID)
		} else {
			tag, err = tx.Exec(ctx, `
				UPDATE provider_schedules SET revision = revision + 1
				WHERE provider_id = $1 AND revision = $2
			`, appt.ProviderID, expectedRevision)
		}
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 1 {
			return storage.ErrRevisionConflict
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO appointments (`+appointmentColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (id) DO UPDATE SET
				start_time = EXCLUDED.start_time,
				end_time = EXCLUDED.end_time,
				status = EXCLUDED.status,
				notes = EXCLUDED.notes,
				updated_at = EXCLUDED.updated_at,
				cancelled_at = EXCLUDED.cancelled_at
		`, appt.ID, appt.ProviderID, appt.CustomerID, appt.AppointmentTypeID, appt.StartTime, appt.EndTime,
			string(appt.Status), appt.Notes, appt.CreatedAt, appt.UpdatedAt, appt.CancelledAt)
		if IsConflict(err) {
			return storage.ErrOverlap
		}
		if err != nil {
			return err
		}

		for _, ev := range evs {
			_, err = tx.Exec(ctx, `
				INSERT INTO outbox_events (event_id, event_type, event_key, payload, traceparent, tracestate, occurred_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, ev.ID, ev.Type, ev.Key, ev.Payload, ev.Traceparent, ev.Tracestate, ev.OccurredAt)
			if err != nil {
				return fmt.Errorf("insert outbox event %s: %w", ev.ID, err)
			}
		}
		return nil
	})
}

func scanOutboxEvent(row pgx.Row) (storage.OutboxEvent, error) {
	var ev storage.OutboxEvent
	err := row.Scan(&ev.ID, &ev.Type, &ev.Key, &ev.Payload, &ev.Traceparent, &ev.Tracestate, &ev.OccurredAt)
	return ev, err
}

// DrainOutbox locks the batch with SKIP LOCKED, so concurrent relays publish disjoint batches.
func (s *Store) DrainOutbox(ctx context.Context, limit int, publish func(context.Context, []storage.OutboxEvent) error) (int, error) {
	var n int
	err := s.pool.InTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT event_id, event_type, event_key, payload, traceparent, tracestate, occurred_at
			FROM outbox_events
			WHERE published_at IS NULL
			ORDER BY seq
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		`, limit)
		if err != nil {
			return err
		}
		batch, err := collect(rows, scanOutboxEvent)
		if err != nil || len(batch) == 0 {
			return err
		}
		if err := publish(ctx, batch); err != nil {
			return err
		}
		ids := make([]string, len(batch))
		for i, ev := range batch {
			ids[i] = ev.ID
		}
		if _, err := tx.Exec(ctx, `UPDATE outbox_events SET published_at = now() WHERE event_id = ANY($1)`, ids); err != nil {
			return err
		}
		n = len(batch)
		return nil
	})
	return n, err
}

// IsConflict reports a violation of the appointments_no_overlap exclusion constraint.
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

func translate(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (T, error)) ([]T, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (T, error) {
		return scan(row)
	})
}
