package storage

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
)

// Memory is a Store held in process memory. It is safe for concurrent use.
type Memory struct {
	mu           sync.RWMutex
	types        map[string]model.AppointmentType
	providers    map[string]model.Provider
	customers    map[string]model.Customer
	appointments map[string]model.Appointment
	revisions    map[string]int64
	// outbox holds unpublished events in write order.
	outbox  []OutboxEvent
	drainMu sync.Mutex
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		types:        make(map[string]model.AppointmentType),
		providers:    make(map[string]model.Provider),
		customers:    make(map[string]model.Customer),
		appointments: make(map[string]model.Appointment),
		revisions:    make(map[string]int64),
	}
}

func (m *Memory) Ping(context.Context) error  { return nil }
func (m *Memory) Close(context.Context) error { return nil }

func (m *Memory) PutAppointmentType(_ context.Context, t model.AppointmentType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.types[t.ID] = t
	return nil
}

func (m *Memory) GetAppointmentType(_ context.Context, id string) (model.AppointmentType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.types[id]
	if !ok {
		return model.AppointmentType{}, ErrNotFound
	}
	return t, nil
}

func (m *Memory) ListAppointmentTypes(context.Context) ([]model.AppointmentType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.AppointmentType, 0, len(m.types))
	for _, t := range m.types {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b model.AppointmentType) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (m *Memory) DeleteAppointmentType(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.types[id]; !ok {
		return ErrNotFound
	}
	delete(m.types, id)
	return nil
}

func (m *Memory) PutProvider(_ context.Context, p model.Provider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[p.ID] = cloneProvider(p)
	return nil
}

// cloneProvider detaches the slices so callers never share memory with the stored copy.
func cloneProvider(p model.Provider) model.Provider {
	p.AppointmentTypeIDs = slices.Clone(p.AppointmentTypeIDs)
	p.Availability = slices.Clone(p.Availability)
	p.UnavailableDates = slices.Clone(p.UnavailableDates)
	return p
}

func (m *Memory) GetProvider(_ context.Context, id string) (model.Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.providers[id]
	if !ok {
		return model.Provider{}, ErrNotFound
	}
	return cloneProvider(p), nil
}

func (m *Memory) ListProviders(_ context.Context, f ProviderFilter) ([]model.Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Provider
	for _, p := range m.providers {
		if f.ActiveOnly && !p.Active {
			continue
		}
		if f.AppointmentTypeID != "" && !p.Offers(f.AppointmentTypeID) {
			continue
		}
		out = append(out, cloneProvider(p))
	}
	slices.SortFunc(out, func(a, b model.Provider) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (m *Memory) PutCustomer(_ context.Context, c model.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customers[c.ID] = c
	return nil
}

func (m *Memory) GetCustomer(_ context.Context, id string) (model.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.customers[id]
	if !ok {
		return model.Customer{}, ErrNotFound
	}
	return c, nil
}

func (m *Memory) ListCustomers(_ context.Context, f CustomerFilter) ([]model.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Customer
	for _, c := range m.customers {
		if f.Email != "" && c.Email != f.Email {
			continue
		}
		if f.Phone != "" && c.Phone != f.Phone {
			continue
		}
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b model.Customer) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (m *Memory) DeleteCustomer(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.customers[id]; !ok {
		return ErrNotFound
	}
	delete(m.customers, id)
	return nil
}

func (m *Memory) GetAppointment(_ context.Context, id string) (model.Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.appointments[id]
	if !ok {
		return model.Appointment{}, ErrNotFound
	}
	return a, nil
}

func (m *Memory) ListAppointments(_ context.Context, f AppointmentFilter) ([]model.Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Appointment
	for _, a := range m.appointments {
		if MatchAppointment(a, f) {
			out = append(out, a)
		}
	}
	SortAppointments(out)
	return out, nil
}

func (m *Memory) ProviderSchedule(_ context.Context, providerID string, from, to time.Time) (Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Schedule{ProviderID: providerID, Revision: m.revisions[providerID]}
	for _, a := range m.appointments {
		if a.ProviderID == providerID && a.Blocks() && a.Overlaps(from, to) {
			s.Appointments = append(s.Appointments, a)
		}
	}
	SortAppointments(s.Appointments)
	return s, nil
}

func (m *Memory) WriteAppointment(_ context.Context, appt model.Appointment, expectedRevision int64, evs ...OutboxEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.revisions[appt.ProviderID] != expectedRevision {
		return ErrRevisionConflict
	}
	m.revisions[appt.ProviderID] = expectedRevision + 1
	m.appointments[appt.ID] = appt
	for _, ev := range evs {
		ev.Payload = slices.Clone(ev.Payload)
		m.outbox = append(m.outbox, ev)
	}
	return nil
}

// DrainOutbox publishes without holding the store lock. Only drains remove events and they are
// serialized, so the head of the outbox cannot change underneath one.
func (m *Memory) DrainOutbox(ctx context.Context, limit int, publish func(context.Context, []OutboxEvent) error) (int, error) {
	m.drainMu.Lock()
	defer m.drainMu.Unlock()

	m.mu.RLock()
	batch := slices.Clone(m.outbox[:min(limit, len(m.outbox))])
	m.mu.RUnlock()
	if len(batch) == 0 {
		return 0, nil
	}
	if err := publish(ctx, batch); err != nil {
		return 0, err
	}

	m.mu.Lock()
	m.outbox = slices.Delete(m.outbox, 0, len(batch))
	m.mu.Unlock()
	return len(batch), nil
}

// MatchAppointment applies f to a single appointment. Adapters that cannot express a filter in
// their query language use it to finish the job in memory.
func MatchAppointment(a model.Appointment, f AppointmentFilter) bool {
	switch {
	case f.ProviderID != "" && a.ProviderID != f.ProviderID:
		return false
	case f.CustomerID != "" && a.CustomerID != f.CustomerID:
		return false
	case f.Status != "" && a.Status != f.Status:
		return false
	case !f.From.IsZero() && a.StartTime.Before(f.From):
		return false
	case !f.To.IsZero() && !a.StartTime.Before(f.To):
		return false
	}
	return true
}

func SortAppointments(appts []model.Appointment) {
	slices.SortFunc(appts, func(a, b model.Appointment) int {
		return cmp.Or(a.StartTime.Compare(b.StartTime), cmp.Compare(a.ID, b.ID))
	})
}
