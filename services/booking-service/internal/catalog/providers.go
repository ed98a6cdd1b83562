package catalog

import (
	"context"
	"slices"
	"strings"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage"
)

type ProviderInput struct {
	Name               string                     `json:"name"`
	Email              string                     `json:"email"`
	Phone              string                     `json:"phone"`
	Specialization     string                     `json:"specialization"`
	AppointmentTypeIDs []string                   `json:"appointment_type_ids"`
	Timezone           string                     `json:"timezone"`
	Availability       []model.AvailabilityWindow `json:"availability"`
	UnavailableDates   []string                   `json:"unavailable_dates"`
}

type ProviderPatch struct {
	Name               *string   `json:"name"`
	Email              *string   `json:"email"`
	Phone              *string   `json:"phone"`
	Specialization     *string   `json:"specialization"`
	AppointmentTypeIDs *[]string `json:"appointment_type_ids"`
	Timezone           *string   `json:"timezone"`
	Active             *bool     `json:"active"`
}

// Availability is the schedule view of a provider served under /providers/{id}/availability.
type Availability struct {
	ProviderID       string                     `json:"provider_id"`
	Timezone         string                     `json:"timezone"`
	Windows          []model.AvailabilityWindow `json:"windows"`
	UnavailableDates []string                   `json:"unavailable_dates"`
}

func availabilityOf(p model.Provider) Availability {
	a := Availability{
		ProviderID:       p.ID,
		Timezone:         p.Timezone,
		Windows:          p.Availability,
		UnavailableDates: p.UnavailableDates,
	}
	if a.Windows == nil {
		a.Windows = []model.AvailabilityWindow{}
	}
	if a.UnavailableDates == nil {
		a.UnavailableDates = []string{}
	}
	return a
}

func (s *Service) CreateProvider(ctx context.Context, in ProviderInput) (model.Provider, error) {
	now := s.now()
	p := model.Provider{
		ID:                 s.newID(),
		Name:               strings.TrimSpace(in.Name),
		Email:              strings.TrimSpace(in.Email),
		Phone:              in.Phone,
		Specialization:     in.Specialization,
		AppointmentTypeIDs: in.AppointmentTypeIDs,
		Active:             true,
		Timezone:           in.Timezone,
		Availability:       in.Availability,
		UnavailableDates:   in.UnavailableDates,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if p.Timezone == "" {
		p.Timezone = "UTC"
	}
	if p.AppointmentTypeIDs == nil {
		p.AppointmentTypeIDs = []string{}
	}
	if err := s.validateProvider(ctx, p); err != nil {
		return model.Provider{}, err
	}
	if err := s.store.PutProvider(ctx, p); err != nil {
		return model.Provider{}, err
	}
	return p, nil
}

func (s *Service) validateProvider(ctx context.Context, p model.Provider) error {
	if err := p.Validate(); err != nil {
		return err
	}
	for _, id := range p.AppointmentTypeIDs {
		if _, err := s.AppointmentType(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) Provider(ctx context.Context, id string) (model.Provider, error) {
	p, err := s.store.GetProvider(ctx, id)
	if err != nil {
		return model.Provider{}, lookupErr(err, "provider", id)
	}
	return p, nil
}

func (s *Service) ListProviders(ctx context.Context, f storage.ProviderFilter) ([]model.Provider, error) {
	return s.store.ListProviders(ctx, f)
}

func (s *Service) UpdateProvider(ctx context.Context, id string, patch ProviderPatch) (model.Provider, error) {
	p, err := s.Provider(ctx, id)
	if err != nil {
		return model.Provider{}, err
	}
	p.Name = strings.TrimSpace(strOr(patch.Name, p.Name))
	p.Email = strings.TrimSpace(strOr(patch.Email, p.Email))
	p.Phone = strOr(patch.Phone, p.Phone)
	p.Specialization = strOr(patch.Specialization, p.Specialization)
	p.Timezone = strOr(patch.Timezone, p.Timezone)
	if patch.AppointmentTypeIDs != nil {
		p.AppointmentTypeIDs = slices.Clone(*patch.AppointmentTypeIDs)
	}
	if patch.Active != nil {
		p.Active = *patch.Active
	}
	p.UpdatedAt = s.now()
	if err := s.validateProvider(ctx, p); err != nil {
		return model.Provider{}, err
	}
	if err := s.store.PutProvider(ctx, p); err != nil {
		return model.Provider{}, err
	}
	return p, nil
}

// DeactivateProvider hides the provider from booking while keeping its history.
func (s *Service) DeactivateProvider(ctx context.Context, id string) error {
	p, err := s.Provider(ctx, id)
	if err != nil {
		return err
	}
	if !p.Active {
		return nil
	}
	p.Active = false
	p.UpdatedAt = s.now()
	return s.store.PutProvider(ctx, p)
}

func (s *Service) ProviderAvailability(ctx context.Context, id string) (Availability, error) {
	p, err := s.Provider(ctx, id)
	if err != nil {
		return Availability{}, err
	}
	return availabilityOf(p), nil
}

// SetProviderAvailability replaces the provider's windows and unavailable dates. An empty
// timezone keeps the current one.
func (s *Service) SetProviderAvailability(ctx context.Context, id string, a Availability) (Availability, error) {
	if a.ProviderID != "" && a.ProviderID != id {
		return Availability{}, apperr.Validation("provider_id %q does not match path", a.ProviderID)
	}
	p, err := s.Provider(ctx, id)
	if err != nil {
		return Availability{}, err
	}
	if a.Timezone != "" {
		p.Timezone = a.Timezone
	}
	p.Availability = slices.Clone(a.Windows)
	p.UnavailableDates = slices.Clone(a.UnavailableDates)
	p.UpdatedAt = s.now()
	if err := p.Validate(); err != nil {
		return Availability{}, err
	}
	if err := s.store.PutProvider(ctx, p); err != nil {
		return Availability{}, err
	}
	return availabilityOf(p), nil
}
