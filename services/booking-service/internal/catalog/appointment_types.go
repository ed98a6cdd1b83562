package catalog

import (
	"context"
	"strings"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage"
)

type AppointmentTypeInput struct {
	Name            string  `json:"name"`
	Description     string  `json:"description"`
	DurationMinutes int     `json:"duration_minutes"`
	Price           float64 `json:"price"`
	Color           string  `json:"color"`
}

type AppointmentTypePatch struct {
	Name            *string  `json:"name"`
	Description     *string  `json:"description"`
	DurationMinutes *int     `json:"duration_minutes"`
	Price           *float64 `json:"price"`
	Color           *string  `json:"color"`
}

func (s *Service) CreateAppointmentType(ctx context.Context, in AppointmentTypeInput) (model.AppointmentType, error) {
	now := s.now()
	t := model.AppointmentType{
		ID:              s.newID(),
		Name:            strings.TrimSpace(in.Name),
		Description:     in.Description,
		DurationMinutes: in.DurationMinutes,
		Price:           in.Price,
		Color:           in.Color,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := t.Validate(); err != nil {
		return model.AppointmentType{}, err
	}
	if err := s.store.PutAppointmentType(ctx, t); err != nil {
		return model.AppointmentType{}, err
	}
	return t, nil
}

func (s *Service) AppointmentType(ctx context.Context, id string) (model.AppointmentType, error) {
	t, err := s.store.GetAppointmentType(ctx, id)
	if err != nil {
		return model.AppointmentType{}, lookupErr(err, "appointment type", id)
	}
	return t, nil
}

func (s *Service) ListAppointmentTypes(ctx context.Context) ([]model.AppointmentType, error) {
	return s.store.ListAppointmentTypes(ctx)
}

// UpdateAppointmentType applies the non-nil fields of p. Existing appointments keep their end time;
// a new duration only affects later bookings.
func (s *Service) UpdateAppointmentType(ctx context.Context, id string, p AppointmentTypePatch) (model.AppointmentType, error) {
	t, err := s.AppointmentType(ctx, id)
	if err != nil {
		return model.AppointmentType{}, err
	}
	t.Name = strings.TrimSpace(strOr(p.Name, t.Name))
	t.Description = strOr(p.Description, t.Description)
	t.Color = strOr(p.Color, t.Color)
	if p.DurationMinutes != nil {
		t.DurationMinutes = *p.DurationMinutes
	}
	if p.Price != nil {
		t.Price = *p.Price
	}
	t.UpdatedAt = s.now()
	if err := t.Validate(); err != nil {
		return model.AppointmentType{}, err
	}
	if err := s.store.PutAppointmentType(ctx, t); err != nil {
		return model.AppointmentType{}, err
	}
	return t, nil
}

// DeleteAppointmentType refuses while any provider, active or not, still offers the type.
func (s *Service) DeleteAppointmentType(ctx context.Context, id string) error {
	if _, err := s.AppointmentType(ctx, id); err != nil {
		return err
	}
	offering, err := s.store.ListProviders(ctx, storage.ProviderFilter{AppointmentTypeID: id})
	if err != nil {
		return err
	}
	if len(offering) > 0 {
		return apperr.Validation("appointment type %s is still offered by %d provider(s)", id, len(offering))
	}
	if err := s.store.DeleteAppointmentType(ctx, id); err != nil {
		return lookupErr(err, "appointment type", id)
	}
	return nil
}
