package model

import (
	"net/mail"
	"strings"
	"time"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/apperr"
)

type AppointmentType struct {
	ID              string    `json:"id" bson:"_id" firestore:"id"`
	Name            string    `json:"name" bson:"name" firestore:"name"`
	Description     string    `json:"description,omitempty" bson:"description,omitempty" firestore:"description"`
	DurationMinutes int       `json:"duration_minutes" bson:"duration_minutes" firestore:"duration_minutes"`
	Price           float64   `json:"price" bson:"price" firestore:"price"`
	Color           string    `json:"color,omitempty" bson:"color,omitempty" firestore:"color"`
	CreatedAt       time.Time `json:"created_at" bson:"created_at" firestore:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" bson:"updated_at" firestore:"updated_at"`
}

func (t AppointmentType) Duration() time.Duration {
	return time.Duration(t.DurationMinutes) * time.Minute
}

func (t AppointmentType) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return apperr.Validation("name is required")
	}
	if t.DurationMinutes <= 0 {
		return apperr.Validation("duration_minutes must be positive")
	}
	if t.Price < 0 {
		return apperr.Validation("price must not be negative")
	}
	return nil
}

type Provider struct {
	ID                 string               `json:"id" bson:"_id" firestore:"id"`
	Name               string               `json:"name" bson:"name" firestore:"name"`
	Email              string               `json:"email" bson:"email" firestore:"email"`
	Phone              string               `json:"phone,omitempty" bson:"phone,omitempty" firestore:"phone"`
	Specialization     string               `json:"specialization,omitempty" bson:"specialization,omitempty" firestore:"specialization"`
	AppointmentTypeIDs []string             `json:"appointment_type_ids" bson:"appointment_type_ids" firestore:"appointment_type_ids"`
	Active             bool                 `json:"active" bson:"active" firestore:"active"`
	Timezone           string               `json:"timezone" bson:"timezone" firestore:"timezone"`
	Availability       []AvailabilityWindow `json:"availability" bson:"availability" firestore:"availability"`
	UnavailableDates   []string             `json:"unavailable_dates,omitempty" bson:"unavailable_dates,omitempty" firestore:"unavailable_dates"`
	CreatedAt          time.Time            `json:"created_at" bson:"created_at" firestore:"created_at"`
	UpdatedAt          time.Time            `json:"updated_at" bson:"updated_at" firestore:"updated_at"`
}

// Offers reports whether the provider accepts bookings of the given appointment type.
func (p Provider) Offers(typeID string) bool {
	for _, id := range p.AppointmentTypeIDs {
		if id == typeID {
			return true
		}
	}
	return false
}

// Location resolves the provider's IANA timezone, UTC when unset.
func (p Provider) Location() (*time.Location, error) {
	if p.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return nil, apperr.Validation("unknown timezone %q", p.Timezone)
	}
	return loc, nil
}

// Validate checks the provider's own fields. Appointment type references are checked by the
// catalog against the store.
func (p Provider) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return apperr.Validation("name is required")
	}
	if err := validateEmail(p.Email); err != nil {
		return err
	}
	if _, err := p.Location(); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(p.AppointmentTypeIDs))
	for _, id := range p.AppointmentTypeIDs {
		if strings.TrimSpace(id) == "" {
			return apperr.Validation("appointment_type_ids must not contain empty ids")
		}
		if _, dup := seen[id]; dup {
			return apperr.Validation("appointment type %s listed twice", id)
		}
		seen[id] = struct{}{}
	}
	for _, d := range p.UnavailableDates {
		if _, err := time.Parse(DateLayout, d); err != nil {
			return apperr.Validation("unavailable date %q must be YYYY-MM-DD", d)
		}
	}
	return ValidateWindows(p.Availability)
}

type Customer struct {
	ID        string    `json:"id" bson:"_id" firestore:"id"`
	Name      string    `json:"name" bson:"name" firestore:"name"`
	Email     string    `json:"email" bson:"email" firestore:"email"`
	Phone     string    `json:"phone,omitempty" bson:"phone,omitempty" firestore:"phone"`
	Address   string    `json:"address,omitempty" bson:"address,omitempty" firestore:"address"`
	CreatedAt time.Time `json:"created_at" bson:"created_at" firestore:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at" firestore:"updated_at"`
}

func (c Customer) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return apperr.Validation("name is required")
	}
	return validateEmail(c.Email)
}

func validateEmail(email string) error {
	if strings.TrimSpace(email) == "" {
		return apperr.Validation("email is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return apperr.Validation("email %q is not a valid address", email)
	}
	return nil
}
