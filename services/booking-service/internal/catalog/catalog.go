// Package catalog manages appointment types, providers with their availability, and customers.
package catalog

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage"
)

type Service struct {
	store storage.Store
	now   func() time.Time
	newID func() string
}

func New(store storage.Store) *Service {
	return &Service{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// lookupErr maps a store miss onto a NotFound naming the entity.
func lookupErr(err error, entity, id string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound("%s %s not found", entity, id)
	}
	return fmt.Errorf("load %s %s: %w", entity, id, err)
}

func strOr(p *string, cur string) string {
	if p == nil {
		return cur
	}
	return *p
}
