package catalog

import (
	"context"
	"strings"

	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage"
)

type CustomerInput struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

type CustomerPatch struct {
	Name    *string `json:"name"`
	Email   *string `json:"email"`
	Phone   *string `json:"phone"`
	Address *string `json:"address"`
}

func (s *Service) CreateCustomer(ctx context.Context, in CustomerInput) (model.Customer, error) {
	now := s.now()
	c := model.Customer{
		ID:        s.newID(),
		Name:      strings.TrimSpace(in.Name),
		Email:     strings.TrimSpace(in.Email),
		Phone:     in.Phone,
		Address:   in.Address,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.Validate(); err != nil {
		return model.Customer{}, err
	}
	if err := s.store.PutCustomer(ctx, c); err != nil {
		return model.Customer{}, err
	}
	return c, nil
}

func (s *Service) Customer(ctx context.Context, id string) (model.Customer, error) {
	c, err := s.store.GetCustomer(ctx, id)
	if err != nil {
		return model.Customer{}, lookupErr(err, "customer", id)
	}
	return c, nil
}

func (s *Service) ListCustomers(ctx context.Context, f storage.CustomerFilter) ([]model.Customer, error) {
	return s.store.ListCustomers(ctx, f)
}

func (s *Service) UpdateCustomer(ctx context.Context, id string, p CustomerPatch) (model.Customer, error) {
	c, err := s.Customer(ctx, id)
	if err != nil {
		return model.Customer{}, err
	}
	c.Name = strings.TrimSpace(strOr(p.Name, c.Name))
	c.Email = strings.TrimSpace(strOr(p.Email, c.Email))
	c.Phone = strOr(p.Phone, c.Phone)
	c.Address = strOr(p.Address, c.Address)
	c.UpdatedAt = s.now()
	if err := c.Validate(); err != nil {
		return model.Customer{}, err
	}
	if err := s.store.PutCustomer(ctx, c); err != nil {
		return model.Customer{}, err
	}
	return c, nil
}

func (s *Service) DeleteCustomer(ctx context.Context, id string) error {
	if err := s.store.DeleteCustomer(ctx, id); err != nil {
		return lookupErr(err, "customer", id)
	}
	return nil
}
