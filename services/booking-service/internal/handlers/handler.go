package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/slotbook/libs/httpx"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/catalog"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
)

// Route groups. Each can be mounted alone so the resources can be deployed separately.
const (
	GroupAppointmentTypes = "appointment-types"
	GroupProviders        = "providers"
	GroupCustomers        = "customers"
	GroupAppointments     = "appointments"
)

var AllGroups = []string{GroupAppointmentTypes, GroupProviders, GroupCustomers, GroupAppointments}

type Handler struct {
	catalog *catalog.Service
	booking *booking.Service
	logger  *slog.Logger
}

func New(cat *catalog.Service, book *booking.Service, logger *slog.Logger) *Handler {
	return &Handler{catalog: cat, booking: book, logger: logger}
}

// Register mounts the named route groups on mux.
func (h *Handler) Register(mux *http.ServeMux, groups ...string) error {
	for _, g := range groups {
		switch g {
		case GroupAppointmentTypes:
			mux.HandleFunc("GET /appointment-types", h.ListAppointmentTypes)
			mux.HandleFunc("POST /appointment-types", h.CreateAppointmentType)
			mux.HandleFunc("GET /appointment-types/{id}", h.GetAppointmentType)
			mux.HandleFunc("PUT /appointment-types/{id}", h.UpdateAppointmentType)
			mux.HandleFunc("DELETE /appointment-types/{id}", h.DeleteAppointmentType)
		case GroupProviders:
			mux.HandleFunc("GET /providers", h.ListProviders)
			mux.HandleFunc("POST /providers", h.CreateProvider)
			mux.HandleFunc("GET /providers/{id}", h.GetProvider)
			mux.HandleFunc("PUT /providers/{id}", h.UpdateProvider)
			mux.HandleFunc("DELETE /providers/{id}", h.DeactivateProvider)
			mux.HandleFunc("GET /providers/{id}/availability", h.GetProviderAvailability)
			mux.HandleFunc("PUT /providers/{id}/availability", h.SetProviderAvailability)
		case GroupCustomers:
			mux.HandleFunc("GET /customers", h.ListCustomers)
			mux.HandleFunc("POST /customers", h.CreateCustomer)
			mux.HandleFunc("GET /customers/{id}", h.GetCustomer)
			mux.HandleFunc("PUT /customers/{id}", h.UpdateCustomer)
			mux.HandleFunc("DELETE /customers/{id}", h.DeleteCustomer)
		case GroupAppointments:
			mux.HandleFunc("GET /appointments", h.ListAppointments)
			mux.HandleFunc("POST /appointments", h.CreateAppointment)
			mux.HandleFunc("GET /appointments/{id}", h.GetAppointment)
			mux.HandleFunc("PUT /appointments/{id}", h.UpdateAppointment)
			mux.HandleFunc("DELETE /appointments/{id}", h.CancelAppointment)
			mux.HandleFunc("GET /available-slots", h.AvailableSlots)
		default:
			return fmt.Errorf("unknown route group %q", g)
		}
	}
	return nil
}

// StatusFor maps an error kind onto its HTTP status.
func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInvalidRange, apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindUnsupportedType, apperr.KindUnavailable:
		return http.StatusUnprocessableEntity
	case apperr.KindSlotConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := apperr.As(err)
	if !ok {
		h.logger.Error("request failed",
			"request_id", httpx.RequestIDFromContext(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"err", err,
		)
		httpx.WriteError(w, http.StatusInternalServerError, string(apperr.KindInternal), "internal error")
		return
	}
	body := httpx.ErrorBody{Error: httpx.ErrorDetail{Code: string(e.Kind), Message: e.Message}}
	if e.ConflictID != "" {
		body.Error.Details = map[string]any{"conflicting_appointment_id": e.ConflictID}
	}
	httpx.WriteJSON(w, StatusFor(e.Kind), body)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, string(apperr.KindValidation), err.Error())
		return false
	}
	return true
}

func queryBool(r *http.Request, key string) (bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, apperr.Validation("%s must be true or false", key)
	}
	return v, nil
}

// queryTime parses an RFC 3339 timestamp or a YYYY-MM-DD date (midnight UTC). With endOfDay a
// bare date means the end of that day, so start_date=end_date covers one whole day.
func queryTime(r *http.Request, key string, endOfDay bool) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	d, err := time.Parse(model.DateLayout, raw)
	if err != nil {
		return time.Time{}, apperr.Validation("%s must be an RFC 3339 timestamp or YYYY-MM-DD", key)
	}
	if endOfDay {
		d = d.AddDate(0, 0, 1)
	}
	return d, nil
}

// orEmpty keeps empty lists encoding as [] rather than null.
func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
