package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/slotbook/libs/httpx"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/apperr"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage"
)

// maxSlotRange caps a slot query so a single request cannot expand years of windows.
const maxSlotRange = 62 * 24 * time.Hour

type slotItem struct {
	ProviderID        string    `json:"provider_id"`
	ProviderName      string    `json:"provider_name"`
	AppointmentTypeID string    `json:"appointment_type_id"`
	StartTime         time.Time `json:"start_time"`
	EndTime           time.Time `json:"end_time"`
}

func (h *Handler) ListAppointments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := storage.AppointmentFilter{
		ProviderID: strings.TrimSpace(q.Get("provider_id")),
		CustomerID: strings.TrimSpace(q.Get("customer_id")),
	}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		st, err := model.ParseStatus(raw)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		f.Status = st
	}
	var err error
	if f.From, err = queryTime(r, "start_date", false); err != nil {
		h.writeError(w, r, err)
		return
	}
	if f.To, err = queryTime(r, "end_date", true); err != nil {
		h.writeError(w, r, err)
		return
	}
	appts, err := h.booking.ListAppointments(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orEmpty(appts))
}

func (h *Handler) CreateAppointment(w http.ResponseWriter, r *http.Request) {
	var req booking.BookRequest
	if !h.decode(w, r, &req) {
		return
	}
	appt, err := h.booking.Book(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, appt)
}

func (h *Handler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	appt, err := h.booking.Appointment(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, appt)
}

func (h *Handler) UpdateAppointment(w http.ResponseWriter, r *http.Request) {
	var req booking.UpdateRequest
	if !h.decode(w, r, &req) {
		return
	}
	appt, err := h.booking.Update(r.Context(), r.PathValue("id"), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, appt)
}

// CancelAppointment handles DELETE: the record stays, its status becomes cancelled.
func (h *Handler) CancelAppointment(w http.ResponseWriter, r *http.Request) {
	if _, err := h.booking.Cancel(r.Context(), r.PathValue("id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AvailableSlots answers for one provider, or for every active provider offering the type when
// provider_id is omitted.
func (h *Handler) AvailableSlots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := booking.SlotQuery{
		ProviderID:        strings.TrimSpace(q.Get("provider_id")),
		AppointmentTypeID: strings.TrimSpace(q.Get("appointment_type_id")),
	}
	if query.AppointmentTypeID == "" {
		h.writeError(w, r, apperr.Validation("appointment_type_id is required"))
		return
	}
	var err error
	if query.From, err = queryTime(r, "start_date", false); err != nil {
		h.writeError(w, r, err)
		return
	}
	if query.To, err = queryTime(r, "end_date", true); err != nil {
		h.writeError(w, r, err)
		return
	}
	if query.From.IsZero() || query.To.IsZero() {
		h.writeError(w, r, apperr.Validation("start_date and end_date are required"))
		return
	}
	if query.To.Sub(query.From) > maxSlotRange {
		h.writeError(w, r, apperr.InvalidRange("slot queries may span at most %d days", int(maxSlotRange.Hours()/24)))
		return
	}

	slots, err := h.booking.SearchSlots(r.Context(), query)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	items := make([]slotItem, 0, len(slots))
	for _, s := range slots {
		items = append(items, slotItem{
			ProviderID:        s.Provider.ID,
			ProviderName:      s.Provider.Name,
			AppointmentTypeID: query.AppointmentTypeID,
			StartTime:         s.Start,
			EndTime:           s.End,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, items)
}
