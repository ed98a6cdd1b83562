package handlers

import (
	"net/http"

	"github.com/md-rashed-zaman/slotbook/libs/httpx"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/catalog"
	"github.com/md-rashed-zaman/slotbook/services/booking-service/internal/storage"
)

func (h *Handler) ListAppointmentTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.catalog.ListAppointmentTypes(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orEmpty(types))
}

func (h *Handler) CreateAppointmentType(w http.ResponseWriter, r *http.Request) {
	var in catalog.AppointmentTypeInput
	if !h.decode(w, r, &in) {
		return
	}
	t, err := h.catalog.CreateAppointmentType(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, t)
}

func (h *Handler) GetAppointmentType(w http.ResponseWriter, r *http.Request) {
	t, err := h.catalog.AppointmentType(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, t)
}

func (h *Handler) UpdateAppointmentType(w http.ResponseWriter, r *http.Request) {
	var patch catalog.AppointmentTypePatch
	if !h.decode(w, r, &patch) {
		return
	}
	t, err := h.catalog.UpdateAppointmentType(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, t)
}

func (h *Handler) DeleteAppointmentType(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.DeleteAppointmentType(r.Context(), r.PathValue("id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListProviders(w http.ResponseWriter, r *http.Request) {
	activeOnly, err := queryBool(r, "active_only")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	providers, err := h.catalog.ListProviders(r.Context(), storage.ProviderFilter{
		ActiveOnly:        activeOnly,
		AppointmentTypeID: r.URL.Query().Get("appointment_type_id"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orEmpty(providers))
}

func (h *Handler) CreateProvider(w http.ResponseWriter, r *http.Request) {
	var in catalog.ProviderInput
	if !h.decode(w, r, &in) {
		return
	}
	p, err := h.catalog.CreateProvider(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, p)
}

func (h *Handler) GetProvider(w http.ResponseWriter, r *http.Request) {
	p, err := h.catalog.Provider(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) UpdateProvider(w http.ResponseWriter, r *http.Request) {
	var patch catalog.ProviderPatch
	if !h.decode(w, r, &patch) {
		return
	}
	p, err := h.catalog.UpdateProvider(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) DeactivateProvider(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.DeactivateProvider(r.Context(), r.PathValue("id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetProviderAvailability(w http.ResponseWriter, r *http.Request) {
	a, err := h.catalog.ProviderAvailability(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, a)
}

func (h *Handler) SetProviderAvailability(w http.ResponseWriter, r *http.Request) {
	var in catalog.Availability
	if !h.decode(w, r, &in) {
		return
	}
	a, err := h.catalog.SetProviderAvailability(r.Context(), r.PathValue("id"), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, a)
}

func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	customers, err := h.catalog.ListCustomers(r.Context(), storage.CustomerFilter{Email: q.Get("email"), Phone: q.Get("phone")})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orEmpty(customers))
}

func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var in catalog.CustomerInput
	if !h.decode(w, r, &in) {
		return
	}
	c, err := h.catalog.CreateCustomer(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, c)
}

func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	c, err := h.catalog.Customer(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, c)
}

func (h *Handler) UpdateCustomer(w http.ResponseWriter, r *http.Request) {
	var patch catalog.CustomerPatch
	if !h.decode(w, r, &patch) {
		return
	}
	c, err := h.catalog.UpdateCustomer(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, c)
}

func (h *Handler) DeleteCustomer(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.DeleteCustomer(r.Context(), r.PathValue("id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
