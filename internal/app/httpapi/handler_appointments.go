package httpapi

import (
	"net/http"
	"time"

	"github.com/fl2m/platform/internal/app/services/appointments"
	"github.com/fl2m/platform/internal/httputil"
)

func (h *handler) listAppointments(w http.ResponseWriter, r *http.Request) {
	var (
		list interface{}
		err  error
	)
	if r.URL.Query().Get("as") == "practitioner" {
		list, err = h.app.Appointments.ListForPractitioner(r.Context(), userID(r))
	} else {
		list, err = h.app.Appointments.ListForClient(r.Context(), userID(r))
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *handler) bookAppointment(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		PractitionerID string    `json:"practitioner_id"`
		BeneficiaryID  *string   `json:"beneficiary_id"`
		StartTime      time.Time `json:"start_time"`
		Notes          string    `json:"notes"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		h.fail(w, r, err)
		return
	}
	a, err := h.app.Appointments.Book(r.Context(), userID(r), appointments.BookingRequest{
		PractitionerID: payload.PractitionerID,
		BeneficiaryID:  payload.BeneficiaryID,
		StartTime:      payload.StartTime,
		Notes:          payload.Notes,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, a)
}

func (h *handler) getAppointment(w http.ResponseWriter, r *http.Request) {
	a, err := h.app.Appointments.Get(r.Context(), pathVar(r, "id"), userID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, a)
}

func (h *handler) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 {
		if err := httputil.DecodeJSON(r, &payload); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	a, err := h.app.Appointments.Cancel(r.Context(), pathVar(r, "id"), userID(r), payload.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, a)
}

func (h *handler) validateAppointment(w http.ResponseWriter, r *http.Request) {
	a, err := h.app.Appointments.Validate(r.Context(), pathVar(r, "id"), userID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, a)
}

func (h *handler) checkout(w http.ResponseWriter, r *http.Request) {
	co, err := h.app.Payments.CreateCheckout(r.Context(), pathVar(r, "id"), userID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, co)
}

func (h *handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Invoices.ListForProfile(r.Context(), userID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.app.Invoices.Get(r.Context(), pathVar(r, "id"), userID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, inv)
}

func (h *handler) drawToday(w http.ResponseWriter, r *http.Request) {
	res, err := h.app.Draws.Today(r.Context(), userID(r), r.URL.Query().Get("beneficiary_id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *handler) drawHistory(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Draws.History(r.Context(), userID(r), r.URL.Query().Get("beneficiary_id"), queryInt(r, "limit", 30))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}
