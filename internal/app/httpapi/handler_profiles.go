package httpapi

import (
	"net/http"
	"time"

	"github.com/fl2m/platform/internal/app/services/profiles"
	"github.com/fl2m/platform/internal/httputil"
)

func (h *handler) listPractitioners(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Profiles.ListPractitioners(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *handler) getPractitioner(w http.ResponseWriter, r *http.Request) {
	p, err := h.app.Profiles.GetPractitioner(r.Context(), pathVar(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (h *handler) getMe(w http.ResponseWriter, r *http.Request) {
	p, err := h.app.Profiles.Get(r.Context(), userID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (h *handler) updateMe(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		FirstName *string `json:"first_name"`
		LastName  *string `json:"last_name"`
		BirthDate *date   `json:"birth_date"`
		Phone     *string `json:"phone"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.app.Profiles.Update(r.Context(), userID(r), profiles.ProfileUpdate{
		FirstName: payload.FirstName,
		LastName:  payload.LastName,
		BirthDate: payload.BirthDate.ptr(),
		Phone:     payload.Phone,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (h *handler) numerology(w http.ResponseWriter, r *http.Request) {
	summary, err := h.app.Profiles.Summary(r.Context(), userID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, summary)
}

func (h *handler) getMyPractitioner(w http.ResponseWriter, r *http.Request) {
	p, err := h.app.Profiles.PractitionerForProfile(r.Context(), userID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (h *handler) becomePractitioner(w http.ResponseWriter, r *http.Request) {
	var in profiles.PractitionerInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.app.Profiles.BecomePractitioner(r.Context(), userID(r), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, p)
}

func (h *handler) updatePractitioner(w http.ResponseWriter, r *http.Request) {
	var in profiles.PractitionerInput
	if err := httputil.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.app.Profiles.UpdatePractitioner(r.Context(), userID(r), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (h *handler) connectAccount(w http.ResponseWriter, r *http.Request) {
	link, err := h.app.Payments.ConnectAccount(r.Context(), userID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"url": link})
}

func (h *handler) refreshAccount(w http.ResponseWriter, r *http.Request) {
	p, err := h.app.Payments.RefreshAccount(r.Context(), userID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (h *handler) listContracts(w http.ResponseWriter, r *http.Request) {
	p, err := h.app.Profiles.PractitionerForProfile(r.Context(), userID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list, err := h.app.Contracts.List(r.Context(), p.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *handler) createContract(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		PlanCode  string `json:"plan_code"`
		StartDate *date  `json:"start_date"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.app.Profiles.PractitionerForProfile(r.Context(), userID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var start time.Time
	if payload.StartDate != nil {
		start = payload.StartDate.Time
	}
	c, err := h.app.Contracts.Create(r.Context(), p.ID, payload.PlanCode, start)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, c)
}

func (h *handler) cancelContract(w http.ResponseWriter, r *http.Request) {
	p, err := h.app.Profiles.PractitionerForProfile(r.Context(), userID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.app.Contracts.Cancel(r.Context(), p.ID, pathVar(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, c)
}
