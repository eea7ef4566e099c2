package httpapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/fl2m/platform/internal/app/domain/beneficiary"
	"github.com/fl2m/platform/internal/app/services/beneficiaries"
	svcerrors "github.com/fl2m/platform/internal/errors"
	"github.com/fl2m/platform/internal/httputil"
)

// maxUploadBytes bounds multipart document uploads; the service applies the
// configured per-document limit.
const maxUploadBytes = 12 << 20

type beneficiaryPayload struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	BirthDate *date   `json:"birth_date"`
	Email     *string `json:"email"`
	Self      bool    `json:"self"`
}

func (p beneficiaryPayload) input() beneficiaries.Input {
	return beneficiaries.Input{
		FirstName: p.FirstName,
		LastName:  p.LastName,
		BirthDate: p.BirthDate.ptr(),
		Email:     p.Email,
		Self:      p.Self,
	}
}

func (h *handler) listBeneficiaries(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Beneficiaries.ListForProfile(r.Context(), userID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *handler) createBeneficiary(w http.ResponseWriter, r *http.Request) {
	var payload beneficiaryPayload
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		h.fail(w, r, err)
		return
	}
	b, err := h.app.Beneficiaries.Create(r.Context(), userID(r), payload.input())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, b)
}

func (h *handler) getBeneficiary(w http.ResponseWriter, r *http.Request) {
	b, err := h.app.Beneficiaries.Get(r.Context(), pathVar(r, "id"), userID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, b)
}

func (h *handler) updateBeneficiary(w http.ResponseWriter, r *http.Request) {
	var payload beneficiaryPayload
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		h.fail(w, r, err)
		return
	}
	b, err := h.app.Beneficiaries.Update(r.Context(), pathVar(r, "id"), userID(r), payload.input())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, b)
}

func (h *handler) deleteBeneficiary(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Beneficiaries.Delete(r.Context(), pathVar(r, "id"), userID(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listGrants(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Beneficiaries.Grants(r.Context(), pathVar(r, "id"), userID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *handler) grantAccess(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ProfileID string           `json:"profile_id"`
		Role      beneficiary.Role `json:"role"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		h.fail(w, r, err)
		return
	}
	g, err := h.app.Beneficiaries.Grant(r.Context(), pathVar(r, "id"), userID(r), payload.ProfileID, payload.Role)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, g)
}

func (h *handler) revokeAccess(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Beneficiaries.Revoke(r.Context(), pathVar(r, "id"), userID(r), pathVar(r, "profileID")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listInvitations(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Beneficiaries.Invitations(r.Context(), pathVar(r, "id"), userID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *handler) invite(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email string           `json:"email"`
		Role  beneficiary.Role `json:"role"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		h.fail(w, r, err)
		return
	}
	// the token only travels by email
	inv, _, err := h.app.Beneficiaries.Invite(r.Context(), pathVar(r, "id"), userID(r), payload.Email, payload.Role)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, inv)
}

func (h *handler) revokeInvitation(w http.ResponseWriter, r *http.Request) {
	err := h.app.Beneficiaries.RevokeInvitation(r.Context(), pathVar(r, "id"), userID(r), pathVar(r, "invitationID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) acceptInvitation(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Token string `json:"token"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		h.fail(w, r, err)
		return
	}
	g, err := h.app.Beneficiaries.AcceptInvitation(r.Context(), payload.Token, userID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, g)
}

func (h *handler) listDocuments(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Beneficiaries.Documents(r.Context(), pathVar(r, "id"), userID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *handler) uploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(4 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			h.fail(w, r, svcerrors.Validation("file", "document is too large"))
			return
		}
		h.fail(w, r, svcerrors.BadRequest("expected a multipart form with a file field"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		h.fail(w, r, svcerrors.Validation("file", "file is required"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.fail(w, r, svcerrors.BadRequest("read upload"))
		return
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}

	doc, err := h.app.Beneficiaries.Upload(r.Context(), pathVar(r, "id"), userID(r), header.Filename, contentType, data)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, doc)
}

func (h *handler) documentURL(w http.ResponseWriter, r *http.Request) {
	url, err := h.app.Beneficiaries.DocumentURL(r.Context(), pathVar(r, "id"), userID(r), pathVar(r, "docID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (h *handler) deleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Beneficiaries.DeleteDocument(r.Context(), pathVar(r, "id"), userID(r), pathVar(r, "docID")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
