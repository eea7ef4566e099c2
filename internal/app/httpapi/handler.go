package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	app "github.com/fl2m/platform/internal/app"
	svcerrors "github.com/fl2m/platform/internal/errors"
	"github.com/fl2m/platform/internal/httputil"
	"github.com/fl2m/platform/internal/middleware"
	"github.com/fl2m/platform/pkg/logger"
)

// maxWebhookBytes bounds Stripe webhook payloads.
const maxWebhookBytes = 512 << 10

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app   *app.Application
	log   *logger.Logger
	audit *auditLog
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if se := svcerrors.GetServiceError(err); se == nil || se.HTTPStatus >= http.StatusInternalServerError {
		h.log.WithContext(r.Context()).WithError(err).WithField("path", r.URL.Path).Error("request failed")
	}
	httputil.WriteError(w, r, err)
}

func (h *handler) notFound(w http.ResponseWriter, r *http.Request) {
	httputil.WriteErrorResponse(w, r, http.StatusNotFound, string(svcerrors.CodeNotFound), "route not found", nil)
}

func (h *handler) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	httputil.WriteErrorResponse(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", nil)
}

func userID(r *http.Request) string {
	return middleware.GetUserID(r.Context())
}

func pathVar(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// date decodes either a calendar date or an RFC 3339 timestamp.
type date struct {
	time.Time
}

func (d *date) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		d.Time = t
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return svcerrors.Validation("date", "expected YYYY-MM-DD")
	}
	d.Time = t
	return nil
}

func (d *date) ptr() *time.Time {
	if d == nil {
		return nil
	}
	t := d.Time
	return &t
}

// ensureProfile creates the profile row for a first-time user.
func (h *handler) ensureProfile(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := h.app.Profiles.Ensure(r.Context(), userID(r), middleware.GetUserEmail(r.Context())); err != nil {
			h.fail(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes+1))
	if err != nil {
		h.fail(w, r, svcerrors.BadRequest("read body"))
		return
	}
	if len(payload) > maxWebhookBytes {
		h.fail(w, r, svcerrors.BadRequest("payload too large"))
		return
	}
	if err := h.app.Payments.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (h *handler) runJob(w http.ResponseWriter, r *http.Request, name string) {
	job, ok := h.app.Job(name)
	if !ok {
		h.fail(w, r, svcerrors.NotFound("job", name))
		return
	}
	start := time.Now()
	if err := job.Run(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"job":         name,
		"duration_ms": time.Since(start).Milliseconds(),
	})
}

func (h *handler) runPayouts(w http.ResponseWriter, r *http.Request) {
	report, err := h.app.Payments.ProcessPayouts(r.Context(), time.Now())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

func (h *handler) activateContracts(w http.ResponseWriter, r *http.Request) {
	n, err := h.app.Contracts.ActivateDue(r.Context(), time.Now())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]int{"activated": n})
}

func (h *handler) autoValidate(w http.ResponseWriter, r *http.Request) {
	h.runJob(w, r, app.JobAutoValidate)
}

func (h *handler) listAudit(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.audit.listLimit(queryInt(r, "limit", 50)))
}
