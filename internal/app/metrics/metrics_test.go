package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCanonicalPath(t *testing.T) {
	tests := map[string]string{
		"":                                  "/",
		"/":                                 "/",
		"/healthz":                          "/healthz",
		"/beneficiaries/7f3c/grants/42":     "/beneficiaries/:id/grants/:id",
		"/appointments/abc/cancel":          "/appointments/:id/cancel",
		"/invitations/accept":               "/invitations/accept",
		"/draws/today":                      "/draws/today",
		"/admin/appointments/auto-validate": "/admin/appointments/auto-validate",
	}
	for in, want := range tests {
		if got := CanonicalPath(in); got != want {
			t.Fatalf("CanonicalPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestInstrumentHandlerCountsRequests(t *testing.T) {
	h := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/invoices/:id", "418"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/invoices/inv-1", nil))
	after := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/invoices/:id", "418"))
	if after-before != 1 {
		t.Fatalf("expected one request counted, got %v", after-before)
	}
}

func TestRecorders(t *testing.T) {
	RecordPayout("completed", 4800)
	RecordWebhook("", "ignored")
	RecordDraw(true)
	RecordJobRun("payouts", 0, true)

	if v := testutil.ToFloat64(webhookEvents.WithLabelValues("unknown", "ignored")); v < 1 {
		t.Fatalf("webhook counter not incremented")
	}
	if v := testutil.ToFloat64(payoutAmount); v < 4800 {
		t.Fatalf("payout amount = %v", v)
	}

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "fl2m_jobs_runs_total") {
		t.Fatalf("job metric not exposed")
	}
}
