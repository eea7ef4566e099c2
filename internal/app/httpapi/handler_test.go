package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	app "github.com/fl2m/platform/internal/app"
	"github.com/fl2m/platform/internal/config"
	"github.com/fl2m/platform/internal/middleware"
	"github.com/fl2m/platform/internal/notify"
	"github.com/fl2m/platform/internal/stripeconnect"
	"github.com/fl2m/platform/pkg/logger"
)

const (
	testJWTSecret     = "test-jwt-secret"
	testWebhookSecret = "whsec_test"
)

type testEnv struct {
	app     *app.Application
	handler http.Handler
	gateway *stripeconnect.Fake
	mailer  *notify.RecordingMailer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithStores(t, app.Stores{})
}

func newTestEnvWithStores(t *testing.T, stores app.Stores) *testEnv {
	t.Helper()
	var cfg config.Config
	cfg.Server.PublicURL = "https://app.fl2m.test"
	cfg.Stripe.WebhookSecret = testWebhookSecret
	cfg.Jobs.Timezone = "UTC"

	gateway := stripeconnect.NewFake(testWebhookSecret)
	mailer := &notify.RecordingMailer{}
	application, err := app.New(cfg, stores, app.Dependencies{Gateway: gateway, Mailer: mailer}, logger.NewNop())
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	if err := application.Start(context.Background()); err != nil {
		t.Fatalf("start application: %v", err)
	}
	t.Cleanup(func() { _ = application.Stop(context.Background()) })

	router := NewRouter(application, Options{
		JWTSecret:         testJWTSecret,
		CORSOrigins:       []string{"https://app.fl2m.test"},
		RequestsPerSecond: 1000,
		Burst:             1000,
		Log:               logger.NewNop(),
	})
	return &testEnv{app: application, handler: router, gateway: gateway, mailer: mailer}
}

func signToken(t *testing.T, sub, email, role string) string {
	t.Helper()
	claims := middleware.Claims{
		Email: email,
		Role:  "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			Audience:  jwt.ClaimStrings{middleware.SupabaseAudience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	claims.AppMetadata.Role = role
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(marshal(t, body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func marshal(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}

func TestHealthAndUnknownRoutes(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	expectStatus(t, rec, http.StatusOK)
	if rec.Header().Get(middleware.TraceHeader) == "" {
		t.Fatalf("expected a trace id header")
	}

	rec = env.do(t, http.MethodGet, "/nope", "", nil)
	expectStatus(t, rec, http.StatusNotFound)

	rec = env.do(t, http.MethodGet, "/metrics", "", nil)
	expectStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), "fl2m_http_requests_total") {
		t.Fatalf("expected http metrics to be exported")
	}
}

func TestAuthenticationRequired(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/me", "", nil)
	expectStatus(t, rec, http.StatusUnauthorized)

	rec = env.do(t, http.MethodGet, "/me", "not-a-jwt", nil)
	expectStatus(t, rec, http.StatusUnauthorized)

	// public catalogue needs no token
	rec = env.do(t, http.MethodGet, "/practitioners", "", nil)
	expectStatus(t, rec, http.StatusOK)
}

func TestProfileLifecycle(t *testing.T) {
	env := newTestEnv(t)
	token := signToken(t, "user-1", "ana@example.com", "")

	rec := env.do(t, http.MethodGet, "/me", token, nil)
	expectStatus(t, rec, http.StatusOK)
	var me map[string]any
	decode(t, rec, &me)
	if me["id"] != "user-1" || me["email"] != "ana@example.com" {
		t.Fatalf("unexpected profile: %v", me)
	}

	// numerology needs a birth date
	rec = env.do(t, http.MethodGet, "/me/numerology", token, nil)
	if rec.Code < 400 || rec.Code >= 500 {
		t.Fatalf("expected a client error without birth date, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPatch, "/me", token, map[string]any{
		"first_name": "Ana",
		"birth_date": "1990-03-15",
	})
	expectStatus(t, rec, http.StatusOK)

	rec = env.do(t, http.MethodGet, "/me/numerology", token, nil)
	expectStatus(t, rec, http.StatusOK)

	rec = env.do(t, http.MethodPatch, "/me", token, map[string]any{"birth_date": "15/03/1990"})
	expectStatus(t, rec, http.StatusBadRequest)
}

func setupPractitioner(t *testing.T, env *testEnv) (token, practitionerID string) {
	t.Helper()
	token = signToken(t, "prac-user", "lea@example.com", "")
	rec := env.do(t, http.MethodPost, "/me/practitioner", token, map[string]any{
		"display_name":     "Léa Numérologue",
		"price_cents":      6000,
		"duration_minutes": 60,
	})
	expectStatus(t, rec, http.StatusCreated)
	var pr map[string]any
	decode(t, rec, &pr)
	practitionerID, _ = pr["id"].(string)
	if practitionerID == "" {
		t.Fatalf("practitioner id missing: %v", pr)
	}

	rec = env.do(t, http.MethodGet, "/me/contracts", token, nil)
	expectStatus(t, rec, http.StatusOK)
	var contracts []map[string]any
	decode(t, rec, &contracts)
	if len(contracts) != 1 || contracts[0]["status"] != "active" {
		t.Fatalf("expected one active contract, got %v", contracts)
	}
	return token, practitionerID
}

func TestBookingPaymentFlow(t *testing.T) {
	env := newTestEnv(t)
	pracToken, practitionerID := setupPractitioner(t, env)
	clientToken := signToken(t, "client-user", "marc@example.com", "")

	rec := env.do(t, http.MethodGet, "/practitioners/"+practitionerID, "", nil)
	expectStatus(t, rec, http.StatusOK)

	start := time.Now().Add(72 * time.Hour).UTC().Truncate(time.Minute)
	rec = env.do(t, http.MethodPost, "/appointments", clientToken, map[string]any{
		"practitioner_id": practitionerID,
		"start_time":      start.Format(time.RFC3339),
	})
	expectStatus(t, rec, http.StatusCreated)
	var appt map[string]any
	decode(t, rec, &appt)
	apptID := appt["id"].(string)
	if appt["status"] != "pending" {
		t.Fatalf("expected pending appointment, got %v", appt["status"])
	}

	// same slot again
	rec = env.do(t, http.MethodPost, "/appointments", clientToken, map[string]any{
		"practitioner_id": practitionerID,
		"start_time":      start.Format(time.RFC3339),
	})
	expectStatus(t, rec, http.StatusConflict)

	rec = env.do(t, http.MethodPost, "/appointments/"+apptID+"/checkout", clientToken, nil)
	expectStatus(t, rec, http.StatusOK)
	var co map[string]any
	decode(t, rec, &co)
	if co["url"] == "" || co["transaction_id"] == "" {
		t.Fatalf("unexpected checkout: %v", co)
	}

	// a stranger cannot see or pay the appointment
	other := signToken(t, "other-user", "x@example.com", "")
	rec = env.do(t, http.MethodGet, "/appointments/"+apptID, other, nil)
	expectStatus(t, rec, http.StatusNotFound)

	payload := fmt.Sprintf(`{
  "id": "evt_1",
  "object": "event",
  "type": "checkout.session.completed",
  "api_version": "2023-10-16",
  "data": {"object": {"id": %q, "payment_status": "paid", "payment_intent": "pi_1",
    "metadata": {"transaction_id": %q}}}
}`, co["session_id"], co["transaction_id"])
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(payload))
	req.Header.Set("Stripe-Signature", stripeconnect.SignPayload([]byte(payload), testWebhookSecret, time.Now()))
	webhookRec := httptest.NewRecorder()
	env.handler.ServeHTTP(webhookRec, req)
	expectStatus(t, webhookRec, http.StatusOK)

	rec = env.do(t, http.MethodGet, "/appointments/"+apptID, pracToken, nil)
	expectStatus(t, rec, http.StatusOK)
	decode(t, rec, &appt)
	if appt["status"] != "confirmed" {
		t.Fatalf("expected confirmed appointment, got %v", appt["status"])
	}

	rec = env.do(t, http.MethodGet, "/appointments?as=practitioner", pracToken, nil)
	expectStatus(t, rec, http.StatusOK)
	var list []map[string]any
	decode(t, rec, &list)
	if len(list) != 1 {
		t.Fatalf("expected one practitioner appointment, got %d", len(list))
	}

	rec = env.do(t, http.MethodGet, "/invoices", clientToken, nil)
	expectStatus(t, rec, http.StatusOK)
	var invoices []map[string]any
	decode(t, rec, &invoices)
	if len(invoices) != 1 || !strings.HasPrefix(invoices[0]["number"].(string), "FL2M-") {
		t.Fatalf("expected one numbered invoice, got %v", invoices)
	}
	rec = env.do(t, http.MethodGet, "/invoices/"+invoices[0]["id"].(string), other, nil)
	expectStatus(t, rec, http.StatusNotFound)

	// the session has not ended yet
	rec = env.do(t, http.MethodPost, "/appointments/"+apptID+"/validate", clientToken, nil)
	expectStatus(t, rec, http.StatusConflict)

	rec = env.do(t, http.MethodPost, "/appointments/"+apptID+"/cancel", clientToken, map[string]any{"reason": "empêchement"})
	expectStatus(t, rec, http.StatusOK)
	decode(t, rec, &appt)
	if appt["status"] != "cancelled" {
		t.Fatalf("expected cancelled appointment, got %v", appt["status"])
	}
	if len(env.gateway.Refunds) != 1 || env.gateway.Refunds[0] != "pi_1" {
		t.Fatalf("expected a refund of pi_1, got %v", env.gateway.Refunds)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{"id":"evt_x"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusBadRequest)
}

func TestBeneficiarySharing(t *testing.T) {
	env := newTestEnv(t)
	owner := signToken(t, "owner", "owner@example.com", "")
	viewer := signToken(t, "viewer", "viewer@example.com", "")

	// the viewer needs a profile before it can be granted access
	expectStatus(t, env.do(t, http.MethodGet, "/me", viewer, nil), http.StatusOK)

	rec := env.do(t, http.MethodPost, "/beneficiaries", owner, map[string]any{
		"first_name": "Lina",
		"last_name":  "Martin",
		"birth_date": "2015-06-01",
	})
	expectStatus(t, rec, http.StatusCreated)
	var ben map[string]any
	decode(t, rec, &ben)
	benID := ben["id"].(string)

	rec = env.do(t, http.MethodGet, "/beneficiaries/"+benID, viewer, nil)
	expectStatus(t, rec, http.StatusNotFound)

	rec = env.do(t, http.MethodPost, "/beneficiaries/"+benID+"/grants", owner, map[string]any{
		"profile_id": "viewer",
		"role":       "viewer",
	})
	expectStatus(t, rec, http.StatusOK)

	rec = env.do(t, http.MethodGet, "/beneficiaries/"+benID, viewer, nil)
	expectStatus(t, rec, http.StatusOK)

	// viewers cannot edit
	rec = env.do(t, http.MethodPatch, "/beneficiaries/"+benID, viewer, map[string]any{"first_name": "X"})
	expectStatus(t, rec, http.StatusForbidden)

	rec = env.do(t, http.MethodPost, "/beneficiaries/"+benID+"/invitations", owner, map[string]any{
		"email": "aunt@example.com",
		"role":  "editor",
	})
	expectStatus(t, rec, http.StatusCreated)
	if strings.Contains(rec.Body.String(), "token") {
		t.Fatalf("invitation response must not carry the token: %s", rec.Body.String())
	}
	if n := len(env.mailer.Messages()); n != 1 {
		t.Fatalf("expected one invitation email, got %d", n)
	}

	rec = env.do(t, http.MethodDelete, "/beneficiaries/"+benID+"/grants/viewer", owner, nil)
	expectStatus(t, rec, http.StatusNoContent)
	rec = env.do(t, http.MethodGet, "/beneficiaries/"+benID, viewer, nil)
	expectStatus(t, rec, http.StatusNotFound)
}

func TestDailyDraw(t *testing.T) {
	env := newTestEnv(t)
	token := signToken(t, "drawer", "d@example.com", "")

	var yaml strings.Builder
	yaml.WriteString("messages:\n")
	for _, n := range []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 11, 22, 33} {
		fmt.Fprintf(&yaml, "  - {id: m%d, number: %d, title: T%d, body: B%d}\n", n, n, n, n)
	}
	if _, err := env.app.Draws.ImportMessages(context.Background(), []byte(yaml.String())); err != nil {
		t.Fatalf("import messages: %v", err)
	}

	expectStatus(t, env.do(t, http.MethodPatch, "/me", token, map[string]any{"birth_date": "1990-03-15"}), http.StatusOK)

	rec := env.do(t, http.MethodGet, "/draws/today", token, nil)
	expectStatus(t, rec, http.StatusOK)
	var first map[string]any
	decode(t, rec, &first)
	if first["repeat"] != false {
		t.Fatalf("first draw must not be a repeat: %v", first)
	}

	rec = env.do(t, http.MethodGet, "/draws/today", token, nil)
	expectStatus(t, rec, http.StatusOK)
	var second map[string]any
	decode(t, rec, &second)
	if second["repeat"] != true {
		t.Fatalf("second draw must be a repeat: %v", second)
	}
	firstMsg := first["message"].(map[string]any)
	secondMsg := second["message"].(map[string]any)
	if firstMsg["id"] != secondMsg["id"] {
		t.Fatalf("draw changed within the day: %v vs %v", firstMsg["id"], secondMsg["id"])
	}

	rec = env.do(t, http.MethodGet, "/draws/history?limit=5", token, nil)
	expectStatus(t, rec, http.StatusOK)
	var history []map[string]any
	decode(t, rec, &history)
	if len(history) != 1 {
		t.Fatalf("expected one history entry, got %d", len(history))
	}
}

func TestAdminRoutes(t *testing.T) {
	env := newTestEnv(t)
	client := signToken(t, "client", "c@example.com", "")
	admin := signToken(t, "root", "admin@example.com", "admin")

	rec := env.do(t, http.MethodPost, "/admin/payouts/run", client, nil)
	expectStatus(t, rec, http.StatusForbidden)

	rec = env.do(t, http.MethodPost, "/admin/payouts/run", admin, nil)
	expectStatus(t, rec, http.StatusOK)

	rec = env.do(t, http.MethodPost, "/admin/contracts/activate", admin, nil)
	expectStatus(t, rec, http.StatusOK)

	rec = env.do(t, http.MethodPost, "/admin/appointments/auto-validate", admin, nil)
	expectStatus(t, rec, http.StatusOK)

	rec = env.do(t, http.MethodGet, "/admin/audit", admin, nil)
	expectStatus(t, rec, http.StatusOK)
	var entries []map[string]any
	decode(t, rec, &entries)
	if len(entries) != 3 {
		t.Fatalf("expected 3 audited admin calls, got %d", len(entries))
	}
	if entries[0]["user"] != "root" {
		t.Fatalf("unexpected audit entry: %v", entries[0])
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodOptions, "/me", nil)
	req.Header.Set("Origin", "https://app.fl2m.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusNoContent)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.fl2m.test" {
		t.Fatalf("unexpected allow origin %q", got)
	}
}
