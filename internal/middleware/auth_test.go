package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fl2m/platform/pkg/logger"
)

const testSecret = "super-secret-jwt-token-with-at-least-32-characters"

func generateTestToken(t *testing.T, secret string, mutate func(*Claims)) string {
	t.Helper()
	claims := &Claims{
		Email: "test@example.com",
		Role:  "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-123",
			Audience:  jwt.ClaimStrings{SupabaseAudience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	if mutate != nil {
		mutate(claims)
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func serveAuth(t *testing.T, header string) (*httptest.ResponseRecorder, map[string]string) {
	t.Helper()
	mw := NewAuthMiddleware(testSecret, logger.NewNop())
	seen := map[string]string{}
	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen["user"] = GetUserID(r.Context())
		seen["email"] = GetUserEmail(r.Context())
		seen["role"] = GetUserRole(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, seen
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	rec, seen := serveAuth(t, "Bearer "+generateTestToken(t, testSecret, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if seen["user"] != "user-123" || seen["email"] != "test@example.com" || seen["role"] != "authenticated" {
		t.Fatalf("unexpected context values: %v", seen)
	}
}

func TestAuthMiddleware_AppMetadataRole(t *testing.T) {
	token := generateTestToken(t, testSecret, func(c *Claims) { c.AppMetadata.Role = "admin" })
	rec, seen := serveAuth(t, "Bearer "+token)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if seen["role"] != "admin" {
		t.Fatalf("role = %q, want admin", seen["role"])
	}
}

func TestAuthMiddleware_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic abc"},
		{"empty token", "Bearer "},
		{"garbage", "Bearer not-a-jwt"},
		{"wrong secret", "Bearer " + generateTestToken(t, "another-secret-another-secret-xx", nil)},
		{"expired", "Bearer " + generateTestToken(t, testSecret, func(c *Claims) {
			c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
		})},
		{"no expiry", "Bearer " + generateTestToken(t, testSecret, func(c *Claims) { c.ExpiresAt = nil })},
		{"wrong audience", "Bearer " + generateTestToken(t, testSecret, func(c *Claims) {
			c.Audience = jwt.ClaimStrings{"anon"}
		})},
		{"no subject", "Bearer " + generateTestToken(t, testSecret, func(c *Claims) { c.Subject = "" })},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, seen := serveAuth(t, tt.header)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
			if len(seen) != 0 {
				t.Fatal("next handler should not run")
			}
		})
	}
}

func TestAuthMiddleware_RejectsNoneAlgorithm(t *testing.T) {
	claims := jwt.MapClaims{"sub": "user-123", "aud": SupabaseAudience, "exp": time.Now().Add(time.Hour).Unix()}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	rec, _ := serveAuth(t, "Bearer "+token)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole("admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name       string
		userID     string
		role       string
		wantStatus int
	}{
		{"anonymous", "", "", http.StatusUnauthorized},
		{"client", "u1", "authenticated", http.StatusForbidden},
		{"admin", "u1", "admin", http.StatusNoContent},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/admin/payouts/run", nil)
		ctx := req.Context()
		if tt.userID != "" {
			ctx = logger.WithUserID(ctx, tt.userID)
		}
		if tt.role != "" {
			ctx = logger.WithRole(ctx, tt.role)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req.WithContext(ctx))
		if rec.Code != tt.wantStatus {
			t.Errorf("%s: status = %d, want %d", tt.name, rec.Code, tt.wantStatus)
		}
	}
}
