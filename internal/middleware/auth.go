// Package middleware provides HTTP middleware for the API server
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fl2m/platform/internal/errors"
	"github.com/fl2m/platform/internal/httputil"
	"github.com/fl2m/platform/pkg/logger"
)

// SupabaseAudience is the audience Supabase sets on user access tokens.
const SupabaseAudience = "authenticated"

// Claims are the Supabase access token claims read by the platform. The
// user id is the subject.
type Claims struct {
	Email       string      `json:"email,omitempty"`
	Role        string      `json:"role,omitempty"`
	AppMetadata AppMetadata `json:"app_metadata"`
	jwt.RegisteredClaims
}

// AppMetadata is the server-controlled metadata block of a Supabase token.
type AppMetadata struct {
	Role string `json:"role,omitempty"`
}

// PlatformRole returns the application role, falling back to the Postgres
// role Supabase puts in the token.
func (c *Claims) PlatformRole() string {
	if c.AppMetadata.Role != "" {
		return c.AppMetadata.Role
	}
	return c.Role
}

// AuthMiddleware verifies Supabase HS256 access tokens
type AuthMiddleware struct {
	secret []byte
	logger *logger.Logger
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(jwtSecret string, log *logger.Logger) *AuthMiddleware {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	return &AuthMiddleware{
		secret: []byte(jwtSecret),
		logger: log,
	}
}

// Handler returns the middleware handler
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			m.respondError(w, r, errors.Unauthorized("missing Authorization header"))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			m.respondError(w, r, errors.Unauthorized("invalid Authorization header format"))
			return
		}

		claims, err := m.validateToken(strings.TrimSpace(parts[1]))
		if err != nil {
			m.respondError(w, r, err)
			return
		}

		ctx := logger.WithUserID(r.Context(), claims.Subject)
		if claims.Email != "" {
			ctx = logger.WithEmail(ctx, claims.Email)
		}
		if role := claims.PlatformRole(); role != "" {
			ctx = logger.WithRole(ctx, role)
		}

		m.logger.WithContext(ctx).Debug("authentication successful")
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// validateToken validates a JWT token and returns claims
func (m *AuthMiddleware) validateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithAudience(SupabaseAudience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, errors.InvalidToken(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.InvalidToken(nil)
	}
	if claims.Subject == "" {
		return nil, errors.InvalidToken(nil).WithDetails("reason", "missing subject")
	}
	return claims, nil
}

// respondError sends an error response
func (m *AuthMiddleware) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.HTTPStatus(err)
	httputil.WriteError(w, r, err)

	m.logger.WithContext(r.Context()).WithError(err).WithFields(map[string]interface{}{
		"path":   r.URL.Path,
		"method": r.Method,
		"status": status,
	}).Warn("authentication failed")
}

// GetUserID extracts user ID from context
func GetUserID(ctx context.Context) string {
	return logger.GetUserID(ctx)
}

// GetUserEmail extracts the token email from context
func GetUserEmail(ctx context.Context) string {
	return logger.GetEmail(ctx)
}

// GetUserRole extracts user role from context
func GetUserRole(ctx context.Context) string {
	return logger.GetRole(ctx)
}

// RequireRole rejects requests whose token does not carry role.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if GetUserID(r.Context()) == "" {
				httputil.WriteError(w, r, errors.Unauthorized("authentication required"))
				return
			}
			if GetUserRole(r.Context()) != role {
				httputil.WriteError(w, r, errors.Forbidden("requires "+role+" role"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
