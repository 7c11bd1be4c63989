// Package middleware provides HTTP middleware for the grants UI
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/R3E-Network/grants_ui/internal/errors"
	"github.com/R3E-Network/grants_ui/internal/httputil"
	"github.com/R3E-Network/grants_ui/internal/logging"
	"github.com/R3E-Network/grants_ui/internal/sessionkey"
)

// AuthCookieName carries the applicant token for browser requests.
const AuthCookieName = "grants_auth"

// ApplicantClaims are the claims of an applicant sign-in token. They satisfy
// sessionkey.Identity.
type ApplicantClaims struct {
	ContactID     string   `json:"contactId"`
	FirstName     string   `json:"firstName,omitempty"`
	LastName      string   `json:"lastName,omitempty"`
	Relationships []string `json:"relationships"`
	jwt.RegisteredClaims
}

// UserID returns the applicant's contact id (CRN).
func (c *ApplicantClaims) UserID() string { return c.ContactID }

// BusinessRelationships returns "<relationshipId>:<businessId>[:...]" strings.
func (c *ApplicantClaims) BusinessRelationships() []string { return c.Relationships }

type identityKey struct{}

// WithIdentity stores the applicant identity on ctx.
func WithIdentity(ctx context.Context, id sessionkey.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity set by AuthMiddleware, or nil.
func IdentityFromContext(ctx context.Context) sessionkey.Identity {
	if id, ok := ctx.Value(identityKey{}).(sessionkey.Identity); ok {
		return id
	}
	return nil
}

// AuthMiddleware validates applicant tokens signed with a shared HS256 secret
type AuthMiddleware struct {
	secret    []byte
	logger    *logging.Logger
	skipPaths map[string]bool
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(secret string, logger *logging.Logger, skipPaths []string) *AuthMiddleware {
	skip := make(map[string]bool)
	for _, path := range skipPaths {
		skip[path] = true
	}

	return &AuthMiddleware{
		secret:    []byte(secret),
		logger:    logger,
		skipPaths: skip,
	}
}

// Handler returns the middleware handler
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		tokenString, err := extractToken(r)
		if err != nil {
			m.respondError(w, r, err)
			return
		}

		claims, err := m.validateToken(tokenString)
		if err != nil {
			m.logger.WithContext(r.Context()).WithError(err).Warn("Token validation failed")
			m.respondError(w, r, err)
			return
		}

		ctx := logging.WithUserID(r.Context(), claims.ContactID)
		ctx = WithIdentity(ctx, claims)

		m.logger.WithContext(ctx).WithFields(map[string]interface{}{
			"relationship_count": len(claims.Relationships),
		}).Debug("Authentication successful")

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractToken reads the bearer token, falling back to the auth cookie.
func extractToken(r *http.Request) (string, error) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
			return "", errors.Unauthorized("Invalid Authorization header format")
		}
		return strings.TrimSpace(parts[1]), nil
	}
	if cookie, err := r.Cookie(AuthCookieName); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}
	return "", errors.Unauthorized("Missing credentials")
}

// validateToken validates a JWT token and returns claims
func (m *AuthMiddleware) validateToken(tokenString string) (*ApplicantClaims, error) {
	if len(m.secret) == 0 {
		return nil, errors.Config("APPLICANT_JWT_SECRET")
	}

	token, err := jwt.ParseWithClaims(tokenString, &ApplicantClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.InvalidToken(nil).WithDetails("method", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())

	if err != nil {
		return nil, errors.InvalidToken(err)
	}

	claims, ok := token.Claims.(*ApplicantClaims)
	if !ok || !token.Valid {
		return nil, errors.InvalidToken(nil).WithDetails("reason", "invalid claims type")
	}
	if claims.ContactID == "" {
		return nil, errors.InvalidToken(nil).WithDetails("reason", "missing contactId")
	}

	return claims, nil
}

// respondError sends an error response
func (m *AuthMiddleware) respondError(w http.ResponseWriter, r *http.Request, err error) {
	serviceErr := errors.GetServiceError(err)
	if serviceErr == nil {
		serviceErr = errors.Internal("Authentication failed", err)
	}

	httputil.WriteServiceError(w, serviceErr)

	m.logger.WithContext(r.Context()).WithError(err).WithFields(map[string]interface{}{
		"path":   r.URL.Path,
		"method": r.Method,
		"status": serviceErr.HTTPStatus,
	}).Warn("Authentication failed")
}

// GetUserID extracts user ID from context
func GetUserID(ctx context.Context) string {
	return logging.GetUserID(ctx)
}
