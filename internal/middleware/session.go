package middleware

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/grants_ui/internal/session"
)

// SessionCookieName identifies the browser session.
const SessionCookieName = "grants_session"

// SessionMiddleware assigns every browser a session id and exposes it via
// session.IDFromContext.
type SessionMiddleware struct {
	secure bool
	ttl    time.Duration
}

// NewSessionMiddleware creates the session middleware. secure marks the
// cookie Secure; ttl sets its Max-Age.
func NewSessionMiddleware(secure bool, ttl time.Duration) *SessionMiddleware {
	return &SessionMiddleware{secure: secure, ttl: ttl}
}

// Handler returns the middleware handler
func (m *SessionMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := ""
		if c, err := r.Cookie(SessionCookieName); err == nil {
			if _, perr := uuid.Parse(c.Value); perr == nil {
				id = c.Value
			}
		}
		if id == "" {
			id = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     SessionCookieName,
				Value:    id,
				Path:     "/",
				MaxAge:   int(m.ttl.Seconds()),
				HttpOnly: true,
				Secure:   m.secure,
				SameSite: http.SameSiteLaxMode,
			})
		}

		next.ServeHTTP(w, r.WithContext(session.WithID(r.Context(), id)))
	})
}
