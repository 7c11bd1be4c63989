// Package httpapi assembles the applicant-facing HTTP surface.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/grants_ui/internal/formstate"
	"github.com/R3E-Network/grants_ui/internal/httputil"
	"github.com/R3E-Network/grants_ui/internal/logging"
	"github.com/R3E-Network/grants_ui/internal/metrics"
	"github.com/R3E-Network/grants_ui/internal/middleware"
	"github.com/R3E-Network/grants_ui/internal/reconcile"
	"github.com/R3E-Network/grants_ui/internal/session"
	"github.com/R3E-Network/grants_ui/internal/submission"
)

// Config wires the router's collaborators.
type Config struct {
	Logger      *logging.Logger
	Forms       *formstate.Hooks
	Reconciler  *reconcile.Reconciler
	Submissions *submission.Flow
	RateLimiter *middleware.RateLimiter

	// AuthSecret verifies applicant tokens.
	AuthSecret    string
	SecureCookies bool
	SessionTTL    time.Duration

	// DevTools enables the state reset endpoint.
	DevTools bool

	// Health, when set, is consulted by /health.
	Health func(ctx context.Context) error
}

type server struct {
	cfg    Config
	logger *logging.Logger
}

// NewRouter returns the root router. Health and metrics are public; every
// other route requires an applicant token.
func NewRouter(cfg Config) *mux.Router {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewDiscard()
	}
	s := &server{cfg: cfg, logger: logger}

	r := mux.NewRouter()
	r.Use(middleware.NewTracingMiddleware(logger).Handler, middleware.MetricsMiddleware())

	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	app := r.PathPrefix("/").Subrouter()
	app.Use(
		middleware.NewSessionMiddleware(cfg.SecureCookies, cfg.SessionTTL).Handler,
		middleware.NewAuthMiddleware(cfg.AuthSecret, logger, nil).Handler,
	)
	if cfg.RateLimiter != nil {
		app.Use(cfg.RateLimiter.Handler)
	}

	app.HandleFunc("/startpage", s.startPage).Methods(http.MethodGet)
	if cfg.DevTools {
		app.HandleFunc("/dev/{slug}/clear-state", s.clearState).Methods(http.MethodPost)
	}
	app.HandleFunc("/{slug}/submit", s.submit).Methods(http.MethodPost)

	app.Handle("/{slug}/{page}", cfg.Reconciler.Middleware(http.HandlerFunc(s.getPage))).Methods(http.MethodGet)
	app.Handle("/{slug}/{page}", cfg.Reconciler.Middleware(http.HandlerFunc(s.postPage))).Methods(http.MethodPost)

	return r
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status":    "healthy",
		"service":   s.logger.Service(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if s.cfg.Health != nil {
		if err := s.cfg.Health(r.Context()); err != nil {
			s.logger.WithContext(r.Context()).WithError(err).Warn("health check failed")
			body["status"] = "unhealthy"
			httputil.WriteJSON(w, http.StatusServiceUnavailable, body)
			return
		}
	}
	httputil.WriteJSON(w, http.StatusOK, body)
}

func (s *server) startPage(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string]string{"page": "startpage"})
}

// pageView is the payload rendered by the form pages.
type pageView struct {
	Grant string                 `json:"grant"`
	Page  string                 `json:"page"`
	State map[string]interface{} `json:"state"`
}

func (s *server) getPage(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	state, err := s.cfg.Forms.Get(r.Context(), middleware.IdentityFromContext(r.Context()), vars["slug"])
	if err != nil {
		s.fail(w, r, "failed to load form state", err)
		return
	}
	httputil.WriteSuccess(w, pageView{Grant: vars["slug"], Page: vars["page"], State: state})
}

func (s *server) postPage(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var answers map[string]interface{}
	if err := httputil.ReadJSON(r, &answers); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	state, err := s.cfg.Forms.Set(r.Context(), middleware.IdentityFromContext(r.Context()), vars["slug"], answers)
	if err != nil {
		s.fail(w, r, "failed to save form state", err)
		return
	}
	httputil.WriteSuccess(w, pageView{Grant: vars["slug"], Page: vars["page"], State: state})
}

func (s *server) submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res, err := s.cfg.Submissions.Submit(ctx, middleware.IdentityFromContext(ctx), mux.Vars(r)["slug"], session.IDFromContext(ctx))
	if err != nil {
		s.fail(w, r, "submission failed", err)
		return
	}
	httputil.WriteSuccess(w, res)
}

func (s *server) clearState(w http.ResponseWriter, r *http.Request) {
	slug := mux.Vars(r)["slug"]
	if err := s.cfg.Forms.Clear(r.Context(), middleware.IdentityFromContext(r.Context()), slug); err != nil {
		s.fail(w, r, "failed to clear state", err)
		return
	}
	s.logger.LogSecurityEvent(r.Context(), "state_cleared", map[string]interface{}{"grant_code": slug})
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	s.logger.WithContext(r.Context()).WithError(err).WithField("path", r.URL.Path).Error(msg)
	httputil.WriteServiceError(w, err)
}
