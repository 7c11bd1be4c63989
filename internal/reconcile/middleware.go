package reconcile

import (
	"net/http"

	"github.com/gorilla/mux"

	apperrors "github.com/R3E-Network/grants_ui/internal/errors"
	"github.com/R3E-Network/grants_ui/internal/httputil"
	"github.com/R3E-Network/grants_ui/internal/middleware"
	"github.com/R3E-Network/grants_ui/internal/session"
)

// SlugVar is the route variable holding the grant code.
const SlugVar = "slug"

// Middleware reconciles before the wrapped page handler. It expects the
// auth and session middleware to have run and the route to define {slug}.
// A failed state read is treated as "not yet submitted" and flows through.
func (r *Reconciler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ctx := req.Context()
		grantID := mux.Vars(req)[SlugVar]

		d, err := r.Reconcile(ctx, Request{
			Identity:  middleware.IdentityFromContext(ctx),
			GrantID:   grantID,
			Path:      req.URL.Path,
			SessionID: session.IDFromContext(ctx),
		})
		if err != nil {
			if !apperrors.IsCode(err, apperrors.CodeBackend) {
				r.logger.WithContext(ctx).WithError(err).WithField("grant_code", grantID).Error("cannot reconcile application status")
				httputil.WriteServiceError(w, err)
				return
			}

			r.logger.WithContext(ctx).WithError(err).WithField("grant_code", grantID).Error("failed to read application state")
			d = proceed(ReasonReadFailed)
		}

		record(d)
		if d.Action == Redirect {
			http.Redirect(w, req, d.Location, http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, req)
	})
}
