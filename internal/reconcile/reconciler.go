// Package reconcile keeps the cached application status in line with GAS
// and decides where an applicant should land for that status.
package reconcile

import (
	"context"
	"errors"
	"strings"

	"github.com/R3E-Network/grants_ui/internal/config"
	"github.com/R3E-Network/grants_ui/internal/gas"
	"github.com/R3E-Network/grants_ui/internal/logging"
	"github.com/R3E-Network/grants_ui/internal/metrics"
	"github.com/R3E-Network/grants_ui/internal/session"
	"github.com/R3E-Network/grants_ui/internal/sessionkey"
	"github.com/R3E-Network/grants_ui/internal/statesync"
	"github.com/R3E-Network/grants_ui/internal/status"
)

// StatusSource reports the authoritative status of a submitted application.
// It returns gas.ErrNotFound when nothing has been submitted.
type StatusSource interface {
	GetApplicationStatus(ctx context.Context, grantCode, clientRef string) (status.GAS, error)
}

// StateStore is the subset of the state gateway the reconciler needs.
type StateStore interface {
	FetchState(ctx context.Context, key sessionkey.Key) (statesync.State, error)
	PatchStatus(ctx context.Context, st status.Application, key sessionkey.Key) error
}

// Action is the outcome of a reconciliation.
type Action int

const (
	// Continue lets the page handler run.
	Continue Action = iota
	// Redirect ends the request with a redirect to Decision.Location.
	Redirect
)

func (a Action) String() string {
	if a == Redirect {
		return "redirect"
	}
	return "continue"
}

// Reasons recorded on decisions.
const (
	ReasonNoGrant           = "no_grant"
	ReasonNoSubmission      = "no_submission"
	ReasonCached            = "cached"
	ReasonNotFound          = "gas_not_found"
	ReasonGASError          = "gas_error"
	ReasonReopenedUnchanged = "reopened_unchanged"
	ReasonOnCanonical       = "on_canonical"
	ReasonStatusChanged     = "status_redirect"
	// ReasonReadFailed marks a flow-through after the state read failed.
	ReasonReadFailed = "state_read_failed"
)

// Request is the per-request input.
type Request struct {
	Identity  sessionkey.Identity
	GrantID   string
	Path      string
	SessionID string
}

// Decision is what the caller should do with the request.
type Decision struct {
	Action   Action
	Location string
	Status   status.Application
	Reason   string
}

func proceed(reason string) Decision {
	return Decision{Action: Continue, Reason: reason}
}

// Reconciler runs the per-request status check.
type Reconciler struct {
	codec    *sessionkey.Codec
	states   StateStore
	gas      StatusSource
	sessions session.Store
	grants   *config.GrantsConfig
	logger   *logging.Logger
}

// Config wires the reconciler's collaborators.
type Config struct {
	Codec    *sessionkey.Codec
	States   StateStore
	GAS      StatusSource
	Sessions session.Store
	Grants   *config.GrantsConfig
	Logger   *logging.Logger
}

// New creates a reconciler.
func New(cfg Config) *Reconciler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewDiscard()
	}
	codec := cfg.Codec
	if codec == nil {
		codec = sessionkey.NewCodec(logger)
	}
	grants := cfg.Grants
	if grants == nil {
		grants = config.DefaultGrantsConfig()
	}
	return &Reconciler{
		codec:    codec,
		states:   cfg.States,
		gas:      cfg.GAS,
		sessions: cfg.Sessions,
		grants:   grants,
		logger:   logger,
	}
}

// FallbackPath returns the fallback path for grantID.
func (r *Reconciler) FallbackPath(grantID string) string {
	return r.grants.For(grantID).Fallback(grantID)
}

// Reconcile decides whether the request for req.GrantID may proceed. Errors
// deriving the key or reading state are returned unchanged; everything
// downstream of a successful read resolves to a Decision.
func (r *Reconciler) Reconcile(ctx context.Context, req Request) (Decision, error) {
	if req.GrantID == "" {
		return proceed(ReasonNoGrant), nil
	}

	key, err := r.codec.Derive(ctx, req.Identity, req.GrantID)
	if err != nil {
		return Decision{}, err
	}

	state, err := r.states.FetchState(ctx, key)
	if err != nil {
		return Decision{}, err
	}
	ref := state.ReferenceNumber()
	if ref == "" {
		return proceed(ReasonNoSubmission), nil
	}
	clientRef := strings.ToLower(ref)
	cacheKey := session.StatusCacheKey(clientRef, req.GrantID)

	if cached, ok := r.cachedStatus(ctx, req.SessionID, cacheKey); ok {
		return Decision{Action: Continue, Status: cached, Reason: ReasonCached}, nil
	}

	log := r.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"grant_code": req.GrantID,
		"client_ref": clientRef,
	})

	gasStatus, err := r.gas.GetApplicationStatus(ctx, req.GrantID, clientRef)
	if errors.Is(err, gas.ErrNotFound) {
		return proceed(ReasonNotFound), nil
	}
	if err != nil {
		log.WithError(err).Error("failed to fetch application status")
		fallback := r.FallbackPath(req.GrantID)
		if req.Path == fallback {
			return proceed(ReasonGASError), nil
		}
		return Decision{Action: Redirect, Location: fallback, Reason: ReasonGASError}, nil
	}

	mapped := status.FromGAS(gasStatus)
	previous := state.ApplicationStatus()

	r.cacheStatus(ctx, req.SessionID, cacheKey, mapped)

	if mapped == status.Reopened && previous == status.Reopened {
		return Decision{Action: Continue, Status: mapped, Reason: ReasonReopenedUnchanged}, nil
	}

	_ = r.states.PatchStatus(ctx, mapped, key)

	target := r.grants.For(req.GrantID).StatusURL(mapped, req.GrantID)
	if target == "" || target == req.Path {
		return Decision{Action: Continue, Status: mapped, Reason: ReasonOnCanonical}, nil
	}

	log.WithFields(map[string]interface{}{
		"gas_status": string(gasStatus),
		"status":     mapped.String(),
		"previous":   previous.String(),
		"location":   target,
	}).Info("redirecting to status page")

	return Decision{Action: Redirect, Location: target, Status: mapped, Reason: ReasonStatusChanged}, nil
}

func (r *Reconciler) cachedStatus(ctx context.Context, sessionID, cacheKey string) (status.Application, bool) {
	if r.sessions == nil || sessionID == "" {
		return status.None, false
	}
	v, ok, err := r.sessions.Get(ctx, sessionID, cacheKey)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("cache_key", cacheKey).Warn("session status lookup failed")
		return status.None, false
	}
	if !ok {
		return status.None, false
	}
	st := status.Parse(v)
	return st, st != status.None
}

func (r *Reconciler) cacheStatus(ctx context.Context, sessionID, cacheKey string, st status.Application) {
	if r.sessions == nil || sessionID == "" {
		return
	}
	if err := r.sessions.Set(ctx, sessionID, cacheKey, string(st)); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("cache_key", cacheKey).Warn("session status write failed")
	}
}

// CacheSubmitted records SUBMITTED in the session after a successful
// submission so the next page load does not ask GAS again.
func (r *Reconciler) CacheSubmitted(ctx context.Context, sessionID, clientRef, grantCode string) {
	r.cacheStatus(ctx, sessionID, session.StatusCacheKey(clientRef, grantCode), status.Submitted)
}

func record(d Decision) Decision {
	metrics.RecordReconcileDecision(d.Action.String(), d.Reason)
	return d
}
