// Package submission sends a completed application to GAS and records the
// outcome in state, the session cache and the submissions audit log.
package submission

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/R3E-Network/grants_ui/internal/errors"
	"github.com/R3E-Network/grants_ui/internal/gas"
	"github.com/R3E-Network/grants_ui/internal/logging"
	"github.com/R3E-Network/grants_ui/internal/sessionkey"
	"github.com/R3E-Network/grants_ui/internal/statesync"
	"github.com/R3E-Network/grants_ui/internal/status"
)

// Submitter sends applications to GAS.
type Submitter interface {
	SubmitApplication(ctx context.Context, grantCode string, app gas.Application) error
}

// StateStore is the subset of the state gateway the flow needs.
type StateStore interface {
	FetchState(ctx context.Context, key sessionkey.Key) (statesync.State, error)
	PersistState(ctx context.Context, state statesync.State, key sessionkey.Key, opts statesync.Options) error
	PersistSubmission(ctx context.Context, record statesync.SubmissionRecord, key sessionkey.Key) error
}

// StatusCache records the submitted status for the browser session.
type StatusCache interface {
	CacheSubmitted(ctx context.Context, sessionID, clientRef, grantCode string)
}

// Result describes an accepted submission.
type Result struct {
	ReferenceNumber string             `json:"referenceNumber"`
	SubmittedAt     time.Time          `json:"submittedAt"`
	Status          status.Application `json:"applicationStatus"`
}

// Flow runs a submission.
type Flow struct {
	codec  *sessionkey.Codec
	gas    Submitter
	states StateStore
	cache  StatusCache
	logger *logging.Logger
	now    func() time.Time
}

// NewFlow creates a submission flow. cache may be nil.
func NewFlow(codec *sessionkey.Codec, submitter Submitter, states StateStore, cache StatusCache, logger *logging.Logger) *Flow {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &Flow{
		codec:  codec,
		gas:    submitter,
		states: states,
		cache:  cache,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// NewReferenceNumber returns a reference of the form "ABC-123-DEF".
func NewReferenceNumber() string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return id[0:3] + "-" + id[3:6] + "-" + id[6:9]
}

// Submit sends the saved answers for grantID to GAS. A withdrawn (CLEARED)
// application cannot be submitted again. Only a GAS rejection or a failed
// state read otherwise fails the call; once GAS has accepted the application
// later bookkeeping errors are logged and the submission still succeeds.
func (f *Flow) Submit(ctx context.Context, identity sessionkey.Identity, grantID, sessionID string) (Result, error) {
	key, err := f.codec.Derive(ctx, identity, grantID)
	if err != nil {
		return Result{}, err
	}

	state, err := f.states.FetchState(ctx, key)
	if err != nil {
		return Result{}, err
	}
	if state == nil {
		return Result{}, apperrors.Validation("state", "no saved answers to submit")
	}

	if state.ApplicationStatus() == status.Cleared {
		return Result{}, apperrors.Validation("applicationStatus", "application was withdrawn")
	}

	if state.ApplicationStatus() == status.Submitted {
		submittedAt, _ := time.Parse(time.RFC3339, state.String(statesync.FieldSubmittedAt))
		return Result{
			ReferenceNumber: state.ReferenceNumber(),
			SubmittedAt:     submittedAt,
			Status:          status.Submitted,
		}, nil
	}

	ref := state.ReferenceNumber()
	if ref == "" {
		ref = NewReferenceNumber()
	}
	submittedAt := f.now()

	answers := make(map[string]interface{}, len(state))
	for k, v := range state {
		switch k {
		case statesync.FieldReferenceNumber, statesync.FieldSubmittedAt, statesync.FieldSubmittedBy, statesync.FieldApplicationStatus:
			continue
		}
		answers[k] = v
	}

	err = f.gas.SubmitApplication(ctx, grantID, gas.Application{
		Metadata: gas.ApplicationMetadata{
			ClientRef:   strings.ToLower(ref),
			SBI:         key.BusinessID,
			CRN:         key.UserID,
			SubmittedAt: submittedAt,
		},
		Answers: answers,
	})
	if err != nil {
		f.logger.WithContext(ctx).WithError(err).WithFields(map[string]interface{}{
			"grant_code": grantID,
			"key":        key.String(),
		}).Error("GAS rejected submission")
		return Result{}, err
	}

	updated := make(statesync.State, len(state)+4)
	for k, v := range state {
		updated[k] = v
	}
	updated[statesync.FieldReferenceNumber] = ref
	updated[statesync.FieldSubmittedAt] = submittedAt.Format(time.RFC3339)
	updated[statesync.FieldSubmittedBy] = key.UserID
	updated[statesync.FieldApplicationStatus] = string(status.Submitted)

	_ = f.states.PersistState(ctx, updated, key, statesync.Options{})

	if f.cache != nil {
		f.cache.CacheSubmitted(ctx, sessionID, ref, grantID)
	}

	record := statesync.SubmissionRecord{
		CRN:             key.UserID,
		SBI:             key.BusinessID,
		GrantCode:       grantID,
		GrantVersion:    statesync.GrantVersion,
		ReferenceNumber: ref,
		SubmittedAt:     submittedAt,
	}
	if err := f.states.PersistSubmission(ctx, record, key); err != nil {
		f.logger.WithContext(ctx).WithError(err).WithField("reference_number", ref).Warn("submission accepted by GAS but audit record was not stored")
	}

	f.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"grant_code":       grantID,
		"reference_number": ref,
	}).Info("application submitted")

	return Result{ReferenceNumber: ref, SubmittedAt: submittedAt, Status: status.Submitted}, nil
}
