// Package formstate exposes the state hooks page handlers use to load and
// save answers between requests.
package formstate

import (
	"context"

	"github.com/R3E-Network/grants_ui/internal/logging"
	"github.com/R3E-Network/grants_ui/internal/sessionkey"
	"github.com/R3E-Network/grants_ui/internal/statesync"
)

// StateStore is the subset of the state gateway the hooks need.
type StateStore interface {
	FetchState(ctx context.Context, key sessionkey.Key) (statesync.State, error)
	PersistState(ctx context.Context, state statesync.State, key sessionkey.Key, opts statesync.Options) error
	ClearState(ctx context.Context, key sessionkey.Key, opts statesync.Options) error
}

// reserved fields are owned by submission and reconciliation.
var reserved = map[string]bool{
	statesync.FieldReferenceNumber:   true,
	statesync.FieldSubmittedAt:       true,
	statesync.FieldSubmittedBy:       true,
	statesync.FieldApplicationStatus: true,
}

// Hooks binds the key codec to the state store.
type Hooks struct {
	codec  *sessionkey.Codec
	store  StateStore
	logger *logging.Logger
}

// New creates the hooks.
func New(codec *sessionkey.Codec, store StateStore, logger *logging.Logger) *Hooks {
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &Hooks{codec: codec, store: store, logger: logger}
}

// Get loads the saved state for the applicant and grant. A nil state means
// nothing has been saved yet.
func (h *Hooks) Get(ctx context.Context, identity sessionkey.Identity, grantID string) (statesync.State, error) {
	key, err := h.codec.Derive(ctx, identity, grantID)
	if err != nil {
		return nil, err
	}
	return h.store.FetchState(ctx, key)
}

// Set merges answers into the saved state and persists it. Reserved fields
// in answers are ignored. A failed write does not fail the request; the
// next page transition writes the full state again.
func (h *Hooks) Set(ctx context.Context, identity sessionkey.Identity, grantID string, answers map[string]interface{}) (statesync.State, error) {
	key, err := h.codec.Derive(ctx, identity, grantID)
	if err != nil {
		return nil, err
	}

	current, err := h.store.FetchState(ctx, key)
	if err != nil {
		return nil, err
	}

	merged := make(statesync.State, len(current)+len(answers))
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range answers {
		if reserved[k] {
			h.logger.WithContext(ctx).WithField("field", k).Debug("ignoring reserved field in answers")
			continue
		}
		merged[k] = v
	}

	_ = h.store.PersistState(ctx, merged, key, statesync.Options{})
	return merged, nil
}

// Clear removes the saved state. Errors propagate so the caller does not
// report a reset that did not happen.
func (h *Hooks) Clear(ctx context.Context, identity sessionkey.Identity, grantID string) error {
	key, err := h.codec.Derive(ctx, identity, grantID)
	if err != nil {
		return err
	}
	return h.store.ClearState(ctx, key, statesync.Options{})
}
