package formstate

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/R3E-Network/grants_ui/internal/errors"
	"github.com/R3E-Network/grants_ui/internal/sessionkey"
	"github.com/R3E-Network/grants_ui/internal/statesync"
	"github.com/R3E-Network/grants_ui/pkg/testutil"
)

type fakeStore struct {
	mu         sync.Mutex
	states     map[string]statesync.State
	fetchErr   error
	persistErr error
	clearErr   error
	persisted  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{states: make(map[string]statesync.State)}
}

func (f *fakeStore) FetchState(_ context.Context, key sessionkey.Key) (statesync.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.states[key.String()], nil
}

func (f *fakeStore) PersistState(_ context.Context, state statesync.State, key sessionkey.Key, _ statesync.Options) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.persisted++
	if f.persistErr != nil {
		return f.persistErr
	}
	f.states[key.String()] = state
	return nil
}

func (f *fakeStore) ClearState(_ context.Context, key sessionkey.Key, _ statesync.Options) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.clearErr != nil {
		return f.clearErr
	}
	delete(f.states, key.String())
	return nil
}

var applicant = testutil.NewIdentity("1100014934", "rel-1:106284736:Farm Ltd")

func TestSet_MergesAndPersists(t *testing.T) {
	store := newFakeStore()
	store.states["106284736:g1"] = statesync.State{"a": "1", "referenceNumber": "REF"}
	h := New(sessionkey.NewCodec(nil), store, nil)

	merged, err := h.Set(context.Background(), applicant, "g1", map[string]interface{}{
		"b":               "2",
		"referenceNumber": "HIJACK",
	})
	require.NoError(t, err)

	assert.Equal(t, "1", merged["a"])
	assert.Equal(t, "2", merged["b"])
	assert.Equal(t, "REF", merged["referenceNumber"], "reserved fields cannot be set from answers")

	got, err := h.Get(context.Background(), applicant, "g1")
	require.NoError(t, err)
	assert.Equal(t, merged, got)
}

func TestSet_PersistFailureIsDiscarded(t *testing.T) {
	store := newFakeStore()
	store.persistErr = apperrors.Backend("down", 0, errors.New("connection refused"))
	h := New(sessionkey.NewCodec(nil), store, nil)

	merged, err := h.Set(context.Background(), applicant, "g1", map[string]interface{}{"a": "1"})
	assert.NoError(t, err)
	assert.Equal(t, "1", merged["a"])
	assert.Equal(t, 1, store.persisted)
}

func TestSet_FetchFailurePropagates(t *testing.T) {
	store := newFakeStore()
	store.fetchErr = apperrors.Backend("down", 503, nil)
	h := New(sessionkey.NewCodec(nil), store, nil)

	_, err := h.Set(context.Background(), applicant, "g1", map[string]interface{}{"a": "1"})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeBackend))
	assert.Equal(t, 0, store.persisted)
}

func TestHooks_IdentityErrorsPropagate(t *testing.T) {
	h := New(sessionkey.NewCodec(nil), newFakeStore(), nil)
	noBusiness := testutil.NewIdentity("u1")

	_, err := h.Get(context.Background(), noBusiness, "g1")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeIdentity))

	_, err = h.Set(context.Background(), applicant, "", nil)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeIdentity))

	err = h.Clear(context.Background(), nil, "g1")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeIdentity))
}

func TestClear(t *testing.T) {
	store := newFakeStore()
	store.states["106284736:g1"] = statesync.State{"a": "1"}
	h := New(sessionkey.NewCodec(nil), store, nil)

	require.NoError(t, h.Clear(context.Background(), applicant, "g1"))
	st, _ := h.Get(context.Background(), applicant, "g1")
	assert.Nil(t, st)

	store.clearErr = apperrors.Backend("down", 500, nil)
	assert.Error(t, h.Clear(context.Background(), applicant, "g1"), "clear failures propagate")
}
