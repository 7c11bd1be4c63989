// Package mockbackend is an in-memory stand-in for the state backend and the
// GAS API, used for local development and tests.
package mockbackend

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/grants_ui/internal/credential"
	"github.com/R3E-Network/grants_ui/internal/httputil"
	"github.com/R3E-Network/grants_ui/internal/locktoken"
	"github.com/R3E-Network/grants_ui/internal/logging"
	"github.com/R3E-Network/grants_ui/internal/status"
)

// Config configures the mock. An empty AuthToken disables the service
// credential check; an empty LockSecret disables lock token checks.
type Config struct {
	AuthToken     string
	EncryptionKey string
	LockSecret    string
	Logger        *logging.Logger
}

// Submission is a record received on /submissions.
type Submission struct {
	CRN             string    `json:"crn"`
	SBI             string    `json:"sbi"`
	GrantCode       string    `json:"grantCode"`
	GrantVersion    int       `json:"grantVersion"`
	ReferenceNumber string    `json:"referenceNumber"`
	SubmittedAt     time.Time `json:"submittedAt"`
}

// Server holds every record in memory behind one mutex.
type Server struct {
	cfg    Config
	lock   *locktoken.TokenIssuer
	logger *logging.Logger

	mu          sync.RWMutex
	states      map[string]map[string]interface{}
	submissions []Submission
	gasStatuses map[string]status.GAS
	gasApps     map[string]json.RawMessage
}

// New creates a mock server.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewDiscard()
	}
	s := &Server{
		cfg:         cfg,
		logger:      logger,
		states:      make(map[string]map[string]interface{}),
		gasStatuses: make(map[string]status.GAS),
		gasApps:     make(map[string]json.RawMessage),
	}
	if cfg.LockSecret != "" {
		s.lock = locktoken.NewIssuer(cfg.LockSecret, 0)
	}
	return s
}

// Handler returns a router serving both the state API and the GAS API at
// the root.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	s.RegisterState(r)
	s.RegisterGAS(r)
	return r
}

// RegisterState mounts the state backend API on r.
func (s *Server) RegisterState(r *mux.Router) {
	r.HandleFunc("/state/", s.requireService(s.getState)).Methods(http.MethodGet)
	r.HandleFunc("/state/", s.requireService(s.postState)).Methods(http.MethodPost)
	r.HandleFunc("/state/", s.requireService(s.deleteState)).Methods(http.MethodDelete)
	r.HandleFunc("/state/{sbi}/{grantCode}", s.requireService(s.patchState)).Methods(http.MethodPatch)
	r.HandleFunc("/submissions", s.requireService(s.postSubmission)).Methods(http.MethodPost)
}

// RegisterGAS mounts the GAS API on r.
func (s *Server) RegisterGAS(r *mux.Router) {
	r.HandleFunc("/grants/{code}/applications/{clientRef}/status", s.getGASStatus).Methods(http.MethodGet)
	r.HandleFunc("/grants/{code}/applications", s.postGASApplication).Methods(http.MethodPost)
}

func stateKey(sbi, grantCode string) string {
	return sbi + ":" + grantCode
}

func gasKey(grantCode, clientRef string) string {
	return grantCode + ":" + strings.ToLower(clientRef)
}

// ===== Test hooks =====

// SetGASStatus sets the status GAS reports for clientRef.
func (s *Server) SetGASStatus(grantCode, clientRef string, st status.GAS) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gasStatuses[gasKey(grantCode, clientRef)] = st
}

// SetState seeds stored state.
func (s *Server) SetState(sbi, grantCode string, state map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[stateKey(sbi, grantCode)] = copyState(state)
}

// State returns a copy of stored state.
func (s *Server) State(sbi, grantCode string) (map[string]interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[stateKey(sbi, grantCode)]
	if !ok {
		return nil, false
	}
	return copyState(st), true
}

// Submissions returns the received submission records.
func (s *Server) Submissions() []Submission {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Submission, len(s.submissions))
	copy(out, s.submissions)
	return out
}

// GASApplication returns the raw payload submitted to GAS for clientRef.
func (s *Server) GASApplication(grantCode, clientRef string) (json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.gasApps[gasKey(grantCode, clientRef)]
	return raw, ok
}

func copyState(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// ===== Auth =====

func (s *Server) requireService(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AuthToken == "" {
			next(w, r)
			return
		}
		token, err := credential.ParseAuthorization(r.Header.Get("Authorization"), s.cfg.EncryptionKey)
		if err != nil || token != s.cfg.AuthToken {
			s.logger.LogSecurityEvent(r.Context(), "mock_backend_rejected_credential", map[string]interface{}{
				"path": r.URL.Path,
			})
			httputil.WriteError(w, http.StatusUnauthorized, "invalid service credential")
			return
		}
		next(w, r)
	}
}

// checkLock verifies the lock token on writes when a secret is configured.
func (s *Server) checkLock(w http.ResponseWriter, r *http.Request, grantCode string) bool {
	if s.lock == nil {
		return true
	}
	raw := r.Header.Get(credential.LockTokenHeader)
	if raw == "" {
		httputil.WriteError(w, http.StatusUnauthorized, "missing lock token")
		return false
	}
	claims, err := s.lock.Verify(raw)
	if err != nil {
		httputil.WriteError(w, http.StatusUnauthorized, "invalid lock token")
		return false
	}
	if claims.GrantCode != grantCode {
		httputil.WriteError(w, http.StatusForbidden, "lock token grant mismatch")
		return false
	}
	return true
}

// ===== State API =====

func (s *Server) getState(w http.ResponseWriter, r *http.Request) {
	sbi, grantCode := r.URL.Query().Get("sbi"), r.URL.Query().Get("grantCode")
	if sbi == "" || grantCode == "" {
		httputil.WriteError(w, http.StatusBadRequest, "sbi and grantCode are required")
		return
	}
	st, ok := s.State(sbi, grantCode)
	if !ok {
		httputil.WriteError(w, http.StatusNotFound, "state not found")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, st)
}

func (s *Server) postState(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SBI          string                 `json:"sbi"`
		GrantCode    string                 `json:"grantCode"`
		GrantVersion int                    `json:"grantVersion"`
		State        map[string]interface{} `json:"state"`
	}
	if err := httputil.ReadJSON(r, &body); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if body.SBI == "" || body.GrantCode == "" || body.State == nil {
		httputil.WriteError(w, http.StatusBadRequest, "sbi, grantCode and state are required")
		return
	}
	if !s.checkLock(w, r, body.GrantCode) {
		return
	}
	s.SetState(body.SBI, body.GrantCode, body.State)
	httputil.WriteJSON(w, http.StatusOK, body.State)
}

func (s *Server) patchState(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sbi, grantCode := vars["sbi"], vars["grantCode"]

	var body struct {
		State map[string]interface{} `json:"state"`
	}
	if err := httputil.ReadJSON(r, &body); err != nil || body.State == nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if !s.checkLock(w, r, grantCode) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[stateKey(sbi, grantCode)]
	if !ok {
		httputil.WriteError(w, http.StatusNotFound, "state not found")
		return
	}
	for k, v := range body.State {
		st[k] = v
	}
	httputil.WriteJSON(w, http.StatusOK, copyState(st))
}

func (s *Server) deleteState(w http.ResponseWriter, r *http.Request) {
	sbi, grantCode := r.URL.Query().Get("sbi"), r.URL.Query().Get("grantCode")
	if !s.checkLock(w, r, grantCode) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	k := stateKey(sbi, grantCode)
	if _, ok := s.states[k]; !ok {
		httputil.WriteError(w, http.StatusNotFound, "state not found")
		return
	}
	delete(s.states, k)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) postSubmission(w http.ResponseWriter, r *http.Request) {
	var rec Submission
	if err := httputil.ReadJSON(r, &rec); err != nil || rec.GrantCode == "" || rec.ReferenceNumber == "" {
		httputil.WriteError(w, http.StatusBadRequest, "invalid submission record")
		return
	}
	if !s.checkLock(w, r, rec.GrantCode) {
		return
	}

	s.mu.Lock()
	s.submissions = append(s.submissions, rec)
	s.mu.Unlock()

	httputil.WriteJSON(w, http.StatusCreated, rec)
}

// ===== GAS API =====

func (s *Server) getGASStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	s.mu.RLock()
	st, ok := s.gasStatuses[gasKey(vars["code"], vars["clientRef"])]
	s.mu.RUnlock()

	if !ok {
		httputil.WriteError(w, http.StatusNotFound, "application not found")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": string(st)})
}

func (s *Server) postGASApplication(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]

	var body struct {
		Metadata struct {
			ClientRef string `json:"clientRef"`
		} `json:"metadata"`
	}
	raw, err := httputil.ReadAllStrict(r.Body, 1<<20)
	if err != nil || json.Unmarshal(raw, &body) != nil || body.Metadata.ClientRef == "" {
		httputil.WriteError(w, http.StatusBadRequest, "metadata.clientRef is required")
		return
	}

	s.mu.Lock()
	k := gasKey(code, body.Metadata.ClientRef)
	s.gasApps[k] = raw
	s.gasStatuses[k] = status.GASReceived
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}
