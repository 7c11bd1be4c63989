// Package statesync reads and writes in-progress application state held by
// the remote state backend.
package statesync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/R3E-Network/grants_ui/internal/credential"
	apperrors "github.com/R3E-Network/grants_ui/internal/errors"
	"github.com/R3E-Network/grants_ui/internal/httputil"
	"github.com/R3E-Network/grants_ui/internal/locktoken"
	"github.com/R3E-Network/grants_ui/internal/logging"
	"github.com/R3E-Network/grants_ui/internal/metrics"
	"github.com/R3E-Network/grants_ui/internal/sessionkey"
	"github.com/R3E-Network/grants_ui/internal/status"
)

// GrantVersion is sent with every state write.
const GrantVersion = 1

// Reserved state fields.
const (
	FieldReferenceNumber   = "referenceNumber"
	FieldSubmittedAt       = "submittedAt"
	FieldSubmittedBy       = "submittedBy"
	FieldApplicationStatus = "applicationStatus"
)

// State is an application's answers plus the reserved fields above.
type State map[string]interface{}

// String returns the string value of field, or "".
func (s State) String(field string) string {
	if s == nil {
		return ""
	}
	v, _ := s[field].(string)
	return v
}

// ReferenceNumber returns the GAS client reference, if submitted.
func (s State) ReferenceNumber() string {
	return s.String(FieldReferenceNumber)
}

// ApplicationStatus returns the stored UI status.
func (s State) ApplicationStatus() status.Application {
	return status.Parse(s.String(FieldApplicationStatus))
}

// Options carries per-write settings.
type Options struct {
	// LockToken is sent as-is. When empty a token is minted if the issuer is
	// configured.
	LockToken string
}

// SubmissionRecord is the audit record written after GAS accepts an
// application.
type SubmissionRecord struct {
	CRN             string    `json:"crn"`
	SBI             string    `json:"sbi"`
	GrantCode       string    `json:"grantCode"`
	GrantVersion    int       `json:"grantVersion"`
	ReferenceNumber string    `json:"referenceNumber"`
	SubmittedAt     time.Time `json:"submittedAt"`
}

// Config configures the gateway.
type Config struct {
	BaseURL       string
	AuthToken     string
	EncryptionKey string
	Timeout       time.Duration
	MaxRetries    int
	HTTPClient    *http.Client
	Issuer        *locktoken.TokenIssuer
	Logger        *logging.Logger
}

// Gateway talks to the state backend. Without a base URL or service token
// every operation returns immediately without error.
type Gateway struct {
	client        *httputil.ServiceClient
	baseURL       string
	authToken     string
	encryptionKey string
	issuer        *locktoken.TokenIssuer
	logger        *logging.Logger
}

// New creates a gateway.
func New(cfg Config) *Gateway {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewDiscard()
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	return &Gateway{
		client: httputil.NewServiceClient(httputil.ServiceClientConfig{
			BaseURL:    baseURL,
			Timeout:    cfg.Timeout,
			MaxRetries: cfg.MaxRetries,
			BaseClient: cfg.HTTPClient,
			Name:       "state-backend",
			Logger:     logger,
		}),
		baseURL:       baseURL,
		authToken:     cfg.AuthToken,
		encryptionKey: cfg.EncryptionKey,
		issuer:        cfg.Issuer,
		logger:        logger,
	}
}

// Enabled reports whether durable state operations run.
func (g *Gateway) Enabled() bool {
	return g.baseURL != "" && g.authToken != ""
}

func stateQuery(key sessionkey.Key) string {
	q := url.Values{}
	q.Set("sbi", key.BusinessID)
	q.Set("grantCode", key.GrantID)
	return "/state/?" + q.Encode()
}

func (g *Gateway) headers(key sessionkey.Key, opts *Options) (http.Header, error) {
	lock := ""
	if opts != nil {
		lock = opts.LockToken
		if lock == "" && g.issuer.Configured() {
			minted, err := g.issuer.Mint(key.UserID, key.GrantID)
			if err != nil {
				return nil, err
			}
			lock = minted
		}
	}
	return credential.BuildHeaders(g.authToken, g.encryptionKey, lock)
}

// call sends a request and maps transport failures onto BackendError.
func (g *Gateway) call(ctx context.Context, method, path string, header http.Header, body interface{}) (*httputil.Response, error) {
	resp, err := g.client.Do(ctx, method, path, header, body)
	if err != nil {
		return nil, apperrors.Backend(fmt.Sprintf("%s %s failed", method, g.baseURL+path), 0, err)
	}
	return resp, nil
}

func unexpected(method, endpoint string, resp *httputil.Response) error {
	return apperrors.Backend(fmt.Sprintf("%s %s returned %d", method, endpoint, resp.StatusCode), resp.StatusCode, resp.Decode(nil))
}

func (g *Gateway) logFailure(ctx context.Context, op, endpoint string, key sessionkey.Key, err error) {
	g.logger.WithContext(ctx).WithError(err).WithFields(map[string]interface{}{
		"operation": op,
		"endpoint":  endpoint,
		"key":       key.String(),
	}).Error("state backend call failed")
}

// FetchState returns the stored state for key, or nil when none exists.
func (g *Gateway) FetchState(ctx context.Context, key sessionkey.Key) (State, error) {
	if !g.Enabled() {
		return nil, nil
	}
	start := time.Now()
	path := stateQuery(key)
	endpoint := g.baseURL + path

	header, err := g.headers(key, nil)
	if err != nil {
		return nil, err
	}

	resp, err := g.call(ctx, http.MethodGet, path, header, nil)
	if err != nil {
		metrics.RecordBackendCall("fetch_state", "error", time.Since(start))
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		metrics.RecordBackendCall("fetch_state", "not_found", time.Since(start))
		return nil, nil
	case !resp.OK():
		metrics.RecordBackendCall("fetch_state", "error", time.Since(start))
		return nil, unexpected(http.MethodGet, endpoint, resp)
	}

	if !gjson.ValidBytes(resp.Body) || !gjson.ParseBytes(resp.Body).IsObject() {
		metrics.RecordBackendCall("fetch_state", "error", time.Since(start))
		return nil, apperrors.Backend(fmt.Sprintf("GET %s returned a non-object body", endpoint), resp.StatusCode, nil)
	}

	var state State
	if err := json.Unmarshal(resp.Body, &state); err != nil {
		metrics.RecordBackendCall("fetch_state", "error", time.Since(start))
		return nil, apperrors.Backend("decode state", resp.StatusCode, err)
	}

	metrics.RecordBackendCall("fetch_state", "ok", time.Since(start))
	return state, nil
}

// PersistState writes state for key. The error is returned so the caller
// decides whether to discard it; it is always logged here.
func (g *Gateway) PersistState(ctx context.Context, state State, key sessionkey.Key, opts Options) error {
	if !g.Enabled() {
		return nil
	}
	start := time.Now()
	const path = "/state/"
	endpoint := g.baseURL + path

	err := g.write(ctx, http.MethodPost, path, key, &opts, map[string]interface{}{
		"sbi":          key.BusinessID,
		"grantCode":    key.GrantID,
		"grantVersion": GrantVersion,
		"state":        state,
	})
	if err != nil {
		metrics.RecordBackendCall("persist_state", "error", time.Since(start))
		g.logFailure(ctx, "persist_state", endpoint, key, err)
		return err
	}
	metrics.RecordBackendCall("persist_state", "ok", time.Since(start))
	return nil
}

// ClearState deletes state for key. A missing record counts as cleared.
func (g *Gateway) ClearState(ctx context.Context, key sessionkey.Key, opts Options) error {
	if !g.Enabled() {
		return nil
	}
	start := time.Now()
	path := stateQuery(key)
	endpoint := g.baseURL + path

	header, err := g.headers(key, &opts)
	if err != nil {
		return err
	}
	resp, err := g.call(ctx, http.MethodDelete, path, header, nil)
	if err == nil && !resp.OK() && resp.StatusCode != http.StatusNotFound {
		err = unexpected(http.MethodDelete, endpoint, resp)
	}
	if err != nil {
		metrics.RecordBackendCall("clear_state", "error", time.Since(start))
		g.logFailure(ctx, "clear_state", endpoint, key, err)
		return err
	}
	metrics.RecordBackendCall("clear_state", "ok", time.Since(start))
	return nil
}

// PatchStatus updates only the applicationStatus field of the stored state.
func (g *Gateway) PatchStatus(ctx context.Context, st status.Application, key sessionkey.Key) error {
	if !g.Enabled() {
		return nil
	}
	start := time.Now()
	path := fmt.Sprintf("/state/%s/%s", url.PathEscape(key.BusinessID), url.PathEscape(key.GrantID))
	endpoint := g.baseURL + path

	err := g.write(ctx, http.MethodPatch, path, key, &Options{}, map[string]interface{}{
		"state": map[string]interface{}{FieldApplicationStatus: string(st)},
	})
	if err != nil {
		metrics.RecordBackendCall("patch_status", "error", time.Since(start))
		g.logFailure(ctx, "patch_status", endpoint, key, err)
		return err
	}
	metrics.RecordBackendCall("patch_status", "ok", time.Since(start))
	return nil
}

// PersistSubmission records an accepted submission for audit.
func (g *Gateway) PersistSubmission(ctx context.Context, record SubmissionRecord, key sessionkey.Key) error {
	if !g.Enabled() {
		return nil
	}
	start := time.Now()
	const path = "/submissions"
	endpoint := g.baseURL + path

	if record.GrantVersion == 0 {
		record.GrantVersion = GrantVersion
	}
	err := g.write(ctx, http.MethodPost, path, key, &Options{}, record)
	if err != nil {
		metrics.RecordBackendCall("persist_submission", "error", time.Since(start))
		g.logFailure(ctx, "persist_submission", endpoint, key, err)
		return err
	}
	metrics.RecordBackendCall("persist_submission", "ok", time.Since(start))
	return nil
}

func (g *Gateway) write(ctx context.Context, method, path string, key sessionkey.Key, opts *Options, body interface{}) error {
	header, err := g.headers(key, opts)
	if err != nil {
		return err
	}
	resp, err := g.call(ctx, method, path, header, body)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return unexpected(method, g.baseURL+path, resp)
	}
	return nil
}
