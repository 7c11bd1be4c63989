package mockbackend

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/R3E-Network/grants_ui/internal/credential"
	"github.com/R3E-Network/grants_ui/internal/locktoken"
	"github.com/R3E-Network/grants_ui/internal/status"
)

func authorized(t *testing.T, req *http.Request, token, key string) *http.Request {
	t.Helper()
	h, err := credential.BuildHeaders(token, key, "")
	if err != nil {
		t.Fatalf("BuildHeaders() error: %v", err)
	}
	req.Header.Set("Authorization", h.Get("Authorization"))
	return req
}

func TestState_RequiresServiceCredential(t *testing.T) {
	srv := New(Config{AuthToken: "svc", EncryptionKey: "enc"})
	h := srv.Handler()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/state/?sbi=1&grantCode=g", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("no credential: status = %d, want 401", rr.Code)
	}

	rr = httptest.NewRecorder()
	req := authorized(t, httptest.NewRequest(http.MethodGet, "/state/?sbi=1&grantCode=g", nil), "wrong", "enc")
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", rr.Code)
	}

	rr = httptest.NewRecorder()
	req = authorized(t, httptest.NewRequest(http.MethodGet, "/state/?sbi=1&grantCode=g", nil), "svc", "enc")
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Errorf("valid credential: status = %d, want 404", rr.Code)
	}
}

func TestState_LockTokenChecks(t *testing.T) {
	srv := New(Config{LockSecret: "secret"})
	h := srv.Handler()
	body := `{"sbi":"1","grantCode":"g","grantVersion":1,"state":{"a":"b"}}`

	tests := []struct {
		name string
		lock func() string
		want int
	}{
		{"missing", func() string { return "" }, http.StatusUnauthorized},
		{"bad signature", func() string {
			tok, _ := locktoken.NewIssuer("other", 0).Mint("u", "g")
			return tok
		}, http.StatusUnauthorized},
		{"grant mismatch", func() string {
			tok, _ := locktoken.NewIssuer("secret", 0).Mint("u", "other-grant")
			return tok
		}, http.StatusForbidden},
		{"valid", func() string {
			tok, _ := locktoken.NewIssuer("secret", 0).Mint("u", "g")
			return tok
		}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/state/", strings.NewReader(body))
			if lock := tt.lock(); lock != "" {
				req.Header.Set(credential.LockTokenHeader, lock)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestState_PatchMissingIs404(t *testing.T) {
	srv := New(Config{})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPatch, "/state/1/g", strings.NewReader(`{"state":{"applicationStatus":"SUBMITTED"}}`))
	srv.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestGAS_StatusAndSubmit(t *testing.T) {
	srv := New(Config{})
	h := srv.Handler()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/grants/g1/applications/abc/status", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("before submit: status = %d, want 404", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/grants/g1/applications", strings.NewReader(`{"metadata":{"clientRef":"ABC"},"answers":{}}`)))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("submit: status = %d, want 204", rr.Code)
	}
	if _, ok := srv.GASApplication("g1", "abc"); !ok {
		t.Error("GASApplication() should hold the submitted payload")
	}

	srv.SetGASStatus("g1", "ABC", status.GASAwaitingAmendments)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/grants/g1/applications/abc/status", nil))

	var body map[string]string
	json.NewDecoder(rr.Body).Decode(&body)
	if body["status"] != "AWAITING_AMENDMENTS" {
		t.Errorf("status body = %v, want AWAITING_AMENDMENTS", body)
	}
}

func TestGAS_SubmitRequiresClientRef(t *testing.T) {
	srv := New(Config{})
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/grants/g1/applications", strings.NewReader(`{"answers":{}}`)))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}
