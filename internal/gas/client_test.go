package gas

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "github.com/R3E-Network/grants_ui/internal/errors"
	"github.com/R3E-Network/grants_ui/internal/mockbackend"
	"github.com/R3E-Network/grants_ui/internal/status"
	"github.com/R3E-Network/grants_ui/pkg/testutil"
)

func newClient(t *testing.T, url, token string) *Client {
	t.Helper()
	c, err := New(Config{BaseURL: url, Token: token, Timeout: time.Second, MaxRetries: 1})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return c
}

func TestNew_RequiresURL(t *testing.T) {
	_, err := New(Config{})
	if !apperrors.IsCode(err, apperrors.CodeConfig) {
		t.Errorf("New() error = %v, want CONFIG_ERROR", err)
	}
}

func TestGetApplicationStatus(t *testing.T) {
	mock := mockbackend.New(mockbackend.Config{})
	mock.SetGASStatus("g1", "abc", status.GASOfferSent)
	server := httptest.NewServer(mock.Handler())
	defer server.Close()

	c := newClient(t, server.URL, "")

	got, err := c.GetApplicationStatus(context.Background(), "g1", "abc")
	if err != nil {
		t.Fatalf("GetApplicationStatus() error: %v", err)
	}
	if got != status.GASOfferSent {
		t.Errorf("GetApplicationStatus() = %s, want OFFER_SENT", got)
	}

	_, err = c.GetApplicationStatus(context.Background(), "g1", "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetApplicationStatus(missing) error = %v, want ErrNotFound", err)
	}
}

func TestGetApplicationStatus_Errors(t *testing.T) {
	tests := []struct {
		name       string
		code       int
		body       string
		wantStatus int
	}{
		{"server error", http.StatusInternalServerError, `oops`, http.StatusInternalServerError},
		{"missing status field", http.StatusOK, `{"state":"x"}`, http.StatusOK},
		{"non-string status", http.StatusOK, `{"status":3}`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := newClient(t, server.URL, "").GetApplicationStatus(context.Background(), "g1", "abc")
			se := apperrors.GetServiceError(err)
			if se == nil || se.Code != apperrors.CodeBackend {
				t.Fatalf("error = %v, want BACKEND_ERROR", err)
			}
			if se.UpstreamStatus() != tt.wantStatus {
				t.Errorf("UpstreamStatus() = %d, want %d", se.UpstreamStatus(), tt.wantStatus)
			}
		})
	}
}

func TestClient_SendsBearerToken(t *testing.T) {
	log := testutil.NewRequestLog()
	server := httptest.NewServer(log.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"RECEIVED"}`))
	})))
	defer server.Close()

	if _, err := newClient(t, server.URL, "gas-token").GetApplicationStatus(context.Background(), "g1", "abc"); err != nil {
		t.Fatalf("GetApplicationStatus() error: %v", err)
	}

	req, _ := log.Last()
	if req.Header.Get("Authorization") != "Bearer gas-token" {
		t.Errorf("Authorization = %q, want Bearer gas-token", req.Header.Get("Authorization"))
	}
	if req.Path != "/grants/g1/applications/abc/status" {
		t.Errorf("Path = %s", req.Path)
	}
}

func TestSubmitApplication(t *testing.T) {
	mock := mockbackend.New(mockbackend.Config{})
	server := httptest.NewServer(mock.Handler())
	defer server.Close()

	c := newClient(t, server.URL, "")
	err := c.SubmitApplication(context.Background(), "g1", Application{
		Metadata: ApplicationMetadata{ClientRef: "abc", SBI: "106284736", CRN: "1100014934", SubmittedAt: time.Now()},
		Answers:  map[string]interface{}{"farmSize": "large"},
	})
	if err != nil {
		t.Fatalf("SubmitApplication() error: %v", err)
	}

	got, err := c.GetApplicationStatus(context.Background(), "g1", "ABC")
	if err != nil || got != status.GASReceived {
		t.Errorf("status after submit = %s, %v; want RECEIVED", got, err)
	}
}

func TestSubmitApplication_Non204IsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	err := newClient(t, server.URL, "").SubmitApplication(context.Background(), "g1", Application{})
	se := apperrors.GetServiceError(err)
	if se == nil || se.UpstreamStatus() != http.StatusOK {
		t.Errorf("SubmitApplication() error = %v, want BACKEND_ERROR with status 200", err)
	}
}
