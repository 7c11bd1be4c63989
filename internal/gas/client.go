// Package gas is the client for the Grant Application Service, the system of
// record for submitted applications and their processing status.
package gas

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	apperrors "github.com/R3E-Network/grants_ui/internal/errors"
	"github.com/R3E-Network/grants_ui/internal/httputil"
	"github.com/R3E-Network/grants_ui/internal/logging"
	"github.com/R3E-Network/grants_ui/internal/metrics"
	"github.com/R3E-Network/grants_ui/internal/status"
)

// ErrNotFound is returned when GAS holds no application for the reference.
var ErrNotFound = errors.New("gas: application not found")

// Config configures the GAS client.
type Config struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
	Logger     *logging.Logger
}

// Client talks to GAS.
type Client struct {
	http   *httputil.ServiceClient
	token  string
	logger *logging.Logger
}

// New creates a GAS client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, apperrors.Config("GAS_API_URL")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewDiscard()
	}
	return &Client{
		http: httputil.NewServiceClient(httputil.ServiceClientConfig{
			BaseURL:    strings.TrimRight(cfg.BaseURL, "/"),
			Timeout:    cfg.Timeout,
			MaxRetries: cfg.MaxRetries,
			BaseClient: cfg.HTTPClient,
			Name:       "gas",
			Logger:     logger,
		}),
		token:  cfg.Token,
		logger: logger,
	}, nil
}

// Application is the payload submitted to GAS.
type Application struct {
	Metadata ApplicationMetadata    `json:"metadata"`
	Answers  map[string]interface{} `json:"answers"`
}

// ApplicationMetadata identifies the applicant and reference.
type ApplicationMetadata struct {
	ClientRef   string    `json:"clientRef"`
	SBI         string    `json:"sbi"`
	CRN         string    `json:"crn"`
	SubmittedAt time.Time `json:"submittedAt"`
}

func (c *Client) headers() http.Header {
	h := http.Header{}
	h.Set("Accept", "application/json")
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	return h
}

// GetApplicationStatus returns the GAS status for clientRef under grantCode.
// ErrNotFound means nothing has been submitted yet.
func (c *Client) GetApplicationStatus(ctx context.Context, grantCode, clientRef string) (status.GAS, error) {
	path := fmt.Sprintf("/grants/%s/applications/%s/status", url.PathEscape(grantCode), url.PathEscape(clientRef))

	resp, err := c.http.Get(ctx, path, c.headers())
	if err != nil {
		metrics.RecordGASCall("status", "error")
		return "", apperrors.Backend("GAS status request failed", 0, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		metrics.RecordGASCall("status", "not_found")
		return "", ErrNotFound
	case !resp.OK():
		metrics.RecordGASCall("status", "error")
		return "", apperrors.Backend("GAS status request failed", resp.StatusCode, resp.Decode(nil))
	}

	value := gjson.GetBytes(resp.Body, "status")
	if !value.Exists() || value.Type != gjson.String || value.String() == "" {
		metrics.RecordGASCall("status", "error")
		return "", apperrors.Backend("GAS status response has no status", resp.StatusCode, nil)
	}

	metrics.RecordGASCall("status", "ok")
	c.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"grant_code": grantCode,
		"client_ref": clientRef,
		"gas_status": value.String(),
	}).Debug("fetched GAS application status")

	return status.GAS(value.String()), nil
}

// SubmitApplication sends the application to GAS. Only 204 is success.
func (c *Client) SubmitApplication(ctx context.Context, grantCode string, app Application) error {
	path := fmt.Sprintf("/grants/%s/applications", url.PathEscape(grantCode))

	resp, err := c.http.Post(ctx, path, c.headers(), app)
	if err != nil {
		metrics.RecordGASCall("submit", "error")
		return apperrors.Backend("GAS submission failed", 0, err)
	}
	if resp.StatusCode != http.StatusNoContent {
		metrics.RecordGASCall("submit", "error")
		return apperrors.Backend("GAS submission rejected", resp.StatusCode, resp.Decode(nil))
	}

	metrics.RecordGASCall("submit", "ok")
	return nil
}
