package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/grants_ui/internal/httputil"
	"github.com/R3E-Network/grants_ui/internal/status"
)

// ===== Environment =====

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("GRANTS_UI_BACKEND_URL", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.BackendTimeout)
	assert.Equal(t, 2, cfg.BackendMaxRetries)
	assert.Equal(t, 5*time.Minute, cfg.LockTokenExpiry)
	assert.False(t, cfg.BackendEnabled())
	assert.False(t, cfg.UseRedis())
}

func TestClientRetries(t *testing.T) {
	t.Setenv("BACKEND_MAX_RETRIES", "0")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.BackendMaxRetries)
	assert.Equal(t, httputil.NoRetries, cfg.ClientRetries())

	cfg.BackendMaxRetries = 3
	assert.Equal(t, 3, cfg.ClientRetries())
}

func TestLoad_FromEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	content := "GRANTS_UI_BACKEND_URL=http://backend.local/\n" +
		"GRANTS_UI_BACKEND_AUTH_TOKEN=svc\n" +
		"GRANTS_UI_BACKEND_ENCRYPTION_KEY=enc\n" +
		"BACKEND_TIMEOUT=3s\n"
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0o600))

	// godotenv does not override variables that are already set.
	for _, k := range []string{"GRANTS_UI_BACKEND_URL", "GRANTS_UI_BACKEND_AUTH_TOKEN", "GRANTS_UI_BACKEND_ENCRYPTION_KEY", "BACKEND_TIMEOUT"} {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			} else {
				os.Unsetenv(k)
			}
		})
	}

	cfg, err := Load(envFile)
	require.NoError(t, err)

	assert.Equal(t, "http://backend.local", cfg.BackendURL)
	assert.Equal(t, 3*time.Second, cfg.BackendTimeout)
	assert.True(t, cfg.BackendEnabled())
}

func TestLoad_MissingEnvFileIsIgnored(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"minimal", Config{Port: 3000}, false},
		{"token without key", Config{Port: 3000, BackendURL: "http://b", BackendAuthToken: "t"}, true},
		{"token with key", Config{Port: 3000, BackendURL: "http://b", BackendAuthToken: "t", BackendEncryptionKey: "k"}, false},
		{"negative retries", Config{Port: 3000, BackendMaxRetries: -1}, true},
		{"bad port", Config{Port: 0}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// ===== Grants routing =====

func TestDefaultGrantsConfig(t *testing.T) {
	settings := DefaultGrantsConfig().For("g1")

	tests := map[status.Application]string{
		status.Submitted: "/g1/confirmation",
		status.Reopened:  "/g1/summary",
		status.Cleared:   "/startpage",
		status.None:      "",
	}
	for st, want := range tests {
		if got := settings.StatusURL(st, "g1"); got != want {
			t.Errorf("StatusURL(%s) = %q, want %q", st, got, want)
		}
	}
	if got := settings.Fallback("g1"); got != "/g1/confirmation" {
		t.Errorf("Fallback() = %q, want /g1/confirmation", got)
	}
}

func TestLoadGrantsConfigFromPath_Overrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grants.yaml")
	yaml := `
grants:
  farming-payments:
    statusUrls:
      CLEARED: /farming-payments/start
    fallbackPath: /farming-payments/status
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := LoadGrantsConfigFromPath(path)
	require.NoError(t, err)

	s := cfg.For("farming-payments")
	assert.Equal(t, "/farming-payments/start", s.StatusURL(status.Cleared, "farming-payments"))
	assert.Equal(t, "/farming-payments/confirmation", s.StatusURL(status.Submitted, "farming-payments"))
	assert.Equal(t, "/farming-payments/status", s.Fallback("farming-payments"))

	other := cfg.For("other")
	assert.Equal(t, "/startpage", other.StatusURL(status.Cleared, "other"))
}

func TestLoadGrantsConfigFromPath_Invalid(t *testing.T) {
	tests := map[string]string{
		"unknown status": "grants:\n  g1:\n    statusUrls:\n      DRAFT: /g1/draft\n",
		"relative path":  "grants:\n  g1:\n    statusUrls:\n      CLEARED: start\n",
		"bad yaml":       "grants: [",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "grants.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
			_, err := LoadGrantsConfigFromPath(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadGrantsConfigOrDefault(t *testing.T) {
	cfg, err := LoadGrantsConfigOrDefault("")
	require.NoError(t, err)
	assert.Equal(t, "/{slug}/confirmation", cfg.Defaults.FallbackPath)

	cfg, err = LoadGrantsConfigOrDefault(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "/{slug}/confirmation", cfg.Defaults.FallbackPath)
}

func TestLoadGrantsConfigOrDefault_ReportsParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grants.yaml")
	require.NoError(t, os.WriteFile(path, []byte("grants:\n  g1:\n    statusUrls:\n      CLEARED: start\n"), 0o600))

	cfg, err := LoadGrantsConfigOrDefault(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be an absolute path")
	assert.Equal(t, "/startpage", cfg.For("g1").StatusURL(status.Cleared, "g1"))
}
