// Package main runs the grants application UI server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/grants_ui/internal/config"
	"github.com/R3E-Network/grants_ui/internal/formstate"
	"github.com/R3E-Network/grants_ui/internal/gas"
	"github.com/R3E-Network/grants_ui/internal/httpapi"
	"github.com/R3E-Network/grants_ui/internal/locktoken"
	"github.com/R3E-Network/grants_ui/internal/logging"
	"github.com/R3E-Network/grants_ui/internal/metrics"
	"github.com/R3E-Network/grants_ui/internal/middleware"
	"github.com/R3E-Network/grants_ui/internal/mockbackend"
	"github.com/R3E-Network/grants_ui/internal/reconcile"
	"github.com/R3E-Network/grants_ui/internal/session"
	"github.com/R3E-Network/grants_ui/internal/sessionkey"
	"github.com/R3E-Network/grants_ui/internal/statesync"
	"github.com/R3E-Network/grants_ui/internal/submission"
)

const (
	serviceName      = "grants-ui"
	housekeepingSpec = "@every 1m"
	limiterIdle      = 10 * time.Minute
	shutdownTimeout  = 15 * time.Second
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(serviceName, cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mockSrv *http.Server
	if cfg.MockBackend {
		mockSrv, err = startMockBackend(cfg, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to start mock backend")
		}
	}

	grants, err := config.LoadGrantsConfigOrDefault(cfg.GrantsConfig)
	if err != nil {
		logger.WithError(err).WithField("path", cfg.GrantsConfig).Warn("Invalid grants config, using default status routing")
	}

	// Session store: Redis when configured, otherwise in-process memory.
	var (
		sessions session.Store
		memStore *session.MemoryStore
		health   func(context.Context) error
	)
	if cfg.UseRedis() {
		rs, rerr := session.NewRedisStore(ctx, session.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.SessionTTL,
		})
		if rerr != nil {
			logger.WithError(rerr).Warn("Redis unavailable, falling back to in-memory sessions")
		} else {
			defer rs.Close()
			sessions = rs
			health = rs.Ping
		}
	}
	if sessions == nil {
		memStore = session.NewMemoryStore(cfg.SessionTTL)
		sessions = memStore
	}

	if !cfg.BackendEnabled() {
		logger.Warn("GRANTS_UI_BACKEND_URL not set; form state will not be persisted")
	}
	issuer := locktoken.NewIssuer(cfg.LockTokenSecret, cfg.LockTokenExpiry)
	if !issuer.Configured() {
		logger.Warn("APPLICATION_LOCK_TOKEN_SECRET not set; writes carry no lock token")
	}

	codec := sessionkey.NewCodec(logger)
	gateway := statesync.New(statesync.Config{
		BaseURL:       cfg.BackendURL,
		AuthToken:     cfg.BackendAuthToken,
		EncryptionKey: cfg.BackendEncryptionKey,
		Timeout:       cfg.BackendTimeout,
		MaxRetries:    cfg.ClientRetries(),
		Issuer:        issuer,
		Logger:        logger,
	})

	gasClient, err := gas.New(gas.Config{
		BaseURL:    cfg.GASURL,
		Token:      cfg.GASToken,
		Timeout:    cfg.BackendTimeout,
		MaxRetries: cfg.ClientRetries(),
		Logger:     logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create GAS client")
	}

	reconciler := reconcile.New(reconcile.Config{
		Codec:    codec,
		States:   gateway,
		GAS:      gasClient,
		Sessions: sessions,
		Grants:   grants,
		Logger:   logger,
	})

	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, logger)

	router := httpapi.NewRouter(httpapi.Config{
		Logger:        logger,
		Forms:         formstate.New(codec, gateway, logger),
		Reconciler:    reconciler,
		Submissions:   submission.NewFlow(codec, gasClient, gateway, reconciler, logger),
		RateLimiter:   limiter,
		AuthSecret:    cfg.ApplicantJWTSecret,
		SecureCookies: cfg.SecureCookies,
		SessionTTL:    cfg.SessionTTL,
		DevTools:      cfg.DevTools,
		Health:        health,
	})

	housekeeping := cron.New()
	if _, err := housekeeping.AddFunc(housekeepingSpec, func() {
		if memStore != nil {
			metrics.RecordSessionSweep(memStore.Sweep())
		}
		if n := limiter.Cleanup(limiterIdle); n > 0 {
			logger.WithField("removed", n).Debug("rate limiter entries pruned")
		}
	}); err != nil {
		logger.WithError(err).Fatal("Failed to schedule housekeeping")
	}
	housekeeping.Start()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.WithField("addr", srv.Addr).Info("grants UI listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("HTTP server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("Shutting down...")
	<-housekeeping.Stop().Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server shutdown error")
	}
	if mockSrv != nil {
		_ = mockSrv.Shutdown(shutdownCtx)
	}

	logger.Info("Server stopped")
}

// startMockBackend serves the in-process state backend and GAS on a loopback
// port and points any unset backend settings at it.
func startMockBackend(cfg *config.Config, logger *logging.Logger) (*http.Server, error) {
	if cfg.BackendAuthToken == "" {
		cfg.BackendAuthToken = "mock-backend-token"
	}
	if cfg.BackendEncryptionKey == "" {
		cfg.BackendEncryptionKey = "mock-backend-encryption-key"
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	mock := mockbackend.New(mockbackend.Config{
		AuthToken:     cfg.BackendAuthToken,
		EncryptionKey: cfg.BackendEncryptionKey,
		LockSecret:    cfg.LockTokenSecret,
		Logger:        logger,
	})
	srv := &http.Server{Handler: mock.Handler(), ReadHeaderTimeout: 5 * time.Second}

	base := "http://" + ln.Addr().String()
	if cfg.BackendURL == "" {
		cfg.BackendURL = base
	}
	if cfg.GASURL == "" {
		cfg.GASURL = base
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("mock backend stopped")
		}
	}()
	logger.WithField("url", base).Warn("MOCK_BACKEND enabled; state and GAS are served in-process")
	return srv, nil
}
