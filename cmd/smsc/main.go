package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/thrillee/aegisbox-smsc/internal/adminapi"
	"github.com/thrillee/aegisbox-smsc/internal/auth"
	"github.com/thrillee/aegisbox-smsc/internal/config"
	"github.com/thrillee/aegisbox-smsc/internal/gateway"
	"github.com/thrillee/aegisbox-smsc/internal/logging"
	"github.com/thrillee/aegisbox-smsc/internal/session"
	"github.com/thrillee/aegisbox-smsc/internal/smppserver"
)

func main() {
	// --- Context and Basic Setup ---
	appCtx, rootCancel := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer rootCancel()

	// --- Configuration ---
	cfg, err := config.Load()
	if err != nil {
		// Use standard log before slog is configured
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// --- Setup Logging ---
	logLevel := slog.LevelInfo
	if err := logLevel.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		log.Printf("unknown LOG_LEVEL %q, using info", cfg.LogLevel)
		logLevel = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel <= slog.LevelDebug,
	}
	var baseHandler slog.Handler = slog.NewJSONHandler(os.Stdout, opts)
	if strings.EqualFold(cfg.LogFormat, "text") {
		baseHandler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(logging.NewContextHandler(baseHandler)))
	slog.Info("Logging initialized", "level", logLevel.String())

	// --- Credentials ---
	healthChecks := map[string]adminapi.HealthCheck{}
	var store auth.CredentialStore = auth.StaticCredentials(cfg.Auth.Credentials)
	if cfg.Auth.DatabaseURL != "" {
		slog.Info("Connecting to database...")
		dbpool, err := pgxpool.New(appCtx, cfg.Auth.DatabaseURL)
		if err != nil {
			slog.Error("Unable to connect to database", slog.Any("error", err))
			os.Exit(1)
		}
		defer dbpool.Close()
		if err := dbpool.Ping(appCtx); err != nil {
			slog.Error("Failed to ping database", slog.Any("error", err))
			os.Exit(1)
		}
		slog.Info("Database connection pool established")
		store = auth.NewPGCredentialStore(dbpool)
		healthChecks["database"] = dbpool.Ping
	} else {
		slog.Info("Using static SMPP credentials", slog.Int("count", len(cfg.Auth.Credentials)))
	}

	// --- Downstream Sender ---
	var sender gateway.Sender = gateway.NewLogSender()
	var breakerState func() string
	if cfg.Gateway.URL != "" {
		breaker := gateway.NewCircuitBreaker(gateway.CircuitBreakerConfig{
			FailureThreshold: cfg.Gateway.BreakerThreshold,
			SuccessThreshold: 1,
			Timeout:          cfg.Gateway.BreakerTimeout,
			Name:             "gateway",
		})
		sender = gateway.NewBreakerSender(gateway.NewHTTPSender(gateway.HTTPConfig{
			URL:     cfg.Gateway.URL,
			APIKey:  cfg.Gateway.APIKey,
			Timeout: cfg.Gateway.Timeout,
		}), breaker)
		breakerState = func() string { return breaker.State().String() }
		slog.Info("Forwarding messages to HTTP gateway", slog.String("url", cfg.Gateway.URL))
	} else {
		slog.Warn("GATEWAY_URL not set, messages will only be logged")
	}

	// --- SMPP Server ---
	serverOpts := smppserver.Options{
		Server:        cfg.ServerConfig,
		TLS:           cfg.TLSConfig,
		Reassembly:    cfg.Reassembly,
		Authenticator: auth.NewBcryptAuthenticator(store),
		Sender:        sender,
	}
	if cfg.TLSConfig.Enabled() {
		serverOpts.Certificates = session.FileCertificateProvider{
			CertFile: cfg.TLSConfig.CertFile,
			KeyFile:  cfg.TLSConfig.KeyFile,
			CAFile:   cfg.TLSConfig.ClientCAFile,
		}
	}
	smppServer, err := smppserver.New(serverOpts)
	if err != nil {
		slog.Error("Failed to create SMPP server", slog.Any("error", err))
		os.Exit(1)
	}

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		if err := smppServer.ListenAndServe(appCtx); err != nil {
			slog.Error("SMPP Server failed", slog.Any("error", err))
			rootCancel()
		}
		slog.Info("SMPP Server stopped.")
	}()

	// --- Admin API ---
	var adminServer *adminapi.Server
	if cfg.Admin.Addr != "" {
		if logLevel > slog.LevelDebug {
			gin.SetMode(gin.ReleaseMode)
		}
		adminServer = adminapi.NewServer(cfg.Admin, adminapi.NewHandler(smppServer, healthChecks, breakerState))
		go func() {
			if err := adminServer.ListenAndServe(); err != nil {
				rootCancel()
			}
		}()
	}

	// --- Wait for Shutdown Signal ---
	<-appCtx.Done()
	slog.Info("Shutdown signal received, initiating graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer shutdownCancel()

	if adminServer != nil {
		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Error during Admin API shutdown", slog.Any("error", err))
		}
	}
	if err := smppServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Error during SMPP Server shutdown", slog.Any("error", err))
	}
	select {
	case <-serverDone:
	case <-shutdownCtx.Done():
		slog.Warn("Timed out waiting for SMPP Server to stop")
	}
	slog.Info("Application gracefully stopped.")
}
