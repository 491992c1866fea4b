package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"garmentledger/backend/internal/config"
	"garmentledger/backend/internal/httpapi"
	"garmentledger/backend/internal/idempotency"
	"garmentledger/backend/internal/logger"
	"garmentledger/backend/internal/service"
	"garmentledger/backend/internal/store"
	"garmentledger/backend/internal/store/memory"
	pgstore "garmentledger/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: cfg.LogOutput})
	defer func() { _ = log.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatal("invalid security configuration", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		if cfg.AutoMigrate {
			if err := pgstore.MigrateUp(cfg.DatabaseURL, log.Named("migrate")); err != nil {
				log.Fatal("apply migrations", zap.Error(err))
			}
		}
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded(log)
		log.Info("repository: in-memory")
	}

	guard := idempotency.Guard(idempotency.NewLocalGuard())
	if cfg.RedisAddr != "" {
		redisGuard := idempotency.NewRedisGuard(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.IdempotencyLockTTL)
		if err := redisGuard.Ping(ctx); err != nil {
			log.Warn("redis unavailable, using in-process idempotency guard", zap.Error(err))
			_ = redisGuard.Close()
		} else {
			guard = redisGuard
			closers = append(closers, redisGuard.Close)
			log.Info("idempotency guard: redis")
		}
	} else {
		log.Info("idempotency guard: in-process")
	}

	svc := service.New(repo, log, service.Options{
		WholesaleReceiverID: cfg.WholesaleReceiverID,
		CostAverageWindow:   cfg.CostAverageWindow,
		Guard:               guard,
	})

	if cfg.BootstrapOwnerUsername != "" {
		if _, err := svc.EnsureOwner(ctx, cfg.BootstrapOwnerUsername, cfg.BootstrapOwnerPassword); err != nil {
			log.Fatal("bootstrap owner", zap.Error(err))
		}
	}

	proxies, err := httpapi.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatal("invalid TRUSTED_PROXIES", zap.Error(err))
	}

	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, svc)
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin:  cfg.AllowedOrigin,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		TrustedProxies: proxies,
		Logger:         log,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("ledger backend listening", zap.String("addr", cfg.Address()), zap.String("env", cfg.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Error("close error", zap.Error(err))
		}
	}

	log.Info("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.Production() && cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required in production; the in-memory store seeds dev credentials")
	}
	if cfg.Production() && cfg.AllowedOrigin == "*" {
		return fmt.Errorf("ALLOWED_ORIGIN must name an origin in production")
	}
	if cfg.BootstrapOwnerUsername != "" {
		if err := validatePasswordStrength(cfg.BootstrapOwnerUsername, cfg.BootstrapOwnerPassword); err != nil {
			return fmt.Errorf("BOOTSTRAP_OWNER_PASSWORD is too weak: %w", err)
		}
	}
	return nil
}

// validatePasswordStrength rejects short passwords, ones repeating a single
// character or running in sequence, common picks, and ones containing the
// username.
func validatePasswordStrength(username, password string) error {
	if len(password) < 10 {
		return fmt.Errorf("at least 10 characters required")
	}
	known := map[string]bool{
		"password123": true, "password1234": true, "1234567890": true, "qwertyuiop": true,
		"letmein123": true, "changeme123": true, "administrator": true, "0987654321": true,
	}
	if known[strings.ToLower(password)] {
		return fmt.Errorf("common password not allowed")
	}
	if strings.Contains(strings.ToLower(password), strings.ToLower(strings.TrimSpace(username))) {
		return fmt.Errorf("password must not contain the username")
	}

	allSame := true
	for i := 1; i < len(password); i++ {
		if password[i] != password[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("single repeated character not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(password); i++ {
		diff := int(password[i]) - int(password[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential password not allowed")
	}

	return nil
}
