package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"identity_bridge/internal/config"
	"identity_bridge/internal/http/router"
	idpclient "identity_bridge/internal/idp/client"
	membershipclient "identity_bridge/internal/membership/client"
	"identity_bridge/internal/membership/token"
	"identity_bridge/internal/reconcile"
	"identity_bridge/platform/logger"
	"identity_bridge/platform/validator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tokens := token.NewProvider(cfg.MembershipAdminUUID, cfg.MembershipAPISecret, cfg.ServiceTokenTTL)

	membershipAPI := membershipclient.New(cfg.MembershipAPIURL, tokens, membershipclient.Options{
		Timeout:        cfg.HTTPClientTimeout,
		RetryAttempts:  cfg.RetryAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
	}, log.WithComponent("membership"))

	directory := idpclient.New(idpclient.Config{
		TenantID:           cfg.IDPTenantID,
		ClientID:           cfg.IDPClientID,
		ClientSecret:       cfg.IDPClientSecret,
		TenantDomain:       cfg.IDPTenantDomain,
		ExtensionsClientID: cfg.IDPExtensionsClientID,
		GraphURL:           cfg.IDPGraphURL,
		LoginURL:           cfg.IDPLoginURL,
		Timeout:            cfg.HTTPClientTimeout,
	}, log.WithComponent("directory"))

	// Shared validator instance for dependency injection
	val := validator.New()

	reconcileModule := reconcile.NewModule(membershipAPI, membershipAPI, directory, val, log)

	engine := router.New(cfg, reconcileModule, log)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: engine,
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("stopped")
	case err := <-srvErr:
		if err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}
