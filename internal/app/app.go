// Package app boots the server: config, storage backend selection, HTTP
// engine, and graceful shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/parleychat/parley/internal/auth"
	"github.com/parleychat/parley/internal/config"
	"github.com/parleychat/parley/internal/email"
	"github.com/parleychat/parley/internal/http/api"
	"github.com/parleychat/parley/internal/llm"
	"github.com/parleychat/parley/internal/ratelimit"
	"github.com/parleychat/parley/internal/storage"
	log "github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

// RunServer selects the storage backend, wires the HTTP surface, and serves
// until ctx is cancelled.
func RunServer(ctx context.Context, cfg config.Config) error {
	if cfg.Auth.SessionSecret == "" {
		return fmt.Errorf("app: session secret is required (set %s or auth.session-secret)", config.EnvSessionSecret)
	}

	store, errOpen := storage.Open(ctx, cfg)
	if errOpen != nil {
		return fmt.Errorf("app: open storage: %w", errOpen)
	}
	defer func() {
		closeCtx, cancelClose := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelClose()
		if errClose := store.Close(closeCtx); errClose != nil {
			log.WithError(errClose).Error("storage close error")
		}
	}()

	tokens := auth.NewTokenManager(cfg.Auth.SessionSecret, cfg.Auth.SessionExpiry)
	middleware := auth.NewMiddleware(store, tokens)

	limiter := ratelimit.NewManager(ratelimit.Settings{
		Limit:         cfg.RateLimit,
		RedisEnabled:  cfg.Redis.Addr != "",
		RedisAddr:     cfg.Redis.Addr,
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
		RedisPrefix:   cfg.Redis.Prefix,
	}, nil, nil)

	engine := api.NewEngine(api.Deps{
		Store:               store,
		Middleware:          middleware,
		Emailer:             email.NewSender(cfg.Email.SMTPAddr, cfg.Email.From),
		LLM:                 llm.NewClient(cfg.LLM.APIKey, cfg.LLM.BaseURL),
		Limiter:             limiter,
		RequireVerification: cfg.Auth.RequireVerification,
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: engine,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Infof("starting server on %s", addr)
		if errListen := srv.ListenAndServe(); errListen != nil && !errors.Is(errListen, http.ErrServerClosed) {
			serveErr <- errListen
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case errServe := <-serveErr:
		return errServe
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if errShutdown := srv.Shutdown(shutdownCtx); errShutdown != nil {
		return fmt.Errorf("app: server shutdown: %w", errShutdown)
	}
	return <-serveErr
}
