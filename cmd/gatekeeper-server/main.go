package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/mikepea/gatekeeper/pkg/gatekeeper/config"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/database"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/logging"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/metrics"
	"github.com/mikepea/gatekeeper/pkg/gatekeeper/server"
	"go.uber.org/zap"
)

// @title Gatekeeper API
// @version 1.0
// @description Organization roles, groups and memberships with a single permission model.

// @contact.name Gatekeeper Support
// @contact.url https://github.com/mikepea/gatekeeper

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /api

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description JWT token or API key. Format: "Bearer {token}"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Connect to database and run migrations
	if err := database.Connect(cfg.Database.Path); err != nil {
		logger.Fatal("connect to database", zap.String("path", cfg.Database.Path), zap.Error(err))
	}
	logger.Info("database migrations completed", zap.String("path", cfg.Database.Path))

	// Bootstrap the root owner on first start
	owner, err := database.EnsureRootOwner(database.GetDB(), database.RootOwner{
		Email:    cfg.Owner.Email,
		Name:     cfg.Owner.Name,
		Password: cfg.Owner.Password,
	}, logger)
	if err != nil {
		logger.Fatal("ensure root owner", zap.Error(err))
	}
	logger.Info("root owner ready", zap.Uint("user_id", owner.ID), zap.String("email", owner.Email))

	deps := server.Deps{DB: database.GetDB(), Log: logger}
	if cfg.Metrics.Enabled {
		deps.Metrics = metrics.New()
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: server.New(deps),
	}

	go func() {
		logger.Info("starting server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutting down", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
