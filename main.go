// Package main runs the in-memory dev chat server.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/Bamboo-rat/adminchat/internal/config"
	"github.com/Bamboo-rat/adminchat/internal/devserver"
	"github.com/Bamboo-rat/adminchat/internal/logger"
	"github.com/Bamboo-rat/adminchat/internal/model"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("failed to load .env file: %+v", err)
	}

	cfg := config.Load()

	zl := logger.New(cfg.LogLevel, cfg.LogFormat)
	defer zl.Sync() //nolint:errcheck

	if cfg.JWTSecret == "" {
		zl.Fatal("JWT_SECRET environment variable is not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := devserver.NewStore()

	// Demo identities so a freshly started server is usable right away.
	store.UpsertUser(model.UserSnapshot{ID: "admin", Name: "Console Admin", Role: "ADMIN", Contact: "admin@example.com"})
	store.UpsertUser(model.UserSnapshot{ID: "support", Name: "Support Desk", Role: "STAFF", Contact: "support@example.com"})

	hub := devserver.NewHub(store, zl)
	go hub.Run(ctx)

	srv := devserver.NewServer(store, hub, cfg.JWTSecret, zl)

	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	go func() {
		zl.Info("dev chat server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zl.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zl.Info("shutdown signal received; shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zl.Warn("shutdown", zap.Error(err))
	}

	zl.Info("server stopped")
}
