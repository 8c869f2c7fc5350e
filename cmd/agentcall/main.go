package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xpanvictor/agentcall/internal/app"
	"github.com/xpanvictor/agentcall/internal/config"
	"github.com/xpanvictor/agentcall/pkg/Logger"
)

// Entry point for the agent call client.
// Loads config, wires the session and exposes the control API
func main() {
	// fetch cfg
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	// load global logger
	logger := Logger.New(cfg.Debug)
	defer logger.Sync()
	logger.Info("Logger initialized")

	application, err := app.NewApp(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to set up application: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loopDone := make(chan error, 1)
	go func() { loopDone <- application.Run(ctx) }()

	// listen with graceful exit
	srv := &http.Server{
		Addr:              cfg.Control.Addr,
		Handler:           application.Router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Infof("control API listening on %s", cfg.Control.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Server exiting: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	// 5 secs then cancel
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Shutdown err %v", err)
	}
	select {
	case <-loopDone:
	case <-shutdownCtx.Done():
		logger.Warn("session teardown timed out")
	}
	if err := application.Close(); err != nil {
		logger.Warnf("release resources: %v", err)
	}
	logger.Info("Shutdown system")
}
