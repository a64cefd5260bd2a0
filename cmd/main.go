/*
Package main is the entry point for the worldsync presence server.

It loads configuration, initializes the global logging system, constructs the
presence Hub, sets up the HTTP server, and handles operating system interrupt
signals (SIGINT, SIGTERM) so shutdown deterministically clears all live state
before the process exits.
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"worldsync/internal/app/presence"
	"worldsync/internal/configs"
	"worldsync/internal/handler"
	"worldsync/internal/pkg/logx"
)

func main() {
	// Load configuration from environment variables
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize global logger
	logx.InitGlobalLogger(cfg.IsDevelopment())
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Int("max_conns_per_origin", cfg.MaxConnsPerOrigin).
		Dur("move_cooldown", cfg.MoveCooldown).
		Dur("inactivity_timeout", cfg.InactivityTimeout).
		Msg("Configuration loaded successfully")

	// Create a context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize the presence Hub (starts the inactivity sweep loop)
	hub := presence.NewHub(presence.Options{
		MoveCooldown:      cfg.MoveCooldown,
		InactivityTimeout: cfg.InactivityTimeout,
		SweepInterval:     cfg.SweepInterval,
		MaxConnsPerOrigin: cfg.MaxConnsPerOrigin,
	})

	// Setup HTTP server and routes
	router := handler.Router(&handler.AppDeps{Hub: hub, Config: cfg})

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logx.Info(fmt.Sprintf("Worldsync server starting on http://localhost%s", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logx.Fatal(err, "Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server with a timeout of 5 seconds.
	<-ctx.Done()
	logx.Info("Received shutdown signal. Starting graceful shutdown...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Fatal(err, "Server forced to shutdown")
	}

	hub.Shutdown()

	logx.Info("Server gracefully stopped.")
}
