/*
Package handler provides the HTTP handlers and routing setup for the presence server.

This file defines the main Router, applying middleware like logging, CORS and
IP-based rate limiting before delegating to the WebSocket and operational
endpoints.
*/
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"worldsync/internal/pkg/limiter"
	"worldsync/internal/pkg/logx"
	"worldsync/internal/pkg/resp"
)

// Router sets up the main HTTP routing table (chi.Router) for the application.
// It initializes the handshake rate limiter, configures CORS, and applies
// global middleware.
func Router(deps *AppDeps) http.Handler {
	handshakeLimiter := limiter.NewIPRateLimiter(rate.Limit(deps.Config.HandshakeRate), deps.Config.HandshakeBurst)

	r := chi.NewRouter()

	allowedOrigins := make(map[string]struct{})
	for _, origin := range deps.Config.AllowedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	var wsUpgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if deps.Config.IsDevelopment() {
				return true
			}

			origin := r.Header.Get("Origin")
			if _, ok := allowedOrigins[origin]; ok {
				return true
			}

			logx.Warn("WebSocket connection rejected: Origin not allowed.", "origin", origin)
			return false
		},
	}

	corsAllowedOrigins := []string{}
	if deps.Config.IsDevelopment() {
		corsAllowedOrigins = []string{"*"}
	} else if len(deps.Config.AllowedOrigins) > 0 {
		corsAllowedOrigins = deps.Config.AllowedOrigins
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   corsAllowedOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})
	r.Use(c.Handler)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logx.RequestLogger())
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		data := map[string]string{
			"status":  "ok",
			"service": "worldsync",
		}
		resp.RespondSuccess(w, r, data)
	})

	r.Get("/stats", HandleStats(deps))

	r.Get("/ws", HandleWebSocket(wsUpgrader, handshakeLimiter, deps))

	return r
}

// HandleStats serves the liveness counters: connected users, active rooms,
// and aggregate connection count.
func HandleStats(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp.RespondSuccess(w, r, deps.Hub.Stats())
	}
}
