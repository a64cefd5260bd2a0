/*
Package handler provides the HTTP handlers and routing setup for the presence server.

This file contains the HandleWebSocket function, which performs handshake rate
limiting and per-origin admission control, upgrades the HTTP connection, and
starts the client's read/write pumps.
*/
package handler

import (
	"net/http"

	"github.com/gorilla/websocket"

	"worldsync/internal/app/presence"
	"worldsync/internal/pkg/errs"
	"worldsync/internal/pkg/limiter"
	"worldsync/internal/pkg/logx"
	"worldsync/internal/pkg/resp"
)

// HandleWebSocket creates an HTTP HandlerFunc to process WebSocket connection
// requests. Admission control runs before the upgrade, so a connection over
// the per-origin ceiling never creates any presence state.
func HandleWebSocket(upgrader websocket.Upgrader, rateLimiter *limiter.IPRateLimiter, deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := limiter.ClientIP(r)

		if !rateLimiter.GetLimiter(ip).Allow() {
			logx.Warn("WebSocket connection rejected: Rate limit exceeded.", "ip", ip)
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		if capErr := deps.Hub.AcquireOrigin(ip); capErr != nil {
			resp.RespondError(w, r, capErr)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			deps.Hub.ReleaseOrigin(ip)
			return
		}

		client := presence.NewClient(deps.Hub, conn, ip)

		go client.WritePump()

		logx.Info("WebSocket connection established", "client_id", client.ID(), "ip", ip)

		client.ReadPump()
	}
}
