// Package server - ws.go pushes stats snapshots over a WebSocket.
//
// GET /ws/stats upgrades the connection and sends a StatsResponse as JSON
// every few seconds until the client disconnects. The HTML dashboard works
// without it (meta refresh); richer frontends subscribe here instead of
// polling.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"

	"github.com/helmdesk/costguard/internal/config"
)

func (s *Server) handleStatsFeed(w http.ResponseWriter, r *http.Request) {
	if !isLoopback(r.RemoteAddr) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("server: websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()
	ticker := time.NewTicker(config.DefaultStatsPushInterval)
	defer ticker.Stop()

	for {
		data, err := json.Marshal(s.statsResponse())
		if err != nil {
			return
		}
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
