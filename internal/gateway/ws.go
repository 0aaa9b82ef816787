// ABOUTME: WebSocket upgrade path feeding the broadcast hub
// ABOUTME: Server-to-client only; inbound frames are drained and discarded

package gateway

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/2389/zap-gateway/internal/ipfilter"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleWS handles GET /ws. The allowlist middleware already vetted the
// request; the explicit check here keeps the upgrade path gated even if the
// handler is ever mounted without the middleware.
func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	ip := ipfilter.ClientIP(r)
	if !g.gate.Allowed(ip) {
		g.logger.Warn("websocket connection denied", "remote", ip)
		http.Error(w, "Acesso negado.", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "remote", ip, "error", err)
		return
	}

	id := g.hub.Subscribe(conn, ip)

	// No client-to-server message schema exists: read until the peer goes
	// away, then drop the subscription.
	go func() {
		defer g.hub.Unsubscribe(id)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
