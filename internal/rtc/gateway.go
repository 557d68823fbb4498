package rtc

import (
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/carelink/telecare-coordinator/internal/auth"
	"github.com/carelink/telecare-coordinator/internal/metrics"
)

// Gateway upgrades HTTP requests to authenticated WebSocket connections.
// Verification failure refuses the connection before any room operation is
// possible; a successful upgrade binds the identity for the connection's
// lifetime.
type Gateway struct {
	hub      *Hub
	verifier *auth.Verifier
	metrics  *metrics.Collector
	upgrader websocket.Upgrader
}

func NewGateway(hub *Hub, verifier *auth.Verifier, collector *metrics.Collector) *Gateway {
	return &Gateway{
		hub:      hub,
		verifier: verifier,
		metrics:  collector,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // origin policy is enforced by the fronting proxy
			},
		},
	}
}

func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	identity, err := g.verifier.Verify(bearerToken(r))
	if err != nil {
		http.Error(w, "authentication failed", http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		log.Printf("websocket upgrade failed for identity=%s: %v", identity.ID, err)
		return
	}

	client := newClient(g.hub, conn, identity)

	g.metrics.ConnectionOpened()
	log.Printf("connection opened identity=%s role=%s", identity.ID, identity.Role)

	go client.writePump()
	go func() {
		client.readPump()
		g.metrics.ConnectionClosed()
		log.Printf("connection closed identity=%s", identity.ID)
	}()
}

// bearerToken pulls the credential from the Authorization header, falling
// back to a token query parameter for browser WebSocket clients that cannot
// set headers.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if strings.HasPrefix(h, "Bearer ") {
			return strings.TrimPrefix(h, "Bearer ")
		}
		return h
	}
	return r.URL.Query().Get("token")
}
