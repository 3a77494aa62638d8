// internal/server/handlers/websocket.go

package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"pulsemap/internal/domain/cluster"
	"pulsemap/internal/service/stream"
)

// WebSocketConfig contains configuration for WebSocket connections
type WebSocketConfig struct {
	// Time allowed to write a message to the peer
	WriteWait time.Duration

	// Time allowed to read the next pong message from the peer
	PongWait time.Duration

	// Send pings to peer with this period
	PingPeriod time.Duration

	// Maximum message size allowed from peer
	MaxMessageSize int64
}

// DefaultWebSocketConfig returns the default WebSocket configuration
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     (60 * time.Second * 9) / 10,
		MaxMessageSize: 4096,
	}
}

// WebSocketUpgrader is used to upgrade HTTP connections to WebSocket
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// In production, this should be more restrictive
		return true
	},
}

// webSocketClient relays the cluster feed of one stream to one peer.
// Clients never send application messages, the read pump only services
// control frames.
type webSocketClient struct {
	conn   *websocket.Conn
	sub    *stream.Subscriber
	config WebSocketConfig
	log    *slog.Logger
}

// StreamWebSocketHandler handles WebSocket connections for real-time cluster updates
func StreamWebSocketHandler(registry *stream.Registry, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		st, ok := registry.Get(id)
		if !ok {
			http.Error(w, "Stream not found", http.StatusNotFound)
			return
		}

		sub, err := st.Subscribe()
		if err != nil {
			if errors.Is(err, stream.ErrStopped) {
				http.Error(w, "Stream already stopped", http.StatusGone)
				return
			}
			http.Error(w, "Failed to subscribe", http.StatusInternalServerError)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			sub.Close()
			log.Warn("websocket upgrade failed", "stream_id", id, "error", err)
			return
		}

		client := &webSocketClient{
			conn:   conn,
			sub:    sub,
			config: DefaultWebSocketConfig(),
			log:    log.With("stream_id", id),
		}

		// Catch the peer up with the clusters that already exist.
		backlog := st.Snapshots()

		go client.readPump()
		go client.writePump(backlog)

		client.log.Info("websocket client connected", "remote", r.RemoteAddr)
	}
}

// readPump services control frames and detects peer disconnects
func (c *webSocketClient) readPump() {
	defer func() {
		c.sub.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("websocket read error", "error", err)
			}
			return
		}
	}
}

// writePump relays cluster events to the WebSocket connection
func (c *webSocketClient) writePump(backlog []cluster.Snapshot) {
	ticker := time.NewTicker(c.config.PingPeriod)
	defer func() {
		ticker.Stop()
		c.sub.Close()
		c.conn.Close()
	}()

	for i := range backlog {
		if err := c.writeEvent(cluster.Event{Type: cluster.EventUpdate, Cluster: &backlog[i]}); err != nil {
			return
		}
	}

	for {
		select {
		case ev, ok := <-c.sub.Events():
			if !ok {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if ev.Type == cluster.EventHeartbeat {
				// Liveness is covered by the ping ticker.
				continue
			}
			if err := c.writeEvent(ev); err != nil {
				return
			}
			if ev.Type == cluster.EventClosed {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *webSocketClient) writeEvent(ev cluster.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}
