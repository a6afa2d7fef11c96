package websocket

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mtr002/docjobs/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// Client is one websocket connection. It only listens; anything it sends is
// discarded.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Handler upgrades dashboard connections onto hub. Browser requests carry an
// Origin header and must pass originAllowed; a nil originAllowed rejects
// them all. Requests without an Origin are not from a browser and pass.
func Handler(hub *Hub, originAllowed func(*http.Request) bool) http.HandlerFunc {
	upgrader := &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if r.Header.Get("Origin") == "" {
				return true
			}
			return originAllowed != nil && originAllowed(r)
		},
	}
	return func(w http.ResponseWriter, r *http.Request) {
		serveClient(hub, upgrader, w, r)
	}
}

func serveClient(hub *Hub, upgrader *websocket.Upgrader, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Logger.Warn().Err(err).Str("origin", r.Header.Get("Origin")).Msg("WebSocket upgrade error")
		return
	}

	client := &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, 256),
	}

	if !client.hub.join(client) {
		_ = conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

// ReadPump drains the connection so control frames are processed, and
// unregisters the client once the peer goes away.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.leave(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Logger.Debug().Err(err).Msg("WebSocket closed unexpectedly")
			}
			return
		}
	}
}

// WritePump sends queued messages and pings until send is closed.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
