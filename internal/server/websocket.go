package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/23skdu/longbow-lens/internal/logger"
	"github.com/23skdu/longbow-lens/internal/session"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsReadLimit  = 64 * 1024
)

// WSMessage is the envelope for every websocket frame.
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type wsConn struct {
	conn *websocket.Conn
	sess *session.Session
	send chan []byte
	done chan struct{}
	log  *logger.Logger
}

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.cors.OriginAllowed(origin)
		},
	}
}

// websocketHandler streams session events. Clients may send {"type":"status"}
// to get the current session state.
func (s *Server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade failed", "session", sess.ID, "error", err)
		return
	}

	events, unsubscribe := sess.Subscribe()
	c := &wsConn{
		conn: conn,
		sess: sess,
		send: make(chan []byte, 16),
		done: make(chan struct{}),
		log:  s.log,
	}
	c.queue(WSMessage{Type: "status", Payload: sessionInfo(sess)})

	go c.writePump(events, unsubscribe)
	go c.readPump()
}

// queue drops the message when the client is not keeping up.
func (c *wsConn) queue(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("Failed to encode websocket message", "type", msg.Type, "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		c.log.Debug("Dropped websocket message", "session", c.sess.ID, "type", msg.Type)
	}
}

func (c *wsConn) readPump() {
	defer close(c.done)

	c.conn.SetReadLimit(wsReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("WebSocket error", "session", c.sess.ID, "error", err)
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.queue(WSMessage{Type: "error", Payload: APIError{Code: "INVALID_REQUEST", Message: "invalid JSON"}})
			continue
		}
		switch msg.Type {
		case "status":
			c.queue(WSMessage{Type: "status", Payload: sessionInfo(c.sess)})
		default:
			c.queue(WSMessage{Type: "error", Payload: APIError{Code: "UNKNOWN_TYPE", Message: "unknown message type: " + msg.Type}})
		}
	}
}

func (c *wsConn) writePump(events <-chan session.Event, unsubscribe func()) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		unsubscribe()
		c.conn.Close()
	}()

	write := func(data []byte) bool {
		c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return c.conn.WriteMessage(websocket.TextMessage, data) == nil
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"))
				return
			}
			data, err := json.Marshal(WSMessage{Type: "event", Payload: ev})
			if err != nil || !write(data) {
				return
			}

		case data := <-c.send:
			if !write(data) {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}
