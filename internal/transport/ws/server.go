// Package ws serves the websocket endpoint used to watch a thread's relay.
package ws

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/aerokeylabs/t4chat/internal/hub"
)

// Config holds websocket connection settings.
type Config struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
}

// DefaultConfig returns the default websocket settings.
func DefaultConfig() Config {
	return Config{
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 4096,
	}
}

// Server handles websocket connections.
type Server struct {
	cfg      Config
	hub      *hub.Hub
	upgrader websocket.Upgrader
	log      logrus.FieldLogger
}

// NewServer creates a new websocket server.
func NewServer(cfg Config, h *hub.Hub, log logrus.FieldLogger) *Server {
	return &Server{
		cfg: cfg,
		hub: h,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleWebSocket upgrades GET /ws?threadId=... and streams every wire line
// relayed into that thread until the client disconnects.
func (s *Server) HandleWebSocket(c echo.Context) error {
	threadID := strings.TrimSpace(c.QueryParam("threadId"))
	if threadID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "threadId is required"})
	}

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.WithError(err).Warn("failed to upgrade websocket")
		return err
	}

	conn := s.hub.NewConnection(ws, threadID)
	s.hub.Register(conn)
	ws.SetReadLimit(s.cfg.MaxMessageSize)

	go s.writePump(conn)
	go s.readPump(conn)

	return nil
}

// readPump discards client frames and detects disconnects.
func (s *Server) readPump(conn *hub.Connection) {
	defer func() {
		s.hub.Unregister(conn)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		if _, _, err := conn.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.WithError(err).Warn("websocket error")
			}
			return
		}
	}
}

// writePump writes hub frames and pings to the connection.
func (s *Server) writePump(conn *hub.Connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				// Hub closed the channel
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.log.WithError(err).Warn("failed to write message")
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
