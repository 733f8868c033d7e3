// Package hub fans relay output out to websocket watchers of a thread.
package hub

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Connection represents a single watcher connection.
type Connection struct {
	ID       string
	ThreadID string
	Conn     *websocket.Conn
	Send     chan []byte
	mu       sync.Mutex
}

// Hub manages watcher connections grouped by thread id.
type Hub struct {
	// Connections indexed by connection ID
	connections map[string]*Connection

	// threads maps thread_id to set of connection IDs
	threads map[string]map[string]bool

	register   chan *Connection
	unregister chan *Connection
	broadcast  chan *ThreadMessage
	// done is closed when Run returns.
	done chan struct{}

	log logrus.FieldLogger
	mu  sync.RWMutex
}

// ThreadMessage is one frame to deliver to a thread's watchers.
type ThreadMessage struct {
	ThreadID string
	Data     []byte
}

// NewHub creates a new Hub.
func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		threads:     make(map[string]map[string]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		broadcast:   make(chan *ThreadMessage, 256),
		done:        make(chan struct{}),
		log:         log,
	}
}

// Run processes registrations and broadcasts until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn.ID] = conn
			if h.threads[conn.ThreadID] == nil {
				h.threads[conn.ThreadID] = make(map[string]bool)
			}
			h.threads[conn.ThreadID][conn.ID] = true
			h.mu.Unlock()
			h.log.WithFields(logrus.Fields{"conn_id": conn.ID, "thread_id": conn.ThreadID}).Debug("watcher registered")

		case conn := <-h.unregister:
			h.remove(conn)

		case msg := <-h.broadcast:
			h.mu.RLock()
			var slow []*Connection
			for connID := range h.threads[msg.ThreadID] {
				conn, ok := h.connections[connID]
				if !ok {
					continue
				}
				select {
				case conn.Send <- msg.Data:
				default:
					slow = append(slow, conn)
				}
			}
			h.mu.RUnlock()
			for _, conn := range slow {
				h.log.WithField("conn_id", conn.ID).Warn("watcher buffer full, closing")
				h.remove(conn)
			}
		}
	}
}

func (h *Hub) remove(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.connections[conn.ID]; !ok {
		return
	}
	delete(h.connections, conn.ID)
	if ids := h.threads[conn.ThreadID]; ids != nil {
		delete(ids, conn.ID)
		if len(ids) == 0 {
			delete(h.threads, conn.ThreadID)
		}
	}
	close(conn.Send)
	h.log.WithField("conn_id", conn.ID).Debug("watcher unregistered")
}

// NewConnection creates a connection watching threadID. It is not
// registered until Register is called.
func (h *Hub) NewConnection(ws *websocket.Conn, threadID string) *Connection {
	return &Connection{
		ID:       uuid.New().String(),
		ThreadID: threadID,
		Conn:     ws,
		Send:     make(chan []byte, 256),
	}
}

// Register registers a connection with the hub. Calls after Run has
// returned are ignored.
func (h *Hub) Register(conn *Connection) {
	select {
	case h.register <- conn:
	case <-h.done:
	}
}

// Unregister unregisters a connection from the hub.
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// Publish queues data for every watcher of threadID.
func (h *Hub) Publish(threadID string, data []byte) {
	select {
	case h.broadcast <- &ThreadMessage{ThreadID: threadID, Data: data}:
	case <-h.done:
	}
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Watching reports whether threadID has any watchers.
func (h *Hub) Watching(threadID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.threads[threadID]) > 0
}

// WriteMessage writes a message to the connection with proper locking.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// SetWriteDeadline sets the write deadline for the connection.
func (c *Connection) SetWriteDeadline(t time.Time) error {
	return c.Conn.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline for the connection.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.Conn.SetReadDeadline(t)
}

// Close closes the connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}
