// Package adminws implements the admin event hub: a gorilla/websocket
// broadcast point that pushes relay lifecycle events to connected admin UI
// clients, grounded on the teacher's internal/websocket.Hub register/
// unregister/broadcast channel loop.
package adminws

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Event is one relay lifecycle notification, matching relay.EventSink.
type Event struct {
	ID     string    `json:"id"`
	Kind   string    `json:"kind"`
	Mount  string    `json:"mount"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

type client struct {
	id   uuid.UUID
	conn *websocket.Conn
	send chan []byte
}

// Hub manages admin WebSocket connections and fans relay events out to all
// of them.
type Hub struct {
	upgrader websocket.Upgrader

	clientsMu sync.RWMutex
	clients   map[uuid.UUID]*client

	register   chan *client
	unregister chan *client
	broadcast  chan []byte
}

// NewHub creates a Hub. Call Run in its own goroutine before serving
// connections.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients:    make(map[uuid.UUID]*client),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 256),
	}
}

// Run is the hub's main loop: register/unregister clients and fan out
// broadcast messages. Runs until stop is closed.
func (h *Hub) Run(stop <-chan struct{}) {
	for {
		select {
		case c := <-h.register:
			h.clientsMu.Lock()
			h.clients[c.id] = c
			h.clientsMu.Unlock()

		case c := <-h.unregister:
			h.clientsMu.Lock()
			if _, ok := h.clients[c.id]; ok {
				delete(h.clients, c.id)
				close(c.send)
			}
			h.clientsMu.Unlock()

		case msg := <-h.broadcast:
			h.clientsMu.RLock()
			for _, c := range h.clients {
				select {
				case c.send <- msg:
				default:
					log.Printf("[adminws] client %s send buffer full, dropping", c.id)
				}
			}
			h.clientsMu.RUnlock()

		case <-stop:
			return
		}
	}
}

// Publish implements relay.EventSink: it is the non-blocking call a
// RelaySupervisor makes on every lifecycle transition.
func (h *Hub) Publish(kind, mount, detail string) {
	evt := Event{ID: uuid.NewString(), Kind: kind, Mount: mount, Detail: detail, At: time.Now()}
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
		log.Printf("[adminws] broadcast buffer full, dropping event %s", kind)
	}
}

// ServeHTTP upgrades the request to a WebSocket and registers the resulting
// client with the hub, mounted at /adminws by internal/adminapi.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[adminws] upgrade failed: %v", err)
		return
	}
	c := &client{id: uuid.New(), conn: conn, send: make(chan []byte, 64)}

	h.register <- c
	go h.writePump(c)
	go h.readPump(c)
}

// readPump discards client messages (this hub is publish-only) but is
// needed to detect disconnects and keep the gorilla/websocket read side
// drained, per its documented usage pattern.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
