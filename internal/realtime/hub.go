package realtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/xid"

	"github.com/Lllllllleong/collectionadmin/internal/database"
	"github.com/Lllllllleong/collectionadmin/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // Allow all origins (configure in prod)
}

// Subscriber establishes a live query and returns a stop handle; the
// Registry implements it.
type Subscriber interface {
	Subscribe(collection string, filters []database.Filter, callback Callback) func()
}

// clientMessage is a control frame sent by a websocket client.
type clientMessage struct {
	Action     string            `json:"action"`
	Collection string            `json:"collection"`
	Filters    []database.Filter `json:"filters,omitempty"`
}

// snapshotMessage carries the full current result set of a live query to
// the client that subscribed to it.
type snapshotMessage struct {
	Type       string             `json:"type"`
	Collection string             `json:"collection"`
	Documents  []*models.Document `json:"documents"`
}

// connection represents a single websocket client.
type connection struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool

	// subs maps collection to its stop handle. Only the connection's own
	// readLoop goroutine touches it.
	subs map[string]func()
}

// trySend queues data for the client, skipping it when the client is slow
// or already gone.
func (c *connection) trySend(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		// Client too slow, skip
	}
}

// Hub fans change notifications out to every connected websocket client and
// maps per-client subscribe messages onto live queries.
type Hub struct {
	subscriber Subscriber

	mu          sync.RWMutex
	connections map[string]*connection
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{connections: make(map[string]*connection)}
}

// BindSubscriber wires the live-query source consulted when clients send
// subscribe messages. Must be called before ServeWS; typically the bound
// value is the Registry whose notifier is this hub.
func (h *Hub) BindSubscriber(s Subscriber) {
	h.subscriber = s
}

func (h *Hub) register(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[c.id] = c
}

func (h *Hub) unregister(c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if existing, ok := h.connections[c.id]; ok && existing == c {
		delete(h.connections, c.id)
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()
	}
}

// Publish broadcasts a notification to all connected clients. Notifications
// are transient: nothing is persisted, and slow clients are skipped.
func (h *Hub) Publish(n Notification) {
	data, err := json.Marshal(n)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.connections {
		c.trySend(data)
	}
}

// ServeWS upgrades the request to a websocket and streams notifications
// until the client disconnects. Clients opt into result-set snapshots by
// sending {"action":"subscribe","collection":...,"filters":[...]} frames.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Websocket upgrade failed", "error", err)
		return
	}

	c := &connection{
		id:   xid.New().String(),
		conn: ws,
		send: make(chan []byte, sendBuffer),
		subs: make(map[string]func()),
	}
	h.register(c)

	go c.writeLoop()
	c.readLoop(h)
}

// readLoop consumes client control frames and keeps pongs flowing,
// unregistering on disconnect.
func (c *connection) readLoop(h *Hub) {
	defer func() {
		c.stopSubscriptions()
		h.unregister(c)
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.handleMessage(h, data)
	}
}

func (c *connection) handleMessage(h *Hub, data []byte) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Warn("Ignoring malformed websocket frame", "error", err)
		return
	}
	switch msg.Action {
	case "subscribe":
		c.subscribe(h, msg)
	case "unsubscribe":
		c.unsubscribe(msg.Collection)
	}
}

// subscribe establishes a live query for the client. The first snapshot is
// delivered immediately; re-subscribing to the same collection is a no-op.
func (c *connection) subscribe(h *Hub, msg clientMessage) {
	if h.subscriber == nil || msg.Collection == "" {
		return
	}
	if _, exists := c.subs[msg.Collection]; exists {
		return
	}

	collection := msg.Collection
	stop := h.subscriber.Subscribe(collection, msg.Filters, func(docs []*models.Document) {
		payload, err := json.Marshal(snapshotMessage{
			Type:       "snapshot",
			Collection: collection,
			Documents:  docs,
		})
		if err != nil {
			return
		}
		c.trySend(payload)
	})
	c.subs[collection] = stop
}

func (c *connection) unsubscribe(collection string) {
	if stop, ok := c.subs[collection]; ok {
		stop()
		delete(c.subs, collection)
	}
}

func (c *connection) stopSubscriptions() {
	for _, stop := range c.subs {
		stop()
	}
	c.subs = nil
}

func (c *connection) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
