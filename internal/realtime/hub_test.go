package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/collectionadmin/internal/database/memorydb"
)

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (h *Hub) connectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

func TestHubBroadcastsToAllClients(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	first := dialHub(t, srv)
	second := dialHub(t, srv)

	require.Eventually(t, func() bool {
		return hub.connectionCount() == 2
	}, time.Second, 10*time.Millisecond)

	sent := Notification{
		Type:       ChangeAdded,
		Collection: "products",
		DocumentID: "abc123",
		Message:    "New products added",
	}
	hub.Publish(sent)

	for _, conn := range []*websocket.Conn{first, second} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var got Notification
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, sent, got)
	}
}

func TestHubDropsDisconnectedClients(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	conn := dialHub(t, srv)
	require.Eventually(t, func() bool {
		return hub.connectionCount() == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return hub.connectionCount() == 0
	}, time.Second, 10*time.Millisecond)

	// Publishing with no clients is a no-op.
	hub.Publish(Notification{Type: ChangeRemoved, Collection: "products"})
}

// readFrames collects websocket frames keyed by their "type" field until
// every wanted type was seen or the deadline passes.
func readFrames(t *testing.T, conn *websocket.Conn, want ...string) map[string][]map[string]any {
	t.Helper()
	missing := map[string]struct{}{}
	for _, w := range want {
		missing[w] = struct{}{}
	}

	got := map[string][]map[string]any{}
	deadline := time.Now().Add(3 * time.Second)
	for len(missing) > 0 {
		require.NoError(t, conn.SetReadDeadline(deadline))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "still waiting for frame types %v", missing)

		var frame map[string]any
		require.NoError(t, json.Unmarshal(data, &frame))
		typ, _ := frame["type"].(string)
		got[typ] = append(got[typ], frame)
		delete(missing, typ)
	}
	return got
}

func TestHubSubscribeMessageEstablishesLiveQuery(t *testing.T) {
	db, err := memorydb.New()
	require.NoError(t, err)
	hub := NewHub()
	registry := NewRegistry(db, hub, testPollInterval)
	defer registry.Close()
	hub.BindSubscriber(registry)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()
	conn := dialHub(t, srv)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"action":     "subscribe",
		"collection": "products",
	}))

	// The first snapshot arrives before any mutation.
	frames := readFrames(t, conn, "snapshot")
	first := frames["snapshot"][0]
	assert.Equal(t, "products", first["collection"])
	assert.Empty(t, first["documents"])

	doc, err := db.Create(context.Background(), "products", map[string]any{"name": "Widget"})
	require.NoError(t, err)

	frames = readFrames(t, conn, "added", "snapshot")
	added := frames["added"][0]
	assert.Equal(t, doc.ID, added["documentId"])
	assert.Equal(t, "New products added", added["message"])

	snap := frames["snapshot"][0]
	docs, ok := snap["documents"].([]any)
	require.True(t, ok)
	require.Len(t, docs, 1)
}

func TestHubSubscribeHonorsFilters(t *testing.T) {
	db, err := memorydb.New()
	require.NoError(t, err)
	hub := NewHub()
	registry := NewRegistry(db, hub, testPollInterval)
	defer registry.Close()
	hub.BindSubscriber(registry)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()
	conn := dialHub(t, srv)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"action":     "subscribe",
		"collection": "products",
		"filters":    []map[string]any{{"field": "price", "op": ">", "value": 10}},
	}))
	readFrames(t, conn, "snapshot")

	ctx := context.Background()
	_, err = db.Create(ctx, "products", map[string]any{"name": "Cheap", "price": 5})
	require.NoError(t, err)
	dear, err := db.Create(ctx, "products", map[string]any{"name": "Dear", "price": 50})
	require.NoError(t, err)

	frames := readFrames(t, conn, "added")
	for _, added := range frames["added"] {
		assert.Equal(t, dear.ID, added["documentId"], "filtered-out documents must not notify")
	}
}

func TestHubUnsubscribeMessageStopsQuery(t *testing.T) {
	db, err := memorydb.New()
	require.NoError(t, err)
	hub := NewHub()
	registry := NewRegistry(db, hub, testPollInterval)
	defer registry.Close()
	hub.BindSubscriber(registry)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()
	conn := dialHub(t, srv)

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "subscribe", "collection": "products"}))
	readFrames(t, conn, "snapshot")

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "unsubscribe", "collection": "products"}))

	// Give the unsubscribe frame time to be processed, then mutate.
	time.Sleep(5 * testPollInterval)
	_, err = db.Create(context.Background(), "products", map[string]any{"name": "Widget"})
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*testPollInterval)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err, "no further frames may arrive after unsubscribing")
}

func TestHubDisconnectStopsSubscriptions(t *testing.T) {
	db, err := memorydb.New()
	require.NoError(t, err)
	hub := NewHub()
	registry := NewRegistry(db, hub, testPollInterval)
	defer registry.Close()
	hub.BindSubscriber(registry)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()
	conn := dialHub(t, srv)

	require.NoError(t, conn.WriteJSON(map[string]any{"action": "subscribe", "collection": "products"}))
	readFrames(t, conn, "snapshot")

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return hub.connectionCount() == 0
	}, time.Second, 10*time.Millisecond)

	// Mutations after the disconnect must not reach the closed connection.
	_, err = db.Create(context.Background(), "products", map[string]any{"name": "Widget"})
	require.NoError(t, err)
	time.Sleep(5 * testPollInterval)
}

func TestHubIgnoresMalformedFrames(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()
	conn := dialHub(t, srv)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	require.NoError(t, conn.WriteJSON(map[string]any{"action": "subscribe", "collection": "products"}))

	// No subscriber bound and a garbage frame: the connection stays up.
	hub.Publish(Notification{Type: ChangeAdded, Collection: "products", DocumentID: "x", Message: "New products added"})
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got Notification
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "x", got.DocumentID)
}
