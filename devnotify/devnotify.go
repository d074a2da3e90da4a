// Package devnotify broadcasts rebuild results to connected dev-mode
// listeners over WebSocket (spec §6's dev notification channel): the
// emitted asset names, and whether the rebuild succeeded or produced
// diagnostics, so a browser client can apply or ignore a hot update.
//
// Grounded on the teacher's serve.websocketManager: snapshot-then-
// broadcast under a read lock (so a slow client never blocks new
// connects/disconnects), origin checking restricted to same-host and
// localhost, and a dedicated write mutex per connection.
package devnotify

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/loom-build/loom/internal/logging"
)

// maxReadSize bounds the size of any message accepted from a client;
// clients aren't expected to send anything, but the connection is kept
// open to detect disconnects.
const maxReadSize = 64 * 1024

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin:     isLocalOrigin,
}

// isLocalOrigin restricts WebSocket upgrades to same-host requests and
// localhost, rejecting connections from unrelated origins embedding the
// dev server's socket endpoint.
func isLocalOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	requestHost := r.Host
	if i := strings.IndexByte(requestHost, ':'); i != -1 {
		requestHost = requestHost[:i]
	}
	if host == requestHost {
		return true
	}
	if host == "localhost" || host == "127.0.0.1" || host == "::1" || host == "[::1]" {
		return true
	}
	return strings.HasSuffix(host, ".localhost") || strings.HasPrefix(host, "127.")
}

// EventType names the shape of a message devnotify broadcasts.
type EventType string

const (
	EventBuilding EventType = "building"
	EventOK       EventType = "ok"
	EventError    EventType = "error"
	EventShutdown EventType = "shutdown"
)

// Event is one rebuild notification sent to every connected client (spec
// §4.6: after a rebuild closes, the engine reports the name of every
// emitted asset in ChangedAssets so a dev client can decide what to
// refetch; the engine leaves ChangedChunks empty).
type Event struct {
	Type           EventType `json:"type"`
	ChangedChunks  []string  `json:"changedChunks,omitempty"`
	ChangedAssets  []string  `json:"changedAssets,omitempty"`
	Errors         []string  `json:"errors,omitempty"`
	DurationMillis int64     `json:"durationMillis,omitempty"`
}

type connWrapper struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Manager tracks connected dev clients and broadcasts Events to all of
// them.
type Manager struct {
	mu          sync.RWMutex
	connections map[*websocket.Conn]*connWrapper
	logger      *logging.Logger
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{
		connections: make(map[*websocket.Conn]*connWrapper),
		logger:      logging.Default(),
	}
}

// ConnectionCount reports how many clients are currently connected.
func (m *Manager) ConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// Broadcast sends ev, JSON-encoded, to every connected client, dropping
// any connection that fails to accept the write.
func (m *Manager) Broadcast(ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	m.mu.RLock()
	snapshot := make([]*connWrapper, 0, len(m.connections))
	for _, w := range m.connections {
		snapshot = append(snapshot, w)
	}
	m.mu.RUnlock()

	var dead []*websocket.Conn
	for _, w := range snapshot {
		w.mu.Lock()
		err := w.conn.WriteMessage(websocket.TextMessage, payload)
		w.mu.Unlock()
		if err != nil {
			dead = append(dead, w.conn)
		}
	}
	m.reap(dead)
	return nil
}

// BroadcastShutdown notifies every client the engine is shutting down,
// with a short write deadline so an unresponsive client can't stall
// process exit.
func (m *Manager) BroadcastShutdown() {
	payload, _ := json.Marshal(Event{Type: EventShutdown})

	m.mu.RLock()
	snapshot := make([]*connWrapper, 0, len(m.connections))
	for _, w := range m.connections {
		snapshot = append(snapshot, w)
	}
	m.mu.RUnlock()

	var dead []*websocket.Conn
	for _, w := range snapshot {
		w.mu.Lock()
		_ = w.conn.SetWriteDeadline(time.Now().Add(time.Second))
		err := w.conn.WriteMessage(websocket.TextMessage, payload)
		w.mu.Unlock()
		if err != nil {
			dead = append(dead, w.conn)
		}
	}
	m.reap(dead)
}

// CloseAll sends a close frame to every client and clears the
// connection table, used on process shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for conn, w := range m.connections {
		w.mu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(500 * time.Millisecond))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "server shutting down"))
		w.mu.Unlock()
		_ = conn.Close()
	}
	m.connections = make(map[*websocket.Conn]*connWrapper)
}

func (m *Manager) reap(dead []*websocket.Conn) {
	if len(dead) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range dead {
		delete(m.connections, c)
		_ = c.Close()
	}
}

// ServeHTTP upgrades the request to a WebSocket and registers the
// connection until it disconnects.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Error("devnotify: upgrade failed: %v", err)
		return
	}
	conn.SetReadLimit(maxReadSize)

	wrapper := &connWrapper{conn: conn}
	m.mu.Lock()
	m.connections[conn] = wrapper
	count := len(m.connections)
	m.mu.Unlock()
	m.logger.Debug("devnotify: client connected (total: %d)", count)

	defer func() {
		m.mu.Lock()
		delete(m.connections, conn)
		m.mu.Unlock()
		_ = conn.Close()
		m.logger.Debug("devnotify: client disconnected (total: %d)", m.ConnectionCount())
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
