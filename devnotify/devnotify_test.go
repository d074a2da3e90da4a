package devnotify

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsLocalOriginAllowsSameHostAndLocalhost(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://example.com/ws", nil)
	req.Host = "example.com"
	req.Header.Set("Origin", "http://example.com")
	assert.True(t, isLocalOrigin(req))

	req2 := httptest.NewRequest(http.MethodGet, "http://localhost:8080/ws", nil)
	req2.Header.Set("Origin", "http://localhost:8080")
	assert.True(t, isLocalOrigin(req2))

	req3 := httptest.NewRequest(http.MethodGet, "http://example.com/ws", nil)
	req3.Host = "example.com"
	req3.Header.Set("Origin", "http://evil.example")
	assert.False(t, isLocalOrigin(req3))
}

func TestManagerBroadcastsToConnectedClients(t *testing.T) {
	m := NewManager()
	server := httptest.NewServer(http.HandlerFunc(m.ServeHTTP))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	u, err := url.Parse(wsURL)
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	require.NoError(t, err)
	defer conn.Close()

	// give the server a moment to register the connection
	deadline := time.Now().Add(time.Second)
	for m.ConnectionCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, 1, m.ConnectionCount())

	require.NoError(t, m.Broadcast(Event{Type: EventOK, ChangedAssets: []string{"main.js"}}))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(payload), "main.js")
	assert.Contains(t, string(payload), `"ok"`)
}
