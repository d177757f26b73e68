package h1mux

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestWebSocket performs a real client/server WebSocket handshake over a
// loopback httptest server, mirroring
// _examples/modelcontextprotocol-go-sdk/mcp/websocket_test.go's use of
// websocket.Upgrader (server) + websocket.DefaultDialer.Dial (client) —
// gorilla/websocket exposes no lower-level constructor to fabricate a
// *websocket.Conn without actually performing the handshake.
func newTestWebSocket(t *testing.T) *WebSocket {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		t.Cleanup(func() { conn.Close() })
	}))
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &WebSocket{conn: conn}
}

func TestWebSocketNotifyWritableInvokesRegisteredHandler(t *testing.T) {
	ws := newTestWebSocket(t)
	var fired bool
	ws.OnWritable(func() { fired = true })
	ws.notifyWritable()
	assert.True(t, fired)
}

func TestWebSocketNotifyExceptionPassesError(t *testing.T) {
	ws := newTestWebSocket(t)
	var got error
	ws.OnException(func(err error) { got = err })
	ws.notifyException(assert.AnError)
	assert.ErrorIs(t, got, assert.AnError)
}

func TestWebSocketCloseFromConnRunsOnCloseHandler(t *testing.T) {
	ws := newTestWebSocket(t)
	var closed bool
	ws.OnClose(func() { closed = true })
	ws.closeFromConn()
	assert.True(t, closed)
}

func TestWebSocketConnAccessorReturnsUnderlyingConn(t *testing.T) {
	ws := newTestWebSocket(t)
	assert.NotNil(t, ws.Conn())
}
