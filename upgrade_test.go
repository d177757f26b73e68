package h1mux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildHandshakeRequestSetsURLAndProtocols(t *testing.T) {
	transport := newFakeTransport()
	conn := NewConn(transport, nil, testConfig())
	defer conn.closeConn(CloseReasonEOF)

	target, header, err := conn.upgrade.buildHandshakeRequest(WebSocketOptions{
		Host:      "example.com",
		Path:      "/chat",
		Protocols: []string{"chat", "superchat"},
	})
	require.NoError(t, err)
	assert.Equal(t, "ws://example.com/chat", target.String())
	assert.Equal(t, "chat, superchat", header.Get("Sec-WebSocket-Protocol"))
	// Reserved handshake headers are left for gorilla/websocket's dialer to
	// set; setting them here would make NewClient reject the request.
	assert.Empty(t, header.Get("Upgrade"))
	assert.Empty(t, header.Get("Sec-WebSocket-Key"))
}

func TestToNetSocketMarksTunnelAndEvicts(t *testing.T) {
	listener := &countingPoolListener{}
	cfg := testConfig()
	cfg.PoolListener = listener
	transport := newFakeTransport()
	conn := NewConn(transport, nil, cfg)
	defer conn.closeConn(CloseReasonEOF)

	_, err := conn.ToNetSocket()
	require.NoError(t, err)
	assert.True(t, conn.isTunnel())
	assert.Equal(t, 1, listener.evicts())
}
