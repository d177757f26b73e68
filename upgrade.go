package h1mux

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
)

// upgradePath mutates the transport pipeline for CONNECT tunnels and
// WebSocket handshakes, surrendering ownership of the socket, per §4.F.
type upgradePath struct {
	conn *Conn
}

// detachCodec removes the HTTP decoder/decompressor from the transport's
// read path once a matched CONNECT/Upgrade response has been observed.
// For the duration of RemovePipeline the invalid-message sink is swapped
// for one that ignores every message (nothing routed to it is kept), then
// restored. The already-decoded-but-undelivered bytes that RemovePipeline
// returns are redelivered to the stream as raw chunks.
func (u *upgradePath) detachCodec(s *stream) {
	c := u.conn

	original := c.invalidMessageSink
	c.invalidMessageSink = func(err error) error {
		return nil // buffered separately; see RemovePipeline's return value
	}

	leftover, err := c.transport.RemovePipeline()
	c.invalidMessageSink = original

	if err != nil {
		c.fail(fmt.Errorf("h1mux: detach codec: %w", err), CloseReasonProtocolError)
		return
	}

	c.setActiveUpgradedStream(s)

	for _, chunk := range leftover {
		s.deliverInbound(inboundItem{chunk: chunk})
	}
}

// RawSocketConn is the net.Conn-capable variant of RawSocket that a
// Transport may optionally return from TakeOverSocket, letting UpgradePath
// hand the raw connection straight to gorilla/websocket's client dialer.
type RawSocketConn interface {
	RawSocket
	NetConn() net.Conn
}

// ToNetSocket implements the public contract's "fully removes HTTP
// handlers and replaces the user-facing handler with a raw-byte socket
// adaptor; evicts from pool" (§4.F).
func (c *Conn) ToNetSocket() (RawSocket, error) {
	raw, err := c.transport.TakeOverSocket()
	if err != nil {
		return nil, err
	}
	c.cfg.PoolListener.OnEvict()
	c.setIsTunnel(true)
	return raw, nil
}

// WebSocketOptions configures the handshake driven by doWebSocketHandshake.
type WebSocketOptions struct {
	Scheme     string // "ws" or "wss"
	Host       string
	Path       string
	Protocols  []string
	Extensions []string // not read by the handshake; no extension is negotiated
}

// buildHandshakeRequest constructs the handshake URL from opts alone
// (Scheme defaults to "ws"; Host and Path are used as given, and the
// connection's own address is not consulted when Host is empty) plus a
// Sec-WebSocket-Protocol header for any requested subprotocols.
// opts.Extensions is not read. The reserved handshake headers (Upgrade, Connection,
// Sec-WebSocket-Key/Version/Extensions) are deliberately left unset here:
// gorilla/websocket's client dialer generates the challenge key and
// validates the server's Sec-WebSocket-Accept itself, and rejects a
// requestHeader that already sets them.
func (u *upgradePath) buildHandshakeRequest(opts WebSocketOptions) (target *url.URL, header http.Header, err error) {
	scheme := opts.Scheme
	if scheme == "" {
		scheme = "ws"
	}
	target = &url.URL{Scheme: scheme, Host: opts.Host, Path: opts.Path}

	header = http.Header{}
	if len(opts.Protocols) > 0 {
		header.Set("Sec-WebSocket-Protocol", strings.Join(opts.Protocols, ", "))
	}
	return target, header, nil
}

// doWebSocketHandshake drives the WebSocket handshake to completion and
// installs the resulting WebSocket on success.
//
// gorilla/websocket v1.5.0 has no exported constructor that wraps an
// already-negotiated net.Conn: NewClient and Dialer both perform the
// handshake's request/response bytes themselves, and Upgrader needs an
// http.ResponseWriter. So unlike the CONNECT tunnel path (which stays
// entirely on this package's own RequestWriter/ResponseDispatcher),
// the WebSocket handshake hands the raw connection to gorilla before
// writing anything, and NewClient — not our own codec — drives the
// handshake wire bytes. Because that bypasses the pipeline for this one
// exchange, s must be the only stream pending on the connection: any
// other in-flight request/response would have its bytes interleaved with,
// or clobbered by, gorilla's handshake. On success s is retired from the
// pipeline (it will never see WriteHead/endRequest); subsequent raw frames
// flow through c.webSocket, not the dispatcher. Every failure invokes
// onReady with the error, completing the "user promise" named in §4.F;
// failures after the socket has been taken over also close the
// connection, while the sole-pending-stream check leaves it open.
func (u *upgradePath) doWebSocketHandshake(s *stream, opts WebSocketOptions, onReady func(*WebSocket, error)) {
	c := u.conn

	pending := c.pipeline.pendingStreams()
	if len(pending) != 1 || pending[0] != s {
		onReady(nil, fmt.Errorf("h1mux: websocket upgrade requires this stream to be the only exchange pending on the connection"))
		return
	}

	target, header, err := u.buildHandshakeRequest(opts)
	if err != nil {
		onReady(nil, err)
		return
	}

	raw, err := c.ToNetSocket()
	if err != nil {
		c.closeConn(CloseReasonProtocolError)
		onReady(nil, err)
		return
	}
	netRaw, ok := raw.(RawSocketConn)
	if !ok {
		c.closeConn(CloseReasonProtocolError)
		onReady(nil, fmt.Errorf("h1mux: transport did not return a net.Conn-capable raw socket"))
		return
	}

	wsConn, _, err := websocket.NewClient(netRaw.NetConn(), target, header, 4096, 4096)
	if err != nil {
		c.closeConn(CloseReasonProtocolError)
		onReady(nil, err)
		return
	}

	c.pipeline.removeRequest(s)
	ws := &WebSocket{conn: wsConn}
	c.webSocket = ws
	c.metrics.Connected(ws)
	onReady(ws, nil)
}
