package h1mux

import (
	"context"
	"net/textproto"
)

// ProtocolVersion is the HTTP/1 wire version a Conn speaks.
type ProtocolVersion int

const (
	HTTP10 ProtocolVersion = iota
	HTTP11
)

// RequestHead is the caller-supplied head of a pipelined request.
type RequestHead struct {
	Method    string
	URI       string
	Authority string // Host header value, e.g. "example.com:443"
	Header    textproto.MIMEHeader
}

// ResponseHead is the decoded head of an inbound response.
type ResponseHead struct {
	Version    ProtocolVersion
	StatusCode int
	Reason     string
	Header     textproto.MIMEHeader
}

// Transport is the out-of-scope byte-level collaborator: a TCP/TLS socket
// wrapped with framing helpers. Conn never parses or serializes HTTP bytes
// itself; RequestWriter hands it already-framed bytes to write, and the
// Decoder hands back already-decoded messages through the sink registered
// via SetSink.
type Transport interface {
	// Write emits already-framed bytes. Must only be called from the Conn's
	// loop goroutine.
	Write(b []byte) (int, error)
	// Writable reports the last-observed transport writability.
	Writable() bool
	// PauseRead / ResumeRead gate the transport's read pump; used for
	// inbound backpressure when a stream's buffer is full.
	PauseRead()
	ResumeRead()
	// Close tears down the underlying socket.
	Close() error
	// RemovePipeline strips HTTP-specific read-side processing (the codec
	// and any decompressor) so that subsequent bytes are delivered raw.
	// It returns any bytes that were already decoded but not yet
	// delivered, for the caller to redeliver manually.
	RemovePipeline() ([][]byte, error)
	// TakeOverSocket fully detaches HTTP handling and returns the raw
	// underlying connection for exclusive use (WebSocket / CONNECT).
	TakeOverSocket() (RawSocket, error)
}

// RawSocket is the minimal raw-byte contract handed back after a
// successful upgrade.
type RawSocket interface {
	Write(b []byte) (int, error)
	Close() error
}

// inboundKind tags the variant of a decoded inbound message, mirroring the
// source's decoded-message union (head / content / last-content).
type inboundKind int

const (
	inboundResponseHead inboundKind = iota
	inboundContentChunk
	inboundLastContent
	inboundRawChunk // tunnel / WebSocket post-upgrade raw bytes
)

// Decoder is the out-of-scope byte-level HTTP/1 codec. It decodes bytes
// already read by the Transport and, via the sink registered through
// SetSink, hands decoded messages to the ResponseDispatcher. The sink may
// be called from any goroutine; Conn.onDecoded trampolines each message
// onto the Conn's loop goroutine before the dispatcher sees it.
type Decoder interface {
	// SetSink registers the callback the decoder invokes for each decoded
	// inbound message. Called once, by NewConn.
	SetSink(sink func(kind inboundKind, head *ResponseHead, chunk []byte, trailer textproto.MIMEHeader, err error))
}

// PoolListener is the connection-pool contract.
type PoolListener interface {
	// OnRecycle reports that the connection is reusable and idle.
	OnRecycle()
	// OnEvict reports that the connection must not be checked out again.
	OnEvict()
}

// Metrics is the metrics-sink contract.
type Metrics interface {
	RequestBegin(uri string, req *RequestHead) any
	ResponseBegin(handle any, resp *ResponseHead)
	ResponseEnd(handle any, bytesRead int64)
	RequestEnd(handle any, bytesWritten int64)
	RequestReset(handle any)
	EndpointDisconnected(clientMetrics any)
	Connected(ws *WebSocket) any
}

// Tracer is the distributed-tracing contract.
type Tracer interface {
	SendRequest(ctx context.Context, req *RequestHead, opName string, headerSink func(key, value string), tagExtractor func(*ResponseHead) map[string]string) any
	ReceiveResponse(ctx context.Context, resp *ResponseHead, handle any, err error, tagExtractor func(*ResponseHead) map[string]string)
}

// noopPoolListener satisfies PoolListener when the caller does not supply
// one (e.g. unit tests exercising a bare Conn).
type noopPoolListener struct{}

func (noopPoolListener) OnRecycle() {}
func (noopPoolListener) OnEvict()   {}

// noopMetrics and noopTracer similarly provide safe do-nothing defaults.
type noopMetrics struct{}

func (noopMetrics) RequestBegin(string, *RequestHead) any       { return nil }
func (noopMetrics) ResponseBegin(any, *ResponseHead)            {}
func (noopMetrics) ResponseEnd(any, int64)                      {}
func (noopMetrics) RequestEnd(any, int64)                       {}
func (noopMetrics) RequestReset(any)                            {}
func (noopMetrics) EndpointDisconnected(any)                    {}
func (noopMetrics) Connected(*WebSocket) any                    { return nil }

type noopTracer struct{}

func (noopTracer) SendRequest(context.Context, *RequestHead, string, func(string, string), func(*ResponseHead) map[string]string) any {
	return nil
}
func (noopTracer) ReceiveResponse(context.Context, *ResponseHead, any, error, func(*ResponseHead) map[string]string) {
}
