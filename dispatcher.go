package h1mux

import (
	"fmt"
	"net/textproto"
	"strconv"
	"strings"
)

// responseDispatcher routes validated inbound messages to the front of
// the pipeline and drives that stream's state machine, per §4.D. It
// mirrors the teacher's recvLoop (_examples/SagerNet-smux/session.go): a
// decode-dispatch-by-kind switch, per-stream delivery, and
// bucket/backpressure signalling back to the transport.
type responseDispatcher struct {
	conn *Conn
}

// handle is the single entry point external Decoders call (via the sink
// registered in NewConn). It always runs on the Conn's loop goroutine —
// the trampoline happens in Conn.onDecoded.
func (d *responseDispatcher) handle(kind inboundKind, head *ResponseHead, chunk []byte, trailer textproto.MIMEHeader, err error) {
	c := d.conn

	if err != nil {
		c.fail(fmt.Errorf("%w: %w", ErrDecodeFailed, err), CloseReasonProtocolError)
		return
	}

	switch kind {
	case inboundResponseHead:
		if head.Version != HTTP10 && head.Version != HTTP11 {
			c.fail(ErrUnsupportedVersion, CloseReasonProtocolError)
			return
		}
		d.handleHead(head)
	case inboundContentChunk:
		d.handleChunk(chunk)
	case inboundLastContent:
		d.handleLastContent(chunk, trailer)
	case inboundRawChunk:
		d.handleRawChunk(chunk)
	default:
		d.invalidMessage(fmt.Errorf("h1mux: unknown inbound kind %d", kind))
	}
}

func (d *responseDispatcher) invalidMessage(cause error) {
	c := d.conn
	sink := c.invalidMessageSink
	if sink == nil {
		sink = func(err error) error { return fmt.Errorf("%w: %v", ErrInvalidMessage, err) }
	}
	if err := sink(cause); err != nil {
		c.fail(err, CloseReasonProtocolError)
	}
}

// handleHead implements the response-head branch of §4.D.
func (d *responseDispatcher) handleHead(head *ResponseHead) {
	c := d.conn
	s := c.pipeline.frontResponse()
	if s == nil {
		// Spurious data with nothing awaiting a response: ignored.
		return
	}

	if head.StatusCode == 100 {
		if s.onContinue != nil {
			s.onContinue()
		}
		return
	}

	s.mu.Lock()
	s.response = head
	req := s.request
	tunnel := s.isTunnel
	s.mu.Unlock()

	c.metrics.ResponseBegin(s.metricsHandle, head)

	if !tunnel {
		if headerHasToken(head.Header, "Connection", "close") || headerHasToken(req.Header, "Connection", "close") {
			c.setCloseAfterCurrent(true)
		} else if head.Version == HTTP10 && !headerHasToken(head.Header, "Connection", "keep-alive") {
			c.setCloseAfterCurrent(true)
		}
		if n, ok := parseKeepAliveTimeout(head.Header.Get("Keep-Alive")); ok {
			c.lifecycle.setKeepAliveTimeoutSeconds(n)
		}
	}

	if s.onHead != nil {
		s.onHead(head)
	}

	// Gated on the exchange pattern itself, not on isTunnel: isTunnel is
	// only set for the CONNECT case (writer.go's connect param), but a
	// GET+Connection:Upgrade+101 exchange is an equally valid surrender
	// trigger per §4.D and is never flagged isTunnel.
	if isUpgradeExchange(req, head) {
		c.upgrade.detachCodec(s)
	}
}

// handleChunk implements the content-chunk branch of §4.D.
func (d *responseDispatcher) handleChunk(chunk []byte) {
	c := d.conn
	s := c.pipeline.frontResponse()
	if s == nil {
		return
	}
	if len(chunk) == 0 {
		return
	}
	s.mu.Lock()
	s.bytesRead += int64(len(chunk))
	s.mu.Unlock()

	accepted := s.deliverInbound(inboundItem{chunk: chunk})
	if !accepted {
		c.transport.PauseRead()
	}
}

// handleLastContent implements the last-content branch of §4.D.
func (d *responseDispatcher) handleLastContent(chunk []byte, trailer textproto.MIMEHeader) {
	c := d.conn
	s := c.pipeline.frontResponse()
	if s == nil {
		return
	}

	if len(chunk) > 0 {
		s.mu.Lock()
		s.bytesRead += int64(len(chunk))
		s.mu.Unlock()
		s.deliverInbound(inboundItem{chunk: chunk})
	}
	s.deliverInbound(inboundItem{isTrailer: true, trailer: trailer})

	popped := c.pipeline.popResponseFront()
	if popped != s {
		return
	}

	s.mu.Lock()
	s.responseEnded = true
	s.mu.Unlock()

	if !c.cfg.KeepAliveEnabled {
		c.setCloseAfterCurrent(true)
	}

	c.metrics.ResponseEnd(s.metricsHandle, s.BytesRead())
	c.tracer.ReceiveResponse(c.ctx, s.response, s.traceHandle, nil, nil)

	c.transport.ResumeRead()

	// §9 Open Question resolution: only check() here when the request
	// side is not this stream (i.e. its endRequest already ran). If this
	// stream is still requests.front(), its own endRequest will run
	// check() once the body finishes writing.
	if c.pipeline.frontRequest() != s {
		c.lifecycle.check()
	}
}

// handleRawChunk delivers post-upgrade bytes verbatim to the active
// tunnel/WebSocket stream's chunk handler (§4.F).
func (d *responseDispatcher) handleRawChunk(chunk []byte) {
	c := d.conn
	s := c.activeUpgradedStream()
	if s == nil {
		return
	}
	s.mu.Lock()
	s.bytesRead += int64(len(chunk))
	s.mu.Unlock()
	s.deliverInbound(inboundItem{chunk: chunk})
}

func headerHasToken(h textproto.MIMEHeader, key, token string) bool {
	if h == nil {
		return false
	}
	for _, v := range h.Values(key) {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}

// parseKeepAliveTimeout extracts "timeout=N" from a Keep-Alive header
// value such as "timeout=5, max=100" (§4.D).
func parseKeepAliveTimeout(value string) (int, bool) {
	if value == "" {
		return 0, false
	}
	for _, part := range strings.Split(value, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) == 2 && strings.EqualFold(strings.TrimSpace(kv[0]), "timeout") {
			n, err := strconv.Atoi(strings.TrimSpace(kv[1]))
			if err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

// isUpgradeExchange recognizes the two tunnel patterns of §4.D/§6:
// CONNECT + 200, or GET + Connection: Upgrade + 101.
func isUpgradeExchange(req *RequestHead, resp *ResponseHead) bool {
	if req == nil || resp == nil {
		return false
	}
	if strings.EqualFold(req.Method, "CONNECT") && resp.StatusCode == 200 {
		return true
	}
	if strings.EqualFold(req.Method, "GET") && headerHasToken(req.Header, "Connection", "Upgrade") && resp.StatusCode == 101 {
		return true
	}
	return false
}
