package h1mux

import (
	"bytes"
	"fmt"
	"net/textproto"

	"github.com/sagernet/sing/common/bufio"
)

// requestWriter serializes a request head + body onto the transport,
// honoring the framing rules of §4.C. It mirrors the teacher's sendLoop
// (_examples/SagerNet-smux/session.go): a vectorised write when the
// transport supports scatter-gather I/O, falling back to a single
// buffered write otherwise.
type requestWriter struct {
	conn *Conn
}

// writeHead computes the final request head, emits it (plus any initial
// body), and performs the bookkeeping that must happen atomically with
// emission: joining responses, recording is_tunnel, and firing
// metrics/tracer begin hooks (§4.C). Must run on the Conn's loop
// goroutine.
func (w *requestWriter) writeHead(s *stream, req *RequestHead, chunked bool, initialBody []byte, end bool, connect bool) {
	c := w.conn
	head := cloneHeader(req.Header)

	// Rule 2: Host / Transfer-Encoding.
	if head.Get("Host") == "" {
		head.Set("Host", req.Authority)
	} else {
		head.Del("Transfer-Encoding")
	}

	// Rule 3: chunked framing.
	if chunked {
		head.Set("Transfer-Encoding", "chunked")
		head.Del("Content-Length")
	}

	// Rule 4: compression accept.
	if c.cfg.AcceptEncoding && head.Get("Accept-Encoding") == "" {
		head.Set("Accept-Encoding", "deflate, gzip")
	}

	// Rule 5: keep-alive negotiation.
	if !c.cfg.KeepAliveEnabled && c.cfg.Version == HTTP11 {
		head.Set("Connection", "close")
	} else if c.cfg.KeepAliveEnabled && c.cfg.Version == HTTP10 {
		head.Set("Connection", "keep-alive")
	}

	finalReq := &RequestHead{Method: req.Method, URI: req.URI, Authority: req.Authority, Header: head}
	s.mu.Lock()
	s.request = finalReq
	s.chunked = chunked
	s.isTunnel = connect
	s.mu.Unlock()

	// The tracer's header sink (§4.C) mutates head in place, so it must run
	// before the head is serialized below — otherwise an injected header
	// like traceparent is added to the already-cloned map too late to ever
	// reach the wire.
	traceHandle := c.tracer.SendRequest(c.ctx, finalReq, "http.request", func(k, v string) {
		head.Set(k, v)
	}, nil)
	s.mu.Lock()
	s.traceHandle = traceHandle
	s.mu.Unlock()

	var buf bytes.Buffer
	writeRequestLine(&buf, finalReq, c.cfg.Version)
	writeHeaderBlock(&buf, head)

	w.flush(buf.Bytes(), initialBody)

	s.mu.Lock()
	s.bytesWritten += int64(buf.Len() + len(initialBody))
	s.mu.Unlock()

	// Atomically with emission: join responses, record is_tunnel, begin
	// metrics.
	c.pipeline.pushResponse(s)
	c.setIsTunnel(connect)

	handle := c.metrics.RequestBegin(req.URI, finalReq)
	s.mu.Lock()
	s.metricsHandle = handle
	s.mu.Unlock()

	if connect {
		// Raw tunnel writes bypass HTTP content framing entirely (§4.C
		// tunnel case); write_body below detects isTunnel and writes raw.
	}

	if end {
		w.endRequest(s)
	}
}

// writeBody emits a body chunk. In the tunnel case, bytes are written raw,
// and end=true triggers a connection close once the write completes
// (§4.C).
func (w *requestWriter) writeBody(s *stream, chunk []byte, end bool) {
	s.mu.Lock()
	tunnel := s.isTunnel
	if end {
		s.endOfBody = true
	}
	s.mu.Unlock()

	if tunnel {
		if len(chunk) > 0 {
			w.conn.transport.Write(chunk)
			s.mu.Lock()
			s.bytesWritten += int64(len(chunk))
			s.mu.Unlock()
		}
		if end {
			w.conn.closeConn(CloseReasonTunnel)
		}
		return
	}

	if len(chunk) > 0 {
		w.flush(chunk, nil)
		s.mu.Lock()
		s.bytesWritten += int64(len(chunk))
		s.mu.Unlock()
	}
	if end {
		w.endRequest(s)
	}
}

// flush writes head+body in one shot using a vectorised writer when the
// transport exposes one, mirroring the teacher's sendLoop's use of
// bufio.CreateVectorisedWriter / bufio.WriteVectorised for scatter-gather
// I/O (_examples/SagerNet-smux/session.go).
func (w *requestWriter) flush(head []byte, body []byte) {
	if len(body) == 0 {
		w.conn.transport.Write(head)
		return
	}
	if vw, ok := bufio.CreateVectorisedWriter(w.conn.transport); ok {
		if _, err := bufio.WriteVectorised(vw, [][]byte{head, body}); err == nil {
			return
		}
	}
	combined := make([]byte, 0, len(head)+len(body))
	combined = append(combined, head...)
	combined = append(combined, body...)
	w.conn.transport.Write(combined)
}

// endRequest implements §4.C's end-of-request bookkeeping: pop
// requests.front() (must equal stream), advance admission for the new
// front, and run the lifecycle check (close or recycle) immediately if the
// response side already finished first (the "server pipelined faster"
// legal case, §9 Open Question).
func (w *requestWriter) endRequest(s *stream) {
	c := w.conn
	newFront, ok := c.pipeline.popRequestFront(s)
	if !ok {
		c.logger.WithField("stream", s.id).Warn("endRequest: stream was not requests.front()")
		return
	}

	s.mu.Lock()
	s.requestDone = true
	responseAlreadyEnded := s.responseEnded
	s.mu.Unlock()

	c.metrics.RequestEnd(s.metricsHandle, s.BytesWritten())

	if newFront != nil {
		newFront.markAdmitted()
	}

	if responseAlreadyEnded {
		c.lifecycle.check()
	}
}

func cloneHeader(h textproto.MIMEHeader) textproto.MIMEHeader {
	out := make(textproto.MIMEHeader, len(h))
	for k, v := range h {
		cp := make([]string, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

func writeRequestLine(buf *bytes.Buffer, req *RequestHead, version ProtocolVersion) {
	verStr := "HTTP/1.1"
	if version == HTTP10 {
		verStr = "HTTP/1.0"
	}
	fmt.Fprintf(buf, "%s %s %s\r\n", req.Method, req.URI, verStr)
}

func writeHeaderBlock(buf *bytes.Buffer, h textproto.MIMEHeader) {
	for k, vs := range h {
		for _, v := range vs {
			fmt.Fprintf(buf, "%s: %s\r\n", k, v)
		}
	}
	buf.WriteString("\r\n")
}
