package h1mux

import (
	"context"
	"net/textproto"
	"sync"
	"time"
)

// Conn is the public contract exposed to the pool and to user code (§4.G
// ConnectionFacade): CreateStream, Shutdown, writability events, and the
// closed event. It is the Go realization of the source's Connection +
// Session: one transport, one HTTP/1 codec, a strictly ordered pipeline
// of streams, generalized from the teacher's in-band multiplexing Session
// (_examples/SagerNet-smux/session.go) to HTTP/1.x request/response
// pipelining.
type Conn struct {
	cfg       *Config
	transport Transport
	logger    Logger
	metrics   Metrics
	tracer    Tracer
	ctx       context.Context
	cancel    context.CancelFunc

	pipeline   *pipelineQueues
	writer     *requestWriter
	dispatcher *responseDispatcher
	lifecycle  *lifecycleController
	upgrade    *upgradePath

	loopCh chan func()

	nextStreamID uint64 // guarded by idMu

	idMu sync.Mutex

	flagsMu           sync.Mutex
	closed            bool
	tunnelActive      bool
	closeAfterCurrent bool

	webSocket *WebSocket

	invalidMessageSink func(error) error

	closeOnce     sync.Once
	closeHandlers []func()

	activeUpgraded *stream // the single stream receiving raw post-upgrade bytes
}

// NewConn constructs a Conn over the given transport/decoder pair. decoder
// may be nil for tests that deliver inbound messages via DeliverForTest.
func NewConn(transport Transport, decoder Decoder, cfg *Config) *Conn {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.fillDefaults()
	if err := cfg.validate(); err != nil {
		panic(err) // construction-time misconfiguration, not a runtime error
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		cfg:          cfg,
		transport:    transport,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		tracer:       cfg.Tracer,
		ctx:          ctx,
		cancel:       cancel,
		pipeline:     &pipelineQueues{},
		loopCh:       make(chan func(), 256),
		nextStreamID: 1,
	}
	c.writer = &requestWriter{conn: c}
	c.dispatcher = &responseDispatcher{conn: c}
	c.lifecycle = newLifecycleController(c, cfg.DefaultKeepAliveTimeout)
	c.upgrade = &upgradePath{conn: c}

	if decoder != nil {
		decoder.SetSink(c.onDecoded)
	}

	go c.runLoop()
	return c
}

func (c *Conn) runLoop() {
	for {
		select {
		case fn := <-c.loopCh:
			fn()
		case <-c.ctx.Done():
			return
		}
	}
}

// submit trampolines fn onto the loop goroutine, per §5/§9 "Cross-thread
// entry": every public method runs on the I/O executor or is rescheduled
// onto it. Internal helpers that are already executing inside a
// submitted task call each other directly instead of through submit (that
// would deadlock against the unbuffered/bounded channel).
func (c *Conn) submit(fn func()) {
	select {
	case c.loopCh <- fn:
	case <-c.ctx.Done():
	}
}

// submitSync is like submit but reports whether fn was handed to the loop
// channel. A task handed over just as the connection closes may still
// never run, so callers waiting on a result channel populated by fn also
// watch c.ctx (see CreateStream).
func (c *Conn) submitSync(fn func()) (accepted bool) {
	select {
	case c.loopCh <- fn:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// onDecoded is the callback handed to Decoder.SetSink; it is the
// trampoline point between "whatever goroutine reads the socket" and the
// Conn's loop goroutine.
func (c *Conn) onDecoded(kind inboundKind, head *ResponseHead, chunk []byte, trailer textproto.MIMEHeader, err error) {
	c.submit(func() {
		c.dispatcher.handle(kind, head, chunk, trailer, err)
	})
}

// DeliverForTest lets tests feed decoded messages without a real Decoder,
// going through the same trampoline as production traffic.
func (c *Conn) DeliverForTest(kind inboundKind, head *ResponseHead, chunk []byte, trailer textproto.MIMEHeader, err error) {
	c.onDecoded(kind, head, chunk, trailer, err)
}

// CreateStream implements §4.G: allocate a stream id, construct the
// stream, append it to requests, and resolve its admission promise
// immediately if it is now the sole occupant.
func (c *Conn) CreateStream() (*Stream, error) {
	type result struct {
		s   *stream
		err error
	}
	resultCh := make(chan result, 1)
	accepted := c.submitSync(func() {
		if c.isClosed() {
			resultCh <- result{nil, ErrClosed}
			return
		}
		c.idMu.Lock()
		id := c.nextStreamID
		c.nextStreamID++
		c.idMu.Unlock()

		s := newStream(id, c, streamKindRequest, c.cfg.InboundBufferCapacity)
		isFront := c.pipeline.pushRequest(s)
		if isFront {
			s.markAdmitted()
		}
		resultCh <- result{s, nil}
	})
	if !accepted {
		return nil, ErrClosed
	}
	var r result
	select {
	case r = <-resultCh:
	case <-c.ctx.Done():
		return nil, ErrClosed
	}
	if r.err != nil {
		return nil, r.err
	}
	return &Stream{stream: r.s}, nil
}

// setIsTunnel / isTunnel realize §3's is_tunnel flag.
func (c *Conn) setIsTunnel(v bool) {
	if !v {
		return
	}
	c.flagsMu.Lock()
	c.tunnelActive = true
	c.flagsMu.Unlock()
}

func (c *Conn) isTunnel() bool {
	c.flagsMu.Lock()
	defer c.flagsMu.Unlock()
	return c.tunnelActive
}

func (c *Conn) setCloseAfterCurrent(v bool) {
	c.lifecycle.setCloseAfterCurrent(v)
	c.flagsMu.Lock()
	c.closeAfterCurrent = c.closeAfterCurrent || v
	c.flagsMu.Unlock()
}

func (c *Conn) isClosed() bool {
	c.flagsMu.Lock()
	defer c.flagsMu.Unlock()
	return c.closed
}

func (c *Conn) activeUpgradedStream() *stream {
	c.flagsMu.Lock()
	defer c.flagsMu.Unlock()
	return c.activeUpgraded
}

func (c *Conn) setActiveUpgradedStream(s *stream) {
	c.flagsMu.Lock()
	c.activeUpgraded = s
	c.flagsMu.Unlock()
}

// closeOnceDone registers fn to run exactly once, when the connection
// closes (used by lifecycle.shutdown to fire its completion promise).
func (c *Conn) closeOnceDone(fn func()) {
	c.flagsMu.Lock()
	if c.closed {
		c.flagsMu.Unlock()
		fn()
		return
	}
	c.closeHandlers = append(c.closeHandlers, fn)
	c.flagsMu.Unlock()
}

// resetStream implements §4.D's reset path / §7 error kind 4. Must run on
// the loop goroutine.
func (c *Conn) resetStream(s *stream, cause error) {
	s.mu.Lock()
	alreadyReset := s.reset
	s.reset = true
	inResponses := s.inResponses
	s.mu.Unlock()

	if alreadyReset {
		return // reset is idempotent (§5 Cancellation)
	}

	c.metrics.RequestReset(s.metricsHandle)

	s.deliverException(cause)

	if inResponses {
		// Bytes already on the wire for this stream: no safe recovery,
		// the connection must close (§4.D reset path).
		c.closeConn(CloseReasonReset)
		return
	}

	// Not yet sent: drop it from requests; the connection may continue.
	c.pipeline.removeRequest(s)
}

// fail implements §7 error kinds 1-3: decode error, unsupported version,
// and (by escalation) invalid message all fail the whole connection and
// surface the cause to every pending stream.
func (c *Conn) fail(cause error, reason CloseReason) {
	c.logger.WithField("error", cause).Error("connection failed")
	for _, s := range c.pipeline.pendingStreams() {
		s.deliverException(cause)
	}
	c.closeConn(reason)
}

// closeConn implements §4.G's handle_closed: cancel the shutdown timer,
// mark closed, evict from the pool (unless Shutdown already did), notify
// metrics, snapshot and drain pending streams, close
// the WebSocket if any, and finally tear down the transport. Idempotent
// (mirrors the teacher's dieOnce sync.Once in
// _examples/SagerNet-smux/session.go Close()).
func (c *Conn) closeConn(reason CloseReason) {
	c.closeOnce.Do(func() {
		c.lifecycle.cancelShutdownTimer()

		c.flagsMu.Lock()
		c.closed = true
		handlers := c.closeHandlers
		c.closeHandlers = nil
		c.flagsMu.Unlock()

		c.logger.WithField("reason", reason.String()).Info("connection closed")

		c.lifecycle.mu.Lock()
		alreadyEvicted := c.lifecycle.shuttingDown
		c.lifecycle.mu.Unlock()
		if !alreadyEvicted {
			c.cfg.PoolListener.OnEvict()
		}

		c.cfg.Metrics.EndpointDisconnected(nil)

		pending := c.pipeline.pendingStreams()
		for _, s := range pending {
			c.metrics.RequestReset(s.metricsHandle)
			c.tracer.ReceiveResponse(c.ctx, nil, s.traceHandle, ErrClosed, nil)
			s.deliverException(ErrClosed)
		}

		if ws := c.webSocket; ws != nil {
			ws.closeFromConn()
		}

		c.transport.Close()
		c.cancel()

		for _, fn := range handlers {
			fn()
		}
	})
}

// Shutdown implements §4.E's shutdown(timeout_ms): evict from the pool,
// then close immediately (idle) or defer until in-flight work drains.
func (c *Conn) Shutdown(timeoutMS int) (<-chan struct{}, error) {
	return c.lifecycle.shutdown(timeoutMS)
}

// WritabilityChanged implements §4.G: deliver transport writability
// transitions to whichever of requests.front() or the WebSocket is
// active.
func (c *Conn) WritabilityChanged() {
	c.submit(func() {
		if ws := c.webSocket; ws != nil {
			ws.notifyWritable()
			return
		}
		if s := c.pipeline.frontRequest(); s != nil && s.onDrain != nil {
			s.onDrain()
		}
	})
}

// HandleException implements §4.G's handle_exception: propagate to all
// pending streams and the WebSocket; the transport is expected to close
// afterward.
func (c *Conn) HandleException(err error) {
	c.submit(func() {
		for _, s := range c.pipeline.pendingStreams() {
			s.deliverException(err)
		}
		if ws := c.webSocket; ws != nil {
			ws.notifyException(err)
		}
	})
}

// HandleIdle implements §4.G's handle_idle: only forwarded when there is
// no WebSocket and both queues are empty.
func (c *Conn) HandleIdle(forward func()) {
	c.submit(func() {
		if c.webSocket == nil && c.pipeline.empty() {
			forward()
		}
	})
}

// IsValid exposes lifecycle.IsValid for the pool (§4.E).
func (c *Conn) IsValid(now time.Time) bool {
	return c.lifecycle.IsValid(now)
}

// Stats supplements the spec (§9 "Request/response byte accounting"):
// connection-level totals derived by summing the streams still pending in
// either deque, for pool-level throughput reporting alongside the existing
// per-stream BytesRead/BytesWritten. Streams that have already left both
// deques are not counted.
type Stats struct {
	BytesRead    int64
	BytesWritten int64
	PendingReq   int
	PendingResp  int
}

// Stats snapshots connection-level byte counters and queue depths. Safe to
// call from any goroutine.
func (c *Conn) Stats() Stats {
	var st Stats
	for _, s := range c.pipeline.pendingStreams() {
		st.BytesRead += s.BytesRead()
		st.BytesWritten += s.BytesWritten()
	}
	st.PendingReq, st.PendingResp = c.pipeline.depths()
	return st
}

// Stream is the exported wrapper around *stream, mirroring the teacher's
// Stream{ *stream } wrapper (_examples/SagerNet-smux, pack copy of
// stream.go) — the indirection keeps the concrete struct unexported while
// still letting callers hold a stable handle.
type Stream struct {
	*stream
}
