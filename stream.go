package h1mux

import (
	"net/textproto"
	"sync"
)

// streamKind distinguishes the two stream variants the source models via
// inheritance (abstract Stream / StreamImpl). A concrete struct with a
// kind tag plays the same role here, per the "Polymorphic stream" design
// note: a sealed-variant style is a better fit for Go than a class
// hierarchy.
type streamKind int

const (
	streamKindRequest streamKind = iota
	streamKindUpgraded
)

// inboundItem is either a content chunk or the trailing-headers sentinel,
// mirroring the source's inbound-buffer item union (§3, §4.A).
type inboundItem struct {
	isTrailer bool
	chunk     []byte
	trailer   textproto.MIMEHeader
}

// stream is the per-exchange state described in §3/§4.A. It holds a
// non-owning handle to its Conn (the connection owns streams via the
// pipeline deques; see "Cyclic references" in DESIGN.md / spec §9).
type stream struct {
	id   uint64
	conn *Conn
	kind streamKind

	// queue membership, owned and mutated only by pipelineQueues under
	// its own lock (see pipeline.go).
	reqElem, respElem, allElem *pqElement
	inRequests, inResponses    bool

	// admission: closed exactly once, the moment this stream reaches the
	// front of requests (teacher idiom: dieOnce sync.Once + close(ch)).
	admission     chan struct{}
	admissionOnce boolOnce
	admitted      bool
	// writes queued while waiting for admission, flushed in order once
	// admitted (this realizes "redirected to executor: enqueued if not
	// already runnable").
	pendingWrites []func()
	pendingBytes  int64 // sum of unflushed queued write sizes (supplemented: PendingBytes)

	mu sync.Mutex

	request   *RequestHead
	isTunnel  bool
	chunked   bool
	endOfBody bool // true once the final write_body(end=true) was issued

	response      *ResponseHead
	responseEnded bool
	requestDone   bool // end_request has run (request body fully written)
	reset         bool

	exceptionDelivered bool // guards onException against double delivery

	bytesRead    int64
	bytesWritten int64

	metricsHandle any
	traceHandle   any

	inbound      []inboundItem
	inboundCap   int
	paused       bool

	onContinue  func()
	onHead      func(*ResponseHead)
	onChunk     func([]byte)
	onEnd       func(trailer textproto.MIMEHeader)
	onDrain     func()
	onException func(error)
}

// boolOnce is a tiny sync.Once substitute that also reports whether it was
// the caller that fired, used so admission-completion can both close a
// channel and flush pending writes exactly once.
type boolOnce struct {
	done bool
}

func (o *boolOnce) do(f func()) bool {
	if o.done {
		return false
	}
	o.done = true
	f()
	return true
}

func newStream(id uint64, c *Conn, kind streamKind, inboundCap int) *stream {
	return &stream{
		id:         id,
		conn:       c,
		kind:       kind,
		admission:  make(chan struct{}),
		inboundCap: inboundCap,
	}
}

// Ready returns the admission-promise channel: closed exactly when this
// stream reaches the head of the write queue and may emit its head.
func (s *stream) Ready() <-chan struct{} {
	return s.admission
}

// markAdmitted closes the admission channel and flushes any writes queued
// while this stream waited its turn. Must run on the Conn's loop
// goroutine; called by Conn.CreateStream and RequestWriter.endRequest when
// this stream becomes requests.front().
func (s *stream) markAdmitted() {
	s.admissionOnce.do(func() {
		s.mu.Lock()
		s.admitted = true
		pending := s.pendingWrites
		s.pendingWrites = nil
		s.mu.Unlock()
		close(s.admission)
		for _, fn := range pending {
			fn()
		}
	})
}

// runOnceAdmitted executes fn immediately if this stream is already at the
// front of the write queue, otherwise defers it until markAdmitted runs.
// Must be called from the Conn's loop goroutine.
func (s *stream) runOnceAdmitted(fn func()) {
	s.runOnceAdmittedSized(0, fn)
}

// runOnceAdmittedSized is runOnceAdmitted plus bookkeeping for
// PendingBytes(): size is added to the queued-but-unflushed counter when fn
// is deferred, and removed right before fn actually runs.
func (s *stream) runOnceAdmittedSized(size int, fn func()) {
	s.mu.Lock()
	if s.admitted {
		s.mu.Unlock()
		fn()
		return
	}
	s.pendingBytes += int64(size)
	s.pendingWrites = append(s.pendingWrites, func() {
		s.mu.Lock()
		s.pendingBytes -= int64(size)
		s.mu.Unlock()
		fn()
	})
	s.mu.Unlock()
}

// WriteHead emits the request head (and optional initial body), per
// §4.A/§4.C. Safe to call from any goroutine; trampolines onto the Conn's
// loop goroutine and, if this stream has not yet reached the front of the
// write queue, defers until it does.
func (s *stream) WriteHead(req *RequestHead, chunked bool, initialBody []byte, end bool, connect bool) {
	s.conn.submit(func() {
		s.runOnceAdmittedSized(len(initialBody), func() {
			s.conn.writer.writeHead(s, req, chunked, initialBody, end, connect)
		})
	})
}

// WriteBody emits a body chunk, marking it the last chunk when end is true
// (§4.A/§4.C).
func (s *stream) WriteBody(chunk []byte, end bool) {
	s.conn.submit(func() {
		s.runOnceAdmittedSized(len(chunk), func() {
			s.conn.writer.writeBody(s, chunk, end)
		})
	})
}

// PendingBytes supplements the spec (§9 "Write-side backpressure counter"):
// the number of body bytes (including a WriteHead's initial body, but not
// the serialized head itself) queued behind this stream's admission
// promise but not yet handed to the transport, for callers that want to
// bound per-stream buffering ahead of CreateStream's admit-in-order
// scheduling rather than after the fact.
func (s *stream) PendingBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingBytes
}

// Reset aborts the stream per §4.D's reset path / §7 error kind 4. A nil
// cause is reported to the exception handler as ErrStreamReset.
func (s *stream) Reset(cause error) {
	if cause == nil {
		cause = ErrStreamReset
	}
	s.conn.submit(func() {
		s.conn.resetStream(s, cause)
	})
}

// Pause stops immediate delivery of inbound chunks; they queue until Fetch
// is called, and once the queue passes its capacity the dispatcher pauses
// transport reads (§4.A flow control).
func (s *stream) Pause() {
	s.conn.submit(func() {
		s.mu.Lock()
		s.paused = true
		s.mu.Unlock()
	})
}

// Fetch releases up to n queued inbound items to the installed handlers,
// resuming transport reads if the queue fully drains (§4.A/§4.B).
func (s *stream) Fetch(n int) {
	s.conn.submit(func() {
		s.fetchLocked(n)
	})
}

func (s *stream) fetchLocked(n int) {
	s.mu.Lock()
	s.paused = false
	var items []inboundItem
	for len(items) < n && len(s.inbound) > 0 {
		items = append(items, s.inbound[0])
		s.inbound = s.inbound[1:]
	}
	drained := len(s.inbound) == 0
	s.mu.Unlock()

	for _, it := range items {
		s.dispatchItem(it)
	}
	if drained {
		s.conn.transport.ResumeRead()
	}
}

// deliverInbound is called by ResponseDispatcher (on the loop goroutine)
// for each decoded chunk/trailer targeting this stream. It returns whether
// the item was accepted without exceeding the high-water mark; on
// overflow, the dispatcher must pause transport reads (§4.A/§4.B).
func (s *stream) deliverInbound(item inboundItem) bool {
	s.mu.Lock()
	if !s.paused && len(s.inbound) == 0 {
		s.mu.Unlock()
		s.dispatchItem(item)
		return true
	}
	s.inbound = append(s.inbound, item)
	accepted := len(s.inbound) <= s.inboundCap
	s.mu.Unlock()
	return accepted
}

func (s *stream) dispatchItem(item inboundItem) {
	if item.isTrailer {
		if s.onEnd != nil {
			s.onEnd(item.trailer)
		}
		return
	}
	if s.onChunk != nil {
		s.onChunk(item.chunk)
	}
}

// IsWritable mirrors transport writability and the reset flag (§4.A).
func (s *stream) IsWritable() bool {
	s.mu.Lock()
	reset := s.reset
	s.mu.Unlock()
	return !reset && s.conn.transport.Writable()
}

// deliverException invokes the stream's exception handler at most once.
// resetStream, fail, and closeConn can each independently decide this
// stream's outcome needs reporting; only the first cause reaches the
// caller (§7/§8), so a reset's real cause is never masked by the ErrClosed
// that closeConn delivers to every other still-pending stream.
func (s *stream) deliverException(err error) {
	s.mu.Lock()
	if s.exceptionDelivered {
		s.mu.Unlock()
		return
	}
	s.exceptionDelivered = true
	s.mu.Unlock()
	if s.onException != nil {
		s.onException(err)
	}
}

func (s *stream) OnContinue(fn func())                       { s.onContinue = fn }
func (s *stream) OnHead(fn func(*ResponseHead))               { s.onHead = fn }
func (s *stream) OnChunk(fn func([]byte))                     { s.onChunk = fn }
func (s *stream) OnEnd(fn func(trailer textproto.MIMEHeader)) { s.onEnd = fn }
func (s *stream) OnDrain(fn func())                           { s.onDrain = fn }
func (s *stream) OnException(fn func(error))                  { s.onException = fn }

// BytesRead/BytesWritten satisfy §8's "sum of delivered bytes equals
// bytes_read/bytes_written" testable property.
func (s *stream) BytesRead() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytesRead
}

func (s *stream) BytesWritten() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytesWritten
}
