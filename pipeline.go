package h1mux

import "sync"

// pqElement is a node in one of pipelineQueues' intrusive doubly linked
// lists. Using an intrusive list (rather than container/list, which boxes
// values in interface{}) lets a stream carry its own element pointers for
// O(1) removal from the middle of a queue — needed by the reset path,
// which may remove a stream that is not yet at the front (§4.D).
type pqElement struct {
	prev, next *pqElement
	s          *stream
}

type pqList struct {
	head, tail *pqElement
	n          int
}

func (l *pqList) pushBack(s *stream) *pqElement {
	e := &pqElement{s: s}
	if l.tail == nil {
		l.head, l.tail = e, e
	} else {
		e.prev = l.tail
		l.tail.next = e
		l.tail = e
	}
	l.n++
	return e
}

func (l *pqList) front() *stream {
	if l.head == nil {
		return nil
	}
	return l.head.s
}

func (l *pqList) remove(e *pqElement) {
	if e == nil {
		return
	}
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		l.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		l.tail = e.prev
	}
	e.prev, e.next = nil, nil
	l.n--
}

func (l *pqList) popFront() *stream {
	if l.head == nil {
		return nil
	}
	s := l.head.s
	l.remove(l.head)
	return s
}

func (l *pqList) toSlice() []*stream {
	out := make([]*stream, 0, l.n)
	for e := l.head; e != nil; e = e.next {
		out = append(out, e.s)
	}
	return out
}

// pipelineQueues holds the two FIFOs described in §4.B: requests (currently
// writing) and responses (awaiting reply), plus the all-pending index used
// by pendingStreams(). A single mutex covers both deques and the
// membership bookkeeping on each stream (invariant: never held across a
// handler dispatch or transport write — see §5).
type pipelineQueues struct {
	mu        sync.Mutex
	requests  pqList
	responses pqList
	all       pqList
}

// pushRequest appends s to requests (admission, §4.G). Returns true if s is
// now the sole occupant, i.e. immediately at the front and writable.
func (p *pipelineQueues) pushRequest(s *stream) (isFront bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s.reqElem = p.requests.pushBack(s)
	s.inRequests = true
	if s.allElem == nil {
		s.allElem = p.all.pushBack(s)
	}
	return p.requests.head == s.reqElem
}

func (p *pipelineQueues) frontRequest() *stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests.front()
}

func (p *pipelineQueues) frontResponse() *stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.responses.front()
}

// popRequestFront pops requests.front(), which must equal expect (§4.C
// end_request precondition). Returns the new front (nil if now empty) so
// the caller can complete its admission promise.
func (p *pipelineQueues) popRequestFront(expect *stream) (newFront *stream, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	front := p.requests.front()
	if front != expect {
		return nil, false
	}
	p.requests.popFront()
	expect.reqElem = nil
	expect.inRequests = false
	p.disposeLocked(expect)
	return p.requests.front(), true
}

// pushResponse appends s to responses, run atomically with head emission
// (§4.C).
func (p *pipelineQueues) pushResponse(s *stream) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s.respElem = p.responses.pushBack(s)
	s.inResponses = true
	if s.allElem == nil {
		s.allElem = p.all.pushBack(s)
	}
}

// popResponseFront pops responses.front() when the last-content terminator
// is observed (§4.D).
func (p *pipelineQueues) popResponseFront() *stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.responses.popFront()
	if s != nil {
		s.respElem = nil
		s.inResponses = false
		p.disposeLocked(s)
	}
	return s
}

// removeRequest removes s from requests out of order, used by the reset
// path when s has not yet been admitted to the front (§4.D).
func (p *pipelineQueues) removeRequest(s *stream) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !s.inRequests {
		return
	}
	p.requests.remove(s.reqElem)
	s.reqElem = nil
	s.inRequests = false
	p.disposeLocked(s)
}

// disposeLocked drops s from the all-pending index once it is in neither
// deque. Caller must hold p.mu.
func (p *pipelineQueues) disposeLocked(s *stream) {
	if s.inRequests || s.inResponses {
		return
	}
	if s.allElem != nil {
		p.all.remove(s.allElem)
		s.allElem = nil
	}
}

// pendingStreams returns the set-union of both deques in insertion order,
// used on connection failure (§4.B).
func (p *pipelineQueues) pendingStreams() []*stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.all.toSlice()
}

func (p *pipelineQueues) empty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests.n == 0 && p.responses.n == 0
}

// depths reports the current length of each deque, for Conn.Stats.
func (p *pipelineQueues) depths() (requests, responses int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests.n, p.responses.n
}
