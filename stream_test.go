package h1mux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkAdmittedClosesChannelAndFlushesPendingWritesInOrder(t *testing.T) {
	s := &stream{admission: make(chan struct{})}

	var order []int
	s.runOnceAdmittedSized(3, func() { order = append(order, 1) })
	s.runOnceAdmittedSized(4, func() { order = append(order, 2) })

	assert.Equal(t, int64(7), s.PendingBytes())
	select {
	case <-s.Ready():
		t.Fatal("admission channel closed before markAdmitted")
	default:
	}

	s.markAdmitted()

	assert.Equal(t, []int{1, 2}, order)
	assert.Equal(t, int64(0), s.PendingBytes())
	select {
	case <-s.Ready():
	default:
		t.Fatal("admission channel must be closed after markAdmitted")
	}

	// markAdmitted must be idempotent: a second call must not re-run queued
	// writes or panic on a double close.
	require.NotPanics(t, func() { s.markAdmitted() })
}

func TestRunOnceAdmittedRunsImmediatelyWhenAlreadyAdmitted(t *testing.T) {
	s := &stream{admission: make(chan struct{}), admitted: true}
	ran := false
	s.runOnceAdmitted(func() { ran = true })
	assert.True(t, ran)
	assert.Equal(t, int64(0), s.PendingBytes())
}

func TestDeliverInboundDispatchesImmediatelyWhenIdle(t *testing.T) {
	s := &stream{admission: make(chan struct{}), inboundCap: 2}
	var got []byte
	s.OnChunk(func(b []byte) { got = b })

	accepted := s.deliverInbound(inboundItem{chunk: []byte("hi")})
	assert.True(t, accepted)
	assert.Equal(t, []byte("hi"), got)
}

func TestDeliverInboundQueuesWhenPausedAndOverflowsAtCapacity(t *testing.T) {
	s := &stream{admission: make(chan struct{}), inboundCap: 2, paused: true}

	assert.True(t, s.deliverInbound(inboundItem{chunk: []byte("a")}))
	assert.True(t, s.deliverInbound(inboundItem{chunk: []byte("b")}))
	assert.False(t, s.deliverInbound(inboundItem{chunk: []byte("c")}), "third item must overflow the bounded buffer")
}

func TestFetchReleasesQueuedItemsAndResumesOnDrain(t *testing.T) {
	transport := newFakeTransport()
	conn := NewConn(transport, nil, testConfig())
	defer conn.closeConn(CloseReasonEOF)

	s := newStream(1, conn, streamKindRequest, 2)
	s.paused = true
	s.inbound = []inboundItem{{chunk: []byte("a")}, {chunk: []byte("b")}}

	var got [][]byte
	s.OnChunk(func(b []byte) { got = append(got, b) })

	s.fetchLocked(1)
	require.Len(t, got, 1)
	assert.Equal(t, []byte("a"), got[0])
	assert.Equal(t, 0, transport.resumed, "transport must not resume until the queue fully drains")

	s.fetchLocked(1)
	require.Len(t, got, 2)
	assert.Equal(t, []byte("b"), got[1])
	assert.Equal(t, 1, transport.resumed)
}

func TestBytesReadWrittenAccumulate(t *testing.T) {
	s := &stream{admission: make(chan struct{})}
	s.bytesRead = 10
	s.bytesWritten = 20
	assert.Equal(t, int64(10), s.BytesRead())
	assert.Equal(t, int64(20), s.BytesWritten())
}

func TestIsWritableReflectsResetAndTransport(t *testing.T) {
	transport := newFakeTransport()
	conn := NewConn(transport, nil, testConfig())
	defer conn.closeConn(CloseReasonEOF)

	s := newStream(1, conn, streamKindRequest, conn.cfg.InboundBufferCapacity)
	assert.True(t, s.IsWritable())

	s.reset = true
	assert.False(t, s.IsWritable())
}
