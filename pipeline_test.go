package h1mux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineQueuesFIFOOrdering(t *testing.T) {
	p := &pipelineQueues{}

	a := &stream{id: 1}
	b := &stream{id: 2}
	c := &stream{id: 3}

	isFrontA := p.pushRequest(a)
	isFrontB := p.pushRequest(b)
	isFrontC := p.pushRequest(c)

	assert.True(t, isFrontA)
	assert.False(t, isFrontB)
	assert.False(t, isFrontC)
	assert.Equal(t, a, p.frontRequest())

	newFront, ok := p.popRequestFront(a)
	require.True(t, ok)
	assert.Equal(t, b, newFront)
	assert.Equal(t, b, p.frontRequest())

	_, ok = p.popRequestFront(c)
	assert.False(t, ok, "popping a non-front stream must fail")
}

func TestPipelineQueuesRemoveRequestMidQueue(t *testing.T) {
	p := &pipelineQueues{}
	a := &stream{id: 1}
	b := &stream{id: 2}
	c := &stream{id: 3}
	p.pushRequest(a)
	p.pushRequest(b)
	p.pushRequest(c)

	p.removeRequest(b)

	newFront, ok := p.popRequestFront(a)
	require.True(t, ok)
	assert.Equal(t, c, newFront, "b must be gone, leaving c as the new front")
}

func TestPipelineQueuesPendingStreamsUnionOrder(t *testing.T) {
	p := &pipelineQueues{}
	a := &stream{id: 1}
	b := &stream{id: 2}

	p.pushRequest(a)
	p.pushRequest(b)
	p.pushResponse(a)

	pending := p.pendingStreams()
	require.Len(t, pending, 2)
	assert.Equal(t, a, pending[0])
	assert.Equal(t, b, pending[1])

	p.popRequestFront(a)
	p.popResponseFront()

	assert.Len(t, p.pendingStreams(), 1)
	assert.True(t, p.empty() == false, "b is still in requests")

	p.popRequestFront(b)
	assert.True(t, p.empty())
	assert.Empty(t, p.pendingStreams())
}

func TestPipelineQueuesDepths(t *testing.T) {
	p := &pipelineQueues{}
	a := &stream{id: 1}
	p.pushRequest(a)
	p.pushResponse(a)

	reqN, respN := p.depths()
	assert.Equal(t, 1, reqN)
	assert.Equal(t, 1, respN)
}
