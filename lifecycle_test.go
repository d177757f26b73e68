package h1mux

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleIsValidInfiniteByDefault(t *testing.T) {
	conn, _ := newTestConnForWriter(t, testConfig())
	assert.True(t, conn.lifecycle.IsValid(time.Now()))
	_, ok := conn.lifecycle.NextExpiration()
	assert.False(t, ok)
}

func TestLifecycleRecycleSetsExpirationFromKeepAliveTimeout(t *testing.T) {
	conn, _ := newTestConnForWriter(t, testConfig())
	base := time.Unix(1000, 0)
	conn.lifecycle.now = func() time.Time { return base }
	conn.lifecycle.setKeepAliveTimeoutSeconds(2)

	conn.lifecycle.recycle()

	exp, ok := conn.lifecycle.NextExpiration()
	require.True(t, ok)
	assert.Equal(t, base.Add(2*time.Second), exp)

	assert.True(t, conn.lifecycle.IsValid(base.Add(2*time.Second)))
	assert.False(t, conn.lifecycle.IsValid(base.Add(2*time.Second+time.Nanosecond)))
}

func TestLifecycleRecycleZeroTimeoutIsInfinite(t *testing.T) {
	conn, _ := newTestConnForWriter(t, testConfig())
	conn.lifecycle.setKeepAliveTimeoutSeconds(0)
	conn.lifecycle.recycle()

	_, ok := conn.lifecycle.NextExpiration()
	assert.False(t, ok)
	assert.True(t, conn.lifecycle.IsValid(time.Now().Add(10*time.Hour)))
}

func TestLifecycleCloseAfterCurrentIsMonotonic(t *testing.T) {
	conn, _ := newTestConnForWriter(t, testConfig())
	conn.lifecycle.setCloseAfterCurrent(true)
	assert.True(t, conn.lifecycle.closeAfterCurrent)

	conn.lifecycle.setCloseAfterCurrent(false)
	assert.True(t, conn.lifecycle.closeAfterCurrent, "close_after_current must never revert to false")
}

func TestLifecycleRecycleSkipsWhenTunnelActive(t *testing.T) {
	conn, _ := newTestConnForWriter(t, testConfig())
	conn.setIsTunnel(true)
	conn.lifecycle.setKeepAliveTimeoutSeconds(5)

	conn.lifecycle.recycle()

	_, ok := conn.lifecycle.NextExpiration()
	assert.False(t, ok, "a tunneled connection must not be recycled into the pool")
}

func TestLifecycleCheckClosesWhenCloseAfterCurrentSet(t *testing.T) {
	conn, _ := newTestConnForWriter(t, testConfig())
	conn.lifecycle.setCloseAfterCurrent(true)

	conn.lifecycle.check()

	assert.True(t, conn.isClosed())
}
