package h1mux

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// lifecycleController decides recycle vs close after each exchange,
// manages the keep-alive timeout, and runs shutdown-with-grace, per §4.E.
// It generalizes the teacher's Session.Close/keepalive/notify*Error idiom
// (_examples/SagerNet-smux/session.go): a sync.Once-guarded close, plus a
// dedicated goroutine (here, an errgroup-bounded timer) for the grace
// period instead of a free-running ticker.
type lifecycleController struct {
	conn *Conn

	mu                      sync.Mutex
	keepAliveTimeoutSeconds int
	expiration              time.Time // zero value means "infinite" (0 per spec)
	closeAfterCurrent       bool
	shuttingDown            bool
	shutdownDone            chan struct{}

	shutdownGroup  *errgroup.Group
	cancelShutdown func()

	now func() time.Time // overridable for tests
}

func newLifecycleController(c *Conn, defaultTimeout time.Duration) *lifecycleController {
	return &lifecycleController{
		conn:                    c,
		keepAliveTimeoutSeconds: int(defaultTimeout / time.Second),
		now:                     time.Now,
	}
}

func (l *lifecycleController) setKeepAliveTimeoutSeconds(n int) {
	l.mu.Lock()
	l.keepAliveTimeoutSeconds = n
	l.mu.Unlock()
}

// check implements §4.E's post-exchange decision: close if
// close_after_current, else recycle. Must run on the Conn's loop
// goroutine.
func (l *lifecycleController) check() {
	l.mu.Lock()
	closeNow := l.closeAfterCurrent
	l.mu.Unlock()

	if closeNow {
		l.conn.closeConn(CloseReasonEOF)
		return
	}
	l.recycle()
}

// recycle implements §4.E's recycle(). Invariant 5 (close_after_current is
// monotonic) is enforced by setCloseAfterCurrent, not here.
func (l *lifecycleController) recycle() {
	c := l.conn

	l.mu.Lock()
	shuttingDown := l.shuttingDown
	l.mu.Unlock()

	if shuttingDown && c.pipeline.empty() {
		c.closeConn(CloseReasonShutdown)
		return
	}

	if c.isTunnel() {
		// Connection is now raw; the pool has already evicted it on
		// upgrade (§4.F UpgradePath.toNetSocket / §4.E recycle rule).
		return
	}

	l.mu.Lock()
	timeout := l.keepAliveTimeoutSeconds
	if timeout == 0 {
		l.expiration = time.Time{}
	} else {
		l.expiration = l.now().Add(time.Duration(timeout) * time.Second)
	}
	l.mu.Unlock()

	c.cfg.PoolListener.OnRecycle()
	c.logger.WithField("keepAliveTimeoutSeconds", timeout).Debug("recycled")
}

// IsValid reports §4.E's is_valid(): expiration_timestamp == 0 (infinite)
// or now <= expiration_timestamp.
func (l *lifecycleController) IsValid(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.expiration.IsZero() {
		return true
	}
	return !now.After(l.expiration)
}

// NextExpiration supplements the spec (§9 "Idle timeout sweeping"): lets a
// pool schedule its own sweep rather than this package spawning a
// per-connection timer goroutine for every idle connection.
func (l *lifecycleController) NextExpiration() (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.expiration.IsZero() {
		return time.Time{}, false
	}
	return l.expiration, true
}

func (l *lifecycleController) setCloseAfterCurrent(v bool) {
	if !v {
		return // monotonic: once true, never reverts (invariant 5)
	}
	l.mu.Lock()
	l.closeAfterCurrent = v
	l.mu.Unlock()
}

// shutdown implements §4.E's shutdown(timeout_ms). The grace-period timer
// runs in an errgroup goroutine and races the natural-drain path; both end
// in the sync.Once-guarded closeConn, so the connection closes and the
// shutdown-completion promise fires exactly once, mirroring the teacher's
// single sync.Once-guarded Session.Close alongside its independent
// keepalive goroutine.
func (l *lifecycleController) shutdown(timeoutMS int) (done <-chan struct{}, err error) {
	c := l.conn

	l.mu.Lock()
	if l.shuttingDown {
		l.mu.Unlock()
		return nil, ErrAlreadyShutdown
	}
	l.shuttingDown = true
	l.shutdownDone = make(chan struct{})
	doneCh := l.shutdownDone
	l.mu.Unlock()

	c.closeOnceDone(func() {
		close(doneCh)
	})

	c.cfg.PoolListener.OnEvict()

	if c.isClosed() {
		return doneCh, nil
	}

	if timeoutMS > 0 {
		ctx, cancel := context.WithCancel(c.ctx)
		group, ctx := errgroup.WithContext(ctx)
		l.shutdownGroup = group
		l.cancelShutdown = cancel
		group.Go(func() error {
			timer := time.NewTimer(time.Duration(timeoutMS) * time.Millisecond)
			defer timer.Stop()
			select {
			case <-timer.C:
				c.submit(func() { c.closeConn(CloseReasonShutdown) })
			case <-ctx.Done():
			case <-doneCh:
			}
			return nil
		})
	} else {
		l.setCloseAfterCurrent(true)
	}

	// An idle connection closes synchronously; a busy one is left alone
	// here — either the grace timer fires, or recycle()'s own
	// shuttingDown-and-empty check closes it once the in-flight exchange's
	// natural check() runs. Calling check() unconditionally would
	// prematurely recycle a connection that is still mid-exchange.
	c.submit(func() {
		if c.pipeline.empty() {
			c.closeConn(CloseReasonShutdown)
		}
	})

	return doneCh, nil
}

// cancelShutdownTimer stops the grace-period timer started by shutdown, if
// any (§4.E: "The shutdown timer is cancelled on normal close").
func (l *lifecycleController) cancelShutdownTimer() {
	if l.cancelShutdown != nil {
		l.cancelShutdown()
	}
}
