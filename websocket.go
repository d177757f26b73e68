package h1mux

import "github.com/gorilla/websocket"

// WebSocket wraps the gorilla/websocket connection installed after a
// successful handshake (§4.F). Frame-level read/write past the handshake
// is out of scope for this package (§1); WebSocket simply exposes the
// underlying *websocket.Conn plus the event-bus hooks the ConnectionFacade
// drives (writability, exception, close).
type WebSocket struct {
	conn *websocket.Conn

	onWritable  func()
	onException func(error)
	onClose     func()
}

// Conn returns the underlying gorilla/websocket connection for frame I/O.
func (w *WebSocket) Conn() *websocket.Conn {
	return w.conn
}

// OnWritable/OnException/OnClose register the event-bus handler mentioned
// in §4.F ("register its event-bus handler").
func (w *WebSocket) OnWritable(fn func())       { w.onWritable = fn }
func (w *WebSocket) OnException(fn func(error)) { w.onException = fn }
func (w *WebSocket) OnClose(fn func())          { w.onClose = fn }

func (w *WebSocket) notifyWritable() {
	if w.onWritable != nil {
		w.onWritable()
	}
}

func (w *WebSocket) notifyException(err error) {
	if w.onException != nil {
		w.onException(err)
	}
}

// closeFromConn is called by Conn.closeConn when the owning connection
// tears down (§4.G handle_closed: "close WebSocket if any").
func (w *WebSocket) closeFromConn() {
	w.conn.Close()
	if w.onClose != nil {
		w.onClose()
	}
}
