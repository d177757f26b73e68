package h1mux

import (
	"fmt"
	"time"
)

// Config bundles the per-Conn tunables, mirroring the teacher session's
// *Config (config.KeepAliveDisabled, config.MaxReceiveBuffer, ...) but
// re-targeted at HTTP/1 pipelining rather than in-band stream framing.
type Config struct {
	// Version is the protocol version this connection announces on
	// outgoing requests.
	Version ProtocolVersion
	// KeepAliveEnabled mirrors the client's own keep-alive preference,
	// independent of what the server ultimately decides (§4.C rule 5).
	KeepAliveEnabled bool
	// DefaultKeepAliveTimeout seeds keep_alive_timeout_seconds until a
	// server Keep-Alive: timeout=N header overrides it. Zero means
	// "infinite" (expiration_timestamp stays 0).
	DefaultKeepAliveTimeout time.Duration
	// AcceptEncoding, when true, makes RequestWriter add
	// "Accept-Encoding: deflate, gzip" per §4.C rule 4.
	AcceptEncoding bool
	// InboundBufferCapacity is the high-water mark of each stream's
	// inbound chunk queue: past it, transport reads are paused (§3
	// Stream.inbound buffer, default capacity 5).
	InboundBufferCapacity int
	// WebSocketVersion is validated and defaults to 13, but the WebSocket
	// handshake does not read it: gorilla/websocket always advertises
	// version 13.
	WebSocketVersion int
	// Logger receives structured lifecycle/error events. Nil selects a
	// logrus.New() instance logging to its default output.
	Logger Logger
	// PoolListener, Metrics, and Tracer default to no-op implementations
	// when left nil.
	PoolListener PoolListener
	Metrics      Metrics
	Tracer       Tracer
}

// DefaultConfig returns a Config with the spec's stated defaults.
func DefaultConfig() *Config {
	return &Config{
		Version:                 HTTP11,
		KeepAliveEnabled:        true,
		DefaultKeepAliveTimeout: 0,
		AcceptEncoding:          true,
		InboundBufferCapacity:   5,
		WebSocketVersion:        13,
	}
}

func (c *Config) validate() error {
	if c.Version != HTTP10 && c.Version != HTTP11 {
		return fmt.Errorf("h1mux: invalid protocol version %d", c.Version)
	}
	if c.InboundBufferCapacity <= 0 {
		return fmt.Errorf("h1mux: InboundBufferCapacity must be positive, got %d", c.InboundBufferCapacity)
	}
	if c.WebSocketVersion <= 0 {
		return fmt.Errorf("h1mux: WebSocketVersion must be positive, got %d", c.WebSocketVersion)
	}
	if c.DefaultKeepAliveTimeout < 0 {
		return fmt.Errorf("h1mux: DefaultKeepAliveTimeout must not be negative")
	}
	return nil
}

func (c *Config) fillDefaults() {
	if c.PoolListener == nil {
		c.PoolListener = noopPoolListener{}
	}
	if c.Metrics == nil {
		c.Metrics = noopMetrics{}
	}
	if c.Tracer == nil {
		c.Tracer = noopTracer{}
	}
	if c.Logger == nil {
		c.Logger = newLogrusLogger(nil)
	}
	if c.InboundBufferCapacity == 0 {
		c.InboundBufferCapacity = 5
	}
	if c.WebSocketVersion == 0 {
		c.WebSocketVersion = 13
	}
}
