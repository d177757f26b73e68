// Copyright (c) 2016-2017 xtaci
// Portions of this package are adapted from github.com/sagernet/smux under the MIT license.

// Package h1mux implements the client-side half of a single HTTP/1.0/1.1
// connection: request/response pipelining, keep-alive recycling, and
// protocol upgrade to CONNECT tunnels or WebSocket sessions.
//
// A Conn owns one transport (supplied by the caller, usually a TCP or TLS
// socket wrapped with an HTTP/1 codec) and multiplexes a strictly ordered
// sequence of request/response exchanges over it. It does not implement
// the codec, the connection pool, or HTTP/2; those are injected as small
// interfaces (Transport, Decoder, PoolListener, Metrics, Tracer).
package h1mux
