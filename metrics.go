package h1mux

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics implements Metrics atop go.opentelemetry.io/otel/metric,
// mirroring the instrument-per-concern style used alongside the tracing
// adapter in _examples/docker-compose/internal/tracing.
type OTelMetrics struct {
	requestsStarted  metric.Int64Counter
	responsesBegun   metric.Int64Counter
	responsesEnded   metric.Int64Counter
	bytesRead        metric.Int64Counter
	bytesWritten     metric.Int64Counter
	resets           metric.Int64Counter
	disconnects      metric.Int64Counter
	webSocketsOpened metric.Int64Counter
}

// NewOTelMetrics constructs the instrument set from a meter, e.g.
// otel.Meter("h1mux").
func NewOTelMetrics(meter metric.Meter) (*OTelMetrics, error) {
	m := &OTelMetrics{}
	var err error
	if m.requestsStarted, err = meter.Int64Counter("h1mux.requests.started"); err != nil {
		return nil, err
	}
	if m.responsesBegun, err = meter.Int64Counter("h1mux.responses.begun"); err != nil {
		return nil, err
	}
	if m.responsesEnded, err = meter.Int64Counter("h1mux.responses.ended"); err != nil {
		return nil, err
	}
	if m.bytesRead, err = meter.Int64Counter("h1mux.bytes.read"); err != nil {
		return nil, err
	}
	if m.bytesWritten, err = meter.Int64Counter("h1mux.bytes.written"); err != nil {
		return nil, err
	}
	if m.resets, err = meter.Int64Counter("h1mux.streams.reset"); err != nil {
		return nil, err
	}
	if m.disconnects, err = meter.Int64Counter("h1mux.connections.disconnected"); err != nil {
		return nil, err
	}
	if m.webSocketsOpened, err = meter.Int64Counter("h1mux.websockets.opened"); err != nil {
		return nil, err
	}
	return m, nil
}

type metricsHandle struct {
	req *RequestHead
}

func (m *OTelMetrics) RequestBegin(uri string, req *RequestHead) any {
	m.requestsStarted.Add(context.Background(), 1)
	return &metricsHandle{req: req}
}

func (m *OTelMetrics) ResponseBegin(handle any, resp *ResponseHead) {
	m.responsesBegun.Add(context.Background(), 1)
}

func (m *OTelMetrics) ResponseEnd(handle any, bytesRead int64) {
	m.responsesEnded.Add(context.Background(), 1)
	m.bytesRead.Add(context.Background(), bytesRead)
}

func (m *OTelMetrics) RequestEnd(handle any, bytesWritten int64) {
	m.bytesWritten.Add(context.Background(), bytesWritten)
}

func (m *OTelMetrics) RequestReset(handle any) {
	m.resets.Add(context.Background(), 1)
}

func (m *OTelMetrics) EndpointDisconnected(clientMetrics any) {
	m.disconnects.Add(context.Background(), 1)
}

func (m *OTelMetrics) Connected(ws *WebSocket) any {
	m.webSocketsOpened.Add(context.Background(), 1)
	return nil
}
