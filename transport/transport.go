// Package transport moves dispatch requests between cluster nodes.
//
// Two implementations of cluster.Transport are provided: Loopback, which
// wires dispatchers living in the same process, and HTTPTransport, which
// talks to the node Server over JSON/HTTP.
package transport

import (
	"context"

	dapi "github.com/goliatone/go-dapi"
)

const (
	ExecutePath    = "/dapi/v1/execute"
	DispatchPath   = "/dapi/v1/dispatch"
	OperationsPath = "/dapi/v1/operations"
	HealthPath     = "/health"
	MetricsPath    = "/metrics"

	RequestIDHeader = "X-Request-Id"
)

// Handler is the node-side entry point a transport delivers to.
type Handler interface {
	// ExecuteLocal runs req on this node only.
	ExecuteLocal(ctx context.Context, req dapi.Request) dapi.NodeResult
	// Dispatch runs req through the full dispatch pipeline.
	Dispatch(ctx context.Context, req dapi.Request) dapi.Envelope
}
