package dapi

import (
	"github.com/google/uuid"
)

// Request is one operation invocation. Build it with NewRequest, which
// copies and prunes the arguments; treat it as read-only afterwards.
type Request struct {
	ID        string        `json:"id"`
	Operation string        `json:"operation"`
	Args      Args          `json:"args,omitempty"`
	Mode      ExecutionMode `json:"mode"`
	Wait      WaitPolicy    `json:"wait"`
	Pretty    bool          `json:"pretty,omitempty"`
	// Nodes narrows a distributed request to the given node IDs.
	Nodes []string `json:"nodes,omitempty"`
	// Forwarded is set on requests relayed to the master by another node.
	Forwarded bool `json:"forwarded,omitempty"`
}

// RequestOption customizes a request at construction time.
type RequestOption func(*Request)

// WithWaitForComplete disables the completion deadline when wait is true.
func WithWaitForComplete(wait bool) RequestOption {
	return func(r *Request) {
		r.Wait = WaitPolicyFor(wait)
	}
}

// WithPretty requests an indented envelope rendering.
func WithPretty(pretty bool) RequestOption {
	return func(r *Request) {
		r.Pretty = pretty
	}
}

// WithNodes narrows fan-out to the given node IDs.
func WithNodes(ids ...string) RequestOption {
	return func(r *Request) {
		r.Nodes = append([]string(nil), ids...)
	}
}

// WithRequestID overrides the generated request id.
func WithRequestID(id string) RequestOption {
	return func(r *Request) {
		if id != "" {
			r.ID = id
		}
	}
}

// NewRequest builds a request. Arguments with nil values are removed.
func NewRequest(operation string, args map[string]any, mode ExecutionMode, opts ...RequestOption) Request {
	req := Request{
		ID:        uuid.NewString(),
		Operation: operation,
		Args:      PruneArgs(args),
		Mode:      mode,
		Wait:      WaitBounded,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&req)
		}
	}
	return req
}

// Forward returns a copy of r marked as relayed to the master.
func (r Request) Forward() Request {
	cp := r
	cp.Args = r.Args.Clone()
	cp.Nodes = append([]string(nil), r.Nodes...)
	cp.Forwarded = true
	return cp
}
