package transport

import (
	"context"
	"fmt"
	"sync"

	dapi "github.com/goliatone/go-dapi"
)

// Loopback delivers requests to handlers attached in the same process.
type Loopback struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewLoopback() *Loopback {
	return &Loopback{handlers: make(map[string]Handler)}
}

// Attach makes h reachable as nodeID.
func (l *Loopback) Attach(nodeID string, h Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[nodeID] = h
}

// Detach makes nodeID unreachable.
func (l *Loopback) Detach(nodeID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.handlers, nodeID)
}

func (l *Loopback) handler(nodeID string) (Handler, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	h, ok := l.handlers[nodeID]
	return h, ok
}

func (l *Loopback) Send(ctx context.Context, node dapi.Node, req dapi.Request) dapi.NodeResult {
	h, ok := l.handler(node.ID)
	if !ok {
		return dapi.NodeFailure(node, unreachable(node))
	}
	req.Args = req.Args.Clone()
	result := h.ExecuteLocal(ctx, req)
	result.Node = node
	if result.Error != nil && result.Error.Node == "" {
		result.Error.Node = node.ID
	}
	return result
}

func (l *Loopback) Forward(ctx context.Context, master dapi.Node, req dapi.Request) (dapi.Envelope, error) {
	h, ok := l.handler(master.ID)
	if !ok {
		return dapi.Envelope{}, unreachable(master)
	}
	req.Args = req.Args.Clone()
	return h.Dispatch(ctx, req), nil
}

func unreachable(node dapi.Node) error {
	return dapi.NewError(dapi.ErrNodeUnreachable,
		fmt.Sprintf("node %s is not reachable", node.ID), nil,
		map[string]any{"node": node.ID})
}
