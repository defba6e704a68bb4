package cluster

import (
	"context"
	"fmt"
	"sort"
	"time"

	dapi "github.com/goliatone/go-dapi"
	"golang.org/x/sync/errgroup"
)

// Sender delivers a request to one node for local execution there.
// Failures are reported inside the NodeResult.
type Sender interface {
	Send(ctx context.Context, node dapi.Node, req dapi.Request) dapi.NodeResult
}

// Transport is the node-to-node channel used by the dispatcher.
type Transport interface {
	Sender
	// Forward relays req to master for a full dispatch there and returns
	// the master's envelope.
	Forward(ctx context.Context, master dapi.Node, req dapi.Request) (dapi.Envelope, error)
}

// Coordinator fans a request out to cluster participants.
type Coordinator struct {
	sender      Sender
	limit       int
	nodeTimeout time.Duration
	logger      dapi.Logger
	panicLogger dapi.PanicLogger
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithMaxConcurrency caps in-flight node calls. Zero or less means no cap.
func WithMaxConcurrency(n int) CoordinatorOption {
	return func(c *Coordinator) {
		c.limit = n
	}
}

// WithNodeTimeout bounds each node call of a request that does not wait
// for completion. A node that misses it is reported as unreachable.
func WithNodeTimeout(timeout time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		c.nodeTimeout = timeout
	}
}

// WithLogger sets the coordinator logger.
func WithLogger(logger dapi.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewCoordinator(sender Sender, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		sender: sender,
		logger: dapi.NopLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.panicLogger = dapi.LoggerPanicLogger(c.logger)
	return c
}

// FanOut sends req to every participant concurrently and returns one
// result per target ordered by node id. When req.Nodes is set only those
// nodes are targeted; requested ids that are not connected yield a
// NODE_UNREACHABLE result. A node failing never cancels the others.
func (c *Coordinator) FanOut(ctx context.Context, req dapi.Request, participants []dapi.Node) []dapi.NodeResult {
	targets, results := selectTargets(req.Nodes, participants)
	if len(targets) == 0 {
		return results
	}

	slots := make([]dapi.NodeResult, len(targets))
	g := new(errgroup.Group)
	if c.limit > 0 {
		g.SetLimit(c.limit)
	}

	for i, node := range targets {
		g.Go(func() error {
			slots[i] = c.send(ctx, node, req)
			return nil
		})
	}
	_ = g.Wait()

	results = append(results, slots...)
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Node.ID < results[j].Node.ID
	})

	c.logger.Debug("fan-out of %s reached %d node(s), %d failed",
		req.Operation, len(results), countFailures(results))
	return results
}

func (c *Coordinator) send(ctx context.Context, node dapi.Node, req dapi.Request) (result dapi.NodeResult) {
	defer func() {
		if p := recover(); p != nil {
			c.panicLogger("cluster.Coordinator.send", p, dapi.PanicStack(), map[string]any{
				"node":      node.ID,
				"operation": req.Operation,
			})
			result = dapi.NodeFailure(node, dapi.NewError(dapi.ErrNodeExecution,
				fmt.Sprintf("node call panicked: %v", p), nil, map[string]any{"node": node.ID}))
		}
	}()

	if err := ctx.Err(); err != nil {
		return dapi.NodeFailure(node, dapi.NewError(dapi.ErrNodeUnreachable,
			"request cancelled before reaching node", err, map[string]any{"node": node.ID}))
	}
	if c.nodeTimeout > 0 && req.Wait != dapi.WaitForComplete {
		result = c.sendWithin(ctx, node, req)
	} else {
		result = c.sender.Send(ctx, node, req)
	}
	if result.Node.ID == "" {
		result.Node = node
	}
	return result
}

// sendWithin stops waiting for node after the node timeout. The call
// itself keeps running and its result is dropped.
func (c *Coordinator) sendWithin(ctx context.Context, node dapi.Node, req dapi.Request) dapi.NodeResult {
	ctx, cancel := context.WithTimeout(ctx, c.nodeTimeout)
	defer cancel()

	done := make(chan dapi.NodeResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				c.panicLogger("cluster.Coordinator.sendWithin", p, dapi.PanicStack(), map[string]any{
					"node":      node.ID,
					"operation": req.Operation,
				})
				done <- dapi.NodeFailure(node, dapi.NewError(dapi.ErrNodeExecution,
					fmt.Sprintf("node call panicked: %v", p), nil, map[string]any{"node": node.ID}))
			}
		}()
		done <- c.sender.Send(ctx, node, req)
	}()

	select {
	case result := <-done:
		return result
	case <-ctx.Done():
		c.logger.Warn("node %s did not answer %s within %s", node.ID, req.Operation, c.nodeTimeout)
		return dapi.NodeFailure(node, dapi.NewError(dapi.ErrNodeUnreachable,
			fmt.Sprintf("node %s did not answer within %s", node.ID, c.nodeTimeout), ctx.Err(),
			map[string]any{"node": node.ID, "timeout": c.nodeTimeout.String()}))
	}
}

func selectTargets(requested []string, participants []dapi.Node) ([]dapi.Node, []dapi.NodeResult) {
	if len(requested) == 0 {
		return append([]dapi.Node(nil), participants...), nil
	}

	byID := make(map[string]dapi.Node, len(participants))
	for _, n := range participants {
		byID[n.ID] = n
	}

	var (
		targets []dapi.Node
		missing []dapi.NodeResult
		seen    = make(map[string]struct{}, len(requested))
	)
	for _, id := range requested {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if n, ok := byID[id]; ok {
			targets = append(targets, n)
			continue
		}
		missing = append(missing, dapi.NodeFailure(dapi.Node{ID: id},
			dapi.NewError(dapi.ErrNodeUnreachable,
				fmt.Sprintf("node %s is not connected", id), nil,
				map[string]any{"node": id})))
	}
	return targets, missing
}

func countFailures(results []dapi.NodeResult) int {
	n := 0
	for _, r := range results {
		if !r.OK {
			n++
		}
	}
	return n
}
