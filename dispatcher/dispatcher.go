package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	dapi "github.com/goliatone/go-dapi"
	"github.com/goliatone/go-dapi/cluster"
	"github.com/goliatone/go-dapi/registry"
	"github.com/goliatone/go-dapi/runner"
)

// Dispatcher routes operation requests to where their execution mode says
// they must run, waits for them under the completion gate and normalizes
// every outcome into an Envelope.
type Dispatcher struct {
	registry    *registry.Registry
	membership  cluster.Membership
	transport   cluster.Transport
	coordinator *cluster.Coordinator
	executor    *runner.Executor

	timeout        time.Duration
	nodeTimeout    time.Duration
	maxConcurrency int
	logger         dapi.Logger
	observer       Observer
	middleware     []Middleware
	handler        InvokeHandler
}

// New builds a dispatcher. A nil transport restricts the dispatcher to
// the local node, which suits single-node deployments.
func New(reg *registry.Registry, membership cluster.Membership, transport cluster.Transport, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:   reg,
		membership: membership,
		transport:  transport,
		timeout:    runner.DefaultTimeout,
		logger:     dapi.NopLogger{},
		observer:   nopObserver{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	if d.transport == nil {
		d.transport = selfTransport{d: d}
	}

	d.executor = runner.NewExecutor(runner.WithExecutorLogger(d.logger))
	if d.nodeTimeout <= 0 || d.nodeTimeout >= d.timeout {
		d.nodeTimeout = defaultNodeTimeout(d.timeout)
	}
	d.coordinator = cluster.NewCoordinator(d.transport,
		cluster.WithMaxConcurrency(d.maxConcurrency),
		cluster.WithNodeTimeout(d.nodeTimeout),
		cluster.WithLogger(d.logger),
	)
	d.handler = applyMiddleware(d.middleware, d.dispatch)
	return d
}

// defaultNodeTimeout leaves a fifth of the bounded wait for merging, so
// one silent node does not push the whole fan-out past the gate.
func defaultNodeTimeout(timeout time.Duration) time.Duration {
	return timeout - timeout/5
}

// Dispatch executes req and always returns an envelope; errors and panics
// are reported inside it.
func (d *Dispatcher) Dispatch(ctx context.Context, req dapi.Request) (env dapi.Envelope) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			fields := map[string]any{"operation": req.Operation, "request_id": req.ID}
			dapi.LoggerPanicLogger(d.logger)("dispatcher.Dispatch", p, dapi.PanicStack(), fields)
			env = dapi.NormalizeError(req, dapi.NewError(dapi.ErrDispatchPanic,
				fmt.Sprintf("dispatch of %s panicked: %v", req.Operation, p), nil, fields))
		}
		d.observer.ObserveDispatch(req, env, time.Since(start))
		d.logDispatch(req, env, time.Since(start))
	}()

	req.Args = dapi.PruneArgs(req.Args)
	return d.handler(ctx, req)
}

func (d *Dispatcher) dispatch(ctx context.Context, req dapi.Request) dapi.Envelope {
	op, err := d.registry.Lookup(req.Operation)
	if err != nil {
		return dapi.NormalizeError(req, err)
	}
	if req.Mode == "" {
		req.Mode = op.Spec().Mode
	}

	class, err := dapi.Classify(req.Mode)
	if err != nil {
		return dapi.NormalizeError(req, err)
	}
	if err := dapi.ValidateArgs(op.Spec(), req.Args); err != nil {
		return dapi.NormalizeError(req, err)
	}

	gate := runner.NewGate(
		runner.WithTimeout(d.timeout),
		runner.WithGateLogger(d.logger),
		runner.WithLateResultHandler(func(c runner.Completion) {
			d.logger.Warn("result of %s (request %s) arrived after %s and was discarded",
				req.Operation, req.ID, d.timeout)
			d.observer.ObserveLateResult(req)
		}),
	)

	completion := gate.Run(ctx, req.Wait, func(ctx context.Context) (any, error) {
		return d.route(ctx, class, op, req)
	})

	switch completion.State {
	case runner.StateCompleted:
		env, ok := completion.Value.(dapi.Envelope)
		if !ok {
			return dapi.NormalizeOutcome(req, dapi.Outcome{Value: completion.Value})
		}
		return env
	case runner.StateTimedOut:
		return dapi.NormalizeTimeout(req, completion.Err)
	default:
		return dapi.NormalizeError(req, callerError(completion.Err))
	}
}

func (d *Dispatcher) route(ctx context.Context, class dapi.Classification, op dapi.Operation, req dapi.Request) (dapi.Envelope, error) {
	if !class.MasterOnly {
		return d.runLocal(ctx, op, req), nil
	}

	isMaster, err := d.membership.CurrentNodeIsMaster(ctx)
	if err != nil {
		return dapi.Envelope{}, err
	}
	if !isMaster {
		return d.forward(ctx, req)
	}

	if class.RunLocally {
		return d.runLocal(ctx, op, req), nil
	}
	return d.fanOut(ctx, op, req)
}

func (d *Dispatcher) runLocal(ctx context.Context, op dapi.Operation, req dapi.Request) dapi.Envelope {
	return dapi.NormalizeOutcome(req, d.executor.Run(ctx, op, req.Args))
}

func (d *Dispatcher) fanOut(ctx context.Context, op dapi.Operation, req dapi.Request) (dapi.Envelope, error) {
	participants, err := d.membership.ListParticipants(ctx)
	if err != nil {
		return dapi.Envelope{}, err
	}

	results := d.coordinator.FanOut(ctx, req, participants)
	d.observer.ObserveFanOut(req, results)

	merge := op.Spec().Merge
	if merge == nil {
		merge = cluster.Merge
	}
	return dapi.NormalizeNodeResults(req, results, merge), nil
}

func (d *Dispatcher) forward(ctx context.Context, req dapi.Request) (dapi.Envelope, error) {
	if req.Forwarded {
		return dapi.Envelope{}, dapi.NewError(dapi.ErrNoMaster,
			"forwarded request reached a node that is not the master", nil,
			map[string]any{"node": d.membership.LocalNode().ID})
	}

	master, err := d.membership.Master(ctx)
	if err != nil {
		return dapi.Envelope{}, err
	}

	d.logger.Debug("forwarding %s (request %s) to master %s", req.Operation, req.ID, master.ID)
	env, err := d.transport.Forward(ctx, master, req.Forward())
	if err != nil {
		return dapi.Envelope{}, err
	}
	if env.RequestID == "" {
		env.RequestID = req.ID
	}
	if env.Operation == "" {
		env.Operation = req.Operation
	}
	env.Pretty = req.Pretty
	return env, nil
}

// ExecuteLocal runs req on this node only. It is the target of fan-out
// calls coming from the master.
func (d *Dispatcher) ExecuteLocal(ctx context.Context, req dapi.Request) dapi.NodeResult {
	local := d.membership.LocalNode()

	op, err := d.registry.Resolve(req.Operation, dapi.PruneArgs(req.Args))
	if err != nil {
		return dapi.NodeFailure(local, err)
	}

	outcome := d.executor.Run(ctx, op, dapi.PruneArgs(req.Args))
	if outcome.Err != nil {
		return dapi.NodeFailure(local, outcome.Err)
	}
	return dapi.NodeSuccess(local, outcome.Value)
}

// Specs lists the registered operations.
func (d *Dispatcher) Specs() []dapi.OperationSpec {
	return d.registry.Specs()
}

// LocalNode is the node this dispatcher runs as.
func (d *Dispatcher) LocalNode() dapi.Node {
	return d.membership.LocalNode()
}

func (d *Dispatcher) logDispatch(req dapi.Request, env dapi.Envelope, elapsed time.Duration) {
	fields := map[string]any{
		"request_id":  req.ID,
		"operation":   req.Operation,
		"mode":        string(req.Mode),
		"status":      string(env.Status),
		"duration_ms": elapsed.Milliseconds(),
	}
	if len(env.Failures) > 0 {
		fields["failed_nodes"] = env.FailedNodes()
	}
	logger := dapi.WithLoggerFields(d.logger, fields)

	switch {
	case env.Status == dapi.StatusOK:
		logger.Debug("dispatched %s", req.Operation)
	case env.Error != nil:
		logger.Warn("dispatch of %s failed: %s", req.Operation, env.Error.Error())
	default:
		logger.Warn("dispatch of %s ended with status %s", req.Operation, env.Status)
	}
}

// callerError maps caller cancellation to dispatch errors.
func callerError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return dapi.NewError(dapi.ErrTimeout, "caller deadline exceeded before completion", err, nil)
	case errors.Is(err, context.Canceled):
		return dapi.NewError(dapi.ErrLocalExecution, "request cancelled by caller", err, nil)
	}
	return err
}

// selfTransport serves a dispatcher built without a transport: only the
// local node is reachable.
type selfTransport struct {
	d *Dispatcher
}

func (s selfTransport) Send(ctx context.Context, node dapi.Node, req dapi.Request) dapi.NodeResult {
	if node.ID != s.d.membership.LocalNode().ID {
		return dapi.NodeFailure(node, dapi.NewError(dapi.ErrNodeUnreachable,
			fmt.Sprintf("node %s is not reachable without a transport", node.ID), nil,
			map[string]any{"node": node.ID}))
	}
	return s.d.ExecuteLocal(ctx, req)
}

func (s selfTransport) Forward(_ context.Context, master dapi.Node, _ dapi.Request) (dapi.Envelope, error) {
	return dapi.Envelope{}, dapi.NewError(dapi.ErrNodeUnreachable,
		fmt.Sprintf("master %s is not reachable without a transport", master.ID), nil,
		map[string]any{"node": master.ID})
}
