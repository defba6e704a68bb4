package runner

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	dapi "github.com/goliatone/go-dapi"
)

// CompletionState is the lifecycle of one gated computation.
// Pending moves to exactly one of the terminal states.
type CompletionState int32

const (
	StatePending CompletionState = iota
	StateCompleted
	StateTimedOut
	StateFailed
)

func (s CompletionState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateCompleted:
		return "completed"
	case StateTimedOut:
		return "timed_out"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Terminal reports whether s is a final state.
func (s CompletionState) Terminal() bool {
	return s != StatePending
}

// Completion is what the gate delivers to its caller.
type Completion struct {
	State CompletionState
	Value any
	Err   error
}

// Computation is the work a gate waits on. The context it receives is
// never cancelled by the gate itself.
type Computation func(ctx context.Context) (any, error)

// Gate bounds how long a caller waits for a computation.
type Gate struct {
	timeout time.Duration
	logger  dapi.Logger
	onLate  func(Completion)
}

// NewGate constructs a gate using DefaultTimeout unless overridden.
func NewGate(opts ...GateOption) *Gate {
	g := &Gate{
		timeout: DefaultTimeout,
		logger:  dapi.NopLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Timeout returns the bounded-wait deadline.
func (g *Gate) Timeout() time.Duration {
	return g.timeout
}

type gatedRun struct {
	state atomic.Int32
}

func (r *gatedRun) settle(to CompletionState) bool {
	return r.state.CompareAndSwap(int32(StatePending), int32(to))
}

// Run executes fn and waits for it according to policy. With WaitBounded
// the wait ends at the configured deadline with a TIMEOUT error; fn keeps
// running detached and its late result is discarded. With WaitForComplete
// only the caller's context ends the wait early. Exactly one Completion is
// returned and its state is terminal.
func (g *Gate) Run(ctx context.Context, policy dapi.WaitPolicy, fn Computation) Completion {
	run := &gatedRun{}
	delivered := make(chan Completion, 1)
	workCtx := context.WithoutCancel(ctx)

	go func() {
		c := g.compute(workCtx, fn)
		if run.settle(c.State) {
			delivered <- c
			return
		}
		g.logger.Debug("discarding result that arrived after the gate closed (%s)", c.State)
		if g.onLate != nil {
			g.onLate(c)
		}
	}()

	var expired <-chan time.Time
	if policy != dapi.WaitForComplete && g.timeout > 0 {
		timer := time.NewTimer(g.timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case c := <-delivered:
		return c
	case <-expired:
		if run.settle(StateTimedOut) {
			return Completion{
				State: StateTimedOut,
				Err: dapi.NewError(dapi.ErrTimeout,
					fmt.Sprintf("operation did not complete within %s", g.timeout), nil,
					map[string]any{"timeout": g.timeout.String()}),
			}
		}
		return <-delivered
	case <-ctx.Done():
		if run.settle(StateFailed) {
			return Completion{State: StateFailed, Err: ctx.Err()}
		}
		return <-delivered
	}
}

func (g *Gate) compute(ctx context.Context, fn Computation) (c Completion) {
	defer func() {
		if p := recover(); p != nil {
			c = Completion{
				State: StateFailed,
				Err: dapi.NewError(dapi.ErrDispatchPanic,
					fmt.Sprintf("gated computation panicked: %v", p), nil, nil),
			}
		}
	}()

	value, err := fn(ctx)
	if err != nil {
		return Completion{State: StateFailed, Err: err}
	}
	return Completion{State: StateCompleted, Value: value}
}
