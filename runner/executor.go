package runner

import (
	"context"
	"fmt"

	dapi "github.com/goliatone/go-dapi"
)

// Executor runs operations in the current process.
type Executor struct {
	logger      dapi.Logger
	panicLogger dapi.PanicLogger
}

// NewExecutor constructs an Executor.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		logger: dapi.NopLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.panicLogger == nil {
		e.panicLogger = dapi.LoggerPanicLogger(e.logger)
	}
	return e
}

// Run invokes op with args on the calling goroutine. Awaitable results are
// awaited. Errors and panics are captured in the outcome and never
// propagate.
func (e *Executor) Run(ctx context.Context, op dapi.Operation, args dapi.Args) (outcome dapi.Outcome) {
	spec := op.Spec()

	defer func() {
		if p := recover(); p != nil {
			fields := map[string]any{"operation": spec.Name}
			e.panicLogger("runner.Executor.Run", p, dapi.PanicStack(), fields)
			outcome = dapi.Outcome{
				Err: dapi.DetailFromError(dapi.NewError(dapi.ErrLocalExecution,
					fmt.Sprintf("operation %s panicked: %v", spec.Name, p), nil, fields),
					dapi.ErrCodeLocalExecution),
			}
		}
	}()

	value, err := op.Invoke(ctx, args.Clone())
	if err == nil {
		if pending, ok := value.(dapi.Awaitable); ok {
			e.logger.Trace("awaiting pending result for %s", spec.Name)
			value, err = pending.Await(ctx)
		}
	}

	if err != nil {
		e.logger.Debug("operation %s failed: %v", spec.Name, err)
		return dapi.Outcome{Err: localErrorDetail(spec.Name, err)}
	}
	return dapi.Outcome{Value: value}
}

// Call runs op and returns its outcome as a value/error pair.
func (e *Executor) Call(ctx context.Context, op dapi.Operation, args dapi.Args) (any, error) {
	outcome := e.Run(ctx, op, args)
	if outcome.Err != nil {
		return nil, outcome.Err
	}
	return outcome.Value, nil
}

func localErrorDetail(name string, err error) *dapi.ErrorDetail {
	if dapi.ErrorCode(err) != "" {
		return dapi.DetailFromError(err, dapi.ErrCodeLocalExecution)
	}
	return dapi.DetailFromError(dapi.NewError(dapi.ErrLocalExecution,
		fmt.Sprintf("operation %s failed", name), err,
		map[string]any{"operation": name}), dapi.ErrCodeLocalExecution)
}
