package runner

import (
	"time"

	dapi "github.com/goliatone/go-dapi"
)

// DefaultTimeout is the bounded wait applied when none is configured.
const DefaultTimeout = 10 * time.Second

// ExecutorOption customizes an Executor.
type ExecutorOption func(*Executor)

// WithExecutorLogger sets the executor logger.
func WithExecutorLogger(l dapi.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = dapi.NormalizeLogger(l)
	}
}

// WithPanicLogger sets the function notified about recovered panics.
func WithPanicLogger(l dapi.PanicLogger) ExecutorOption {
	return func(e *Executor) {
		if l != nil {
			e.panicLogger = l
		}
	}
}

// GateOption customizes a Gate.
type GateOption func(*Gate)

// WithTimeout sets the bounded-wait deadline.
func WithTimeout(t time.Duration) GateOption {
	return func(g *Gate) {
		if t > 0 {
			g.timeout = t
		}
	}
}

// WithGateLogger sets the gate logger.
func WithGateLogger(l dapi.Logger) GateOption {
	return func(g *Gate) {
		g.logger = dapi.NormalizeLogger(l)
	}
}

// WithLateResultHandler registers a callback for results that arrive after
// the gate expired. They are never delivered to the caller.
func WithLateResultHandler(fn func(Completion)) GateOption {
	return func(g *Gate) {
		g.onLate = fn
	}
}
