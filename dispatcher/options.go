package dispatcher

import (
	"time"

	dapi "github.com/goliatone/go-dapi"
)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTimeout sets the bounded wait applied to requests that do not ask
// to wait for completion.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithNodeTimeout bounds each fan-out node call of a bounded request.
// Values that are not shorter than the dispatch timeout are replaced by
// four fifths of it.
func WithNodeTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		d.nodeTimeout = timeout
	}
}

// WithLogger sets the dispatcher logger.
func WithLogger(logger dapi.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithObserver registers a dispatch observer.
func WithObserver(observer Observer) Option {
	return func(d *Dispatcher) {
		if observer != nil {
			d.observer = observer
		}
	}
}

// WithMaxConcurrency caps concurrent node calls during a fan-out.
func WithMaxConcurrency(n int) Option {
	return func(d *Dispatcher) {
		d.maxConcurrency = n
	}
}

// WithMiddleware appends dispatch middleware in registration order.
func WithMiddleware(mw ...Middleware) Option {
	return func(d *Dispatcher) {
		for _, m := range mw {
			if m != nil {
				d.middleware = append(d.middleware, m)
			}
		}
	}
}
