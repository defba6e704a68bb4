package cron

import (
	"fmt"
	"time"

	dapi "github.com/goliatone/go-dapi"
)

// Parser selects the cron expression dialect.
type Parser int

const (
	DefaultParser Parser = iota
	StandardParser
	SecondsParser
)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLocation sets the timezone used to evaluate expressions.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithLogger routes scheduler and job logs through logger.
func WithLogger(logger dapi.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithErrorHandler is called with every job error after retries.
func WithErrorHandler(handler func(error)) Option {
	return func(s *Scheduler) {
		if handler != nil {
			s.errorHandler = handler
		}
	}
}

// WithParser sets the cron expression parser.
func WithParser(p Parser) Option {
	return func(s *Scheduler) {
		s.parser = p
	}
}

// JobConfig describes how a scheduled job runs.
type JobConfig struct {
	// Name is used in log lines and errors.
	Name       string
	Expression string
	// Timeout bounds each run. Zero means no timeout.
	Timeout    time.Duration
	MaxRetries int
}

func (c JobConfig) label() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Expression
}

// loggerAdapter adapts dapi.Logger to robfig/cron's logger.
type loggerAdapter struct {
	logger dapi.Logger
}

func (l *loggerAdapter) Info(msg string, args ...any) {
	l.logger.Debug("%s%s", msg, formatKV(args))
}

func (l *loggerAdapter) Error(err error, msg string, args ...any) {
	l.logger.Error("%s%s: %v", msg, formatKV(args), err)
}

// robfig/cron passes alternating key/value pairs.
func formatKV(args []any) string {
	out := ""
	for i := 0; i+1 < len(args); i += 2 {
		out += fmt.Sprintf(" %v=%v", args[i], args[i+1])
	}
	return out
}

// errorHandlerAdapter forwards recovered job panics to the error handler.
type errorHandlerAdapter struct {
	handler func(error)
}

func (e *errorHandlerAdapter) Info(string, ...any) {}

func (e *errorHandlerAdapter) Error(err error, msg string, args ...any) {
	if err == nil {
		err = fmt.Errorf("%s%s", msg, formatKV(args))
	}
	e.handler(err)
}
