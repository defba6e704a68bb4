package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/goliatone/go-logger/glog"

	dapi "github.com/goliatone/go-dapi"
)

// glogLogger adapts a go-logger logger to dapi.Logger.
type glogLogger struct {
	logger glog.Logger
}

// Messages use printf verbs. glog reads trailing args as key/value
// pairs, so they are rendered here and structure goes through WithFields.
func (l glogLogger) Trace(msg string, args ...any) { l.logger.Trace(render(msg, args)) }
func (l glogLogger) Debug(msg string, args ...any) { l.logger.Debug(render(msg, args)) }
func (l glogLogger) Info(msg string, args ...any)  { l.logger.Info(render(msg, args)) }
func (l glogLogger) Warn(msg string, args ...any)  { l.logger.Warn(render(msg, args)) }
func (l glogLogger) Error(msg string, args ...any) { l.logger.Error(render(msg, args)) }
func (l glogLogger) Fatal(msg string, args ...any) { l.logger.Fatal(render(msg, args)) }

func render(msg string, args []any) string {
	if len(args) == 0 {
		return msg
	}
	return fmt.Sprintf(msg, args...)
}

func (l glogLogger) WithContext(ctx context.Context) dapi.Logger {
	if l.logger == nil {
		return dapi.NewFmtLogger(nil).WithContext(ctx)
	}
	return glogLogger{logger: l.logger.WithContext(ctx)}
}

func (l glogLogger) WithFields(fields map[string]any) dapi.Logger {
	if l.logger == nil {
		return dapi.NewFmtLogger(nil).WithFields(fields)
	}
	if fl, ok := l.logger.(glog.FieldsLogger); ok {
		return glogLogger{logger: fl.WithFields(fields)}
	}
	return l
}

func newLogger(out io.Writer, level, format string) dapi.Logger {
	level = strings.ToLower(level)
	if level == "" {
		level = "info"
	}
	if strings.EqualFold(format, "json") {
		return glogLogger{logger: glog.NewLogger(
			glog.WithWriter(out),
			glog.WithLoggerTypeJSON(),
			glog.WithLevel(level),
		)}
	}
	return glogLogger{logger: glog.NewLogger(
		glog.WithWriter(out),
		glog.WithLevel(level),
	)}
}
