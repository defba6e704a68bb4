package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dapi "github.com/goliatone/go-dapi"
)

func TestNewLoggerWritesStructuredJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := newLogger(buf, "TRACE", "json")

	dapi.WithLoggerFields(logger, map[string]any{"request_id": "req-42"}).Info("dispatched %s", "get_agent")
	logger.WithContext(context.Background()).Trace("trace line")

	logged := buf.String()
	require.NotEmpty(t, strings.TrimSpace(logged))
	assert.Contains(t, logged, "dispatched get_agent")
	assert.Contains(t, logged, "request_id")
	assert.Contains(t, logged, "trace line")
}

func TestNewLoggerHonorsLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := newLogger(buf, "warn", "console")

	logger.Debug("hidden")
	logger.Warn("visible")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "visible")
}

func TestGlogLoggerNilFallsBackToFmt(t *testing.T) {
	var l glogLogger
	assert.NotNil(t, l.WithContext(context.Background()))
	assert.NotNil(t, l.WithFields(map[string]any{"a": 1}))
}

func TestGlogLoggerFormatsArgsIntoMessage(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := newLogger(buf, "debug", "json")

	logger.Info("forwarding %s (request %s) to master %s", "add_agent", "req-7", "m1")
	logger.Warn("literal %d%% done")

	logged := buf.String()
	assert.Contains(t, logged, "forwarding add_agent (request req-7) to master m1")
	assert.Contains(t, logged, "literal %d%% done")
	assert.NotContains(t, logged, "!BADKEY")
}
