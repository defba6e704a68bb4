package dapi

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeOutcome(t *testing.T) {
	req := NewRequest("get_agent", nil, ModeLocalAny, WithPretty(true))

	env := NormalizeOutcome(req, Outcome{Value: map[string]any{"id": "001"}})
	assert.Equal(t, StatusOK, env.Status)
	assert.Equal(t, req.ID, env.RequestID)
	assert.Equal(t, "get_agent", env.Operation)
	assert.True(t, env.Pretty)
	assert.Nil(t, env.Error)

	env = NormalizeOutcome(req, Outcome{Err: &ErrorDetail{Code: ErrCodeLocalExecution, Message: "boom"}})
	assert.Equal(t, StatusError, env.Status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "boom", env.Error.Message)
	assert.Nil(t, env.Data)
}

func TestNormalizeErrorTimeout(t *testing.T) {
	req := NewRequest("restart_agents", nil, ModeDistributedMaster)

	env := NormalizeError(req, NewError(ErrTimeout, "deadline exceeded", nil, nil))
	assert.Equal(t, StatusTimeout, env.Status)
	assert.Equal(t, ErrCodeTimeout, env.Error.Code)

	env = NormalizeError(req, errors.New("plain"))
	assert.Equal(t, StatusError, env.Status)
	assert.Equal(t, ErrCodeLocalExecution, env.Error.Code)
	assert.Equal(t, "plain", env.Error.Message)
}

func TestNormalizeNodeResultsPartialSuccess(t *testing.T) {
	req := NewRequest("restart_agents", nil, ModeDistributedMaster)
	results := []NodeResult{
		{Node: Node{ID: "a"}, OK: true, Payload: 1},
		{Node: Node{ID: "b"}, Error: &ErrorDetail{Code: ErrCodeNodeUnreachable, Message: "down"}},
		{Node: Node{ID: "c"}},
	}
	sum := func(rs []NodeResult) (any, error) { return len(rs), nil }

	env := NormalizeNodeResults(req, results, sum)
	assert.Equal(t, StatusOK, env.Status)
	assert.True(t, env.Partial())
	assert.Equal(t, 1, env.Data)
	assert.Equal(t, []string{"b", "c"}, env.FailedNodes())
	assert.Equal(t, ErrCodeNodeUnreachable, env.Failures[0].Code)
	assert.Equal(t, ErrCodeNodeExecution, env.Failures[1].Code)
}

func TestNormalizeNodeResultsAllFailed(t *testing.T) {
	req := NewRequest("restart_agents", nil, ModeDistributedMaster)

	env := NormalizeNodeResults(req, nil, nil)
	assert.Equal(t, StatusError, env.Status)
	assert.Equal(t, ErrCodeNodeUnreachable, env.Error.Code)

	env = NormalizeNodeResults(req, []NodeResult{{Node: Node{ID: "a"}}}, nil)
	assert.Equal(t, ErrCodeNodeExecution, env.Error.Code)
	assert.Len(t, env.Failures, 1)
}

func TestNormalizeNodeResultsMergeError(t *testing.T) {
	req := NewRequest("get_config", nil, ModeDistributedMaster)
	failing := func([]NodeResult) (any, error) {
		return nil, NewError(ErrMerge, "incompatible payloads", nil, nil)
	}

	env := NormalizeNodeResults(req, []NodeResult{{Node: Node{ID: "a"}, OK: true}}, failing)
	assert.Equal(t, StatusError, env.Status)
	assert.Equal(t, ErrCodeMerge, env.Error.Code)
}

func TestEnvelopeRender(t *testing.T) {
	env := Envelope{Status: StatusOK, Operation: "op", Data: map[string]any{"a": 1}}

	compact, err := env.Render()
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok","operation":"op","data":{"a":1}}`, string(compact))
	assert.NotContains(t, string(compact), "\n")

	env.Pretty = true
	pretty, err := env.Render()
	require.NoError(t, err)
	assert.Contains(t, string(pretty), "\n    ")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(pretty, &decoded))
	assert.NotContains(t, decoded, "pretty")
}
