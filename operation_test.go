package dapi

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefineDefaultsToLocalAny(t *testing.T) {
	op := Define(OperationSpec{Name: "ping"}, func(context.Context, Args) (any, error) {
		return "pong", nil
	})
	assert.Equal(t, ModeLocalAny, op.Spec().Mode)

	v, err := op.Invoke(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "pong", v)
}

func TestDefineAsyncReturnsFuture(t *testing.T) {
	op := DefineAsync(OperationSpec{Name: "slow"}, func(context.Context, Args) *Future {
		return Resolved(42)
	})
	assert.True(t, op.Spec().Async)

	v, err := op.Invoke(context.Background(), nil)
	require.NoError(t, err)
	f, ok := v.(*Future)
	require.True(t, ok)
	got, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestValidateArgs(t *testing.T) {
	spec := OperationSpec{
		Name: "get_agent",
		Args: []ArgSpec{{Name: "agent_id", Required: true}, {Name: "select"}},
	}

	assert.NoError(t, ValidateArgs(spec, Args{"agent_id": "001"}))

	err := ValidateArgs(spec, Args{"select": "name", "bogus": 1})
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeInvalidArguments))
	detail := DetailFromError(err, "")
	assert.Contains(t, detail.Message, "missing required: agent_id")
	assert.Contains(t, detail.Message, "unknown: bogus")
	assert.Equal(t, []string{"agent_id"}, detail.Metadata["missing"])

	spec.AllowUnknownArgs = true
	assert.NoError(t, ValidateArgs(spec, Args{"agent_id": "001", "bogus": 1}))
	assert.Equal(t, []string{"agent_id", "select"}, spec.ArgNames())
}
