package dapi

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewErrorClonesSentinel(t *testing.T) {
	source := errors.New("connection refused")
	err := NewError(ErrNodeUnreachable, "node b is not reachable", source, map[string]any{"node": "b"})

	assert.Equal(t, ErrCodeNodeUnreachable, ErrorCode(err))
	assert.Equal(t, "node unreachable", ErrNodeUnreachable.Message)
	assert.Nil(t, ErrNodeUnreachable.Metadata)

	detail := DetailFromError(fmt.Errorf("wrapped: %w", err), ErrCodeLocalExecution)
	require.NotNil(t, detail)
	assert.Equal(t, ErrCodeNodeUnreachable, detail.Code)
	assert.Equal(t, "node b is not reachable: connection refused", detail.Message)
	assert.Equal(t, "b", detail.Metadata["node"])
}

func TestNewErrorNilBase(t *testing.T) {
	err := NewError(nil, "", nil, nil)
	assert.True(t, HasCode(err, ErrCodeLocalExecution))
}

func TestDetailFromError(t *testing.T) {
	assert.Nil(t, DetailFromError(nil, ErrCodeMerge))

	detail := DetailFromError(errors.New("plain"), ErrCodeMerge)
	assert.Equal(t, &ErrorDetail{Code: ErrCodeMerge, Message: "plain"}, detail)

	orig := &ErrorDetail{Code: ErrCodeTimeout, Message: "slow", Node: "c"}
	detail = DetailFromError(orig, ErrCodeMerge)
	assert.Equal(t, orig, detail)
	assert.NotSame(t, orig, detail)
	assert.Equal(t, "TIMEOUT: slow (node c)", orig.Error())
}

func TestHasCode(t *testing.T) {
	assert.False(t, HasCode(nil, ErrCodeTimeout))
	assert.False(t, HasCode(errors.New("x"), ErrCodeTimeout))
	assert.True(t, HasCode(NewError(ErrTimeout, "late", nil, nil), ErrCodeTimeout))
}
