package dapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAffectedItemsGroupsFailures(t *testing.T) {
	notFound := NewError(ErrUnknownOperation, "agent does not exist", nil, nil)

	items := NewAffectedItems("restart")
	items.AddAffected("001", "002")
	items.AddFailed("009", notFound)
	items.AddFailed("003", notFound)
	items.AddFailed("004", NewError(ErrLocalExecution, "agent is not active", nil, nil))
	items.AddFailed("005", nil)

	assert.Equal(t, 2, items.TotalAffectedItems)
	assert.Equal(t, 3, items.TotalFailedItems)
	assert.Len(t, items.FailedItems, 2)
	assert.Equal(t, []string{"003", "009"}, items.FailedItems[0].IDs)
	assert.Equal(t, ErrCodeUnknownOperation, items.FailedItems[0].Error.Code)
}

func TestAffectedItemsMerge(t *testing.T) {
	a := NewAffectedItems("")
	a.AddAffected("001")
	a.AddFailed("010", NewError(ErrLocalExecution, "offline", nil, nil))

	b := NewAffectedItems("restarted")
	b.AddAffected("002")
	b.AddFailed("007", NewError(ErrLocalExecution, "offline", nil, nil))
	b.AddFailed("008", NewError(ErrTimeout, "slow", nil, nil))

	a.Merge(*b)
	assert.Equal(t, []any{"001", "002"}, a.AffectedItems)
	assert.Equal(t, 2, a.TotalAffectedItems)
	assert.Equal(t, 3, a.TotalFailedItems)
	assert.Len(t, a.FailedItems, 2)
	assert.Equal(t, []string{"007", "010"}, a.FailedItems[0].IDs)
	assert.Equal(t, "restarted", a.Message)
}
