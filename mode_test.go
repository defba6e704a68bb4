package dapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		mode ExecutionMode
		want Classification
	}{
		{ModeLocalAny, Classification{RunLocally: true}},
		{ModeLocalMaster, Classification{RunLocally: true, MasterOnly: true}},
		{ModeDistributedMaster, Classification{FanOutRequired: true, MasterOnly: true}},
	}
	for _, tc := range cases {
		t.Run(string(tc.mode), func(t *testing.T) {
			got, err := Classify(tc.mode)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestClassifyRejectsUnknownModes(t *testing.T) {
	for _, mode := range []ExecutionMode{"", "remote", "LOCAL_ANY"} {
		_, err := Classify(mode)
		require.Error(t, err)
		assert.True(t, HasCode(err, ErrCodeConfiguration), string(mode))
	}
}

func TestParseMode(t *testing.T) {
	mode, err := ParseMode(" Local-Master ")
	require.NoError(t, err)
	assert.Equal(t, ModeLocalMaster, mode)

	_, err = ParseMode("everywhere")
	assert.True(t, HasCode(err, ErrCodeConfiguration))
}

func TestWaitPolicyFor(t *testing.T) {
	assert.Equal(t, WaitForComplete, WaitPolicyFor(true))
	assert.Equal(t, WaitBounded, WaitPolicyFor(false))
	assert.Equal(t, "wait_for_complete", WaitForComplete.String())
}
