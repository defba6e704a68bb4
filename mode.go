package dapi

import (
	"strings"
)

// ExecutionMode declares where an operation must run.
type ExecutionMode string

const (
	// ModeLocalAny runs on the node that received the request and never
	// contacts the cluster.
	ModeLocalAny ExecutionMode = "local_any"
	// ModeLocalMaster runs on the master. Other nodes forward the call and
	// return the master's result unmodified.
	ModeLocalMaster ExecutionMode = "local_master"
	// ModeDistributedMaster is fanned out by the master to every connected
	// node and the per-node results are merged.
	ModeDistributedMaster ExecutionMode = "distributed_master"
)

func (m ExecutionMode) String() string { return string(m) }

// Modes returns the recognized execution modes.
func Modes() []ExecutionMode {
	return []ExecutionMode{ModeLocalAny, ModeLocalMaster, ModeDistributedMaster}
}

// ParseMode normalizes a textual mode. Both `local_master` and
// `local-master` spellings are accepted.
func ParseMode(s string) (ExecutionMode, error) {
	mode := ExecutionMode(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	if _, err := Classify(mode); err != nil {
		return "", err
	}
	return mode, nil
}

// Classification is the physical execution path for a mode.
type Classification struct {
	// RunLocally is set when the operation body executes in this process
	// once the request reached the right node.
	RunLocally bool
	// FanOutRequired is set when every connected node must run the
	// operation and results must be merged.
	FanOutRequired bool
	// MasterOnly is set when only the master may run (or initiate) the
	// operation.
	MasterOnly bool
}

// Classify maps an execution mode to its execution path. Unrecognized
// modes fail with a CONFIGURATION_ERROR before any work is done.
func Classify(mode ExecutionMode) (Classification, error) {
	switch mode {
	case ModeLocalAny:
		return Classification{RunLocally: true}, nil
	case ModeLocalMaster:
		return Classification{RunLocally: true, MasterOnly: true}, nil
	case ModeDistributedMaster:
		return Classification{FanOutRequired: true, MasterOnly: true}, nil
	default:
		return Classification{}, NewError(ErrConfiguration,
			"unrecognized execution mode", nil, map[string]any{
				"mode": string(mode),
			})
	}
}

// WaitPolicy controls whether the completion gate enforces a deadline.
type WaitPolicy int

const (
	// WaitBounded uses the configured default deadline.
	WaitBounded WaitPolicy = iota
	// WaitForComplete disables the timeout and waits until completion.
	WaitForComplete
)

func (w WaitPolicy) String() string {
	if w == WaitForComplete {
		return "wait_for_complete"
	}
	return "bounded"
}

// WaitPolicyFor returns WaitForComplete when waitForComplete is set.
func WaitPolicyFor(waitForComplete bool) WaitPolicy {
	if waitForComplete {
		return WaitForComplete
	}
	return WaitBounded
}
