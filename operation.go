package dapi

import (
	"context"
	"sort"
	"strings"
)

// ArgSpec declares one argument accepted by an operation.
type ArgSpec struct {
	Name        string `json:"name"`
	Required    bool   `json:"required,omitempty"`
	Description string `json:"description,omitempty"`
}

// MergeFunc combines the successful payloads of a fan-out, ordered by
// node ID. It is only consulted for distributed operations.
type MergeFunc func(results []NodeResult) (any, error)

// OperationSpec is the static metadata of an operation.
type OperationSpec struct {
	Name    string        `json:"name"`
	Mode    ExecutionMode `json:"mode"`
	Args    []ArgSpec     `json:"args,omitempty"`
	Async   bool          `json:"async,omitempty"`
	Summary string        `json:"summary,omitempty"`
	// AllowUnknownArgs disables rejection of arguments not declared in Args.
	AllowUnknownArgs bool      `json:"allow_unknown_args,omitempty"`
	Merge            MergeFunc `json:"-"`
}

// ArgNames returns the declared argument names, sorted.
func (s OperationSpec) ArgNames() []string {
	names := make([]string, 0, len(s.Args))
	for _, a := range s.Args {
		names = append(names, a.Name)
	}
	sort.Strings(names)
	return names
}

// Operation is a named unit of work the dispatcher can execute.
type Operation interface {
	Spec() OperationSpec
	Invoke(ctx context.Context, args Args) (any, error)
}

// OperationFunc is an adapter to use a function as an operation body.
type OperationFunc func(ctx context.Context, args Args) (any, error)

type definedOperation struct {
	spec OperationSpec
	fn   OperationFunc
}

func (d *definedOperation) Spec() OperationSpec { return d.spec }

func (d *definedOperation) Invoke(ctx context.Context, args Args) (any, error) {
	return d.fn(ctx, args)
}

// Define builds an operation descriptor from a spec and a body.
func Define(spec OperationSpec, fn OperationFunc) Operation {
	if spec.Mode == "" {
		spec.Mode = ModeLocalAny
	}
	return &definedOperation{spec: spec, fn: fn}
}

// DefineQuery builds an operation from a typed body.
func DefineQuery[R any](spec OperationSpec, fn func(ctx context.Context, args Args) (R, error)) Operation {
	return Define(spec, func(ctx context.Context, args Args) (any, error) {
		return fn(ctx, args)
	})
}

// DefineAsync builds an operation whose body yields a pending computation.
// The local executor awaits the returned future.
func DefineAsync(spec OperationSpec, fn func(ctx context.Context, args Args) *Future) Operation {
	spec.Async = true
	return Define(spec, func(ctx context.Context, args Args) (any, error) {
		return fn(ctx, args), nil
	})
}

// ValidateArgs enforces the argument-name contract of spec.
func ValidateArgs(spec OperationSpec, args Args) error {
	var missing []string
	declared := make(map[string]struct{}, len(spec.Args))
	for _, a := range spec.Args {
		declared[a.Name] = struct{}{}
		if a.Required && !args.Has(a.Name) {
			missing = append(missing, a.Name)
		}
	}

	var unknown []string
	if !spec.AllowUnknownArgs {
		for _, k := range args.Keys() {
			if _, ok := declared[k]; !ok {
				unknown = append(unknown, k)
			}
		}
	}

	if len(missing) == 0 && len(unknown) == 0 {
		return nil
	}

	var parts []string
	meta := map[string]any{"operation": spec.Name}
	if len(missing) > 0 {
		sort.Strings(missing)
		parts = append(parts, "missing required: "+strings.Join(missing, ", "))
		meta["missing"] = missing
	}
	if len(unknown) > 0 {
		parts = append(parts, "unknown: "+strings.Join(unknown, ", "))
		meta["unknown"] = unknown
	}

	return NewError(ErrInvalidArguments,
		"invalid arguments for "+spec.Name+" ("+strings.Join(parts, "; ")+")",
		nil, meta)
}
