package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	dapi "github.com/goliatone/go-dapi"
	"github.com/goliatone/go-errors"
)

// Registry maps operation names to their descriptors. Registration happens
// at bootstrap; lookups are safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	operations map[string]dapi.Operation
}

// New creates a registry holding ops.
func New(ops ...dapi.Operation) (*Registry, error) {
	r := &Registry{operations: make(map[string]dapi.Operation)}
	if err := r.Register(ops...); err != nil {
		return nil, err
	}
	return r, nil
}

// MustNew is New that panics on registration errors.
func MustNew(ops ...dapi.Operation) *Registry {
	r, err := New(ops...)
	if err != nil {
		panic(err)
	}
	return r
}

// Register adds operations in order. Names must be unique and modes valid.
func (r *Registry) Register(ops ...dapi.Operation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, op := range ops {
		if op == nil {
			return errors.New("operation cannot be nil", errors.CategoryBadInput).
				WithTextCode("NIL_OPERATION")
		}

		spec := op.Spec()
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			return errors.New("operation name required", errors.CategoryBadInput).
				WithTextCode("OPERATION_NAME_REQUIRED")
		}

		if _, err := dapi.Classify(spec.Mode); err != nil {
			return err
		}

		if _, exists := r.operations[name]; exists {
			return errors.New(fmt.Sprintf("operation %q already registered", name), errors.CategoryConflict).
				WithTextCode("OPERATION_ALREADY_REGISTERED")
		}
		r.operations[name] = op
	}
	return nil
}

// Lookup returns the operation registered under name.
func (r *Registry) Lookup(name string) (dapi.Operation, error) {
	r.mu.RLock()
	op, ok := r.operations[name]
	r.mu.RUnlock()
	if !ok {
		return nil, dapi.NewError(dapi.ErrUnknownOperation,
			fmt.Sprintf("operation %q is not registered", name), nil,
			map[string]any{"operation": name})
	}
	return op, nil
}

// Resolve looks up name and checks args against its argument contract.
func (r *Registry) Resolve(name string, args dapi.Args) (dapi.Operation, error) {
	op, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	if err := dapi.ValidateArgs(op.Spec(), args); err != nil {
		return nil, err
	}
	return op, nil
}

// Specs returns the metadata of every operation sorted by name.
func (r *Registry) Specs() []dapi.OperationSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]dapi.OperationSpec, 0, len(r.operations))
	for _, op := range r.operations {
		out = append(out, op.Spec())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}

// Len returns the number of registered operations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.operations)
}
