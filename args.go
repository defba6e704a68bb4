package dapi

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Args is the keyword-argument mapping an operation is invoked with.
type Args map[string]any

// PruneArgs returns a deep copy of in with absent values removed. A value
// is absent when it is nil or a nil pointer, slice, map, interface or
// func. Nested maps are pruned recursively. Zero values such as 0, false
// or "" are kept since they are meaningful arguments.
func PruneArgs(in map[string]any) Args {
	out := make(Args, len(in))
	for k, v := range in {
		if isAbsent(v) {
			continue
		}
		out[k] = pruneValue(v)
	}
	return out
}

func pruneValue(v any) any {
	switch typed := v.(type) {
	case Args:
		return PruneArgs(typed)
	case map[string]any:
		return map[string]any(PruneArgs(typed))
	case []any:
		cp := make([]any, len(typed))
		for i, item := range typed {
			cp[i] = pruneValue(item)
		}
		return cp
	case []string:
		cp := make([]string, len(typed))
		copy(cp, typed)
		return cp
	default:
		return v
	}
}

func isAbsent(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Slice, reflect.Map, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// Clone returns a pruned deep copy of the mapping.
func (a Args) Clone() Args {
	return PruneArgs(a)
}

// Has reports whether key is present.
func (a Args) Has(key string) bool {
	_, ok := a[key]
	return ok
}

// Keys returns the argument names in sorted order.
func (a Args) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String returns the value for key as a string.
func (a Args) String(key string) (string, bool) {
	v, ok := a[key]
	if !ok {
		return "", false
	}
	switch typed := v.(type) {
	case string:
		return typed, true
	case fmt.Stringer:
		return typed.String(), true
	case int, int64, float64, bool:
		return fmt.Sprint(typed), true
	}
	return "", false
}

// Int returns the value for key as an int. Numeric strings and JSON
// decoded float64 values are accepted.
func (a Args) Int(key string) (int, bool) {
	v, ok := a[key]
	if !ok {
		return 0, false
	}
	switch typed := v.(type) {
	case int:
		return typed, true
	case int32:
		return int(typed), true
	case int64:
		return int(typed), true
	case float64:
		return int(typed), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(typed))
		return n, err == nil
	}
	return 0, false
}

// Bool returns the value for key as a bool.
func (a Args) Bool(key string) (bool, bool) {
	v, ok := a[key]
	if !ok {
		return false, false
	}
	switch typed := v.(type) {
	case bool:
		return typed, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(typed))
		return b, err == nil
	}
	return false, false
}

// Strings returns the value for key as a string slice. A single string is
// split on commas, matching how list parameters arrive from query strings.
func (a Args) Strings(key string) ([]string, bool) {
	v, ok := a[key]
	if !ok {
		return nil, false
	}
	switch typed := v.(type) {
	case []string:
		out := make([]string, len(typed))
		copy(out, typed)
		return out, true
	case []any:
		out := make([]string, 0, len(typed))
		for _, item := range typed {
			out = append(out, fmt.Sprint(item))
		}
		return out, true
	case string:
		if typed == "" {
			return []string{}, true
		}
		parts := strings.Split(typed, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, true
	}
	return nil, false
}

// Map returns a nested mapping for key.
func (a Args) Map(key string) (Args, bool) {
	v, ok := a[key]
	if !ok {
		return nil, false
	}
	switch typed := v.(type) {
	case Args:
		return typed, true
	case map[string]any:
		return Args(typed), true
	}
	return nil, false
}
