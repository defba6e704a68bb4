package cluster

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	dapi "github.com/goliatone/go-dapi"
)

// Merge is the default fan-out merge. Payloads are compared in their
// JSON shape and combined per node id order:
//   - a single payload is returned unchanged
//   - lists are concatenated
//   - numbers are summed, as int64 while every operand is integral
//   - objects are merged key by key with the same rules
//   - equal scalars collapse to one value
//   - anything else is keyed by node id
//
// Merge is a dapi.MergeFunc.
func Merge(results []dapi.NodeResult) (any, error) {
	var ok []dapi.NodeResult
	for _, r := range results {
		if r.OK {
			ok = append(ok, r)
		}
	}
	switch len(ok) {
	case 0:
		return nil, nil
	case 1:
		return ok[0].Payload, nil
	}

	values := make([]nodeValue, 0, len(ok))
	for _, r := range ok {
		if r.Payload == nil {
			continue
		}
		v, err := normalize(r.Payload)
		if err != nil {
			return nil, dapi.NewError(dapi.ErrMerge,
				fmt.Sprintf("payload from node %s is not serializable", r.Node.ID), err,
				map[string]any{"node": r.Node.ID})
		}
		values = append(values, nodeValue{node: r.Node.ID, value: v})
	}
	if len(values) == 0 {
		return nil, nil
	}
	return mergeValues(values), nil
}

// MergeAffectedItems merges payloads shaped as dapi.AffectedItems,
// grouping failures that share an error across nodes.
func MergeAffectedItems(results []dapi.NodeResult) (any, error) {
	out := dapi.NewAffectedItems("")
	for _, r := range results {
		if !r.OK || r.Payload == nil {
			continue
		}
		var items dapi.AffectedItems
		raw, err := json.Marshal(r.Payload)
		if err == nil {
			err = json.Unmarshal(raw, &items)
		}
		if err != nil {
			return nil, dapi.NewError(dapi.ErrMerge,
				fmt.Sprintf("payload from node %s is not an affected items result", r.Node.ID), err,
				map[string]any{"node": r.Node.ID})
		}
		out.Merge(items)
	}
	return out, nil
}

type nodeValue struct {
	node  string
	value any
}

func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return numbers(out), nil
}

// numbers replaces json.Number leaves with int64 when integral and
// float64 otherwise.
func numbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case []any:
		for i := range t {
			t[i] = numbers(t[i])
		}
	case map[string]any:
		for k, item := range t {
			t[k] = numbers(item)
		}
	}
	return v
}

func mergeValues(values []nodeValue) any {
	if len(values) == 1 {
		return values[0].value
	}

	switch {
	case all[[]any](values):
		out := []any{}
		for _, v := range values {
			out = append(out, v.value.([]any)...)
		}
		return out

	case all[int64](values):
		var sum int64
		for _, v := range values {
			sum += v.value.(int64)
		}
		return sum

	case allNumbers(values):
		var sum float64
		for _, v := range values {
			switch n := v.value.(type) {
			case int64:
				sum += float64(n)
			case float64:
				sum += n
			}
		}
		return sum

	case all[map[string]any](values):
		keys := map[string]struct{}{}
		for _, v := range values {
			for k := range v.value.(map[string]any) {
				keys[k] = struct{}{}
			}
		}
		ordered := make([]string, 0, len(keys))
		for k := range keys {
			ordered = append(ordered, k)
		}
		sort.Strings(ordered)

		out := make(map[string]any, len(ordered))
		for _, k := range ordered {
			var sub []nodeValue
			for _, v := range values {
				if item, ok := v.value.(map[string]any)[k]; ok {
					sub = append(sub, nodeValue{node: v.node, value: item})
				}
			}
			out[k] = mergeValues(sub)
		}
		return out

	case allEqual(values):
		return values[0].value
	}

	byNode := make(map[string]any, len(values))
	for _, v := range values {
		byNode[v.node] = v.value
	}
	return byNode
}

func all[T any](values []nodeValue) bool {
	for _, v := range values {
		if _, ok := v.value.(T); !ok {
			return false
		}
	}
	return true
}

func allNumbers(values []nodeValue) bool {
	for _, v := range values {
		switch v.value.(type) {
		case int64, float64:
		default:
			return false
		}
	}
	return true
}

func allEqual(values []nodeValue) bool {
	for _, v := range values[1:] {
		if !reflect.DeepEqual(v.value, values[0].value) {
			return false
		}
	}
	return true
}
