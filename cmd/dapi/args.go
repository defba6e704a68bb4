package main

import (
	"encoding/json"
	"fmt"
	"strings"

	dapi "github.com/goliatone/go-dapi"
)

// parseArgs turns key=value pairs into request arguments. Values that are
// valid JSON are decoded, anything else is kept as a string. Repeating a
// key collects its values into a list.
func parseArgs(pairs []string) (map[string]any, error) {
	args := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, dapi.NewError(dapi.ErrInvalidArguments,
				fmt.Sprintf("argument %q must have the form key=value", pair), nil,
				map[string]any{"argument": pair})
		}

		value := decodeValue(raw)
		if prev, exists := args[key]; exists {
			list, isList := prev.([]any)
			if !isList {
				list = []any{prev}
			}
			value = append(list, value)
		}
		args[key] = value
	}
	return args, nil
}

func decodeValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}
