package gojob

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/goliatone/go-connectors/core"
	glog "github.com/goliatone/go-logger/glog"
)

func nopLogger() core.Logger {
	return glog.Nop()
}

func stringParam(params map[string]any, key string) string {
	value, _ := params[key].(string)
	return strings.TrimSpace(value)
}

func toInt64(raw any) (int64, error) {
	switch typed := raw.(type) {
	case nil:
		return 0, nil
	case int:
		return int64(typed), nil
	case int32:
		return int64(typed), nil
	case int64:
		return typed, nil
	case float64:
		if typed != math.Trunc(typed) {
			return 0, fmt.Errorf("expected a whole number, got %v", typed)
		}
		return int64(typed), nil
	case json.Number:
		return typed.Int64()
	default:
		return 0, fmt.Errorf("expected a number, got %T", raw)
	}
}

// orderedValues rebuilds Values from a map and its recorded key order. Keys
// missing from the order follow in sorted order.
func orderedValues(rawMap any, rawKeys any) core.Values {
	items, _ := rawMap.(map[string]any)
	if len(items) == 0 {
		return core.Values{}
	}
	var keys []string
	switch typed := rawKeys.(type) {
	case []string:
		keys = typed
	case []any:
		for _, key := range typed {
			if s, ok := key.(string); ok {
				keys = append(keys, s)
			}
		}
	}
	out := core.Values{}
	seen := make(map[string]bool, len(items))
	for _, key := range keys {
		if value, ok := items[key]; ok && !seen[key] {
			out = out.With(key, value)
			seen[key] = true
		}
	}
	for _, key := range core.ValuesFromMap(items).Keys() {
		if !seen[key] {
			out = out.With(key, items[key])
		}
	}
	return out
}
