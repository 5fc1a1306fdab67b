package output

import (
	"errors"
	"fmt"

	"github.com/itchyny/gojq"
)

// ApplyJQ runs a jq expression against normalized JSON data and collects
// every emitted value.
func ApplyJQ(expr string, data any) ([]any, error) {
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, ErrUsageHint(fmt.Sprintf("invalid --jq expression: %v", err), "See https://jqlang.org/manual/")
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, ErrUsage(fmt.Sprintf("invalid --jq expression: %v", err))
	}

	// gojq only accepts plain JSON types.
	if maps, ok := data.([]map[string]any); ok {
		items := make([]any, len(maps))
		for i, m := range maps {
			items[i] = m
		}
		data = items
	}

	var results []any
	iter := code.Run(data)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, ok := v.(error); ok {
			var halt *gojq.HaltError
			if errors.As(err, &halt) && halt.Value() == nil {
				break
			}
			return nil, ErrUsage(fmt.Sprintf("--jq: %v", err))
		}
		results = append(results, v)
	}
	return results, nil
}
