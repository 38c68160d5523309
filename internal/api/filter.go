package api

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/itchyny/gojq"
)

// Filter reshapes results with a jq query before display.
type Filter struct {
	query string
	code  *gojq.Code
}

// NewFilter compiles query. An empty query yields a nil filter.
func NewFilter(query string) (*Filter, error) {
	if query == "" {
		return nil, nil
	}
	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, fmt.Errorf("invalid query %q: %w", query, err)
	}
	code, err := gojq.Compile(parsed)
	if err != nil {
		return nil, fmt.Errorf("invalid query %q: %w", query, err)
	}
	return &Filter{query: query, code: code}, nil
}

// String returns the query text.
func (f *Filter) String() string { return f.query }

// Apply runs the query over r. A single object output keeps the object shape
// with keys sorted; any other output is reported as "result" fields.
func (f *Filter) Apply(ctx context.Context, r *Result) (*Result, error) {
	var input any
	if err := json.Unmarshal(r.Raw, &input); err != nil {
		return nil, fmt.Errorf("query input: %w", err)
	}

	var outputs []any
	iter := f.code.RunWithContext(ctx, input)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, ok := v.(error); ok {
			if herr, ok := err.(*gojq.HaltError); ok && herr.Value() == nil {
				break
			}
			return nil, fmt.Errorf("query %q: %w", f.query, err)
		}
		outputs = append(outputs, v)
	}

	if len(outputs) == 1 {
		if obj, ok := outputs[0].(map[string]any); ok {
			return objectResult(obj)
		}
	}

	out := &Result{}
	for i, v := range outputs {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("query %q: %w", f.query, err)
		}
		name := "result"
		if len(outputs) > 1 {
			name = fmt.Sprintf("result[%d]", i)
		}
		out.Fields = append(out.Fields, Field{Name: name, Value: data})
	}
	raw, err := json.Marshal(outputs)
	if err != nil {
		return nil, err
	}
	out.Raw = raw
	return out, nil
}

// Then chains the filter in front of a result callback. A nil filter is a no-op.
func (f *Filter) Then(ctx context.Context, next func(*Result) error) func(*Result) error {
	if f == nil {
		return next
	}
	return func(r *Result) error {
		filtered, err := f.Apply(ctx, r)
		if err != nil {
			return err
		}
		return next(filtered)
	}
}

func objectResult(obj map[string]any) (*Result, error) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	out := &Result{Raw: raw}
	for _, k := range keys {
		data, err := json.Marshal(obj[k])
		if err != nil {
			return nil, err
		}
		out.Fields = append(out.Fields, Field{Name: k, Value: data})
	}
	return out, nil
}
