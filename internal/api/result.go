package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Field is one top-level member of a JSON object.
type Field struct {
	Name  string
	Value json.RawMessage
}

// Text renders the value for display: strings unquoted, null empty,
// everything else as indented JSON.
func (f Field) Text() string {
	v := bytes.TrimSpace(f.Value)
	if len(v) == 0 || string(v) == "null" {
		return ""
	}
	if v[0] == '"' {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			return s
		}
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, v, "", "  "); err != nil {
		return string(v)
	}
	return buf.String()
}

// Result is a JSON object with its members in document order.
type Result struct {
	Fields []Field
	Raw    json.RawMessage
}

// Visible returns the fields whose names do not start with "@".
// Names like "@odata.context" are protocol metadata.
func (r *Result) Visible() []Field {
	out := make([]Field, 0, len(r.Fields))
	for _, f := range r.Fields {
		if !strings.HasPrefix(f.Name, "@") {
			out = append(out, f)
		}
	}
	return out
}

// Parse decodes a JSON object keeping member order. Anything other than a
// single object is an error.
func Parse(data []byte) (*Result, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("malformed JSON response: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected a JSON object, got %s", describeToken(tok))
	}

	res := &Result{Raw: json.RawMessage(bytes.TrimSpace(data))}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("malformed JSON response: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("malformed JSON response: unexpected %v", keyTok)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("malformed JSON response at %q: %w", key, err)
		}
		res.Fields = append(res.Fields, Field{Name: key, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("malformed JSON response: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("malformed JSON response: trailing data after object")
	}
	return res, nil
}

func describeToken(tok json.Token) string {
	switch tok.(type) {
	case json.Delim:
		return "an array"
	case string:
		return "a string"
	case float64:
		return "a number"
	case bool:
		return "a boolean"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", tok)
	}
}

// FieldSink receives displayed fields.
type FieldSink interface {
	Field(name, value string)
}

type writerSink struct{ w io.Writer }

func (s writerSink) Field(name, value string) { fmt.Fprintf(s.w, "%s = %s\n", name, value) }

// Display returns a result callback that prints "name = value" for every
// visible field.
func Display(w io.Writer) func(*Result) error {
	return DisplayTo(writerSink{w: w})
}

// DisplayTo is Display for any FieldSink, such as the styled console.
func DisplayTo(sink FieldSink) func(*Result) error {
	return func(r *Result) error {
		for _, f := range r.Visible() {
			sink.Field(f.Name, f.Text())
		}
		return nil
	}
}
