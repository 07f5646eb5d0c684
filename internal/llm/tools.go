package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

const ToolTypeFunction = "function"

// ErrInvalidArguments is returned when tool-call arguments are not a JSON object.
var ErrInvalidArguments = errors.New("invalid tool arguments")

// Tool is a function definition offered to the model.
type Tool struct {
	Type     string   `json:"type"`
	Function Function `json:"function"`
}

type Function struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

// ParseArguments normalizes raw arguments into a structured object. Both an encoded
// object (`{"a":1}`) and a string wrapping one (`"{\"a\":1}"`) are accepted; empty input
// yields an empty map.
func ParseArguments(raw json.RawMessage) (map[string]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return map[string]any{}, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
		}
		return ParseArguments(json.RawMessage(s))
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// rawArguments converts a provider's argument string into a RawMessage, keeping valid JSON
// as-is and quoting anything else so ParseArguments reports it.
func rawArguments(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	b, _ := json.Marshal(s)
	return b
}

// argumentString is the inverse of rawArguments for providers that expect a string.
func argumentString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "{}"
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}
