// Package toolcall extracts tool invocations from planner output.
//
// Planner responses are free-form text that may or may not carry a JSON
// tool request. Two wire shapes are recognized, tried in order:
//
//	{"tool": {"name": "...", "args": {...}}}
//	{"tool_call": {"name": "...", "arguments": {...}}}
//
// Parsing is total: any input that does not match a known shape yields
// no call, never an error.
package toolcall

import (
	"encoding/json"
	"strings"
)

// ToolCall is a normalized tool invocation request.
type ToolCall struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

// shapeMatcher attempts to read one wire shape out of a decoded payload.
// It returns nil when the payload does not carry that shape.
type shapeMatcher func(payload map[string]json.RawMessage) *ToolCall

// matchers are tried in declaration order; the first hit wins.
var matchers = []shapeMatcher{
	matchEnvelope("tool", "args"),
	matchEnvelope("tool_call", "arguments"),
}

// matchEnvelope builds a matcher for a payload of the form
// {<envelopeKey>: {"name": ..., <argsKey>: ...}}.
func matchEnvelope(envelopeKey, argsKey string) shapeMatcher {
	return func(payload map[string]json.RawMessage) *ToolCall {
		raw, ok := payload[envelopeKey]
		if !ok {
			return nil
		}

		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil
		}

		var name string
		if nameRaw, ok := fields["name"]; ok {
			if err := json.Unmarshal(nameRaw, &name); err != nil {
				return nil
			}
		}

		name = strings.TrimSpace(name)
		if name == "" {
			return nil
		}

		args, ok := decodeArgs(fields[argsKey])
		if !ok {
			return nil
		}

		return &ToolCall{Name: name, Args: args}
	}
}

// decodeArgs normalizes the args field. Absent and JSON null both mean
// "no arguments". A present non-object value disqualifies the shape.
func decodeArgs(raw json.RawMessage) (map[string]interface{}, bool) {
	if len(raw) == 0 {
		return map[string]interface{}{}, true
	}

	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "null" {
		return map[string]interface{}{}, true
	}

	var args map[string]interface{}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, false
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	return args, true
}

// Parse inspects a planner response and extracts the first recognized
// tool invocation. It returns nil when the text is not JSON, is not a
// JSON object, or matches no known shape.
func Parse(response string) *ToolCall {
	trimmed := strings.TrimSpace(response)
	if trimmed == "" {
		return nil
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
		return nil
	}

	for _, match := range matchers {
		if call := match(payload); call != nil {
			return call
		}
	}
	return nil
}
