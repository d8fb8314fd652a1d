package toolcall

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePrimaryFormat(t *testing.T) {
	call := Parse(`{"tool": {"name": "search", "args": {"query": "golang", "limit": 3}}}`)
	require.NotNil(t, call)
	assert.Equal(t, "search", call.Name)
	assert.Equal(t, "golang", call.Args["query"])
	assert.Equal(t, float64(3), call.Args["limit"])
}

func TestParseAlternateFormat(t *testing.T) {
	call := Parse(`{"tool_call": {"name": "fetch_url", "arguments": {"url": "https://example.com"}}}`)
	require.NotNil(t, call)
	assert.Equal(t, "fetch_url", call.Name)
	assert.Equal(t, "https://example.com", call.Args["url"])
}

func TestParsePrimaryFormatWins(t *testing.T) {
	// Both envelopes present: the first recognized shape is used.
	call := Parse(`{"tool": {"name": "first", "args": {}}, "tool_call": {"name": "second", "arguments": {}}}`)
	require.NotNil(t, call)
	assert.Equal(t, "first", call.Name)
}

func TestParseMissingArgs(t *testing.T) {
	call := Parse(`{"tool": {"name": "ping"}}`)
	require.NotNil(t, call)
	assert.Equal(t, "ping", call.Name)
	require.NotNil(t, call.Args)
	assert.Empty(t, call.Args)
}

func TestParseNullArgs(t *testing.T) {
	call := Parse(`{"tool": {"name": "ping", "args": null}}`)
	require.NotNil(t, call)
	assert.NotNil(t, call.Args)
	assert.Empty(t, call.Args)
}

func TestParseSurroundingWhitespace(t *testing.T) {
	call := Parse("  \n\t{\"tool\": {\"name\": \"echo\", \"args\": {\"msg\": \"hi\"}}}\n ")
	require.NotNil(t, call)
	assert.Equal(t, "echo", call.Name)
}

func TestParseRejectsNonMatches(t *testing.T) {
	cases := map[string]string{
		"empty string":         "",
		"whitespace only":      "   \n ",
		"plain prose":          "I will now search the web for you.",
		"not json":             "{tool: search}",
		"json array":           `[{"tool": {"name": "x"}}]`,
		"json string":          `"tool"`,
		"json number":          "42",
		"empty object":         "{}",
		"empty tool envelope":  `{"tool": {}}`,
		"missing name":         `{"tool": {"args": {"a": 1}}}`,
		"blank name":           `{"tool": {"name": "   ", "args": {}}}`,
		"name not a string":    `{"tool": {"name": 7, "args": {}}}`,
		"args not an object":   `{"tool": {"name": "x", "args": [1, 2]}}`,
		"args a string":        `{"tool": {"name": "x", "args": "run"}}`,
		"envelope not object":  `{"tool": "search"}`,
		"unrelated envelope":   `{"invoke": {"name": "x", "args": {}}}`,
	}

	for label, input := range cases {
		t.Run(label, func(t *testing.T) {
			assert.Nil(t, Parse(input))
		})
	}
}

func TestParseFallsThroughToAlternateFormat(t *testing.T) {
	// A malformed primary envelope does not abort parsing; the alternate
	// shape is tried independently on the same root object.
	call := Parse(`{"tool": {}, "tool_call": {"name": "fallback", "arguments": {"k": "v"}}}`)
	require.NotNil(t, call)
	assert.Equal(t, "fallback", call.Name)
	assert.Equal(t, "v", call.Args["k"])
}

func TestParseAlternateFormatMissingArguments(t *testing.T) {
	call := Parse(`{"tool_call": {"name": "status"}}`)
	require.NotNil(t, call)
	assert.Equal(t, "status", call.Name)
	assert.Empty(t, call.Args)
}
