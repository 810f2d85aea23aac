// Package jsonx extracts JSON values from free-form LLM output.
//
// Model responses rarely arrive as clean JSON: they come wrapped in prose,
// fenced code blocks, or both. Parse tries three independent extraction
// tiers in order and returns the first that yields a valid value:
//
//  1. parse the trimmed response directly;
//  2. parse the contents of the first fenced code block;
//  3. parse the substring between the first '{' or '[' and the last
//     matching '}' or ']'.
//
// A response that defeats all three tiers returns nil rather than an
// error: callers treat unparseable output as a skippable failure, not a
// fault.
package jsonx

import (
	"encoding/json"
	"strings"
)

// Parse extracts a JSON object or array from llmOutput.
// Returns nil when no tier produces valid JSON.
func Parse(llmOutput string) any {
	text := strings.TrimSpace(llmOutput)
	if text == "" {
		return nil
	}

	// Tier 1: the response is already valid JSON.
	if v := tryParse(text); v != nil {
		return v
	}

	// Tier 2: first fenced code block.
	if fenced, ok := extractFence(text); ok {
		if v := tryParse(fenced); v != nil {
			return v
		}
	}

	// Tier 3: outermost bracket span.
	if span, ok := extractSpan(text); ok {
		if v := tryParse(span); v != nil {
			return v
		}
	}

	return nil
}

// ParseArray extracts a JSON array, wrapping a lone object into a
// single-element array. Returns nil when nothing parses.
func ParseArray(llmOutput string) []any {
	switch v := Parse(llmOutput).(type) {
	case []any:
		return v
	case map[string]any:
		return []any{v}
	default:
		return nil
	}
}

func tryParse(text string) any {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil
	}
	switch v.(type) {
	case map[string]any, []any:
		return v
	}
	// Scalars are never useful as structured LLM output.
	return nil
}

// extractFence returns the body of the first ``` fenced block, tolerating
// an optional language tag on the opening fence.
func extractFence(text string) (string, bool) {
	start := strings.Index(text, "```")
	if start == -1 {
		return "", false
	}
	rest := text[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl != -1 {
		// Drop the language tag line ("json", "JSON", or empty).
		tag := strings.TrimSpace(rest[:nl])
		if len(tag) <= 8 && !strings.ContainsAny(tag, "{}[]") {
			rest = rest[nl+1:]
		}
	}
	end := strings.Index(rest, "```")
	if end == -1 {
		return strings.TrimSpace(rest), true
	}
	return strings.TrimSpace(rest[:end]), true
}

// extractSpan returns the substring from the first opening bracket to the
// last matching closing bracket.
func extractSpan(text string) (string, bool) {
	firstSquare := strings.IndexByte(text, '[')
	firstCurly := strings.IndexByte(text, '{')

	start := -1
	closing := byte('}')
	switch {
	case firstSquare != -1 && (firstCurly == -1 || firstSquare < firstCurly):
		start, closing = firstSquare, ']'
	case firstCurly != -1:
		start = firstCurly
	default:
		return "", false
	}

	end := strings.LastIndexByte(text, closing)
	if end == -1 || end < start {
		return "", false
	}
	return text[start : end+1], true
}
