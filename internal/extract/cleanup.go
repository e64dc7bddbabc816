// Package extract implements AI-driven structured extraction: payload
// composition under a token budget, the chat call to the model endpoint,
// and tolerant parsing of whatever the model sends back.
package extract

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrUnparsableJSON is returned when every cleanup strategy failed.
var ErrUnparsableJSON = errors.New("model response contains no parsable JSON")

var greedyObjectRe = regexp.MustCompile(`\{[\s\S]*\}`)

// CleanJSON recovers a JSON value from model output. Strategies are tried
// in order: direct parse, fence stripping, an escape-aware brace walker,
// and a greedy regex as the last resort. The name of the strategy that
// succeeded is returned for debuggability.
func CleanJSON(raw string) (json.RawMessage, string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, "", ErrUnparsableJSON
	}

	if msg, ok := tryParse(trimmed); ok {
		return msg, "direct", nil
	}

	if unfenced := stripFences(trimmed); unfenced != trimmed {
		if msg, ok := tryParse(unfenced); ok {
			return msg, "fences", nil
		}
		// Later strategies work better on the unfenced text.
		trimmed = unfenced
	}

	if walked, ok := walkBraces(trimmed); ok {
		if msg, ok := tryParse(walked); ok {
			return msg, "brace_walker", nil
		}
	}

	if match := greedyObjectRe.FindString(trimmed); match != "" {
		if msg, ok := tryParse(match); ok {
			return msg, "greedy_regex", nil
		}
	}

	return nil, "", ErrUnparsableJSON
}

func tryParse(s string) (json.RawMessage, bool) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	switch v.(type) {
	case map[string]any, []any:
		return json.RawMessage(s), true
	default:
		return nil, false
	}
}

// stripFences removes a leading ```json (or bare ```) fence and the
// matching trailing fence.
func stripFences(s string) string {
	out := s
	if strings.HasPrefix(out, "```json") {
		out = out[len("```json"):]
	} else if strings.HasPrefix(out, "```") {
		out = out[len("```"):]
	} else {
		return s
	}
	out = strings.TrimLeft(out, "\r\n")
	if idx := strings.LastIndex(out, "```"); idx >= 0 {
		out = out[:idx]
	}
	return strings.TrimSpace(out)
}

// walkBraces finds the first '{' and walks forward tracking brace depth,
// honoring string state and backslash escapes, returning the substring
// through the matching '}'. Only the outermost object is extracted.
func walkBraces(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1], true
				}
			}
		}
	}
	return "", false
}
