// Package jsonx extracts JSON-shaped answers from raw model output. Models
// regularly wrap JSON in prose or markdown fences; callers need the first
// balanced object, parsed tolerantly.
package jsonx

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// FirstObject returns the first balanced top-level JSON object found inside
// text, stripping markdown code fences first. Braces inside string literals
// are ignored.
func FirstObject(text string) (string, bool) {
	text = stripFences(text)
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// ParseObject extracts and parses the first JSON object in text, returning
// the parsed result or an error when no valid object is present.
func ParseObject(text string) (gjson.Result, error) {
	raw, ok := FirstObject(text)
	if !ok {
		return gjson.Result{}, fmt.Errorf("no JSON object found in model output")
	}
	if !gjson.Valid(raw) {
		return gjson.Result{}, fmt.Errorf("model output contained malformed JSON")
	}
	return gjson.Parse(raw), nil
}

// ObjectToMap extracts the first JSON object in text as a name→value map.
func ObjectToMap(text string) (map[string]any, error) {
	result, err := ParseObject(text)
	if err != nil {
		return nil, err
	}
	m, ok := result.Value().(map[string]any)
	if !ok {
		return nil, fmt.Errorf("model output was not a JSON object")
	}
	return m, nil
}

// StringList reads an array of strings at path, skipping non-string entries.
func StringList(result gjson.Result, path string) []string {
	var out []string
	for _, v := range result.Get(path).Array() {
		if v.Type == gjson.String {
			out = append(out, v.String())
		}
	}
	return out
}

func stripFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return text
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return trimmed
}
