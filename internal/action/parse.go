package action

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Decode parses raw model output into a Decision. The model is asked for a
// single JSON object but routinely wraps it in markdown fences or prose, so
// the first balanced object found in the text is used. An unrecognized
// action name decodes to KindUnknown rather than an error so the executor
// can classify it.
func Decode(raw string) (Decision, error) {
	payload := ExtractJSON(raw)
	if payload == "" {
		return Decision{}, fmt.Errorf("no JSON object in model output")
	}

	var d Decision
	if err := json.Unmarshal([]byte(payload), &d); err != nil {
		return Decision{}, fmt.Errorf("decode decision: %w", err)
	}
	if d.Kind == "" {
		return Decision{}, fmt.Errorf("decision has no action field")
	}
	d.Kind = Kind(strings.ToLower(strings.TrimSpace(string(d.Kind))))
	if !d.Kind.Known() {
		d.Kind = KindUnknown
	}
	return d, nil
}

// ExtractJSON returns the first balanced top-level JSON object in the text,
// stripping markdown code fences first. Returns "" when none is found.
func ExtractJSON(raw string) string {
	s := strings.TrimSpace(raw)

	// Strip ```json ... ``` fences; keep only the fenced body when present.
	if idx := strings.Index(s, "```"); idx != -1 {
		rest := s[idx+3:]
		if nl := strings.IndexByte(rest, '\n'); nl != -1 {
			rest = rest[nl+1:]
		}
		if end := strings.Index(rest, "```"); end != -1 {
			s = rest[:end]
		} else {
			s = rest
		}
		s = strings.TrimSpace(s)
	}

	start := strings.IndexByte(s, '{')
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
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
				return s[start : i+1]
			}
		}
	}
	return ""
}
