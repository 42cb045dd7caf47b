package planner

import (
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"foreman/internal/jsonx"
)

// extractJSON pulls the first JSON object or array out of model output,
// tolerating fenced blocks, prose around the payload, and mildly broken JSON
// (trailing commas, single quotes, unquoted keys) via a repair pass.
func extractJSON(raw string, target any) error {
	candidate := stripFences(raw)
	candidate = sliceBalanced(candidate)
	if candidate == "" {
		candidate = strings.TrimSpace(raw)
	}

	if err := jsonx.Unmarshal([]byte(candidate), target); err == nil {
		return nil
	}

	repaired, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		return err
	}
	return jsonx.Unmarshal([]byte(repaired), target)
}

// stripFences removes a ```json … ``` (or bare ```) fence when present.
func stripFences(raw string) string {
	trimmed := strings.TrimSpace(raw)
	start := strings.Index(trimmed, "```")
	if start < 0 {
		return trimmed
	}
	rest := trimmed[start+3:]
	if newline := strings.IndexByte(rest, '\n'); newline >= 0 {
		// Drop the info string ("json", "JSON", …) on the fence line.
		firstLine := strings.TrimSpace(rest[:newline])
		if len(firstLine) <= 8 && !strings.ContainsAny(firstLine, "{}[]") {
			rest = rest[newline+1:]
		}
	}
	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

// sliceBalanced returns the substring from the first '{' or '[' to its
// balanced closer, or from the first opener to the end when unbalanced (the
// repair pass closes it).
func sliceBalanced(s string) string {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return ""
	}
	opener := s[start]
	var closer byte = '}'
	if opener == '[' {
		closer = ']'
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
		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == opener:
			depth++
		case c == closer:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return s[start:]
}
