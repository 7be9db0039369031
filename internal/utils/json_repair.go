package utils

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Generative models wrap JSON in prose or markdown fences, truncate it at
// the token limit, or emit Python-flavored literals. ExtractJSON isolates
// the object; RepairJSON applies a fixed, ordered list of deterministic
// repair passes. Both are pure functions kept separate from parsing so
// they can be tested in isolation.

var (
	bareKeyRe       = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)\s*:`)
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	pyTrueRe        = regexp.MustCompile(`\bTrue\b`)
	pyFalseRe       = regexp.MustCompile(`\bFalse\b`)
	pyNoneRe        = regexp.MustCompile(`\bNone\b`)
)

// ExtractJSON returns the substring spanning the first '{' through the last
// '}' of s, which drops surrounding prose and markdown code fences. The
// second return is false when no brace is present at all.
func ExtractJSON(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	end := strings.LastIndexByte(s, '}')
	if end < start {
		// Truncated output with no closing brace; hand the tail to the
		// repair passes.
		return s[start:], true
	}
	return s[start : end+1], true
}

// RepairJSON attempts to fix common model-output JSON defects. Already-valid
// input is returned unchanged. The passes run in a fixed order exactly once;
// output is not guaranteed to be valid, callers must re-parse.
func RepairJSON(s string) string {
	if json.Valid([]byte(s)) {
		return s
	}

	// Close a string truncated mid-value before balancing braces.
	if unterminatedString(s) {
		s += `"`
	}

	// Balance missing closing braces from truncation.
	if open, closed := strings.Count(s, "{"), strings.Count(s, "}"); open > closed {
		s += strings.Repeat("}", open-closed)
	}

	s = bareKeyRe.ReplaceAllString(s, `$1"$2":`)
	s = trailingCommaRe.ReplaceAllString(s, "$1")
	s = strings.ReplaceAll(s, "'", `"`)
	s = pyTrueRe.ReplaceAllString(s, "true")
	s = pyFalseRe.ReplaceAllString(s, "false")
	s = pyNoneRe.ReplaceAllString(s, "null")

	return s
}

// unterminatedString reports whether s ends inside a double-quoted string.
func unterminatedString(s string) bool {
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		switch {
		case escaped:
			escaped = false
		case s[i] == '\\':
			escaped = true
		case s[i] == '"':
			inString = !inString
		}
	}
	return inString
}
