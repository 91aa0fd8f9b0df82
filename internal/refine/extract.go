// File: internal/refine/extract.go
// Description: Helpers for pulling structured fragments out of model output.
// All of them degrade to empty strings on malformed input; callers decide
// whether that is fatal.

package refine

import (
	"fmt"
	"strings"
)

// extractCode returns the body of the first fenced code block tagged with the
// given language, falling back to the first fenced block of any language. An
// error is returned when no fence exists at all.
func extractCode(text, lang string) (string, error) {
	marker := "```" + strings.ToLower(lang)
	if idx := strings.Index(strings.ToLower(text), marker); idx >= 0 {
		rest := text[idx+len(marker):]
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end]), nil
		}
	}

	if idx := strings.Index(text, "```"); idx >= 0 {
		rest := text[idx+3:]
		// Skip a language tag on the fence line.
		if nl := strings.Index(rest, "\n"); nl >= 0 {
			rest = rest[nl+1:]
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end]), nil
		}
	}
	return "", fmt.Errorf("no fenced code block in model output")
}

// extractTagged returns the content between the first occurrence of the start
// and end tags, or "" when either tag is missing.
func extractTagged(text, start, end string) string {
	i := strings.Index(text, start)
	if i < 0 {
		return ""
	}
	rest := text[i+len(start):]
	j := strings.Index(rest, end)
	if j < 0 {
		return ""
	}
	return strings.TrimSpace(rest[:j])
}

// extractReturnValue pulls the <return>...</return> payload from execution
// output. A literal "None" collapses to empty, matching an interpreter
// printing a function that returned nothing.
func extractReturnValue(output string) string {
	v := extractTagged(output, "<return>", "</return>")
	if v == "None" {
		return ""
	}
	return v
}

// truncateForPrompt caps judge context so a chatty command cannot blow the
// prompt budget.
func truncateForPrompt(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
