package ai

import (
	"regexp"
	"strings"
)

var (
	fenceLine = regexp.MustCompile("(?m)^[ \t]*```[A-Za-z0-9_+-]*[ \t]*(\r?\n|$)")

	escapeLiterals = strings.NewReplacer(
		`\033[`, "\x1b[",
		`\x1b[`, "\x1b[",
		`\u001b[`, "\x1b[",
		`\e[`, "\x1b[",
	)
)

// NormalizeResponse enforces the terminal content rules on model output:
// markdown code fences are removed, spelled-out escape sequences become real
// ESC bytes and a trailing prompt gets exactly one space after it.
func NormalizeResponse(text string) string {
	text = fenceLine.ReplaceAllString(text, "")
	text = escapeLiterals.Replace(text)

	trimmed := strings.TrimRight(text, " \t\r\n")
	if trimmed == "" {
		return text
	}
	switch trimmed[len(trimmed)-1] {
	case '$', '#', '>', '%':
		return trimmed + " "
	}
	return text
}

// PromptOf returns the last line of a response, which by the content rules is
// the shell prompt.
func PromptOf(response string) string {
	if i := strings.LastIndexByte(response, '\n'); i >= 0 {
		return response[i+1:]
	}
	return response
}
