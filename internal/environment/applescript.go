// File: internal/environment/applescript.go
package environment

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
)

// NewAppleScript builds the AppleScript runtime. Scripts are flattened into a
// single osascript invocation executed through a persistent shell, since
// osascript has no usable interactive mode of its own.
func NewAppleScript(logger *zap.Logger, shell, workDir string, writeRetries int) *Subprocess {
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = "/bin/zsh"
	}
	return newSubprocess(logger, "AppleScript", []string{"osascript"}, []string{shell}, workDir, writeRetries, preprocessAppleScript)
}

// preprocessAppleScript interleaves log-based line markers (osascript routes
// log output to stderr) and appends the completion sentinel behind an
// unconditional `|| true` so it prints even when the script errors out.
func preprocessAppleScript(code string) string {
	lines := strings.Split(code, "\n")
	instrumented := make([]string, 0, len(lines)*2)
	for i, line := range lines {
		instrumented = append(instrumented, fmt.Sprintf("log \"%s%d##\"", activeLineMarker, i+1), line)
	}

	var args []string
	for _, line := range instrumented {
		if strings.TrimSpace(line) == "" {
			continue
		}
		args = append(args, "-e "+shellQuote(line))
	}
	return fmt.Sprintf("osascript %s || true; echo '%s'", strings.Join(args, " "), endMarker)
}

// shellQuote single-quotes s for the POSIX shell. Single quotes suppress all
// expansion, so `$`, backticks and quotes inside the script reach osascript
// untouched; embedded single quotes are spliced out as '\''.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
