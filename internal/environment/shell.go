// File: internal/environment/shell.go
package environment

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

var multilineShellRe = regexp.MustCompile(`(\\|&&|\|\|?|\b(if|while|for|do|then)\b|[[({]|\s+then\s*)$`)

// NewShell builds the persistent shell runtime. The interpreter comes from
// cfg, $SHELL, or bash, in that order.
func NewShell(logger *zap.Logger, shell, workDir string, writeRetries int) *Subprocess {
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = "bash"
	}
	return newSubprocess(logger, "Shell", []string{"sh", "bash", "zsh"}, []string{shell}, workDir, writeRetries, preprocessShell)
}

// preprocessShell instruments a shell snippet with active-line markers and a
// completion sentinel. The snippet runs in a subshell whose EXIT trap prints
// the sentinel, so it fires even when the script dies mid-way. Per-line
// markers are skipped for scripts with multiline constructs, where
// interleaving echos would break the syntax.
func preprocessShell(code string) string {
	if !hasMultilineCommands(code) {
		code = addActiveLineEchos(code)
	}
	return fmt.Sprintf("(\ntrap 'echo \"%s\"' EXIT\n%s\n)", endMarker, code)
}

func addActiveLineEchos(code string) string {
	lines := strings.Split(code, "\n")
	instrumented := make([]string, 0, len(lines)*2)
	for i, line := range lines {
		instrumented = append(instrumented, fmt.Sprintf("echo \"%s%d##\"", activeLineMarker, i+1), line)
	}
	return strings.Join(instrumented, "\n")
}

// hasMultilineCommands detects continuations, conditionals, loops and open
// brackets that make per-line instrumentation unsafe.
func hasMultilineCommands(script string) bool {
	for _, line := range strings.Split(script, "\n") {
		if multilineShellRe.MatchString(strings.TrimRight(line, " \t")) {
			return true
		}
	}
	return false
}
