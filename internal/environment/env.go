// File: internal/environment/env.go
// Description: The execution environment facade. It owns one runtime per
// language, routes each code block by case-insensitive language tag, and
// offers two consumption modes: Step, which drains the chunk stream into a
// single ExecState snapshot, and Stream, which hands the raw channel to the
// caller. All runtimes share one working directory for the lifetime of a run.

package environment

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/strata-cli/api/schemas"
	"github.com/xkilldash9x/strata-cli/internal/config"
)

// Env implements schemas.Environment over a registry of language runtimes.
type Env struct {
	logger  *zap.Logger
	workDir string

	mu       sync.Mutex
	runtimes map[string]schemas.Runtime // canonical name -> runtime
	byTag    map[string]schemas.Runtime // lowercased name and aliases
}

// New builds the environment from configuration. The working directory is
// created if missing so relative file operations inside subtasks land
// somewhere predictable.
func New(logger *zap.Logger, cfg config.EnvironmentConfig) (*Env, error) {
	workDir := cfg.WorkingDir
	if workDir == "" {
		workDir = "."
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("create working directory %q: %w", workDir, err)
	}

	e := &Env{
		logger:   logger.Named("environment"),
		workDir:  workDir,
		runtimes: make(map[string]schemas.Runtime),
		byTag:    make(map[string]schemas.Runtime),
	}

	e.register(NewShell(logger, cfg.Shell, workDir, cfg.WriteRetries))
	e.register(NewKernel(logger, cfg.Kernel))
	if runtime.GOOS == "darwin" {
		e.register(NewAppleScript(logger, cfg.Shell, workDir, cfg.WriteRetries))
	}
	return e, nil
}

func (e *Env) register(r schemas.Runtime) {
	e.runtimes[r.Name()] = r
	e.byTag[strings.ToLower(r.Name())] = r
	for _, alias := range r.Aliases() {
		e.byTag[strings.ToLower(alias)] = r
	}
}

// Register adds or replaces a runtime. Exposed so tests and embedders can
// install custom backends.
func (e *Env) Register(r schemas.Runtime) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.register(r)
}

func (e *Env) lookup(language string) (schemas.Runtime, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.byTag[strings.ToLower(strings.TrimSpace(language))]
	if !ok {
		return nil, fmt.Errorf("no runtime registered for language %q", language)
	}
	return r, nil
}

// WorkingDir returns the directory shared by all runtimes.
func (e *Env) WorkingDir() string { return e.workDir }

// ListWorkingDir returns a newline-joined listing of the working directory,
// directories suffixed with a separator. Errors degrade to a diagnostic
// string; the listing is advisory context for the judge, never load-bearing.
func (e *Env) ListWorkingDir() string {
	entries, err := os.ReadDir(e.workDir)
	if err != nil {
		return fmt.Sprintf("(unreadable: %v)", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += string(filepath.Separator)
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, "\n")
}

// Stream routes the code to its runtime and returns the live chunk channel.
func (e *Env) Stream(ctx context.Context, language, code string) (<-chan schemas.OutputChunk, error) {
	rt, err := e.lookup(language)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("Dispatching code block",
		zap.String("language", language), zap.String("runtime", rt.Name()), zap.Int("bytes", len(code)))
	return rt.Run(ctx, code)
}

// Step runs the code to completion and folds the stream into an ExecState:
// ordinary console output accumulates into Result, content that reads like a
// failure accumulates into Error, and active-line markers are dropped. The
// snapshot also captures the working directory and its listing so the judge
// sees filesystem effects.
func (e *Env) Step(ctx context.Context, language, code string) (schemas.ExecState, error) {
	state := schemas.ExecState{Command: code, WorkingDir: e.workDir}

	chunks, err := e.Stream(ctx, language, code)
	if err != nil {
		return state, err
	}

	var result, errOut strings.Builder
	for chunk := range chunks {
		if chunk.Format == schemas.FormatActiveLine {
			continue
		}
		text := chunk.Text()
		if text == "" {
			continue
		}
		if looksLikeError(text) {
			errOut.WriteString(text)
		} else {
			result.WriteString(text)
		}
	}

	state.Result = strings.TrimRight(result.String(), "\n")
	state.Error = strings.TrimRight(errOut.String(), "\n")
	state.DirListing = e.ListWorkingDir()
	return state, ctx.Err()
}

// errorNeedles are substrings that mark console output as failure text.
// Subprocess runtimes interleave stdout and stderr into one chunk stream, so
// the fold has to classify by content.
var errorNeedles = []string{
	"Traceback (most recent call last)",
	"Error:",
	"error:",
	"Exception",
	"command not found",
	"No such file or directory",
	"not found",
	"Permission denied",
	"Maximum retries reached",
	"KeyboardInterrupt",
}

func looksLikeError(text string) bool {
	for _, needle := range errorNeedles {
		if strings.Contains(text, needle) {
			return true
		}
	}
	return false
}

// Terminate shuts every runtime down. Safe to call more than once.
func (e *Env) Terminate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for name, rt := range e.runtimes {
		e.logger.Debug("Terminating runtime", zap.String("runtime", name))
		rt.Terminate()
	}
}
