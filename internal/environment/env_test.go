package environment

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/strata-cli/api/schemas"
	"github.com/xkilldash9x/strata-cli/internal/config"
)

// fakeRuntime replays a canned chunk script for dispatcher tests.
type fakeRuntime struct {
	name       string
	aliases    []string
	chunks     []schemas.OutputChunk
	runs       int
	terminated bool
}

func (f *fakeRuntime) Name() string      { return f.name }
func (f *fakeRuntime) Aliases() []string { return f.aliases }
func (f *fakeRuntime) Terminate()        { f.terminated = true }

func (f *fakeRuntime) Run(ctx context.Context, code string) (<-chan schemas.OutputChunk, error) {
	f.runs++
	out := make(chan schemas.OutputChunk, len(f.chunks))
	for _, c := range f.chunks {
		out <- c
	}
	close(out)
	return out, nil
}

func newTestEnv(t *testing.T) *Env {
	t.Helper()
	env, err := New(testLogger(t), config.EnvironmentConfig{
		Shell:      "bash",
		WorkingDir: t.TempDir(),
	})
	require.NoError(t, err)
	t.Cleanup(env.Terminate)
	return env
}

func TestLookup_CaseInsensitiveAliases(t *testing.T) {
	env := newTestEnv(t)
	fake := &fakeRuntime{name: "Fake", aliases: []string{"fk"}}
	env.Register(fake)

	for _, tag := range []string{"Fake", "fake", "FAKE", "fk", "FK", " fk "} {
		rt, err := env.lookup(tag)
		require.NoError(t, err, "tag %q", tag)
		assert.Same(t, fake, rt.(*fakeRuntime))
	}

	_, err := env.lookup("fortran")
	assert.Error(t, err)
}

func TestStep_PartitionsResultAndError(t *testing.T) {
	env := newTestEnv(t)
	env.Register(&fakeRuntime{
		name: "Fake",
		chunks: []schemas.OutputChunk{
			{Type: schemas.ChunkConsole, Format: schemas.FormatActiveLine, Content: 1},
			{Type: schemas.ChunkConsole, Format: schemas.FormatOutput, Content: "hello\n"},
			{Type: schemas.ChunkConsole, Format: schemas.FormatActiveLine, Content: 2},
			{Type: schemas.ChunkConsole, Format: schemas.FormatOutput, Content: "cat: missing: No such file or directory\n"},
			{Type: schemas.ChunkConsole, Format: schemas.FormatOutput, Content: "world\n"},
		},
	})

	state, err := env.Step(context.Background(), "fake", "whatever")
	require.NoError(t, err)

	assert.Equal(t, "whatever", state.Command)
	assert.Equal(t, "hello\nworld", state.Result)
	assert.Equal(t, "cat: missing: No such file or directory", state.Error)
	assert.False(t, state.OK())
	assert.Equal(t, env.WorkingDir(), state.WorkingDir)
}

// The shell runtime strips newlines while scanning lines, so this guards the
// whole pipeline: each output line must come back as its own line in Result,
// not mashed into one string.
func TestStep_ShellPreservesLineBoundaries(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("persistent shell runtime requires a POSIX shell")
	}
	env := newTestEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	state, err := env.Step(ctx, "shell", "echo one\necho two\necho three")
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\nthree", state.Result)
	assert.Empty(t, state.Error)
	assert.True(t, state.OK())
}

func TestStep_CleanRunIsOK(t *testing.T) {
	env := newTestEnv(t)
	env.Register(&fakeRuntime{
		name: "Fake",
		chunks: []schemas.OutputChunk{
			{Type: schemas.ChunkConsole, Format: schemas.FormatOutput, Content: "all good\n"},
		},
	})

	state, err := env.Step(context.Background(), "fake", "ok")
	require.NoError(t, err)
	assert.True(t, state.OK())
	assert.Equal(t, "all good", state.Result)
	assert.Empty(t, state.Error)
}

func TestStep_TracebackIsError(t *testing.T) {
	env := newTestEnv(t)
	env.Register(&fakeRuntime{
		name: "Fake",
		chunks: []schemas.OutputChunk{
			{Type: schemas.ChunkConsole, Format: schemas.FormatOutput,
				Content: "Traceback (most recent call last):\n  File \"<stdin>\"\nZeroDivisionError: division by zero\n"},
		},
	})

	state, err := env.Step(context.Background(), "fake", "1/0")
	require.NoError(t, err)
	assert.False(t, state.OK())
	assert.Contains(t, state.Error, "ZeroDivisionError")
}

func TestStream_RoutesToRuntime(t *testing.T) {
	env := newTestEnv(t)
	fake := &fakeRuntime{name: "Fake", chunks: []schemas.OutputChunk{
		{Type: schemas.ChunkConsole, Format: schemas.FormatOutput, Content: "x"},
	}}
	env.Register(fake)

	chunks, err := env.Stream(context.Background(), "fake", "code")
	require.NoError(t, err)
	var n int
	for range chunks {
		n++
	}
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, fake.runs)
}

func TestListWorkingDir(t *testing.T) {
	env := newTestEnv(t)
	dir := env.WorkingDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	listing := env.ListWorkingDir()
	assert.Equal(t, "a.txt\nb.txt\nsub"+string(filepath.Separator), listing)
}

func TestTerminate_StopsAllRuntimes(t *testing.T) {
	env := newTestEnv(t)
	fake := &fakeRuntime{name: "Fake"}
	env.Register(fake)

	env.Terminate()
	assert.True(t, fake.terminated)
}

func TestLooksLikeError(t *testing.T) {
	assert.True(t, looksLikeError("bash: foo: command not found"))
	assert.True(t, looksLikeError("Maximum retries reached."))
	assert.True(t, looksLikeError("Permission denied"))
	assert.False(t, looksLikeError("wrote 3 files"))
}
