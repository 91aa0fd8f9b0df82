// File: internal/environment/subprocess.go
// Description: Persistent-subprocess runtime. One long-lived child process is
// opened per language and reused across executions. Code is instrumented with
// line markers and a completion sentinel before being written to the child's
// stdin; dedicated reader goroutines classify each output line into chunks.

package environment

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/strata-cli/api/schemas"
)

const (
	activeLineMarker = "##active_line"
	endMarker        = "##end_of_execution##"
)

var activeLineRe = regexp.MustCompile(`##active_line(\d+)##`)

// detectActiveLine extracts the line number from an active-line marker, or
// returns false when the line carries none.
func detectActiveLine(line string) (int, bool) {
	m := activeLineRe.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// stripActiveLine removes every active-line marker from a line.
func stripActiveLine(line string) string {
	return activeLineRe.ReplaceAllString(line, "")
}

// streamMsg is the unit passed from the reader goroutines to the control side.
// done marks the completion sentinel; no chunk accompanies it.
type streamMsg struct {
	chunk schemas.OutputChunk
	done  bool
}

// preprocessFunc rewrites user code with line markers and the completion
// sentinel before it is handed to the child process.
type preprocessFunc func(code string) string

// Subprocess runs code in a persistent child process shared across
// executions. The zero value is not usable; construct with newSubprocess.
// Concurrency model: the control goroutine writes to stdin and drains msgs;
// one reader goroutine per stream (stdout, stderr) classifies lines onto the
// shared msgs channel. State such as the working directory lives in the child
// and does not survive a restart.
type Subprocess struct {
	logger       *zap.Logger
	name         string
	aliases      []string
	startCmd     []string
	workDir      string
	preprocess   preprocessFunc
	writeRetries int

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	msgs    chan streamMsg
	readers *errgroup.Group
}

func newSubprocess(logger *zap.Logger, name string, aliases, startCmd []string, workDir string, writeRetries int, preprocess preprocessFunc) *Subprocess {
	return &Subprocess{
		logger:       logger.Named("env." + strings.ToLower(name)),
		name:         name,
		aliases:      aliases,
		startCmd:     startCmd,
		workDir:      workDir,
		preprocess:   preprocess,
		writeRetries: writeRetries,
	}
}

func (s *Subprocess) Name() string      { return s.name }
func (s *Subprocess) Aliases() []string { return append([]string(nil), s.aliases...) }

// start launches a fresh child process, tearing down any previous one. Any
// in-flight state of the old process (cwd changes, shell variables) is lost.
func (s *Subprocess) start() error {
	s.stop()

	cmd := exec.Command(s.startCmd[0], s.startCmd[1:]...)
	cmd.Dir = s.workDir
	cmd.Env = append(os.Environ(), "PYTHONIOENCODING=utf-8")

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %q: %w", s.startCmd[0], err)
	}

	s.cmd = cmd
	s.stdin = stdin
	s.msgs = make(chan streamMsg, 128)

	g := &errgroup.Group{}
	msgs := s.msgs
	g.Go(func() error { s.readStream(stdout, msgs, false); return nil })
	g.Go(func() error { s.readStream(stderr, msgs, true); return nil })
	s.readers = g

	s.logger.Debug("Started subprocess", zap.Strings("cmd", s.startCmd), zap.Int("pid", cmd.Process.Pid))
	return nil
}

// stop kills the current child, closes its pipes and waits for the readers.
func (s *Subprocess) stop() {
	if s.cmd == nil {
		return
	}
	if s.stdin != nil {
		s.stdin.Close()
	}
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	s.cmd.Wait()
	if s.readers != nil {
		s.readers.Wait()
	}
	s.cmd = nil
	s.stdin = nil
	s.readers = nil
}

// Terminate kills the child process and closes its pipes. There is no
// cooperative interrupt delivered to a running command first.
func (s *Subprocess) Terminate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stop()
}

// readStream consumes one output stream line by line, strips the marker
// protocol, and pushes classified messages onto the shared channel. The
// scanner strips the trailing newline from each line, so output content is
// re-emitted with it; without the newline a multi-line command's output would
// collapse into one string when folded into an ExecState.
func (s *Subprocess) readStream(r io.Reader, msgs chan<- streamMsg, isErr bool) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case strings.Contains(line, activeLineMarker):
			if n, ok := detectActiveLine(line); ok {
				msgs <- streamMsg{chunk: schemas.OutputChunk{Type: schemas.ChunkConsole, Format: schemas.FormatActiveLine, Content: n}}
			}
			if cleaned := strings.TrimSpace(stripActiveLine(line)); cleaned != "" {
				msgs <- streamMsg{chunk: schemas.OutputChunk{Type: schemas.ChunkConsole, Format: schemas.FormatOutput, Content: cleaned + "\n"}}
			}
		case strings.Contains(line, endMarker):
			if rest := strings.TrimSpace(strings.ReplaceAll(line, endMarker, "")); rest != "" {
				msgs <- streamMsg{chunk: schemas.OutputChunk{Type: schemas.ChunkConsole, Format: schemas.FormatOutput, Content: rest + "\n"}}
			}
			msgs <- streamMsg{done: true}
		case isErr && strings.Contains(line, "KeyboardInterrupt"):
			msgs <- streamMsg{chunk: schemas.OutputChunk{Type: schemas.ChunkConsole, Format: schemas.FormatOutput, Content: "KeyboardInterrupt\n"}}
			msgs <- streamMsg{done: true}
		default:
			msgs <- streamMsg{chunk: schemas.OutputChunk{Type: schemas.ChunkConsole, Format: schemas.FormatOutput, Content: line + "\n"}}
		}
	}
}

// Run instruments the code, writes it to the child and returns a channel of
// output chunks. The channel is closed once the completion sentinel arrives
// and the queue is drained, or when ctx is cancelled, in which case the child
// is torn down and the next Run starts a fresh one. A command that never
// reaches the sentinel stalls its subtask: there is deliberately no watchdog
// timeout here.
func (s *Subprocess) Run(ctx context.Context, code string) (<-chan schemas.OutputChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	processed := s.preprocess(code)

	out := make(chan schemas.OutputChunk, 16)

	if s.cmd == nil {
		if err := s.start(); err != nil {
			return nil, err
		}
	}

	retries := 0
	for {
		_, err := io.WriteString(s.stdin, processed+"\n")
		if err == nil {
			break
		}
		retries++
		if retries > s.writeRetries {
			s.logger.Error("Write retry budget exhausted", zap.Int("retries", s.writeRetries), zap.Error(err))
			out <- schemas.OutputChunk{Type: schemas.ChunkConsole, Format: schemas.FormatOutput, Content: "Maximum retries reached."}
			close(out)
			return out, nil
		}
		s.logger.Warn("Write to subprocess failed, restarting", zap.Int("attempt", retries), zap.Error(err))
		if err := s.start(); err != nil {
			return nil, err
		}
	}

	msgs := s.msgs
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				s.abandon(msgs)
				return
			case msg := <-msgs:
				if msg.done {
					// Drain everything already queued before completing.
					for {
						select {
						case extra := <-msgs:
							if extra.done {
								return
							}
							out <- extra.chunk
						default:
							return
						}
					}
				}
				select {
				case out <- msg.chunk:
				case <-ctx.Done():
					s.abandon(msgs)
					return
				}
			}
		}
	}()

	return out, nil
}

// abandon tears down the child after a cancelled execution. The command may
// still be running, with its remaining output and the completion sentinel yet
// to enter the shared queue; left alone they would replay into the next Run on
// this runtime. Killing the child discards them, at the cost of the child's
// in-flight state, which the restart contract of start already forfeits.
func (s *Subprocess) abandon(msgs chan streamMsg) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.msgs != msgs {
		// A restart already replaced this execution's queue.
		return
	}

	// The readers can be blocked mid-send on a full queue; keep it moving
	// until stop sees them exit.
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-msgs:
			case <-done:
				return
			}
		}
	}()
	s.stop()
	close(done)
	s.logger.Debug("Execution cancelled, subprocess torn down")
}
