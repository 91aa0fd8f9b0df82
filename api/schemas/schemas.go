// File: api/schemas/schemas.go
// Description: Core data model shared by the planner, the refinement engine and
// the execution environments. Everything here is plain data; behavior lives in
// the internal packages.

package schemas

import (
	"fmt"
	"strings"
	"time"
)

// NodeKind classifies a subtask by its execution backend. The kind is resolved
// exactly once, when the planner's JSON decomposition is parsed, so the rest of
// the pipeline never branches on raw strings.
type NodeKind int

const (
	KindPython NodeKind = iota
	KindShell
	KindAppleScript
	KindAPI
	KindQA
)

var nodeKindNames = map[NodeKind]string{
	KindPython:      "Python",
	KindShell:       "Shell",
	KindAppleScript: "AppleScript",
	KindAPI:         "API",
	KindQA:          "QA",
}

func (k NodeKind) String() string {
	if name, ok := nodeKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("NodeKind(%d)", int(k))
}

// IsCode reports whether nodes of this kind carry executable code through the
// full generate/execute/judge cycle.
func (k NodeKind) IsCode() bool {
	return k == KindPython || k == KindShell || k == KindAppleScript
}

// ParseNodeKind converts a planner-supplied type tag into a NodeKind. Matching
// is case-insensitive and accepts the common aliases the planner has been seen
// to emit.
func ParseNodeKind(s string) (NodeKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "python", "py":
		return KindPython, nil
	case "shell", "sh", "bash", "zsh":
		return KindShell, nil
	case "applescript", "osascript":
		return KindAppleScript, nil
	case "api":
		return KindAPI, nil
	case "qa", "q&a":
		return KindQA, nil
	default:
		return 0, fmt.Errorf("unknown node kind %q", s)
	}
}

// NodeSpec is one entry of a structured decomposition: the planner's JSON maps
// node ids to these.
type NodeSpec struct {
	Description  string   `json:"description"`
	Type         string   `json:"type"`
	Dependencies []string `json:"dependencies"`
}

// ActionNode represents one subtask in the dependency graph.
type ActionNode struct {
	ID           string            `json:"id"`
	Description  string            `json:"description"`
	Kind         NodeKind          `json:"kind"`
	Dependencies []string          `json:"dependencies"`
	// NextActions maps successor id to successor description. It is derived
	// during graph construction and handed to the judge as forward context.
	NextActions  map[string]string `json:"next_actions"`
	Done         bool              `json:"done"`
	ReturnValue  string            `json:"return_value"`
	RelevantCode string            `json:"relevant_code"`
}

// ExecState captures one execution attempt. Instances are immutable once
// constructed; the judge consumes them and they are discarded afterwards.
type ExecState struct {
	Command    string `json:"command"`
	Result     string `json:"result"`
	Error      string `json:"error"`
	WorkingDir string `json:"working_directory"`
	DirListing string `json:"directory_listing"`
}

// OK reports whether the attempt produced no error output.
func (s ExecState) OK() bool { return s.Error == "" }

func (s ExecState) String() string {
	return fmt.Sprintf("Output: %s\nError: %s\nCurrent Directory: %s\nDirectory Contents: %s",
		s.Result, s.Error, s.WorkingDir, s.DirListing)
}

// JudgementStatus is the judge's verdict on an execution outcome.
type JudgementStatus int

const (
	// StatusError covers unparseable or unrecognized judge output; the caller
	// aborts the node with a diagnostic rather than crashing the run.
	StatusError JudgementStatus = iota
	StatusComplete
	StatusAmend
	StatusReplan
)

func (s JudgementStatus) String() string {
	switch s {
	case StatusComplete:
		return "Complete"
	case StatusAmend:
		return "Amend"
	case StatusReplan:
		return "Replan"
	default:
		return "Error"
	}
}

// ParseJudgementStatus maps judge output onto the closed status set. Anything
// unrecognized collapses to StatusError.
func ParseJudgementStatus(s string) JudgementStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "complete":
		return StatusComplete
	case "amend":
		return StatusAmend
	case "replan":
		return StatusReplan
	default:
		return StatusError
	}
}

// Judgement is the structured result of one judge call. Score is only
// meaningful when Status is Complete and the node is Python-typed, where it
// gates persistence into the tool repository.
type Judgement struct {
	Status   JudgementStatus `json:"status"`
	Critique string          `json:"critique"`
	Score    float64         `json:"score"`
}

// -- Output chunk wire format --

// ChunkType discriminates the payload family of an OutputChunk.
type ChunkType string

const (
	ChunkConsole ChunkType = "console"
	ChunkImage   ChunkType = "image"
	ChunkFile    ChunkType = "file"
)

// ChunkFormat refines the payload encoding within a ChunkType.
type ChunkFormat string

const (
	FormatOutput     ChunkFormat = "output"
	FormatActiveLine ChunkFormat = "active_line"
	FormatBase64PNG  ChunkFormat = "base64.png"
	FormatPath       ChunkFormat = "path"
)

// OutputChunk is the uniform unit of output streamed by every execution
// runtime. Content holds a string for output/base64/path chunks and an int
// line number for active_line chunks.
type OutputChunk struct {
	Type    ChunkType   `json:"type"`
	Format  ChunkFormat `json:"format"`
	Content any         `json:"content"`
}

// Text returns the chunk content as a string, or "" for non-textual chunks.
func (c OutputChunk) Text() string {
	s, _ := c.Content.(string)
	return s
}

// -- Run results --

// SubtaskFailure is the structured diagnostic attached to a failed subtask.
type SubtaskFailure struct {
	NodeID   string `json:"node_id"`
	Kind     string `json:"kind"`
	Reason   string `json:"reason"`
	Critique string `json:"critique,omitempty"`
	Attempts int    `json:"attempts,omitempty"`
}

func (f SubtaskFailure) Error() string {
	return fmt.Sprintf("subtask %s (%s) failed: %s", f.NodeID, f.Kind, f.Reason)
}

// RunResult holds the outcome of one full goal run.
type RunResult struct {
	RunID     string          `json:"run_id"`
	Goal      string          `json:"goal"`
	Result    string          `json:"result"`
	Completed []string        `json:"completed"`
	Failure   *SubtaskFailure `json:"failure,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	EndedAt   time.Time       `json:"ended_at"`
}

// Succeeded reports whether every scheduled subtask completed.
func (r RunResult) Succeeded() bool { return r.Failure == nil }

// Tool is the persistence record for a generated, high-scoring Python tool.
type Tool struct {
	ID          string    `json:"id"`
	Code        string    `json:"code"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}
