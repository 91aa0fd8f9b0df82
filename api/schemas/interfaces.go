// File: api/schemas/interfaces.go
// Description: Contracts between the orchestration engine and its external
// collaborators. Keeping them here breaks import cycles between internal
// packages and lets tests swap in lightweight mocks.

package schemas

import "context"

// ModelTier selects which class of model a generation request should hit.
type ModelTier string

const (
	TierFast     ModelTier = "fast"
	TierPowerful ModelTier = "powerful"
)

// GenerationOptions provides parameters to control text generation.
type GenerationOptions struct {
	Temperature     float32 `json:"temperature"`
	ForceJSONFormat bool    `json:"force_json_format"`
}

// GenerationRequest encapsulates a complete request to the LLM.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"`
	UserPrompt   string            `json:"user_prompt"`
	Tier         ModelTier         `json:"tier"`
	Options      GenerationOptions `json:"options"`
}

// LLMClient is the opaque language-model collaborator. Implementations are
// best-effort: they may return malformed or empty text, and callers must treat
// unparseable content as a soft error, never a crash. Bounded retry on
// transient failures is the implementation's responsibility.
type LLMClient interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}

// ToolRepository is the external store of generated tools. The engine calls it
// during planning (to fetch candidate descriptions) and after a high-scoring
// Python completion (to persist new code); it does not own the storage or the
// similarity index.
type ToolRepository interface {
	Exists(ctx context.Context, id string) (bool, error)
	Add(ctx context.Context, tool Tool) error
	GetCode(ctx context.Context, id string) (string, error)
	GetDescription(ctx context.Context, id string) (string, error)
	// SimilaritySearch returns up to k tool ids ranked by relevance to query.
	SimilaritySearch(ctx context.Context, query string, k int) ([]string, error)
}

// Runtime is the uniform contract every execution backend satisfies, whether
// it wraps a persistent subprocess or an interpreter kernel. Run streams
// OutputChunks and closes the channel when execution completes; callers must
// drain it.
type Runtime interface {
	Name() string
	Aliases() []string
	Run(ctx context.Context, code string) (<-chan OutputChunk, error)
	Terminate()
}

// Environment dispatches code to a Runtime by language tag and aggregates the
// buffered result into an ExecState.
type Environment interface {
	Step(ctx context.Context, language, code string) (ExecState, error)
	Stream(ctx context.Context, language, code string) (<-chan OutputChunk, error)
	WorkingDir() string
	ListWorkingDir() string
	Terminate()
}
