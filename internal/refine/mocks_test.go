package refine

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/strata-cli/api/schemas"
)

// mockLLM satisfies schemas.LLMClient. Expectations are usually matched on
// the system prompt so one test can script generator, judge, and repair
// responses independently.
type mockLLM struct {
	mock.Mock
}

func (m *mockLLM) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func withSystemPrompt(sys string) interface{} {
	return mock.MatchedBy(func(req schemas.GenerationRequest) bool {
		return req.SystemPrompt == sys
	})
}

// mockToolRepo satisfies schemas.ToolRepository.
type mockToolRepo struct {
	mock.Mock
}

func (m *mockToolRepo) Exists(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockToolRepo) Add(ctx context.Context, tool schemas.Tool) error {
	return m.Called(ctx, tool).Error(0)
}

func (m *mockToolRepo) GetCode(ctx context.Context, id string) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

func (m *mockToolRepo) GetDescription(ctx context.Context, id string) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

func (m *mockToolRepo) SimilaritySearch(ctx context.Context, query string, k int) ([]string, error) {
	args := m.Called(ctx, query, k)
	if ids := args.Get(0); ids != nil {
		return ids.([]string), args.Error(1)
	}
	return nil, args.Error(1)
}

// scriptedEnv replays a fixed sequence of execution states and records every
// script it was asked to run.
type scriptedEnv struct {
	states  []schemas.ExecState
	scripts []string
	langs   []string
}

func (e *scriptedEnv) Step(ctx context.Context, language, code string) (schemas.ExecState, error) {
	e.scripts = append(e.scripts, code)
	e.langs = append(e.langs, language)
	if len(e.states) == 0 {
		return schemas.ExecState{Command: code}, nil
	}
	state := e.states[0]
	e.states = e.states[1:]
	state.Command = code
	return state, nil
}

func (e *scriptedEnv) Stream(ctx context.Context, language, code string) (<-chan schemas.OutputChunk, error) {
	ch := make(chan schemas.OutputChunk)
	close(ch)
	return ch, nil
}

func (e *scriptedEnv) WorkingDir() string     { return "/tmp/work" }
func (e *scriptedEnv) ListWorkingDir() string { return "out.txt" }
func (e *scriptedEnv) Terminate()             {}
