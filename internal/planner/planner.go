// File: internal/planner/planner.go
// Description: The planner turns a natural-language goal into task graph
// structure. Decompose builds a fresh graph from the powerful-tier model's
// JSON plan; Replan grafts prerequisite subtasks onto a blocked node. Model
// output is treated as untrusted: unparseable plans surface as errors, never
// panics.

package planner

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/strata-cli/api/schemas"
	"github.com/xkilldash9x/strata-cli/internal/taskgraph"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNoPlan indicates the model produced no parseable JSON plan.
var ErrNoPlan = errors.New("no JSON plan found in model output")

// Planner drives goal decomposition and plan revision against a task graph.
type Planner struct {
	logger *zap.Logger
	llm    schemas.LLMClient
	graph  *taskgraph.Graph
	env    schemas.Environment
}

// New wires the planner to its collaborators.
func New(logger *zap.Logger, llm schemas.LLMClient, graph *taskgraph.Graph, env schemas.Environment) *Planner {
	return &Planner{
		logger: logger.Named("planner"),
		llm:    llm,
		graph:  graph,
		env:    env,
	}
}

// Decompose breaks the goal into subtasks and builds the task graph from
// them. toolCatalog is a JSON object of candidate tool descriptions the model
// may reuse.
func (p *Planner) Decompose(ctx context.Context, goal, toolCatalog string) error {
	userPrompt := fmt.Sprintf(userDecomposePrompt,
		runtime.GOOS, goal, toolCatalog, p.env.WorkingDir(), p.env.ListWorkingDir())

	raw, err := p.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: systemDecomposePrompt,
		UserPrompt:   userPrompt,
		Tier:         schemas.TierPowerful,
		Options:      schemas.GenerationOptions{ForceJSONFormat: true},
	})
	if err != nil {
		return fmt.Errorf("decompose generation: %w", err)
	}

	spec, err := parsePlan(raw)
	if err != nil {
		p.logger.Error("Failed to parse decomposition output",
			zap.Error(err), zap.String("output", truncate(raw, 512)))
		return err
	}

	if err := p.graph.Build(spec); err != nil {
		return fmt.Errorf("build task graph: %w", err)
	}
	p.logger.Info("Goal decomposed", zap.Int("subtasks", len(spec)))
	return nil
}

// Replan asks the model for prerequisite subtasks that unblock nodeID and
// merges them into the graph ahead of it.
func (p *Planner) Replan(ctx context.Context, reason, nodeID, toolCatalog string) error {
	node, ok := p.graph.Node(nodeID)
	if !ok {
		return fmt.Errorf("replan target %q: %w", nodeID, taskgraph.ErrUnknownNode)
	}

	userPrompt := fmt.Sprintf(userReplanPrompt,
		runtime.GOOS, nodeID, node.Description, reason, toolCatalog,
		p.env.WorkingDir(), p.env.ListWorkingDir())

	raw, err := p.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: systemReplanPrompt,
		UserPrompt:   userPrompt,
		Tier:         schemas.TierPowerful,
		Options:      schemas.GenerationOptions{ForceJSONFormat: true},
	})
	if err != nil {
		return fmt.Errorf("replan generation: %w", err)
	}

	sub, err := parsePlan(raw)
	if err != nil {
		p.logger.Error("Failed to parse replan output",
			zap.Error(err), zap.String("output", truncate(raw, 512)))
		return err
	}

	if err := p.graph.Merge(nodeID, sub); err != nil {
		return fmt.Errorf("merge replan patch: %w", err)
	}
	p.logger.Info("Plan revised", zap.String("blocked_task", nodeID), zap.Int("new_subtasks", len(sub)))
	return nil
}

// parsePlan extracts the JSON object from the model output and decodes it
// into node specs.
func parsePlan(raw string) (map[string]schemas.NodeSpec, error) {
	payload := extractJSON(raw)
	if payload == "" {
		return nil, ErrNoPlan
	}

	var spec map[string]schemas.NodeSpec
	if err := json.UnmarshalFromString(payload, &spec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoPlan, err)
	}
	if len(spec) == 0 {
		return nil, ErrNoPlan
	}
	return spec, nil
}

// extractJSON pulls the first JSON object out of model output, preferring a
// fenced ```json block and falling back to brace matching.
func extractJSON(raw string) string {
	if idx := strings.Index(raw, "```json"); idx >= 0 {
		rest := raw[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
	}

	start := strings.Index(raw, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			escaped = inString
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return raw[start : i+1]
				}
			}
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
