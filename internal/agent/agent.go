// File: internal/agent/agent.go
// Description: The orchestration loop. One Run plans the goal into a task
// graph, then strictly sequentially pops ready nodes, hands each to the
// refinement controller, and reacts to the outcome: completions advance the
// queue, replans graft new prerequisites and re-enter, failures halt the run
// with a structured diagnostic.

package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/strata-cli/api/schemas"
	"github.com/xkilldash9x/strata-cli/internal/config"
	"github.com/xkilldash9x/strata-cli/internal/environment"
	"github.com/xkilldash9x/strata-cli/internal/planner"
	"github.com/xkilldash9x/strata-cli/internal/refine"
	"github.com/xkilldash9x/strata-cli/internal/taskgraph"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// relevantCodeTopK caps how many candidate tool bodies are offered to Python
// code generation.
const relevantCodeTopK = 3

// Agent owns one goal-execution pipeline.
type Agent struct {
	logger  *zap.Logger
	cfg     config.AgentConfig
	llm     schemas.LLMClient
	env     schemas.Environment
	tools   schemas.ToolRepository
	graph   *taskgraph.Graph
	planner *planner.Planner
	refiner *refine.Controller
}

// New wires the full pipeline from injected collaborators.
func New(logger *zap.Logger, cfg config.AgentConfig, llm schemas.LLMClient,
	env schemas.Environment, tools schemas.ToolRepository) *Agent {

	graph := taskgraph.New(logger)
	return &Agent{
		logger:  logger.Named("agent"),
		cfg:     cfg,
		llm:     llm,
		env:     env,
		tools:   tools,
		graph:   graph,
		planner: planner.New(logger, llm, graph, env),
		refiner: refine.New(logger, llm, env, graph, tools, cfg.MaxRepairIterations, cfg.ScoreThreshold),
	}
}

// NewFromConfig assembles an agent with a real execution environment. The
// caller owns env.Terminate via the returned agent's Close.
func NewFromConfig(logger *zap.Logger, cfg *config.Config, llm schemas.LLMClient,
	tools schemas.ToolRepository) (*Agent, error) {

	env, err := environment.New(logger, cfg.Environment)
	if err != nil {
		return nil, fmt.Errorf("initialize execution environment: %w", err)
	}
	return New(logger, cfg.Agent, llm, env, tools), nil
}

// Close releases the execution environment.
func (a *Agent) Close() {
	a.env.Terminate()
}

// Run executes the goal end to end and reports the outcome. Failures surface
// in the RunResult; the error return is reserved for infrastructure faults
// (context cancellation, broken environment).
func (a *Agent) Run(ctx context.Context, goal string) (schemas.RunResult, error) {
	result := schemas.RunResult{
		RunID:     uuid.NewString(),
		Goal:      goal,
		StartedAt: time.Now(),
	}
	log := a.logger.With(zap.String("run_id", result.RunID))
	log.Info("Starting run", zap.String("goal", goal))

	a.graph.Reset()

	catalog, err := a.toolCatalog(ctx, goal)
	if err != nil {
		log.Warn("Tool retrieval failed; planning without catalog", zap.Error(err))
		catalog = "{}"
	}

	if err := a.planner.Decompose(ctx, goal, catalog); err != nil {
		result.EndedAt = time.Now()
		result.Failure = &schemas.SubtaskFailure{
			Kind:   "Planning",
			Reason: "goal decomposition failed: " + err.Error(),
		}
		return result, nil
	}
	log.Info("Plan ready", zap.Int("subtasks", a.graph.Len()), zap.Strings("order", a.graph.ReadyQueue()))

	for {
		if err := ctx.Err(); err != nil {
			result.EndedAt = time.Now()
			return result, err
		}

		nodeID, ok := a.graph.PopReady()
		if !ok {
			break
		}

		outcome, err := a.processNode(ctx, nodeID, goal)
		if err != nil {
			result.EndedAt = time.Now()
			return result, fmt.Errorf("subtask %q: %w", nodeID, err)
		}

		switch outcome.Status {
		case schemas.StatusComplete:
			log.Info("Subtask complete", zap.String("node", nodeID))
			result.Completed = append(result.Completed, nodeID)
			result.Result = outcome.Result

		case schemas.StatusReplan:
			log.Info("Subtask requested replanning",
				zap.String("node", nodeID), zap.String("critique", outcome.Critique))
			if err := a.replan(ctx, nodeID, outcome.Critique); err != nil {
				log.Error("Replanning failed", zap.String("node", nodeID), zap.Error(err))
				result.Failure = &schemas.SubtaskFailure{
					NodeID: nodeID,
					Kind:   "Replan",
					Reason: "replanning failed: " + err.Error(),
				}
				result.EndedAt = time.Now()
				return result, nil
			}
			log.Info("Queue after replanning", zap.Strings("order", a.graph.ReadyQueue()))
			// The node is not done; it re-enters the queue behind its new
			// prerequisites.

		default:
			// The sequential scheduler has no notion of skipping to
			// independent work, so the remaining queue is abandoned.
			result.Failure = outcome.Failure
			result.EndedAt = time.Now()
			return result, nil
		}
	}

	result.EndedAt = time.Now()
	log.Info("Run finished",
		zap.Bool("succeeded", result.Succeeded()),
		zap.Int("completed", len(result.Completed)),
		zap.Duration("elapsed", result.EndedAt.Sub(result.StartedAt)))
	return result, nil
}

// processNode gathers per-node retrieval context and defers to the refiner.
func (a *Agent) processNode(ctx context.Context, nodeID, goal string) (refine.Outcome, error) {
	var relevant map[string]string
	if node, ok := a.graph.Node(nodeID); ok && node.Kind == schemas.KindPython {
		relevant = a.relevantCode(ctx, node.Description)
	}
	return a.refiner.Process(ctx, nodeID, goal, relevant)
}

// replan fetches a fresh catalog keyed on the critique and grafts new
// prerequisites onto the blocked node.
func (a *Agent) replan(ctx context.Context, nodeID, critique string) error {
	catalog, err := a.toolCatalog(ctx, critique)
	if err != nil {
		catalog = "{}"
	}
	return a.planner.Replan(ctx, critique, nodeID, catalog)
}

// toolCatalog returns a JSON object of candidate tool id -> description for
// the given query.
func (a *Agent) toolCatalog(ctx context.Context, query string) (string, error) {
	ids, err := a.tools.SimilaritySearch(ctx, query, a.cfg.RetrievalTopK)
	if err != nil {
		return "", err
	}

	catalog := make(map[string]string, len(ids))
	for _, id := range ids {
		desc, err := a.tools.GetDescription(ctx, id)
		if err != nil {
			a.logger.Warn("Skipping tool with unreadable description", zap.String("id", id), zap.Error(err))
			continue
		}
		catalog[id] = desc
	}
	return json.MarshalToString(catalog)
}

// relevantCode returns candidate tool id -> code bodies for Python
// generation. Retrieval problems degrade to no candidates.
func (a *Agent) relevantCode(ctx context.Context, description string) map[string]string {
	ids, err := a.tools.SimilaritySearch(ctx, description, relevantCodeTopK)
	if err != nil {
		a.logger.Warn("Relevant-code retrieval failed", zap.Error(err))
		return nil
	}

	relevant := make(map[string]string, len(ids))
	for _, id := range ids {
		code, err := a.tools.GetCode(ctx, id)
		if err != nil {
			continue
		}
		relevant[id] = code
	}
	return relevant
}
