// File: internal/refine/controller.go
// Description: The per-subtask refinement state machine. A ready node enters
// at Process and moves through generate, execute, judge, and a bounded repair
// loop until it lands on Complete, Replan, or a reported failure. QA nodes
// skip execution entirely; API nodes execute once with no repair cycle.

package refine

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/strata-cli/api/schemas"
	"github.com/xkilldash9x/strata-cli/internal/taskgraph"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// judgeContextLimit caps how much command output is quoted into the judge
// prompt.
const judgeContextLimit = 1000

// Outcome is the terminal state of one subtask's refinement.
type Outcome struct {
	// Status is Complete, Replan, or Error. Amend never escapes the
	// controller; it only drives the internal repair loop.
	Status   schemas.JudgementStatus
	Critique string
	Result   string
	Failure  *schemas.SubtaskFailure
}

// Controller drives subtasks through generate/execute/judge/repair.
type Controller struct {
	logger *zap.Logger
	llm    schemas.LLMClient
	env    schemas.Environment
	graph  *taskgraph.Graph
	tools  schemas.ToolRepository

	maxRepairIterations int
	scoreThreshold      float64
}

// New wires the controller to its collaborators.
func New(logger *zap.Logger, llm schemas.LLMClient, env schemas.Environment,
	graph *taskgraph.Graph, tools schemas.ToolRepository,
	maxRepairIterations int, scoreThreshold float64) *Controller {
	return &Controller{
		logger:              logger.Named("refine"),
		llm:                 llm,
		env:                 env,
		graph:               graph,
		tools:               tools,
		maxRepairIterations: maxRepairIterations,
		scoreThreshold:      scoreThreshold,
	}
}

// Process resolves one ready node. goal is the overall objective, used as QA
// context and as the question when the plan is a single QA node. relevantCode
// maps candidate tool ids to code bodies for Python generation.
func (c *Controller) Process(ctx context.Context, nodeID, goal string, relevantCode map[string]string) (Outcome, error) {
	node, ok := c.graph.Node(nodeID)
	if !ok {
		return Outcome{}, fmt.Errorf("process %q: %w", nodeID, taskgraph.ErrUnknownNode)
	}

	preInfo, err := c.graph.PredecessorSummary(nodeID)
	if err != nil {
		return Outcome{}, fmt.Errorf("predecessor summary for %q: %w", nodeID, err)
	}

	log := c.logger.With(zap.String("node", nodeID), zap.String("kind", node.Kind.String()))
	log.Info("Processing subtask", zap.String("description", node.Description))

	switch {
	case node.Kind == schemas.KindQA:
		return c.processQA(ctx, node, goal, preInfo)
	case node.Kind == schemas.KindAPI:
		return c.processAPI(ctx, node, preInfo)
	default:
		return c.processCode(ctx, node, preInfo, relevantCode)
	}
}

// processQA answers directly from prior results. The judge is never involved.
func (c *Controller) processQA(ctx context.Context, node *schemas.ActionNode, goal, preInfo string) (Outcome, error) {
	// A single-node plan means the QA node carries the whole goal.
	question := node.Description
	if c.graph.Len() == 1 {
		question = goal
	}

	answer, err := c.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: systemQAPrompt,
		UserPrompt:   fmt.Sprintf(userQAPrompt, preInfo, goal, question),
		Tier:         schemas.TierPowerful,
	})
	if err != nil {
		return c.fail(node, "answer generation failed: "+err.Error(), "", 0), nil
	}

	if err := c.graph.MarkDone(node.ID, answer, ""); err != nil {
		return Outcome{}, err
	}
	return Outcome{Status: schemas.StatusComplete, Result: answer}, nil
}

// processAPI generates and executes a single call. Errors are reported, never
// repaired.
func (c *Controller) processAPI(ctx context.Context, node *schemas.ActionNode, preInfo string) (Outcome, error) {
	raw, err := c.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: systemAPIGenPrompt,
		UserPrompt:   fmt.Sprintf(userAPIGenPrompt, node.Description, preInfo, c.env.WorkingDir()),
		Tier:         schemas.TierPowerful,
	})
	if err != nil {
		return c.fail(node, "call generation failed: "+err.Error(), "", 0), nil
	}
	code, err := extractCode(raw, "python")
	if err != nil {
		return c.fail(node, err.Error(), "", 0), nil
	}

	state, err := c.env.Step(ctx, "python", code)
	if err != nil {
		return Outcome{}, fmt.Errorf("execute API call for %q: %w", node.ID, err)
	}
	if !state.OK() {
		return c.fail(node, "API call failed: "+state.Error, "", 1), nil
	}

	if err := c.graph.MarkDone(node.ID, strings.TrimSpace(state.Result), code); err != nil {
		return Outcome{}, err
	}
	return Outcome{Status: schemas.StatusComplete, Result: state.Result}, nil
}

// processCode runs the full generate/execute/judge cycle with the bounded
// repair loop for Python, Shell, and AppleScript nodes.
func (c *Controller) processCode(ctx context.Context, node *schemas.ActionNode, preInfo string, relevantCode map[string]string) (Outcome, error) {
	code, invocation, err := c.generate(ctx, node, preInfo, relevantCode)
	if err != nil {
		return c.fail(node, "code generation failed: "+err.Error(), "", 0), nil
	}

	state, err := c.execute(ctx, node.Kind, code, invocation)
	if err != nil {
		return Outcome{}, err
	}

	var judgement schemas.Judgement
	if state.OK() {
		judgement, err = c.judge(ctx, node, code, state)
		if err != nil {
			return c.fail(node, "judgement failed: "+err.Error(), "", 0), nil
		}
	} else {
		// A failed execution goes straight to repair; the judge only sees
		// clean runs.
		judgement = schemas.Judgement{Status: schemas.StatusAmend, Critique: state.Error}
	}

	attempts := 0
	for judgement.Status == schemas.StatusAmend && attempts < c.maxRepairIterations {
		attempts++
		c.logger.Info("Repair attempt",
			zap.String("node", node.ID), zap.Int("attempt", attempts), zap.Int("budget", c.maxRepairIterations))

		code, invocation, err = c.repair(ctx, node, code, state, judgement.Critique, preInfo)
		if err != nil {
			return c.fail(node, "repair generation failed: "+err.Error(), judgement.Critique, attempts), nil
		}

		state, err = c.execute(ctx, node.Kind, code, invocation)
		if err != nil {
			return Outcome{}, err
		}

		if !state.OK() {
			judgement = schemas.Judgement{Status: schemas.StatusAmend, Critique: state.Error}
			continue
		}
		judgement, err = c.judge(ctx, node, code, state)
		if err != nil {
			return c.fail(node, "judgement failed: "+err.Error(), "", attempts), nil
		}
	}

	switch judgement.Status {
	case schemas.StatusComplete:
		return c.complete(ctx, node, code, state, judgement)
	case schemas.StatusReplan:
		return Outcome{Status: schemas.StatusReplan, Critique: judgement.Critique, Result: state.Result}, nil
	case schemas.StatusAmend:
		return c.fail(node, fmt.Sprintf("repair budget exhausted after %d attempts", attempts),
			judgement.Critique, attempts), nil
	default:
		return c.fail(node, "judge returned an unrecognized status", judgement.Critique, attempts), nil
	}
}

// complete marks the node done and persists high-scoring Python code as a
// reusable tool. Persistence is deliberately Python-only.
func (c *Controller) complete(ctx context.Context, node *schemas.ActionNode, code string,
	state schemas.ExecState, judgement schemas.Judgement) (Outcome, error) {

	returnValue := extractReturnValue(state.Result)
	if err := c.graph.MarkDone(node.ID, returnValue, code); err != nil {
		return Outcome{}, err
	}

	if node.Kind == schemas.KindPython && judgement.Score >= c.scoreThreshold {
		exists, err := c.tools.Exists(ctx, node.ID)
		if err != nil {
			c.logger.Warn("Tool existence check failed", zap.String("node", node.ID), zap.Error(err))
		} else if !exists {
			tool := schemas.Tool{ID: node.ID, Code: code, Description: node.Description, CreatedAt: time.Now()}
			if err := c.tools.Add(ctx, tool); err != nil {
				c.logger.Warn("Tool persistence failed", zap.String("node", node.ID), zap.Error(err))
			} else {
				c.logger.Info("Tool stored in repository",
					zap.String("node", node.ID), zap.Float64("score", judgement.Score))
			}
		}
	}

	return Outcome{Status: schemas.StatusComplete, Result: state.Result}, nil
}

// generate produces first-draft code for the node. Python nodes get a
// function plus an <invoke> call; script nodes get a bare code block.
func (c *Controller) generate(ctx context.Context, node *schemas.ActionNode, preInfo string, relevantCode map[string]string) (string, string, error) {
	var sysPrompt, userPrompt string
	if node.Kind == schemas.KindPython {
		refs, _ := json.MarshalToString(relevantCode)
		sysPrompt = systemPythonGenPrompt
		userPrompt = fmt.Sprintf(userPythonGenPrompt,
			runtime.GOOS, c.env.WorkingDir(), node.ID, node.Description, preInfo, refs)
	} else {
		sysPrompt = systemScriptGenPrompt
		userPrompt = fmt.Sprintf(userScriptGenPrompt,
			runtime.GOOS, c.env.WorkingDir(), node.ID, node.Description, preInfo, node.Kind.String())
	}

	raw, err := c.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: sysPrompt,
		UserPrompt:   userPrompt,
		Tier:         schemas.TierPowerful,
	})
	if err != nil {
		return "", "", err
	}

	code, err := extractCode(raw, node.Kind.String())
	if err != nil {
		return "", "", err
	}
	invocation := ""
	if node.Kind == schemas.KindPython {
		invocation = extractTagged(raw, "<invoke>", "</invoke>")
		if invocation == "" {
			return "", "", fmt.Errorf("no <invoke> call in model output")
		}
	}
	return code, invocation, nil
}

// repair asks for a corrected version of previously failing code.
func (c *Controller) repair(ctx context.Context, node *schemas.ActionNode, code string,
	state schemas.ExecState, critique, preInfo string) (string, string, error) {

	sysPrompt := systemScriptAmendPrompt
	if node.Kind == schemas.KindPython {
		sysPrompt = systemPythonAmendPrompt
	}
	userPrompt := fmt.Sprintf(userAmendPrompt,
		code, node.Description, state.Error, state.Result,
		c.env.WorkingDir(), state.DirListing, critique, preInfo)

	raw, err := c.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: sysPrompt,
		UserPrompt:   userPrompt,
		Tier:         schemas.TierPowerful,
	})
	if err != nil {
		return "", "", err
	}

	newCode, err := extractCode(raw, node.Kind.String())
	if err != nil {
		return "", "", err
	}
	invocation := ""
	if node.Kind == schemas.KindPython {
		invocation = extractTagged(raw, "<invoke>", "</invoke>")
		if invocation == "" {
			return "", "", fmt.Errorf("no <invoke> call in repair output")
		}
	}
	return newCode, invocation, nil
}

// execute assembles the runnable script and dispatches it. Python code gains
// the invocation plus return-tag printing so the result can be extracted from
// console output.
func (c *Controller) execute(ctx context.Context, kind schemas.NodeKind, code, invocation string) (schemas.ExecState, error) {
	script := code
	if kind == schemas.KindPython {
		script = code + "\nresult=" + invocation + "\nprint(\"<return>\")\nprint(result)\nprint(\"</return>\")"
	}
	return c.env.Step(ctx, kind.String(), script)
}

// judge classifies a clean execution. Unparseable verdicts collapse to
// StatusError rather than crashing the run.
func (c *Controller) judge(ctx context.Context, node *schemas.ActionNode, code string, state schemas.ExecState) (schemas.Judgement, error) {
	nextActions, _ := json.MarshalToString(node.NextActions)
	userPrompt := fmt.Sprintf(userJudgePrompt,
		code, node.Description,
		truncateForPrompt(state.Result, judgeContextLimit), state.Error,
		state.WorkingDir, state.DirListing, nextActions)

	raw, err := c.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: systemJudgePrompt,
		UserPrompt:   userPrompt,
		Tier:         schemas.TierPowerful,
		Options:      schemas.GenerationOptions{ForceJSONFormat: true},
	})
	if err != nil {
		return schemas.Judgement{}, err
	}
	return parseJudgement(raw)
}

// parseJudgement decodes the judge's JSON verdict from raw model output.
func parseJudgement(raw string) (schemas.Judgement, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return schemas.Judgement{Status: schemas.StatusError},
			fmt.Errorf("no JSON object in judge output")
	}

	var verdict struct {
		Status    string  `json:"status"`
		Reasoning string  `json:"reasoning"`
		Score     float64 `json:"score"`
	}
	if err := json.UnmarshalFromString(raw[start:end+1], &verdict); err != nil {
		return schemas.Judgement{Status: schemas.StatusError},
			fmt.Errorf("malformed judge output: %w", err)
	}

	return schemas.Judgement{
		Status:   schemas.ParseJudgementStatus(verdict.Status),
		Critique: verdict.Reasoning,
		Score:    verdict.Score,
	}, nil
}

func (c *Controller) fail(node *schemas.ActionNode, reason, critique string, attempts int) Outcome {
	c.logger.Error("Subtask failed",
		zap.String("node", node.ID), zap.String("reason", reason), zap.Int("attempts", attempts))
	return Outcome{
		Status: schemas.StatusError,
		Failure: &schemas.SubtaskFailure{
			NodeID:   node.ID,
			Kind:     node.Kind.String(),
			Reason:   reason,
			Critique: critique,
			Attempts: attempts,
		},
	}
}
