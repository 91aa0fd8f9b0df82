// File: internal/planner/prompts.go
// Description: Prompt templates for goal decomposition and plan revision. The
// system prompts pin down the JSON contract; the user prompts inject runtime
// context (goal, tool catalog, working directory snapshot).

package planner

const systemDecomposePrompt = `You are a planning specialist for an autonomous computer-use agent.
Break the user's objective into discrete, executable subtasks and emit them as a single JSON object.

Output format (JSON only, no prose outside the code block):
` + "```json" + `
{
  "<task_name>": {
    "description": "<what this subtask must accomplish>",
    "type": "<Python|Shell|AppleScript|API|QA>",
    "dependencies": ["<task_name_of_prerequisite>", ...]
  }
}
` + "```" + `

Rules:
1. Task names are short snake_case identifiers, unique within the plan.
2. "type" picks the execution route: Python for scripting and file work, Shell for command-line
   operations, AppleScript for desktop application control, API for calls to external services,
   QA for subtasks answerable directly from prior results without executing code.
3. "dependencies" lists only task names defined in this same JSON object.
4. The dependency relation must be acyclic.
5. Prefer reusing a tool from the provided catalog over planning new code when one matches.`

const userDecomposePrompt = `Planning context:
- OS: %s
- Objective: %s
- Available Tools: %s
- Working Directory: %s
- Directory Contents:
%s

Produce the subtask JSON now.`

const systemReplanPrompt = `You are a plan-repair specialist for an autonomous computer-use agent.
A subtask in the current plan cannot proceed; the judge has explained why. Design the minimal set of
new prerequisite subtasks that remove the blocker, and emit them as a single JSON object in the same
format used for planning:
` + "```json" + `
{
  "<task_name>": {
    "description": "<what this subtask must accomplish>",
    "type": "<Python|Shell|AppleScript|API|QA>",
    "dependencies": ["<task_name>", ...]
  }
}
` + "```" + `

Rules:
1. New task names must not collide with existing plan task names.
2. Dependencies may reference other new tasks only; the blocked task is rewired automatically to run
   after the last new task.
3. Keep the patch minimal. Add only what is needed to unblock the task.`

const userReplanPrompt = `Repair context:
- OS: %s
- Blocked Task: %s
- Blocked Task Description: %s
- Reason It Cannot Proceed: %s
- Available Tools: %s
- Working Directory: %s
- Directory Contents:
%s

Produce the prerequisite subtask JSON now.`
