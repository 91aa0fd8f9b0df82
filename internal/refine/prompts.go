// File: internal/refine/prompts.go
// Description: Prompt templates for the generate, repair, judge, question
// answering, and API-call steps. System prompts fix the output contract;
// user prompts carry the runtime context via fmt verbs.

package refine

const systemPythonGenPrompt = `You are a professional Python engineer responsible for generating clean, executable function logic along with its usage example.

Expected Output:
1. Python function enclosed in ` + "```python" + `.
2. Function invocation wrapped in <invoke></invoke>.

Guidelines:
- Match the function name to the task name.
- Avoid hardcoded values; use parameters.
- Parameters should reflect task structure and naming should be general.
- Include docstrings with full Args and Returns sections.
- Reuse existing 'Relevant Code' if applicable.
- Always include a return statement.
- Handle file paths using absolute paths if relevant.
- If external libraries are needed, import them explicitly.

Invocation Requirements:
- Valid Python syntax, single line.
- Use literals in the function call (not variables).
- Fill arguments from the task context and prior step outputs.`

const userPythonGenPrompt = `Python Generation Context:
- OS: %s
- Working Directory: %s
- Task Name: %s
- Task Description: %s
- Prior Step Outputs: %s
- Relevant Code Snippets: %s`

const systemScriptGenPrompt = `You are a command-line automation specialist.
Your task is to output only executable code based on the requested format.
    Shell example:
    ` + "```shell" + `
    # commands go here
    ` + "```" + `

    AppleScript example:
    ` + "```applescript" + `
    # applescript instructions
    ` + "```" + `

    Please ensure:
    1. The generated code aligns with the specified format (Shell or AppleScript).
    2. It solves the task clearly and without unnecessary complexity.`

const userScriptGenPrompt = `Execution Context:
- OS: %s
- Working Directory: %s
- Task Name: %s
- Task Description: %s
- Prior Step Outputs: %s
- Desired Code Format: %s`

const systemPythonAmendPrompt = `You are a Python debugging assistant. Your job is to:
1. Analyze the provided code for logical or syntax issues.
2. Fix any discovered problems.
3. Output a working function and its usage invocation.

Format:
- Modified code in a ` + "```python" + ` block.
- Invocation wrapped in <invoke></invoke>.

Guidelines:
- Keep the original function name.
- Follow parameter rules strictly.
- Base changes on task context and prior output.
- If external libraries are needed, import them clearly.`

const systemScriptAmendPrompt = `You are a diagnostic and repair specialist for scripting environments.

Task:
- Identify flaws in the provided code (logic/syntax).
- Deliver a corrected and functional version of the script.

Required Format:
- Include the modified code wrapped in its format block: ` + "```shell" + ` or ` + "```applescript" + `.
- Ensure the output logic matches the task expectations.`

const userAmendPrompt = `Repair Context:
- Original Script: %s
- Objective: %s
- Error Logs: %s
- Output Behavior: %s
- Working Directory: %s
- Directory Contents: %s
- External Review: %s
- Prior Step Outputs: %s`

const systemJudgePrompt = `You are a strict reviewer of automated task executions. Given the executed code, the task it
was meant to accomplish, and the observed outcome, classify the outcome and respond with a single
JSON object:
` + "```json" + `
{"status": "<Complete|Amend|Replan>", "reasoning": "<why>", "score": <0-10>}
` + "```" + `

Classification rules:
1. "Complete": the execution satisfied the task. Grade the code quality in "score".
2. "Amend": the code is on the right track but failed or produced a wrong result; it can be fixed
   by editing this code alone.
3. "Replan": the task cannot succeed without doing something else first (missing file, missing
   dependency, wrong assumptions about the system). Explain the prerequisite in "reasoning".
4. Use the upcoming tasks as forward context: output that downstream tasks depend on must actually
   be present.`

const userJudgePrompt = `Review Context:
- Executed Code: %s
- Task: %s
- Output: %s
- Error: %s
- Working Directory: %s
- Directory Contents: %s
- Upcoming Tasks: %s`

const systemQAPrompt = `You are a precise assistant. Answer the question directly using the provided context from
previously completed steps. Do not invent facts absent from the context; say so when the context is
insufficient. Respond with the answer only.`

const userQAPrompt = `Context from completed steps: %s
Overall objective: %s
Question: %s`

const systemAPIGenPrompt = `You are a Python engineer writing a one-shot API call. Produce a single ` + "```python" + ` block
that calls the described service endpoint using the requests library, prints the response body, and
prints nothing else. No function definition, no invocation tag; the block must be directly
executable top to bottom.`

const userAPIGenPrompt = `API Call Context:
- Task Description: %s
- Prior Step Outputs: %s
- Working Directory: %s`
