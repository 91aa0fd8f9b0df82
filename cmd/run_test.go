// File: cmd/run_test.go
package cmd

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/strata-cli/api/schemas"
)

func TestPrintRunResult_Success(t *testing.T) {
	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)

	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	printRunResult(cmd, schemas.RunResult{
		RunID:     "run-1",
		Goal:      "summarize the report",
		Result:    "Summary text",
		Completed: []string{"download_report", "summarize"},
		StartedAt: started,
		EndedAt:   started.Add(1500 * time.Millisecond),
	})

	assert.Contains(t, out.String(), "Run run-1 (1.5s)")
	assert.Contains(t, out.String(), "Goal: summarize the report")
	assert.Contains(t, out.String(), "Completed subtasks: 2")
	assert.Contains(t, out.String(), "Result:\nSummary text")
	assert.NotContains(t, out.String(), "Failed at")
}

func TestPrintRunResult_Failure(t *testing.T) {
	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)

	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	printRunResult(cmd, schemas.RunResult{
		RunID:     "run-2",
		Goal:      "summarize the report",
		Completed: []string{"download_report"},
		StartedAt: started,
		EndedAt:   started.Add(2 * time.Second),
		Failure: &schemas.SubtaskFailure{
			NodeID:   "summarize",
			Kind:     "Judgement",
			Reason:   "repair budget exhausted",
			Critique: "output truncated",
		},
	})

	assert.Contains(t, out.String(), "Failed at summarize (Judgement): repair budget exhausted")
	assert.Contains(t, out.String(), "Critique: output truncated")
	assert.NotContains(t, out.String(), "Result:")
}

func TestPrintRunResult_FailureWithoutCritique(t *testing.T) {
	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)

	printRunResult(cmd, schemas.RunResult{
		RunID: "run-3",
		Goal:  "fetch a page",
		Failure: &schemas.SubtaskFailure{
			NodeID: "fetch_page",
			Kind:   "Planning",
			Reason: "no plan produced",
		},
	})

	assert.Contains(t, out.String(), "Failed at fetch_page (Planning): no plan produced")
	assert.NotContains(t, out.String(), "Critique:")
}
