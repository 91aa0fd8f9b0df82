// File: cmd/tools_test.go
package cmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/strata-cli/internal/config"
	"github.com/xkilldash9x/strata-cli/internal/toolrepo"
)

// toolsContext builds a context carrying a memory-backed configuration, the
// same shape PersistentPreRunE installs for real invocations.
func toolsContext(t *testing.T) context.Context {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.ToolRepo.Type = "memory"
	return withConfig(context.Background(), cfg)
}

func TestToolsSearch_EmptyRepository(t *testing.T) {
	quietLogger(t)

	output, err := executeCommandNoPreRun(t, toolsContext(t), "tools", "search", "parse csv")
	require.NoError(t, err)
	assert.Contains(t, output, "No matching tools.")
}

func TestToolsSearch_MissingConfig(t *testing.T) {
	quietLogger(t)

	_, err := executeCommandNoPreRun(t, context.Background(), "tools", "search", "parse csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration missing from command context")
}

func TestToolsShow_UnknownTool(t *testing.T) {
	quietLogger(t)

	_, err := executeCommandNoPreRun(t, toolsContext(t), "tools", "show", "does_not_exist")
	require.Error(t, err)
	assert.ErrorIs(t, err, toolrepo.ErrToolNotFound)
}
