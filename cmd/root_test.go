package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/mops-cli/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"fetch", "batch", "history", "rules", "serve"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "mops-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestFetchCommand_Flags(t *testing.T) {
	for _, name := range []string{"company", "year", "quarter", "strict", "output", "only-missing", "progress", "rules"} {
		require.NotNil(t, fetchCmd.Flags().Lookup(name), "fetch should have --%s", name)
	}
	assert.Equal(t, "all", fetchCmd.Flags().Lookup("quarter").DefValue)
	assert.Equal(t, "false", fetchCmd.Flags().Lookup("strict").DefValue)
}

func TestBatchCommand_Flags(t *testing.T) {
	flag := batchCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "0", flag.DefValue)
	require.NotNil(t, batchCmd.Flags().Lookup("csv"))
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag)
	assert.Equal(t, "0", flag.DefValue)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, 2, exitCode(model.Errorf(model.ErrValidation, "bad company")))
	assert.Equal(t, 2, exitCode(model.Errorf(model.ErrConfiguration, "bad regex")))
	assert.Equal(t, 1, exitCode(errors.New("boom")))
}
