package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/sopfusion/pkg/version"
)

func TestRootCmd_ShowsHelp(t *testing.T) {
	// Given: a root command

	// When: executing with --help
	out, _, err := execute(t, "--help")

	// Then: it lists the subcommands
	require.NoError(t, err)
	for _, name := range []string{"retrieve", "search", "cases", "index", "status", "serve", "init", "config", "logs", "version"} {
		assert.Contains(t, out, name)
	}
}

func TestRootCmd_Version(t *testing.T) {
	// When: executing with --version
	out, _, err := execute(t, "--version")

	// Then: it prints the version template
	require.NoError(t, err)
	assert.Equal(t, "sopfusion version "+version.Version+"\n", out)
}

func TestRootCmd_UnknownCommand(t *testing.T) {
	// When: executing an unknown subcommand
	_, _, err := execute(t, "frobnicate")

	// Then: it fails
	require.Error(t, err)
}
