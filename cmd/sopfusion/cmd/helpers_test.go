package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sopsJSON = `[
  {"id": "A", "title": "Duplicate vessel name", "overview": "Vessel name conflicts during creation.", "module": "Vessel", "resolution": "1. Check the vessel registry."},
  {"id": "B", "title": "Container gate-in failure", "overview": "Gate transaction rejected at terminal entry.", "module": "Gate"},
  {"id": "C", "title": "EDI message parse error", "overview": "Inbound EDI file malformed.", "module": "EDI"}
]`

const casesYAML = `- case_id: CASE-1
  title: Duplicate vessel name on creation
  problem: Vessel MSC ANNA created twice.
  module: Vessel
- case_id: CASE-2
  title: Container gate-in rejected
  problem: Gate transaction failed for container.
  module: Container
`

// newProject creates a project directory with a SOP corpus and a project
// config, and isolates user config and logs from the real home directory.
func newProject(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "sops.json"), sopsJSON)
	writeFile(t, filepath.Join(dir, ".sopfusion.yaml"), "corpus:\n  path: sops.json\n")
	return dir
}

// withCases adds a case corpus and points case_match.cases_path at it.
func withCases(t *testing.T, dir string) {
	t.Helper()
	writeFile(t, filepath.Join(dir, "cases.yaml"), casesYAML)
	writeFile(t, filepath.Join(dir, ".sopfusion.yaml"),
		"corpus:\n  path: sops.json\ncase_match:\n  cases_path: cases.yaml\n")
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCmd()
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}
