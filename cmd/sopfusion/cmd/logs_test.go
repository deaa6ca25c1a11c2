package cmd

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleLog = `{"time":"2026-10-01T10:00:00Z","level":"DEBUG","msg":"snapshot published","version":1}
{"time":"2026-10-01T10:00:01Z","level":"INFO","msg":"retrieve completed","results":3}
{"time":"2026-10-01T10:00:02Z","level":"WARN","msg":"vector index unavailable","stage":"vector"}
not json
{"time":"2026-10-01T10:00:03Z","level":"ERROR","msg":"reindex after file change failed"}
`

func TestLogsCmd_TailAndLevel(t *testing.T) {
	// Given: a log file with mixed levels
	path := filepath.Join(t.TempDir(), "server.log")
	writeFile(t, path, sampleLog)

	// When: showing warnings and above
	out, stderr, err := execute(t, "logs", "--file", path, "--level", "warn")

	// Then: only WARN and ERROR records are formatted
	require.NoError(t, err)
	assert.Contains(t, stderr, path)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "2026-10-01T10:00:02Z WARN  vector index unavailable stage=vector", lines[0])
	assert.Contains(t, lines[1], "reindex after file change failed")
}

func TestLogsCmd_LinesAndFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	writeFile(t, path, sampleLog)

	out, _, err := execute(t, "logs", "--file", path, "-n", "2", "--raw")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "not json", lines[0])

	out, _, err = execute(t, "logs", "--file", path, "--filter", "retrieve")
	require.NoError(t, err)
	assert.Equal(t, "2026-10-01T10:00:01Z INFO  retrieve completed results=3", strings.TrimSpace(out))
}

func TestLogsCmd_MissingFile(t *testing.T) {
	_, _, err := execute(t, "logs", "--file", filepath.Join(t.TempDir(), "none.log"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "log file not found")
}

func TestLogsCmd_InvalidFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	writeFile(t, path, sampleLog)

	_, _, err := execute(t, "logs", "--file", path, "--filter", "(")

	require.Error(t, err)
}

func TestFormatLogLine_NotJSON(t *testing.T) {
	assert.Equal(t, "plain text", formatLogLine("plain text"))
}
