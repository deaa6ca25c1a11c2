package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultLogDir returns ~/.sopfusion/logs, or a temp-dir equivalent when the
// home directory is unavailable.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".sopfusion", "logs")
	}
	return filepath.Join(home, ".sopfusion", "logs")
}

// DefaultLogPath returns the default server log path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "server.log")
}

// FindLogFile resolves the log file to show, preferring an explicit path.
func FindLogFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit, nil
		}
		return "", fmt.Errorf("log file not found: %s", explicit)
	}

	path := DefaultLogPath()
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("no log file found, run with --debug first.\nExpected at: %s", path)
}
