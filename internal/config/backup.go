package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	// MaxBackups is the number of config backups kept per file.
	MaxBackups = 3

	// BackupSuffix is inserted between the config name and the timestamp.
	BackupSuffix = ".bak"
)

// BackupFile copies path to path.bak.<timestamp> before it is overwritten and
// prunes older backups beyond MaxBackups. A missing file is not an error and
// yields an empty backup path.
func BackupFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read config for backup: %w", err)
	}

	backupPath := fmt.Sprintf("%s%s.%s", path, BackupSuffix, time.Now().Format("20060102-150405.000"))
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write backup: %w", err)
	}

	backups, err := ListBackups(path)
	if err == nil && len(backups) > MaxBackups {
		for _, old := range backups[MaxBackups:] {
			_ = os.Remove(old)
		}
	}

	return backupPath, nil
}

// ListBackups returns backups of path, newest first. Timestamps sort
// lexically, so the name order is the age order.
func ListBackups(path string) ([]string, error) {
	dir, base := filepath.Dir(path), filepath.Base(path)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list config directory: %w", err)
	}

	prefix := base + BackupSuffix + "."
	var backups []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), prefix) {
			backups = append(backups, filepath.Join(dir, entry.Name()))
		}
	}

	sort.Sort(sort.Reverse(sort.StringSlice(backups)))
	return backups, nil
}
