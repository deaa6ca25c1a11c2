package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// RotatingWriter implements io.Writer with size-based rotation.
type RotatingWriter struct {
	path     string
	maxSize  int64
	maxFiles int

	mu      sync.Mutex
	file    *os.File
	written int64
	// syncEach fsyncs after every write so `tail -f` sees records at once.
	syncEach bool
}

// NewRotatingWriter opens path for appending and rotates it once it grows past
// maxSizeMB, keeping at most maxFiles numbered backups.
func NewRotatingWriter(path string, maxSizeMB, maxFiles int) (*RotatingWriter, error) {
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	if maxFiles <= 0 {
		maxFiles = 5
	}
	w := &RotatingWriter{
		path:     path,
		maxSize:  int64(maxSizeMB) * 1024 * 1024,
		maxFiles: maxFiles,
		syncEach: true,
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	if err := w.openFile(); err != nil {
		return nil, err
	}

	return w, nil
}

// SetSyncEach toggles fsync after every write.
func (w *RotatingWriter) SetSyncEach(enabled bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.syncEach = enabled
}

// Write implements io.Writer with automatic rotation.
func (w *RotatingWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.written+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "log rotation failed: %v\n", err)
		}
	}

	if w.file == nil {
		if err := w.openFile(); err != nil {
			return 0, err
		}
	}

	n, err = w.file.Write(p)
	w.written += int64(n)

	if w.syncEach && err == nil {
		_ = w.file.Sync()
	}

	return
}

// Close closes the underlying file.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		return w.file.Close()
	}
	return nil
}

// Sync flushes the file to disk.
func (w *RotatingWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		return w.file.Sync()
	}
	return nil
}

func (w *RotatingWriter) openFile() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}

	w.file = f
	w.written = info.Size()
	return nil
}

// rotate shifts server.log -> server.log.1 -> ... -> server.log.N and drops
// anything numbered N or above.
func (w *RotatingWriter) rotate() error {
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			return fmt.Errorf("failed to close log file: %w", err)
		}
		w.file = nil
	}

	backups, err := w.backups()
	if err != nil {
		return err
	}

	// Highest first so renames never overwrite a file still to be moved.
	sort.Sort(sort.Reverse(sort.IntSlice(backups)))
	for _, num := range backups {
		src := fmt.Sprintf("%s.%d", w.path, num)
		if num >= w.maxFiles {
			_ = os.Remove(src)
			continue
		}
		_ = os.Rename(src, fmt.Sprintf("%s.%d", w.path, num+1))
	}

	if _, err := os.Stat(w.path); err == nil {
		if err := os.Rename(w.path, w.path+".1"); err != nil {
			return fmt.Errorf("failed to rotate log file: %w", err)
		}
	}

	w.written = 0
	return w.openFile()
}

// backups lists the numeric suffixes of existing rotated files.
func (w *RotatingWriter) backups() ([]int, error) {
	base := filepath.Base(w.path)
	matches, err := filepath.Glob(filepath.Join(filepath.Dir(w.path), base+".*"))
	if err != nil {
		return nil, fmt.Errorf("failed to find rotated files: %w", err)
	}

	var nums []int
	for _, m := range matches {
		num, err := strconv.Atoi(strings.TrimPrefix(filepath.Base(m), base+"."))
		if err != nil {
			continue
		}
		nums = append(nums, num)
	}
	return nums, nil
}
