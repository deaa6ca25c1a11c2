package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/sopfusion/internal/logging"
)

type logsOptions struct {
	lines   int
	level   string
	filter  string
	logFile string
	raw     bool
}

func newLogsCmd() *cobra.Command {
	var opts logsOptions

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent server log entries",
		Long: `Show the last entries of the server log (~/.sopfusion/logs/server.log).

Examples:
  sopfusion logs                    # Last 50 entries
  sopfusion logs -n 200 --level warn
  sopfusion logs --filter retrieve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogs(cmd, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.lines, "lines", "n", 50, "Number of entries to show")
	cmd.Flags().StringVar(&opts.level, "level", "", "Minimum level (debug|info|warn|error)")
	cmd.Flags().StringVar(&opts.filter, "filter", "", "Only entries matching this pattern (regex)")
	cmd.Flags().StringVar(&opts.logFile, "file", "", "Path to log file")
	cmd.Flags().BoolVar(&opts.raw, "raw", false, "Print the JSON records unformatted")

	return cmd
}

func runLogs(cmd *cobra.Command, opts logsOptions) error {
	path, err := logging.FindLogFile(opts.logFile)
	if err != nil {
		return err
	}

	var pattern *regexp.Regexp
	if opts.filter != "" {
		if pattern, err = regexp.Compile(opts.filter); err != nil {
			return fmt.Errorf("invalid filter pattern: %w", err)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	lines, err := tailLines(f, opts.lines, func(line string) bool {
		if pattern != nil && !pattern.MatchString(line) {
			return false
		}
		return opts.level == "" || levelOf(line) >= logging.LevelFromString(opts.level)
	})
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Log file: %s\n---\n", path)
	for _, line := range lines {
		if !opts.raw {
			line = formatLogLine(line)
		}
		if _, err := fmt.Fprintln(cmd.OutOrStdout(), line); err != nil {
			return err
		}
	}
	return nil
}

// tailLines returns the last n lines of r accepted by keep.
func tailLines(r io.Reader, n int, keep func(string) bool) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	ring := make([]string, 0, n)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" || !keep(line) {
			continue
		}
		if len(ring) == n {
			ring = append(ring[:0], ring[1:]...)
		}
		ring = append(ring, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}
	return ring, nil
}

// levelOf returns the record's slog level; unparsable lines count as info.
func levelOf(line string) slog.Level {
	var rec struct {
		Level string `json:"level"`
	}
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		return slog.LevelInfo
	}
	return logging.LevelFromString(rec.Level)
}

// formatLogLine renders a JSON record as "time LEVEL msg key=value ...".
// Lines that are not JSON are returned unchanged.
func formatLogLine(line string) string {
	var rec map[string]any
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		return line
	}

	var sb strings.Builder
	if ts, ok := rec["time"].(string); ok {
		sb.WriteString(ts)
		sb.WriteByte(' ')
	}
	if lvl, ok := rec["level"].(string); ok {
		fmt.Fprintf(&sb, "%-5s ", lvl)
	}
	if msg, ok := rec["msg"].(string); ok {
		sb.WriteString(msg)
	}

	keys := make([]string, 0, len(rec))
	for k := range rec {
		switch k {
		case "time", "level", "msg":
		default:
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%v", k, rec[k])
	}
	return sb.String()
}
