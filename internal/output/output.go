// Package output provides consistent CLI output formatting with colors.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Writer provides formatted output for CLI.
type Writer struct {
	out      io.Writer
	useColor bool
	styles   Styles
}

// New creates a Writer that colors output only on a terminal without NO_COLOR.
func New(out io.Writer) *Writer {
	return NewWithColor(out, IsTTY(out) && !DetectNoColor())
}

// NewWithColor creates a Writer with explicit color preference.
func NewWithColor(out io.Writer, useColor bool) *Writer {
	return &Writer{
		out:      out,
		useColor: useColor,
		styles:   GetStyles(!useColor),
	}
}

// IsTTY reports whether w is a terminal.
func IsTTY(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// DetectNoColor checks if NO_COLOR environment variable is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// Status prints a status message with an icon.
// Errors from writing are intentionally ignored for console output.
func (w *Writer) Status(icon, msg string) {
	if icon != "" {
		_, _ = fmt.Fprintf(w.out, "%s %s\n", icon, msg)
	} else {
		_, _ = fmt.Fprintf(w.out, "   %s\n", msg)
	}
}

// Statusf prints a formatted status message with an icon.
func (w *Writer) Statusf(icon, format string, args ...any) {
	w.Status(icon, fmt.Sprintf(format, args...))
}

// Success prints a success message with checkmark.
func (w *Writer) Success(msg string) {
	w.Status(w.styles.Success.Render("✅"), msg)
}

// Successf prints a formatted success message.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints a warning message.
func (w *Writer) Warning(msg string) {
	w.Status("⚠️ ", w.styles.Warning.Render(msg))
}

// Warningf prints a formatted warning message.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints an error message.
func (w *Writer) Error(msg string) {
	w.Status("❌", w.styles.Error.Render(msg))
}

// Errorf prints a formatted error message.
func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// Header prints a bold section title.
func (w *Writer) Header(title string) {
	_, _ = fmt.Fprintln(w.out, w.styles.Header.Render(title))
}

// KeyValue prints an aligned label and value.
func (w *Writer) KeyValue(label string, value any) {
	_, _ = fmt.Fprintf(w.out, "  %s %v\n", w.styles.Label.Render(fmt.Sprintf("%-18s", label+":")), value)
}

// Code prints a code block with indentation.
func (w *Writer) Code(content string) {
	_, _ = fmt.Fprintln(w.out)
	for _, line := range strings.Split(content, "\n") {
		_, _ = fmt.Fprintf(w.out, "  %s\n", line)
	}
	_, _ = fmt.Fprintln(w.out)
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}
