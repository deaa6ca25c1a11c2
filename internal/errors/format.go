package errors

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// FormatForCLI formats an error for terminal output.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	se, ok := as(err)
	if !ok {
		se = Wrap(ErrCodeInternal, err)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Error: %s\n", se.Message))
	if se.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("  Hint: %s\n", se.Suggestion))
	}
	sb.WriteString(fmt.Sprintf("  Code: %s\n", se.Code))

	return sb.String()
}

// jsonError is the JSON representation of an error.
type jsonError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Category   string            `json:"category"`
	Severity   string            `json:"severity"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Cause      string            `json:"cause,omitempty"`
	Retryable  bool              `json:"retryable"`
}

// FormatJSON returns a JSON representation of the error for machine consumers.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}

	se, ok := as(err)
	if !ok {
		se = Wrap(ErrCodeInternal, err)
	}

	je := jsonError{
		Code:       se.Code,
		Message:    se.Message,
		Category:   string(se.Category),
		Severity:   string(se.Severity),
		Details:    se.Details,
		Suggestion: se.Suggestion,
		Retryable:  se.Retryable,
	}
	if se.Cause != nil {
		je.Cause = se.Cause.Error()
	}

	return json.Marshal(je)
}

// LogAttrs returns slog attributes describing err.
func LogAttrs(err error) []slog.Attr {
	if err == nil {
		return nil
	}

	se, ok := as(err)
	if !ok {
		return []slog.Attr{slog.String("error", err.Error())}
	}

	attrs := []slog.Attr{
		slog.String("error", se.Message),
		slog.String("error_code", se.Code),
		slog.String("category", string(se.Category)),
		slog.Bool("retryable", se.Retryable),
	}
	if se.Cause != nil {
		attrs = append(attrs, slog.String("cause", se.Cause.Error()))
	}
	for k, v := range se.Details {
		attrs = append(attrs, slog.String("detail_"+k, v))
	}
	return attrs
}
