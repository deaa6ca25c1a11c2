package output

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriter_Status_PrintsIconAndMessage(t *testing.T) {
	// Given: a writer with a buffer
	buf := &bytes.Buffer{}
	w := New(buf)

	// When: printing a status message
	w.Status("🔍", "Loading corpus...")

	// Then: output contains icon and message
	assert.Equal(t, "🔍 Loading corpus...\n", buf.String())
}

func TestWriter_Status_NoIconIndents(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Status("", "detail")

	assert.Equal(t, "   detail\n", buf.String())
}

func TestWriter_Success_PrintsCheckmark(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Successf("Indexed %d SOPs", 12)

	assert.Contains(t, buf.String(), "✅")
	assert.Contains(t, buf.String(), "Indexed 12 SOPs")
}

func TestWriter_Warning_PrintsWarningIcon(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Warningf("vector index %s", "unavailable")

	assert.Contains(t, buf.String(), "⚠️")
	assert.Contains(t, buf.String(), "vector index unavailable")
}

func TestWriter_Error_PrintsErrorIcon(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Errorf("corpus %s not found", "sops.json")

	assert.Contains(t, buf.String(), "❌")
	assert.Contains(t, buf.String(), "corpus sops.json not found")
}

func TestWriter_Code_PrintsCodeBlock(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Code("line1\nline2")

	assert.Equal(t, "\n  line1\n  line2\n\n", buf.String())
}

func TestWriter_KeyValue_AlignsLabels(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewWithColor(buf, false)

	w.KeyValue("documents", 3)

	assert.Equal(t, "  documents:         3\n", buf.String())
}

func TestWriter_Newline_PrintsEmptyLine(t *testing.T) {
	buf := &bytes.Buffer{}
	w := New(buf)

	w.Newline()

	assert.Equal(t, "\n", buf.String())
}

func TestNew_BufferIsNotTTY(t *testing.T) {
	// Given/When: a writer over a buffer
	w := New(&bytes.Buffer{})

	// Then: color is off
	assert.False(t, w.useColor)
	assert.False(t, IsTTY(&bytes.Buffer{}))
}

func TestDetectNoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	assert.True(t, DetectNoColor())

	_ = os.Unsetenv("NO_COLOR")
	assert.False(t, DetectNoColor())
}

func TestGetStyles_NoColorRendersPlain(t *testing.T) {
	s := GetStyles(true)

	assert.Equal(t, "plain", s.Header.Render("plain"))
	assert.Equal(t, "plain", s.Score.Render("plain"))
}
