package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	SetOutput(buf)
	SetLevel(DEBUG)
	SetRedactPII(true)
	t.Cleanup(func() {
		Setup(Options{Level: "info", RedactPII: true})
	})
	return buf
}

func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]string {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(t, lines)
	var entry map[string]string
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &entry))
	return entry
}

func TestLog_RedactsLeadContactFields(t *testing.T) {
	buf := captureOutput(t)

	Info("lead scored", "lead_email", "maria.silva@acme.com", "phone", "(11) 3456-7890", "note", "reply to joao@acme.com")

	entry := lastEntry(t, buf)
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "ma***@acme.com", entry["lead_email"])
	assert.Equal(t, "(**) ****-**90", entry["phone"])
	assert.Equal(t, "reply to jo***@acme.com", entry["note"])
}

func TestLog_LevelFilter(t *testing.T) {
	buf := captureOutput(t)
	SetLevel(WARN)

	Info("dropped")
	Warn("kept", "err", errors.New("boom"))

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	entry := lastEntry(t, buf)
	assert.Equal(t, "kept", entry["msg"])
	assert.Equal(t, "boom", entry["err"])
}

func TestWith_TagsComponent(t *testing.T) {
	buf := captureOutput(t)

	With("DecayEngine").Error("sweep failed", "page", 3)

	entry := lastEntry(t, buf)
	assert.Equal(t, "DecayEngine", entry["component"])
	assert.Equal(t, "3", entry["page"])
	assert.Equal(t, "ERROR", entry["level"])
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   DEBUG,
		"WARN":    WARN,
		"warning": WARN,
		"error":   ERROR,
		"":        INFO,
		"verbose": INFO,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestRedactEmail(t *testing.T) {
	assert.Equal(t, "jo***@example.com", RedactEmail("john.doe@example.com"))
	assert.Equal(t, "***@example.com", RedactEmail("ab@example.com"))
	assert.Equal(t, "***@***", RedactEmail("not-an-email"))
}

func TestRedactPhone(t *testing.T) {
	assert.Equal(t, "(**) ****-**90", RedactPhone("(11) 3456-7890"))
	assert.Equal(t, "***45", RedactPhone("12345"))
	assert.Equal(t, "n/a", RedactPhone("n/a"))
}
