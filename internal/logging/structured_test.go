package logging

import (
	"bytes"
	"encoding/json"
	"log"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructuredLoggerTextFieldsAreSorted(t *testing.T) {
	var buf bytes.Buffer
	l := NewStructuredLogger(log.New(&buf, "", 0), "turn", false).WithSession("chat-1")

	l.Info("phase change", Fields{"to": "awaiting_approval", "from": "initial"})

	line := strings.TrimSpace(buf.String())
	assert.Equal(t, "INFO [turn] [session:chat-1] phase change | from=initial to=awaiting_approval", line)
}

func TestStructuredLoggerJSONMode(t *testing.T) {
	var buf bytes.Buffer
	l := NewStructuredLogger(log.New(&buf, "", 0), "reply", true)

	l.Warn("protocol violation", Fields{"reason": "multiple command blocks"})

	var entry LogEntry
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "WARN", entry.Level)
	assert.Equal(t, "reply", entry.Component)
	assert.Equal(t, "multiple command blocks", entry.Fields["reason"])
}

func TestOpenFileRequiresPath(t *testing.T) {
	_, err := OpenFile(FileOptions{})
	require.Error(t, err)

	w, err := OpenFile(FileOptions{Path: filepath.Join(t.TempDir(), "logs", "antshell.log")})
	require.NoError(t, err)
	defer w.Close()
	assert.Equal(t, 10, w.MaxSize)
	_, err = w.Write([]byte("hello\n"))
	require.NoError(t, err)
}
