package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"INFO", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"Error", zapcore.ErrorLevel},
		{"bogus", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
}

func TestWriterLogger_FiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf, "WARN")

	l.Debug("hidden")
	l.Info("hidden")
	l.Warn("shown", "instance_id", 3)

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "shown", entries[0]["msg"])
	assert.Equal(t, "WARN", entries[0]["level"])
	assert.Equal(t, float64(3), entries[0]["instance_id"])
}

func TestWith_ChildKeepsParentAttrs(t *testing.T) {
	var buf bytes.Buffer
	parent := NewWriterLogger(&buf, "DEBUG").WithComponent("transport")
	child := parent.With("peer", 9)

	child.Info("registered")
	parent.Info("plain")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "transport", entries[0]["component"])
	assert.Equal(t, float64(9), entries[0]["peer"])
	assert.Equal(t, "transport", entries[1]["component"])
	_, hasPeer := entries[1]["peer"]
	assert.False(t, hasPeer)
}

func TestNewLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "agent.log")
	l, err := NewLogger(path, "INFO")
	require.NoError(t, err)

	l.Info("to file")
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"to file"`)
}

func TestNopLogger(t *testing.T) {
	l := OrNop(nil)
	assert.False(t, l.Enabled(zapcore.ErrorLevel))
	l.Error("dropped")
	assert.NoError(t, l.Close())
}

func TestNewLogger_RotationLimits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.log")
	l, err := NewLogger(path, "DEBUG", Rotation{MaxSizeMB: 1, MaxBackups: 1})
	require.NoError(t, err)

	l.WithComponent("serial").Debug("frame dropped", "reason", "bad fcs")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"serial"`)
	assert.Contains(t, string(data), `"reason":"bad fcs"`)
}

func TestSetLevel_AppliesToChildren(t *testing.T) {
	var buf bytes.Buffer
	root := NewWriterLogger(&buf, "INFO")
	child := root.WithComponent("transport")

	child.Debug("hidden")
	root.SetLevel("debug")
	child.Debug("shown")
	assert.Equal(t, "DEBUG", child.Level())

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "shown", entries[0]["msg"])
}
