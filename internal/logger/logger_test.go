package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterLoggerEmitsJSONLines(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter("settlement", &buf)

	l.LogOrder("COMPLETE", "order-1", "3 tickets issued")
	l.Warn("webhook", "unsigned payload accepted")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var entry LogEntry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "INFO", entry.Level)
	assert.Equal(t, "ORDER", entry.Category)
	assert.Equal(t, "settlement", entry.Service)
	assert.Equal(t, "[COMPLETE] order-1 - 3 tickets issued", entry.Message)
	assert.Equal(t, "logger_test.go", entry.File)

	require.NoError(t, json.Unmarshal([]byte(lines[1]), &entry))
	assert.Equal(t, "WARN", entry.Level)
	assert.Equal(t, "WEBHOOK", entry.Category)
	assert.Equal(t, "logger_test.go", entry.File)
}

func TestHelpersReportTheirCaller(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter("settlement", &buf)

	l.LogWebhook("payment", "evt_1", "received")
	l.LogSecurity("UNSIGNED_WEBHOOK", "no secret")
	l.LogKafka("CONSUME", "payments", "started")

	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry LogEntry
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		assert.Equal(t, "logger_test.go", entry.File, entry.Message)
		assert.Positive(t, entry.Line)
	}
}

func TestSetLevelFiltersEntries(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter("settlement", &buf)
	l.SetLevel(WARN)

	l.Debug("APP", "noise")
	l.Info("APP", "noise")
	l.Error("APP", "kept")

	assert.Equal(t, 1, strings.Count(buf.String(), "\n"))
	assert.Contains(t, buf.String(), "kept")
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() { l.Info("APP", "nothing") })
}
