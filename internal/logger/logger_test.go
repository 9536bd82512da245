package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("chatty"))
}

func TestInitializeWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	InitializeWithWriter(&buf, "info", "json")
	t.Cleanup(func() { Initialize("info", "text") })

	Debug("hidden")
	WithComponent("expiry-sweeper").Info("sweep finished", "expired", 2)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &rec))
	assert.Equal(t, "sweep finished", rec["msg"])
	assert.Equal(t, "expiry-sweeper", rec["component"])
	assert.EqualValues(t, 2, rec["expired"])
}

func TestExitMethodDeclined_LogsAtInfo(t *testing.T) {
	var buf bytes.Buffer
	InitializeWithWriter(&buf, "info", "text")
	t.Cleanup(func() { Initialize("info", "text") })

	ExitMethodDeclined("LendingService.BorrowBook", errors.New("book is not accepting borrow requests"), "bookID", 4)

	out := buf.String()
	assert.Contains(t, out, "level=INFO")
	assert.Contains(t, out, "method=LendingService.BorrowBook")
	assert.Contains(t, out, "bookID=4")
}
