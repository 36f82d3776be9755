package core

import (
	"bufio"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLoggerFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewZapLogger(zap.New(core)).With(map[string]interface{}{"component": "test"})

	l.Info("stage finished", "stage", "transcribing", "seconds", 1.5)
	l.Warn("retrying", "error", errors.New("UNAVAILABLE"))
	l.Debugf("attempt %d of %d", 2, 6)

	entries := logs.All()
	require.Len(t, entries, 3)

	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Equal(t, "test", fields["component"])
	assert.Equal(t, "transcribing", fields["stage"])
	assert.Equal(t, 1.5, fields["seconds"])

	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "UNAVAILABLE", entries[1].ContextMap()["error"])

	assert.Equal(t, zapcore.DebugLevel, entries[2].Level)
	assert.Equal(t, "attempt 2 of 6", entries[2].Message)
}

func TestFormattedVariantsWithStringArgs(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewZapLogger(zap.New(core))

	l.Infof("loaded %s from %s", "settings", "settings.yaml")
	l.Warnf("%s: %s", "voice", "iWNf11sz1GrUE4ppxTOL")
	l.Errorf("%s failed", "record")

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "loaded settings from settings.yaml", entries[0].Message)
	assert.Empty(t, entries[0].ContextMap())
	assert.Equal(t, "voice: iWNf11sz1GrUE4ppxTOL", entries[1].Message)
	assert.Equal(t, "record failed", entries[2].Message)
}

func TestWithDoesNotMutateParent(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	parent := NewZapLogger(zap.New(core))
	_ = parent.With(map[string]interface{}{"child": true})

	parent.Info("plain")
	require.Len(t, logs.All(), 1)
	assert.NotContains(t, logs.All()[0].ContextMap(), "child")
}

func TestNewLoggerForLevel(t *testing.T) {
	l, err := NewLoggerForLevel("debug", "json")
	require.NoError(t, err)
	assert.NotNil(t, l)

	_, err = NewLoggerForLevel("loud", "console")
	assert.Error(t, err)

	_, err = NewLoggerForLevel("info", "xml")
	assert.Error(t, err)
}

func TestSessionLogWriter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sessions")
	w, err := NewSessionLogWriter(dir, SessionMetadata{SessionID: "abc", Model: "gemini-2.5-flash"})
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "abc.active"))

	logger := NewSessionLogger(NewZapLogger(zap.NewNop()), w).With(map[string]interface{}{"session_id": "abc"})
	logger.Info("Listening...")
	logger.Warn("retrying", "error", errors.New("503"))
	w.Close()

	_, err = os.Stat(filepath.Join(dir, "abc.active"))
	assert.True(t, os.IsNotExist(err))

	f, err := os.Open(w.Path())
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.Len(t, lines, 3)

	var meta SessionMetadata
	require.NoError(t, sonic.UnmarshalString(lines[0], &meta))
	assert.Equal(t, "abc", meta.SessionID)
	assert.Equal(t, "gemini-2.5-flash", meta.Model)
	assert.NotEmpty(t, meta.StartedAt)

	var entry LogEntry
	require.NoError(t, sonic.UnmarshalString(lines[2], &entry))
	assert.Equal(t, "WARN", entry.Level)
	assert.Equal(t, "retrying", entry.Message)
	assert.Equal(t, "503", entry.Attrs["error"])
	assert.Equal(t, "abc", entry.Attrs["session_id"])
}

func TestNewSessionIDUnique(t *testing.T) {
	assert.NotEqual(t, NewSessionID(), NewSessionID())
	assert.Len(t, NewSessionID(), 36)
}
