package core

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// StatusLogger reports the assistant's current activity. Every line goes to
// the console logger and replaces the contents of the status file, so the file
// always holds only the latest status.
type StatusLogger struct {
	path   string
	echo   io.Writer
	logger *Logger
}

func NewStatusLogger(path string, logger *Logger) *StatusLogger {
	if logger == nil {
		logger = GetLogger()
	}
	return &StatusLogger{path: path, logger: logger}
}

// EchoTo prints every status line bare to w. The structured record then
// drops to debug level.
func (s *StatusLogger) EchoTo(w io.Writer) *StatusLogger {
	s.echo = w
	return s
}

// Log prints line and overwrites the status file with it.
func (s *StatusLogger) Log(line string) error {
	if s.echo != nil {
		fmt.Fprintln(s.echo, line)
		s.logger.Debug(line)
	} else {
		s.logger.Info(line)
	}
	if err := ensureParentDir(s.path); err != nil {
		return fmt.Errorf("status: %w", err)
	}
	if err := os.WriteFile(s.path, []byte(line), 0644); err != nil {
		return fmt.Errorf("status: write %q: %w", s.path, err)
	}
	return nil
}

// Logf formats according to a format specifier and calls Log.
func (s *StatusLogger) Logf(format string, args ...interface{}) error {
	return s.Log(fmt.Sprintf(format, args...))
}

func (s *StatusLogger) Path() string {
	return s.path
}

// ConversationLog is the append-only text transcript of the conversation: one
// line per user transcript and one per assistant response.
type ConversationLog struct {
	path string
}

func NewConversationLog(path string) *ConversationLog {
	return &ConversationLog{path: path}
}

// Append writes line followed by a newline at the end of the log file,
// creating it if needed. Existing content is never truncated.
func (c *ConversationLog) Append(line string) error {
	if err := ensureParentDir(c.path); err != nil {
		return fmt.Errorf("conversation log: %w", err)
	}
	f, err := os.OpenFile(c.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("conversation log: open %q: %w", c.path, err)
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("conversation log: write %q: %w", c.path, err)
	}
	return f.Close()
}

func (c *ConversationLog) Path() string {
	return c.path
}

func ensureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("mkdir %q: %w", dir, err)
	}
	return nil
}
