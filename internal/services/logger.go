package services

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/imyashkale/spun/internal/models"
	"github.com/imyashkale/spun/internal/shell"
)

const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"

	LogSizeLimit = 64 * 1024 // 64KB limit

	// DiagnosticLimit bounds the error text of a failed deploy
	DiagnosticLimit = 500
)

// BuildLogger collects the log of one deploy
type BuildLogger struct {
	logs []models.BuildLogEntry
	mu   sync.Mutex
}

// NewBuildLogger creates an empty build log
func NewBuildLogger() *BuildLogger {
	return &BuildLogger{
		logs: make([]models.BuildLogEntry, 0),
	}
}

// LogInfo logs an info level message
func (bl *BuildLogger) LogInfo(phase models.DeployPhase, message string) {
	bl.log(phase, LevelInfo, message)
}

// LogWarning logs a warning level message
func (bl *BuildLogger) LogWarning(phase models.DeployPhase, message string) {
	bl.log(phase, LevelWarning, message)
}

// LogError logs an error level message
func (bl *BuildLogger) LogError(phase models.DeployPhase, message string) {
	bl.log(phase, LevelError, message)
}

// LogOutput records the trimmed output of an external command
func (bl *BuildLogger) LogOutput(phase models.DeployPhase, out []byte) {
	text := strings.TrimSpace(string(out))
	if text == "" {
		return
	}
	bl.log(phase, LevelInfo, shell.Tail(text, LogSizeLimit/4))
}

func (bl *BuildLogger) log(phase models.DeployPhase, level, message string) {
	bl.mu.Lock()
	defer bl.mu.Unlock()

	bl.logs = append(bl.logs, models.BuildLogEntry{
		Timestamp: time.Now(),
		Phase:     phase,
		Level:     level,
		Message:   message,
	})
}

// GetLogs returns a copy of all entries
func (bl *BuildLogger) GetLogs() []models.BuildLogEntry {
	bl.mu.Lock()
	defer bl.mu.Unlock()

	logsCopy := make([]models.BuildLogEntry, len(bl.logs))
	copy(logsCopy, bl.logs)
	return logsCopy
}

// GetLogsWithSizeLimit keeps the most recent entries that fit in LogSizeLimit
// and marks the cut with a notice
func (bl *BuildLogger) GetLogsWithSizeLimit() []models.BuildLogEntry {
	logs := bl.GetLogs()

	var totalSize, first int
	for i := len(logs) - 1; i >= 0; i-- {
		// timestamp (25) + phase (15) + level (10) + overhead (50)
		entrySize := 100 + len(logs[i].Message)
		if totalSize+entrySize > LogSizeLimit {
			first = i + 1
			break
		}
		totalSize += entrySize
	}
	if first == 0 {
		return logs
	}

	result := make([]models.BuildLogEntry, 0, len(logs)-first+1)
	result = append(result, models.BuildLogEntry{
		Timestamp: logs[first-1].Timestamp,
		Phase:     logs[first-1].Phase,
		Level:     LevelWarning,
		Message:   "Log output exceeded size limit. Older logs truncated.",
	})
	return append(result, logs[first:]...)
}

// Diagnostic returns the bounded error text for a failed phase: the tail of
// the failing command's output, or the error itself
func Diagnostic(err error) string {
	var exitErr *shell.ExitError
	if errors.As(err, &exitErr) && exitErr.TimedOut {
		head := exitErr.Error()
		out := strings.TrimSpace(string(exitErr.Output))
		room := DiagnosticLimit - len(head) - 1
		if out == "" || room <= 0 {
			return shell.Tail(head, DiagnosticLimit)
		}
		return head + "\n" + shell.Tail(out, room)
	}

	msg := shell.OutputTail(err, DiagnosticLimit)
	if strings.TrimSpace(msg) == "" {
		return "deploy failed"
	}
	return msg
}
