package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/imyashkale/spun/internal/models"
	"github.com/imyashkale/spun/internal/shell"
)

func TestBuildLogger_Levels(t *testing.T) {
	bl := NewBuildLogger()
	bl.LogInfo(models.PhaseInstalling, "Running npm install")
	bl.LogWarning(models.PhaseInstalling, "deprecated package")
	bl.LogError(models.PhaseBuilding, "Build failed")
	bl.LogOutput(models.PhaseBuilding, []byte("  \n"))

	logs := bl.GetLogs()
	if len(logs) != 3 {
		t.Fatalf("Expected 3 entries (blank output skipped), got %d", len(logs))
	}
	wantLevels := []string{LevelInfo, LevelWarning, LevelError}
	for i, want := range wantLevels {
		if logs[i].Level != want {
			t.Errorf("Entry %d: expected level %s, got %s", i, want, logs[i].Level)
		}
	}
	if logs[2].Phase != models.PhaseBuilding {
		t.Errorf("Expected building phase, got %s", logs[2].Phase)
	}
}

func TestBuildLogger_SizeLimit(t *testing.T) {
	bl := NewBuildLogger()
	line := strings.Repeat("x", 1000)
	for i := 0; i < 200; i++ {
		bl.LogInfo(models.PhaseBuilding, line)
	}
	bl.LogInfo(models.PhaseBuilding, "last")

	logs := bl.GetLogsWithSizeLimit()
	if len(logs) >= 201 {
		t.Fatalf("Expected truncation, got %d entries", len(logs))
	}
	if logs[0].Level != LevelWarning || !strings.Contains(logs[0].Message, "truncated") {
		t.Errorf("Expected truncation notice first, got %+v", logs[0])
	}
	if logs[len(logs)-1].Message != "last" {
		t.Errorf("Newest entry must be kept")
	}

	small := NewBuildLogger()
	small.LogInfo(models.PhaseQueued, "one")
	if got := small.GetLogsWithSizeLimit(); len(got) != 1 {
		t.Errorf("Small logs must be returned whole, got %d", len(got))
	}
}

func TestDiagnostic(t *testing.T) {
	longOutput := strings.Repeat("a", 2000) + "TAIL"

	tests := []struct {
		name     string
		err      error
		contains []string
	}{
		{
			name:     "Command output tail",
			err:      &shell.ExitError{Command: "npm install", Output: []byte(longOutput), Err: errBoom},
			contains: []string{"TAIL"},
		},
		{
			name:     "Timeout keeps prefix and tail",
			err:      &shell.ExitError{Command: "npm run build", Output: []byte(longOutput), TimedOut: true, Err: context.DeadlineExceeded},
			contains: []string{"timed out", "TAIL"},
		},
		{
			name:     "Plain error",
			err:      errors.New("extraction failed: unexpected EOF"),
			contains: []string{"unexpected EOF"},
		},
		{
			name:     "Multi-byte output cut on rune boundary",
			err:      &shell.ExitError{Command: "npm run build", Output: []byte(strings.Repeat("\u00e9", 400) + "fin"), Err: errBoom},
			contains: []string{"fin"},
		},
		{
			name:     "Empty output falls back to error",
			err:      &shell.ExitError{Command: "pnpm install", Err: errBoom},
			contains: []string{"pnpm install"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Diagnostic(tt.err)
			if len(got) > DiagnosticLimit {
				t.Errorf("Diagnostic exceeds %d bytes: %d", DiagnosticLimit, len(got))
			}
			if !utf8.ValidString(got) {
				t.Errorf("Diagnostic is not valid UTF-8: %q", got)
			}
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("Expected %q in %q", want, got)
				}
			}
		})
	}

	if got := Diagnostic(errors.New("   ")); got != "deploy failed" {
		t.Errorf("Expected generic diagnostic, got %q", got)
	}
}
