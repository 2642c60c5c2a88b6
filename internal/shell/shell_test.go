package shell

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestExecRunner_Success(t *testing.T) {
	r := NewExecRunner()
	out, err := r.Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", "echo hello; echo oops 1>&2"},
		Env:  []string{"GREETING=x"},
	})
	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if !strings.Contains(string(out), "hello") || !strings.Contains(string(out), "oops") {
		t.Errorf("Expected combined output, got %q", out)
	}
}

func TestExecRunner_FailureCarriesOutput(t *testing.T) {
	r := NewExecRunner()
	_, err := r.Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", "echo 'npm ERR! missing script: build' 1>&2; exit 3"},
	})

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("Expected ExitError, got %v", err)
	}
	if exitErr.TimedOut {
		t.Errorf("Did not expect a timeout")
	}
	if got := OutputTail(err, 500); !strings.Contains(got, "missing script") {
		t.Errorf("Expected diagnostic tail, got %q", got)
	}
}

func TestExecRunner_Timeout(t *testing.T) {
	r := NewExecRunner()
	_, err := r.Run(context.Background(), Command{
		Name:    "sleep",
		Args:    []string{"5"},
		Timeout: 50 * time.Millisecond,
	})

	var exitErr *ExitError
	if !errors.As(err, &exitErr) || !exitErr.TimedOut {
		t.Fatalf("Expected timed out ExitError, got %v", err)
	}
}

func TestExecRunner_TimeoutKillsBackgroundedChildren(t *testing.T) {
	r := NewExecRunner()
	start := time.Now()
	_, err := r.Run(context.Background(), Command{
		Name:    "sh",
		Args:    []string{"-c", "sleep 8 & sleep 8; wait"},
		Timeout: 200 * time.Millisecond,
	})

	var exitErr *ExitError
	if !errors.As(err, &exitErr) || !exitErr.TimedOut {
		t.Fatalf("Expected timed out ExitError, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Expected the process group to be killed promptly, took %v", elapsed)
	}
}

func TestExecRunner_DaemonHoldingPipesDoesNotBlock(t *testing.T) {
	saved := pipeWaitDelay
	pipeWaitDelay = 100 * time.Millisecond
	defer func() { pipeWaitDelay = saved }()

	r := NewExecRunner()
	start := time.Now()
	out, err := r.Run(context.Background(), Command{
		Name: "sh",
		Args: []string{"-c", "echo started; sleep 8 &"},
	})
	if err != nil {
		t.Fatalf("Expected clean exit to succeed, got %v", err)
	}
	if !strings.Contains(string(out), "started") {
		t.Errorf("Expected output before exit, got %q", out)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Expected Run to return after the wait delay, took %v", elapsed)
	}
}

func TestTail(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{name: "Shorter than limit", in: "abc", n: 5, want: "abc"},
		{name: "Longer than limit", in: "abcdef", n: 3, want: "def"},
		{name: "Zero limit keeps all", in: "abc", n: 0, want: "abc"},
		{name: "Cut inside rune moves forward", in: "a\u00e9\u00e9", n: 3, want: "\u00e9"},
		{name: "Cut on rune start", in: "a\u00e9\u00e9", n: 4, want: "\u00e9\u00e9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Tail(tt.in, tt.n); got != tt.want {
				t.Errorf("Tail(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
			}
		})
	}
}

func TestOutputTail_PlainError(t *testing.T) {
	if got := OutputTail(errors.New("disk full"), 500); got != "disk full" {
		t.Errorf("Expected error text, got %q", got)
	}
	if got := OutputTail(nil, 500); got != "" {
		t.Errorf("Expected empty tail for nil error, got %q", got)
	}
}

func TestTailBuffer_KeepsMostRecent(t *testing.T) {
	b := &tailBuffer{limit: 4}
	b.Write([]byte("abc"))
	b.Write([]byte("defg"))
	if got := string(b.Bytes()); got != "defg" {
		t.Errorf("Expected last 4 bytes, got %q", got)
	}
}
