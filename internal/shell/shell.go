package shell

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/imyashkale/spun/internal/logger"
)

// maxCapturedOutput bounds how much combined output is kept per command
const maxCapturedOutput = 64 * 1024

// pipeWaitDelay bounds how long Run waits for output pipes held open by
// descendants after the command itself has exited or been killed
var pipeWaitDelay = 2 * time.Second

// Command describes one external process invocation
type Command struct {
	Name    string
	Args    []string
	Dir     string
	Env     []string // appended to the current environment
	Timeout time.Duration
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Runner executes external commands and returns their combined output
type Runner interface {
	Run(ctx context.Context, cmd Command) ([]byte, error)
}

// ExitError is returned when a command fails; Output holds the tail of its
// combined stdout and stderr
type ExitError struct {
	Command  string
	Output   []byte
	TimedOut bool
	Err      error
}

func (e *ExitError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("%s: timed out", e.Command)
	}
	return fmt.Sprintf("%s: %v", e.Command, e.Err)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// OutputTail returns the last n bytes of the failed command's output, or
// the error text when the command printed nothing
func OutputTail(err error, n int) string {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		out := strings.TrimSpace(string(exitErr.Output))
		if out != "" {
			return Tail(out, n)
		}
	}
	if err == nil {
		return ""
	}
	return Tail(err.Error(), n)
}

// Tail returns at most the last n bytes of s, starting on a rune boundary
func Tail(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	cut := len(s) - n
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return s[cut:]
}

// ExecRunner runs commands with os/exec
type ExecRunner struct{}

// NewExecRunner creates a runner backed by real processes
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run executes cmd, killing it when cmd.Timeout elapses
func (r *ExecRunner) Run(ctx context.Context, cmd Command) ([]byte, error) {
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	killProcessGroup(c)
	c.WaitDelay = pipeWaitDelay
	out := &tailBuffer{limit: maxCapturedOutput}
	c.Stdout = out
	c.Stderr = out

	start := time.Now()
	err := c.Run()
	if errors.Is(err, exec.ErrWaitDelay) && ctx.Err() == nil {
		// exited cleanly but left a daemon holding the pipes
		logger.WithField("command", cmd.String()).Debug("Command left a background process running")
		err = nil
	}

	fields := map[string]interface{}{
		"command":  cmd.String(),
		"dir":      cmd.Dir,
		"duration": time.Since(start).String(),
	}
	if err != nil {
		timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded)
		fields["error"] = err.Error()
		fields["timed_out"] = timedOut
		logger.WithFields(fields).Debug("Command failed")
		return out.Bytes(), &ExitError{Command: cmd.String(), Output: out.Bytes(), TimedOut: timedOut, Err: err}
	}

	logger.WithFields(fields).Debug("Command completed")
	return out.Bytes(), nil
}

// tailBuffer keeps only the most recent limit bytes written to it
type tailBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) Bytes() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.buf...)
}
