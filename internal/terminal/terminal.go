// Package terminal provides the live terminal sessions commands run against:
// a local shell or a remote host over SSH. Output of every executed command
// is kept in a bounded per-session buffer that backs Snapshot.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Backend is what the turn machine needs from a terminal.
type Backend interface {
	Snapshot(ctx context.Context, sessionID string) (string, error)
	Execute(ctx context.Context, sessionID string, commands []string) (Result, error)
}

// Runner executes single commands on one connection.
type Runner interface {
	Run(ctx context.Context, command string) (Output, error)
	// Label identifies the connection in transcripts, e.g. "admin@10.0.0.1".
	Label() string
	Close() error
}

// Output of one command. A non-zero exit code is not an execution failure.
type Output struct {
	Text     string
	ExitCode int
}

// CommandResult records one command of an executed set.
type CommandResult struct {
	Command  string
	Output   string
	ExitCode int
	Ran      bool
}

// Result lists every command of a set in order.
type Result struct {
	Commands []CommandResult
}

// Ran returns the commands that were started.
func (r Result) Ran() []string {
	var out []string
	for _, c := range r.Commands {
		if c.Ran {
			out = append(out, c.Command)
		}
	}
	return out
}

// ErrNoConnection is returned for a session with no attached terminal.
var ErrNoConnection = errors.New("no terminal connected for session")

// ExecError reports a command set that stopped part way. Ran holds the
// commands that completed before Failed could not be run.
type ExecError struct {
	Ran    []string
	Failed string
	Err    error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("execute %q (after %d command(s)): %v", e.Failed, len(e.Ran), e.Err)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// Retryable is true only when nothing ran, so repeating the set cannot run a
// command twice.
func (e *ExecError) Retryable() bool {
	return len(e.Ran) == 0 && !errors.Is(e.Err, context.Canceled)
}

// IsExecError checks if err is an ExecError and returns it.
func IsExecError(err error) (*ExecError, bool) {
	var ee *ExecError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}

// LastLines returns the last n lines of text. n <= 0 returns "".
func LastLines(text string, n int) string {
	if n <= 0 || text == "" {
		return ""
	}
	text = strings.TrimRight(text, "\n")
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
