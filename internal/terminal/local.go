package terminal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"time"

	"antshell/internal/logging"
)

// LocalRunner runs commands through the local shell.
type LocalRunner struct {
	// Dir is the working directory; empty means the process cwd.
	Dir string
	// Shell is the interpreter prefix; the command is appended as the last
	// argument. Defaults to "sh -c" (or "%ComSpec% /C" on Windows).
	Shell []string
}

// NewLocalRunner returns a runner rooted at dir.
func NewLocalRunner(dir string) *LocalRunner {
	return &LocalRunner{Dir: dir, Shell: defaultShell()}
}

func defaultShell() []string {
	if runtime.GOOS == "windows" {
		comspec := os.Getenv("ComSpec")
		if comspec == "" {
			comspec = "cmd.exe"
		}
		return []string{comspec, "/C"}
	}
	return []string{"sh", "-c"}
}

// Run executes command and returns its combined stdout and stderr.
func (l *LocalRunner) Run(ctx context.Context, command string) (Output, error) {
	shell := l.Shell
	if len(shell) == 0 {
		shell = defaultShell()
	}
	args := append(append([]string{}, shell[1:]...), command)
	cmd := exec.CommandContext(ctx, shell[0], args...)
	cmd.Dir = l.Dir
	cmd.Stdin = nil // prevent hangs on interactive input
	cmd.WaitDelay = time.Second

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	logging.DevLog("terminal: local exec %q in %s", command, l.Dir)
	start := time.Now()
	runErr := cmd.Run()
	exitCode := 0
	if ps := cmd.ProcessState; ps != nil {
		exitCode = ps.ExitCode()
	}
	logging.DevLog("terminal: local exec completed in %dms with exit code %d", time.Since(start).Milliseconds(), exitCode)

	if runErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Output{Text: out.String(), ExitCode: exitCode}, fmt.Errorf("local shell: %w", ctxErr)
		}
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return Output{}, fmt.Errorf("local shell: %w", runErr)
		}
	}
	return Output{Text: out.String(), ExitCode: exitCode}, nil
}

// Label implements Runner.
func (l *LocalRunner) Label() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return "local@" + host
}

// Close implements Runner.
func (l *LocalRunner) Close() error {
	return nil
}
