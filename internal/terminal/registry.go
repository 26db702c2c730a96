package terminal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"antshell/internal/logging"
)

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	// SnapshotLines is how many trailing lines Snapshot returns (default 40).
	SnapshotLines int
	// BufferSize caps the transcript kept per session in bytes (default 64KB).
	BufferSize int
	// CommandTimeout bounds each command; zero means no limit.
	CommandTimeout time.Duration
}

type conn struct {
	mu     sync.Mutex // one execution at a time
	runner Runner
	buf    *RingBuffer
	since  time.Time
}

// Info describes an attached connection.
type Info struct {
	SessionID string
	Label     string
	Since     time.Time
}

// Registry maps session IDs to their terminal connections. It implements
// Backend.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*conn
	opts  RegistryOptions
}

// NewRegistry returns an empty registry.
func NewRegistry(opts RegistryOptions) *Registry {
	if opts.SnapshotLines <= 0 {
		opts.SnapshotLines = 40
	}
	return &Registry{conns: make(map[string]*conn), opts: opts}
}

// Attach binds runner to sessionID, closing any runner previously attached.
func (r *Registry) Attach(sessionID string, runner Runner) {
	r.mu.Lock()
	old := r.conns[sessionID]
	r.conns[sessionID] = &conn{runner: runner, buf: NewRingBuffer(r.opts.BufferSize), since: time.Now()}
	r.mu.Unlock()

	if old != nil {
		if err := old.runner.Close(); err != nil {
			logging.ErrorLog("terminal: close replaced connection for %s: %v", sessionID, err)
		}
	}
	logging.DevLog("terminal: attached %s to session %s", runner.Label(), sessionID)
}

// Detach closes and removes the connection of sessionID.
func (r *Registry) Detach(sessionID string) error {
	r.mu.Lock()
	c, ok := r.conns[sessionID]
	delete(r.conns, sessionID)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoConnection, sessionID)
	}
	return c.runner.Close()
}

// List returns attached connections ordered by session ID.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.conns))
	for id, c := range r.conns {
		out = append(out, Info{SessionID: id, Label: c.runner.Label(), Since: c.since})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

func (r *Registry) lookup(sessionID string) (*conn, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoConnection, sessionID)
	}
	return c, nil
}

// Snapshot returns the last lines of the session transcript.
func (r *Registry) Snapshot(ctx context.Context, sessionID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c, err := r.lookup(sessionID)
	if err != nil {
		return "", err
	}
	return LastLines(c.buf.String(), r.opts.SnapshotLines), nil
}

// Execute runs commands in order on the session connection, appending each
// prompt line and its output to the transcript. It stops at the first command
// that cannot be run and reports it through *ExecError.
func (r *Registry) Execute(ctx context.Context, sessionID string, commands []string) (Result, error) {
	c, err := r.lookup(sessionID)
	if err != nil {
		return Result{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	res := Result{Commands: make([]CommandResult, len(commands))}
	for i, command := range commands {
		res.Commands[i].Command = command
	}
	label := c.runner.Label()
	for i, command := range commands {
		if err := ctx.Err(); err != nil {
			return res, &ExecError{Ran: res.Ran(), Failed: command, Err: err}
		}
		fmt.Fprintf(c.buf, "%s$ %s\n", label, command)

		runCtx, cancel := ctx, context.CancelFunc(func() {})
		if r.opts.CommandTimeout > 0 {
			runCtx, cancel = context.WithTimeout(ctx, r.opts.CommandTimeout)
		}
		out, err := c.runner.Run(runCtx, command)
		cancel()

		writeOutput(c.buf, out.Text)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				fmt.Fprintf(c.buf, "[timed out after %s]\n", r.opts.CommandTimeout)
			}
			logging.ErrorLog("terminal: %s: %q failed: %v", sessionID, command, err)
			return res, &ExecError{Ran: res.Ran(), Failed: command, Err: err}
		}
		res.Commands[i].Output = out.Text
		res.Commands[i].ExitCode = out.ExitCode
		res.Commands[i].Ran = true
	}
	return res, nil
}

func writeOutput(buf *RingBuffer, text string) {
	if text == "" {
		return
	}
	buf.Write([]byte(text))
	if !strings.HasSuffix(text, "\n") {
		buf.Write([]byte("\n"))
	}
}

// Close detaches every connection.
func (r *Registry) Close() error {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]*conn)
	r.mu.Unlock()

	var errs []error
	for _, c := range conns {
		if err := c.runner.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
