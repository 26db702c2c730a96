package terminal

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingBufferKeepsNewestBytes(t *testing.T) {
	r := NewRingBuffer(8)
	fmt.Fprint(r, "abc")
	assert.Equal(t, "abc", r.String())
	fmt.Fprint(r, "defghij")
	assert.Equal(t, "cdefghij", r.String())
	assert.Equal(t, 8, r.Len())
	fmt.Fprint(r, "0123456789")
	assert.Equal(t, "23456789", r.String())
	r.Reset()
	assert.Equal(t, "", r.String())
	assert.Equal(t, 0, r.Len())
}

func TestLastLines(t *testing.T) {
	text := "one\ntwo\nthree\nfour\n"
	assert.Equal(t, "three\nfour", LastLines(text, 2))
	assert.Equal(t, "one\ntwo\nthree\nfour", LastLines(text, 10))
	assert.Equal(t, "", LastLines(text, 0))
	assert.Equal(t, "", LastLines("", 3))
}

type fakeRunner struct {
	mu     sync.Mutex
	ran    []string
	fail   map[string]error
	output map[string]Output
	closed bool
	block  bool
}

func (f *fakeRunner) Run(ctx context.Context, command string) (Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.block {
		f.mu.Unlock()
		<-ctx.Done()
		f.mu.Lock()
		return Output{}, ctx.Err()
	}
	if err := f.fail[command]; err != nil {
		return Output{}, err
	}
	f.ran = append(f.ran, command)
	if out, ok := f.output[command]; ok {
		return out, nil
	}
	return Output{Text: "ok: " + command + "\n"}, nil
}

func (f *fakeRunner) Label() string { return "R1" }

func (f *fakeRunner) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestRegistryExecuteAndSnapshot(t *testing.T) {
	reg := NewRegistry(RegistryOptions{SnapshotLines: 3})
	runner := &fakeRunner{output: map[string]Output{"show clock": {Text: "12:00:00 UTC", ExitCode: 0}}}
	reg.Attach("s1", runner)

	res, err := reg.Execute(context.Background(), "s1", []string{"show version", "show clock"})
	require.NoError(t, err)
	assert.Equal(t, []string{"show version", "show clock"}, runner.ran)
	assert.Equal(t, []string{"show version", "show clock"}, res.Ran())
	assert.Equal(t, "12:00:00 UTC", res.Commands[1].Output)

	snap, err := reg.Snapshot(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "ok: show version\nR1$ show clock\n12:00:00 UTC", snap)
}

func TestRegistryStopsAtFailedCommand(t *testing.T) {
	reg := NewRegistry(RegistryOptions{})
	runner := &fakeRunner{fail: map[string]error{"b": errors.New("channel closed")}}
	reg.Attach("s1", runner)

	res, err := reg.Execute(context.Background(), "s1", []string{"a", "b", "c"})
	ee, ok := IsExecError(err)
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, ee.Ran)
	assert.Equal(t, "b", ee.Failed)
	assert.False(t, ee.Retryable())
	assert.Equal(t, []string{"a"}, runner.ran)
	assert.False(t, res.Commands[2].Ran)
}

func TestRegistryCommandTimeout(t *testing.T) {
	reg := NewRegistry(RegistryOptions{CommandTimeout: 20 * time.Millisecond})
	reg.Attach("s1", &fakeRunner{block: true})

	_, err := reg.Execute(context.Background(), "s1", []string{"ping 10.0.0.1 repeat 100000"})
	ee, ok := IsExecError(err)
	require.True(t, ok)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, ee.Retryable())

	snap, err := reg.Snapshot(context.Background(), "s1")
	require.NoError(t, err)
	assert.Contains(t, snap, "[timed out after 20ms]")
}

func TestRegistryUnknownSession(t *testing.T) {
	reg := NewRegistry(RegistryOptions{})
	_, err := reg.Snapshot(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNoConnection)
	_, err = reg.Execute(context.Background(), "nope", []string{"x"})
	assert.ErrorIs(t, err, ErrNoConnection)
	assert.ErrorIs(t, reg.Detach("nope"), ErrNoConnection)
}

func TestRegistryAttachReplacesAndCloses(t *testing.T) {
	reg := NewRegistry(RegistryOptions{})
	first, second := &fakeRunner{}, &fakeRunner{}
	reg.Attach("b", first)
	reg.Attach("a", &fakeRunner{})
	reg.Attach("b", second)
	assert.True(t, first.closed)

	infos := reg.List()
	require.Len(t, infos, 2)
	assert.Equal(t, "a", infos[0].SessionID)
	assert.Equal(t, "b", infos[1].SessionID)

	require.NoError(t, reg.Close())
	assert.True(t, second.closed)
	assert.Empty(t, reg.List())
}

func TestLocalRunner(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	dir := t.TempDir()
	runner := NewLocalRunner(dir)

	out, err := runner.Run(context.Background(), "echo hello; echo oops 1>&2")
	require.NoError(t, err)
	assert.Contains(t, out.Text, "hello")
	assert.Contains(t, out.Text, "oops")
	assert.Equal(t, 0, out.ExitCode)

	out, err = runner.Run(context.Background(), "exit 3")
	require.NoError(t, err)
	assert.Equal(t, 3, out.ExitCode)

	out, err = runner.Run(context.Background(), "pwd")
	require.NoError(t, err)
	resolved, _ := filepath.EvalSymlinks(dir)
	got, _ := filepath.EvalSymlinks(strings.TrimSpace(out.Text))
	assert.Equal(t, resolved, got)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = runner.Run(ctx, "sleep 5")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSSHConfigValidation(t *testing.T) {
	_, err := DialSSH(context.Background(), SSHConfig{Host: "10.0.0.1"})
	assert.Error(t, err)

	_, err = authMethods(SSHConfig{Host: "h", User: "u"})
	assert.Error(t, err)

	methods, err := authMethods(SSHConfig{Host: "h", User: "u", Password: "secret"})
	require.NoError(t, err)
	assert.Len(t, methods, 1)

	_, err = hostKeyCallback(SSHConfig{})
	assert.Error(t, err)
	_, err = hostKeyCallback(SSHConfig{KnownHosts: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)
	cb, err := hostKeyCallback(SSHConfig{InsecureIgnoreHostKey: true})
	require.NoError(t, err)
	assert.NotNil(t, cb)
}
