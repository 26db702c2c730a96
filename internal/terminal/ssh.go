package terminal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"antshell/internal/logging"
)

// SSHConfig describes a remote terminal.
type SSHConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	KeyPath  string
	// KnownHosts is the known_hosts file used to verify the server key.
	KnownHosts string
	// InsecureIgnoreHostKey skips host key verification.
	InsecureIgnoreHostKey bool
	DialTimeout           time.Duration
}

func (c SSHConfig) address() string {
	port := c.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// SSHRunner runs each command in its own session on one persistent client.
type SSHRunner struct {
	client *ssh.Client
	label  string
}

// DialSSH connects and authenticates to cfg.Host.
func DialSSH(ctx context.Context, cfg SSHConfig) (*SSHRunner, error) {
	if cfg.Host == "" || cfg.User == "" {
		return nil, errors.New("ssh: host and user are required")
	}
	auth, err := authMethods(cfg)
	if err != nil {
		return nil, err
	}
	hostKey, err := hostKeyCallback(cfg)
	if err != nil {
		return nil, err
	}
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	clientCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         timeout,
	}

	addr := cfg.address()
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w", addr, err)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake %s: %w", addr, err)
	}
	logging.UserLog("terminal: connected to %s as %s", addr, cfg.User)
	return &SSHRunner{client: ssh.NewClient(c, chans, reqs), label: cfg.User + "@" + cfg.Host}, nil
}

func authMethods(cfg SSHConfig) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if cfg.KeyPath != "" {
		key, err := os.ReadFile(cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("ssh: read key: %w", err)
		}
		var signer ssh.Signer
		if cfg.Password != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(cfg.Password))
		} else {
			signer, err = ssh.ParsePrivateKey(key)
		}
		if err != nil {
			return nil, fmt.Errorf("ssh: parse key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		methods = append(methods, ssh.Password(cfg.Password))
	}
	if len(methods) == 0 {
		return nil, errors.New("ssh: no password or private key configured")
	}
	return methods, nil
}

func hostKeyCallback(cfg SSHConfig) (ssh.HostKeyCallback, error) {
	if cfg.InsecureIgnoreHostKey {
		logging.ErrorLog("terminal: host key verification disabled for %s", cfg.Host)
		return ssh.InsecureIgnoreHostKey(), nil
	}
	if cfg.KnownHosts == "" {
		return nil, errors.New("ssh: known_hosts path is required")
	}
	cb, err := knownhosts.New(cfg.KnownHosts)
	if err != nil {
		return nil, fmt.Errorf("ssh: load known_hosts: %w", err)
	}
	return cb, nil
}

// Run implements Runner.
func (s *SSHRunner) Run(ctx context.Context, command string) (Output, error) {
	session, err := s.client.NewSession()
	if err != nil {
		return Output{}, fmt.Errorf("ssh session: %w", err)
	}
	defer session.Close()

	var out bytes.Buffer
	session.Stdout = &out
	session.Stderr = &out

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		<-done
		return Output{Text: out.String(), ExitCode: -1}, fmt.Errorf("ssh exec: %w", ctx.Err())
	case err := <-done:
		if err == nil {
			return Output{Text: out.String()}, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return Output{Text: out.String(), ExitCode: exitErr.ExitStatus()}, nil
		}
		var missing *ssh.ExitMissingError
		if errors.As(err, &missing) {
			return Output{Text: out.String(), ExitCode: -1}, nil
		}
		return Output{}, fmt.Errorf("ssh exec: %w", err)
	}
}

// Label implements Runner.
func (s *SSHRunner) Label() string {
	return s.label
}

// Close implements Runner.
func (s *SSHRunner) Close() error {
	return s.client.Close()
}
