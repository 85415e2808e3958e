// Package ssh provides a connector for executing commands over SSH with
// password authentication.
package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	gossh "golang.org/x/crypto/ssh"

	"github.com/versalogiq/logiq/internal/connector"
)

const (
	defaultPort    = 22
	defaultTimeout = 10 * time.Second
)

// Connector executes commands on a remote host over SSH.
type Connector struct {
	cfg        connector.Config
	port       int
	hostKeyCB  gossh.HostKeyCallback
	term       string
	rows, cols int

	mu     sync.Mutex
	client *gossh.Client
}

// Option configures the SSH connector.
type Option func(*Connector)

// WithPort overrides the port used when the host has none.
func WithPort(port int) Option {
	return func(c *Connector) {
		c.port = port
	}
}

// WithTimeout bounds dialing and the SSH handshake.
func WithTimeout(d time.Duration) Option {
	return func(c *Connector) {
		if d > 0 {
			c.cfg.Timeout = d
		}
	}
}

// WithHostKeyCallback sets host key verification. Host keys are not
// verified by default.
func WithHostKeyCallback(cb gossh.HostKeyCallback) Option {
	return func(c *Connector) {
		c.hostKeyCB = cb
	}
}

// WithTerminal sets the pseudo-terminal requested for interactive shells.
func WithTerminal(term string, rows, cols int) Option {
	return func(c *Connector) {
		c.term = term
		c.rows = rows
		c.cols = cols
	}
}

// New creates a new SSH connector. host may carry a port ("host:2222").
func New(host, user, password string, opts ...Option) *Connector {
	c := &Connector{
		cfg: connector.Config{
			Host:     host,
			User:     user,
			Password: password,
			Timeout:  defaultTimeout,
		},
		port:      defaultPort,
		hostKeyCB: gossh.InsecureIgnoreHostKey(),
		term:      "xterm",
		rows:      40,
		cols:      250,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Addr returns the host:port the connector dials.
func (c *Connector) Addr() string {
	if host, port, err := net.SplitHostPort(c.cfg.Host); err == nil {
		return net.JoinHostPort(host, port)
	}
	return net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.port))
}

func (c *Connector) clientConfig() *gossh.ClientConfig {
	password := c.cfg.Password
	return &gossh.ClientConfig{
		User: c.cfg.User,
		Auth: []gossh.AuthMethod{
			gossh.Password(password),
			gossh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: c.hostKeyCB,
		Timeout:         c.cfg.Timeout,
	}
}

// Connect dials the host and completes the SSH handshake.
func (c *Connector) Connect(ctx context.Context) error {
	addr := c.Addr()

	dialer := net.Dialer{Timeout: c.cfg.Timeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = netConn.SetDeadline(deadline)
	} else {
		_ = netConn.SetDeadline(time.Now().Add(c.cfg.Timeout))
	}

	sshConn, chans, reqs, err := gossh.NewClientConn(netConn, addr, c.clientConfig())
	if err != nil {
		netConn.Close()
		return fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	_ = netConn.SetDeadline(time.Time{})

	client := gossh.NewClient(sshConn, chans, reqs)

	c.mu.Lock()
	if c.client != nil {
		c.client.Close()
	}
	c.client = client
	c.mu.Unlock()

	return nil
}

func (c *Connector) sshClient() (*gossh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil, errors.New("ssh: not connected")
	}
	return c.client, nil
}

// Execute runs cmd in a new session and waits for it to finish or for ctx
// to be cancelled.
func (c *Connector) Execute(ctx context.Context, cmd string) (*connector.Result, error) {
	client, err := c.sshClient()
	if err != nil {
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("create ssh session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(gossh.SIGKILL)
		session.Close()
		return nil, ctx.Err()
	case err = <-done:
	}

	result := &connector.Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		var exitErr *gossh.ExitError
		var missing *gossh.ExitMissingError
		switch {
		case errors.As(err, &exitErr):
			result.ExitCode = exitErr.ExitStatus()
		case errors.As(err, &missing):
			result.ExitCode = -1
		default:
			return nil, fmt.Errorf("failed to execute command: %w", err)
		}
	}

	return result, nil
}

// OpenShell requests a PTY and starts the user's login shell.
func (c *Connector) OpenShell(ctx context.Context) (connector.Shell, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client, err := c.sshClient()
	if err != nil {
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("create ssh session: %w", err)
	}

	modes := gossh.TerminalModes{
		gossh.ECHO:          1,
		gossh.TTY_OP_ISPEED: 14400,
		gossh.TTY_OP_OSPEED: 14400,
	}

	if err := session.RequestPty(c.term, c.rows, c.cols, modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}

	return connector.NewStreamShell(stdout, stdin, session.Close), nil
}

// Close terminates the SSH connection.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

// String returns a description of the connection.
func (c *Connector) String() string {
	return fmt.Sprintf("ssh://%s@%s", c.cfg.User, c.Addr())
}

// Ensure Connector implements the connector.Connector interface.
var _ connector.Connector = (*Connector)(nil)
