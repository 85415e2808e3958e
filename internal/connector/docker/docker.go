// Package docker provides a connector for executing commands in Docker
// containers through the Docker Engine API.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/versalogiq/logiq/internal/connector"
)

// engine is the subset of the Docker client used by the connector.
type engine interface {
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (container.ExecCreateResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, config container.ExecAttachOptions) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
	Close() error
}

// Connector executes commands inside Docker containers.
type Connector struct {
	container string
	user      string
	workdir   string
	env       map[string]string
	shell     string

	mu  sync.Mutex
	cli engine
}

// Option configures the Docker connector.
type Option func(*Connector)

// WithUser sets the user for command execution.
func WithUser(user string) Option {
	return func(c *Connector) {
		c.user = user
	}
}

// WithWorkdir sets the working directory for command execution.
func WithWorkdir(dir string) Option {
	return func(c *Connector) {
		c.workdir = dir
	}
}

// WithEnv adds an environment variable for command execution.
func WithEnv(key, value string) Option {
	return func(c *Connector) {
		if c.env == nil {
			c.env = make(map[string]string)
		}
		c.env[key] = value
	}
}

// WithShell sets the shell used for commands and interactive sessions.
func WithShell(shell string) Option {
	return func(c *Connector) {
		c.shell = shell
	}
}

// New creates a new Docker connector for the specified container.
func New(container string, opts ...Option) *Connector {
	c := &Connector{
		container: container,
		env:       make(map[string]string),
		shell:     "/bin/sh",
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Connect creates an Engine API client from the environment and verifies
// the container exists and is running.
func (c *Connector) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cli == nil {
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return fmt.Errorf("failed to create docker client: %w", err)
		}
		c.cli = cli
	}

	info, err := c.cli.ContainerInspect(ctx, c.container)
	if err != nil {
		return fmt.Errorf("container '%s' not found or not accessible: %w", c.container, err)
	}

	if info.ContainerJSONBase == nil || info.State == nil || !info.State.Running {
		return fmt.Errorf("container '%s' is not running", c.container)
	}

	return nil
}

func (c *Connector) engine() (engine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cli == nil {
		return nil, fmt.Errorf("docker: not connected to %s", c.container)
	}
	return c.cli, nil
}

// execOptions builds the exec configuration shared by one-shot and
// interactive execs.
func (c *Connector) execOptions(cmd []string, tty bool) container.ExecOptions {
	keys := make([]string, 0, len(c.env))
	for k := range c.env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, fmt.Sprintf("%s=%s", k, c.env[k]))
	}

	return container.ExecOptions{
		User:         c.user,
		WorkingDir:   c.workdir,
		Env:          env,
		Cmd:          cmd,
		Tty:          tty,
		AttachStdin:  tty,
		AttachStdout: true,
		AttachStderr: true,
	}
}

// Execute runs a command inside the container.
func (c *Connector) Execute(ctx context.Context, cmd string) (*connector.Result, error) {
	cli, err := c.engine()
	if err != nil {
		return nil, err
	}

	created, err := cli.ContainerExecCreate(ctx, c.container, c.execOptions([]string{c.shell, "-c", cmd}, false))
	if err != nil {
		return nil, fmt.Errorf("failed to create exec in container: %w", err)
	}

	resp, err := cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to attach to exec: %w", err)
	}
	defer resp.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, resp.Reader); err != nil {
		return nil, fmt.Errorf("failed to read exec output: %w", err)
	}

	inspect, err := cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect exec: %w", err)
	}

	return &connector.Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: inspect.ExitCode,
	}, nil
}

// OpenShell starts an interactive shell with a TTY inside the container.
func (c *Connector) OpenShell(ctx context.Context) (connector.Shell, error) {
	cli, err := c.engine()
	if err != nil {
		return nil, err
	}

	created, err := cli.ContainerExecCreate(ctx, c.container, c.execOptions([]string{c.shell, "-i"}, true))
	if err != nil {
		return nil, fmt.Errorf("failed to create shell exec: %w", err)
	}

	resp, err := cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{Tty: true})
	if err != nil {
		return nil, fmt.Errorf("failed to attach to shell exec: %w", err)
	}

	return connector.NewStreamShell(resp.Reader, resp.Conn, func() error {
		resp.Close()
		return nil
	}), nil
}

// Close releases the Engine API client.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cli == nil {
		return nil
	}
	err := c.cli.Close()
	c.cli = nil
	return err
}

// String returns a description of the connection.
func (c *Connector) String() string {
	desc := fmt.Sprintf("docker://%s", c.container)
	if c.user != "" {
		desc = fmt.Sprintf("docker://%s@%s", c.user, c.container)
	}
	return desc
}

// Ensure Connector implements the connector.Connector interface.
var _ connector.Connector = (*Connector)(nil)
