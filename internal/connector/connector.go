// Package connector defines the interface for executing commands on target hosts.
package connector

import (
	"context"
	"fmt"
	"time"
)

// Result holds the output from command execution.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Connector is the interface for connecting to and executing commands on targets.
type Connector interface {
	// Connect establishes a connection to the target.
	Connect(ctx context.Context) error

	// Execute runs a command on the target and returns the result.
	// A non-zero exit code is reported in the Result, not as an error.
	Execute(ctx context.Context, cmd string) (*Result, error)

	// OpenShell starts an interactive shell on the target.
	OpenShell(ctx context.Context) (Shell, error)

	// Close terminates the connection and any shells opened on it.
	Close() error

	// String returns a human-readable description of the connection.
	String() string
}

// Shell is a live interactive byte stream to a remote shell.
//
// Reads never block: Read returns whatever is buffered, possibly nothing.
// Once the remote side has gone away and the buffer is drained, Read
// returns the terminal error (io.EOF for a clean close).
type Shell interface {
	// Available reports how many bytes can be read without blocking.
	Available() int

	// Read drains up to len(p) buffered bytes.
	Read(p []byte) (int, error)

	// Write sends input to the shell.
	Write(p []byte) (int, error)

	// Close terminates the shell.
	Close() error
}

// Config holds common configuration for connectors.
type Config struct {
	// Host is the target hostname or IP address, optionally with a port.
	Host string

	// User is the username for authentication.
	User string

	// Password is used for password and keyboard-interactive authentication.
	Password string

	// Timeout bounds connection establishment.
	Timeout time.Duration
}

// CommandError describes a one-shot command that exited non-zero.
type CommandError struct {
	Cmd      string
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("command %q failed with exit code %d: %s", e.Cmd, e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("command %q failed with exit code %d", e.Cmd, e.ExitCode)
}

// Check returns a *CommandError when r reports a non-zero exit code.
func Check(cmd string, r *Result) error {
	if r == nil || r.ExitCode == 0 {
		return nil
	}
	return &CommandError{Cmd: cmd, ExitCode: r.ExitCode, Stdout: r.Stdout, Stderr: r.Stderr}
}
