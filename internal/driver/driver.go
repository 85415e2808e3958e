// Package driver drives an interactive shell through sudo elevation and
// command execution by scraping its output for prompts.
package driver

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/versalogiq/logiq/internal/connector"
	"github.com/versalogiq/logiq/internal/prompt"
)

// Outcome is how elevation succeeded.
type Outcome int

const (
	// PasswordAccepted means sudo asked for a password and it was sent.
	PasswordAccepted Outcome = iota + 1
	// Passwordless means a root prompt appeared without a password prompt.
	Passwordless
)

func (o Outcome) String() string {
	switch o {
	case PasswordAccepted:
		return "password-accepted"
	case Passwordless:
		return "passwordless"
	default:
		return "none"
	}
}

// State is the driver's position in the prompt/response exchange.
type State int

const (
	Idle State = iota
	AwaitingPrompt
	PasswordSent
	AwaitingShell
	CommandSent
	CollectingOutput
	Faulted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingPrompt:
		return "awaiting-prompt"
	case PasswordSent:
		return "password-sent"
	case AwaitingShell:
		return "awaiting-shell"
	case CommandSent:
		return "command-sent"
	case CollectingOutput:
		return "collecting-output"
	case Faulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Options tunes the prompt/response loop.
type Options struct {
	// ElevateCommand is sent to obtain a root shell.
	ElevateCommand string
	// PollInterval is the pause between availability checks.
	PollInterval time.Duration
	// SettleDelay is how long to wait after sending the sudo password.
	SettleDelay time.Duration
	// SudoSettle is how long to wait after answering a sudo-prefixed command.
	SudoSettle time.Duration
	// PromptTimeout bounds the wait for a sudo password prompt.
	PromptTimeout time.Duration
	// ReadChunk is the size of each read from the shell.
	ReadChunk int
}

// DefaultOptions returns the timings used against real appliances.
func DefaultOptions() Options {
	return Options{
		ElevateCommand: "sudo su",
		PollInterval:   200 * time.Millisecond,
		SettleDelay:    1500 * time.Millisecond,
		SudoSettle:     3 * time.Second,
		PromptTimeout:  10 * time.Second,
		ReadChunk:      4096,
	}
}

// Option configures a Driver.
type Option func(*Driver)

// WithOptions replaces the loop timings.
func WithOptions(o Options) Option {
	return func(d *Driver) {
		def := DefaultOptions()
		if o.ElevateCommand == "" {
			o.ElevateCommand = def.ElevateCommand
		}
		if o.PollInterval <= 0 {
			o.PollInterval = def.PollInterval
		}
		if o.SettleDelay < 0 {
			o.SettleDelay = 0
		}
		if o.SudoSettle < 0 {
			o.SudoSettle = 0
		}
		if o.PromptTimeout <= 0 {
			o.PromptTimeout = def.PromptTimeout
		}
		if o.ReadChunk <= 0 {
			o.ReadChunk = def.ReadChunk
		}
		d.opts = o
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Driver) {
		d.logger = l
	}
}

// WithStrategies replaces the one-shot command variant strategies.
func WithStrategies(s []Strategy) Option {
	return func(d *Driver) {
		d.strategies = s
	}
}

// Driver runs commands on one connector, either one-shot or through a
// single interactive shell. The shell is single-consumer: the driver
// refuses a second command while one is being collected.
type Driver struct {
	conn       connector.Connector
	shell      connector.Shell
	opts       Options
	logger     *zap.Logger
	strategies []Strategy

	mu    sync.Mutex
	state State
	chunk []byte
}

// New creates a driver. shell may be nil when only one-shot execution is needed.
func New(conn connector.Connector, shell connector.Shell, opts ...Option) *Driver {
	d := &Driver{
		conn:       conn,
		shell:      shell,
		opts:       DefaultOptions(),
		logger:     zap.NewNop(),
		strategies: DefaultStrategies,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.chunk = make([]byte, d.opts.ReadChunk)
	return d
}

// State returns the current state.
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Driver) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

// begin claims the shell for one operation.
func (d *Driver) begin(op, command string, next State) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case d.shell == nil:
		return &Error{Kind: KindFaulted, Op: op, Command: command, Err: errors.New("no interactive shell")}
	case d.state == Faulted:
		return &Error{Kind: KindFaulted, Op: op, Command: command}
	case d.state != Idle:
		return ErrBusy
	}
	d.state = next
	return nil
}

// fault moves the driver to Faulted and builds the error to return.
func (d *Driver) fault(op, command string, kind Kind, partial []byte, err error) error {
	d.setState(Faulted)
	d.logger.Debug("Shell faulted",
		zap.String("op", op),
		zap.String("kind", kind.String()),
		zap.Int("partial_bytes", len(partial)),
		zap.Error(err))
	return &Error{Kind: kind, Op: op, Command: command, Partial: append([]byte(nil), partial...), Err: err}
}

func (d *Driver) send(line string) error {
	_, err := d.shell.Write([]byte(line + "\n"))
	return err
}

// readAvailable appends everything currently buffered on the shell to buf.
func (d *Driver) readAvailable(buf *bytes.Buffer) (int, error) {
	total := 0
	for {
		n, err := d.shell.Read(d.chunk)
		buf.Write(d.chunk[:n])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 || d.shell.Available() == 0 {
			return total, nil
		}
	}
}

func (d *Driver) sleep(ctx context.Context, dur time.Duration) error {
	if dur <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// collect polls the shell into buf until done reports true after a read,
// the deadline passes, or ctx ends. It reports whether done fired.
func (d *Driver) collect(ctx context.Context, buf *bytes.Buffer, deadline time.Time, done func([]byte) bool) (bool, error) {
	for {
		n, err := d.readAvailable(buf)
		if n > 0 && done(buf.Bytes()) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		if !time.Now().Before(deadline) {
			return false, nil
		}
		if err := d.sleep(ctx, d.opts.PollInterval); err != nil {
			return false, err
		}
	}
}

func kindOf(ctx context.Context, err error) Kind {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return KindCancelled
	}
	return KindTransport
}

// Drain discards whatever output is currently buffered, such as a login
// banner, and returns it.
func (d *Driver) Drain() ([]byte, error) {
	if d.shell == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	_, err := d.readAvailable(&buf)
	return buf.Bytes(), err
}

// Elevate sends the elevation command and answers the password prompt if
// one appears. A password is never checked for acceptance here; a wrong
// one surfaces on the next command.
func (d *Driver) Elevate(ctx context.Context, secret string, timeout time.Duration) (Outcome, error) {
	const op = "elevate"
	cmd := d.opts.ElevateCommand
	if err := d.begin(op, cmd, AwaitingPrompt); err != nil {
		return 0, err
	}

	d.logger.Debug("Elevating", zap.String("command", cmd))
	if err := d.send(cmd); err != nil {
		return 0, d.fault(op, cmd, KindTransport, nil, err)
	}

	var buf bytes.Buffer
	deadline := time.Now().Add(timeout)
	found, err := d.collect(ctx, &buf, deadline, func(b []byte) bool {
		ev := prompt.Scan(b)
		return ev.Kind == prompt.PasswordPrompt || (ev.Kind == prompt.ShellPrompt && ev.Root)
	})
	if err != nil {
		return 0, d.fault(op, cmd, kindOf(ctx, err), buf.Bytes(), err)
	}
	if !found {
		return 0, d.fault(op, cmd, KindElevationTimeout, buf.Bytes(), nil)
	}

	if prompt.Scan(buf.Bytes()).Kind != prompt.PasswordPrompt {
		d.setState(Idle)
		d.logger.Debug("Root prompt without password")
		return Passwordless, nil
	}

	d.setState(PasswordSent)
	if err := d.send(secret); err != nil {
		return 0, d.fault(op, cmd, KindTransport, buf.Bytes(), err)
	}

	d.setState(AwaitingShell)
	if err := d.sleep(ctx, d.opts.SettleDelay); err != nil {
		return 0, d.fault(op, cmd, KindCancelled, buf.Bytes(), err)
	}
	mark := buf.Len()
	if _, err := d.readAvailable(&buf); err != nil {
		return 0, d.fault(op, cmd, KindTransport, buf.Bytes(), err)
	}

	// A slow host may print the root prompt after the settle delay. Wait for
	// it so it does not end the next command early.
	if !prompt.HasPromptSuffix(buf.Bytes()[mark:]) {
		found, err := d.collect(ctx, &buf, deadline, func(b []byte) bool {
			return prompt.HasPromptSuffix(b[mark:])
		})
		if err != nil {
			return 0, d.fault(op, cmd, kindOf(ctx, err), buf.Bytes(), err)
		}
		if !found {
			d.logger.Debug("No shell prompt after password", zap.Int("bytes", buf.Len()-mark))
		}
	}

	d.setState(Idle)
	d.logger.Debug("Password sent")
	return PasswordAccepted, nil
}

// RunCommand sends command to the shell and collects its output until the
// output ends with a shell prompt. A timeout faults the driver: the rest of
// the output may still arrive, so the shell cannot take another command.
func (d *Driver) RunCommand(ctx context.Context, command string, timeout time.Duration) (*connector.Result, error) {
	const op = "run"
	if err := d.begin(op, command, CommandSent); err != nil {
		return nil, err
	}

	if err := d.send(command); err != nil {
		return nil, d.fault(op, command, KindTransport, nil, err)
	}
	d.setState(CollectingOutput)

	var buf bytes.Buffer
	found, err := d.collect(ctx, &buf, time.Now().Add(timeout), prompt.HasPromptSuffix)
	if err != nil {
		return nil, d.fault(op, command, kindOf(ctx, err), buf.Bytes(), err)
	}
	if buf.Len() == 0 {
		return nil, d.fault(op, command, KindNoResponse, nil, nil)
	}
	if !found {
		return nil, d.fault(op, command, KindTimeout, buf.Bytes(), nil)
	}

	d.setState(Idle)
	lines := prompt.CleanOutput(buf.Bytes(), command)
	return &connector.Result{Stdout: strings.Join(lines, "\n")}, nil
}

// RunOneShot executes command through the connector's one-shot primitive,
// trying each variant of the matching strategy until one is accepted. If
// none is, the last result is returned.
func (d *Driver) RunOneShot(ctx context.Context, command string, timeout time.Duration) (*connector.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	strategy := strategyFor(d.strategies, command)

	var last *connector.Result
	var lastErr error
	for _, v := range strategy.Variants {
		cmd := v.Build(command)
		res, err := d.conn.Execute(ctx, cmd)
		if err != nil {
			d.logger.Debug("Variant failed", zap.String("variant", v.Name), zap.String("command", cmd), zap.Error(err))
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}

		res.Stdout = strings.TrimSpace(res.Stdout)
		res.Stderr = strings.TrimSpace(res.Stderr)
		last, lastErr = res, nil
		if strategy.Accept(res) {
			return res, nil
		}
		d.logger.Debug("Variant not accepted", zap.String("variant", v.Name), zap.String("stderr", res.Stderr))
	}

	if last != nil {
		return last, nil
	}
	return nil, &Error{Kind: kindOf(ctx, lastErr), Op: "oneshot", Command: command, Err: lastErr}
}

// RunSudoPrefixed runs a command that starts with "sudo " in a fresh shell,
// answering sudo's password prompt with secret. The shell is closed
// afterwards.
func (d *Driver) RunSudoPrefixed(ctx context.Context, command, secret string, timeout time.Duration) (*connector.Result, error) {
	const op = "sudo"

	sh, err := d.conn.OpenShell(ctx)
	if err != nil {
		return nil, &Error{Kind: kindOf(ctx, err), Op: op, Command: command, Err: err}
	}
	defer sh.Close()

	sub := New(d.conn, sh, WithOptions(d.opts), WithLogger(d.logger))

	// Let the login prompt arrive so it is not mistaken for the command's end.
	var banner bytes.Buffer
	if _, err := sub.collect(ctx, &banner, time.Now().Add(d.opts.SettleDelay), prompt.HasPromptSuffix); err != nil {
		return nil, &Error{Kind: kindOf(ctx, err), Op: op, Command: command, Partial: banner.Bytes(), Err: err}
	}

	if err := sub.send(command); err != nil {
		return nil, &Error{Kind: KindTransport, Op: op, Command: command, Err: err}
	}

	var buf bytes.Buffer
	found, err := sub.collect(ctx, &buf, time.Now().Add(d.opts.PromptTimeout), func(b []byte) bool {
		return prompt.Scan(b).Kind == prompt.PasswordPrompt || prompt.HasPromptSuffix(b)
	})
	if err != nil {
		return nil, &Error{Kind: kindOf(ctx, err), Op: op, Command: command, Partial: buf.Bytes(), Err: err}
	}
	if !found {
		return nil, &Error{Kind: KindPasswordPromptNotFound, Op: op, Command: command, Partial: buf.Bytes()}
	}

	if prompt.Scan(buf.Bytes()).Kind == prompt.PasswordPrompt {
		if err := sub.send(secret); err != nil {
			return nil, &Error{Kind: KindTransport, Op: op, Command: command, Partial: buf.Bytes(), Err: err}
		}
		if err := sub.sleep(ctx, d.opts.SudoSettle); err != nil {
			return nil, &Error{Kind: KindCancelled, Op: op, Command: command, Partial: buf.Bytes(), Err: err}
		}
		mark := buf.Len()
		_, err := sub.collect(ctx, &buf, time.Now().Add(timeout), func(b []byte) bool {
			return prompt.HasPromptSuffix(b[mark:])
		})
		if err != nil && ctx.Err() != nil {
			return nil, &Error{Kind: KindCancelled, Op: op, Command: command, Partial: buf.Bytes(), Err: err}
		}
	}

	var lines []string
	for _, line := range prompt.CleanOutput(buf.Bytes(), command, secret) {
		if strings.TrimSpace(line) == "" || strings.Contains(strings.ToLower(line), "password for") {
			continue
		}
		lines = append(lines, line)
	}
	return &connector.Result{Stdout: strings.Join(lines, "\n")}, nil
}

// Exit asks the shell to log out, waiting at most wait for the write to go
// through. It does not claim the shell, so it can interrupt a command in
// flight.
func (d *Driver) Exit(wait time.Duration) {
	if d.shell == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.send("exit")
	}()
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
		d.logger.Debug("Exit write did not complete")
	}
}

// Close closes the interactive shell. The driver cannot run interactive
// commands afterwards.
func (d *Driver) Close() error {
	d.setState(Faulted)
	if d.shell == nil {
		return nil
	}
	return d.shell.Close()
}
