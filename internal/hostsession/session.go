// Package hostsession orchestrates one caller's work against one host:
// connect, sudo elevation, flavor classification, log discovery and
// tailing. A Session runs one operation at a time; Disconnect may be called
// at any point and aborts whatever is running.
package hostsession

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/versalogiq/logiq/internal/connector"
	"github.com/versalogiq/logiq/internal/connector/dial"
	"github.com/versalogiq/logiq/internal/driver"
	"github.com/versalogiq/logiq/internal/events"
	"github.com/versalogiq/logiq/internal/flavor"
	"github.com/versalogiq/logiq/internal/metrics"
	"github.com/versalogiq/logiq/internal/prompt"
)

// Credential identifies the host and the accounts used on it.
type Credential struct {
	Address  string `json:"host"`
	Username string `json:"username"`
	Secret   string `json:"-"`
	// AdminSecret answers sudo. Empty means Secret.
	AdminSecret string `json:"-"`
}

func (c Credential) adminSecret() string {
	if c.AdminSecret != "" {
		return c.AdminSecret
	}
	return c.Secret
}

// Options tunes a Session.
type Options struct {
	ConnectTimeout   time.Duration
	ElevateTimeout   time.Duration
	BannerDelay      time.Duration
	VerifyTimeout    time.Duration
	DiscoveryTimeout time.Duration
	TailTimeout      time.Duration
	ExitWait         time.Duration

	DiscoveryRoot    string
	ExcludeMarkers   []string
	DefaultTailLines int

	// SkipVerify disables the whoami check after elevation.
	SkipVerify bool
	// SkipDiscovery stops Connect from scanning for log files once ready.
	SkipDiscovery bool

	Driver driver.Options
}

// DefaultOptions returns the timings used against real appliances.
func DefaultOptions() Options {
	return Options{
		ConnectTimeout:   10 * time.Second,
		ElevateTimeout:   10 * time.Second,
		BannerDelay:      time.Second,
		VerifyTimeout:    10 * time.Second,
		DiscoveryTimeout: 15 * time.Second,
		TailTimeout:      20 * time.Second,
		ExitWait:         500 * time.Millisecond,
		DiscoveryRoot:    "/var/log",
		ExcludeMarkers:   []string{".gz"},
		DefaultTailLines: 250,
		Driver:           driver.DefaultOptions(),
	}
}

// Dialer builds the transport for a credential.
type Dialer func(c Credential, timeout time.Duration) connector.Connector

// DefaultDialer routes on the address scheme: docker://, local, or SSH.
func DefaultDialer(c Credential, timeout time.Duration) connector.Connector {
	return dial.New(dial.Target{
		Address:  c.Address,
		User:     c.Username,
		Password: c.Secret,
		Timeout:  timeout,
	})
}

// Option configures a Session.
type Option func(*Session)

// WithOptions replaces the session options.
func WithOptions(o Options) Option {
	return func(s *Session) {
		s.opts = o
	}
}

// WithDialer replaces the transport factory.
func WithDialer(d Dialer) Option {
	return func(s *Session) {
		s.dial = d
	}
}

// WithCatalog sets the flavor catalog used for classification.
func WithCatalog(c *flavor.Catalog) Option {
	return func(s *Session) {
		s.catalog = c
	}
}

// WithSink sets where progress events go.
func WithSink(sink events.Sink) Option {
	return func(s *Session) {
		s.sink = sink
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		s.logger = l
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// Session is one caller's connection to one host.
type Session struct {
	id      string
	opts    Options
	dial    Dialer
	catalog *flavor.Catalog
	sink    events.Sink
	logger  *zap.Logger
	metrics *metrics.Collector

	// opMu is held for the whole of each interactive operation.
	opMu sync.Mutex

	mu     sync.RWMutex
	state  State
	hist   history
	gen    uint64
	cancel context.CancelFunc
	cred   Credential
	conn   connector.Connector
	drv    *driver.Driver
	result flavor.Result
}

// New creates a disconnected session.
func New(id string, opts ...Option) *Session {
	s := &Session{
		id:     id,
		opts:   DefaultOptions(),
		dial:   DefaultDialer,
		sink:   events.Discard,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.catalog == nil {
		s.catalog = flavor.Empty()
	}
	s.logger = s.logger.With(zap.String("session", id))
	return s
}

// ID returns the caller identity the session was created for.
func (s *Session) ID() string { return s.id }

// State returns the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// History returns recent state transitions, oldest first.
func (s *Session) History() []Transition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hist.list()
}

// Flavor returns the last classification and whether the session is ready.
func (s *Session) Flavor() (flavor.Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.result, s.state == Ready
}

// Host returns the address of the current or last connection.
func (s *Session) Host() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred.Address
}

// Connect opens the transport and shell, elevates to root, classifies the
// host and, unless disabled, discovers its log files. Failures leave the
// session Faulted and are returned as *ConnectError.
func (s *Session) Connect(ctx context.Context, cred Credential) error {
	if !s.opMu.TryLock() {
		return ErrBusy
	}
	defer s.opMu.Unlock()

	s.reset("reconnect")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.cancel = cancel
	s.cred = cred
	s.result = flavor.Result{}
	tr, changed := s.setStateLocked(Connecting, "connect to "+cred.Address)
	s.mu.Unlock()
	if changed {
		s.notify(tr)
	}

	s.emit(fmt.Sprintf("Session started for %s@%s", cred.Username, cred.Address), events.TagSessionStart)
	s.logger.Info("Connecting", zap.String("host", cred.Address), zap.String("user", cred.Username))

	start := time.Now()
	if err := s.connect(ctx, gen, cred); err != nil {
		if s.stale(gen) {
			s.metrics.RecordConnect("aborted", time.Since(start))
			return ErrDisconnected
		}
		ce := AnalyzeConnectError(err, cred.Address, cred.Username)
		s.metrics.RecordConnect(string(ce.Category), time.Since(start))
		s.fail(gen, ce)
		return ce
	}
	s.metrics.RecordConnect("success", time.Since(start))
	s.logger.Info("Session ready", zap.Duration("elapsed", time.Since(start)))

	if !s.opts.SkipDiscovery {
		s.emit("Connection successful! Starting log file scanning...", events.TagSuccess)
		if _, err := s.discover(ctx, gen); err != nil && s.stale(gen) {
			return ErrDisconnected
		}
	}

	s.mu.Lock()
	if s.gen == gen {
		s.cancel = nil
	}
	s.mu.Unlock()
	return nil
}

func (s *Session) connect(ctx context.Context, gen uint64, cred Credential) error {
	s.emit("Attempting SSH connection...", events.TagInfo)

	conn := s.dial(cred, s.opts.ConnectTimeout)
	cctx, ccancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	err := conn.Connect(cctx)
	ccancel()
	if err != nil {
		_ = conn.Close()
		return err
	}
	if !s.attach(gen, conn, nil) {
		_ = conn.Close()
		return ErrDisconnected
	}
	s.emit(fmt.Sprintf("SSH connection successful to %s", cred.Address), events.TagSuccess)

	shell, err := conn.OpenShell(ctx)
	if err != nil {
		return fmt.Errorf("opening shell: %w", err)
	}
	drv := driver.New(conn, shell, driver.WithOptions(s.opts.Driver), driver.WithLogger(s.logger))
	if !s.attach(gen, conn, drv) {
		_ = drv.Close()
		return ErrDisconnected
	}
	s.emit("Shell session established", events.TagSuccess)

	if err := s.elevate(ctx, gen, drv, cred); err != nil {
		return err
	}

	if !s.transition(gen, Classifying, "elevated") {
		return ErrDisconnected
	}
	res, err := s.classify(ctx, gen, cred)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return ErrDisconnected
	}
	s.result = res
	tr, _ := s.setStateLocked(Ready, "classified as "+res.Key)
	s.mu.Unlock()
	s.notify(tr)
	return nil
}

func (s *Session) elevate(ctx context.Context, gen uint64, drv *driver.Driver, cred Credential) error {
	if !s.transition(gen, Elevating, "shell open") {
		return ErrDisconnected
	}

	if err := sleepCtx(ctx, s.opts.BannerDelay); err != nil {
		return err
	}
	banner, err := drv.Drain()
	if err != nil {
		return fmt.Errorf("reading banner: %w", err)
	}
	s.logger.Debug("Banner discarded", zap.Int("bytes", len(banner)))

	s.emit(fmt.Sprintf("Executing '%s' command...", s.elevateCommand()), events.TagCommand)
	outcome, err := drv.Elevate(ctx, cred.adminSecret(), s.opts.ElevateTimeout)
	if err != nil {
		s.metrics.RecordElevation("failed")
		return fmt.Errorf("%w: %w", ErrElevation, err)
	}

	if !s.opts.SkipVerify {
		if err := s.verifyRoot(ctx, drv); err != nil {
			s.metrics.RecordElevation("unverified")
			return err
		}
	}
	s.metrics.RecordElevation(outcome.String())

	if !s.transition(gen, Elevated, "sudo "+outcome.String()) {
		return ErrDisconnected
	}
	s.emit("Sudo elevation successful", events.TagSuccess)
	s.sink.Emit(events.New(events.ConnectionStatus, events.Status{Connected: true, Message: "Connected successfully"}))
	return nil
}

// verifyRoot confirms the shell is root.
func (s *Session) verifyRoot(ctx context.Context, drv *driver.Driver) error {
	res, err := drv.RunCommand(ctx, "whoami", s.opts.VerifyTimeout)
	if err != nil {
		return fmt.Errorf("%w: verifying root shell: %w", ErrElevation, err)
	}
	out := strings.TrimSpace(res.Stdout)
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "root" {
			return nil
		}
	}
	return fmt.Errorf("%w: whoami returned %q", ErrElevation, out)
}

func (s *Session) elevateCommand() string {
	if s.opts.Driver.ElevateCommand != "" {
		return s.opts.Driver.ElevateCommand
	}
	return driver.DefaultOptions().ElevateCommand
}

// Classify re-runs flavor detection on a ready session.
func (s *Session) Classify(ctx context.Context) (flavor.Result, error) {
	ctx, gen, done, err := s.startOp(ctx)
	if err != nil {
		return flavor.Result{}, err
	}
	defer done()

	if !s.transition(gen, Classifying, "classify requested") {
		return flavor.Result{}, ErrDisconnected
	}
	s.mu.RLock()
	cred := s.cred
	s.mu.RUnlock()

	res, err := s.classify(ctx, gen, cred)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return res, ErrDisconnected
	}
	if err == nil {
		s.result = res
	}
	tr, _ := s.setStateLocked(Ready, "classified as "+s.result.Key)
	s.mu.Unlock()
	s.notify(tr)
	return res, err
}

func (s *Session) classify(ctx context.Context, gen uint64, cred Credential) (flavor.Result, error) {
	s.emit("Starting Operation: Server Flavor Detection", events.TagOperationStart)
	if s.catalog.Len() == 0 {
		s.emit("No flavor catalog loaded, classification disabled", events.TagWarning)
	} else {
		s.emit(fmt.Sprintf("Detecting server flavor with %d rules...", s.catalog.Len()), events.TagInfo)
	}

	c := flavor.NewClassifier(s.catalog,
		flavor.WithLogger(s.logger),
		flavor.WithObserver(func(p flavor.Probe) {
			s.metrics.RecordProbe(p.Outcome.String(), p.Duration)
			switch p.Outcome {
			case flavor.Matched:
				s.emit(fmt.Sprintf("Rule matched for %s: %s", p.Rule.FlavorName, p.Rule.Command), events.TagSuccess)
			case flavor.NoMatch:
				s.emit(fmt.Sprintf("Testing %s: %s (no match)", p.Rule.FlavorName, p.Rule.Command), events.TagInfo)
			case flavor.ExecutionFailed:
				s.emit(fmt.Sprintf("Testing %s: %s failed: %v", p.Rule.FlavorName, p.Rule.Command, p.Err), events.TagWarning)
			}
		}),
	)

	res, err := c.Classify(ctx, s.executor(gen, cred.adminSecret()))
	if err != nil {
		return res, err
	}

	s.metrics.RecordClassification(res.Key)
	s.sink.Emit(events.New(events.FlavorDetected, events.Flavor{Flavor: res.Name, Key: res.Key}))
	s.emit(fmt.Sprintf("Server flavor detected: %s", res.Name), events.TagSuccess)
	return res, nil
}

// executor routes rule probes: sudo-prefixed commands through a fresh
// shell, other sudo rules through the root shell, the rest one-shot.
func (s *Session) executor(gen uint64, secret string) flavor.Executor {
	return flavor.ExecutorFunc(func(ctx context.Context, command string, timeout time.Duration, useSudo bool) (*connector.Result, error) {
		if useSudo && !strings.HasPrefix(strings.TrimSpace(command), "sudo ") {
			drv, err := s.shellDriver(ctx, gen)
			if err != nil {
				return nil, err
			}
			return drv.RunCommand(ctx, command, timeout)
		}

		s.mu.RLock()
		conn, cur := s.conn, s.gen
		s.mu.RUnlock()
		if conn == nil || cur != gen {
			return nil, ErrDisconnected
		}
		d := driver.New(conn, nil, driver.WithOptions(s.opts.Driver), driver.WithLogger(s.logger))
		if useSudo {
			return d.RunSudoPrefixed(ctx, command, secret, timeout)
		}
		return d.RunOneShot(ctx, command, timeout)
	})
}

// shellDriver returns the root shell driver, replacing it with a freshly
// elevated shell if an earlier command left it faulted.
func (s *Session) shellDriver(ctx context.Context, gen uint64) (*driver.Driver, error) {
	s.mu.RLock()
	drv, conn, cred, cur := s.drv, s.conn, s.cred, s.gen
	s.mu.RUnlock()
	if cur != gen || conn == nil {
		return nil, ErrDisconnected
	}
	if drv != nil && drv.State() != driver.Faulted {
		return drv, nil
	}
	if drv != nil {
		_ = drv.Close()
	}

	s.logger.Info("Reopening root shell")
	shell, err := conn.OpenShell(ctx)
	if err != nil {
		return nil, fmt.Errorf("reopening shell: %w", err)
	}
	fresh := driver.New(conn, shell, driver.WithOptions(s.opts.Driver), driver.WithLogger(s.logger))
	if err := sleepCtx(ctx, s.opts.BannerDelay); err != nil {
		_ = fresh.Close()
		return nil, err
	}
	_, _ = fresh.Drain()
	if _, err := fresh.Elevate(ctx, cred.adminSecret(), s.opts.ElevateTimeout); err != nil {
		_ = fresh.Close()
		return nil, fmt.Errorf("%w: %w", ErrElevation, err)
	}
	if !s.attach(gen, conn, fresh) {
		_ = fresh.Close()
		return nil, ErrDisconnected
	}
	return fresh, nil
}

// Execute runs a one-shot command on the host as the login user.
func (s *Session) Execute(ctx context.Context, command string) (*connector.Result, error) {
	ctx, gen, done, err := s.startOp(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	s.mu.RLock()
	conn, cur := s.conn, s.gen
	s.mu.RUnlock()
	if conn == nil || cur != gen {
		return nil, ErrDisconnected
	}
	return conn.Execute(ctx, command)
}

// LogFilesPayload is the data of a log_files_response event.
type LogFilesPayload struct {
	LogFiles Listing `json:"log_files"`
}

// DiscoverLogFiles lists log files under the discovery root.
func (s *Session) DiscoverLogFiles(ctx context.Context) (Listing, error) {
	ctx, gen, done, err := s.startOp(ctx)
	if err != nil {
		if errors.Is(err, ErrNotReady) {
			s.emit("Error: Not connected to server", events.TagError)
		}
		return Listing{}, err
	}
	defer done()
	return s.discover(ctx, gen)
}

func (s *Session) discover(ctx context.Context, gen uint64) (Listing, error) {
	root := s.opts.DiscoveryRoot
	s.emit("Starting Operation: System Log Files Scanning", events.TagOperationStart)
	s.emit(fmt.Sprintf("Scanning for log files in %s directory", root), events.TagInfo)

	cmd := DiscoveryCommand(root)
	s.emit("Executing command: "+cmd, events.TagCommand)

	drv, err := s.shellDriver(ctx, gen)
	if err != nil {
		s.emit(fmt.Sprintf("Error scanning log files: %v", err), events.TagError)
		return Listing{}, err
	}
	res, err := drv.RunCommand(ctx, cmd, s.opts.DiscoveryTimeout)
	if err != nil {
		s.emit(fmt.Sprintf("Error scanning log files: %v", err), events.TagError)
		return Listing{}, err
	}

	listing := ParseLogListing(strings.Split(res.Stdout, "\n"), root, s.opts.ExcludeMarkers)
	s.emit(fmt.Sprintf("-> Found %d log files across %d directories (excluding %s files)",
		listing.Total(), len(listing), strings.Join(s.opts.ExcludeMarkers, ", ")), events.TagSuccess)
	for _, group := range listing.Groups() {
		files := listing[group]
		names := make([]string, 0, 3)
		for i := 0; i < len(files) && i < 3; i++ {
			names = append(names, files[i].Name)
		}
		summary := strings.Join(names, ", ")
		if len(files) > 3 {
			summary += "..."
		}
		s.emit(fmt.Sprintf("  %s: %d files -> %s", group, len(files), summary), events.TagInfo)
	}

	s.sink.Emit(events.New(events.LogFiles, LogFilesPayload{LogFiles: listing}))
	return listing, nil
}

// TailLogFile returns the last lines of path, filtered on the host. lines
// <= 0 uses the default count.
func (s *Session) TailLogFile(ctx context.Context, path string, lines int, filter Filter) (*TailResult, error) {
	f, err := ParseFilter(string(filter))
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("log file path is required")
	}
	if lines <= 0 {
		lines = s.opts.DefaultTailLines
	}

	ctx, gen, done, err := s.startOp(ctx)
	if err != nil {
		if errors.Is(err, ErrNotReady) {
			s.emit("Error: Not connected to server", events.TagError)
		}
		return nil, err
	}
	defer done()

	s.emit(fmt.Sprintf("Getting last %d lines from: %s", lines, path), events.TagInfo)
	cmd := TailCommand(path, lines, f)
	s.emit("Executing command: "+cmd, events.TagCommand)

	drv, err := s.shellDriver(ctx, gen)
	if err != nil {
		s.emit(fmt.Sprintf("Error getting log file tail: %v", err), events.TagError)
		return nil, err
	}
	var content string
	res, err := drv.RunCommand(ctx, cmd, s.opts.TailTimeout)
	var de *driver.Error
	switch {
	case err == nil:
		content = res.Stdout
	case errors.As(err, &de) && de.Kind == driver.KindTimeout:
		// The shell is faulted and gets replaced on next use. Keep what arrived.
		s.logger.Warn("Tail timed out, returning partial output", zap.String("path", path), zap.Int("bytes", len(de.Partial)))
		s.emit("Warning: log file read timed out, showing partial output", events.TagWarning)
		content = strings.Join(prompt.CleanOutput(de.Partial, cmd), "\n")
	default:
		s.emit(fmt.Sprintf("Error getting log file tail: %v", err), events.TagError)
		return nil, err
	}

	out := newTailResult(path, lines, f, cmd, content, time.Now())
	s.emit(fmt.Sprintf("-> Successfully retrieved %d lines from log file", out.LinesRetrieved), events.TagSuccess)
	s.sink.Emit(events.New(events.LogFileContent, out))
	return out, nil
}

// Disconnect aborts any running operation, sends a courtesy exit and closes
// the transport. It is a no-op when already disconnected.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	if s.state == Disconnected {
		s.mu.Unlock()
		return nil
	}
	s.gen++
	cancel, conn, drv, host := s.cancel, s.conn, s.drv, s.cred.Address
	s.cancel, s.conn, s.drv = nil, nil, nil
	s.result = flavor.Result{}
	tr, _ := s.setStateLocked(Disconnected, "disconnect requested")
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.notify(tr)

	s.emit("Disconnecting from server...", events.TagInfo)
	err := s.closeTransport(conn, drv, true)
	if err != nil {
		s.emit(fmt.Sprintf("Error during disconnect: %v", err), events.TagError)
	}
	s.emit(fmt.Sprintf("Session ended, disconnected from %s", host), events.TagSessionStart)
	s.emit("Disconnected from server", events.TagInfo)
	s.sink.Emit(events.New(events.ConnectionStatus, events.Status{Connected: false, Message: "Disconnected"}))
	return err
}

// reset closes a previous connection before a new one is made, without the
// courtesy exit.
func (s *Session) reset(reason string) {
	s.mu.Lock()
	if s.state == Disconnected {
		s.mu.Unlock()
		return
	}
	s.gen++
	conn, drv := s.conn, s.drv
	s.cancel, s.conn, s.drv = nil, nil, nil
	tr, _ := s.setStateLocked(Disconnected, reason)
	s.mu.Unlock()
	s.notify(tr)
	_ = s.closeTransport(conn, drv, false)
}

func (s *Session) closeTransport(conn connector.Connector, drv *driver.Driver, courtesy bool) error {
	if drv != nil {
		if courtesy {
			drv.Exit(s.opts.ExitWait)
		}
		_ = drv.Close()
	}
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// fail faults the session after a connect error.
func (s *Session) fail(gen uint64, ce *ConnectError) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	conn, drv := s.conn, s.drv
	s.cancel, s.conn, s.drv = nil, nil, nil
	tr, _ := s.setStateLocked(Faulted, string(ce.Category))
	s.mu.Unlock()
	s.notify(tr)

	_ = s.closeTransport(conn, drv, false)

	s.logger.Error("Connect failed", zap.String("category", string(ce.Category)), zap.Error(ce.Err))
	s.emit(fmt.Sprintf("Connection failed: %s", ce.Technical), events.TagError)
	s.sink.Emit(events.New(events.ConnectionStatus, events.Status{
		Connected:    false,
		Message:      ce.Message,
		ErrorDetails: ce,
	}))
}

// startOp claims the session for an operation that needs Ready.
func (s *Session) startOp(ctx context.Context) (context.Context, uint64, func(), error) {
	if s.State() != Ready {
		return nil, 0, nil, ErrNotReady
	}
	if !s.opMu.TryLock() {
		return nil, 0, nil, ErrBusy
	}

	s.mu.Lock()
	if s.state != Ready {
		s.mu.Unlock()
		s.opMu.Unlock()
		return nil, 0, nil, ErrNotReady
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	gen := s.gen
	s.mu.Unlock()

	done := func() {
		cancel()
		s.mu.Lock()
		if s.gen == gen {
			s.cancel = nil
		}
		s.mu.Unlock()
		s.opMu.Unlock()
	}
	return ctx, gen, done, nil
}

func (s *Session) attach(gen uint64, conn connector.Connector, drv *driver.Driver) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return false
	}
	s.conn = conn
	s.drv = drv
	return true
}

func (s *Session) stale(gen uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen != gen
}

// transition moves to state to unless the session was disconnected since gen.
func (s *Session) transition(gen uint64, to State, reason string) bool {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return false
	}
	tr, changed := s.setStateLocked(to, reason)
	s.mu.Unlock()
	if changed {
		s.notify(tr)
	}
	return true
}

// setStateLocked records a transition. Caller holds s.mu.
func (s *Session) setStateLocked(to State, reason string) (Transition, bool) {
	from := s.state
	if from == to {
		return Transition{}, false
	}
	s.state = to
	tr := Transition{From: from, To: to, Timestamp: time.Now(), Reason: reason}
	s.hist.record(tr)
	return tr, true
}

func (s *Session) notify(tr Transition) {
	if tr.From == tr.To {
		return
	}
	s.metrics.RecordStateChange(tr.From.String(), tr.To.String())
	s.logger.Debug("State changed",
		zap.Stringer("from", tr.From),
		zap.Stringer("to", tr.To),
		zap.String("reason", tr.Reason))
	s.sink.Emit(events.New(events.StateChanged, tr))
}

func (s *Session) emit(msg string, tag events.Tag) {
	s.sink.Emit(events.NewMessage(msg, tag))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
