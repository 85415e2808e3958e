// Package bulk checks connectivity to every host in an inventory: login,
// a whoami command test, sudo elevation and flavor detection, compared
// against the flavor the inventory expects.
package bulk

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/versalogiq/logiq/internal/flavor"
	"github.com/versalogiq/logiq/internal/hostsession"
	"github.com/versalogiq/logiq/internal/inventory"
	"github.com/versalogiq/logiq/internal/metrics"
	"github.com/versalogiq/logiq/pkg/facts"
)

// Status is the outcome of one host check.
type Status string

const (
	StatusSuccess           Status = "SUCCESS"
	StatusAuthFailed        Status = "AUTH_FAILED"
	StatusConnectionRefused Status = "CONNECTION_REFUSED"
	StatusSSHError          Status = "SSH_ERROR"
	StatusTimeout           Status = "TIMEOUT"
	StatusDNSError          Status = "DNS_ERROR"
	StatusElevationFailed   Status = "ELEVATION_FAILED"
	StatusUnknownError      Status = "UNKNOWN_ERROR"
)

// HostResult is the record kept for one host.
type HostResult struct {
	Name           string       `json:"name"`
	Hostname       string       `json:"hostname"`
	Username       string       `json:"username"`
	Flavor         string       `json:"flavor"`
	DetectedFlavor string       `json:"detected_flavor"`
	DetectedKey    string       `json:"detected_key,omitempty"`
	FlavorMismatch bool         `json:"flavor_mismatch"`
	Status         Status       `json:"status"`
	ErrorType      string       `json:"error_type,omitempty"`
	ErrorMessage   string       `json:"error_message"`
	ResponseTime   float64      `json:"response_time"`
	Timestamp      time.Time    `json:"timestamp"`
	CommandTest    bool         `json:"command_test"`
	CommandOutput  string       `json:"command_output,omitempty"`
	Facts          *facts.Facts `json:"facts,omitempty"`
	Suggestions    []string     `json:"suggestions"`
}

// OK reports whether the host passed.
func (r HostResult) OK() bool { return r.Status == StatusSuccess }

// failure describes how a connect error category is reported.
type failure struct {
	status      Status
	errorType   string
	suggestions []string
}

var failures = map[hostsession.Category]failure{
	hostsession.CategoryAuth: {StatusAuthFailed, "Authentication", []string{
		"Verify username and password are correct",
		"Check if account is locked or disabled",
		"Ensure SSH service allows password authentication",
	}},
	hostsession.CategoryNetwork: {StatusConnectionRefused, "Connection Refused", []string{
		"Check if SSH service is running on the server",
		"Verify firewall settings allow SSH (port 22)",
		"Ensure the hostname/IP is correct",
	}},
	hostsession.CategorySSH: {StatusSSHError, "SSH Protocol", []string{
		"Check SSH service configuration on the server",
		"Verify SSH protocol versions are compatible",
	}},
	hostsession.CategoryTimeout: {StatusTimeout, "Timeout", []string{
		"Check network connectivity to the host",
		"Verify the server is responding",
		"Consider increasing timeout value",
	}},
	hostsession.CategoryDNS: {StatusDNSError, "DNS Resolution", []string{
		"Verify hostname spelling",
		"Check DNS server configuration",
		"Try using IP address instead of hostname",
	}},
	hostsession.CategoryElevation: {StatusElevationFailed, "Elevation", []string{
		"Verify the admin password is correct",
		"Check that the user is allowed to run sudo su",
	}},
	hostsession.CategoryUnknown: {StatusUnknownError, "Unknown", []string{
		"Review network connectivity",
		"Check server accessibility",
		"Contact system administrator",
	}},
}

// Options tunes a run.
type Options struct {
	// Parallel checks hosts concurrently, Workers at a time.
	Parallel bool
	Workers  int
}

// DefaultOptions checks hosts in parallel, five at a time.
func DefaultOptions() Options {
	return Options{Parallel: true, Workers: 5}
}

// Option configures a Checker.
type Option func(*Checker)

// WithOptions replaces the run options.
func WithOptions(o Options) Option {
	return func(c *Checker) {
		c.opts = o
	}
}

// WithSessionOptions sets the timings of every host session the checker
// opens. Log discovery is always skipped.
func WithSessionOptions(o hostsession.Options) Option {
	return func(c *Checker) {
		c.sessionOpts = o
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Checker) {
		c.logger = l
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Checker) {
		c.metrics = m
	}
}

// WithProgress registers a callback run as each host finishes.
func WithProgress(fn func(HostResult)) Option {
	return func(c *Checker) {
		c.progress = fn
	}
}

// Checker runs host checks.
type Checker struct {
	catalog     *flavor.Catalog
	opts        Options
	sessionOpts hostsession.Options
	logger      *zap.Logger
	metrics     *metrics.Collector
	progress    func(HostResult)
}

// New creates a checker that classifies hosts with catalog.
func New(catalog *flavor.Catalog, opts ...Option) *Checker {
	c := &Checker{
		catalog:     catalog,
		opts:        DefaultOptions(),
		sessionOpts: hostsession.DefaultOptions(),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.catalog == nil {
		c.catalog = flavor.Empty()
	}
	return c
}

// Run checks every host and returns the report. Parallel results are
// sorted by hostname; sequential results keep inventory order.
func (c *Checker) Run(ctx context.Context, hosts []inventory.Host) *Report {
	report := &Report{
		Results:   make([]HostResult, len(hosts)),
		StartTime: time.Now(),
	}

	c.logger.Info("Starting connectivity checks",
		zap.Int("hosts", len(hosts)),
		zap.Bool("parallel", c.opts.Parallel),
		zap.Int("workers", c.workers()))

	if !c.opts.Parallel {
		for i, h := range hosts {
			report.Results[i] = c.CheckHost(ctx, h)
		}
		report.EndTime = time.Now()
		return report
	}

	var g errgroup.Group
	g.SetLimit(c.workers())
	for i, h := range hosts {
		g.Go(func() error {
			report.Results[i] = c.CheckHost(ctx, h)
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(report.Results, func(i, j int) bool {
		return report.Results[i].Hostname < report.Results[j].Hostname
	})
	report.EndTime = time.Now()
	return report
}

func (c *Checker) workers() int {
	if c.opts.Workers < 1 {
		return 1
	}
	return c.opts.Workers
}

// CheckHost connects to h, runs the command test, classifies the host and
// disconnects. It never returns an error; failures are recorded in the
// result.
func (c *Checker) CheckHost(ctx context.Context, h inventory.Host) HostResult {
	res := HostResult{
		Name:           h.DisplayName(),
		Hostname:       h.Hostname,
		Username:       h.User,
		Flavor:         h.ExpectedFlavor(),
		DetectedFlavor: c.catalog.UnknownName(),
		Timestamp:      time.Now(),
		Suggestions:    []string{},
	}
	log := c.logger.With(zap.String("host", h.Hostname))

	so := c.sessionOpts
	so.SkipDiscovery = true
	sess := hostsession.New("check:"+h.Hostname,
		hostsession.WithOptions(so),
		hostsession.WithCatalog(c.catalog),
		hostsession.WithLogger(log),
		hostsession.WithMetrics(c.metrics),
	)

	start := time.Now()
	defer func() {
		res.ResponseTime = seconds(time.Since(start))
		c.metrics.RecordHostCheck(string(res.Status))
		if c.progress != nil {
			c.progress(res)
		}
	}()

	err := sess.Connect(ctx, hostsession.Credential{
		Address:     h.Hostname,
		Username:    h.User,
		Secret:      h.Password,
		AdminSecret: h.AdminPassword,
	})
	if err != nil {
		c.recordFailure(&res, h, err)
		log.Warn("Host check failed", zap.String("status", string(res.Status)), zap.Error(err))
		return res
	}
	defer func() { _ = sess.Disconnect() }()

	if f, err := facts.Gather(ctx, sess); err == nil {
		res.CommandTest = true
		res.CommandOutput = f.User
		res.Facts = f
	} else {
		log.Debug("Command test failed", zap.Error(err))
	}

	detected, _ := sess.Flavor()
	if detected.Name != "" {
		res.DetectedFlavor = detected.Name
		res.DetectedKey = detected.Key
	}
	res.FlavorMismatch = detected.Key != "" && !detected.Unknown() && !sameFlavor(h.ExpectedFlavor(), detected)
	res.Status = StatusSuccess
	log.Info("Host check passed",
		zap.String("flavor", res.DetectedFlavor),
		zap.Bool("mismatch", res.FlavorMismatch))
	return res
}

func (c *Checker) recordFailure(res *HostResult, h inventory.Host, err error) {
	var ce *hostsession.ConnectError
	if !errors.As(err, &ce) {
		ce = hostsession.AnalyzeConnectError(err, h.Hostname, h.User)
	}
	f, ok := failures[ce.Category]
	if !ok {
		f = failures[hostsession.CategoryUnknown]
	}
	res.Status = f.status
	res.ErrorType = f.errorType
	res.ErrorMessage = ce.Technical
	res.Suggestions = f.suggestions
}

// sameFlavor compares the configured flavor with a detection by key or
// display name, ignoring case.
func sameFlavor(configured string, detected flavor.Result) bool {
	return strings.EqualFold(configured, detected.Key) || strings.EqualFold(configured, detected.Name)
}

func seconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}
