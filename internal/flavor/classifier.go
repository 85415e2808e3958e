package flavor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/versalogiq/logiq/internal/connector"
)

// Executor runs a probe command on the host being classified. useSudo
// routes the command through a privileged shell.
type Executor interface {
	Run(ctx context.Context, command string, timeout time.Duration, useSudo bool) (*connector.Result, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, command string, timeout time.Duration, useSudo bool) (*connector.Result, error)

// Run calls f.
func (f ExecutorFunc) Run(ctx context.Context, command string, timeout time.Duration, useSudo bool) (*connector.Result, error) {
	return f(ctx, command, timeout, useSudo)
}

// Outcome is the result of one probe.
type Outcome int

const (
	// Matched means the output satisfied the rule's patterns.
	Matched Outcome = iota + 1
	// NoMatch means the command ran but the output belongs to another flavor.
	NoMatch
	// ExecutionFailed means the command could not be run.
	ExecutionFailed
)

func (o Outcome) String() string {
	switch o {
	case Matched:
		return "matched"
	case NoMatch:
		return "no-match"
	case ExecutionFailed:
		return "execution-failed"
	default:
		return "unknown"
	}
}

// Probe records one rule evaluation.
type Probe struct {
	Rule     Rule
	Outcome  Outcome
	Output   string
	Err      error
	Duration time.Duration
}

// Result is the classification of a host.
type Result struct {
	Key    string `json:"key"`
	Name   string `json:"name"`
	Rule   *Rule  `json:"rule,omitempty"`
	Probes int    `json:"probes"`
}

// Unknown reports whether no rule matched.
func (r Result) Unknown() bool {
	return r.Key == UnknownKey
}

// Classifier evaluates a catalog against a host, first match wins.
type Classifier struct {
	catalog *Catalog
	logger  *zap.Logger
	observe func(Probe)
}

// ClassifierOption configures a Classifier.
type ClassifierOption func(*Classifier)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ClassifierOption {
	return func(c *Classifier) {
		c.logger = l
	}
}

// WithObserver registers a callback invoked after every probe.
func WithObserver(fn func(Probe)) ClassifierOption {
	return func(c *Classifier) {
		c.observe = fn
	}
}

// NewClassifier creates a classifier. A nil catalog behaves as empty.
func NewClassifier(catalog *Catalog, opts ...ClassifierOption) *Classifier {
	if catalog == nil {
		catalog = Empty()
	}
	c := &Classifier{catalog: catalog, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Catalog returns the classifier's catalog.
func (c *Classifier) Catalog() *Catalog {
	return c.catalog
}

// Classify runs rules in priority order until one matches. Execution
// failures are logged and skipped. The error is non-nil only when ctx ends
// before the catalog is exhausted.
func (c *Classifier) Classify(ctx context.Context, exec Executor) (Result, error) {
	unknown := Result{Key: UnknownKey, Name: c.catalog.UnknownName()}

	for i := range c.catalog.rules {
		if err := ctx.Err(); err != nil {
			unknown.Probes = i
			return unknown, err
		}

		rule := c.catalog.rules[i]
		start := time.Now()
		res, err := exec.Run(ctx, rule.Command, time.Duration(rule.Timeout)*time.Second, rule.UseSudo)
		if err == nil && res == nil {
			res = &connector.Result{}
		}
		probe := Probe{Rule: rule, Err: err, Duration: time.Since(start)}

		switch {
		case err != nil:
			probe.Outcome = ExecutionFailed
			c.logger.Warn("Probe failed",
				zap.String("flavor", rule.FlavorKey),
				zap.String("command", rule.Command),
				zap.Error(err))
		case MatchPatterns(res.Stdout, rule.RequiredPatterns, rule.MatchType, rule.CaseSensitive):
			probe.Outcome = Matched
			probe.Output = res.Stdout
		default:
			probe.Outcome = NoMatch
			probe.Output = res.Stdout
			c.logger.Debug("Probe did not match",
				zap.String("flavor", rule.FlavorKey),
				zap.String("command", rule.Command),
				zap.Int("priority", rule.Priority))
		}

		if c.observe != nil {
			c.observe(probe)
		}

		if probe.Outcome == Matched {
			c.logger.Info("Flavor detected",
				zap.String("flavor", rule.FlavorName),
				zap.String("command", rule.Command))
			return Result{Key: rule.FlavorKey, Name: rule.FlavorName, Rule: &rule, Probes: i + 1}, nil
		}
	}

	unknown.Probes = len(c.catalog.rules)
	return unknown, nil
}
