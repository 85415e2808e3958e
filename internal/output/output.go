// Package output provides formatted terminal output for connectivity
// checks and host sessions.
package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/versalogiq/logiq/internal/bulk"
	"github.com/versalogiq/logiq/internal/flavor"
)

// Colors for terminal output.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

// Output handles formatted output.
type Output struct {
	w        io.Writer
	useColor bool
	debug    bool
}

// New creates a new output handler.
func New(w io.Writer) *Output {
	return &Output{
		w:        w,
		useColor: true,
	}
}

// SetColor enables or disables color output.
func (o *Output) SetColor(enabled bool) {
	o.useColor = enabled
}

// SetDebug enables or disables debug output.
func (o *Output) SetDebug(enabled bool) {
	o.debug = enabled
}

// color returns the string wrapped in color codes if enabled.
func (o *Output) color(c, s string) string {
	if !o.useColor {
		return s
	}
	return c + s + colorReset
}

// RunStart prints the banner before a bulk run.
func (o *Output) RunStart(hosts, workers int, parallel bool) {
	mode := "sequential"
	if parallel {
		mode = fmt.Sprintf("parallel, %d workers", workers)
	}
	o.printf("\n%s %d hosts %s\n", o.color(colorBold, "CHECK"), hosts, o.color(colorGray, "("+mode+")"))
}

// HostResult prints one finished host check on a single line.
// Format: [indicator] name (hostname) flavor - time
func (o *Output) HostResult(r bulk.HostResult) {
	var indicator, statusColor string
	switch {
	case !r.OK():
		indicator, statusColor = "✗", colorRed
	case r.FlavorMismatch:
		indicator, statusColor = "✓", colorYellow
	default:
		indicator, statusColor = "✓", colorGreen
	}

	detail := o.flavorDisplay(r)
	if !r.OK() {
		detail = o.color(colorRed, string(r.Status))
	}
	o.printf("  %s %s %s %s %s\n",
		o.color(statusColor, indicator),
		r.Name,
		o.color(colorGray, "("+r.Hostname+")"),
		detail,
		o.color(colorGray, fmt.Sprintf("%.2fs", r.ResponseTime)))

	if o.debug && r.ErrorMessage != "" {
		o.printf("    %s %s\n", o.color(colorGray, "→"), r.ErrorMessage)
	}
}

func (o *Output) flavorDisplay(r bulk.HostResult) string {
	switch {
	case r.FlavorMismatch:
		return o.color(colorYellow, fmt.Sprintf("%s→%s", r.Flavor, r.DetectedFlavor))
	case r.DetectedKey != "" && r.DetectedKey != flavor.UnknownKey:
		return o.color(colorGreen, r.DetectedFlavor)
	default:
		return o.color(colorCyan, r.Flavor+"?")
	}
}

// Summary prints the report recap: totals, flavor breakdowns and the
// failures with their suggestions.
func (o *Output) Summary(report *bulk.Report) {
	if len(report.Results) == 0 {
		o.Error("No test results available")
		return
	}
	s := report.Summarize()

	o.printf("\n%s\n", o.color(colorBold, strings.Repeat("=", 80)))
	o.printf("%s\n", o.color(colorBold, "SSH CONNECTIVITY TEST SUMMARY REPORT"))
	o.printf("%s\n", o.color(colorBold, strings.Repeat("=", 80)))
	o.printf("Test Duration: %.2f seconds\n", s.DurationSeconds)
	o.printf("Total Hosts Tested: %d\n", s.TotalHosts)
	o.printf("Successful Connections: %s\n", o.color(colorGreen, fmt.Sprint(s.Successful)))
	o.printf("Failed Connections: %s\n", o.color(colorRed, fmt.Sprint(s.Failed)))
	o.printf("Success Rate: %.1f%%\n", s.SuccessRate)
	if s.Successful > 0 {
		o.printf("Average Response Time: %.2fs\n", s.AvgResponseTime)
	}

	o.Section("FLAVOR BREAKDOWN (Configured)")
	for _, name := range bulk.SortedKeys(s.Configured) {
		fc := s.Configured[name]
		o.printf("   %s: %d/%d (%.0f%%)\n", name, fc.Success, fc.Total, percent(fc.Success, fc.Total))
	}

	if s.Successful > 0 {
		o.Section("FLAVOR DETECTION RESULTS")
		o.printf("   Successfully Detected: %d/%d (%.0f%%)\n", s.Detected, s.Successful, percent(s.Detected, s.Successful))
		o.printf("   Unknown/Failed Detection: %d/%d (%.0f%%)\n", s.Undetected, s.Successful, percent(s.Undetected, s.Successful))
		o.printf("   Configuration Mismatches: %d/%d (%.0f%%)\n", s.Mismatches, s.Successful, percent(s.Mismatches, s.Successful))

		if len(s.DetectedFlavors) > 0 {
			o.Section("DETECTED FLAVOR BREAKDOWN")
			for _, name := range bulk.SortedKeys(s.DetectedFlavors) {
				o.printf("   %s: %d hosts\n", name, s.DetectedFlavors[name])
			}
		}
	}

	order, groups := report.ByStatus()
	if ok := groups[bulk.StatusSuccess]; len(ok) > 0 {
		o.Section(fmt.Sprintf("SUCCESSFUL CONNECTIONS (%d)", len(ok)))
		for _, r := range ok {
			o.printf("   %s %s (%s) - %s - %.2fs\n", o.color(colorGreen, "●"), r.Name, r.Hostname, o.flavorDisplay(r), r.ResponseTime)
		}
	}

	if s.Failed == 0 {
		return
	}
	o.Section(fmt.Sprintf("FAILED CONNECTIONS (%d)", s.Failed))
	for _, status := range order {
		if status == bulk.StatusSuccess {
			continue
		}
		for _, r := range groups[status] {
			o.printf("   %s %s (%s) - %s\n", o.color(colorRed, "●"), r.Name, r.Hostname, r.Flavor)
			o.printf("      Error Type: %s\n", r.ErrorType)
			o.printf("      Error: %s\n", r.ErrorMessage)
			if len(r.Suggestions) > 0 {
				o.printf("      Suggestions:\n")
				for _, sug := range r.Suggestions {
					o.printf("        • %s\n", sug)
				}
			}
			o.printf("\n")
		}
	}
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

// Section prints a section header.
func (o *Output) Section(name string) {
	o.printf("\n%s\n", o.color(colorBold, name))
}

// Info prints an informational message.
func (o *Output) Info(format string, args ...any) {
	o.printf("%s %s\n", o.color(colorBlue, "INFO"), fmt.Sprintf(format, args...))
}

// Success prints a success message.
func (o *Output) Success(format string, args ...any) {
	o.printf("%s %s\n", o.color(colorGreen, "OK"), fmt.Sprintf(format, args...))
}

// Warn prints a warning message.
func (o *Output) Warn(format string, args ...any) {
	o.printf("%s %s\n", o.color(colorYellow, "WARN"), fmt.Sprintf(format, args...))
}

// Error prints an error message.
func (o *Output) Error(format string, args ...any) {
	o.printf("%s %s\n", o.color(colorRed, "ERROR"), fmt.Sprintf(format, args...))
}

// Debug prints a debug message (only in debug mode).
func (o *Output) Debug(format string, args ...any) {
	if o.debug {
		o.printf("%s %s\n", o.color(colorGray, "DEBUG"), fmt.Sprintf(format, args...))
	}
}

func (o *Output) printf(format string, args ...any) {
	fmt.Fprintf(o.w, format, args...)
}
