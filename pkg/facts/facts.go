// Package facts gathers basic system information from a connected host.
package facts

import (
	"context"
	"errors"
	"strings"

	"github.com/versalogiq/logiq/internal/connector"
)

// Runner runs a one-shot command. connector.Connector satisfies it, as does
// a ready host session.
type Runner interface {
	Execute(ctx context.Context, cmd string) (*connector.Result, error)
}

// Facts is what a quick look at a host reveals.
type Facts struct {
	User         string `json:"user"`
	Hostname     string `json:"hostname,omitempty"`
	OSType       string `json:"os_type,omitempty"`
	Distribution string `json:"distribution,omitempty"`
	OSName       string `json:"os_name,omitempty"`
	Kernel       string `json:"kernel,omitempty"`
	Arch         string `json:"arch,omitempty"`
}

// Gather runs whoami and a handful of read-only probes. Only whoami is
// required; the rest are best effort.
func Gather(ctx context.Context, r Runner) (*Facts, error) {
	user, err := gatherUser(ctx, r)
	if err != nil {
		return nil, err
	}
	f := &Facts{User: user}

	// Gather hostname
	if out, err := run(ctx, r, "hostname"); err == nil {
		f.Hostname = out
	}

	// Gather OS information
	if out, err := run(ctx, r, "uname -s"); err == nil {
		f.OSType = out
	}
	if f.OSType == "Linux" {
		if out, err := run(ctx, r, "cat /etc/os-release 2>/dev/null"); err == nil {
			osRelease := parseOSRelease(out)
			f.Distribution = osRelease["ID"]
			f.OSName = osRelease["PRETTY_NAME"]
		}
	}
	if out, err := run(ctx, r, "uname -r"); err == nil {
		f.Kernel = out
	}
	if out, err := run(ctx, r, "uname -m"); err == nil {
		f.Arch = normalizeArch(out)
	}

	return f, nil
}

// gatherUser gets the login user. An empty answer or anything on stderr
// counts as a failed command test.
func gatherUser(ctx context.Context, r Runner) (string, error) {
	result, err := r.Execute(ctx, "whoami")
	if err != nil {
		return "", err
	}
	if err := connector.Check("whoami", result); err != nil {
		return "", err
	}
	user := strings.TrimSpace(result.Stdout)
	if user == "" || strings.TrimSpace(result.Stderr) != "" {
		return "", errors.New("whoami returned no user")
	}
	return user, nil
}

func run(ctx context.Context, r Runner, cmd string) (string, error) {
	result, err := r.Execute(ctx, cmd)
	if err != nil {
		return "", err
	}
	if err := connector.Check(cmd, result); err != nil {
		return "", err
	}
	return strings.TrimSpace(result.Stdout), nil
}

// parseOSRelease parses /etc/os-release format.
func parseOSRelease(content string) map[string]string {
	result := make(map[string]string)
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if idx := strings.Index(line, "="); idx > 0 {
			key := line[:idx]
			value := strings.Trim(line[idx+1:], "\"'")
			result[key] = value
		}
	}
	return result
}

func normalizeArch(arch string) string {
	switch arch {
	case "x86_64", "amd64":
		return "amd64"
	case "aarch64", "arm64":
		return "arm64"
	case "armv7l":
		return "arm"
	default:
		return arch
	}
}
