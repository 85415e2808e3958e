package facts

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/versalogiq/logiq/internal/connector"
)

type fakeRunner map[string]*connector.Result

func (f fakeRunner) Execute(_ context.Context, cmd string) (*connector.Result, error) {
	if r, ok := f[cmd]; ok {
		return r, nil
	}
	return nil, errors.New("unexpected command " + cmd)
}

func TestGatherLinux(t *testing.T) {
	r := fakeRunner{
		"whoami":                          {Stdout: "admin\n"},
		"hostname":                        {Stdout: "branch-1\n"},
		"uname -s":                        {Stdout: "Linux\n"},
		"cat /etc/os-release 2>/dev/null": {Stdout: "NAME=\"Ubuntu\"\nID=ubuntu\nPRETTY_NAME=\"Ubuntu 22.04.4 LTS\"\n"},
		"uname -r":                        {Stdout: "5.15.0-105-generic\n"},
		"uname -m":                        {Stdout: "aarch64\n"},
	}

	f, err := Gather(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, &Facts{
		User:         "admin",
		Hostname:     "branch-1",
		OSType:       "Linux",
		Distribution: "ubuntu",
		OSName:       "Ubuntu 22.04.4 LTS",
		Kernel:       "5.15.0-105-generic",
		Arch:         "arm64",
	}, f)
}

func TestGatherOptionalProbesFail(t *testing.T) {
	f, err := Gather(context.Background(), fakeRunner{"whoami": {Stdout: "versa"}})
	require.NoError(t, err)
	assert.Equal(t, "versa", f.User)
	assert.Empty(t, f.Hostname)
	assert.Empty(t, f.Distribution)
}

func TestGatherWhoamiFailures(t *testing.T) {
	tests := []struct {
		name   string
		result *connector.Result
	}{
		{"empty output", &connector.Result{}},
		{"stderr", &connector.Result{Stdout: "admin", Stderr: "warning: something"}},
		{"non-zero exit", &connector.Result{ExitCode: 127, Stderr: "whoami: not found"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Gather(context.Background(), fakeRunner{"whoami": tt.result})
			assert.Error(t, err)
		})
	}
}

func TestParseOSRelease(t *testing.T) {
	got := parseOSRelease("# comment\n\nID='debian'\nVERSION_ID=\"12\"\nbroken\n")
	assert.Equal(t, map[string]string{"ID": "debian", "VERSION_ID": "12"}, got)
}

func TestNormalizeArch(t *testing.T) {
	tests := map[string]string{
		"x86_64":  "amd64",
		"aarch64": "arm64",
		"armv7l":  "arm",
		"s390x":   "s390x",
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizeArch(in), in)
	}
}
