// Package dial picks a transport for a host address.
package dial

import (
	"strings"
	"time"

	"github.com/versalogiq/logiq/internal/connector"
	"github.com/versalogiq/logiq/internal/connector/docker"
	"github.com/versalogiq/logiq/internal/connector/local"
	"github.com/versalogiq/logiq/internal/connector/ssh"
)

// Target identifies a host and how to log in to it.
type Target struct {
	Address  string
	User     string
	Password string
	Timeout  time.Duration
}

// New returns a connector for t. Addresses of the form docker://<container>
// exec into a container, "local" or local:// run on this machine, and
// anything else (optionally prefixed with ssh://) is dialled over SSH.
func New(t Target) connector.Connector {
	switch {
	case strings.HasPrefix(t.Address, "docker://"):
		name := strings.TrimPrefix(t.Address, "docker://")
		var opts []docker.Option
		if t.User != "" {
			opts = append(opts, docker.WithUser(t.User))
		}
		return docker.New(name, opts...)
	case t.Address == "local" || strings.HasPrefix(t.Address, "local://"):
		return local.New()
	default:
		host := strings.TrimPrefix(t.Address, "ssh://")
		return ssh.New(host, t.User, t.Password, ssh.WithTimeout(t.Timeout))
	}
}
