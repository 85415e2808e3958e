package dial

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/versalogiq/logiq/internal/connector/docker"
	"github.com/versalogiq/logiq/internal/connector/local"
	"github.com/versalogiq/logiq/internal/connector/ssh"
)

func TestNew(t *testing.T) {
	assert.IsType(t, &docker.Connector{}, New(Target{Address: "docker://web"}))
	assert.Equal(t, "docker://admin@web", New(Target{Address: "docker://web", User: "admin"}).String())
	assert.IsType(t, &local.Connector{}, New(Target{Address: "local"}))
	assert.IsType(t, &local.Connector{}, New(Target{Address: "local://"}))

	c := New(Target{Address: "ssh://10.0.0.5:2222", User: "admin"})
	assert.IsType(t, &ssh.Connector{}, c)
	assert.Equal(t, "ssh://admin@10.0.0.5:2222", c.String())

	assert.Equal(t, "ssh://admin@vms01:22", New(Target{Address: "vms01", User: "admin"}).String())
}
