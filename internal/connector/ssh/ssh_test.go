package ssh

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/versalogiq/logiq/internal/sshtest"
)

func TestAddr(t *testing.T) {
	tests := []struct {
		host string
		opts []Option
		want string
	}{
		{"10.0.0.1", nil, "10.0.0.1:22"},
		{"10.0.0.1:2222", nil, "10.0.0.1:2222"},
		{"example.com", []Option{WithPort(2200)}, "example.com:2200"},
		{"::1", nil, "[::1]:22"},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			c := New(tt.host, "admin", "pw", tt.opts...)
			assert.Equal(t, tt.want, c.Addr())
		})
	}
}

func TestString(t *testing.T) {
	c := New("10.0.0.1", "admin", "pw")
	assert.Equal(t, "ssh://admin@10.0.0.1:22", c.String())
}

func TestExecute(t *testing.T) {
	srv := sshtest.New(t, sshtest.Config{
		Password: "secret",
		Commands: map[string]string{"vsh status": "msgservice: running"},
	})

	c := New(srv.Addr, "admin", "secret", WithTimeout(5*time.Second))
	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	res, err := c.Execute(context.Background(), "vsh status")
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "msgservice: running", strings.TrimSpace(res.Stdout))

	res, err = c.Execute(context.Background(), "nosuchtool")
	require.NoError(t, err)
	assert.Equal(t, 127, res.ExitCode)
	assert.Contains(t, res.Stderr, "command not found")
}

func TestConnectWrongPassword(t *testing.T) {
	srv := sshtest.New(t, sshtest.Config{Password: "secret"})

	c := New(srv.Addr, "admin", "wrong", WithTimeout(5*time.Second))
	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unable to authenticate")
}

func TestExecuteNotConnected(t *testing.T) {
	c := New("127.0.0.1", "admin", "pw")
	_, err := c.Execute(context.Background(), "true")
	assert.Error(t, err)
	assert.NoError(t, c.Close())
}

func TestOpenShell(t *testing.T) {
	srv := sshtest.New(t, sshtest.Config{Password: "secret", Banner: "Welcome"})

	c := New(srv.Addr, "admin", "secret")
	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	sh, err := c.OpenShell(context.Background())
	require.NoError(t, err)
	defer sh.Close()

	var got strings.Builder
	buf := make([]byte, 1024)
	require.Eventually(t, func() bool {
		n, _ := sh.Read(buf)
		got.Write(buf[:n])
		return strings.HasSuffix(got.String(), "$ ")
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, got.String(), "Welcome")

	_, err = sh.Write([]byte("whoami\n"))
	require.NoError(t, err)

	got.Reset()
	require.Eventually(t, func() bool {
		n, _ := sh.Read(buf)
		got.Write(buf[:n])
		return strings.HasSuffix(got.String(), "$ ")
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, got.String(), "admin\r\n")
}
