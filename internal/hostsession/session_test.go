package hostsession

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/versalogiq/logiq/internal/events"
	"github.com/versalogiq/logiq/internal/flavor"
	"github.com/versalogiq/logiq/internal/sshtest"
)

func fastOptions() Options {
	o := DefaultOptions()
	o.ConnectTimeout = 5 * time.Second
	o.ElevateTimeout = 3 * time.Second
	o.BannerDelay = 20 * time.Millisecond
	o.VerifyTimeout = 2 * time.Second
	o.DiscoveryTimeout = 2 * time.Second
	o.TailTimeout = 2 * time.Second
	o.ExitWait = 200 * time.Millisecond
	o.Driver.PollInterval = 10 * time.Millisecond
	o.Driver.SettleDelay = 150 * time.Millisecond
	o.Driver.SudoSettle = 150 * time.Millisecond
	o.Driver.PromptTimeout = 2 * time.Second
	return o
}

var testFiles = map[string][]string{
	"/var/log/syslog":            {"boot ok", "service started", "ERROR disk full", "recovered"},
	"/var/log/nginx/access.log":  {"GET /"},
	"/var/log/nginx/error.log":   {"upstream failed"},
	"/var/log/app.gz.log":        {"rotated"},
	"/var/log/nginx/old.log.gz":  {"compressed"},
	"/var/log/versa/vms/msg.log": {"msgservice up"},
}

func testCatalog(t *testing.T) *flavor.Catalog {
	t.Helper()
	c, err := flavor.NewCatalog([]flavor.Rule{
		{FlavorKey: "vms", FlavorName: "VMS", Command: "vsh status", UseSudo: true, RequiredPatterns: []string{"msgservice"}, Priority: 100, Timeout: 1},
		{FlavorKey: "vos", FlavorName: "VOS", Command: "cat /etc/versa-release", RequiredPatterns: []string{"flexvnf"}, Priority: 50, Timeout: 2},
	})
	require.NoError(t, err)
	return c
}

func newTestSession(t *testing.T, rec *events.Recorder, opts ...Option) *Session {
	t.Helper()
	base := []Option{
		WithOptions(fastOptions()),
		WithCatalog(testCatalog(t)),
		WithSink(rec),
		WithLogger(zaptest.NewLogger(t)),
	}
	s := New("caller-1", append(base, opts...)...)
	t.Cleanup(func() { _ = s.Disconnect() })
	return s
}

func TestConnectClassifiesAndDiscovers(t *testing.T) {
	srv := sshtest.New(t, sshtest.Config{
		Password: "pw",
		Banner:   "Welcome to testhost",
		Commands: map[string]string{"cat /etc/versa-release": "Versa-FlexVNF 21.2"},
		Files:    testFiles,
	})
	rec := &events.Recorder{}
	s := newTestSession(t, rec)

	err := s.Connect(context.Background(), Credential{Address: srv.Addr, Username: "admin", Secret: "pw"})
	require.NoError(t, err)

	assert.Equal(t, Ready, s.State())
	res, ready := s.Flavor()
	assert.True(t, ready)
	assert.Equal(t, "vos", res.Key)
	assert.Equal(t, "VOS", res.Name)

	flavors := rec.Named(events.FlavorDetected)
	require.Len(t, flavors, 1)
	assert.Equal(t, events.Flavor{Flavor: "VOS", Key: "vos"}, flavors[0].Data)

	statuses := rec.Named(events.ConnectionStatus)
	require.NotEmpty(t, statuses)
	assert.True(t, statuses[0].Data.(events.Status).Connected)

	listings := rec.Named(events.LogFiles)
	require.Len(t, listings, 1)
	listing := listings[0].Data.(LogFilesPayload).LogFiles
	assert.Equal(t, []string{"nginx", RootGroup, "versa"}, listing.Groups())
	assert.Equal(t, 4, listing.Total(), "compressed files are excluded")

	lines := srv.ShellLines()
	assert.Contains(t, lines, "sudo su")
	assert.Contains(t, lines, "whoami")
	assert.Contains(t, lines, "vsh status")
	assert.Contains(t, srv.Execs(), "cat /etc/versa-release")

	var states []State
	for _, tr := range s.History() {
		states = append(states, tr.To)
	}
	assert.Equal(t, []State{Connecting, Elevating, Elevated, Classifying, Ready}, states)
}

func TestTailLogFile(t *testing.T) {
	srv := sshtest.New(t, sshtest.Config{Password: "pw", Files: testFiles})
	rec := &events.Recorder{}
	opts := fastOptions()
	opts.SkipDiscovery = true
	s := newTestSession(t, rec, WithOptions(opts))

	require.NoError(t, s.Connect(context.Background(), Credential{Address: srv.Addr, Username: "admin", Secret: "pw"}))

	res, err := s.TailLogFile(context.Background(), "/var/log/syslog", 2, "")
	require.NoError(t, err)
	assert.Equal(t, "ERROR disk full\nrecovered", res.Content)
	assert.Equal(t, 2, res.LinesRequested)
	assert.Equal(t, 2, res.LinesRetrieved)
	assert.Equal(t, FilterRaw, res.Filter)
	assert.Equal(t, "tail -n 2 '/var/log/syslog'", res.Command)

	res, err = s.TailLogFile(context.Background(), "/var/log/syslog", 100, FilterRaw)
	require.NoError(t, err)
	assert.Equal(t, 4, res.LinesRetrieved, "short files return fewer lines than requested")

	require.Len(t, rec.Named(events.LogFileContent), 2)

	_, err = s.TailLogFile(context.Background(), "/var/log/syslog", 2, Filter("bogus"))
	assert.Error(t, err)
}

func TestTailLogFileTimeoutReplacesShell(t *testing.T) {
	srv := sshtest.New(t, sshtest.Config{
		Password: "pw",
		Files:    testFiles,
		Stall:    map[string]bool{"tail -n 2 '/var/log/syslog'": true},
	})
	rec := &events.Recorder{}
	opts := fastOptions()
	opts.SkipDiscovery = true
	opts.TailTimeout = 200 * time.Millisecond
	s := newTestSession(t, rec, WithOptions(opts))

	require.NoError(t, s.Connect(context.Background(), Credential{Address: srv.Addr, Username: "admin", Secret: "pw"}))

	res, err := s.TailLogFile(context.Background(), "/var/log/syslog", 2, FilterRaw)
	require.NoError(t, err)
	assert.Equal(t, "ERROR disk full\nrecovered", res.Content, "partial output is kept")
	assert.Equal(t, 2, res.LinesRetrieved)
	assert.Contains(t, strings.Join(rec.Messages(), "\n"), "partial output")

	res, err = s.TailLogFile(context.Background(), "/var/log/syslog", 100, FilterRaw)
	require.NoError(t, err)
	assert.Equal(t, "boot ok\nservice started\nERROR disk full\nrecovered", res.Content,
		"the next command runs on a fresh shell without leftovers")
	assert.Equal(t, Ready, s.State())
}

func TestConnectWrongSudoPassword(t *testing.T) {
	srv := sshtest.New(t, sshtest.Config{Password: "pw", SudoPassword: "other"})
	rec := &events.Recorder{}
	s := newTestSession(t, rec)

	err := s.Connect(context.Background(), Credential{Address: srv.Addr, Username: "admin", Secret: "pw"})

	var ce *ConnectError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CategoryElevation, ce.Category)
	assert.ErrorIs(t, err, ErrElevation)
	assert.Equal(t, Faulted, s.State())

	statuses := rec.Named(events.ConnectionStatus)
	require.NotEmpty(t, statuses)
	last := statuses[len(statuses)-1].Data.(events.Status)
	assert.False(t, last.Connected)
	assert.Same(t, ce, last.ErrorDetails)
}

func TestConnectAdminSecret(t *testing.T) {
	srv := sshtest.New(t, sshtest.Config{Password: "pw", SudoPassword: "admin-pw"})
	opts := fastOptions()
	opts.SkipDiscovery = true
	s := newTestSession(t, &events.Recorder{}, WithOptions(opts))

	err := s.Connect(context.Background(), Credential{Address: srv.Addr, Username: "admin", Secret: "pw", AdminSecret: "admin-pw"})
	require.NoError(t, err)
	assert.Equal(t, Ready, s.State())
}

func TestConnectPasswordlessSudo(t *testing.T) {
	srv := sshtest.New(t, sshtest.Config{Password: "pw", PasswordlessSudo: true})
	opts := fastOptions()
	opts.SkipDiscovery = true
	s := newTestSession(t, &events.Recorder{}, WithOptions(opts))

	require.NoError(t, s.Connect(context.Background(), Credential{Address: srv.Addr, Username: "admin", Secret: "pw"}))
	assert.Equal(t, Ready, s.State())
}

func TestConnectAuthFailure(t *testing.T) {
	srv := sshtest.New(t, sshtest.Config{Password: "pw"})
	s := newTestSession(t, &events.Recorder{})

	err := s.Connect(context.Background(), Credential{Address: srv.Addr, Username: "admin", Secret: "wrong"})

	var ce *ConnectError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CategoryAuth, ce.Category)
	assert.Equal(t, Faulted, s.State())
}

func TestConnectRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	s := newTestSession(t, &events.Recorder{})
	err = s.Connect(context.Background(), Credential{Address: addr, Username: "admin", Secret: "pw"})

	var ce *ConnectError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CategoryNetwork, ce.Category)
}

func TestOperationsRequireReady(t *testing.T) {
	rec := &events.Recorder{}
	s := newTestSession(t, rec)

	listing, err := s.DiscoverLogFiles(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)
	assert.NotNil(t, listing)
	assert.Zero(t, listing.Total())

	_, err = s.TailLogFile(context.Background(), "/var/log/syslog", 10, FilterRaw)
	assert.ErrorIs(t, err, ErrNotReady)

	_, err = s.Classify(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)

	assert.Contains(t, rec.Messages(), "Error: Not connected to server")
}

func TestDisconnectIdempotent(t *testing.T) {
	rec := &events.Recorder{}
	s := newTestSession(t, rec)

	require.NoError(t, s.Disconnect())
	require.NoError(t, s.Disconnect())
	assert.Empty(t, rec.Events())
	assert.Equal(t, Disconnected, s.State())
}

func TestDisconnectAfterConnect(t *testing.T) {
	srv := sshtest.New(t, sshtest.Config{Password: "pw"})
	rec := &events.Recorder{}
	opts := fastOptions()
	opts.SkipDiscovery = true
	s := newTestSession(t, rec, WithOptions(opts))

	require.NoError(t, s.Connect(context.Background(), Credential{Address: srv.Addr, Username: "admin", Secret: "pw"}))
	require.NoError(t, s.Disconnect())

	assert.Equal(t, Disconnected, s.State())
	_, ready := s.Flavor()
	assert.False(t, ready)
	assert.Eventually(t, func() bool {
		for _, l := range srv.ShellLines() {
			if l == "exit" {
				return true
			}
		}
		return false
	}, 2*time.Second, 20*time.Millisecond)

	statuses := rec.Named(events.ConnectionStatus)
	last := statuses[len(statuses)-1].Data.(events.Status)
	assert.False(t, last.Connected)
	assert.Equal(t, "Disconnected", last.Message)

	_, err := s.DiscoverLogFiles(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestDisconnectAbortsConnect(t *testing.T) {
	srv := sshtest.New(t, sshtest.Config{Password: "pw", Silent: true})
	opts := fastOptions()
	opts.ElevateTimeout = 30 * time.Second
	s := newTestSession(t, &events.Recorder{}, WithOptions(opts))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Connect(context.Background(), Credential{Address: srv.Addr, Username: "admin", Secret: "pw"})
	}()

	require.Eventually(t, func() bool { return s.State() == Elevating }, 5*time.Second, 10*time.Millisecond)

	start := time.Now()
	require.NoError(t, s.Disconnect())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrDisconnected)
	case <-time.After(5 * time.Second):
		t.Fatal("connect did not return after disconnect")
	}
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, Disconnected, s.State())
}

func TestConnectWhileBusy(t *testing.T) {
	srv := sshtest.New(t, sshtest.Config{Password: "pw", Silent: true})
	opts := fastOptions()
	opts.ElevateTimeout = 30 * time.Second
	s := newTestSession(t, &events.Recorder{}, WithOptions(opts))

	go func() {
		_ = s.Connect(context.Background(), Credential{Address: srv.Addr, Username: "admin", Secret: "pw"})
	}()
	require.Eventually(t, func() bool { return s.State() == Elevating }, 5*time.Second, 10*time.Millisecond)

	err := s.Connect(context.Background(), Credential{Address: srv.Addr, Username: "admin", Secret: "pw"})
	assert.True(t, errors.Is(err, ErrBusy))

	_, err = s.TailLogFile(context.Background(), "/var/log/syslog", 5, FilterRaw)
	assert.ErrorIs(t, err, ErrNotReady, "operations during connect are rejected, not queued")
}

func TestReclassify(t *testing.T) {
	srv := sshtest.New(t, sshtest.Config{
		Password: "pw",
		Commands: map[string]string{"vsh status": "msgservice: running"},
	})
	rec := &events.Recorder{}
	opts := fastOptions()
	opts.SkipDiscovery = true
	s := newTestSession(t, rec, WithOptions(opts))

	require.NoError(t, s.Connect(context.Background(), Credential{Address: srv.Addr, Username: "admin", Secret: "pw"}))
	first, _ := s.Flavor()
	assert.Equal(t, "vms", first.Key)

	res, err := s.Classify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "vms", res.Key)
	assert.Equal(t, Ready, s.State())
	assert.Len(t, rec.Named(events.FlavorDetected), 2)
}

func TestExecuteRunsAsLoginUser(t *testing.T) {
	srv := sshtest.New(t, sshtest.Config{Password: "pw", Hostname: "edge-7"})
	s := newTestSession(t, &events.Recorder{})

	_, err := s.Execute(context.Background(), "whoami")
	assert.ErrorIs(t, err, ErrNotReady)

	require.NoError(t, s.Connect(context.Background(), Credential{Address: srv.Addr, Username: "admin", Secret: "pw"}))

	res, err := s.Execute(context.Background(), "whoami")
	require.NoError(t, err)
	assert.Equal(t, "admin", strings.TrimSpace(res.Stdout))

	res, err = s.Execute(context.Background(), "hostname")
	require.NoError(t, err)
	assert.Equal(t, "edge-7", strings.TrimSpace(res.Stdout))
	assert.Contains(t, srv.Execs(), "whoami")
}
