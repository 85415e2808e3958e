package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/versalogiq/logiq/internal/events"
	"github.com/versalogiq/logiq/internal/hostsession"
	"github.com/versalogiq/logiq/internal/sshtest"
)

func factory(opts ...hostsession.Option) Factory {
	return func(id string, sink events.Sink) *hostsession.Session {
		return hostsession.New(id, append([]hostsession.Option{hostsession.WithSink(sink)}, opts...)...)
	}
}

func TestGetOrCreateIsPerCaller(t *testing.T) {
	r := New(factory())

	a := r.GetOrCreate("a", events.Discard)
	assert.Same(t, a, r.GetOrCreate("a", events.Discard))
	b := r.GetOrCreate("b", events.Discard)
	assert.NotSame(t, a, b)
	assert.Equal(t, "b", b.ID())
	assert.Equal(t, 2, r.Len())

	got, ok := r.Get("a")
	assert.True(t, ok)
	assert.Same(t, a, got)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestEvict(t *testing.T) {
	r := New(factory())
	r.GetOrCreate("a", events.Discard)

	r.Evict("a")
	r.Evict("a")
	r.Evict("never-created")

	assert.Zero(t, r.Len())
	_, ok := r.Get("a")
	assert.False(t, ok)
}

func TestEvictDisconnects(t *testing.T) {
	srv := sshtest.New(t, sshtest.Config{Password: "pw", PasswordlessSudo: true})

	opts := hostsession.DefaultOptions()
	opts.BannerDelay = 20 * time.Millisecond
	opts.SkipDiscovery = true
	opts.Driver.PollInterval = 10 * time.Millisecond
	opts.Driver.SettleDelay = 100 * time.Millisecond

	r := New(factory(hostsession.WithOptions(opts)))
	rec := &events.Recorder{}
	s := r.GetOrCreate("ws-1", rec)
	require.NoError(t, s.Connect(context.Background(), hostsession.Credential{Address: srv.Addr, Username: "admin", Secret: "pw"}))
	require.Equal(t, hostsession.Ready, s.State())

	r.Evict("ws-1")
	assert.Equal(t, hostsession.Disconnected, s.State())
	assert.Contains(t, rec.Messages(), "Disconnected from server")
}

func TestConcurrentCallers(t *testing.T) {
	r := New(factory())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("caller-%d", i%10)
			r.GetOrCreate(id, events.Discard)
			if i%3 == 0 {
				r.Evict(id)
			}
		}(i)
	}
	wg.Wait()

	r.CloseAll()
	assert.Zero(t, r.Len())
}
