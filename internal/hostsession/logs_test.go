package hostsession

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestParseLogListing(t *testing.T) {
	lines := []string{
		"find '/var/log' -type f -name '*.log*' ! -name '*.gz' | sort",
		"/var/log/syslog.log",
		"/var/log/auth.log",
		"/var/log/nginx/error.log",
		"/var/log/nginx/access.log",
		"/var/log/versa/vms/msg.log.1",
		"/var/log/app.gz.log",
		"/var/log/nginx/old.log.gz",
		"/opt/other/thing.log",
		"",
		"root@host:~# ",
	}

	got := ParseLogListing(lines, "/var/log/", []string{".gz"})

	assert.Equal(t, []string{"nginx", RootGroup, "versa"}, got.Groups())
	assert.Equal(t, 5, got.Total())

	require.Len(t, got[RootGroup], 2)
	assert.Equal(t, "auth.log", got[RootGroup][0].Name)
	assert.Equal(t, "syslog.log", got[RootGroup][1].Name)

	require.Len(t, got["nginx"], 2)
	assert.Equal(t, "access.log", got["nginx"][0].Name)
	assert.Equal(t, "/var/log/nginx/access.log", got["nginx"][0].Path)
	assert.Equal(t, "nginx", got["nginx"][0].Directory)

	require.Len(t, got["versa"], 1)
	assert.Equal(t, "msg.log.1", got["versa"][0].Name)
}

func TestParseLogListingEmpty(t *testing.T) {
	got := ParseLogListing(nil, "/var/log", []string{".gz"})
	assert.NotNil(t, got)
	assert.Zero(t, got.Total())
}

func TestParseLogListingExclusionAnywhereProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		seg := rapid.StringMatching(`[a-z0-9_.-]{1,10}`)
		dirs := rapid.SliceOfN(seg, 0, 3).Draw(t, "dirs")
		name := seg.Draw(t, "name")
		marker := rapid.SampledFrom([]string{".gz", ".bz2", ".xz"}).Draw(t, "marker")

		p := "/var/log/" + strings.Join(append(dirs, name), "/")
		pos := rapid.IntRange(len("/var/log/"), len(p)).Draw(t, "pos")
		withMarker := p[:pos] + marker + p[pos:]

		got := ParseLogListing([]string{withMarker}, "/var/log", []string{marker})
		if got.Total() != 0 {
			t.Fatalf("%q contains %q but was listed", withMarker, marker)
		}
	})
}

func TestTailCommand(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		filter Filter
		want   string
	}{
		{"raw", "/var/log/syslog", FilterRaw, "tail -n 50 '/var/log/syslog'"},
		{"errors", "/var/log/syslog", FilterErrors, "tail -n 50 '/var/log/syslog' | grep -iE 'error|fail|critical|fatal'"},
		{"quote in path", "/var/log/it's.log", FilterRaw, `tail -n 50 '/var/log/it'"'"'s.log'`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TailCommand(tt.path, 50, tt.filter))
		})
	}

	hl := TailCommand("/x", 5, FilterHighlight)
	assert.True(t, strings.HasPrefix(hl, "tail -n 5 '/x' | awk "))
	assert.Contains(t, hl, `">>> "`)
}

func TestParseFilter(t *testing.T) {
	for in, want := range map[string]Filter{"": FilterRaw, "raw": FilterRaw, "ERRORS": FilterErrors, " highlight ": FilterHighlight} {
		got, err := ParseFilter(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseFilter("grep")
	assert.Error(t, err)
}

func TestNewTailResult(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	r := newTailResult("/x", 250, FilterRaw, "tail -n 250 '/x'", "a\nb\nc", now)
	assert.Equal(t, 250, r.LinesRequested)
	assert.Equal(t, 3, r.LinesRetrieved)
	assert.Equal(t, "a\nb\nc", r.Content)
	assert.Equal(t, "2024-01-02T03:04:05Z", r.Timestamp)

	empty := newTailResult("/x", 10, FilterErrors, "cmd", "", now)
	assert.Zero(t, empty.LinesRetrieved)
}

func TestHistoryKeepsNewest(t *testing.T) {
	var h history
	assert.Nil(t, h.list())

	for i := 0; i < historySize+10; i++ {
		h.record(Transition{Reason: string(rune('a' + i%26)), Timestamp: time.Unix(int64(i), 0)})
	}
	got := h.list()
	require.Len(t, got, historySize)
	assert.Equal(t, int64(10), got[0].Timestamp.Unix())
	assert.Equal(t, int64(historySize+9), got[len(got)-1].Timestamp.Unix())
}
