package hostsession

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"time"
)

// RootGroup is the group name for files directly under the discovery root.
const RootGroup = "var-log-root"

// LogFileEntry is one discovered log file.
type LogFileEntry struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	Directory string `json:"directory"`
}

// Listing groups discovered files by the directory directly under the root.
type Listing map[string][]LogFileEntry

// Total returns the number of files in l.
func (l Listing) Total() int {
	n := 0
	for _, files := range l {
		n += len(files)
	}
	return n
}

// Groups returns the group names in sorted order.
func (l Listing) Groups() []string {
	out := make([]string, 0, len(l))
	for g := range l {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// DiscoveryCommand lists candidate log files under root.
func DiscoveryCommand(root string) string {
	return fmt.Sprintf("find %s -type f -name '*.log*' ! -name '*.gz' | sort", shellQuote(root))
}

// ParseLogListing turns discovery output into a Listing. Lines outside root
// and paths containing any exclude marker, anywhere in the path, are
// dropped.
func ParseLogListing(lines []string, root string, exclude []string) Listing {
	root = strings.TrimRight(root, "/")
	out := Listing{}
	for _, line := range lines {
		p := strings.TrimSpace(line)
		if !strings.HasPrefix(p, root+"/") || excluded(p, exclude) {
			continue
		}
		rel := strings.TrimPrefix(p, root+"/")
		if rel == "" || strings.HasSuffix(rel, "/") {
			continue
		}
		group := RootGroup
		if i := strings.IndexByte(rel, '/'); i >= 0 {
			group = rel[:i]
		}
		out[group] = append(out[group], LogFileEntry{
			Name:      path.Base(p),
			Path:      p,
			Directory: group,
		})
	}
	for _, files := range out {
		sort.SliceStable(files, func(i, j int) bool {
			if files[i].Name != files[j].Name {
				return files[i].Name < files[j].Name
			}
			return files[i].Path < files[j].Path
		})
	}
	return out
}

func excluded(p string, markers []string) bool {
	for _, m := range markers {
		if m != "" && strings.Contains(p, m) {
			return true
		}
	}
	return false
}

// Filter selects how tailed content is post-processed on the host.
type Filter string

const (
	FilterRaw       Filter = "raw"
	FilterErrors    Filter = "errors"
	FilterHighlight Filter = "highlight"
)

// ParseFilter maps a client-supplied filter name to a Filter. Empty means raw.
func ParseFilter(s string) (Filter, error) {
	switch f := Filter(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FilterRaw:
		return FilterRaw, nil
	case FilterErrors, FilterHighlight:
		return f, nil
	default:
		return "", fmt.Errorf("unknown filter %q", s)
	}
}

const errorPattern = "error|fail|critical|fatal"

// TailCommand builds the shell command for tailing p.
func TailCommand(p string, lines int, f Filter) string {
	base := fmt.Sprintf("tail -n %d %s", lines, shellQuote(p))
	switch f {
	case FilterErrors:
		return base + fmt.Sprintf(" | grep -iE '%s'", errorPattern)
	case FilterHighlight:
		return base + fmt.Sprintf(` | awk '{ if (tolower($0) ~ /%s/) print ">>> " $0; else print }'`, errorPattern)
	default:
		return base
	}
}

// TailResult is the content of a tailed log file.
type TailResult struct {
	Path           string `json:"path"`
	LinesRequested int    `json:"lines_requested"`
	LinesRetrieved int    `json:"lines_retrieved"`
	Content        string `json:"content"`
	Command        string `json:"command"`
	Timestamp      string `json:"timestamp"`
	Filter         Filter `json:"filter"`
}

func newTailResult(p string, requested int, f Filter, command, stdout string, now time.Time) *TailResult {
	var lines []string
	if stdout != "" {
		lines = strings.Split(stdout, "\n")
	}
	return &TailResult{
		Path:           p,
		LinesRequested: requested,
		LinesRetrieved: len(lines),
		Content:        strings.Join(lines, "\n"),
		Command:        command,
		Timestamp:      now.Format(time.RFC3339),
		Filter:         f,
	}
}

// shellQuote wraps s in single quotes for a POSIX shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
