package events

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

const fileStamp = "2006-01-02 15:04:05"

// FileOptions controls rotation of the session log file.
type FileOptions struct {
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// FileSink appends log_output messages to a human-readable activity log.
// Session and operation starts are framed with separators so a reader can
// find where each run began.
type FileSink struct {
	mu  sync.Mutex
	w   io.WriteCloser
	now func() time.Time
}

// OpenFile opens (or creates) the activity log at path. A header is written
// when the file is missing or empty.
func OpenFile(path string, opts FileOptions) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	w := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    opts.MaxSize,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAge,
		Compress:   opts.Compress,
	}
	s := newFileSink(w, time.Now)
	if empty(path) {
		if _, err := io.WriteString(w, header(s.now())); err != nil {
			w.Close()
			return nil, fmt.Errorf("writing log header: %w", err)
		}
	}
	return s, nil
}

func newFileSink(w io.WriteCloser, now func() time.Time) *FileSink {
	return &FileSink{w: w, now: now}
}

func empty(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return true
	}
	return strings.TrimSpace(string(data)) == ""
}

func header(t time.Time) string {
	bar := strings.Repeat("=", 100)
	return fmt.Sprintf("%s\nLOGIQ - PERSISTENT LOG FILE\n%s\nCreated: %s\n"+
		"Purpose: all session activity in chronological order\n"+
		"Note: each new session and operation is marked with a separator\n%s\n\n",
		bar, bar, t.Format(fileStamp), bar)
}

// Format renders one activity-log entry.
func Format(t time.Time, msg string, tag Tag) string {
	ts := t.Format(fileStamp)
	switch tag {
	case TagSessionStart:
		bar := strings.Repeat("=", 80)
		return fmt.Sprintf("\n%s\nNEW SESSION STARTED - %s\n%s\n%s\n", bar, ts, bar, msg)
	case TagOperationStart:
		bar := strings.Repeat("-", 60)
		return fmt.Sprintf("\n%s\nNEW OPERATION - %s\n%s\n%s\n", bar, ts, bar, msg)
	default:
		if tag == "" {
			tag = TagNormal
		}
		return fmt.Sprintf("[%s] [%s] %s\n", ts, strings.ToUpper(string(tag)), msg)
	}
}

// Emit appends log_output events. Write failures are dropped; the activity
// log never interrupts a session.
func (s *FileSink) Emit(e Event) {
	m, ok := e.Data.(Message)
	if !ok {
		return
	}
	t := e.Time
	if t.IsZero() {
		t = s.now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return
	}
	_, _ = io.WriteString(s.w, Format(t, m.Message, m.Tag))
}

// Close flushes and closes the file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return nil
	}
	err := s.w.Close()
	s.w = nil
	return err
}
