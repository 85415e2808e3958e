// Package events carries progress and state notifications from host
// sessions to whoever is watching: a websocket client, a log file, the
// process log.
package events

import (
	"sync"
	"time"
)

// Event names, shared with the websocket protocol.
const (
	LogOutput        = "log_output"
	ConnectionStatus = "connection_status"
	FlavorDetected   = "flavor_detected"
	LogFiles         = "log_files_response"
	LogFileContent   = "log_file_content_response"
	ClearOutput      = "clear_output_response"
	StateChanged     = "state_changed"
)

// Tag classifies a log_output message.
type Tag string

const (
	TagInfo           Tag = "info"
	TagSuccess        Tag = "success"
	TagError          Tag = "error"
	TagWarning        Tag = "warning"
	TagCommand        Tag = "command"
	TagNormal         Tag = "normal"
	TagSessionStart   Tag = "session_start"
	TagOperationStart Tag = "operation_start"
)

// Event is one notification.
type Event struct {
	Name string    `json:"event"`
	Data any       `json:"data"`
	Time time.Time `json:"-"`
}

// Message is the payload of a log_output event.
type Message struct {
	Message   string `json:"message"`
	Tag       Tag    `json:"tag"`
	Timestamp string `json:"timestamp"`
}

// Status is the payload of a connection_status event.
type Status struct {
	Connected    bool   `json:"connected"`
	Message      string `json:"message"`
	ErrorDetails any    `json:"error_details,omitempty"`
}

// Flavor is the payload of a flavor_detected event.
type Flavor struct {
	Flavor string `json:"flavor"`
	Key    string `json:"key"`
}

// Sink receives events. Emit must not block for long; sinks that talk to
// the network buffer internally.
type Sink interface {
	Emit(e Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Emit calls f.
func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// New builds an event stamped with the current time.
func New(name string, data any) Event {
	return Event{Name: name, Data: data, Time: time.Now()}
}

// NewMessage builds a log_output event.
func NewMessage(msg string, tag Tag) Event {
	now := time.Now()
	return Event{
		Name: LogOutput,
		Data: Message{Message: msg, Tag: tag, Timestamp: now.Format("15:04:05")},
		Time: now,
	}
}

type multi []Sink

func (m multi) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}

// Multi fans events out to every non-nil sink in order.
func Multi(sinks ...Sink) Sink {
	var out multi
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Recorder keeps every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit records e.
func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Named returns the recorded events called name.
func (r *Recorder) Named(name string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// Messages returns the text of every recorded log_output event.
func (r *Recorder) Messages() []string {
	var out []string
	for _, e := range r.Named(LogOutput) {
		if m, ok := e.Data.(Message); ok {
			out = append(out, m.Message)
		}
	}
	return out
}

// Reset forgets recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
