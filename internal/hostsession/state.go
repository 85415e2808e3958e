package hostsession

import "time"

// State is a host session's lifecycle position.
type State int

const (
	Disconnected State = iota
	Connecting
	Elevating
	Elevated
	Classifying
	Ready
	Faulted
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Elevating:
		return "elevating"
	case Elevated:
		return "elevated"
	case Classifying:
		return "classifying"
	case Ready:
		return "ready"
	case Faulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// historySize is the number of transitions kept per session.
const historySize = 50

// Transition records a single state change.
type Transition struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
}

// history is a fixed-size ring of transitions.
type history struct {
	entries [historySize]Transition
	head    int
	count   int
}

func (h *history) record(t Transition) {
	h.entries[h.head] = t
	h.head = (h.head + 1) % historySize
	if h.count < historySize {
		h.count++
	}
}

// list returns transitions oldest first.
func (h *history) list() []Transition {
	if h.count == 0 {
		return nil
	}
	out := make([]Transition, h.count)
	if h.count < historySize {
		copy(out, h.entries[:h.count])
		return out
	}
	n := copy(out, h.entries[h.head:])
	copy(out[n:], h.entries[:h.head])
	return out
}
