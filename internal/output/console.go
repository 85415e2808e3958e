package output

import (
	"sync"

	"github.com/versalogiq/logiq/internal/events"
)

// Console prints session progress messages as they arrive. Command lines
// and per-read detail only show in debug mode.
type Console struct {
	mu  sync.Mutex
	out *Output
}

// NewConsole returns a sink writing through out.
func NewConsole(out *Output) *Console {
	return &Console{out: out}
}

// Emit implements events.Sink.
func (c *Console) Emit(e events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch e.Name {
	case events.LogOutput:
		m, ok := e.Data.(events.Message)
		if !ok {
			return
		}
		c.message(m)
	case events.FlavorDetected:
		if f, ok := e.Data.(events.Flavor); ok {
			c.out.printf("%s %s\n", c.out.color(colorBold, "FLAVOR"), f.Flavor)
		}
	}
}

func (c *Console) message(m events.Message) {
	o := c.out
	switch m.Tag {
	case events.TagError:
		o.Error("%s", m.Message)
	case events.TagWarning:
		o.Warn("%s", m.Message)
	case events.TagSuccess:
		o.Success("%s", m.Message)
	case events.TagCommand, events.TagNormal:
		o.Debug("%s", m.Message)
	case events.TagSessionStart, events.TagOperationStart:
		o.Section(m.Message)
	default:
		o.Info("%s", m.Message)
	}
}
