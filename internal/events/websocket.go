package events

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

const (
	defaultQueue = 256
	writeTimeout = 5 * time.Second
)

// Socket streams events to a websocket client as {"event","data"} frames.
// Emit never blocks: when the client falls behind, events are dropped and
// counted.
type Socket struct {
	conn  *websocket.Conn
	log   *zap.Logger
	queue chan Event

	mu      sync.Mutex
	closed  bool
	dropped int

	done chan struct{}
}

// NewSocket starts a writer for conn. The writer stops when ctx is done or
// Close is called.
func NewSocket(ctx context.Context, conn *websocket.Conn, log *zap.Logger, queue int) *Socket {
	if queue <= 0 {
		queue = defaultQueue
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Socket{
		conn:  conn,
		log:   log,
		queue: make(chan Event, queue),
		done:  make(chan struct{}),
	}
	go s.run(ctx)
	return s
}

// Emit queues e for delivery.
func (s *Socket) Emit(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- e:
	default:
		s.dropped++
	}
}

// Dropped reports how many events were discarded because the queue was full.
func (s *Socket) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close stops accepting events and waits for queued ones to be written.
func (s *Socket) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()
	<-s.done
}

func (s *Socket) run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			s.drainDiscard()
			return
		case e, ok := <-s.queue:
			if !ok {
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, s.conn, e)
			cancel()
			if err != nil {
				s.log.Debug("websocket write failed", zap.String("event", e.Name), zap.Error(err))
				s.drainDiscard()
				return
			}
		}
	}
}

// drainDiscard stops delivery after the connection is gone so Close does not
// wait on a dead client.
func (s *Socket) drainDiscard() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()
	for range s.queue {
	}
}
