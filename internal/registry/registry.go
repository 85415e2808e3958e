// Package registry maps caller identities to their host sessions.
package registry

import (
	"sync"

	"go.uber.org/zap"

	"github.com/versalogiq/logiq/internal/events"
	"github.com/versalogiq/logiq/internal/hostsession"
	"github.com/versalogiq/logiq/internal/metrics"
)

// Factory builds the session for a new caller.
type Factory func(id string, sink events.Sink) *hostsession.Session

// Registry holds one session per caller. The lock covers map access only;
// disconnects happen outside it.
type Registry struct {
	factory Factory
	logger  *zap.Logger
	metrics *metrics.Collector

	mu       sync.Mutex
	sessions map[string]*hostsession.Session
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// WithMetrics reports the session count.
func WithMetrics(m *metrics.Collector) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// New creates an empty registry.
func New(factory Factory, opts ...Option) *Registry {
	r := &Registry{
		factory:  factory,
		logger:   zap.NewNop(),
		sessions: make(map[string]*hostsession.Session),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetOrCreate returns the caller's session, creating it with sink on first
// use. Later calls ignore sink.
func (r *Registry) GetOrCreate(id string, sink events.Sink) *hostsession.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		return s
	}
	s := r.factory(id, sink)
	r.sessions[id] = s
	r.metrics.SetSessions(len(r.sessions))
	r.logger.Debug("Session created", zap.String("caller", id))
	return s
}

// Get returns the caller's session if there is one.
func (r *Registry) Get(id string) (*hostsession.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Evict removes the caller's session and disconnects it. Disconnect errors
// are logged, not returned.
func (r *Registry) Evict(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	n := len(r.sessions)
	r.mu.Unlock()
	if !ok {
		return
	}
	r.metrics.SetSessions(n)

	if err := s.Disconnect(); err != nil {
		r.logger.Warn("Disconnect on evict failed", zap.String("caller", id), zap.Error(err))
	}
	r.logger.Debug("Session evicted", zap.String("caller", id))
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll evicts every session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Evict(id)
	}
}
