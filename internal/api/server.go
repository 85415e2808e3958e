// Package api exposes host sessions and connectivity checks over HTTP: a
// websocket per browser caller plus a few JSON endpoints.
package api

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/versalogiq/logiq/internal/bulk"
	"github.com/versalogiq/logiq/internal/events"
	"github.com/versalogiq/logiq/internal/inventory"
	"github.com/versalogiq/logiq/internal/metrics"
	"github.com/versalogiq/logiq/internal/registry"
)

// ServiceName is reported by /health.
const ServiceName = "logiq"

// InventoryLoader returns the hosts checked by /api/check_all_servers.
type InventoryLoader func() (*inventory.Inventory, error)

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithMetrics sets the metrics collector and serves it on /metrics.
func WithMetrics(m *metrics.Collector) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithActivityLog adds a sink every caller's events are copied to.
func WithActivityLog(sink events.Sink) Option {
	return func(s *Server) {
		s.activity = sink
	}
}

// WithInventory sets where bulk checks get their hosts.
func WithInventory(load InventoryLoader) Option {
	return func(s *Server) {
		s.inventory = load
	}
}

// WithVersion sets the version reported by /version.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// Server holds the HTTP handlers.
type Server struct {
	registry  *registry.Registry
	checker   *bulk.Checker
	inventory InventoryLoader
	activity  events.Sink
	logger    *zap.Logger
	metrics   *metrics.Collector
	version   string
}

// New creates a server. Callers' sessions come from reg; REST checks run
// through checker.
func New(reg *registry.Registry, checker *bulk.Checker, opts ...Option) *Server {
	s := &Server{
		registry: reg,
		checker:  checker,
		logger:   zap.NewNop(),
		version:  "dev",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.metrics.Middleware(routePattern))

	r.Get("/health", s.handleHealth)
	r.Get("/version", s.handleVersion)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	r.Get("/ws", s.handleWebsocket)

	r.Route("/api", func(r chi.Router) {
		r.Post("/test_connection", s.handleTestConnection)
		r.Post("/check_all_servers", s.handleCheckAllServers)
	})
	return r
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": ServiceName})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version, "go": runtime.Version()})
}

type testConnectionRequest struct {
	Hostname       string `json:"hostname"`
	Username       string `json:"username"`
	Password       string `json:"password"`
	AdminPassword  string `json:"admin_password"`
	ExpectedFlavor string `json:"expected_flavor"`
}

type testConnectionResponse struct {
	Success        bool            `json:"success"`
	DetectedFlavor string          `json:"detected_flavor"`
	ExpectedFlavor string          `json:"expected_flavor"`
	FlavorMatch    bool            `json:"flavor_match"`
	ConnectionTime float64         `json:"connection_time"`
	SudoAvailable  bool            `json:"sudo_available"`
	Error          string          `json:"error,omitempty"`
	Result         bulk.HostResult `json:"result"`
}

func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	var req testConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Hostname) == "" || strings.TrimSpace(req.Username) == "" {
		writeError(w, http.StatusBadRequest, "hostname and username are required")
		return
	}

	res := s.checker.CheckHost(r.Context(), inventory.Host{
		Name:          req.Hostname,
		Hostname:      req.Hostname,
		User:          req.Username,
		Password:      req.Password,
		AdminPassword: req.AdminPassword,
		Flavor:        req.ExpectedFlavor,
	})

	writeJSON(w, http.StatusOK, testConnectionResponse{
		Success:        res.OK(),
		DetectedFlavor: res.DetectedFlavor,
		ExpectedFlavor: res.Flavor,
		FlavorMatch:    res.OK() && !res.FlavorMismatch,
		ConnectionTime: res.ResponseTime,
		SudoAvailable:  res.OK(),
		Error:          res.ErrorMessage,
		Result:         res,
	})
}

type checkAllResponse struct {
	Summary bulk.Summary      `json:"summary"`
	Results []bulk.HostResult `json:"results"`
}

func (s *Server) handleCheckAllServers(w http.ResponseWriter, r *http.Request) {
	if s.inventory == nil {
		writeError(w, http.StatusServiceUnavailable, "No inventory configured")
		return
	}
	inv, err := s.inventory()
	if err != nil {
		s.logger.Warn("Loading inventory failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	report := s.checker.Run(r.Context(), inv.Hosts)
	writeJSON(w, http.StatusOK, checkAllResponse{Summary: report.Summarize(), Results: report.Results})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
