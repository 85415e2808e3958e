package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/versalogiq/logiq/internal/events"
	"github.com/versalogiq/logiq/internal/hostsession"
)

// Client event names.
const (
	EventConnect     = "ssh_connect"
	EventDisconnect  = "ssh_disconnect"
	EventScanLogs    = "scan_logs"
	EventTailLogFile = "get_log_file_content"
	EventClassify    = "classify"
	EventClearOutput = "clear_output"
)

// clientMessage is what the browser sends: the same {event, data}
// envelope the server uses.
type clientMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type connectRequest struct {
	Host          string `json:"host"`
	Username      string `json:"username"`
	SSHPassword   string `json:"ssh_password"`
	AdminPassword string `json:"admin_password"`
}

type tailRequest struct {
	Path   string `json:"path"`
	Lines  int    `json:"lines"`
	Filter string `json:"filter"`
}

// tailError answers a get_log_file_content request that could not run.
type tailError struct {
	Path    string         `json:"path"`
	Content map[string]any `json:"content"`
	Error   string         `json:"error"`
}

// caller is one websocket connection and its session.
type caller struct {
	id     string
	sess   *hostsession.Session
	sock   *events.Socket
	logger *zap.Logger
	ops    sync.WaitGroup
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Warn("Failed to accept websocket", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	id := uuid.NewString()
	log := s.logger.With(zap.String("caller", id))
	sock := events.NewSocket(ctx, conn, log, 0)
	c := &caller{
		id:     id,
		sock:   sock,
		logger: log,
		sess:   s.registry.GetOrCreate(id, events.Multi(sock, s.activity, events.NewLogSink(log))),
	}
	log.Info("Client connected", zap.String("remote", r.RemoteAddr))
	sock.Emit(events.New(events.ConnectionStatus, events.Status{Connected: false, Message: "Not Connected"}))

	defer func() {
		cancel()
		s.registry.Evict(id)
		c.ops.Wait()
		sock.Close()
		log.Info("Client disconnected")
	}()

	for {
		var msg clientMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				log.Debug("Websocket read failed", zap.Error(err))
			}
			return
		}
		c.dispatch(ctx, msg)
	}
}

// dispatch handles one client event. Session operations run in the
// background so a disconnect can arrive while they are in flight.
func (c *caller) dispatch(ctx context.Context, msg clientMessage) {
	switch msg.Event {
	case EventConnect:
		var req connectRequest
		_ = json.Unmarshal(msg.Data, &req)
		if req.Host == "" || req.Username == "" || req.SSHPassword == "" {
			c.sock.Emit(events.New(events.ConnectionStatus, events.Status{Connected: false, Message: "Missing connection parameters"}))
			return
		}
		cred := hostsession.Credential{
			Address:     req.Host,
			Username:    req.Username,
			Secret:      req.SSHPassword,
			AdminSecret: req.AdminPassword,
		}
		c.background(func() error { return c.sess.Connect(ctx, cred) })

	case EventDisconnect:
		c.background(c.sess.Disconnect)

	case EventScanLogs:
		c.background(func() error {
			_, err := c.sess.DiscoverLogFiles(ctx)
			return err
		})

	case EventTailLogFile:
		var req tailRequest
		_ = json.Unmarshal(msg.Data, &req)
		if req.Path == "" {
			c.tailFailed(req.Path, "Missing log file path")
			return
		}
		if c.sess.State() != hostsession.Ready {
			c.tailFailed(req.Path, "Not connected to server")
			return
		}
		c.background(func() error {
			_, err := c.sess.TailLogFile(ctx, req.Path, req.Lines, hostsession.Filter(req.Filter))
			if err != nil && !errors.Is(err, hostsession.ErrDisconnected) {
				c.tailFailed(req.Path, err.Error())
			}
			return err
		})

	case EventClassify:
		c.background(func() error {
			_, err := c.sess.Classify(ctx)
			if errors.Is(err, hostsession.ErrNotReady) {
				c.sock.Emit(events.NewMessage("Error: Not connected to server", events.TagError))
			}
			return err
		})

	case EventClearOutput:
		c.sock.Emit(events.New(events.ClearOutput, map[string]any{}))

	default:
		c.logger.Debug("Unknown client event", zap.String("event", msg.Event))
		c.sock.Emit(events.NewMessage("Unknown request: "+msg.Event, events.TagWarning))
	}
}

// background runs op on its own goroutine and reports a busy session to
// the client. Other failures have already been emitted by the session.
func (c *caller) background(op func() error) {
	c.ops.Add(1)
	go func() {
		defer c.ops.Done()
		err := op()
		switch {
		case err == nil:
		case errors.Is(err, hostsession.ErrBusy):
			c.sock.Emit(events.NewMessage("Another operation is still running, please wait", events.TagWarning))
		default:
			c.logger.Debug("Operation ended with error", zap.Error(err))
		}
	}()
}

func (c *caller) tailFailed(path, reason string) {
	c.sock.Emit(events.New(events.LogFileContent, tailError{Path: path, Content: map[string]any{}, Error: reason}))
}
