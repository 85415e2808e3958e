// Package sshtest runs an in-process SSH server that imitates a small Linux
// host: password login, a PTY shell with a sudo prompt, and a handful of
// canned commands. It exists for tests.
package sshtest

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"net"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"golang.org/x/crypto/ssh"
)

// Config describes the imitated host.
type Config struct {
	User     string
	Password string
	Hostname string

	// SudoPassword is the password sudo accepts. Empty means the same as Password.
	SudoPassword string

	// PasswordlessSudo makes "sudo su" switch to root without prompting.
	PasswordlessSudo bool

	// Banner is written when a shell starts.
	Banner string

	// Commands maps an exact command line to its output.
	Commands map[string]string

	// Files maps absolute paths to their lines. They back find and tail.
	Files map[string][]string

	// Silent makes the shell swallow input without ever answering.
	Silent bool

	// Stall lists commands whose output is written without a prompt after
	// it, as if they were still running.
	Stall map[string]bool
}

// Server is a running fake host.
type Server struct {
	Addr string
	cfg  Config

	listener net.Listener

	mu    sync.Mutex
	execs []string
	lines []string
}

var tailPattern = regexp.MustCompile(`^tail -n (\d+) '([^']*)'`)

// New starts a server on a loopback port and stops it when the test ends.
func New(t testing.TB, cfg Config) *Server {
	t.Helper()

	if cfg.User == "" {
		cfg.User = "admin"
	}
	if cfg.Hostname == "" {
		cfg.Hostname = "testhost"
	}
	if cfg.SudoPassword == "" {
		cfg.SudoPassword = cfg.Password
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	hostSigner, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}

	serverCfg := &ssh.ServerConfig{
		PasswordCallback: func(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if conn.User() == cfg.User && string(password) == cfg.Password {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("password rejected for %q", conn.User())
		},
	}
	serverCfg.AddHostKey(hostSigner)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := &Server{Addr: listener.Addr().String(), cfg: cfg, listener: listener}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			netConn, err := listener.Accept()
			if err != nil {
				return
			}
			go s.handleConn(netConn, serverCfg)
		}
	}()

	t.Cleanup(func() {
		listener.Close()
		<-done
	})

	return s
}

// Execs returns the one-shot commands received so far.
func (s *Server) Execs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.execs...)
}

// ShellLines returns the lines typed into interactive shells so far.
func (s *Server) ShellLines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

func (s *Server) handleConn(netConn net.Conn, cfg *ssh.ServerConfig) {
	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, cfg)
	if err != nil {
		netConn.Close()
		return
	}
	defer sshConn.Close()

	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			_ = newChan.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(ch, requests)
	}
}

func (s *Server) handleSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	for req := range requests {
		switch req.Type {
		case "pty-req", "env", "window-change":
			if req.WantReply {
				_ = req.Reply(true, nil)
			}
		case "shell":
			if req.WantReply {
				_ = req.Reply(true, nil)
			}
			go s.runShell(ch)
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				_ = req.Reply(false, nil)
				continue
			}
			if req.WantReply {
				_ = req.Reply(true, nil)
			}
			go s.runExec(ch, payload.Command)
		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}

func (s *Server) runExec(ch ssh.Channel, cmd string) {
	defer ch.Close()

	s.mu.Lock()
	s.execs = append(s.execs, cmd)
	s.mu.Unlock()

	out, code := s.respond(cmd, false)
	if code == 0 {
		if out != "" {
			_, _ = ch.Write([]byte(out + "\n"))
		}
	} else {
		_, _ = ch.Stderr().Write([]byte(out + "\n"))
	}

	status := struct{ Status uint32 }{uint32(code)}
	_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(&status))
}

type shellState struct {
	root         bool
	awaitingPass bool
	pending      string
}

func (s *Server) prompt(root bool) string {
	if root {
		return fmt.Sprintf("root@%s:~# ", s.cfg.Hostname)
	}
	return fmt.Sprintf("%s@%s:~$ ", s.cfg.User, s.cfg.Hostname)
}

func (s *Server) runShell(ch ssh.Channel) {
	defer ch.Close()

	if s.cfg.Banner != "" {
		_, _ = ch.Write([]byte(s.cfg.Banner + "\r\n"))
	}
	if !s.cfg.Silent {
		_, _ = ch.Write([]byte(s.prompt(false)))
	}

	st := &shellState{}
	var line []byte
	buf := make([]byte, 1024)
	for {
		n, err := ch.Read(buf)
		for _, b := range buf[:n] {
			if b != '\n' && b != '\r' {
				line = append(line, b)
				continue
			}
			if s.cfg.Silent {
				line = line[:0]
				continue
			}
			if !s.handleLine(ch, st, string(line)) {
				return
			}
			line = line[:0]
		}
		if err != nil {
			return
		}
	}
}

// handleLine processes one typed line and reports whether the shell stays open.
func (s *Server) handleLine(ch ssh.Channel, st *shellState, line string) bool {
	write := func(str string) { _, _ = ch.Write([]byte(str)) }

	if st.awaitingPass {
		st.awaitingPass = false
		write("\r\n")
		if line != s.cfg.SudoPassword {
			write("Sorry, try again.\r\n" + s.prompt(st.root))
			st.pending = ""
			return true
		}
		if st.pending == "" {
			st.root = true
		} else {
			s.writeOutput(ch, st.pending, true)
			st.pending = ""
		}
		write(s.prompt(st.root))
		return true
	}

	s.mu.Lock()
	s.lines = append(s.lines, line)
	s.mu.Unlock()

	write(line + "\r\n")
	cmd := strings.TrimSpace(line)

	switch {
	case cmd == "":
	case cmd == "exit":
		if !st.root {
			return false
		}
		st.root = false
	case cmd == "sudo su" || cmd == "sudo su -" || cmd == "sudo -i":
		if st.root || s.cfg.PasswordlessSudo {
			st.root = true
			break
		}
		st.awaitingPass = true
		write(fmt.Sprintf("[sudo] password for %s: ", s.cfg.User))
		return true
	case strings.HasPrefix(cmd, "sudo ") && !st.root && !s.cfg.PasswordlessSudo:
		st.awaitingPass = true
		st.pending = strings.TrimPrefix(cmd, "sudo ")
		write(fmt.Sprintf("[sudo] password for %s: ", s.cfg.User))
		return true
	default:
		s.writeOutput(ch, strings.TrimPrefix(cmd, "sudo "), st.root || strings.HasPrefix(cmd, "sudo "))
		if s.cfg.Stall[cmd] {
			return true
		}
	}

	write(s.prompt(st.root))
	return true
}

func (s *Server) writeOutput(ch ssh.Channel, cmd string, root bool) {
	out, _ := s.respond(cmd, root)
	if out == "" {
		return
	}
	_, _ = ch.Write([]byte(strings.ReplaceAll(out, "\n", "\r\n") + "\r\n"))
}

// respond produces the output and exit code of a non-interactive command.
func (s *Server) respond(cmd string, root bool) (string, int) {
	if out, ok := s.cfg.Commands[cmd]; ok {
		return out, 0
	}

	switch {
	case cmd == "whoami":
		if root {
			return "root", 0
		}
		return s.cfg.User, 0
	case cmd == "hostname":
		return s.cfg.Hostname, 0
	case strings.HasPrefix(cmd, "find "):
		paths := make([]string, 0, len(s.cfg.Files))
		for p := range s.cfg.Files {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		return strings.Join(paths, "\n"), 0
	}

	if m := tailPattern.FindStringSubmatch(cmd); m != nil {
		n, _ := strconv.Atoi(m[1])
		lines, ok := s.cfg.Files[m[2]]
		if !ok {
			return fmt.Sprintf("tail: cannot open '%s' for reading: No such file or directory", m[2]), 1
		}
		if n < len(lines) {
			lines = lines[len(lines)-n:]
		}
		return strings.Join(lines, "\n"), 0
	}

	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return "", 0
	}
	name := fields[0]
	return fmt.Sprintf("sh: 1: %s: command not found", name), 127
}
