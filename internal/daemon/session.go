// Package daemon implements the Session multiplexer: the process that owns
// the PTY, the listening Unix socket, the command FIFO, and the set of
// attached clients, and that wires the ring, codec, wire, and scanner
// packages together into the event flow described for the master process.
//
// The source this is modeled on is a single-threaded event loop dispatching
// over epoll/io_uring/kqueue completions. Go has no idiomatic equivalent of
// a manual reactor: the natural translation is one goroutine per pollable
// handle (the PTY reader, the socket acceptor, the FIFO reader, and each
// client's reader) with a single mutex guarding the Session's shared state
// (the client set, the active-client pointer). There is no swap-remove
// hazard to guard against here the way the source's vector-of-clients has:
// clients live in a map keyed by pointer identity, so removing one client
// can never invalidate another's handle.
package daemon

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/rtach/rtachd/internal/client"
	"github.com/rtach/rtachd/internal/config"
	"github.com/rtach/rtachd/internal/ptyproc"
	"github.com/rtach/rtachd/internal/ring"
	"github.com/rtach/rtachd/internal/scanner"
)

// Session owns every resource for one rtachd invocation: PTY, listening
// socket, command FIFO, scrollback ring, and the attached client set.
type Session struct {
	cfg    *config.Config
	logger *slog.Logger

	ring  *ring.Ring
	mode  *scanner.ModeState
	title scanner.TitleScanner

	pty *ptyproc.Session

	listener net.Listener
	fifoFile *os.File

	mu      sync.Mutex
	clients map[*client.Client]struct{}
	active  *client.Client

	idleMu    sync.Mutex
	idleTimer *time.Timer

	shutdownOnce sync.Once
	done         chan struct{}
}

// New constructs a Session from cfg. It does not yet touch the filesystem
// or spawn anything; call Start for that.
func New(cfg *config.Config, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		cfg:     cfg,
		logger:  logger,
		ring:    ring.New(cfg.ScrollbackBytes),
		mode:    scanner.NewModeState(),
		clients: make(map[*client.Client]struct{}),
		done:    make(chan struct{}),
	}
}

// StartConfig describes the shell to spawn in the PTY.
type StartConfig struct {
	Command string
	Args    []string
	Dir     string
	Env     []string
	Rows    uint16
	Cols    uint16
}

// Start allocates the PTY, spawns the shell, binds the listening socket,
// creates the command FIFO, and launches the accept, PTY-fanout, and
// FIFO-reader goroutines. It returns once every resource is ready; callers
// should then call Wait to block until shutdown.
func (s *Session) Start(sc StartConfig) error {
	s.pty = ptyproc.New(s.logger, s.handlePTYData, s.handlePTYClosed)

	env := append(append([]string{}, sc.Env...), "RTACH_CMD_FD="+s.cfg.FIFOPath())
	if err := s.pty.Spawn(ptyproc.SpawnConfig{
		Command: sc.Command,
		Args:    sc.Args,
		Dir:     sc.Dir,
		Env:     env,
		Rows:    sc.Rows,
		Cols:    sc.Cols,
	}); err != nil {
		return fmt.Errorf("daemon: pty spawn failed: %w", err)
	}

	if err := s.bindSocket(); err != nil {
		s.pty.Kill()
		return err
	}

	if err := s.createFIFO(); err != nil {
		s.pty.Kill()
		s.listener.Close()
		os.Remove(s.cfg.SocketPath)
		return err
	}

	s.armIdleTimer()

	go s.acceptLoop()
	go s.fifoLoop()

	s.logger.Info("daemon started", "socket", s.cfg.SocketPath, "fifo", s.cfg.FIFOPath())
	return nil
}

func (s *Session) bindSocket() error {
	os.Remove(s.cfg.SocketPath)
	l, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("daemon: listen failed: %w", err)
	}
	if err := os.Chmod(s.cfg.SocketPath, 0600); err != nil {
		l.Close()
		return fmt.Errorf("daemon: chmod socket failed: %w", err)
	}
	s.listener = l
	return nil
}

func (s *Session) createFIFO() error {
	path := s.cfg.FIFOPath()
	os.Remove(path)
	if err := unix.Mkfifo(path, 0600); err != nil {
		return fmt.Errorf("daemon: mkfifo failed: %w", err)
	}
	// Opened O_RDWR so the daemon's own open call never blocks waiting for
	// a writer (a FIFO opened O_RDONLY blocks until one exists); the
	// daemon only ever reads from it.
	f, err := os.OpenFile(path, os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("daemon: open fifo failed: %w", err)
	}
	s.fifoFile = f
	return nil
}

// Wait blocks until the session has fully shut down.
func (s *Session) Wait() {
	<-s.done
}

// Shutdown tears down every owned resource: best effort, never panics on
// cleanup failure (spec's shutdown policy for the event loop).
func (s *Session) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.logger.Info("daemon shutting down")

		s.idleMu.Lock()
		if s.idleTimer != nil {
			s.idleTimer.Stop()
		}
		s.idleMu.Unlock()

		if s.pty != nil {
			s.pty.Kill()
		}

		s.mu.Lock()
		clients := make([]*client.Client, 0, len(s.clients))
		for c := range s.clients {
			clients = append(clients, c)
		}
		s.mu.Unlock()
		for _, c := range clients {
			if err := c.Close(); err != nil {
				s.logger.Debug("client close failed during shutdown", "error", err)
			}
		}

		if s.listener != nil {
			if err := s.listener.Close(); err != nil {
				s.logger.Debug("listener close failed", "error", err)
			}
			os.Remove(s.cfg.SocketPath)
		}
		if s.fifoFile != nil {
			if err := s.fifoFile.Close(); err != nil {
				s.logger.Debug("fifo close failed", "error", err)
			}
			os.Remove(s.cfg.FIFOPath())
		}

		close(s.done)
	})
}

func (s *Session) handlePTYClosed(err error) {
	s.logger.Info("pty closed, beginning shutdown", "error", err)
	go s.Shutdown()
}

func (s *Session) handlePTYData(chunk []byte) {
	s.mode.Scan(chunk)
	s.title.Scan(chunk)
	s.ring.Write(chunk)
	s.resetIdleTimer()

	s.mu.Lock()
	clients := make([]*client.Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.DeliverPTYData(chunk)
	}
}

// --- client.Registry implementation ---

// Ring gives clients read-only access to the scrollback ring.
func (s *Session) Ring() *ring.Ring { return s.ring }

// PTY gives clients access to the owned PTY session.
func (s *Session) PTY() client.PTY { return s.pty }

// Mode reports the daemon's current alt-screen and cursor-visibility flags.
func (s *Session) Mode() (altScreen, cursorVisible bool) {
	return s.mode.AltScreen, s.mode.CursorVisible
}

// EvictDuplicate closes every other client attached with the given id.
// Their own Run loops observe the resulting I/O error and remove
// themselves; this keeps removal entirely inside each client's own
// goroutine, so the client map is never mutated by a goroutine other than
// the one calling Remove.
func (s *Session) EvictDuplicate(id uuid.UUID, except *client.Client) {
	s.mu.Lock()
	var toEvict []*client.Client
	for c := range s.clients {
		if c == except {
			continue
		}
		cid, has := c.ClientID()
		if has && cid == id && c.IsAttached() {
			toEvict = append(toEvict, c)
		}
	}
	s.mu.Unlock()

	for _, c := range toEvict {
		s.logger.Info("evicting duplicate client", "client_id", id)
		if err := c.Close(); err != nil {
			s.logger.Debug("evict close failed", "error", err)
		}
	}
}

// SetActive marks c as the active (size/command authority) client.
func (s *Session) SetActive(c *client.Client) {
	s.mu.Lock()
	s.active = c
	s.mu.Unlock()
}

// Remove deregisters a client. Called once, from the client's own Run
// goroutine, after its read loop exits.
func (s *Session) Remove(c *client.Client) {
	s.mu.Lock()
	delete(s.clients, c)
	if s.active == c {
		s.active = nil
	}
	s.mu.Unlock()
}

func (s *Session) addClient(c *client.Client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
}
