// Package ptyproc owns the pseudo-terminal and the child shell process: PTY
// allocation, the reader loop that feeds the scanner and scrollback ring,
// resize (with process-group SIGWINCH), and shutdown.
package ptyproc

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// ReadBufferSize is the chunk size used for each PTY read.
const ReadBufferSize = 65536

// SpawnConfig holds configuration for spawning the child shell in the PTY.
type SpawnConfig struct {
	// Command is the program to exec (e.g. the user's shell).
	Command string

	// Args are its argv, not including argv[0].
	Args []string

	// Dir is the working directory the child starts in.
	Dir string

	// Env is the full environment handed to the child, including
	// RTACH_CMD_FD (added by internal/daemon's Session.Start).
	Env []string

	Rows, Cols uint16
}

// OnData is invoked from the reader goroutine with each chunk read from the
// PTY master. The slice is only valid for the duration of the call.
type OnData func(chunk []byte)

// OnClosed is invoked once, from the reader goroutine, when the PTY read
// loop exits (EOF or read error). Its presence signals the daemon to begin
// shutdown (spec.md §4.7, §7: "PTY read error, EOF → stop the loop").
type OnClosed func(err error)

// Session owns one PTY master/child pair. There is exactly one Session per
// daemon process.
type Session struct {
	ptyFile *os.File
	cmd     *exec.Cmd

	mu   sync.Mutex
	rows uint16
	cols uint16

	onData   OnData
	onClosed OnClosed

	done     chan struct{}
	readerWg sync.WaitGroup
	closeOne sync.Once

	logger *slog.Logger
}

// New creates a Session. onData and onClosed are wired before Spawn so the
// reader goroutine can call them from its very first read.
func New(logger *slog.Logger, onData OnData, onClosed OnClosed) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		onData:   onData,
		onClosed: onClosed,
		done:     make(chan struct{}),
		logger:   logger,
	}
}

// Spawn allocates a PTY and execs cfg.Command in it, then starts the reader
// goroutine. The child inherits the PTY slave as its controlling terminal.
func (s *Session) Spawn(cfg SpawnConfig) error {
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Dir = cfg.Dir
	cmd.Env = cfg.Env

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: cfg.Rows, Cols: cfg.Cols})
	if err != nil {
		return fmt.Errorf("ptyproc: spawn failed: %w", err)
	}

	s.ptyFile = ptmx
	s.cmd = cmd
	s.rows = cfg.Rows
	s.cols = cfg.Cols

	s.readerWg.Add(1)
	go s.readerLoop()

	s.logger.Info("pty spawned", "command", cfg.Command, "args", cfg.Args, "rows", cfg.Rows, "cols", cfg.Cols)
	return nil
}

func (s *Session) readerLoop() {
	defer s.readerWg.Done()

	buf := make([]byte, ReadBufferSize)
	for {
		n, err := s.ptyFile.Read(buf)
		if n > 0 && s.onData != nil {
			s.onData(buf[:n])
		}
		if err != nil {
			if err != io.EOF {
				s.logger.Error("pty read error", "error", err)
			} else {
				s.logger.Info("pty eof")
			}
			if s.onClosed != nil {
				s.onClosed(err)
			}
			return
		}
	}
}

// Write pushes client input to the PTY. os.File.Write already loops
// internally until every byte is accepted or a genuine error occurs, which
// satisfies the push handler's "loop until drained" requirement (spec.md
// §4.5, §9 "PTY short writes") without an extra retry loop here.
func (s *Session) Write(p []byte) (int, error) {
	if s.ptyFile == nil {
		return 0, fmt.Errorf("ptyproc: write before spawn")
	}
	return s.ptyFile.Write(p)
}

// Resize updates the PTY's window size via TIOCSWINSZ and, if the
// dimensions actually changed, signals the child's process group with
// SIGWINCH so foreground TUIs repaint (spec.md §4.5 winch).
func (s *Session) Resize(rows, cols, xpixel, ypixel uint16) error {
	s.mu.Lock()
	changed := rows != s.rows || cols != s.cols
	s.rows, s.cols = rows, cols
	s.mu.Unlock()

	if s.ptyFile == nil {
		return nil
	}
	if err := pty.Setsize(s.ptyFile, &pty.Winsize{Rows: rows, Cols: cols, X: xpixel, Y: ypixel}); err != nil {
		return fmt.Errorf("ptyproc: setsize failed: %w", err)
	}
	if changed {
		s.signalWinch()
	}
	return nil
}

// SignalWinch always sends SIGWINCH to the child's process group,
// regardless of whether dimensions changed. Used by the resume handler to
// kick a frozen TUI into repainting (spec.md §4.5 resume, §9 open question a).
func (s *Session) SignalWinch() {
	s.signalWinch()
}

func (s *Session) signalWinch() {
	if s.cmd == nil || s.cmd.Process == nil {
		return
	}
	pgid := s.cmd.Process.Pid
	if err := unix.Kill(-pgid, unix.SIGWINCH); err != nil {
		s.logger.Warn("sigwinch failed", "error", err)
	}
}

// Size returns the currently tracked window dimensions.
func (s *Session) Size() (rows, cols uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows, s.cols
}

// Kill terminates the child and closes the PTY master, then waits for the
// reader goroutine to observe EOF and exit. Best effort: cleanup failures
// are logged, never returned as fatal (spec.md §4.7 shutdown).
func (s *Session) Kill() {
	s.closeOne.Do(func() {
		if s.cmd != nil && s.cmd.Process != nil {
			if err := s.cmd.Process.Kill(); err != nil {
				s.logger.Warn("kill child failed", "error", err)
			}
			_, _ = s.cmd.Process.Wait()
		}
		if s.ptyFile != nil {
			_ = s.ptyFile.Close()
		}
		s.readerWg.Wait()
		close(s.done)
	})
}

// Done is closed once Kill has fully torn down the session.
func (s *Session) Done() <-chan struct{} {
	return s.done
}
