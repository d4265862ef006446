package daemon

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rtach/rtachd/internal/client"
)

func newIdleTimer(d time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(d, fn)
}

func (s *Session) armIdleTimer() {
	s.idleMu.Lock()
	defer s.idleMu.Unlock()
	s.idleTimer = newIdleTimer(s.cfg.IdleInterval, s.onIdle)
}

// resetIdleTimer is called on every PTY read; it re-arms the timer rather
// than letting it run to completion (spec.md §4.6, §5 "re-armed on every
// PTY byte").
func (s *Session) resetIdleTimer() {
	s.idleMu.Lock()
	defer s.idleMu.Unlock()
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.idleTimer = newIdleTimer(s.cfg.IdleInterval, s.onIdle)
}

func (s *Session) onIdle() {
	s.mu.Lock()
	clients := make([]*client.Client, 0, len(s.clients))
	for c := range s.clients {
		if c.IsAttached() && !c.IsPaused() {
			clients = append(clients, c)
		}
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.SendIdle()
	}

	if title, seen := s.title.Title(); seen {
		if err := s.persistTitle(title); err != nil {
			s.logger.Warn("title persist failed", "error", err)
		}
	}
}

// persistTitle writes the title atomically via temp-file + rename, using a
// path relative to the title file's own directory so the operation never
// assumes an absolute working directory (spec.md §4.6, §9 "paths are
// relative-safe").
func (s *Session) persistTitle(title string) error {
	dir := filepath.Dir(s.cfg.TitlePath())
	tmp, err := os.CreateTemp(dir, ".rtach-title-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.WriteString(title); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, s.cfg.TitlePath())
}
