package daemon

import (
	"bufio"

	"github.com/rtach/rtachd/internal/client"
)

// fifoLoop reads newline-terminated lines from the command FIFO and
// broadcasts each as a command frame to every attached client (spec's
// command FIFO read completion).
func (s *Session) fifoLoop() {
	reader := bufio.NewReader(s.fifoFile)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			s.broadcastCommand(trimNewline(line))
		}
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			s.logger.Warn("fifo read error, stopping fifo reader", "error", err)
			return
		}
	}
}

func trimNewline(line []byte) []byte {
	n := len(line)
	if n > 0 && line[n-1] == '\n' {
		n--
	}
	if n > 0 && line[n-1] == '\r' {
		n--
	}
	return line[:n]
}

func (s *Session) broadcastCommand(line []byte) {
	s.mu.Lock()
	clients := make([]*client.Client, 0, len(s.clients))
	for c := range s.clients {
		if c.IsAttached() {
			clients = append(clients, c)
		}
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.SendCommand(line)
	}
}
