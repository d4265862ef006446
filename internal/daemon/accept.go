package daemon

import (
	"errors"
	"net"

	"github.com/rtach/rtachd/internal/client"
)

// acceptLoop accepts connections on the listening socket until it is closed
// by Shutdown, creating a Client per connection (spec's accept completion:
// handshake is sent from within Client.Run).
func (s *Session) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept error", "error", err)
			continue
		}

		c := client.New(conn, s, s.logger)
		s.addClient(c)
		go c.Run()
	}
}
