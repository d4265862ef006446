// Package client implements the per-connection state machine described as
// Client Session in the daemon's design: raw vs framed phase, attach state,
// pause/resume, and the packet handlers that read from the wire and act on
// the PTY and scrollback ring.
package client

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/rtach/rtachd/internal/codec"
	"github.com/rtach/rtachd/internal/ring"
	"github.com/rtach/rtachd/internal/wire"
)

// ReplayTailSize is how much scrollback a newly attached client (outside
// alt-screen) receives immediately: the last 16 KiB.
const ReplayTailSize = 16 * 1024

// ReadBufferSize bounds a single conn.Read call.
const ReadBufferSize = 65536

// PTY is the subset of the PTY session a client handler can drive.
type PTY interface {
	Write(p []byte) (int, error)
	Resize(rows, cols, xpixel, ypixel uint16) error
	SignalWinch()
}

// Registry is the daemon-side object a Client uses to reach cross-client and
// cross-session state: the scrollback ring, mode flags, the PTY, and the
// client set itself (for duplicate-id eviction and active-client claims).
type Registry interface {
	Ring() *ring.Ring
	PTY() PTY
	Mode() (altScreen, cursorVisible bool)
	EvictDuplicate(id uuid.UUID, except *Client)
	SetActive(c *Client)
	Remove(c *Client)
}

// Phase is a client connection's protocol phase.
type Phase int

const (
	PhaseRaw Phase = iota
	PhaseFramed
)

// Client is one attached (or not-yet-attached) connection.
type Client struct {
	conn     net.Conn
	registry Registry
	logger   *slog.Logger

	writeMu sync.Mutex

	mu                sync.Mutex
	phase             Phase
	attached          bool
	paused            bool
	clientID          uuid.UUID
	hasClientID       bool
	compressionType   byte
	pausedSinceOffset uint64

	reader wire.PacketReader
}

// New constructs a Client for an accepted connection. It does not start the
// read loop or send the handshake; call Run for that.
func New(conn net.Conn, registry Registry, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		conn:     conn,
		registry: registry,
		logger:   logger,
		phase:    PhaseRaw,
	}
}

// Run sends the initial handshake frame, then reads and dispatches packets
// (or raw bytes) until the peer disconnects or a write error occurs, at
// which point the client removes itself from the registry. Run blocks and
// should be started in its own goroutine per accepted connection.
func (c *Client) Run() {
	if err := c.writeFrame(wire.FrameHandshake, wire.HandshakePayload(0)); err != nil {
		c.logger.Warn("handshake write failed", "error", err)
		c.registry.Remove(c)
		return
	}

	buf := make([]byte, ReadBufferSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			if c.handleRead(buf[:n]) != nil {
				break
			}
		}
		if err != nil {
			if err != io.EOF {
				c.logger.Debug("client read error", "error", err)
			}
			break
		}
	}
	c.registry.Remove(c)
}

func (c *Client) handleRead(data []byte) error {
	c.mu.Lock()
	phase := c.phase
	c.mu.Unlock()

	if phase == PhaseRaw {
		if len(data) >= 2 && data[0] == 0x07 && (data[1] == 0x00 || data[1] == 0x01) {
			return c.upgradeFromRawRead(data)
		}
		_, err := c.registry.PTY().Write(data)
		return err
	}
	return c.feedFramed(data)
}

// upgradeFromRawRead handles a raw-phase read that begins with the upgrade
// prefix: it decodes the upgrade packet itself, switches phase, then feeds
// whatever bytes follow it in the same read to the framed-phase parser
// (spec.md §9 "fused with the packet parser").
func (c *Client) upgradeFromRawRead(data []byte) error {
	var pr wire.PacketReader
	consumed, pkt := pr.Feed(data)
	if pkt == nil {
		// Shouldn't happen: the prefix guarantees at least a 2-byte header
		// and upgrade payload is 0 or 1 bytes, both present in data by
		// construction of the caller's length check for data[1]==0x00.
		return nil
	}
	c.mu.Lock()
	c.phase = PhaseFramed
	c.mu.Unlock()
	c.dispatch(pkt)

	if consumed < len(data) {
		return c.feedFramed(data[consumed:])
	}
	return nil
}

func (c *Client) feedFramed(data []byte) error {
	for len(data) > 0 {
		n, pkt := c.reader.Feed(data)
		data = data[n:]
		if pkt != nil {
			c.dispatch(pkt)
		}
		if n == 0 {
			break
		}
	}
	return nil
}

func (c *Client) dispatch(pkt *wire.Packet) {
	switch pkt.Type {
	case wire.PacketAttach:
		c.handleAttach(pkt)
	case wire.PacketDetach:
		c.mu.Lock()
		c.attached = false
		c.mu.Unlock()
	case wire.PacketPush:
		if _, err := c.registry.PTY().Write(pkt.Payload); err != nil {
			c.logger.Warn("pty write failed", "error", err)
		}
	case wire.PacketWinch:
		c.handleWinch(pkt)
	case wire.PacketRedraw:
		c.handleRedraw()
	case wire.PacketRequestScrollback:
		c.handleRequestScrollback()
	case wire.PacketRequestScrollbackPage:
		c.handleRequestScrollbackPage(pkt)
	case wire.PacketUpgrade:
		c.handleUpgrade(pkt)
	case wire.PacketPause:
		c.mu.Lock()
		c.paused = true
		c.pausedSinceOffset = c.registry.Ring().TotalWritten()
		c.mu.Unlock()
	case wire.PacketResume:
		c.handleResume()
	case wire.PacketClaimActive:
		c.registry.SetActive(c)
	}
}

// handleAttach marks the connection attached and sends its replay (either
// the alt-screen re-entry sequence or the scrollback tail) while holding
// writeMu across both steps. DeliverPTYData's live writes also go through
// writeMu (via sendTerminalDataParts), so any live chunk that becomes
// eligible for delivery while attached is being flipped to true is forced
// to queue behind this replay write rather than race ahead of it — the
// ordering spec.md §5 requires ("replay before the next live terminal_data
// to that client").
func (c *Client) handleAttach(pkt *wire.Packet) {
	id, present, err := pkt.AttachClientID()
	if err != nil {
		c.logger.Warn("bad attach payload", "error", err)
		return
	}
	if present {
		c.registry.EvictDuplicate(id, c)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	c.clientID = id
	c.hasClientID = present
	c.attached = true
	c.mu.Unlock()

	altScreen, cursorVisible := c.registry.Mode()
	if altScreen {
		c.sendTerminalDataPartsLocked([]byte("\x1b[?1049h"), nil)
		if !cursorVisible {
			c.sendTerminalDataPartsLocked([]byte("\x1b[?25l"), nil)
		}
		return
	}

	r := c.registry.Ring()
	total := r.Size()
	n := total
	if n > ReplayTailSize {
		n = ReplayTailSize
	}
	first, second := r.SliceRange(total-n, n)
	c.sendTerminalDataPartsLocked(first, second)
}

func (c *Client) handleWinch(pkt *wire.Packet) {
	rows, cols, xpx, ypx, err := pkt.Winch()
	if err != nil {
		c.logger.Warn("bad winch payload", "error", err)
		return
	}
	if err := c.registry.PTY().Resize(rows, cols, xpx, ypx); err != nil {
		c.logger.Warn("resize failed", "error", err)
	}
}

func (c *Client) handleRedraw() {
	r := c.registry.Ring()
	first, second := r.Slices()
	c.sendTerminalDataParts(first, second)
}

// scrollbackPage clamps (offset, limit) against the ring's current contents
// and returns the ring's total size, the clamped start, and the resulting
// two-slice range. Both request_scrollback and request_scrollback_page read
// through this one path (spec.md §9 open question (b): legacy is a thin
// shim over the paged read, not a second ring-reading implementation).
func (c *Client) scrollbackPage(offset, limit uint32) (total, start uint32, first, second []byte) {
	r := c.registry.Ring()
	total = uint32(r.Size())
	start = offset
	if start > total {
		start = total
	}
	n := limit
	if n > total-start {
		n = total - start
	}
	first, second = r.SliceRange(int(start), int(n))
	return total, start, first, second
}

func (c *Client) handleRequestScrollback() {
	altScreen, _ := c.registry.Mode()
	if altScreen {
		if err := c.writeFrame(wire.FrameScrollback, nil); err != nil {
			c.logger.Debug("scrollback write failed", "error", err)
		}
		return
	}

	total, _, _, _ := c.scrollbackPage(0, 0)
	tail := total
	if tail > ReplayTailSize {
		tail = ReplayTailSize
	}
	oldLen := total - tail
	_, _, first, second := c.scrollbackPage(0, oldLen)
	if err := c.writeFrameParts(wire.FrameScrollback, first, second); err != nil {
		c.logger.Debug("scrollback write failed", "error", err)
	}
}

func (c *Client) handleRequestScrollbackPage(pkt *wire.Packet) {
	offset, limit, err := pkt.ScrollbackPageRequest()
	if err != nil {
		c.logger.Warn("bad scrollback page request", "error", err)
		return
	}

	altScreen, _ := c.registry.Mode()
	if altScreen {
		meta := make([]byte, 8)
		if err := c.writeFrameParts(wire.FrameScrollbackPage, meta); err != nil {
			c.logger.Debug("scrollback page write failed", "error", err)
		}
		return
	}

	total, start, first, second := c.scrollbackPage(offset, limit)

	meta := make([]byte, 8)
	binary.LittleEndian.PutUint32(meta[0:4], total)
	binary.LittleEndian.PutUint32(meta[4:8], start)
	if err := c.writeFrameParts(wire.FrameScrollbackPage, meta, first, second); err != nil {
		c.logger.Debug("scrollback page write failed", "error", err)
	}
}

func (c *Client) handleUpgrade(pkt *wire.Packet) {
	typ, present, err := pkt.UpgradeCompression()
	if err != nil {
		c.logger.Warn("bad upgrade payload", "error", err)
		return
	}
	c.mu.Lock()
	c.phase = PhaseFramed
	if present {
		c.compressionType = typ
	}
	c.mu.Unlock()
}

// handleResume mirrors handleAttach's ordering guarantee: the buffered
// catch-up write and the "paused" flag flip happen while writeMu is held,
// so a live DeliverPTYData write racing the resume cannot land on the wire
// ahead of the backlog it is supposed to follow.
func (c *Client) handleResume() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	c.paused = false
	since := c.pausedSinceOffset
	c.mu.Unlock()

	first, second := c.registry.Ring().SinceClamped(since)
	if len(first) > 0 || len(second) > 0 {
		c.sendTerminalDataPartsLocked(first, second)
	}
	c.registry.PTY().SignalWinch()
}

// DeliverPTYData is called by the daemon's fan-out for every client whenever
// the PTY produces output; it writes only to attached, unpaused clients.
func (c *Client) DeliverPTYData(chunk []byte) {
	if !c.IsAttached() || c.IsPaused() {
		return
	}
	c.sendTerminalData(chunk)
}

// SendIdle writes an idle frame, skipped for paused clients by the caller.
func (c *Client) SendIdle() {
	if err := c.writeFrame(wire.FrameIdle, nil); err != nil {
		c.logger.Debug("idle write failed", "error", err)
	}
}

// SendCommand writes a command frame carrying one FIFO-sourced line.
func (c *Client) SendCommand(line []byte) {
	if err := c.writeFrame(wire.FrameCommand, line); err != nil {
		c.logger.Debug("command write failed", "error", err)
	}
}

func (c *Client) sendTerminalData(payload []byte) {
	c.sendTerminalDataParts(payload, nil)
}

func (c *Client) sendTerminalDataParts(first, second []byte) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.sendTerminalDataPartsLocked(first, second)
}

// sendTerminalDataPartsLocked is sendTerminalDataParts for callers that
// already hold writeMu (handleAttach, handleResume), so the flag flip that
// makes a client eligible for live delivery and the reply/backlog write
// that must precede it happen under one critical section.
func (c *Client) sendTerminalDataPartsLocked(first, second []byte) {
	c.mu.Lock()
	compression := c.compressionType
	c.mu.Unlock()

	if compression != 1 {
		if err := c.writeFramePartsLocked(wire.FrameTerminalData, first, second); err != nil {
			c.logger.Debug("terminal_data write failed", "error", err)
		}
		return
	}

	combined := make([]byte, 0, len(first)+len(second))
	combined = append(combined, first...)
	combined = append(combined, second...)

	compressed, ok, err := codec.CompressIfSmaller(combined)
	if err != nil {
		c.logger.Warn("compression failed, sending uncompressed", "error", err)
		ok = false
	}
	if ok {
		if err := c.writeFramePartsLocked(wire.FrameTerminalData|wire.CompressedBit, compressed); err != nil {
			c.logger.Debug("terminal_data write failed", "error", err)
		}
		return
	}
	if err := c.writeFramePartsLocked(wire.FrameTerminalData, combined); err != nil {
		c.logger.Debug("terminal_data write failed", "error", err)
	}
}

func (c *Client) writeFrame(typ byte, payload []byte) error {
	return c.writeFrameParts(typ, payload)
}

func (c *Client) writeFrameParts(typ byte, parts ...[]byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.writeFramePartsLocked(typ, parts...)
}

// writeFramePartsLocked is writeFrameParts for a caller that already holds
// writeMu.
func (c *Client) writeFramePartsLocked(typ byte, parts ...[]byte) error {
	if err := wire.WriteFrameParts(c.conn, typ, parts...); err != nil {
		return fmt.Errorf("client: %w", err)
	}
	return nil
}

// ClientID returns the protocol-level client id and whether one was ever
// attached with.
func (c *Client) ClientID() (uuid.UUID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID, c.hasClientID
}

// IsAttached reports the current attached flag.
func (c *Client) IsAttached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attached
}

// IsPaused reports the current paused flag.
func (c *Client) IsPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Close closes the underlying connection, interrupting Run's read loop.
func (c *Client) Close() error {
	return c.conn.Close()
}
