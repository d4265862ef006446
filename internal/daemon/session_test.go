package daemon

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rtach/rtachd/internal/config"
	"github.com/rtach/rtachd/internal/wire"
)

func newTestSession(t *testing.T) (*Session, *config.Config) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		ScrollbackBytes: 1 << 16,
		IdleInterval:    50 * time.Millisecond,
		SocketPath:      filepath.Join(dir, "rtach.sock"),
		LogLevel:        "info",
	}
	s := New(cfg, nil)
	if err := s.Start(StartConfig{
		Command: "/bin/cat",
		Rows:    24,
		Cols:    80,
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(s.Shutdown)
	return s, cfg
}

func dial(t *testing.T, cfg *config.Config) net.Conn {
	t.Helper()
	conn, err := net.Dial("unix", cfg.SocketPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	return conn
}

func readFrame(t *testing.T, conn net.Conn) (typ byte, compressed bool, payload []byte) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	header := make([]byte, wire.HeaderSize)
	if _, err := readFull(conn, header); err != nil {
		t.Fatalf("read header: %v", err)
	}
	typ, compressed, length, err := wire.DecodeFrameHeader(header)
	if err != nil {
		t.Fatalf("decode header: %v", err)
	}
	payload = make([]byte, length)
	if length > 0 {
		if _, err := readFull(conn, payload); err != nil {
			t.Fatalf("read payload: %v", err)
		}
	}
	return typ, compressed, payload
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestHandshakeOnConnect(t *testing.T) {
	_, cfg := newTestSession(t)
	conn := dial(t, cfg)
	defer conn.Close()

	buf := make([]byte, 13)
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, err := readFull(conn, buf); err != nil {
		t.Fatalf("read handshake: %v", err)
	}
	want := []byte{0xFF, 0x08, 0x00, 0x00, 0x00, 'R', 'T', 'C', 'H', 0x02, 0x00, 0x00, 0x00}
	if !bytes.Equal(buf, want) {
		t.Errorf("handshake = % X, want % X", buf, want)
	}
}

func TestUpgradeThenEcho(t *testing.T) {
	_, cfg := newTestSession(t)
	conn := dial(t, cfg)
	defer conn.Close()

	readFrame(t, conn) // handshake

	conn.Write([]byte{0x07, 0x00})
	conn.Write(wire.EncodePacket(wire.PacketAttach, nil))
	readFrame(t, conn) // scrollback replay (empty)
	conn.Write(wire.EncodePacket(wire.PacketPush, []byte("hello")))

	typ, _, payload := readFrame(t, conn)
	if typ != wire.FrameTerminalData {
		t.Fatalf("typ = %d, want terminal_data", typ)
	}
	if !bytes.Contains(payload, []byte("hello")) {
		t.Errorf("payload = %q, want it to contain %q", payload, "hello")
	}
}

func TestDuplicateClientIDEviction(t *testing.T) {
	_, cfg := newTestSession(t)
	connA := dial(t, cfg)
	defer connA.Close()
	readFrame(t, connA) // handshake

	id := uuid.New()
	connA.Write([]byte{0x07, 0x00})
	connA.Write(wire.EncodePacket(wire.PacketAttach, id[:]))
	readFrame(t, connA) // scrollback replay

	connB := dial(t, cfg)
	defer connB.Close()
	readFrame(t, connB) // handshake
	connB.Write([]byte{0x07, 0x00})
	connB.Write(wire.EncodePacket(wire.PacketAttach, id[:]))
	readFrame(t, connB) // scrollback replay

	connA.SetReadDeadline(time.Now().Add(3 * time.Second))
	buf := make([]byte, 1)
	_, err := connA.Read(buf)
	if err == nil {
		t.Error("expected connA to observe EOF/error after eviction")
	}

	connB.Write([]byte{0x07, 0x00})
	connB.Write(wire.EncodePacket(wire.PacketPush, []byte("still here")))
	typ, _, payload := readFrame(t, connB)
	if typ != wire.FrameTerminalData || !bytes.Contains(payload, []byte("still here")) {
		t.Errorf("connB did not receive live output: typ=%d payload=%q", typ, payload)
	}
}

func TestIdleFrameFiresAfterQuietInterval(t *testing.T) {
	_, cfg := newTestSession(t)
	conn := dial(t, cfg)
	defer conn.Close()
	readFrame(t, conn) // handshake

	conn.Write([]byte{0x07, 0x00})
	conn.Write(wire.EncodePacket(wire.PacketAttach, nil))
	readFrame(t, conn) // scrollback replay (empty)

	typ, _, _ := readFrame(t, conn)
	if typ != wire.FrameIdle {
		t.Errorf("typ = %d, want idle (%d)", typ, wire.FrameIdle)
	}
}

func TestTitlePersistedOnIdle(t *testing.T) {
	_, cfg := newTestSession(t)
	conn := dial(t, cfg)
	defer conn.Close()
	readFrame(t, conn) // handshake

	conn.Write([]byte{0x07, 0x00})
	conn.Write(wire.EncodePacket(wire.PacketAttach, nil))
	readFrame(t, conn) // scrollback replay (empty)
	// The trailing newline makes cat write the raw sequence back; the tty's
	// own echo renders ESC and BEL as ^[ and ^G.
	conn.Write(wire.EncodePacket(wire.PacketPush, []byte("\x1b]0;my session\x07\n")))

	readFrame(t, conn) // terminal_data echo of the pushed line

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if data, err := os.ReadFile(cfg.TitlePath()); err == nil {
			if string(data) == "my session" {
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("title file was never written with the expected content")
}
