// Package registry implements the dual (incoming/outgoing) connection
// registry described in spec §4.B: each direction is tracked under its own
// readers-writer lock, entries move Identifying -> Connected -> Disconnected
// (absorbing), and a "desired" set records which outgoing peers the node
// wants to keep connected.
package registry

import (
	"net"
	"sync"

	"github.com/CaptainCow95/DatabaseV2/internal/wire"
)

// Status is the connection status lifecycle from spec §3.
type Status int

const (
	Identifying Status = iota
	Connected
	Disconnected
)

// Connection is a single registry entry. The receive buffer is owned here
// (not by the caller) so a RenameIncoming/sweep can move or drop it as one
// unit, per spec §4.B.
type Connection struct {
	mu     sync.Mutex
	Conn   net.Conn
	Status Status
	Dir    wire.Direction
	buf    []byte
}

func newConnection(conn net.Conn, dir wire.Direction, status Status) *Connection {
	return &Connection{Conn: conn, Dir: dir, Status: status}
}

// AppendBuf appends freshly-read bytes to the per-connection receive buffer.
func (c *Connection) AppendBuf(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf = append(c.buf, b...)
}

// DrainFrames extracts every complete frame currently buffered, leaving any
// trailing partial frame in place for the next read, per spec §4.A.
func (c *Connection) DrainFrames() []*wire.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	var frames []*wire.Frame
	for {
		f, consumed, complete, err := wire.TryDecodeFrame(c.buf)
		if !complete {
			break
		}
		if err != nil {
			// MalformedInput (spec §7): drop this frame only, keep the
			// connection and keep parsing whatever follows it.
			c.buf = c.buf[consumed:]
			continue
		}
		frames = append(frames, f)
		c.buf = c.buf[consumed:]
	}
	return frames
}

func (c *Connection) setStatus(s Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Status == Disconnected {
		// Disconnected is absorbing (spec §3).
		return
	}
	c.Status = s
}

func (c *Connection) getStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Status
}

// GetStatus is the exported, lock-safe form of getStatus, used by callers
// outside the registry package (e.g. the message engine's
// requireSecureConnection gate, spec §4.C).
func (c *Connection) GetStatus() Status {
	return c.getStatus()
}
