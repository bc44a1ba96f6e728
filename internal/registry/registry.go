package registry

import (
	"fmt"
	"net"
	"sync"

	"github.com/CaptainCow95/DatabaseV2/internal/wire"
)

// Registry is the dual incoming/outgoing connection table of spec §4.B.
// Each direction is protected by its own lock so that, e.g., a slow
// outgoing dial never blocks a concurrent accept.
type Registry struct {
	incomingMu sync.RWMutex
	incoming   map[wire.NodeID]*Connection

	outgoingMu sync.RWMutex
	outgoing   map[wire.NodeID]*Connection

	desiredMu sync.Mutex
	desired   map[wire.NodeID]struct{}

	listenerMu sync.Mutex
	listener   net.Listener
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		incoming: make(map[wire.NodeID]*Connection),
		outgoing: make(map[wire.NodeID]*Connection),
		desired:  make(map[wire.NodeID]struct{}),
	}
}

// AcceptLoop blocks accepting TCP clients on listenPort; each accepted
// client is placed in Incoming keyed by its remote (ip, port) as a
// provisional key, pending RenameIncoming once the join handshake completes
// (spec §4.B). It returns nil when the listener is closed by Shutdown,
// translating a closed-listener error into a clean exit (spec §4.D).
func (r *Registry) AcceptLoop(listenPort int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", listenPort))
	if err != nil {
		return err
	}
	r.listenerMu.Lock()
	r.listener = ln
	r.listenerMu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return nil
		}
		remote, ok := conn.RemoteAddr().(*net.TCPAddr)
		if !ok {
			conn.Close()
			continue
		}
		key := wire.NewNodeID(remote.IP.String(), remote.Port)
		c := newConnection(conn, wire.Incoming, Identifying)

		r.incomingMu.Lock()
		r.incoming[key] = c
		r.incomingMu.Unlock()
	}
}

// ListenAddr returns the accept listener's bound address, or nil if
// AcceptLoop hasn't started yet. Used by callers that bind an ephemeral
// port (":0") and need to learn which port the OS actually chose.
func (r *Registry) ListenAddr() net.Addr {
	r.listenerMu.Lock()
	defer r.listenerMu.Unlock()
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

// Shutdown closes the accept listener, if running, so AcceptLoop returns.
func (r *Registry) Shutdown() error {
	r.listenerMu.Lock()
	defer r.listenerMu.Unlock()
	if r.listener == nil {
		return nil
	}
	err := r.listener.Close()
	r.listener = nil
	return err
}

// OpenOutgoing dials target and registers the connection under Outgoing
// with status Identifying. It is idempotent: if a non-Disconnected entry
// already exists for target, that entry is returned unchanged. A
// Disconnected entry is swept (including its receive buffer) before the
// new dial, per the invariant in spec §4.B.
func (r *Registry) OpenOutgoing(target wire.NodeID) (*Connection, error) {
	r.outgoingMu.Lock()
	if existing, ok := r.outgoing[target]; ok {
		if existing.getStatus() != Disconnected {
			r.outgoingMu.Unlock()
			return existing, nil
		}
		delete(r.outgoing, target)
	}
	r.outgoingMu.Unlock()

	conn, err := net.Dial("tcp", target.String())
	if err != nil {
		return nil, err
	}
	c := newConnection(conn, wire.Outgoing, Identifying)

	r.outgoingMu.Lock()
	r.outgoing[target] = c
	r.outgoingMu.Unlock()
	return c, nil
}

// RenameIncoming re-keys an incoming connection from its provisional
// (socket-derived) address to the peer's advertised address, learned during
// the join handshake (spec §4.B). Any stale Disconnected entry already
// present under the advertised key is swept first.
func (r *Registry) RenameIncoming(provisional, advertised wire.NodeID) error {
	r.incomingMu.Lock()
	defer r.incomingMu.Unlock()

	c, ok := r.incoming[provisional]
	if !ok {
		return fmt.Errorf("registry: no incoming connection for %s", provisional)
	}
	if existing, ok := r.incoming[advertised]; ok && existing != c && existing.getStatus() == Disconnected {
		delete(r.incoming, advertised)
	}
	delete(r.incoming, provisional)
	r.incoming[advertised] = c
	return nil
}

// MarkEstablished transitions the connection at key/direction to Connected.
func (r *Registry) MarkEstablished(dir wire.Direction, key wire.NodeID) {
	if c := r.lookup(dir, key); c != nil {
		c.setStatus(Connected)
	}
}

// MarkDisconnected transitions the connection at key/direction to
// Disconnected. The entry itself is swept lazily, on the next OpenOutgoing
// or RenameIncoming for the same key (spec §4.B).
func (r *Registry) MarkDisconnected(dir wire.Direction, key wire.NodeID) {
	if c := r.lookup(dir, key); c != nil {
		c.setStatus(Disconnected)
	}
}

// Get returns the connection registered for key/direction, if any.
func (r *Registry) Get(dir wire.Direction, key wire.NodeID) (*Connection, bool) {
	c := r.lookup(dir, key)
	return c, c != nil
}

func (r *Registry) lookup(dir wire.Direction, key wire.NodeID) *Connection {
	if dir == wire.Incoming {
		r.incomingMu.RLock()
		defer r.incomingMu.RUnlock()
		return r.incoming[key]
	}
	r.outgoingMu.RLock()
	defer r.outgoingMu.RUnlock()
	return r.outgoing[key]
}

// ConnectedOutgoing returns a snapshot of outgoing peers with status
// Connected.
func (r *Registry) ConnectedOutgoing() []wire.NodeID {
	r.outgoingMu.RLock()
	defer r.outgoingMu.RUnlock()
	var out []wire.NodeID
	for k, c := range r.outgoing {
		if c.getStatus() == Connected {
			out = append(out, k)
		}
	}
	return out
}

// ConnectedIncoming returns a snapshot of incoming peers with status
// Connected.
func (r *Registry) ConnectedIncoming() []wire.NodeID {
	r.incomingMu.RLock()
	defer r.incomingMu.RUnlock()
	var out []wire.NodeID
	for k, c := range r.incoming {
		if c.getStatus() == Connected {
			out = append(out, k)
		}
	}
	return out
}

// AllConnections returns every registered connection (any status, both
// directions) as (key, direction, connection) triples, used by the
// heartbeat loop (spec §4.C) which probes every registered socket.
func (r *Registry) AllConnections() []Entry {
	var out []Entry
	r.incomingMu.RLock()
	for k, c := range r.incoming {
		out = append(out, Entry{Key: k, Dir: wire.Incoming, Conn: c})
	}
	r.incomingMu.RUnlock()

	r.outgoingMu.RLock()
	for k, c := range r.outgoing {
		out = append(out, Entry{Key: k, Dir: wire.Outgoing, Conn: c})
	}
	r.outgoingMu.RUnlock()
	return out
}

// Entry is one registry row, direction-tagged.
type Entry struct {
	Key  wire.NodeID
	Dir  wire.Direction
	Conn *Connection
}

// AddDesired adds a peer to the set of outgoing connections the node wants
// to maintain (spec §4.C's "desired set").
func (r *Registry) AddDesired(id wire.NodeID) {
	r.desiredMu.Lock()
	defer r.desiredMu.Unlock()
	r.desired[id] = struct{}{}
}

// RemoveDesired drops a peer from the desired set.
func (r *Registry) RemoveDesired(id wire.NodeID) {
	r.desiredMu.Lock()
	defer r.desiredMu.Unlock()
	delete(r.desired, id)
}

// DesiredSnapshot returns the current desired set.
func (r *Registry) DesiredSnapshot() []wire.NodeID {
	r.desiredMu.Lock()
	defer r.desiredMu.Unlock()
	out := make([]wire.NodeID, 0, len(r.desired))
	for id := range r.desired {
		out = append(out, id)
	}
	return out
}
