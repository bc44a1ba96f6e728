// Package chord implements the Chord-style ring core of spec §4.F:
// successor/predecessor tracking, a 32-entry finger table, periodic
// stabilization, and the ring-distance arithmetic that everything else is
// built on. Grounded on the teacher's single-writer-lock state machine
// shape (core/core.go) — GNUnet itself has no DHT ring of this kind, so the
// ring algorithm is new, implemented the way the teacher structures
// single-lock, tick-driven state.
package chord

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/CaptainCow95/DatabaseV2/internal/applog"
	"github.com/CaptainCow95/DatabaseV2/internal/document"
	"github.com/CaptainCow95/DatabaseV2/internal/netengine"
	"github.com/CaptainCow95/DatabaseV2/internal/wire"
)

const stabilizeTick = 500 * time.Millisecond

// Node pairs a network address with its Chord ring id.
type Node struct {
	Addr    wire.NodeID
	ChordID uint32
}

func (n Node) empty() bool { return n.Addr.IsZero() }

// Core holds one node's Chord ring state under a single readers-writer lock
// (spec §4.F).
type Core struct {
	mu sync.RWMutex

	self Node

	successor   Node
	predecessor Node
	hasPred     bool
	fingers     [32]Node // index 0 unused; [1..31] per spec
	nextFinger  int      // in [1, 31]

	engine *netengine.Engine
}

// New creates a Chord core for self, whose ring id is drawn uniformly at
// random (spec §4.F: "random uint32 id").
func New(engine *netengine.Engine, self wire.NodeID) *Core {
	c := &Core{
		self:       Node{Addr: self, ChordID: rand.Uint32()},
		nextFinger: 1,
		engine:     engine,
	}
	c.successor = c.self

	engine.RegisterHandler(wire.KindChordSuccessorRequest, c.handleSuccessorRequest)
	engine.RegisterHandler(wire.KindChordPredecessorRequest, c.handlePredecessorRequest)
	engine.RegisterHandler(wire.KindChordNotify, c.handleNotify)
	engine.OnDisconnect(c.handleDisconnect)
	return c
}

// Snapshot is a read-only view of the ring state, used by tests.
type Snapshot struct {
	Self        Node
	Successor   Node
	Predecessor Node
	HasPred     bool
}

func (c *Core) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{Self: c.self, Successor: c.successor, Predecessor: c.predecessor, HasPred: c.hasPred}
}

// between implements the strict ring-between relation from spec §4.F:
// min < num < max when min < max, else num > min || num < max. Endpoints
// are excluded either way.
func between(num, min, max uint32) bool {
	if min < max {
		return min < num && num < max
	}
	return num > min || num < max
}

// Join opens each seed peer in turn and asks for its successor; the first
// answer sets our own successor (spec §4.F). If no seed answers, the node
// remains a single-node ring (successor = self).
func (c *Core) Join(ctx context.Context, seeds []wire.NodeID) {
	for _, seed := range seeds {
		resp, ok := c.requestSuccessor(ctx, seed)
		if !ok {
			continue
		}
		c.mu.Lock()
		c.successor = resp
		c.mu.Unlock()
		if !c.ensureConnected(resp.Addr) {
			c.mu.Lock()
			c.successor = c.self
			c.mu.Unlock()
		}
		return
	}
}

func (c *Core) requestSuccessor(ctx context.Context, target wire.NodeID) (Node, bool) {
	if !c.ensureConnected(target) {
		return Node{}, false
	}
	respCh := make(chan *wire.Message, 1)
	req := wire.NewRequest(target, wire.Outgoing, wire.KindChordSuccessorRequest, document.New(), false, 3*time.Second,
		func(resp *wire.Message) { respCh <- resp })
	if err := c.engine.Send(wire.Outgoing, target, req); err != nil {
		return Node{}, false
	}
	select {
	case resp := <-respCh:
		if resp == nil {
			return Node{}, false
		}
		return nodeFromSuccessorPayload(resp.Payload), true
	case <-time.After(4 * time.Second):
		return Node{}, false
	case <-ctx.Done():
		return Node{}, false
	}
}

func nodeFromSuccessorPayload(p *document.Document) Node {
	sv, _ := p.Get("Successor")
	s, _ := sv.AsString()
	idv, _ := p.Get("ChordId")
	id, _ := idv.AsInt64()
	addr, err := wire.ParseNodeID(s)
	if err != nil {
		return Node{}
	}
	return Node{Addr: addr, ChordID: uint32(id)}
}

func (c *Core) ensureConnected(target wire.NodeID) bool {
	if _, ok := c.engine.Registry().Get(wire.Outgoing, target); ok {
		return true
	}
	return c.engine.Join(context.Background(), target) == nil
}

// RunStabilize drives the periodic stabilization tick (spec §4.F).
func (c *Core) RunStabilize(ctx context.Context) {
	ticker := time.NewTicker(stabilizeTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.stabilizeOnce(ctx)
		}
	}
}

func (c *Core) stabilizeOnce(ctx context.Context) {
	c.mu.RLock()
	succ := c.successor
	self := c.self
	c.mu.RUnlock()

	if !succ.Addr.Equal(self.Addr) {
		p := c.requestPredecessor(ctx, succ.Addr)
		if !p.empty() && between(p.ChordID, self.ChordID, succ.ChordID) {
			if c.ensureConnected(p.Addr) {
				c.mu.Lock()
				c.successor = p
				succ = p
				c.mu.Unlock()
			} else {
				c.mu.Lock()
				c.successor = c.self
				succ = c.self
				c.mu.Unlock()
			}
		}
	}

	c.mu.RLock()
	succNow := c.successor
	c.mu.RUnlock()
	if !succNow.Addr.Equal(self.Addr) {
		payload := document.New().
			Set("Node", document.String(self.Addr.String())).
			Set("ChordId", document.Int64(int64(self.ChordID)))
		msg := wire.NewOneWay(succNow.Addr, wire.Outgoing, wire.KindChordNotify, payload, false)
		c.engine.Send(wire.Outgoing, succNow.Addr, msg)
	}

	c.fixNextFinger(ctx, self)
}

func (c *Core) requestPredecessor(ctx context.Context, target wire.NodeID) Node {
	if !c.ensureConnected(target) {
		return Node{}
	}
	respCh := make(chan *wire.Message, 1)
	req := wire.NewRequest(target, wire.Outgoing, wire.KindChordPredecessorRequest, document.New(), false, 2*time.Second,
		func(resp *wire.Message) { respCh <- resp })
	if err := c.engine.Send(wire.Outgoing, target, req); err != nil {
		return Node{}
	}
	select {
	case resp := <-respCh:
		if resp == nil {
			return Node{}
		}
		pv, _ := resp.Payload.Get("Predecessor")
		p, _ := pv.AsString()
		if p == "" || p == ":0" {
			return Node{}
		}
		idv, _ := resp.Payload.Get("ChordId")
		id, _ := idv.AsInt64()
		addr, err := wire.ParseNodeID(p)
		if err != nil {
			return Node{}
		}
		return Node{Addr: addr, ChordID: uint32(id)}
	case <-time.After(3 * time.Second):
		return Node{}
	case <-ctx.Done():
		return Node{}
	}
}

func (c *Core) fixNextFinger(ctx context.Context, self Node) {
	c.mu.Lock()
	c.nextFinger++
	if c.nextFinger >= 32 {
		c.nextFinger = 1
	}
	idx := c.nextFinger
	target := self.ChordID + (uint32(1) << uint(idx-1))
	c.mu.Unlock()

	result := c.FindSuccessor(ctx, target)
	c.mu.Lock()
	defer c.mu.Unlock()
	if !result.empty() && c.ensureConnected(result.Addr) {
		c.fingers[idx] = result
	} else {
		c.fingers[idx] = Node{}
	}
}

// FindSuccessor resolves which node owns id (spec §4.F).
func (c *Core) FindSuccessor(ctx context.Context, id uint32) Node {
	c.mu.RLock()
	self := c.self
	succ := c.successor
	hasSucc := !succ.empty()
	c.mu.RUnlock()

	if hasSucc && (between(id, self.ChordID, succ.ChordID) || id == succ.ChordID) {
		return succ
	}
	n := c.ClosestPrecedingNode(id)
	resp, ok := c.requestSuccessor(ctx, n.Addr)
	if !ok {
		return Node{}
	}
	return resp
}

// ClosestPrecedingNode scans the finger table from index 31 down to 1 for
// the closest preceding entry, falling back to the successor (spec §4.F).
func (c *Core) ClosestPrecedingNode(id uint32) Node {
	c.mu.RLock()
	defer c.mu.RUnlock()
	self := c.self
	for i := 31; i >= 1; i-- {
		f := c.fingers[i]
		if f.empty() {
			continue
		}
		if between(f.ChordID, self.ChordID, id) {
			return f
		}
	}
	return c.successor
}

func (c *Core) handleSuccessorRequest(msg *wire.Message) bool {
	c.mu.RLock()
	succ := c.successor
	c.mu.RUnlock()
	payload := document.New().
		Set("Successor", document.String(succ.Addr.String())).
		Set("ChordId", document.Int64(int64(succ.ChordID)))
	reply := wire.NewReply(msg, wire.KindChordSuccessorResponse, payload)
	c.engine.Send(msg.Direction, msg.Address, reply)
	return true
}

func (c *Core) handlePredecessorRequest(msg *wire.Message) bool {
	c.mu.RLock()
	pred := c.predecessor
	has := c.hasPred
	c.mu.RUnlock()

	name := ":0"
	var id int64
	if has {
		name = pred.Addr.String()
		id = int64(pred.ChordID)
	}
	payload := document.New().
		Set("Predecessor", document.String(name)).
		Set("ChordId", document.Int64(id))
	reply := wire.NewReply(msg, wire.KindChordPredecessorResponse, payload)
	c.engine.Send(msg.Direction, msg.Address, reply)
	return true
}

func (c *Core) handleNotify(msg *wire.Message) bool {
	nodeVal, _ := msg.Payload.Get("Node")
	nodeStr, _ := nodeVal.AsString()
	idVal, _ := msg.Payload.Get("ChordId")
	id, _ := idVal.AsInt64()
	addr, err := wire.ParseNodeID(nodeStr)
	if err != nil {
		applog.Logf(applog.Warning, "[chord] malformed ChordNotify.Node %q", nodeStr)
		return true
	}
	candidate := Node{Addr: addr, ChordID: uint32(id)}

	c.mu.Lock()
	self := c.self
	accept := !c.hasPred || between(candidate.ChordID, c.predecessor.ChordID, self.ChordID)
	c.mu.Unlock()

	if !accept {
		return true
	}
	if c.ensureConnected(candidate.Addr) {
		c.mu.Lock()
		c.predecessor = candidate
		c.hasPred = true
		c.mu.Unlock()
	} else {
		c.mu.Lock()
		c.hasPred = false
		c.predecessor = Node{}
		c.mu.Unlock()
	}
	return true
}

// handleDisconnect implements spec §4.F's disconnection policy.
func (c *Core) handleDisconnect(peer wire.NodeID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hasPred && c.predecessor.Addr.Equal(peer) {
		c.hasPred = false
		c.predecessor = Node{}
	}
	if c.successor.Addr.Equal(peer) {
		c.successor = c.self
	}
	for i := range c.fingers {
		if c.fingers[i].Addr.Equal(peer) {
			c.fingers[i] = Node{}
		}
	}
}
