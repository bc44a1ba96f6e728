// Package election implements the term-based leader election core of spec
// §4.E: a candidate bumps its term, canvasses every other configured
// controller, and a strict majority within one term wins leadership.
// Grounded on the teacher's core state-machine shape (core/core.go keeps
// connection-derived state under one lock and drives transitions from a
// maintenance goroutine) but the vote/term logic itself is new — GNUnet has
// no leader election.
package election

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

// backoffBase is the small constant "k" from spec §4.E ("the reference uses
// 5" seconds).
const backoffBase = 5 * time.Second

// Core holds one controller node's election state, all of it under a single
// readers-writer lock (spec §4.E).
type Core struct {
	mu sync.RWMutex

	self        wire.NodeID
	controllers []wire.NodeID // the configured controller set, excluding self

	currentTerm     int64
	votedThisTerm   bool
	leader          wire.NodeID
	hasLeader       bool
	isLeader        bool
	nextCandidateAt time.Time

	engine *netengine.Engine
	rng    *rand.Rand
}

// New creates an election core for self, given the full set of configured
// controllers (self included; it is filtered out).
func New(engine *netengine.Engine, self wire.NodeID, controllers []wire.NodeID) *Core {
	others := make([]wire.NodeID, 0, len(controllers))
	for _, c := range controllers {
		if !c.Equal(self) {
			others = append(others, c)
		}
	}
	c := &Core{
		self:        self,
		controllers: others,
		engine:      engine,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	c.resetBackoffLocked()

	engine.RegisterHandler(wire.KindInitiateLeaderVote, c.handleInitiateLeaderVote)
	engine.RegisterHandler(wire.KindNewLeader, c.handleNewLeader)
	engine.RegisterHandler(wire.KindLeaderRequest, c.handleLeaderRequest)
	engine.OnDisconnect(c.handleDisconnect)
	return c
}

// N is the configured controller count, including self (spec §4.E uses this
// for the majority threshold and the back-off range).
func (c *Core) N() int {
	return len(c.controllers) + 1
}

// majority returns floor(N/2) + 1.
func (c *Core) majority() int {
	return c.N()/2 + 1
}

// Snapshot is a read-only view of the election state, used by the chunk
// table's leader gate in cmd/databasenode and by tests.
type Snapshot struct {
	CurrentTerm int64
	Leader      wire.NodeID
	HasLeader   bool
	IsLeader    bool
}

func (c *Core) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{CurrentTerm: c.currentTerm, Leader: c.leader, HasLeader: c.hasLeader, IsLeader: c.isLeader}
}

// RunMaintenance fires every ~1s; if there's no known leader and the
// back-off has elapsed, it starts a vote (spec §4.E).
func (c *Core) RunMaintenance(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.RLock()
			shouldVote := !c.hasLeader && time.Now().After(c.nextCandidateAt)
			c.mu.RUnlock()
			if shouldVote {
				c.InitiateVote(ctx)
			}
		}
	}
}

// InitiateVote runs the candidate side of an election round (spec §4.E).
func (c *Core) InitiateVote(ctx context.Context) {
	c.mu.Lock()
	c.currentTerm++
	c.votedThisTerm = true
	termAtAttempt := c.currentTerm
	c.mu.Unlock()

	applog.Logf(applog.Info, "[election] %s initiating vote for term %d", c.self, termAtAttempt)

	type reply struct {
		yes       bool
		term      int64
		responded bool
	}
	replies := make([]reply, len(c.controllers))
	var wg sync.WaitGroup
	for i, peer := range c.controllers {
		wg.Add(1)
		go func(i int, peer wire.NodeID) {
			defer wg.Done()
			payload := document.New().Set("CurrentTerm", document.Int64(termAtAttempt))
			respCh := make(chan *wire.Message, 1)
			req := wire.NewRequest(peer, wire.Outgoing, wire.KindInitiateLeaderVote, payload, false, 5*time.Second,
				func(resp *wire.Message) { respCh <- resp })
			if err := c.engine.Send(wire.Outgoing, peer, req); err != nil {
				return
			}
			select {
			case resp := <-respCh:
				if resp == nil {
					return
				}
				vote, _ := resp.Payload.Get("Vote")
				voteStr, _ := vote.AsString()
				replies[i].responded = true
				replies[i].yes = voteStr == "Yes"
				if !replies[i].yes {
					if tv, ok := resp.Payload.Get("CurrentTerm"); ok {
						replies[i].term, _ = tv.AsInt64()
					}
				}
			case <-time.After(6 * time.Second):
			case <-ctx.Done():
			}
		}(i, peer)
	}
	wg.Wait()

	yesVotes := 1 // self-vote
	higherTerm := int64(0)
	sawHigher := false
	for _, r := range replies {
		if !r.responded {
			continue
		}
		if r.yes {
			yesVotes++
		} else if r.term > termAtAttempt {
			sawHigher = true
			if r.term > higherTerm {
				higherTerm = r.term
			}
		}
	}

	c.mu.Lock()
	if sawHigher {
		// currentTerm is monotone (spec §8): only ever raise it, never
		// overwrite it with a reply term that's stale relative to a
		// currentTerm some concurrent vote-handler has since advanced.
		if higherTerm > c.currentTerm {
			c.currentTerm = higherTerm
		}
		c.votedThisTerm = false
		c.resetBackoffLocked()
		c.mu.Unlock()
		return
	}
	becameLeader := termAtAttempt == c.currentTerm && yesVotes >= c.majority()
	if becameLeader {
		c.leader = c.self
		c.hasLeader = true
		c.isLeader = true
	} else {
		c.resetBackoffLocked()
	}
	c.mu.Unlock()

	// broadcastNewLeader takes the registry's locks and sends on every
	// connected peer; it must run with c.mu released (spec §5: only the
	// Chord stabilizer is permitted to hold its lock across a Send).
	if becameLeader {
		applog.Logf(applog.Info, "[election] %s became leader for term %d", c.self, termAtAttempt)
		c.broadcastNewLeader(c.self.String(), termAtAttempt)
	}
}

func (c *Core) broadcastNewLeader(leaderName string, term int64) {
	payload := document.New().
		Set("Leader", document.String(leaderName)).
		Set("CurrentTerm", document.Int64(term))
	for _, key := range c.engine.Registry().ConnectedOutgoing() {
		msg := wire.NewOneWay(key, wire.Outgoing, wire.KindNewLeader, payload, false)
		c.engine.Send(wire.Outgoing, key, msg)
	}
	for _, key := range c.engine.Registry().ConnectedIncoming() {
		msg := wire.NewOneWay(key, wire.Incoming, wire.KindNewLeader, payload, false)
		c.engine.Send(wire.Incoming, key, msg)
	}
}

// handleInitiateLeaderVote answers an InitiateLeaderVote request, per the
// "vote handling" rules in spec §4.E.
func (c *Core) handleInitiateLeaderVote(msg *wire.Message) bool {
	tv, _ := msg.Payload.Get("CurrentTerm")
	t, _ := tv.AsInt64()

	c.mu.Lock()
	var payload *document.Document
	if t > c.currentTerm || (t == c.currentTerm && !c.votedThisTerm) {
		c.currentTerm = t
		c.votedThisTerm = true
		payload = document.New().Set("Vote", document.String("Yes"))
	} else {
		payload = document.New().
			Set("Vote", document.String("No")).
			Set("CurrentTerm", document.Int64(c.currentTerm))
	}
	c.mu.Unlock()

	reply := wire.NewReply(msg, wire.KindLeaderVoteResponse, payload)
	c.engine.Send(msg.Direction, msg.Address, reply)
	return true
}

// handleNewLeader applies the rules in spec §4.E.
func (c *Core) handleNewLeader(msg *wire.Message) bool {
	leaderVal, _ := msg.Payload.Get("Leader")
	leaderName, _ := leaderVal.AsString()
	termVal, _ := msg.Payload.Get("CurrentTerm")
	t, _ := termVal.AsInt64()

	c.mu.Lock()
	defer c.mu.Unlock()
	if leaderName == "" {
		c.hasLeader = false
		c.leader = wire.NodeID{}
		c.isLeader = false
		return true
	}
	if t == c.currentTerm {
		parsed, err := wire.ParseNodeID(leaderName)
		if err != nil {
			applog.Logf(applog.Warning, "[election] malformed NewLeader.Leader %q", leaderName)
			return true
		}
		c.leader = parsed
		c.hasLeader = true
		c.isLeader = false
	}
	return true
}

// handleLeaderRequest answers LeaderRequest with the current leader (spec
// §4.E), used by non-controller nodes to discover the leader.
func (c *Core) handleLeaderRequest(msg *wire.Message) bool {
	c.mu.RLock()
	name := ""
	if c.hasLeader {
		name = c.leader.String()
	}
	term := c.currentTerm
	c.mu.RUnlock()

	payload := document.New().
		Set("Leader", document.String(name)).
		Set("CurrentTerm", document.Int64(term))
	reply := wire.NewReply(msg, wire.KindLeaderResponse, payload)
	c.engine.Send(msg.Direction, msg.Address, reply)
	return true
}

// handleDisconnect implements the disconnection policy of spec §4.E.
func (c *Core) handleDisconnect(peer wire.NodeID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.hasLeader && c.leader.Equal(peer) {
		c.hasLeader = false
		c.leader = wire.NodeID{}
		c.resetBackoffLocked()
	}
	if c.isLeader {
		connected := c.connectedControllerCountLocked()
		if connected < c.N()/2 {
			c.isLeader = false
			c.hasLeader = false
			c.leader = wire.NodeID{}
			c.resetBackoffLocked()
			term := c.currentTerm
			go c.broadcastNewLeader("", term)
		}
	}
}

func (c *Core) connectedControllerCountLocked() int {
	connected := map[wire.NodeID]struct{}{}
	for _, k := range c.engine.Registry().ConnectedOutgoing() {
		connected[k] = struct{}{}
	}
	for _, k := range c.engine.Registry().ConnectedIncoming() {
		connected[k] = struct{}{}
	}
	n := 0
	for _, ctrl := range c.controllers {
		if _, ok := connected[ctrl]; ok {
			n++
		}
	}
	return n
}

// resetBackoffLocked draws nextCandidateAt = now + random(k, k*N) seconds
// (spec §4.E). Caller must hold c.mu.
func (c *Core) resetBackoffLocked() {
	n := c.N()
	if n < 1 {
		n = 1
	}
	lo := backoffBase
	hi := backoffBase * time.Duration(n)
	if hi <= lo {
		c.nextCandidateAt = time.Now().Add(lo)
		return
	}
	jitter := time.Duration(c.rng.Int63n(int64(hi - lo)))
	c.nextCandidateAt = time.Now().Add(lo + jitter)
}
