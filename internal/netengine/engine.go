// Package netengine implements the message engine described in spec §4.C:
// non-blocking Send with a waiter map keyed by message id, a receiver loop
// that drains per-connection buffers and dispatches frames, and the
// maintenance/heartbeat daemons of §4.D. It is the one package that touches
// the wire codec, the connection registry, and the worker pools together.
package netengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/CaptainCow95/DatabaseV2/internal/applog"
	"github.com/CaptainCow95/DatabaseV2/internal/document"
	"github.com/CaptainCow95/DatabaseV2/internal/registry"
	"github.com/CaptainCow95/DatabaseV2/internal/wire"
)

// Handler is a kind-scoped message subscriber (spec §4.C "the network's
// generic MessageReceived subscribers"). It returns true if it consumed the
// message; returning false lets the dispatch fall through to the next
// registered handler for the same kind.
type Handler func(*wire.Message) bool

// sendWorkers/deliverWorkers size the two bounded pools required by §5.
const (
	sendWorkers    = 8
	deliverWorkers = 8
	bufReadSize    = 4096
)

// Engine is one node's message engine: the connection registry, the waiter
// map, and the daemons that keep both alive (spec §4.C/§4.D).
type Engine struct {
	self wire.NodeID
	reg  *registry.Registry
	ids  *wire.IDGenerator

	waitersMu sync.Mutex
	waiters   map[uint32]*wire.Message

	handlersMu sync.Mutex
	handlers   map[string][]Handler

	disconnectMu  sync.Mutex
	disconnectSub []func(wire.NodeID)

	sendCh    chan sendJob
	deliverCh chan *wire.Message

	wg sync.WaitGroup
}

type sendJob struct {
	conn *registry.Connection
	key  wire.NodeID
	dir  wire.Direction
	msg  *wire.Message
}

// New creates an engine for the given local node identity, backed by reg.
func New(self wire.NodeID, reg *registry.Registry) *Engine {
	e := &Engine{
		self:      self,
		reg:       reg,
		ids:       wire.NewIDGenerator(),
		waiters:   make(map[uint32]*wire.Message),
		handlers:  make(map[string][]Handler),
		sendCh:    make(chan sendJob, 64),
		deliverCh: make(chan *wire.Message, 64),
	}
	return e
}

// RegisterHandler subscribes fn to messages of the given kind, in addition
// to the built-in JoinRequest/response-waiter dispatch (spec §4.C).
func (e *Engine) RegisterHandler(kind string, fn Handler) {
	e.handlersMu.Lock()
	defer e.handlersMu.Unlock()
	e.handlers[kind] = append(e.handlers[kind], fn)
}

// OnDisconnect registers a callback invoked whenever MarkDisconnected fires
// for a peer, used by the election and chord cores to run their own
// disconnection policies (spec §4.E/§4.F).
func (e *Engine) OnDisconnect(fn func(wire.NodeID)) {
	e.disconnectMu.Lock()
	defer e.disconnectMu.Unlock()
	e.disconnectSub = append(e.disconnectSub, fn)
}

// Start launches the send pool, the delivery pool, and the receiver loop.
// The maintenance and heartbeat daemons are started separately (see
// maintenance.go, heartbeat.go) so callers decide whether to run them.
func (e *Engine) Start(ctx context.Context) {
	for i := 0; i < sendWorkers; i++ {
		e.wg.Add(1)
		go e.sendWorker(ctx)
	}
	for i := 0; i < deliverWorkers; i++ {
		e.wg.Add(1)
		go e.deliverWorker(ctx)
	}
	e.wg.Add(1)
	go e.receiveLoop(ctx)
}

// Wait blocks until every goroutine started by Start has returned, used by
// tests to confirm a clean stop after ctx is cancelled.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Send hands msg to the send worker pool without blocking the caller (spec
// §4.C). If msg.WaitingForResponse, the waiter entry is inserted *before*
// the frame is written to the socket, per the ordering guarantee in §5.
func (e *Engine) Send(dir wire.Direction, key wire.NodeID, msg *wire.Message) error {
	conn, ok := e.reg.Get(dir, key)
	if !ok {
		return fmt.Errorf("netengine: no %s connection for %s", dir, key)
	}
	if msg.RequireSecureConnection && conn.GetStatus() != registry.Connected {
		return fmt.Errorf("netengine: %s connection to %s is not yet established", dir, key)
	}
	msg.ID = e.ids.Next()
	msg.Direction = dir
	msg.Address = key
	msg.Status = wire.Sending

	if msg.WaitingForResponse {
		if msg.ExpireAt.IsZero() {
			msg.ExpireAt = time.Now().Add(wire.DefaultRequestTimeout)
		}
		e.waitersMu.Lock()
		e.waiters[msg.ID] = msg
		e.waitersMu.Unlock()
		msg.Status = wire.WaitingForResponse
	}

	select {
	case e.sendCh <- sendJob{conn: conn, key: key, dir: dir, msg: msg}:
	default:
		// pool saturated: send synchronously rather than drop the message.
		e.writeFrame(dir, key, conn, msg)
	}
	return nil
}

// BlockUntilDone spins with a small responsive sleep until msg leaves the
// Sending/WaitingForResponse states (spec §4.C).
func (e *Engine) BlockUntilDone(ctx context.Context, msg *wire.Message) {
	for {
		e.waitersMu.Lock()
		status := msg.Status
		e.waitersMu.Unlock()
		if status != wire.Sending && status != wire.WaitingForResponse {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (e *Engine) sendWorker(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-e.sendCh:
			if !ok {
				return
			}
			e.writeFrame(job.dir, job.key, job.conn, job.msg)
		}
	}
}

func (e *Engine) writeFrame(dir wire.Direction, key wire.NodeID, conn *registry.Connection, msg *wire.Message) {
	frame := wire.ToFrame(msg)
	encoded, err := wire.Encode(frame)
	if err != nil {
		applog.Logf(applog.Error, "[netengine] encode failure for %s: %v", key, err)
		e.failSend(dir, key, msg)
		return
	}
	conn.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if _, err := conn.Conn.Write(encoded); err != nil {
		applog.Logf(applog.Warning, "[netengine] write failure to %s: %v", key, err)
		e.failSend(dir, key, msg)
		return
	}
	if !msg.WaitingForResponse {
		msg.Status = wire.Sent
	}
}

// failSend implements the Send-failure half of spec §4.C: status becomes
// SendingFailure, the waiter entry (if any) is removed, and the connection
// is marked disconnected.
func (e *Engine) failSend(dir wire.Direction, key wire.NodeID, msg *wire.Message) {
	msg.Status = wire.SendingFailure
	e.waitersMu.Lock()
	delete(e.waiters, msg.ID)
	e.waitersMu.Unlock()
	e.MarkDisconnected(dir, key)
}

// MarkDisconnected implements the disconnection fan-out described at the end
// of §4.C's maintenance-loop bullet: the registry entry flips to
// Disconnected, every waiter addressed to that peer fails, and every
// registered disconnect subscriber (election/chord cores) is invoked.
func (e *Engine) MarkDisconnected(dir wire.Direction, key wire.NodeID) {
	e.reg.MarkDisconnected(dir, key)

	e.waitersMu.Lock()
	var failed []*wire.Message
	for id, m := range e.waiters {
		if m.Address.Equal(key) && m.Direction == dir {
			m.Status = wire.ResponseFailure
			failed = append(failed, m)
			delete(e.waiters, id)
		}
	}
	e.waitersMu.Unlock()
	for _, m := range failed {
		if m.OnResponse != nil {
			e.deliverCh <- m
		}
	}

	e.disconnectMu.Lock()
	subs := append([]func(wire.NodeID){}, e.disconnectSub...)
	e.disconnectMu.Unlock()
	for _, fn := range subs {
		fn(key)
	}
}

// receiveLoop polls every registered connection, reads available bytes into
// its buffer, extracts complete frames, and dispatches them (spec §4.C).
func (e *Engine) receiveLoop(ctx context.Context) {
	defer e.wg.Done()
	buf := make([]byte, bufReadSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		for _, entry := range e.reg.AllConnections() {
			if entry.Conn.Conn == nil {
				continue
			}
			entry.Conn.Conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
			n, err := entry.Conn.Conn.Read(buf)
			if n > 0 {
				entry.Conn.AppendBuf(buf[:n])
				for _, f := range entry.Conn.DrainFrames() {
					msg := wire.FromFrame(f, entry.Key, entry.Dir)
					e.dispatch(entry.Dir, entry.Key, msg)
				}
			}
			if err != nil && !isTimeout(err) {
				e.MarkDisconnected(entry.Dir, entry.Key)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	t, ok := err.(timeouter)
	return ok && t.Timeout()
}

// dispatch implements the three-way fork in spec §4.C: waiter completion,
// the built-in JoinRequest handshake reply, or hand-off to user/fallback
// handlers.
func (e *Engine) dispatch(dir wire.Direction, key wire.NodeID, msg *wire.Message) {
	if msg.InResponseTo != 0 {
		e.waitersMu.Lock()
		waiter, ok := e.waiters[msg.InResponseTo]
		if ok {
			delete(e.waiters, msg.InResponseTo)
		}
		e.waitersMu.Unlock()
		if ok {
			waiter.Response = msg
			waiter.Status = wire.ResponseReceived
			if waiter.OnResponse != nil {
				e.deliverCh <- waiter
			}
			return
		}
	}

	if msg.Kind == wire.KindJoinRequest {
		e.handleJoinRequest(dir, key, msg)
		return
	}

	e.deliverCh <- msg
}

func (e *Engine) handleJoinRequest(dir wire.Direction, provisional wire.NodeID, msg *wire.Message) {
	addrVal, ok := msg.Payload.Get("Address")
	if !ok {
		applog.Logf(applog.Warning, "[netengine] JoinRequest missing Address from %s", provisional)
		return
	}
	addrStr, _ := addrVal.AsString()
	advertised, err := wire.ParseNodeID(addrStr)
	if err != nil {
		applog.Logf(applog.Warning, "[netengine] JoinRequest malformed Address %q from %s", addrStr, provisional)
		return
	}
	if err := e.reg.RenameIncoming(provisional, advertised); err != nil {
		applog.Logf(applog.Warning, "[netengine] %v", err)
		return
	}
	e.reg.MarkEstablished(wire.Incoming, advertised)

	reply := wire.NewReply(msg, wire.KindJoinResult, document.New())
	e.Send(wire.Incoming, advertised, reply)
}

// deliverWorker runs a completed waiter's OnResponse callback, or otherwise
// offers the message to the handlers registered for its kind, in
// registration order, until one consumes it (spec §4.C).
func (e *Engine) deliverWorker(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-e.deliverCh:
			if !ok {
				return
			}
			e.deliverOne(msg)
		}
	}
}

func (e *Engine) deliverOne(msg *wire.Message) {
	if msg.OnResponse != nil && (msg.Status == wire.ResponseReceived || msg.Status == wire.ResponseFailure || msg.Status == wire.ResponseTimeout) {
		msg.OnResponse(msg.Response)
		return
	}

	e.handlersMu.Lock()
	hs := append([]Handler{}, e.handlers[msg.Kind]...)
	e.handlersMu.Unlock()
	for _, h := range hs {
		if h(msg) {
			return
		}
	}
	applog.Logf(applog.Debug, "[netengine] no handler consumed %s from %s", msg.Kind, msg.Address)
}

// Self returns the local node identity the engine advertises in handshakes.
func (e *Engine) Self() wire.NodeID { return e.self }

// Registry exposes the underlying connection registry to higher layers
// (election, chord) that read connection state directly (Get,
// ConnectedOutgoing, ConnectedIncoming).
func (e *Engine) Registry() *registry.Registry { return e.reg }
