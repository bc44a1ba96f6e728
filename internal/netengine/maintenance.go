package netengine

import (
	"context"
	"fmt"
	"time"

	"github.com/CaptainCow95/DatabaseV2/internal/applog"
	"github.com/CaptainCow95/DatabaseV2/internal/document"
	"github.com/CaptainCow95/DatabaseV2/internal/wire"
)

// maintenanceTick and responsiveness match spec §4.D: "every ~5s with ~1s
// responsiveness" — the loop wakes every responsiveness interval to check
// ctx.Done() and only does the expensive work once per tick.
const (
	maintenanceTick      = 5 * time.Second
	maintenanceResponsive = 1 * time.Second
)

// RunMaintenance starts the §4.C/§4.D maintenance daemon: it expires stale
// waiters and reconnects desired peers. It blocks until ctx is cancelled, so
// callers run it in its own goroutine.
func (e *Engine) RunMaintenance(ctx context.Context) {
	last := time.Time{}
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(maintenanceResponsive):
		}
		if time.Since(last) < maintenanceTick {
			continue
		}
		last = time.Now()
		e.expireWaiters()
		e.reconnectDesired(ctx)
	}
}

// expireWaiters drops any waiter whose deadline has passed, transitioning it
// to ResponseTimeout (spec §4.C).
func (e *Engine) expireWaiters() {
	now := time.Now()
	e.waitersMu.Lock()
	var timedOut []*wire.Message
	for id, m := range e.waiters {
		if now.After(m.ExpireAt) {
			m.Status = wire.ResponseTimeout
			timedOut = append(timedOut, m)
			delete(e.waiters, id)
		}
	}
	e.waitersMu.Unlock()
	for _, m := range timedOut {
		if m.OnResponse != nil {
			e.deliverCh <- m
		}
	}
}

// reconnectDesired attempts OpenOutgoing + a JoinRequest handshake for every
// peer in the desired set that doesn't currently have an outgoing
// connection (spec §4.C).
func (e *Engine) reconnectDesired(ctx context.Context) {
	for _, peer := range e.reg.DesiredSnapshot() {
		if _, ok := e.reg.Get(wire.Outgoing, peer); ok {
			continue
		}
		if err := e.Join(ctx, peer); err != nil {
			applog.Logf(applog.Debug, "[netengine] reconnect to %s failed: %v", peer, err)
		}
	}
}

// Join drives the active side of the join handshake described in spec
// §4.C: open an outgoing socket, send a JoinRequest advertising this node's
// own address, block until answered, and mark the connection Connected on
// success.
func (e *Engine) Join(ctx context.Context, target wire.NodeID) error {
	if _, err := e.reg.OpenOutgoing(target); err != nil {
		return err
	}
	payload := document.New().Set("Address", document.String(e.self.String()))
	req := wire.NewRequest(target, wire.Outgoing, wire.KindJoinRequest, payload, false, wire.DefaultRequestTimeout, nil)
	if err := e.Send(wire.Outgoing, target, req); err != nil {
		return err
	}
	e.BlockUntilDone(ctx, req)
	if req.Status == wire.ResponseReceived {
		e.reg.MarkEstablished(wire.Outgoing, target)
		return nil
	}
	e.MarkDisconnected(wire.Outgoing, target)
	return fmt.Errorf("netengine: join handshake with %s did not complete (status=%v)", target, req.Status)
}
