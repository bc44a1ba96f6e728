package netengine

import (
	"context"
	"net"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/CaptainCow95/DatabaseV2/internal/document"
	"github.com/CaptainCow95/DatabaseV2/internal/registry"
	"github.com/CaptainCow95/DatabaseV2/internal/wire"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// waitFor polls cond until it returns true or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestJoinHandshakeEstablishesBothSides(t *testing.T) {
	regA := registry.New()
	acceptDone := make(chan struct{})
	go func() {
		_ = regA.AcceptLoop(0)
		close(acceptDone)
	}()
	waitFor(t, time.Second, func() bool { return regA.ListenAddr() != nil })
	portA := portOf(t, regA)

	selfA := wire.NewNodeID("localhost", portA)
	engineA := New(selfA, regA)

	regB := registry.New()
	// Engine B doesn't need its own accept loop for this scenario; it only
	// dials out.
	selfB := wire.NewNodeID("localhost", 0)
	engineB := New(selfB, regB)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engineA.Start(ctx)
	engineB.Start(ctx)

	target := wire.NewNodeID("127.0.0.1", portA)
	if err := engineB.Join(ctx, target); err != nil {
		t.Fatalf("join: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		return len(regB.ConnectedOutgoing()) == 1
	})
	waitFor(t, 2*time.Second, func() bool {
		return len(regA.ConnectedIncoming()) == 1
	})

	cancel()
	regA.Shutdown()
	<-acceptDone
	engineA.Wait()
	engineB.Wait()
}

func portOf(t *testing.T, reg *registry.Registry) int {
	t.Helper()
	addr, ok := reg.ListenAddr().(*net.TCPAddr)
	if !ok {
		t.Fatalf("listener address %v is not a *net.TCPAddr", reg.ListenAddr())
	}
	return addr.Port
}

func TestBlockUntilDoneReturnsOncePastSendingStates(t *testing.T) {
	reg := registry.New()
	self := wire.NewNodeID("localhost", 5999)
	e := New(self, reg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer func() { cancel(); e.Wait() }()

	target := wire.NewNodeID("peer.example", 9999)
	msg := wire.NewRequest(target, wire.Outgoing, wire.KindHeartbeat, document.New(), false, time.Minute, nil)
	msg.Status = wire.WaitingForResponse

	go func() {
		time.Sleep(120 * time.Millisecond)
		e.waitersMu.Lock()
		msg.Status = wire.ResponseReceived
		e.waitersMu.Unlock()
	}()

	start := time.Now()
	e.BlockUntilDone(ctx, msg)
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Fatalf("returned too early (%s) — should have waited for the status flip", elapsed)
	} else if elapsed > 2*time.Second {
		t.Fatalf("returned too late (%s)", elapsed)
	}
}

func TestMarkDisconnectedFailsMatchingWaiters(t *testing.T) {
	reg := registry.New()
	self := wire.NewNodeID("localhost", 6000)
	e := New(self, reg)

	peer := wire.NewNodeID("peer.example", 7000)
	resultCh := make(chan wire.Status, 1)
	msg := wire.NewRequest(peer, wire.Outgoing, wire.KindLeaderRequest, document.New(), false, time.Minute, func(resp *wire.Message) {
		resultCh <- wire.ResponseFailure
	})
	msg.ID = 99
	e.waitersMu.Lock()
	e.waiters[msg.ID] = msg
	e.waitersMu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	e.Start(ctx)
	defer func() { cancel(); e.Wait() }()

	e.MarkDisconnected(wire.Outgoing, peer)

	select {
	case <-resultCh:
	case <-time.After(time.Second):
		t.Fatal("onResponse was not invoked after MarkDisconnected")
	}
	if msg.Status != wire.ResponseFailure {
		t.Fatalf("got status %v, want ResponseFailure", msg.Status)
	}

	e.waitersMu.Lock()
	_, stillPresent := e.waiters[msg.ID]
	e.waitersMu.Unlock()
	if stillPresent {
		t.Fatalf("waiter should have been removed")
	}
}

func TestOnDisconnectSubscriberInvoked(t *testing.T) {
	reg := registry.New()
	self := wire.NewNodeID("localhost", 6100)
	e := New(self, reg)

	notified := make(chan wire.NodeID, 1)
	e.OnDisconnect(func(p wire.NodeID) { notified <- p })

	ctx, cancel := context.WithCancel(context.Background())
	e.Start(ctx)
	defer func() { cancel(); e.Wait() }()

	peer := wire.NewNodeID("peer2.example", 7100)
	e.MarkDisconnected(wire.Incoming, peer)

	select {
	case got := <-notified:
		if !got.Equal(peer) {
			t.Fatalf("got %v, want %v", got, peer)
		}
	case <-time.After(time.Second):
		t.Fatal("disconnect subscriber was not invoked")
	}
}
