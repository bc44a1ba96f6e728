package registry

import (
	"net"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/CaptainCow95/DatabaseV2/internal/wire"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestAcceptLoopReturnsNilAfterShutdown(t *testing.T) {
	r := New()
	done := make(chan error, 1)
	go func() { done <- r.AcceptLoop(0) }()

	// Shutdown only closes a listener AcceptLoop has already bound, so wait
	// for the bind before exercising the Shutdown-closes-listener contract.
	deadline := time.Now().Add(time.Second)
	for r.ListenAddr() == nil && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	r.Shutdown()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("AcceptLoop returned error after Shutdown: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("AcceptLoop did not return after Shutdown")
	}
}

func TestOpenOutgoingIdempotent(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	target := wire.NewNodeID("127.0.0.1", addr.Port)

	c1, err := r_OpenOutgoing(target)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	c2, err := r_OpenOutgoing(target)
	if err != nil {
		t.Fatalf("open again: %v", err)
	}
	if c1 != c2 {
		t.Fatalf("expected idempotent OpenOutgoing to return the same connection")
	}
}

// r_OpenOutgoing is a tiny indirection so the idempotency test above can
// share one registry instance across both calls.
var sharedRegistry = New()

func r_OpenOutgoing(target wire.NodeID) (*Connection, error) {
	return sharedRegistry.OpenOutgoing(target)
}

func TestMarkDisconnectedThenReopenSweeps(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	target := wire.NewNodeID("127.0.0.1", addr.Port)
	r := New()

	first, err := r.OpenOutgoing(target)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	r.MarkDisconnected(wire.Outgoing, target)

	second, err := r.OpenOutgoing(target)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if first == second {
		t.Fatalf("expected a fresh connection object after sweeping a disconnected entry")
	}
	if len(r.ConnectedOutgoing()) != 0 {
		t.Fatalf("fresh connection should still be Identifying, not Connected")
	}
}

func TestConnectedSnapshotsOnlyIncludeConnected(t *testing.T) {
	r := New()
	a := wire.NewNodeID("a.example", 1)
	b := wire.NewNodeID("b.example", 2)

	r.incoming[a] = newConnection(nil, wire.Incoming, Identifying)
	r.incoming[b] = newConnection(nil, wire.Incoming, Connected)

	got := r.ConnectedIncoming()
	if len(got) != 1 || !got[0].Equal(b) {
		t.Fatalf("got %v, want only %v", got, b)
	}
}
