package chord

import (
	"testing"

	"github.com/CaptainCow95/DatabaseV2/internal/netengine"
	"github.com/CaptainCow95/DatabaseV2/internal/registry"
	"github.com/CaptainCow95/DatabaseV2/internal/wire"
)

func TestBetweenWrappingCase(t *testing.T) {
	// min > max: between(a, min, max) == a > min || a < max.
	cases := []struct {
		a, min, max uint32
		want        bool
	}{
		{a: 10, min: 20, max: 5, want: false},  // 10 is neither > 20 nor < 5
		{a: 25, min: 20, max: 5, want: true},   // 25 > 20
		{a: 3, min: 20, max: 5, want: true},    // 3 < 5
		{a: 20, min: 20, max: 5, want: false},  // boundary excluded
		{a: 5, min: 20, max: 5, want: false},   // boundary excluded
	}
	for _, tc := range cases {
		if got := between(tc.a, tc.min, tc.max); got != tc.want {
			t.Errorf("between(%d,%d,%d) = %v, want %v", tc.a, tc.min, tc.max, got, tc.want)
		}
	}
}

func TestBetweenNonWrappingCase(t *testing.T) {
	cases := []struct {
		a, min, max uint32
		want        bool
	}{
		{a: 15, min: 10, max: 20, want: true},
		{a: 5, min: 10, max: 20, want: false},
		{a: 25, min: 10, max: 20, want: false},
		{a: 10, min: 10, max: 20, want: false}, // boundary excluded
		{a: 20, min: 10, max: 20, want: false}, // boundary excluded
	}
	for _, tc := range cases {
		if got := between(tc.a, tc.min, tc.max); got != tc.want {
			t.Errorf("between(%d,%d,%d) = %v, want %v", tc.a, tc.min, tc.max, got, tc.want)
		}
	}
}

func TestBetweenExhaustiveSmallDomain(t *testing.T) {
	// Exhaustively checks the defining property on a small domain, standing
	// in for the unbounded uint32 space (spec §8's testable property).
	const mod = 16
	for min := uint32(0); min < mod; min++ {
		for max := uint32(0); max < mod; max++ {
			for a := uint32(0); a < mod; a++ {
				got := between(a, min, max)
				var want bool
				if min < max {
					want = min < a && a < max
				} else {
					want = a > min || a < max
				}
				if got != want {
					t.Fatalf("between(%d,%d,%d) = %v, want %v", a, min, max, got, want)
				}
			}
		}
	}
}

func newTestCore(t *testing.T, self wire.NodeID) *Core {
	t.Helper()
	reg := registry.New()
	eng := netengine.New(self, reg)
	return New(eng, self)
}

func TestFreshCoreIsSingleNodeRing(t *testing.T) {
	self := wire.NewNodeID("a.example", 5000)
	c := newTestCore(t, self)
	snap := c.Snapshot()
	if !snap.Successor.Addr.Equal(self) {
		t.Fatalf("fresh core's successor should be itself, got %v", snap.Successor.Addr)
	}
	if snap.HasPred {
		t.Fatalf("fresh core should have no predecessor")
	}
}

func TestClosestPrecedingNodeFallsBackToSuccessor(t *testing.T) {
	self := wire.NewNodeID("a.example", 5000)
	c := newTestCore(t, self)
	// no fingers populated: must fall back to the successor
	got := c.ClosestPrecedingNode(12345)
	if !got.Addr.Equal(c.Snapshot().Successor.Addr) {
		t.Fatalf("expected fallback to successor, got %v", got.Addr)
	}
}

func TestDisconnectClearsMatchingSlots(t *testing.T) {
	self := wire.NewNodeID("a.example", 5000)
	c := newTestCore(t, self)
	peer := wire.NewNodeID("b.example", 5000)

	c.mu.Lock()
	c.predecessor = Node{Addr: peer, ChordID: 42}
	c.hasPred = true
	c.successor = Node{Addr: peer, ChordID: 42}
	c.fingers[3] = Node{Addr: peer, ChordID: 42}
	c.mu.Unlock()

	c.handleDisconnect(peer)

	snap := c.Snapshot()
	if snap.HasPred {
		t.Fatalf("predecessor should be cleared after disconnect")
	}
	if !snap.Successor.Addr.Equal(self) {
		t.Fatalf("successor should reset to self after disconnect, got %v", snap.Successor.Addr)
	}
	c.mu.RLock()
	finger := c.fingers[3]
	c.mu.RUnlock()
	if !finger.empty() {
		t.Fatalf("finger entry matching the disconnected peer should be cleared")
	}
}
