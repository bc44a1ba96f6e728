package wire

import (
	"testing"

	"github.com/CaptainCow95/DatabaseV2/internal/document"
)

func TestFrameRoundTrip(t *testing.T) {
	payload := document.New().Set("Address", document.String("peer1.example:5001"))
	f := &Frame{
		ID:                 42,
		InResponseTo:       0,
		WaitingForResponse: true,
		Kind:               KindJoinRequest,
		Payload:            payload,
	}

	encoded, err := Encode(f)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, consumed, complete, err := TryDecodeFrame(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !complete {
		t.Fatalf("expected a complete frame")
	}
	if consumed != len(encoded) {
		t.Fatalf("consumed %d, want %d", consumed, len(encoded))
	}
	if decoded.ID != f.ID || decoded.InResponseTo != f.InResponseTo ||
		decoded.WaitingForResponse != f.WaitingForResponse || decoded.Kind != f.Kind {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", decoded, f)
	}
	addr, ok := decoded.Payload.Get("Address")
	if !ok {
		t.Fatalf("missing Address field after round-trip")
	}
	if s, _ := addr.AsString(); s != "peer1.example:5001" {
		t.Fatalf("got Address=%q", s)
	}
}

func TestTryDecodeFramePartial(t *testing.T) {
	f := &Frame{Kind: KindHeartbeat, Payload: document.New()}
	encoded, err := Encode(f)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	// Fewer than 4 bytes: no length prefix yet.
	if _, _, complete, err := TryDecodeFrame(encoded[:2]); err != nil || complete {
		t.Fatalf("expected incomplete with no error on short prefix, got complete=%v err=%v", complete, err)
	}

	// Full length prefix but a truncated body: still incomplete, not an error.
	if _, _, complete, err := TryDecodeFrame(encoded[:len(encoded)-1]); err != nil || complete {
		t.Fatalf("expected incomplete with no error on truncated body, got complete=%v err=%v", complete, err)
	}

	// Two frames back to back: only the first is consumed, remainder untouched.
	buf := append(append([]byte{}, encoded...), encoded...)
	_, consumed, complete, err := TryDecodeFrame(buf)
	if err != nil || !complete {
		t.Fatalf("expected first frame to decode cleanly, got complete=%v err=%v", complete, err)
	}
	if consumed != len(encoded) {
		t.Fatalf("consumed %d, want %d (second frame must stay buffered)", consumed, len(encoded))
	}
}

func TestNodeIDCanonicalForm(t *testing.T) {
	n := NewNodeID("db1.example.com", 5000)
	if got, want := n.String(), "db1.example.com:5000"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	parsed, err := ParseNodeID("db1.example.com:5000")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !parsed.Equal(n) {
		t.Fatalf("parsed %v != built %v", parsed, n)
	}
}

func TestIDCounterSkipsZeroOnWrap(t *testing.T) {
	c := &IDGenerator{next: 0xFFFFFFFF}
	first := c.Next()
	if first == 0 {
		t.Fatalf("id counter must skip zero on wraparound")
	}
}
