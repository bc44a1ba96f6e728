package wire

import (
	"sync/atomic"
	"time"

	"github.com/CaptainCow95/DatabaseV2/internal/document"
)

// Direction identifies which registry (incoming or outgoing) holds the
// connection a message travels over (spec §3).
type Direction int

const (
	Incoming Direction = iota
	Outgoing
)

func (d Direction) String() string {
	if d == Incoming {
		return "incoming"
	}
	return "outgoing"
}

// Status is the message lifecycle described in spec §3.
type Status int

const (
	Created Status = iota
	Sending
	Sent
	SendingFailure
	WaitingForResponse
	ResponseReceived
	ResponseFailure
	ResponseTimeout
)

// Reserved message kinds (spec §6).
const (
	KindJoinRequest              = "JoinRequest"
	KindJoinResult               = "JoinResult"
	KindHeartbeat                = "Heartbeat"
	KindInitiateLeaderVote       = "InitiateLeaderVote"
	KindLeaderVoteResponse       = "LeaderVoteResponse"
	KindNewLeader                = "NewLeader"
	KindLeaderRequest            = "LeaderRequest"
	KindLeaderResponse           = "LeaderResponse"
	KindChordSuccessorRequest    = "ChordSuccessorRequest"
	KindChordSuccessorResponse   = "ChordSuccessorResponse"
	KindChordPredecessorRequest  = "ChordPredecessorRequest"
	KindChordPredecessorResponse = "ChordPredecessorResponse"
	KindChordNotify              = "ChordNotify"
)

// IDGenerator is the injected, atomic, per-process message id generator
// described by the design note in spec §9 ("replace [global mutable state]
// with an injected generator... must be atomic/monotone and skip zero on
// wrap"). Each Engine owns one instance; there is no package-level global.
type IDGenerator struct {
	next uint32
}

// NewIDGenerator starts the generator so the first assigned id is 1 (0 is
// reserved for "no response").
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{next: 0}
}

// Next returns the next id, skipping zero on 32-bit wraparound.
func (c *IDGenerator) Next() uint32 {
	for {
		v := atomic.AddUint32(&c.next, 1)
		if v != 0 {
			return v
		}
		// wrapped onto zero: bump again
	}
}

// Message is the immutable-by-convention unit of exchange described in
// spec §3. Runtime-only fields (Status, Response, ExpireAt, OnResponse) are
// mutated under the engine's waiter-map lock, never concurrently with the
// frame codec.
type Message struct {
	ID                 uint32
	InResponseTo       uint32
	WaitingForResponse bool
	Kind               string
	Payload            *document.Document
	Address            NodeID
	Direction          Direction

	// RequireSecureConnection gates whether this message may travel an
	// outgoing connection that hasn't completed its join handshake yet
	// (spec §4.C).
	RequireSecureConnection bool

	// Runtime-only fields.
	Status     Status
	Response   *Message
	ExpireAt   time.Time
	OnResponse func(resp *Message)
}

// Success reports whether the message's final status is Sent or
// ResponseReceived, per spec §3.
func (m *Message) Success() bool {
	return m.Status == Sent || m.Status == ResponseReceived
}

// NewOneWay builds a fire-and-forget message (e.g. Heartbeat, NewLeader,
// ChordNotify) that does not wait for a response.
func NewOneWay(to NodeID, dir Direction, kind string, payload *document.Document, requireSecure bool) *Message {
	return &Message{
		Kind:                    kind,
		Payload:                 payload,
		Address:                 to,
		Direction:               dir,
		RequireSecureConnection: requireSecure,
		Status:                  Created,
	}
}

// NewRequest builds a message that expects a response within timeout.
func NewRequest(to NodeID, dir Direction, kind string, payload *document.Document, requireSecure bool, timeout time.Duration, onResponse func(*Message)) *Message {
	return &Message{
		Kind:                    kind,
		Payload:                 payload,
		Address:                 to,
		Direction:               dir,
		RequireSecureConnection: requireSecure,
		WaitingForResponse:      true,
		Status:                  Created,
		ExpireAt:                time.Now().Add(timeout),
		OnResponse:              onResponse,
	}
}

// NewReply builds a response to req carrying InResponseTo = req.ID.
func NewReply(req *Message, kind string, payload *document.Document) *Message {
	return &Message{
		Kind:         kind,
		Payload:      payload,
		InResponseTo: req.ID,
		Address:      req.Address,
		Direction:    req.Direction,
		Status:       Created,
	}
}

// DefaultRequestTimeout is the default per-message expiry (spec §5, 60s).
const DefaultRequestTimeout = 60 * time.Second
