// Package wire implements the node identity, message type and binary framing
// codec shared by every peer in a DatabaseV2 cluster (spec §3, §4.A, §6).
package wire

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// NodeID identifies a peer by its advertised (hostname, port) pair. The
// canonical string form "hostname:port" is what equality, hashing (as a map
// key) and ordering operate on.
type NodeID struct {
	Hostname string
	Port     int
}

// localHostname is resolved once and reused for every "localhost" NodeID,
// mirroring the one-shot nature of os.Hostname() lookups elsewhere in the
// teacher (util/address.go resolves transport-level endpoints the same way:
// once, at construction, never re-resolved per use).
var localHostname = func() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "localhost"
}()

// NewNodeID builds a NodeID, resolving the literal "localhost" to the local
// machine's DNS hostname per spec §3.
func NewNodeID(hostname string, port int) NodeID {
	if hostname == "localhost" {
		hostname = localHostname
	}
	return NodeID{Hostname: hostname, Port: port}
}

// ParseNodeID parses a canonical "hostname:port" string.
func ParseNodeID(s string) (NodeID, error) {
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return NodeID{}, fmt.Errorf("wire: invalid node address %q", s)
	}
	host := s[:idx]
	port, err := strconv.Atoi(s[idx+1:])
	if err != nil {
		return NodeID{}, fmt.Errorf("wire: invalid node port in %q: %w", s, err)
	}
	return NewNodeID(host, port), nil
}

// String returns the canonical "hostname:port" form.
func (n NodeID) String() string {
	return n.Hostname + ":" + strconv.Itoa(n.Port)
}

// Equal reports whether two NodeIDs share a canonical form.
func (n NodeID) Equal(o NodeID) bool {
	return n.String() == o.String()
}

// IsZero reports whether n is the zero-value NodeID (used as a "no node"
// sentinel, e.g. an absent Chord predecessor before any ChordNotify).
func (n NodeID) IsZero() bool {
	return n.Hostname == "" && n.Port == 0
}

// Less implements the lexicographic ordering on the canonical form required
// by spec §3, so NodeIDs can be used as sort keys (e.g. stable iteration
// over a registry snapshot).
func (n NodeID) Less(o NodeID) bool {
	return n.String() < o.String()
}
