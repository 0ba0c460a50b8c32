// Package routingtable implements the Kademlia-style XOR-metric
// routing table: own node identity derivation, bucket indexing and
// the bucket set itself. See spec.md §3 ("Routing table") and §9
// REDESIGN FLAG 1.
//
// Unlike the source this is grounded on (cocoon-core's route_table),
// Node here is a plain value, never shared behind Arc<Mutex<...>>.
// RouteTable owns every Node it tracks; callers only ever get copies
// out via NodeInfo, so no lock needs to be held across network I/O.
package routingtable

import (
	"math/bits"
	"time"

	"golang.org/x/crypto/sha3"
)

// IDSize is the node id width: a SHA3-512 digest, 64 bytes (512 bits).
const IDSize = 64

// NodeID is a node's identity, SHA3-512(endpoint_string).
type NodeID [IDSize]byte

// DeriveNodeID hashes an endpoint string into its node id.
func DeriveNodeID(endpoint string) NodeID {
	return sha3.Sum512([]byte(endpoint))
}

// Node is a single routing table entry.
type Node struct {
	ID       NodeID
	Endpoint string
	LastPing time.Time
}

// NewNode constructs a Node for endpoint, marking it alive as of now.
func NewNode(endpoint string, now time.Time) Node {
	return Node{ID: DeriveNodeID(endpoint), Endpoint: endpoint, LastPing: now}
}

// IsAlive reports whether the node was pinged within window of now.
func (n Node) IsAlive(now time.Time, window time.Duration) bool {
	return now.Sub(n.LastPing) < window
}

// NodeInfo is an immutable, copy-out snapshot of a Node: safe to pass
// around and hold across I/O, unlike a live table entry.
type NodeInfo struct {
	ID       NodeID
	Endpoint string
}

func (n Node) info() NodeInfo {
	return NodeInfo{ID: n.ID, Endpoint: n.Endpoint}
}

// Distance computes the XOR metric between two node ids.
func Distance(a, b NodeID) NodeID {
	var d NodeID
	for i := range d {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// Less reports whether a < b under big-endian byte-lexicographic
// order (the ordering the XOR metric is compared under).
func Less(a, b NodeID) bool {
	for i := range a {
		if a[i] < b[i] {
			return true
		}
		if a[i] > b[i] {
			return false
		}
	}
	return false
}

func leadingZeroBits(id NodeID) int {
	for i, b := range id {
		if b == 0 {
			continue
		}
		return i*8 + bits.LeadingZeros8(b)
	}
	return len(id) * 8
}

// BucketIndex returns the bucket index self's table would place other
// in: the count of leading zero bits in XOR(self, other). An id equal
// to self yields the maximal index (IDSize*8), which every real
// deployment's bucket count intentionally falls short of — see
// RouteTable.FindBucketIndex.
func BucketIndex(self, other NodeID) int {
	return leadingZeroBits(Distance(self, other))
}
