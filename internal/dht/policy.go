package dht

// ReplicationPolicy decides how many peers a StoreValueRequest is
// forwarded to and how many peers a lookup queries, keeping the
// source's hardcoded placeholder constants (10 closest peers, a
// single forwarding hop) behind a named, injectable seam instead of
// scattering unexplained magic numbers through the manager — Open
// Question 2.
type ReplicationPolicy interface {
	// ForwardCount returns how many of the closest known peers a
	// StoreValueRequest not destined for this node should be
	// forwarded to, given the number of hops already taken and the
	// request's requested replication level.
	ForwardCount(hops, replicationLevel int) int

	// LookupWidth returns how many of the closest known peers
	// StoreValue fans a store out to and FindValueInNetwork queries
	// (one after another, stopping at the first hit).
	LookupWidth() int
}

// defaultReplicationPolicy mirrors the source's placeholder behavior:
// forward a store to 10 of the closest peers regardless of hop count
// or requested replication level (the source never implements network
// size estimation, leaving `calculate_forward_count`'s real logic as
// a TODO; this default reproduces only its effective constant).
type defaultReplicationPolicy struct{}

// DefaultReplicationPolicy is the zero-configuration policy used when
// a Manager is constructed without one.
var DefaultReplicationPolicy ReplicationPolicy = defaultReplicationPolicy{}

func (defaultReplicationPolicy) ForwardCount(hops, replicationLevel int) int {
	return 10
}

func (defaultReplicationPolicy) LookupWidth() int {
	return 10
}
