// Package dhtproto implements the DHT wire protocol: a fixed header
// followed by a type-specific body, hand-framed with encoding/binary
// in the style of this corpus's other P2P codecs (see other_examples'
// PeernetOfficial Message Encoding.go) rather than reflection-driven
// serialization. See spec.md §4.6 and SPEC_FULL.md §4.6.
//
// The source this is grounded on (cocoon-core's message package)
// frames each message with rkyv archival serialization, which has no
// idiomatic Go equivalent in this corpus; the seven message types and
// their fields below are ported field-for-field from it.
package dhtproto

import "github.com/google/uuid"

// MessageType identifies a wire message's body layout.
type MessageType uint32

const (
	PingRequest MessageType = 1 + iota
	FindNodeRequest
	FindValueRequest
	StoreValueRequest
	PingResponse
	FindNodeResponse
	FindValueResponse
)

func (t MessageType) String() string {
	switch t {
	case PingRequest:
		return "PingRequest"
	case FindNodeRequest:
		return "FindNodeRequest"
	case FindValueRequest:
		return "FindValueRequest"
	case StoreValueRequest:
		return "StoreValueRequest"
	case PingResponse:
		return "PingResponse"
	case FindNodeResponse:
		return "FindNodeResponse"
	case FindValueResponse:
		return "FindValueResponse"
	default:
		return "Unknown"
	}
}

// PingRequestMessage carries no fields; a peer that receives one
// replies with a PingResponseMessage.
type PingRequestMessage struct{}

// PingResponseMessage carries no fields.
type PingResponseMessage struct{}

// FindNodeRequestMessage asks for the nodes closest to Key.
type FindNodeRequestMessage struct {
	Key []byte
}

// FindValueRequestMessage asks for the value stored under Key, or
// failing that, a node closer to it.
type FindValueRequestMessage struct {
	Key []byte
}

// StoreValueRequestMessage asks the receiver to store (Key, Data).
type StoreValueRequestMessage struct {
	Key              []byte
	Data             []byte
	ReplicationLevel uint32
}

// FindNodeResponseMessage answers a FindNodeRequestMessage with
// endpoint strings of the nodes closest to the request's key.
type FindNodeResponseMessage struct {
	Nodes []string
}

// FindValueResponseMessage answers a FindValueRequestMessage with
// exactly one of Node (a closer peer to retry against) or Data (the
// value itself) set, never both and never neither.
type FindValueResponseMessage struct {
	Key  []byte
	Node *string
	Data []byte
}

// NewTransactionID generates a fresh transaction id for correlating a
// request with its eventual response — see REDESIGN FLAGS in
// SPEC_FULL.md §4.7 on the pending-request table this enables.
func NewTransactionID() uuid.UUID {
	return uuid.New()
}
