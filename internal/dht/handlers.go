package dht

import (
	"errors"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/d42ejh/ilnyaplus-dev/internal/dhterr"
	"github.com/d42ejh/ilnyaplus-dev/internal/dhtproto"
	"github.com/d42ejh/ilnyaplus-dev/internal/routingtable"
	"github.com/d42ejh/ilnyaplus-dev/internal/tlog"
)

// dispatch decodes just the header to learn the message type, then
// routes to the matching handler — mirroring the source's top-level
// match on message kind in its receive loop.
func (m *Manager) dispatch(from *net.UDPAddr, datagram []byte) {
	typ, txID, err := dhtproto.PeekType(datagram)
	if err != nil {
		tlog.Debug.Printf("dht: dropping unparseable datagram from %s: %v", from, err)
		return
	}
	switch typ {
	case dhtproto.PingRequest:
		m.handlePingRequest(from, datagram)
	case dhtproto.PingResponse:
		m.handlePingResponse(from, txID, datagram)
	case dhtproto.FindNodeRequest:
		m.handleFindNodeRequest(from, datagram)
	case dhtproto.FindNodeResponse:
		m.handleFindNodeResponse(from, txID, datagram)
	case dhtproto.FindValueRequest:
		m.handleFindValueRequest(from, datagram)
	case dhtproto.FindValueResponse:
		m.handleFindValueResponse(from, txID, datagram)
	case dhtproto.StoreValueRequest:
		m.handleStoreValueRequest(from, datagram)
	default:
		tlog.Debug.Printf("dht: unknown message type %d from %s", typ, from)
	}
}

// admitNode is the common "learn about a peer" step every handler
// runs on the sender's endpoint before acting further. A full target
// bucket triggers a liveness probe of its occupants, matching the
// source's full-bucket branch — including its never-implemented
// dead-node eviction, see livenessProbeBucket's comment.
func (m *Manager) admitNode(endpoint string) {
	id := routingtable.DeriveNodeID(endpoint)
	if err := m.table.AddNode(endpoint, time.Now()); err != nil && isErrFull(err) {
		m.livenessProbeBucket(id)
	}
}

func isErrFull(err error) bool {
	return errors.Is(err, dhterr.ErrFull)
}

// ---- PingRequest ----
//
// The source's handle_ping_request adds the sender to the route
// table and, only if that succeeds (the target bucket was not full),
// replies with a pong. On a full bucket it liveness-probes the bucket
// and returns — the pong is never sent. This port keeps that exact
// omission rather than "fixing" it into always replying.
func (m *Manager) handlePingRequest(from *net.UDPAddr, datagram []byte) {
	txID, _, err := dhtproto.DecodePingRequest(datagram)
	if err != nil {
		tlog.Debug.Printf("dht: bad ping_request from %s: %v", from, err)
		return
	}
	endpoint := from.String()
	id := routingtable.DeriveNodeID(endpoint)
	if err := m.table.AddNode(endpoint, time.Now()); err != nil {
		if isErrFull(err) {
			tlog.Debug.Printf("dht: bucket full for %s, probing instead of replying", endpoint)
			m.livenessProbeBucket(id)
		}
		return
	}
	m.send(from, dhtproto.EncodePingResponse(txID))
}

// ---- PingResponse ----
//
// Gated by the pending-request table: a pong whose transaction id was
// never registered by DoPing is dropped and never added to the route
// table (the testable property this redesign introduces in place of
// the source's unconditional ping_list membership check).
func (m *Manager) handlePingResponse(from *net.UDPAddr, txID uuid.UUID, datagram []byte) {
	if _, _, err := dhtproto.DecodePingResponse(datagram); err != nil {
		tlog.Debug.Printf("dht: bad ping_response from %s: %v", from, err)
		return
	}
	if !m.resolvePending(txID, from.String(), datagram) {
		tlog.Debug.Printf("dht: unsolicited ping_response from %s, dropping", from)
		return
	}
	m.admitNode(from.String())
}

// ---- FindNodeRequest ----
//
// The source hardcodes find_nodes(key, 20) with a "todo set 'K'"
// comment, and sends nothing back if the lookup turns up zero nodes.
// Both are preserved.
func (m *Manager) handleFindNodeRequest(from *net.UDPAddr, datagram []byte) {
	txID, msg, err := dhtproto.DecodeFindNodeRequest(datagram)
	if err != nil {
		tlog.Debug.Printf("dht: bad find_node_request from %s: %v", from, err)
		return
	}
	m.admitNode(from.String())

	id, err := queryHashToNodeID(msg.Key)
	if err != nil {
		tlog.Debug.Printf("dht: find_node_request from %s: %v", from, err)
		return
	}
	nodes, err := m.table.FindNodes(id, 20) // todo set 'K'
	if err != nil || len(nodes) == 0 {
		return
	}
	endpoints := make([]string, len(nodes))
	for i, n := range nodes {
		endpoints[i] = n.Endpoint
	}
	m.send(from, dhtproto.EncodeFindNodeResponse(txID, dhtproto.FindNodeResponseMessage{Nodes: endpoints}))
}

// ---- FindNodeResponse ----
//
// The source has no "did I actually request this?" check here — see
// its own "TODO: did I sent request?" — and unconditionally folds
// every returned node into the route table, ignoring whether the
// target bucket was already full ("todo handle branch if route
// table(bucket) is full"). This port reproduces that: it delivers the
// decoded nodes to a waiting DoFindNode initiator via the pending
// table when present, but it does not gate the route-table admission
// on that correlation, matching the original's unguarded behavior.
func (m *Manager) handleFindNodeResponse(from *net.UDPAddr, txID uuid.UUID, datagram []byte) {
	_, msg, err := dhtproto.DecodeFindNodeResponse(datagram)
	if err != nil {
		tlog.Debug.Printf("dht: bad find_node_response from %s: %v", from, err)
		return
	}
	m.resolvePending(txID, from.String(), datagram)
	m.admitNode(from.String())
	for _, endpoint := range msg.Nodes {
		_ = m.table.AddNode(endpoint, time.Now()) // todo handle branch if route table(bucket) is full
	}
}

// ---- FindValueRequest ----
//
// The source replies with either the locally stored value or exactly
// one closest-node redirect, and silently drops the request if
// neither is available.
func (m *Manager) handleFindValueRequest(from *net.UDPAddr, datagram []byte) {
	txID, msg, err := dhtproto.DecodeFindValueRequest(datagram)
	if err != nil {
		tlog.Debug.Printf("dht: bad find_value_request from %s: %v", from, err)
		return
	}
	m.admitNode(from.String())

	if data, err := m.store.Get(msg.Key); err == nil {
		encoded, err := dhtproto.EncodeFindValueResponse(txID, dhtproto.FindValueResponseMessage{Key: msg.Key, Data: data})
		if err != nil {
			tlog.Warn.Printf("dht: encoding find_value_response: %v", err)
			return
		}
		m.send(from, encoded)
		return
	}

	id, err := queryHashToNodeID(msg.Key)
	if err != nil {
		tlog.Debug.Printf("dht: find_value_request from %s: %v", from, err)
		return
	}
	nodes, err := m.table.FindNodes(id, 1)
	if err != nil || len(nodes) == 0 {
		return
	}
	redirect := nodes[0].Endpoint
	encoded, err := dhtproto.EncodeFindValueResponse(txID, dhtproto.FindValueResponseMessage{Key: msg.Key, Node: &redirect})
	if err != nil {
		tlog.Warn.Printf("dht: encoding find_value_response redirect: %v", err)
		return
	}
	m.send(from, encoded)
}

// ---- FindValueResponse ----
//
// The source has no request-correlation check here either ("todo
// check if I actually requested the data") and does nothing with the
// payload it receives ("todo save data?"). This redesign resolves
// Open Questions 3 and 6 at the initiator side (DoFindValue): this
// handler's only job is to hand the decoded message to whichever
// initiator is waiting on txID via the pending table. A response with
// no matching pending entry is simply dropped.
func (m *Manager) handleFindValueResponse(from *net.UDPAddr, txID uuid.UUID, datagram []byte) {
	if _, _, err := dhtproto.DecodeFindValueResponse(datagram); err != nil {
		tlog.Debug.Printf("dht: bad find_value_response from %s: %v", from, err)
		return
	}
	if !m.resolvePending(txID, from.String(), datagram) {
		tlog.Debug.Printf("dht: unsolicited find_value_response from %s, dropping", from)
		return
	}
}

// ---- StoreValueRequest ----
//
// The source forwards using calculate_forward_count(1000, 77 /* dummy
// hopcount */, replication_level) — the hop count argument is never
// actually tracked or incremented as a store propagates, a bug this
// port keeps by always passing hops=0 into the policy rather than
// threading a real hop counter through the wire format.
func (m *Manager) handleStoreValueRequest(from *net.UDPAddr, datagram []byte) {
	txID, msg, err := dhtproto.DecodeStoreValueRequest(datagram)
	if err != nil {
		tlog.Debug.Printf("dht: bad store_value_request from %s: %v", from, err)
		return
	}
	m.admitNode(from.String())

	if err := verifyPayload(msg.Key, msg.Data); err != nil {
		tlog.Warn.Printf("dht: store_value_request from %s failed payload verification: %v", from, err)
		return
	}
	if err := m.store.Put(msg.Key, msg.Data); err != nil {
		tlog.Warn.Printf("dht: storing value locally: %v", err)
	}

	id, err := queryHashToNodeID(msg.Key)
	if err != nil {
		return
	}
	forwardCount := m.policy.ForwardCount(0, int(msg.ReplicationLevel))
	nodes, err := m.table.FindNodes(id, forwardCount)
	if err != nil {
		return
	}
	for _, n := range nodes {
		if n.Endpoint == from.String() {
			continue
		}
		addr, err := net.ResolveUDPAddr("udp", n.Endpoint)
		if err != nil {
			continue
		}
		m.send(addr, dhtproto.EncodeStoreValueRequest(dhtproto.NewTransactionID(), msg))
	}
	_ = txID // the source never acks a store; neither does this port
}
