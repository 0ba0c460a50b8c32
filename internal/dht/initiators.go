package dht

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/d42ejh/ilnyaplus-dev/internal/dhterr"
	"github.com/d42ejh/ilnyaplus-dev/internal/dhtproto"
)

// DefaultRequestTimeout is how long an initiator waits for a reply
// before giving up — the source has no such timeout (it blocks on
// ping_list membership indefinitely); a bounded wait is a deliberate
// Go-idiomatic addition so a dead peer can never wedge a caller.
const DefaultRequestTimeout = 5 * time.Second

// awaitReply registers txID in the pending-request table, sends
// nothing itself (callers send before or after registering, as
// needed), and blocks until either a matching response arrives, ctx
// is canceled, or DefaultRequestTimeout elapses.
func (m *Manager) awaitReply(ctx context.Context, txID uuid.UUID) (pendingReply, error) {
	req := &pendingRequest{replyCh: make(chan pendingReply, 1)}
	m.registerCh <- registerPending{txID: txID, req: req}

	timer := time.NewTimer(DefaultRequestTimeout)
	defer timer.Stop()

	select {
	case reply := <-req.replyCh:
		return reply, nil
	case <-timer.C:
		m.unregCh <- unregisterPending{txID: txID}
		return pendingReply{}, fmt.Errorf("dht: timed out waiting for response: %w", dhterr.ErrNotFound)
	case <-ctx.Done():
		m.unregCh <- unregisterPending{txID: txID}
		return pendingReply{}, ctx.Err()
	}
}

// DoPing mirrors do_ping: sends a ping_request to endpoint and waits
// for the matching pong.
func (m *Manager) DoPing(ctx context.Context, endpoint string) error {
	addr, err := net.ResolveUDPAddr("udp", endpoint)
	if err != nil {
		return fmt.Errorf("dht: resolve %q: %w", endpoint, err)
	}
	txID := dhtproto.NewTransactionID()
	m.send(addr, dhtproto.EncodePingRequest(txID))

	reply, err := m.awaitReply(ctx, txID)
	if err != nil {
		return err
	}
	_, _, err = dhtproto.DecodePingResponse(reply.data)
	return err
}

// DoFindNode mirrors do_find_node: asks endpoint for the nodes
// closest to key and returns them as endpoint strings.
func (m *Manager) DoFindNode(ctx context.Context, endpoint string, key []byte) ([]string, error) {
	addr, err := net.ResolveUDPAddr("udp", endpoint)
	if err != nil {
		return nil, fmt.Errorf("dht: resolve %q: %w", endpoint, err)
	}
	txID := dhtproto.NewTransactionID()
	m.send(addr, dhtproto.EncodeFindNodeRequest(txID, dhtproto.FindNodeRequestMessage{Key: key}))

	reply, err := m.awaitReply(ctx, txID)
	if err != nil {
		return nil, err
	}
	_, msg, err := dhtproto.DecodeFindNodeResponse(reply.data)
	if err != nil {
		return nil, err
	}
	return msg.Nodes, nil
}

// DoStore mirrors do_store: pushes data under key to endpoint. The
// source fires a store_value_request and never waits for or expects
// an acknowledgement; this port does the same.
func (m *Manager) DoStore(endpoint string, key, data []byte, replicationLevel int) error {
	addr, err := net.ResolveUDPAddr("udp", endpoint)
	if err != nil {
		return fmt.Errorf("dht: resolve %q: %w", endpoint, err)
	}
	m.send(addr, dhtproto.EncodeStoreValueRequest(dhtproto.NewTransactionID(), dhtproto.StoreValueRequestMessage{
		Key:              key,
		Data:             data,
		ReplicationLevel: uint32(replicationLevel),
	}))
	return nil
}

// DoFindValue mirrors do_find_value. It asks endpoint for key; if the
// response carries data, it hash-verifies the payload against key
// before returning it (Open Question 6) and stores it locally. If the
// response instead redirects to another node, it makes exactly one
// bounded follow-up call to that node and returns its result — it
// never chases a second redirect (Open Question 3).
func (m *Manager) DoFindValue(ctx context.Context, endpoint string, key []byte) ([]byte, error) {
	data, redirectTo, err := m.findValueStep(ctx, endpoint, key)
	if err != nil {
		return nil, err
	}
	if data != nil {
		return data, nil
	}
	if redirectTo == "" {
		return nil, fmt.Errorf("dht: %s has neither data nor a redirect for key: %w", endpoint, dhterr.ErrNotFound)
	}
	// Exactly one bounded follow-up: do not chase a second redirect.
	data, _, err = m.findValueStep(ctx, redirectTo, key)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("dht: redirect target %s had no data for key: %w", redirectTo, dhterr.ErrNotFound)
	}
	return data, nil
}

// findValueStep sends one find_value_request to endpoint and returns
// either verified data, a redirect endpoint, or an error.
func (m *Manager) findValueStep(ctx context.Context, endpoint string, key []byte) (data []byte, redirectTo string, err error) {
	addr, err := net.ResolveUDPAddr("udp", endpoint)
	if err != nil {
		return nil, "", fmt.Errorf("dht: resolve %q: %w", endpoint, err)
	}
	txID := dhtproto.NewTransactionID()
	m.send(addr, dhtproto.EncodeFindValueRequest(txID, dhtproto.FindValueRequestMessage{Key: key}))

	reply, err := m.awaitReply(ctx, txID)
	if err != nil {
		return nil, "", err
	}
	_, msg, err := dhtproto.DecodeFindValueResponse(reply.data)
	if err != nil {
		return nil, "", err
	}
	if msg.Data != nil {
		if err := verifyPayload(key, msg.Data); err != nil {
			return nil, "", err
		}
		if putErr := m.store.Put(key, msg.Data); putErr != nil {
			return nil, "", putErr
		}
		return msg.Data, "", nil
	}
	if msg.Node != nil {
		return nil, *msg.Node, nil
	}
	return nil, "", fmt.Errorf("dht: find_value_response from %s set neither node nor data: %w", endpoint, dhterr.ErrProtocol)
}
