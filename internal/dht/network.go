package dht

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/d42ejh/ilnyaplus-dev/internal/dhterr"
	"github.com/d42ejh/ilnyaplus-dev/internal/tlog"
)

// StoreValue mirrors do_store's real shape: the source takes no
// endpoint argument and instead resolves the store target itself via
// route_table.find_nodes(key, 10) before fanning a store_value_request
// out to every node it finds (dht_manager/mod.rs). DoStore stays the
// lower-level, single-peer primitive this builds on; tasks that don't
// know which peer should hold a block (internal/tasks, C8) call
// StoreValue instead.
func (m *Manager) StoreValue(ctx context.Context, key, data []byte, replicationLevel int) error {
	id, err := queryHashToNodeID(key)
	if err != nil {
		return err
	}
	nodes, err := m.table.FindNodes(id, m.policy.LookupWidth())
	if err != nil {
		return err
	}
	if len(nodes) == 0 {
		return fmt.Errorf("dht: no known nodes to store value under: %w", dhterr.ErrNotFound)
	}

	// DoStore's datagram sends are independent of one another, so they
	// fan out concurrently via errgroup rather than one at a time — a
	// DoStore failure (bad endpoint) is only logged, never aborts its
	// siblings.
	var stored int32
	eg, _ := errgroup.WithContext(ctx)
	for _, n := range nodes {
		n := n
		eg.Go(func() error {
			if err := m.DoStore(n.Endpoint, key, data, replicationLevel); err != nil {
				tlog.Debug.Printf("dht: StoreValue: store to %s failed: %v", n.Endpoint, err)
				return nil
			}
			atomic.AddInt32(&stored, 1)
			return nil
		})
	}
	_ = eg.Wait()
	if stored == 0 {
		return fmt.Errorf("dht: StoreValue: every store attempt failed: %w", dhterr.ErrNotFound)
	}
	return nil
}

// FindValueInNetwork mirrors do_find_value's real shape: the source
// queries route_table.find_nodes(key, 10) and asks each in turn,
// returning the first hit. DoFindValue remains the single-peer
// primitive (with its own redirect-following logic); this layers
// network-wide fan-out on top of it, the same way DoPing/do_ping_impl
// layers in the source.
func (m *Manager) FindValueInNetwork(ctx context.Context, key []byte) ([]byte, error) {
	id, err := queryHashToNodeID(key)
	if err != nil {
		return nil, err
	}
	nodes, err := m.table.FindNodes(id, m.policy.LookupWidth())
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("dht: no known nodes to query for value: %w", dhterr.ErrNotFound)
	}

	var lastErr error
	for _, n := range nodes {
		data, err := m.DoFindValue(ctx, n.Endpoint, key)
		if err != nil {
			lastErr = err
			continue
		}
		return data, nil
	}
	return nil, fmt.Errorf("dht: FindValueInNetwork: no node of %d had the value: %w", len(nodes), lastErr)
}
