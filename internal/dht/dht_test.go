package dht

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/d42ejh/ilnyaplus-dev/internal/cryptocore"
	"github.com/d42ejh/ilnyaplus-dev/internal/dhterr"
	"github.com/d42ejh/ilnyaplus-dev/internal/dhtproto"
	"github.com/d42ejh/ilnyaplus-dev/internal/kvstore"
	"github.com/d42ejh/ilnyaplus-dev/internal/routingtable"
)

const (
	routeTableK           = 20
	routeTableBucketCount = 77
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	store, err := kvstore.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	m, err := New("127.0.0.1:0", store, routeTableK, routeTableBucketCount, DefaultReplicationPolicy)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { m.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go m.Serve(ctx)
	return m
}

func TestPingRoundTrip(t *testing.T) {
	a := newTestManager(t)
	b := newTestManager(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.DoPing(ctx, b.LocalEndpoint()); err != nil {
		t.Fatalf("DoPing: %v", err)
	}
	if !b.RouteTable().Contains(a.LocalEndpoint()) {
		t.Error("b's route table should have learned a's endpoint from the ping request")
	}
}

func TestStoreThenFindValue(t *testing.T) {
	a := newTestManager(t)
	b := newTestManager(t)

	data := []byte("a ciphertext block")
	key := cryptocore.QueryHash(data)

	if err := a.DoStore(b.LocalEndpoint(), key[:], data, 20); err != nil {
		t.Fatalf("DoStore: %v", err)
	}
	// DoStore is fire-and-forget; give b's owner goroutine a moment to
	// process the datagram before looking it up.
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := a.DoFindValue(ctx, b.LocalEndpoint(), key[:])
	if err != nil {
		t.Fatalf("DoFindValue: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("DoFindValue returned %q, want %q", got, data)
	}
}

func TestFindNodeRoundTrip(t *testing.T) {
	a := newTestManager(t)
	b := newTestManager(t)
	c := newTestManager(t)

	// Seed b's table with c so a's find_node has something to return.
	if err := b.table.AddNode(c.LocalEndpoint(), time.Now()); err != nil {
		t.Fatalf("seeding b's table: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// FindNodes only searches the bucket the target falls into, so the
	// target must land in the bucket c occupies in b's table.
	bID := b.table.OwnID()
	cID := routingtable.DeriveNodeID(c.LocalEndpoint())
	_, key := findPayloadInBucket(t, bID, cID, routingtable.BucketIndex(bID, cID))
	nodes, err := a.DoFindNode(ctx, b.LocalEndpoint(), key[:])
	if err != nil {
		t.Fatalf("DoFindNode: %v", err)
	}
	found := false
	for _, n := range nodes {
		if n == c.LocalEndpoint() {
			found = true
		}
	}
	if !found {
		t.Errorf("DoFindNode result %v did not include seeded node %s", nodes, c.LocalEndpoint())
	}
}

// TestUnsolicitedPingResponseDropped exercises the transaction-
// correlation testable property directly over the wire: a pong whose
// transaction id was never registered by a DoPing call must be
// dropped and never admitted into the receiver's route table.
func TestUnsolicitedPingResponseDropped(t *testing.T) {
	a := newTestManager(t)

	raw, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatal(err)
	}
	defer raw.Close()

	addr, err := net.ResolveUDPAddr("udp", a.LocalEndpoint())
	if err != nil {
		t.Fatal(err)
	}
	datagram := dhtproto.EncodePingResponse(dhtproto.NewTransactionID())
	if _, err := raw.WriteToUDP(datagram, addr); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	if a.RouteTable().Contains(raw.LocalAddr().String()) {
		t.Error("an unsolicited ping_response must not be added to the route table")
	}
}

func TestFindValueResponsePayloadMustHashToKey(t *testing.T) {
	wrongKey := cryptocore.QueryHash([]byte("not the data below"))
	err := verifyPayload(wrongKey[:], []byte("some other payload"))
	if !errors.Is(err, dhterr.ErrCorrupted) {
		t.Errorf("expected dhterr.ErrCorrupted, got %v", err)
	}
}

func TestDoPingTimesOutAgainstUnresponsivePeer(t *testing.T) {
	a := newTestManager(t)

	dead, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatal(err)
	}
	deadEndpoint := dead.LocalAddr().String()
	dead.Close() // closed immediately: nothing will ever answer this port

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := a.DoPing(ctx, deadEndpoint); err == nil {
		t.Error("expected DoPing against an unresponsive peer to fail")
	}
}
