package adminsock

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/d42ejh/ilnyaplus-dev/internal/dht"
	"github.com/d42ejh/ilnyaplus-dev/internal/kvstore"
)

const (
	routeTableK           = 20
	routeTableBucketCount = 77
)

func newTestManager(t *testing.T) *dht.Manager {
	t.Helper()
	store, err := kvstore.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	m, err := dht.New("127.0.0.1:0", store, routeTableK, routeTableBucketCount, dht.DefaultReplicationPolicy)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { m.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go m.Serve(ctx)
	return m
}

func newTestAdminSocket(t *testing.T, mgr *dht.Manager) *net.UnixConn {
	t.Helper()
	sockPath := filepath.Join(t.TempDir(), "admin.sock")
	listener, err := Listen(sockPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { listener.Close() })
	go Serve(listener, mgr)

	conn, err := net.DialTimeout("unix", sockPath, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn.(*net.UnixConn)
}

func roundTrip(t *testing.T, conn *net.UnixConn, req Request) Response {
	t.Helper()
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Write(body); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		t.Fatal(err)
	}
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		t.Fatalf("unmarshal response %q: %v", line, err)
	}
	return resp
}

func TestPendingRequestCountCommand(t *testing.T) {
	mgr := newTestManager(t)
	conn := newTestAdminSocket(t, mgr)

	resp := roundTrip(t, conn, Request{Command: cmdPendingRequestCount})
	if resp.ErrText != "" {
		t.Fatalf("unexpected error: %s", resp.ErrText)
	}
	if resp.PendingCount != 0 {
		t.Errorf("PendingCount = %d, want 0 on an idle manager", resp.PendingCount)
	}
}

func TestKVStoreStatCommand(t *testing.T) {
	mgr := newTestManager(t)
	conn := newTestAdminSocket(t, mgr)

	resp := roundTrip(t, conn, Request{Command: cmdKVStoreStat})
	if resp.ErrText != "" {
		t.Fatalf("unexpected error: %s", resp.ErrText)
	}
}

func TestRoutingTableSnapshotCommand(t *testing.T) {
	a := newTestManager(t)
	b := newTestManager(t)
	conn := newTestAdminSocket(t, a)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.DoPing(ctx, b.LocalEndpoint()); err != nil {
		t.Fatalf("DoPing: %v", err)
	}

	resp := roundTrip(t, conn, Request{Command: cmdRoutingTableSnapshot})
	if resp.ErrText != "" {
		t.Fatalf("unexpected error: %s", resp.ErrText)
	}
	found := false
	for _, n := range resp.RoutingTable {
		if n.Endpoint == b.LocalEndpoint() {
			found = true
		}
	}
	if !found {
		t.Errorf("snapshot %+v does not include peer %s", resp.RoutingTable, b.LocalEndpoint())
	}
}

func TestPingCommandRequiresEndpoint(t *testing.T) {
	mgr := newTestManager(t)
	conn := newTestAdminSocket(t, mgr)

	resp := roundTrip(t, conn, Request{Command: cmdPing})
	if resp.ErrText == "" {
		t.Error("expected an error when ping is sent without an endpoint")
	}
}

func TestUnknownCommand(t *testing.T) {
	mgr := newTestManager(t)
	conn := newTestAdminSocket(t, mgr)

	resp := roundTrip(t, conn, Request{Command: "not_a_real_command"})
	if resp.ErrText == "" {
		t.Error("expected an error for an unrecognized command")
	}
}
