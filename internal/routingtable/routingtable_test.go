package routingtable

import (
	"errors"
	"testing"
	"time"

	"github.com/d42ejh/ilnyaplus-dev/internal/dhterr"
)

// TestConnectAllEachOther is spec.md §8 end-to-end scenario 4: two
// peers that add each other must each find the other's endpoint in
// their table afterward.
func TestConnectAllEachOther(t *testing.T) {
	now := time.Now()
	a := New("udp://peer-a:9000", DefaultK, DefaultBucketCount)
	b := New("udp://peer-b:9000", DefaultK, DefaultBucketCount)

	if err := a.AddNode(b.OwnEndpoint(), now); err != nil {
		t.Fatalf("a.AddNode(b): %v", err)
	}
	if err := b.AddNode(a.OwnEndpoint(), now); err != nil {
		t.Fatalf("b.AddNode(a): %v", err)
	}

	if !a.Contains(b.OwnEndpoint()) {
		t.Error("peer a's table does not contain peer b after AddNode")
	}
	if !b.Contains(a.OwnEndpoint()) {
		t.Error("peer b's table does not contain peer a after AddNode")
	}
}

func TestAddNodeIdempotentForSameEndpoint(t *testing.T) {
	now := time.Now()
	rt := New("udp://self:9000", 1, DefaultBucketCount)

	if err := rt.AddNode("udp://node-a:1", now); err != nil {
		t.Fatalf("first AddNode: %v", err)
	}
	// Re-adding the same endpoint refreshes it in place rather than
	// competing for bucket capacity, so it must never report ErrFull
	// even when k=1.
	if err := rt.AddNode("udp://node-a:1", now); err != nil {
		t.Fatalf("re-add of existing endpoint should not report full: %v", err)
	}
}

func TestAddNodeReportsFullBucket(t *testing.T) {
	now := time.Now()
	rt := New("udp://self:9000", 0, DefaultBucketCount)
	err := rt.AddNode("udp://node-a:1", now)
	if !errors.Is(err, dhterr.ErrFull) {
		t.Errorf("expected dhterr.ErrFull for a k=0 table, got %v", err)
	}
}

func TestUpdateAliveUnknownEndpoint(t *testing.T) {
	rt := New("udp://self:9000", DefaultK, DefaultBucketCount)
	found, err := rt.UpdateAlive("udp://ghost:1", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Error("UpdateAlive reported found for an endpoint never added")
	}
}

func TestIsClosestToEmptyBucket(t *testing.T) {
	rt := New("udp://self:9000", DefaultK, DefaultBucketCount)
	closest, err := rt.IsClosestTo(DeriveNodeID("udp://someone:1"))
	if err != nil {
		t.Fatal(err)
	}
	if !closest {
		t.Error("an empty bucket should always report self as closest")
	}
}

func TestFindBucketIndexOutOfRangeIsErrInvalid(t *testing.T) {
	rt := New("udp://self:9000", DefaultK, 0)
	_, err := rt.FindBucketIndex(rt.OwnID())
	if !errors.Is(err, dhterr.ErrInvalid) {
		t.Errorf("expected dhterr.ErrInvalid for a table with zero buckets, got %v", err)
	}
}

func TestRemoveNode(t *testing.T) {
	now := time.Now()
	rt := New("udp://self:9000", DefaultK, DefaultBucketCount)
	if err := rt.AddNode("udp://peer:1", now); err != nil {
		t.Fatal(err)
	}
	removed, err := rt.RemoveNode("udp://peer:1")
	if err != nil {
		t.Fatal(err)
	}
	if !removed {
		t.Error("RemoveNode reported not-found for a node just added")
	}
	if rt.Contains("udp://peer:1") {
		t.Error("table still contains a removed node")
	}
}
