package routingtable

import "testing"

// TestLeadingZeroBits mirrors cocoon-core's u8_slice_clz_test.
func TestLeadingZeroBits(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		want int
	}{
		{"all zero (4 bytes)", []byte{0, 0, 0, 0}, 32},
		{"all zero (1 byte)", []byte{0}, 8},
		{"1 big-endian 4 bytes", []byte{0, 0, 0, 1}, 31},
		{"1 single byte", []byte{1}, 7},
		{"42 single byte", []byte{42}, 2},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var id NodeID
			copy(id[IDSize-len(c.in):], c.in)
			got := leadingZeroBits(id) - (IDSize-len(c.in))*8
			if got != c.want {
				t.Errorf("leadingZeroBits = %d, want %d", got, c.want)
			}
		})
	}
}

// TestBucketIndexSelfDistanceIsMaximal mirrors cocoon-core's
// calculate_bucket_index_test: an id's distance to itself is zero, so
// its bucket index is the full id width in bits.
func TestBucketIndexSelfDistanceIsMaximal(t *testing.T) {
	id := DeriveNodeID("udp://127.0.0.1:9000")
	if got := BucketIndex(id, id); got != IDSize*8 {
		t.Errorf("BucketIndex(id, id) = %d, want %d", got, IDSize*8)
	}
}

func TestBucketIndexDistinctEndpointsRarelyMaximal(t *testing.T) {
	a := DeriveNodeID("udp://127.0.0.1:9000")
	b := DeriveNodeID("udp://127.0.0.1:9001")
	if BucketIndex(a, b) == IDSize*8 {
		t.Error("distinct endpoints hashed to the same node id")
	}
}

func TestDeriveNodeIDIsDeterministic(t *testing.T) {
	a := DeriveNodeID("udp://10.0.0.1:1234")
	b := DeriveNodeID("udp://10.0.0.1:1234")
	if a != b {
		t.Error("DeriveNodeID is not deterministic for identical input")
	}
}
