package ecrs

import (
	"testing"

	"github.com/d42ejh/ilnyaplus-dev/internal/chk"
)

func TestTreeSizingLaws(t *testing.T) {
	const dblk = chk.DBlockSize

	cases := []struct {
		name       string
		fileLength uint64
		wantD      uint64
		wantT      uint64
		widths     []uint64 // W0, W1, ...
	}{
		{"10 full dblocks", dblk * 10, 10, 1, []uint64{1, 0}},
		{"257 dblocks", dblk * 257, 257, 3, []uint64{2, 1}},
		{"257 dblocks plus one byte", dblk*257 + 1, 258, 3, []uint64{2, 1}},
		{"single byte file", 1, 1, 1, []uint64{1, 0}},
		{"1024 dblocks plus 7 bytes", dblk*1024 + 7, 1025, 6, []uint64{5, 1}},
		{"65534 dblocks", dblk * (dblk - 1) * 2, 65534, 257, []uint64{256, 1}},
		{"65790 dblocks", dblk*(dblk-1)*2 + chk.IBlockCHKCapacity*dblk, 65790, 260, []uint64{257, 2, 1}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			d := DBlockCount(c.fileLength)
			if d != c.wantD {
				t.Fatalf("DBlockCount = %d, want %d", d, c.wantD)
			}
			total := TotalIBlockCount(d)
			if total != c.wantT {
				t.Errorf("TotalIBlockCount = %d, want %d", total, c.wantT)
			}
			for depth, want := range c.widths {
				got := NthDepthIBlockCount(d, uint64(depth))
				if got != want {
					t.Errorf("NthDepthIBlockCount(depth=%d) = %d, want %d", depth, got, want)
				}
			}
		})
	}
}
