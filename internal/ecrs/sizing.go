package ecrs

import "github.com/d42ejh/ilnyaplus-dev/internal/chk"

// DBlockCount returns D = ceil(fileLength / DBlockSize), the number
// of DBlocks a file splits into.
func DBlockCount(fileLength uint64) uint64 {
	d := fileLength / chk.DBlockSize
	if fileLength%chk.DBlockSize != 0 {
		d++
	}
	return d
}

// depthZeroIBlockCount returns W0 = ceil(D/256), with the edge case
// W0 = 1 when D = 1.
func depthZeroIBlockCount(dBlockCount uint64) uint64 {
	if dBlockCount == 1 {
		return 1
	}
	rem := dBlockCount % chk.IBlockCHKCapacity
	div := dBlockCount / chk.IBlockCHKCapacity
	if rem == 0 {
		return div
	}
	return div + 1
}

// narrow applies W_{n+1} = ceil(Wn/256) if Wn > 256 else 1.
func narrow(width uint64) uint64 {
	if width > chk.IBlockCHKCapacity {
		div := width / chk.IBlockCHKCapacity
		if width%chk.IBlockCHKCapacity != 0 {
			div++
		}
		return div
	}
	return 1
}

// TotalIBlockCount returns T = sum(Wn) over all depths until the
// first depth whose width is 1 (the root).
func TotalIBlockCount(dBlockCount uint64) uint64 {
	total := uint64(0)
	width := depthZeroIBlockCount(dBlockCount)
	total += width
	for width != 1 {
		width = narrow(width)
		total += width
	}
	return total
}

// NthDepthIBlockCount returns Wn, the IBlock count at depth n. Returns
// 0 if the tree does not reach depth n (i.e. the root was already
// reached at an earlier depth).
func NthDepthIBlockCount(dBlockCount, nth uint64) uint64 {
	width := depthZeroIBlockCount(dBlockCount)
	if nth == 0 {
		return width
	}
	loopCount := uint64(0)
	for loopCount < nth && width != 1 {
		loopCount++
		width = narrow(width)
		if loopCount == nth {
			return width
		}
	}
	return 0
}
