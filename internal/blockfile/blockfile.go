// Package blockfile implements the random-access container the ECRS
// codec uses to persist variable-length blocks: a flat file of
// fixed-capacity slots addressed by index, with no separate index
// structure. The header is 8 bytes: max_span_size, then n (the
// largest slot index ever written). Slot i begins at
// 8 + i*(4+max_span_size) and holds a u32 length prefix followed by
// max_span_size bytes (the tail zero-padded).
package blockfile

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/d42ejh/ilnyaplus-dev/internal/dhterr"
	"github.com/d42ejh/ilnyaplus-dev/internal/tlog"
)

const headerSize = 8 // u32 max_span_size + u32 n, little-endian

// BlockFile is a random-access array of variable-length blocks on a
// single file. WriteNth holds the BlockFile's mutex for the whole slot
// write and header update, so concurrent writes are serialized;
// ReadNth takes no lock.
type BlockFile struct {
	f           *os.File
	path        string
	maxSpanSize uint32
	mu          sync.Mutex // serializes WriteNth (slot write, n and the header write)
	n           uint32
}

// New creates a fresh block file at path with the given maximum slot
// payload size. Fails if the file already exists.
func New(path string, maxSpanSize uint32) (*BlockFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("blockfile: create %q: %w", path, err)
	}
	var hdr [headerSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], maxSpanSize)
	binary.LittleEndian.PutUint32(hdr[4:8], 0)
	if _, err := f.Write(hdr[:]); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("blockfile: write header %q: %w", path, err)
	}
	return &BlockFile{f: f, path: path, maxSpanSize: maxSpanSize}, nil
}

// Open opens an existing block file and reads its header.
func Open(path string) (*BlockFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("blockfile: stat %q: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("blockfile: %q is a directory: %w", path, dhterr.ErrInvalid)
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("blockfile: open %q: %w", path, err)
	}
	var hdr [headerSize]byte
	if _, err := readFull(f, hdr[:], 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("blockfile: read header %q: %w", path, err)
	}
	bf := &BlockFile{
		f:           f,
		path:        path,
		maxSpanSize: binary.LittleEndian.Uint32(hdr[0:4]),
		n:           binary.LittleEndian.Uint32(hdr[4:8]),
	}
	tlog.Debug.Printf("blockfile: opened %q maxSpanSize=%d n=%d", path, bf.maxSpanSize, bf.n)
	return bf, nil
}

func (bf *BlockFile) slotOffset(nth uint32) int64 {
	return headerSize + int64(nth)*(4+int64(bf.maxSpanSize))
}

// WriteNth writes buf to slot nth. len(buf) must not exceed the
// block file's max span size.
func (bf *BlockFile) WriteNth(nth uint32, buf []byte) error {
	if uint32(len(buf)) > bf.maxSpanSize {
		return fmt.Errorf("blockfile: buffer of %d bytes exceeds max span size %d: %w", len(buf), bf.maxSpanSize, dhterr.ErrInvalid)
	}

	bf.mu.Lock()
	defer bf.mu.Unlock()

	off := bf.slotOffset(nth)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(buf)))

	slot := make([]byte, 4+bf.maxSpanSize)
	copy(slot, lenBuf[:])
	copy(slot[4:], buf)
	// Remainder of slot is already zero (make() zero-initializes).

	if _, err := bf.f.WriteAt(slot, off); err != nil {
		return fmt.Errorf("blockfile: write slot %d: %w", nth, err)
	}

	nextN := bf.n
	if nth > nextN {
		nextN = nth
	}
	if nextN == bf.n {
		return nil
	}
	bf.n = nextN
	var nBuf [4]byte
	binary.LittleEndian.PutUint32(nBuf[:], bf.n)
	if _, err := bf.f.WriteAt(nBuf[:], 4); err != nil {
		return fmt.Errorf("blockfile: update n field: %w", err)
	}
	return nil
}

// ReadNth reads slot nth's payload back.
func (bf *BlockFile) ReadNth(nth uint32) ([]byte, error) {
	off := bf.slotOffset(nth)

	var lenBuf [4]byte
	if _, err := readFull(bf.f, lenBuf[:], off); err != nil {
		return nil, fmt.Errorf("blockfile: read slot %d length: %w", nth, err)
	}
	span := binary.LittleEndian.Uint32(lenBuf[:])
	if span > bf.maxSpanSize {
		return nil, fmt.Errorf("blockfile: slot %d reports length %d > max span size %d: %w", nth, span, bf.maxSpanSize, dhterr.ErrCorrupted)
	}
	buf := make([]byte, span)
	if span > 0 {
		if _, err := readFull(bf.f, buf, off+4); err != nil {
			return nil, fmt.Errorf("blockfile: read slot %d payload: %w", nth, err)
		}
	}
	return buf, nil
}

// N returns the largest slot index ever written.
func (bf *BlockFile) N() uint32 {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	return bf.n
}

// MaxSpanSize returns the block file's fixed slot payload capacity.
func (bf *BlockFile) MaxSpanSize() uint32 {
	return bf.maxSpanSize
}

// Close releases the underlying file handle.
func (bf *BlockFile) Close() error {
	return bf.f.Close()
}

func readFull(f *os.File, buf []byte, off int64) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := f.ReadAt(buf[total:], off+int64(total))
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
