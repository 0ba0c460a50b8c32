// Package chk implements the Content-Hash Key and block payload
// schemas: CHK, BlockHeader, DBlock, IBlock and MetaData, plus their
// fixed-width binary encodings. The wire/file format is a hand-rolled
// binary layout (encoding/binary, no reflection-based codec) in the
// style this corpus uses for P2P archive formats rather than a
// generic serialization library — see DESIGN.md.
package chk

import (
	"encoding/binary"
	"fmt"

	"github.com/d42ejh/ilnyaplus-dev/internal/dhterr"
)

// BlockType distinguishes DBlock, IBlock and the reserved KBlock.
type BlockType uint32

const (
	IBlock BlockType = 0
	DBlock BlockType = 1
	KBlock BlockType = 2
)

func (t BlockType) String() string {
	switch t {
	case IBlock:
		return "IBlock"
	case DBlock:
		return "DBlock"
	case KBlock:
		return "KBlock"
	default:
		return fmt.Sprintf("BlockType(%d)", uint32(t))
	}
}

const (
	keySize   = 32 // SHA3-256 double-hash
	ivSize    = 12 // ChaCha20-Poly1305 nonce size
	querySize = 64 // SHA3-512 of ciphertext

	// SerializedSize is the CHK's fixed on-disk/wire size: 32 (key) +
	// 12 (iv) + 64 (query) + 4 (block_type) + 4 (bf_index) + 24 bytes
	// reserved padding = 140, matching spec.md §3's fixed-width
	// invariant and the CHK block-file's single slot width.
	SerializedSize = keySize + ivSize + querySize + 4 + 4 + reservedSize
	reservedSize   = 24
)

// CHK is the Content-Hash Key tuple: (key, iv, query, block_type,
// bf_index). Only DBlock and IBlock CHKs are ever serialized.
type CHK struct {
	Key       [keySize]byte
	IV        [ivSize]byte
	Query     [querySize]byte
	BlockType BlockType
	BFIndex   uint32
}

// New constructs a CHK, asserting the invariant that only DBlock and
// IBlock CHKs are persisted (KBlock is reserved and unimplemented).
func New(key [keySize]byte, iv [ivSize]byte, query [querySize]byte, blockType BlockType, bfIndex uint32) (CHK, error) {
	if blockType != DBlock && blockType != IBlock {
		return CHK{}, fmt.Errorf("chk: block type %s is not serializable: %w", blockType, dhterr.ErrInvalid)
	}
	return CHK{Key: key, IV: iv, Query: query, BlockType: blockType, BFIndex: bfIndex}, nil
}

// Serialize encodes the CHK into its fixed 140-byte representation.
func (c CHK) Serialize() ([]byte, error) {
	if c.BlockType != DBlock && c.BlockType != IBlock {
		return nil, fmt.Errorf("chk: block type %s is not serializable: %w", c.BlockType, dhterr.ErrInvalid)
	}
	buf := make([]byte, SerializedSize)
	off := 0
	copy(buf[off:], c.Key[:])
	off += keySize
	copy(buf[off:], c.IV[:])
	off += ivSize
	copy(buf[off:], c.Query[:])
	off += querySize
	binary.LittleEndian.PutUint32(buf[off:], uint32(c.BlockType))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], c.BFIndex)
	off += 4
	// Remaining reservedSize bytes stay zero.
	return buf, nil
}

// Deserialize decodes a CHK from its fixed 140-byte representation.
func Deserialize(buf []byte) (CHK, error) {
	if len(buf) != SerializedSize {
		return CHK{}, fmt.Errorf("chk: expected %d bytes, got %d: %w", SerializedSize, len(buf), dhterr.ErrCorrupted)
	}
	var c CHK
	off := 0
	copy(c.Key[:], buf[off:off+keySize])
	off += keySize
	copy(c.IV[:], buf[off:off+ivSize])
	off += ivSize
	copy(c.Query[:], buf[off:off+querySize])
	off += querySize
	c.BlockType = BlockType(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	c.BFIndex = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	if c.BlockType != DBlock && c.BlockType != IBlock {
		return CHK{}, fmt.Errorf("chk: decoded block type %s: %w", c.BlockType, dhterr.ErrCorrupted)
	}
	return c, nil
}
