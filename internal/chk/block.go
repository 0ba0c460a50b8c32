package chk

import (
	"encoding/binary"
	"fmt"

	"github.com/d42ejh/ilnyaplus-dev/internal/dhterr"
)

// DBlockSize is the canonical DBlock payload size (32 KiB); only the
// file's final DBlock may be shorter.
const DBlockSize = 32 * 1024

// MaxEncryptedDBlockSize bounds the ciphertext a DBlock produces:
// header(4) + up to DBlockSize data bytes + AEAD tag (16 bytes) = 32788,
// plus 8 bytes of slack, giving a block-file slot size of 32796.
const MaxEncryptedDBlockSize = DBlockSize + blockHeaderSize + 16 + 8

// IBlockCHKCapacity is the maximum number of child CHKs an IBlock may
// hold (256).
const IBlockCHKCapacity = 256

// MaxEncryptedIBlockSize bounds the ciphertext a full IBlock produces.
const MaxEncryptedIBlockSize = IBlockCHKCapacity*SerializedSize + blockHeaderSize + maxMetaDataSize + 16 + 8

const maxMetaDataSize = 4 + 4096 + 8 // length-prefixed file name (capped) + file size

const blockHeaderSize = 4

// BlockHeader is the 4-byte prefix shared by every serialized block.
type BlockHeader struct {
	BlockType BlockType
}

func (h BlockHeader) serializeInto(buf []byte) {
	binary.LittleEndian.PutUint32(buf, uint32(h.BlockType))
}

func deserializeBlockHeader(buf []byte) BlockHeader {
	return BlockHeader{BlockType: BlockType(binary.LittleEndian.Uint32(buf))}
}

// MetaData carries the tree root's file name and size.
type MetaData struct {
	FileName string
	FileSize uint64
}

func (m MetaData) serialize() []byte {
	name := []byte(m.FileName)
	buf := make([]byte, 4+len(name)+8)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(name)))
	copy(buf[4:], name)
	binary.LittleEndian.PutUint64(buf[4+len(name):], m.FileSize)
	return buf
}

func deserializeMetaData(buf []byte) (MetaData, int, error) {
	if len(buf) < 4 {
		return MetaData{}, 0, fmt.Errorf("metadata: truncated length prefix: %w", dhterr.ErrCorrupted)
	}
	nameLen := int(binary.LittleEndian.Uint32(buf[0:4]))
	need := 4 + nameLen + 8
	if len(buf) < need {
		return MetaData{}, 0, fmt.Errorf("metadata: truncated body: %w", dhterr.ErrCorrupted)
	}
	name := string(buf[4 : 4+nameLen])
	size := binary.LittleEndian.Uint64(buf[4+nameLen : need])
	return MetaData{FileName: name, FileSize: size}, need, nil
}

// DBlockPayload is the plaintext serialized form hashed to derive the
// convergent encryption key: header + data.
type DBlockPayload struct {
	Data []byte
}

// Serialize encodes the DBlock's plaintext form (header + raw bytes).
// This is what gets double-hashed for the convergent key, not the
// ciphertext.
func (d DBlockPayload) Serialize() []byte {
	buf := make([]byte, blockHeaderSize+len(d.Data))
	BlockHeader{BlockType: DBlock}.serializeInto(buf[:blockHeaderSize])
	copy(buf[blockHeaderSize:], d.Data)
	return buf
}

// DeserializeDBlockPayload parses a plaintext DBlock payload.
func DeserializeDBlockPayload(buf []byte) (DBlockPayload, error) {
	if len(buf) < blockHeaderSize {
		return DBlockPayload{}, fmt.Errorf("dblock: truncated header: %w", dhterr.ErrCorrupted)
	}
	hdr := deserializeBlockHeader(buf[:blockHeaderSize])
	if hdr.BlockType != DBlock {
		return DBlockPayload{}, fmt.Errorf("dblock: header says %s: %w", hdr.BlockType, dhterr.ErrCorrupted)
	}
	data := make([]byte, len(buf)-blockHeaderSize)
	copy(data, buf[blockHeaderSize:])
	return DBlockPayload{Data: data}, nil
}

// IBlockPayload is the plaintext serialized form of an index block:
// header + up to 256 child CHKs + optional MetaData (root only).
type IBlockPayload struct {
	CHKs     []CHK
	MetaData *MetaData // nil unless this is the tree root
}

// Serialize encodes the IBlock's plaintext form.
func (b IBlockPayload) Serialize() ([]byte, error) {
	if len(b.CHKs) == 0 || len(b.CHKs) > IBlockCHKCapacity {
		return nil, fmt.Errorf("iblock: chk count %d out of [1,%d]: %w", len(b.CHKs), IBlockCHKCapacity, dhterr.ErrInvalid)
	}
	buf := make([]byte, blockHeaderSize)
	BlockHeader{BlockType: IBlock}.serializeInto(buf)

	countBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(countBuf, uint32(len(b.CHKs)))
	buf = append(buf, countBuf...)

	for _, c := range b.CHKs {
		enc, err := c.Serialize()
		if err != nil {
			return nil, err
		}
		buf = append(buf, enc...)
	}

	hasMeta := byte(0)
	if b.MetaData != nil {
		hasMeta = 1
	}
	buf = append(buf, hasMeta)
	if b.MetaData != nil {
		buf = append(buf, b.MetaData.serialize()...)
	}
	return buf, nil
}

// DeserializeIBlockPayload parses a plaintext IBlock payload.
func DeserializeIBlockPayload(buf []byte) (IBlockPayload, error) {
	if len(buf) < blockHeaderSize+4 {
		return IBlockPayload{}, fmt.Errorf("iblock: truncated header: %w", dhterr.ErrCorrupted)
	}
	hdr := deserializeBlockHeader(buf[:blockHeaderSize])
	if hdr.BlockType != IBlock {
		return IBlockPayload{}, fmt.Errorf("iblock: header says %s: %w", hdr.BlockType, dhterr.ErrCorrupted)
	}
	off := blockHeaderSize
	count := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	if count < 1 || count > IBlockCHKCapacity {
		return IBlockPayload{}, fmt.Errorf("iblock: chk count %d out of range: %w", count, dhterr.ErrCorrupted)
	}
	chks := make([]CHK, 0, count)
	for i := 0; i < count; i++ {
		if off+SerializedSize > len(buf) {
			return IBlockPayload{}, fmt.Errorf("iblock: truncated chk %d: %w", i, dhterr.ErrCorrupted)
		}
		c, err := Deserialize(buf[off : off+SerializedSize])
		if err != nil {
			return IBlockPayload{}, err
		}
		chks = append(chks, c)
		off += SerializedSize
	}
	if off >= len(buf) {
		return IBlockPayload{}, fmt.Errorf("iblock: truncated metadata flag: %w", dhterr.ErrCorrupted)
	}
	hasMeta := buf[off] != 0
	off++
	var meta *MetaData
	if hasMeta {
		m, _, err := deserializeMetaData(buf[off:])
		if err != nil {
			return IBlockPayload{}, err
		}
		meta = &m
	}
	return IBlockPayload{CHKs: chks, MetaData: meta}, nil
}
