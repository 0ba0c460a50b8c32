package ecrs

import (
	"bytes"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/d42ejh/ilnyaplus-dev/internal/chk"
)

// writeRandomFile creates path with n random bytes and returns them.
func writeRandomFile(t *testing.T, path string, n int) []byte {
	t.Helper()
	data := make([]byte, n)
	if _, err := rand.Read(data); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return data
}

func encodeDecodeRoundTrip(t *testing.T, size int) ([]byte, []byte) {
	t.Helper()
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "source.bin")
	data := writeRandomFile(t, srcPath, size)

	blockDir := filepath.Join(dir, "blocks")
	if err := os.Mkdir(blockDir, 0o700); err != nil {
		t.Fatal(err)
	}
	root, err := EncodeFileToBlocks(srcPath, blockDir)
	if err != nil {
		t.Fatalf("EncodeFileToBlocks: %v", err)
	}

	outPath := filepath.Join(dir, "restored.bin")
	meta, err := DecodeBlocksToFile(root, blockDir, outPath)
	if err != nil {
		t.Fatalf("DecodeBlocksToFile: %v", err)
	}
	if meta.FileSize != uint64(size) {
		t.Errorf("meta.FileSize = %d, want %d", meta.FileSize, size)
	}
	if meta.FileName != "source.bin" {
		t.Errorf("meta.FileName = %q, want source.bin", meta.FileName)
	}

	got, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	return data, got
}

// TestEncodeDecodeSingleDBlock is spec.md §8 end-to-end scenario 1: a
// 32768-byte file (exactly one DBlock) yields D=1, T=1, and decode
// reproduces the file.
func TestEncodeDecodeSingleDBlock(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "source.bin")
	data := writeRandomFile(t, srcPath, chk.DBlockSize)

	blockDir := filepath.Join(dir, "blocks")
	if err := os.Mkdir(blockDir, 0o700); err != nil {
		t.Fatal(err)
	}
	root, err := EncodeFileToBlocks(srcPath, blockDir)
	if err != nil {
		t.Fatalf("EncodeFileToBlocks: %v", err)
	}
	if root.BFIndex != 0 {
		t.Errorf("root bf_index = %d, want 0", root.BFIndex)
	}
	if root.BlockType != chk.IBlock {
		t.Errorf("root block type = %s, want IBlock", root.BlockType)
	}

	bfs, err := OpenBlockFiles(blockDir)
	if err != nil {
		t.Fatal(err)
	}
	if bfs.D.N() != 0 {
		t.Errorf("blocks.d n() = %d, want 0 (one slot written, index 0)", bfs.D.N())
	}
	if bfs.ICHK.N() != 0 {
		t.Errorf("blocks.i.chk n() = %d, want 0", bfs.ICHK.N())
	}
	bfs.Close()

	outPath := filepath.Join(dir, "restored.bin")
	meta, err := DecodeBlocksToFile(root, blockDir, outPath)
	if err != nil {
		t.Fatalf("DecodeBlocksToFile: %v", err)
	}
	if meta.FileSize != chk.DBlockSize {
		t.Errorf("meta.FileSize = %d, want %d", meta.FileSize, chk.DBlockSize)
	}

	got, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Error("decoded file does not match source")
	}
}

// TestEncodeDecodeMultiDepthTree is spec.md §8 end-to-end scenario 2,
// shrunk to a depth-2 tree (W0=3 depth-0 IBlocks feeding a single
// root) rather than the literal W0=30 case, to keep the test's file
// size (and run time) reasonable; the tree-shape math itself is
// covered exhaustively by TestTreeSizingLaws.
func TestEncodeDecodeMultiDepthTree(t *testing.T) {
	size := chk.DBlockSize*chk.IBlockCHKCapacity*2 + chk.DBlockSize*5 // D = 512+5 = 517, W0 = 3
	data, got := encodeDecodeRoundTrip(t, size)
	if !bytes.Equal(got, data) {
		t.Error("decoded file does not match source")
	}
}

func TestEncodeDecodeSmallFile(t *testing.T) {
	data, got := encodeDecodeRoundTrip(t, 1)
	if !bytes.Equal(got, data) {
		t.Error("decoded single-byte file does not match source")
	}
}

func TestEncodeDecodeNonAlignedTrailingDBlock(t *testing.T) {
	data, got := encodeDecodeRoundTrip(t, chk.DBlockSize*2+17)
	if !bytes.Equal(got, data) {
		t.Error("decoded file does not match source")
	}
}

// TestConvergentEncryptionKeyOnly checks the DBlock key derives only
// from plaintext: encoding identical content in two separate
// directories yields the same DBlock key (but not necessarily the
// same ciphertext, since the IV is fresh each time) — spec.md §8.
func TestConvergentEncryptionKeyOnly(t *testing.T) {
	dir := t.TempDir()
	content := make([]byte, chk.DBlockSize)
	if _, err := rand.Read(content); err != nil {
		t.Fatal(err)
	}

	srcA := filepath.Join(dir, "a.bin")
	srcB := filepath.Join(dir, "b.bin")
	if err := os.WriteFile(srcA, content, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(srcB, content, 0o600); err != nil {
		t.Fatal(err)
	}

	blocksA := filepath.Join(dir, "blocks-a")
	blocksB := filepath.Join(dir, "blocks-b")
	os.Mkdir(blocksA, 0o700)
	os.Mkdir(blocksB, 0o700)

	if _, err := EncodeFileToBlocks(srcA, blocksA); err != nil {
		t.Fatal(err)
	}
	if _, err := EncodeFileToBlocks(srcB, blocksB); err != nil {
		t.Fatal(err)
	}

	bfsA, err := OpenBlockFiles(blocksA)
	if err != nil {
		t.Fatal(err)
	}
	defer bfsA.Close()
	bfsB, err := OpenBlockFiles(blocksB)
	if err != nil {
		t.Fatal(err)
	}
	defer bfsB.Close()

	dchkA, err := bfsA.DCHK.ReadNth(0)
	if err != nil {
		t.Fatal(err)
	}
	dchkB, err := bfsB.DCHK.ReadNth(0)
	if err != nil {
		t.Fatal(err)
	}
	chkA, err := chk.Deserialize(dchkA)
	if err != nil {
		t.Fatal(err)
	}
	chkB, err := chk.Deserialize(dchkB)
	if err != nil {
		t.Fatal(err)
	}
	if chkA.Key != chkB.Key {
		t.Error("convergent key differs between two encodes of identical plaintext")
	}
	if chkA.IV == chkB.IV {
		t.Error("IV unexpectedly identical across two independent encodes")
	}

	ctA, err := bfsA.D.ReadNth(0)
	if err != nil {
		t.Fatal(err)
	}
	ctB, err := bfsB.D.ReadNth(0)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(ctA, ctB) {
		t.Error("ciphertext identical despite distinct IVs")
	}
}

// TestDecodeDetectsTamperedCiphertext confirms decode rejects a block
// whose ciphertext no longer hashes to its CHK's query field.
func TestDecodeDetectsTamperedCiphertext(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "source.bin")
	writeRandomFile(t, srcPath, chk.DBlockSize)

	blockDir := filepath.Join(dir, "blocks")
	os.Mkdir(blockDir, 0o700)
	root, err := EncodeFileToBlocks(srcPath, blockDir)
	if err != nil {
		t.Fatal(err)
	}

	bfs, err := OpenBlockFiles(blockDir)
	if err != nil {
		t.Fatal(err)
	}
	ct, err := bfs.D.ReadNth(0)
	if err != nil {
		t.Fatal(err)
	}
	ct[0] ^= 0xFF
	if err := bfs.D.WriteNth(0, ct); err != nil {
		t.Fatal(err)
	}
	bfs.Close()

	outPath := filepath.Join(dir, "restored.bin")
	if _, err := DecodeBlocksToFile(root, blockDir, outPath); err == nil {
		t.Error("expected decode to fail on tampered ciphertext")
	}
}
