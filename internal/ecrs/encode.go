// Package ecrs implements the ECRS (Encoding for Censorship-Resistant
// Sharing) encoder/decoder: it splits a file into a tree of encrypted,
// content-addressed DBlocks and IBlocks and can reconstitute the
// original file from that tree. See spec.md §4.3/§4.4.
package ecrs

import (
	"container/list"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/d42ejh/ilnyaplus-dev/internal/blockfile"
	"github.com/d42ejh/ilnyaplus-dev/internal/chk"
	"github.com/d42ejh/ilnyaplus-dev/internal/cryptocore"
	"github.com/d42ejh/ilnyaplus-dev/internal/dhterr"
	"github.com/d42ejh/ilnyaplus-dev/internal/parallelcrypto"
	"github.com/d42ejh/ilnyaplus-dev/internal/tlog"
)

// Block-file names within an encode target directory, fixed by
// spec.md §4.3.
const (
	DBlockFileName    = "blocks.d"
	DBlockCHKFileName = "blocks.d.chk"
	IBlockFileName    = "blocks.i"
	IBlockCHKFileName = "blocks.i.chk"
)

// BlockFiles bundles the four open block-files an encode or decode
// operates on, plus their directory, so callers can manage the set's
// lifetime together.
type BlockFiles struct {
	Dir  string
	D    *blockfile.BlockFile
	DCHK *blockfile.BlockFile
	I    *blockfile.BlockFile
	ICHK *blockfile.BlockFile
}

// CreateBlockFiles creates the four fresh block-files for an encode
// under dir.
func CreateBlockFiles(dir string) (*BlockFiles, error) {
	d, err := blockfile.New(filepath.Join(dir, DBlockFileName), chk.MaxEncryptedDBlockSize)
	if err != nil {
		return nil, err
	}
	dchk, err := blockfile.New(filepath.Join(dir, DBlockCHKFileName), chk.SerializedSize)
	if err != nil {
		d.Close()
		return nil, err
	}
	i, err := blockfile.New(filepath.Join(dir, IBlockFileName), chk.MaxEncryptedIBlockSize)
	if err != nil {
		d.Close()
		dchk.Close()
		return nil, err
	}
	ichk, err := blockfile.New(filepath.Join(dir, IBlockCHKFileName), chk.SerializedSize)
	if err != nil {
		d.Close()
		dchk.Close()
		i.Close()
		return nil, err
	}
	return &BlockFiles{Dir: dir, D: d, DCHK: dchk, I: i, ICHK: ichk}, nil
}

// OpenBlockFiles opens the four existing block-files under dir for
// decode.
func OpenBlockFiles(dir string) (*BlockFiles, error) {
	d, err := blockfile.Open(filepath.Join(dir, DBlockFileName))
	if err != nil {
		return nil, err
	}
	dchk, err := blockfile.Open(filepath.Join(dir, DBlockCHKFileName))
	if err != nil {
		d.Close()
		return nil, err
	}
	i, err := blockfile.Open(filepath.Join(dir, IBlockFileName))
	if err != nil {
		d.Close()
		dchk.Close()
		return nil, err
	}
	ichk, err := blockfile.Open(filepath.Join(dir, IBlockCHKFileName))
	if err != nil {
		d.Close()
		dchk.Close()
		i.Close()
		return nil, err
	}
	return &BlockFiles{Dir: dir, D: d, DCHK: dchk, I: i, ICHK: ichk}, nil
}

// Close releases all four block-file handles.
func (bf *BlockFiles) Close() error {
	var firstErr error
	for _, c := range []*blockfile.BlockFile{bf.D, bf.DCHK, bf.I, bf.ICHK} {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// EncodeFileToBlocks splits filePath into DBlocks and an IBlock tree,
// writing ciphertext and CHKs into four block-files under
// blockFileDir, and returns the root IBlock's CHK. blockFileDir must
// already exist and be empty of these four file names.
func EncodeFileToBlocks(filePath, blockFileDir string) (chk.CHK, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return chk.CHK{}, fmt.Errorf("ecrs: stat %q: %w", filePath, err)
	}
	if info.IsDir() {
		return chk.CHK{}, fmt.Errorf("ecrs: %q is a directory: %w", filePath, dhterr.ErrInvalid)
	}
	f, err := os.Open(filePath)
	if err != nil {
		return chk.CHK{}, fmt.Errorf("ecrs: open %q: %w", filePath, err)
	}
	defer f.Close()

	bfs, err := CreateBlockFiles(blockFileDir)
	if err != nil {
		return chk.CHK{}, err
	}
	defer bfs.Close()

	fileLength := uint64(info.Size())
	meta := chk.MetaData{FileName: filepath.Base(filePath), FileSize: fileLength}

	dBlockCount := DBlockCount(fileLength)
	totalIBlocks := TotalIBlockCount(dBlockCount)
	onlyOneIBlock := totalIBlocks == 1

	if err := writeDBlocks(f, fileLength, dBlockCount, bfs); err != nil {
		return chk.CHK{}, err
	}
	tlog.Debug.Printf("ecrs: encoded %d dblocks", dBlockCount)

	return buildIBlockTree(bfs, dBlockCount, totalIBlocks, onlyOneIBlock, meta)
}

// dblockResult holds one writeDBlocks worker's output: the sealed
// ciphertext and its CHK, or the error that aborted it.
type dblockResult struct {
	c          chk.CHK
	ciphertext []byte
	err        error
}

// writeDBlocks reads and seals every DBlock (the last one holds only
// the file's remaining bytes; nothing is padded). Sealing is
// per-block CPU work with no cross-block dependency, so it is fanned
// out across parallelcrypto's worker pool (internal/parallelcrypto,
// adapted from the teacher's pack-mate of the same name); the actual
// slot writes stay sequential, serialized by BlockFile's own mutex.
func writeDBlocks(f *os.File, fileLength, dBlockCount uint64, bfs *BlockFiles) error {
	if dBlockCount == 0 {
		return nil
	}

	results := make([]dblockResult, dBlockCount)
	sealOne := func(i uint64) {
		seekPos := i * chk.DBlockSize
		buf := make([]byte, chk.DBlockSize)
		want := buf
		if i == dBlockCount-1 {
			want = buf[:fileLength-seekPos]
		}
		if _, err := f.ReadAt(want, int64(seekPos)); err != nil && err != io.EOF {
			results[i] = dblockResult{err: fmt.Errorf("ecrs: read dblock %d: %w", i, err)}
			return
		}
		payload := chk.DBlockPayload{Data: want}
		c, ciphertext, err := encryptPayload(payload.Serialize(), chk.DBlock, uint32(i))
		results[i] = dblockResult{c: c, ciphertext: ciphertext, err: err}
	}

	pc := parallelcrypto.New()
	pc.ProcessBlocksParallel(int(dBlockCount), func(start, end int) {
		for i := start; i < end; i++ {
			sealOne(uint64(i))
		}
	})
	pc.LogPerformanceInfo()

	for i := uint64(0); i < dBlockCount; i++ {
		r := results[i]
		if r.err != nil {
			return r.err
		}
		if err := bfs.D.WriteNth(uint32(i), r.ciphertext); err != nil {
			return fmt.Errorf("ecrs: write dblock %d: %w", i, err)
		}
		encCHK, err := r.c.Serialize()
		if err != nil {
			return err
		}
		if err := bfs.DCHK.WriteNth(uint32(i), encCHK); err != nil {
			return fmt.Errorf("ecrs: write dblock chk %d: %w", i, err)
		}
	}
	return nil
}

// buildIBlockTree implements spec.md §4.3 Step 2 exactly: depth-0
// IBlocks are built left-to-right consuming DBlock CHKs, then each
// subsequent depth consumes up to 256 CHKs from the previous depth's
// output queue, until the queue narrows to the single root.
func buildIBlockTree(bfs *BlockFiles, dBlockCount, totalIBlocks uint64, onlyOneIBlock bool, meta chk.MetaData) (chk.CHK, error) {
	queue := list.New()
	bfIndexBase := totalIBlocks - NthDepthIBlockCount(dBlockCount, 0)
	currentIBlockCount := uint64(0)
	currentDBlockChkCount := uint64(0)

	for currentDBlockChkCount != dBlockCount {
		take := uint64(chk.IBlockCHKCapacity)
		if remaining := dBlockCount - currentDBlockChkCount; remaining < take {
			take = remaining
		}
		chks := make([]chk.CHK, 0, take)
		for i := uint64(0); i < take; i++ {
			idx := currentDBlockChkCount + i
			buf, err := bfs.DCHK.ReadNth(uint32(idx))
			if err != nil {
				return chk.CHK{}, fmt.Errorf("ecrs: read dblock chk %d: %w", idx, err)
			}
			c, err := chk.Deserialize(buf)
			if err != nil {
				return chk.CHK{}, err
			}
			chks = append(chks, c)
		}

		bfIndex := bfIndexBase + currentIBlockCount
		payload := chk.IBlockPayload{CHKs: chks}
		if onlyOneIBlock {
			payload.MetaData = &meta
		}
		encoded, err := payload.Serialize()
		if err != nil {
			return chk.CHK{}, err
		}
		c, ciphertext, err := encryptPayload(encoded, chk.IBlock, uint32(bfIndex))
		if err != nil {
			return chk.CHK{}, err
		}
		if err := bfs.I.WriteNth(uint32(bfIndex), ciphertext); err != nil {
			return chk.CHK{}, fmt.Errorf("ecrs: write iblock %d: %w", bfIndex, err)
		}
		if !onlyOneIBlock {
			enc, err := c.Serialize()
			if err != nil {
				return chk.CHK{}, err
			}
			if err := bfs.ICHK.WriteNth(uint32(bfIndex), enc); err != nil {
				return chk.CHK{}, fmt.Errorf("ecrs: write iblock chk %d: %w", bfIndex, err)
			}
		}
		queue.PushBack(c)

		currentDBlockChkCount += take
		currentIBlockCount++
	}

	if onlyOneIBlock {
		c := queue.Front().Value.(chk.CHK)
		enc, err := c.Serialize()
		if err != nil {
			return chk.CHK{}, err
		}
		if err := bfs.ICHK.WriteNth(0, enc); err != nil {
			return chk.CHK{}, fmt.Errorf("ecrs: write root iblock chk: %w", err)
		}
		return c, nil
	}

	currentDepth := uint64(1)
	for queue.Len() > 1 {
		depthCount := NthDepthIBlockCount(dBlockCount, currentDepth)
		totalRemaining := totalIBlocks - currentIBlockCount
		nextQueue := list.New()

		for i := uint64(0); i < depthCount; i++ {
			available := uint64(queue.Len())
			take := uint64(chk.IBlockCHKCapacity)
			if available < take {
				take = available
			}
			chks := make([]chk.CHK, 0, take)
			for j := uint64(0); j < take; j++ {
				front := queue.Front()
				chks = append(chks, front.Value.(chk.CHK))
				queue.Remove(front)
			}

			bfIndex := totalRemaining - depthCount + i
			payload := chk.IBlockPayload{CHKs: chks}
			isRoot := bfIndex == 0
			if isRoot {
				payload.MetaData = &meta
			}
			encoded, err := payload.Serialize()
			if err != nil {
				return chk.CHK{}, err
			}
			c, ciphertext, err := encryptPayload(encoded, chk.IBlock, uint32(bfIndex))
			if err != nil {
				return chk.CHK{}, err
			}
			if err := bfs.I.WriteNth(uint32(bfIndex), ciphertext); err != nil {
				return chk.CHK{}, fmt.Errorf("ecrs: write iblock %d: %w", bfIndex, err)
			}
			enc, err := c.Serialize()
			if err != nil {
				return chk.CHK{}, err
			}
			if err := bfs.ICHK.WriteNth(uint32(bfIndex), enc); err != nil {
				return chk.CHK{}, fmt.Errorf("ecrs: write iblock chk %d: %w", bfIndex, err)
			}
			if isRoot {
				return c, nil
			}
			nextQueue.PushBack(c)
			currentIBlockCount++
		}
		queue = nextQueue
		currentDepth++
	}

	return chk.CHK{}, fmt.Errorf("ecrs: ran off the end of the tree-building loop without reaching a root (dBlockCount=%d)", dBlockCount)
}

// encryptPayload double-hashes plaintext for the convergent key,
// encrypts with a fresh IV, and hashes the ciphertext for the query.
func encryptPayload(plaintext []byte, blockType chk.BlockType, bfIndex uint32) (chk.CHK, []byte, error) {
	key := cryptocore.DoubleHashKey(plaintext)
	iv, err := cryptocore.RandomIV()
	if err != nil {
		return chk.CHK{}, nil, err
	}
	ciphertext, err := cryptocore.Seal(key, iv, plaintext)
	if err != nil {
		return chk.CHK{}, nil, err
	}
	query := cryptocore.QueryHash(ciphertext)
	c, err := chk.New(key, iv, query, blockType, bfIndex)
	if err != nil {
		return chk.CHK{}, nil, err
	}
	return c, ciphertext, nil
}
