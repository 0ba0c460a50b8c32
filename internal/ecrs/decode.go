package ecrs

import (
	"container/list"
	"fmt"
	"os"

	"github.com/d42ejh/ilnyaplus-dev/internal/chk"
	"github.com/d42ejh/ilnyaplus-dev/internal/cryptocore"
	"github.com/d42ejh/ilnyaplus-dev/internal/dhterr"
)

// DecodeBlocksToFile walks the IBlock tree rooted at root, reading
// ciphertext for each block from the block-files under blockFileDir,
// and reconstitutes the original file at outputPath. It returns the
// MetaData recorded at the tree root.
//
// Per spec.md §4.4, a DBlock CHK's bf_index equals its original offset
// in units of DBlockSize, so decode may process CHKs in any order:
// each DBlock is written with WriteAt at bf_index*DBlockSize rather
// than relying on traversal order, and the final DBlock's write is
// clipped to metadata.file_size so trailing zero-padding never lands
// past the end of the reconstituted file.
func DecodeBlocksToFile(root chk.CHK, blockFileDir, outputPath string) (chk.MetaData, error) {
	bfs, err := OpenBlockFiles(blockFileDir)
	if err != nil {
		return chk.MetaData{}, err
	}
	defer bfs.Close()

	out, err := os.Create(outputPath)
	if err != nil {
		return chk.MetaData{}, fmt.Errorf("ecrs: create %q: %w", outputPath, err)
	}
	defer out.Close()

	var meta *chk.MetaData
	queue := list.New()
	queue.PushBack(root)

	for queue.Len() > 0 {
		front := queue.Front()
		queue.Remove(front)
		c := front.Value.(chk.CHK)

		switch c.BlockType {
		case chk.IBlock:
			plaintext, err := readAndDecrypt(bfs.I, c)
			if err != nil {
				return chk.MetaData{}, err
			}
			payload, err := chk.DeserializeIBlockPayload(plaintext)
			if err != nil {
				return chk.MetaData{}, err
			}
			if payload.MetaData != nil {
				meta = payload.MetaData
			}
			for _, child := range payload.CHKs {
				queue.PushBack(child)
			}

		case chk.DBlock:
			plaintext, err := readAndDecrypt(bfs.D, c)
			if err != nil {
				return chk.MetaData{}, err
			}
			payload, err := chk.DeserializeDBlockPayload(plaintext)
			if err != nil {
				return chk.MetaData{}, err
			}
			if err := writeDBlockAt(out, c.BFIndex, payload.Data, meta); err != nil {
				return chk.MetaData{}, err
			}

		default:
			return chk.MetaData{}, fmt.Errorf("ecrs: unexpected block type %s in tree: %w", c.BlockType, dhterr.ErrCorrupted)
		}
	}

	if meta == nil {
		return chk.MetaData{}, fmt.Errorf("ecrs: tree root carried no metadata: %w", dhterr.ErrCorrupted)
	}
	return *meta, nil
}

// writeDBlockAt writes data at its original file position, clipping
// to the final file size when meta is already known (it always is by
// the time a DBlock is dequeued, since the root is processed first).
func writeDBlockAt(out *os.File, bfIndex uint32, data []byte, meta *chk.MetaData) error {
	offset := int64(bfIndex) * int64(chk.DBlockSize)
	want := data
	if meta != nil {
		if offset >= int64(meta.FileSize) {
			return nil
		}
		if remain := int64(meta.FileSize) - offset; remain < int64(len(want)) {
			want = want[:remain]
		}
	}
	if _, err := out.WriteAt(want, offset); err != nil {
		return fmt.Errorf("ecrs: write dblock %d to output: %w", bfIndex, err)
	}
	return nil
}

type blockReader interface {
	ReadNth(nth uint32) ([]byte, error)
}

// readAndDecrypt fetches the ciphertext for c's bf_index, verifies it
// hashes to c.Query (the self-verifying property every ECRS block
// must satisfy), and decrypts it.
func readAndDecrypt(store blockReader, c chk.CHK) ([]byte, error) {
	ciphertext, err := store.ReadNth(c.BFIndex)
	if err != nil {
		return nil, fmt.Errorf("ecrs: read block %d: %w", c.BFIndex, err)
	}
	if cryptocore.QueryHash(ciphertext) != c.Query {
		return nil, fmt.Errorf("ecrs: block %d fails query-hash verification: %w", c.BFIndex, dhterr.ErrCorrupted)
	}
	plaintext, err := cryptocore.Open(c.Key, c.IV, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("ecrs: decrypt block %d: %w", c.BFIndex, err)
	}
	return plaintext, nil
}
