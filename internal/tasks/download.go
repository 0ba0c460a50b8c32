package tasks

import (
	"container/list"
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/d42ejh/ilnyaplus-dev/internal/chk"
	"github.com/d42ejh/ilnyaplus-dev/internal/cryptocore"
	"github.com/d42ejh/ilnyaplus-dev/internal/dht"
	"github.com/d42ejh/ilnyaplus-dev/internal/dhterr"
	"github.com/d42ejh/ilnyaplus-dev/internal/taskpath"
	"github.com/d42ejh/ilnyaplus-dev/internal/tlog"
)

// DownloadTask fetches the file rooted at RootCHK out of the DHT and
// reconstitutes it at OutputPath. original_source's download_task.rs
// and download_manager/mod.rs define only the struct shape for this
// ("//todo" where the body belongs); the fetch-and-reassemble logic
// below is new, built from spec.md §4.4's local-decode algorithm plus
// C7's do_find_value, substituting a network fetch for each block in
// place of ecrs.DecodeBlocksToFile's local block-file reads (§4.4a).
type DownloadTask struct {
	ID         uuid.UUID
	RootCHK    chk.CHK
	OutputPath string
	Done       bool
}

// Run walks the IBlock tree rooted at t.RootCHK breadth-first,
// fetching each block's ciphertext from the network rather than a
// local block-file, hash-verifying it against the block's query
// before decrypting, and writing DBlock payloads at their bf_index
// offset. A corrupted block aborts the task with no partial output:
// the destination file is only created once the whole tree has been
// fetched successfully.
func (t *DownloadTask) Run(ctx context.Context, mgr *dht.Manager) error {
	if err := taskpath.ValidateWorkingDir(parentDir(t.OutputPath)); err != nil {
		return err
	}

	type pending struct {
		data []byte
		c    chk.CHK
	}
	var fetched []pending
	var meta *chk.MetaData

	queue := list.New()
	queue.PushBack(t.RootCHK)

	for queue.Len() > 0 {
		front := queue.Front()
		queue.Remove(front)
		c := front.Value.(chk.CHK)

		plaintext, err := fetchAndDecrypt(ctx, mgr, c)
		if err != nil {
			return fmt.Errorf("tasks: download %s: %w", t.ID, err)
		}

		switch c.BlockType {
		case chk.IBlock:
			payload, err := chk.DeserializeIBlockPayload(plaintext)
			if err != nil {
				return err
			}
			if payload.MetaData != nil {
				meta = payload.MetaData
			}
			for _, child := range payload.CHKs {
				queue.PushBack(child)
			}
		case chk.DBlock:
			payload, err := chk.DeserializeDBlockPayload(plaintext)
			if err != nil {
				return err
			}
			fetched = append(fetched, pending{data: payload.Data, c: c})
		default:
			return fmt.Errorf("tasks: unexpected block type %s in tree: %w", c.BlockType, dhterr.ErrCorrupted)
		}
	}

	if meta == nil {
		return fmt.Errorf("tasks: download %s: tree root carried no metadata: %w", t.ID, dhterr.ErrCorrupted)
	}

	out, err := os.Create(t.OutputPath)
	if err != nil {
		return fmt.Errorf("tasks: create %q: %w", t.OutputPath, err)
	}
	defer out.Close()

	for _, p := range fetched {
		if err := writeDBlockAt(out, p.c.BFIndex, p.data, meta); err != nil {
			return err
		}
	}

	t.Done = true
	return nil
}

// fetchAndDecrypt mirrors ecrs/decode.go's readAndDecrypt, substituting
// a network find-value for a local block-file read: the ciphertext
// comes from mgr.FindValueInNetwork(c.Query) instead of
// blockReader.ReadNth(c.BFIndex). Open Question 6's hash-verification
// requirement is re-checked explicitly here even though
// FindValueInNetwork's underlying DoFindValue already verifies against
// the request key, since the request key and c.Query are the same
// value and this keeps the invariant visible at the task layer.
func fetchAndDecrypt(ctx context.Context, mgr *dht.Manager, c chk.CHK) ([]byte, error) {
	ciphertext, err := mgr.FindValueInNetwork(ctx, c.Query[:])
	if err != nil {
		return nil, fmt.Errorf("find value for block %d: %w", c.BFIndex, err)
	}
	if cryptocore.QueryHash(ciphertext) != c.Query {
		return nil, fmt.Errorf("block %d fails query-hash verification: %w", c.BFIndex, dhterr.ErrCorrupted)
	}
	plaintext, err := cryptocore.Open(c.Key, c.IV, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decrypt block %d: %w", c.BFIndex, err)
	}
	return plaintext, nil
}

// writeDBlockAt writes data at its original file position, clipping to
// the final file size — the same rule ecrs/decode.go's writeDBlockAt
// applies, reimplemented here since that helper is unexported.
func writeDBlockAt(out *os.File, bfIndex uint32, data []byte, meta *chk.MetaData) error {
	offset := int64(bfIndex) * int64(chk.DBlockSize)
	want := data
	if offset >= int64(meta.FileSize) {
		return nil
	}
	if remain := int64(meta.FileSize) - offset; remain < int64(len(want)) {
		want = want[:remain]
	}
	if _, err := out.WriteAt(want, offset); err != nil {
		return fmt.Errorf("tasks: write dblock %d to output: %w", bfIndex, err)
	}
	return nil
}

func parentDir(path string) string {
	i := len(path) - 1
	for i >= 0 && path[i] != os.PathSeparator {
		i--
	}
	if i <= 0 {
		return string(os.PathSeparator)
	}
	return path[:i]
}

// DownloadManager tracks every in-flight or completed DownloadTask,
// journal-backed the same way UploadManager is — the Go counterpart of
// download_manager/mod.rs, whose new()/download() are unimplemented
// stubs in the source.
type DownloadManager struct {
	mu      sync.Mutex
	tasks   map[uuid.UUID]*DownloadTask
	journal *Journal
	dht     *dht.Manager
}

// NewDownloadManager opens (or creates) the journal at journalPath and
// replays it to rebuild the in-memory task table.
func NewDownloadManager(journalPath string, dhtMgr *dht.Manager) (*DownloadManager, error) {
	j, err := OpenJournal(journalPath)
	if err != nil {
		return nil, err
	}
	events, err := j.ReadAll()
	if err != nil {
		j.Close()
		return nil, err
	}
	dm := &DownloadManager{
		tasks:   make(map[uuid.UUID]*DownloadTask),
		journal: j,
		dht:     dhtMgr,
	}
	for _, e := range events {
		dm.applyEvent(e)
	}
	return dm, nil
}

func (dm *DownloadManager) applyEvent(e Event) {
	t, ok := dm.tasks[e.TaskID]
	if !ok {
		t = &DownloadTask{ID: e.TaskID}
		if e.RootCHK != nil {
			t.RootCHK = *e.RootCHK
		}
		t.OutputPath = e.FilePath
		dm.tasks[e.TaskID] = t
	}
	switch e.Kind {
	case DownloadDone:
		t.Done = true
	}
}

// Download registers a fresh DownloadTask for root under outputPath
// and journals its Created event.
func (dm *DownloadManager) Download(root chk.CHK, outputPath string) (*DownloadTask, error) {
	t := &DownloadTask{
		ID:         uuid.New(),
		RootCHK:    root,
		OutputPath: outputPath,
	}

	dm.mu.Lock()
	dm.tasks[t.ID] = t
	dm.mu.Unlock()

	if err := dm.journal.Append(Event{
		TaskID:    t.ID,
		Kind:      Created,
		FilePath:  outputPath,
		RootCHK:   &root,
		Timestamp: time.Now(),
	}); err != nil {
		return nil, err
	}
	return t, nil
}

// Run drives t to completion, journaling the outcome.
func (dm *DownloadManager) Run(ctx context.Context, t *DownloadTask) error {
	if err := t.Run(ctx, dm.dht); err != nil {
		if jErr := dm.journal.Append(Event{
			TaskID:    t.ID,
			Kind:      Failed,
			FilePath:  t.OutputPath,
			Timestamp: time.Now(),
		}); jErr != nil {
			tlog.Warn.Printf("tasks: journaling download failure for %s: %v", t.ID, jErr)
		}
		return err
	}
	return dm.journal.Append(Event{
		TaskID:    t.ID,
		Kind:      DownloadDone,
		FilePath:  t.OutputPath,
		RootCHK:   &t.RootCHK,
		Timestamp: time.Now(),
	})
}

// Task returns the tracked task for id, if any.
func (dm *DownloadManager) Task(id uuid.UUID) (*DownloadTask, bool) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	t, ok := dm.tasks[id]
	return t, ok
}

// Close releases the manager's journal handle.
func (dm *DownloadManager) Close() error {
	return dm.journal.Close()
}
