package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/d42ejh/ilnyaplus-dev/internal/chk"
	"github.com/d42ejh/ilnyaplus-dev/internal/dht"
	"github.com/d42ejh/ilnyaplus-dev/internal/dhterr"
	"github.com/d42ejh/ilnyaplus-dev/internal/ecrs"
	"github.com/d42ejh/ilnyaplus-dev/internal/taskpath"
	"github.com/d42ejh/ilnyaplus-dev/internal/tlog"
)

// UploadTask tracks one file's progress from local encode through
// every DHT store — the Go counterpart of upload_task.rs's UploadTask,
// minus its taskinfo-file persistence (see journal.go's package doc).
type UploadTask struct {
	ID         uuid.UUID
	FilePath   string
	FileSize   uint64
	BlockDir   string
	RootCHK    *chk.CHK
	EncodeDone bool
	UploadDone bool
}

// StartEncode splits t.FilePath into the ECRS block tree under
// t.BlockDir, recording the resulting root CHK. Mirrors upload_task.rs's
// encode() step.
func (t *UploadTask) StartEncode() error {
	if err := taskpath.ValidateWorkingDir(t.BlockDir); err != nil {
		return err
	}
	root, err := ecrs.EncodeFileToBlocks(t.FilePath, t.BlockDir)
	if err != nil {
		return fmt.Errorf("tasks: encode %q: %w", t.FilePath, err)
	}
	t.RootCHK = &root
	t.EncodeDone = true
	return nil
}

// Upload pushes every DBlock and IBlock produced by StartEncode into
// the DHT. Grounded on upload_task.rs's upload(), with Open Question
// 1's resolution applied throughout: every do_store call is keyed by
// chk.Query (the 64-byte ciphertext hash), never chk.Key — the
// source's upload() keys its single do_store call by d_block_chk.key,
// which is a bug this port does not reproduce.
func (t *UploadTask) Upload(ctx context.Context, mgr *dht.Manager, replicationLevel int, onBlockDone func(blockIndex uint32)) error {
	if !t.EncodeDone || t.RootCHK == nil {
		return fmt.Errorf("tasks: upload called before encode completed: %w", dhterr.ErrInvalid)
	}
	bfs, err := ecrs.OpenBlockFiles(t.BlockDir)
	if err != nil {
		return err
	}
	defer bfs.Close()

	if err := storeAllSlots(ctx, mgr, bfs.D, bfs.DCHK, replicationLevel, onBlockDone); err != nil {
		return fmt.Errorf("tasks: uploading dblocks: %w", err)
	}
	if err := storeAllSlots(ctx, mgr, bfs.I, bfs.ICHK, replicationLevel, onBlockDone); err != nil {
		return fmt.Errorf("tasks: uploading iblocks: %w", err)
	}

	t.UploadDone = true
	return nil
}

// storeAllSlots stores every ciphertext slot in data, keyed by the
// matching CHK in chks, into the network.
func storeAllSlots(ctx context.Context, mgr *dht.Manager, data, chks interface {
	ReadNth(uint32) ([]byte, error)
	N() uint32
}, replicationLevel int, onBlockDone func(uint32)) error {
	for i := uint32(0); i <= chks.N(); i++ {
		encCHK, err := chks.ReadNth(i)
		if err != nil {
			return err
		}
		c, err := chk.Deserialize(encCHK)
		if err != nil {
			return err
		}
		ciphertext, err := data.ReadNth(i)
		if err != nil {
			return err
		}
		if err := mgr.StoreValue(ctx, c.Query[:], ciphertext, replicationLevel); err != nil {
			return fmt.Errorf("tasks: store slot %d: %w", i, err)
		}
		if onBlockDone != nil {
			onBlockDone(i)
		}
	}
	return nil
}

// UploadManager tracks every in-flight or completed UploadTask,
// durably — the Go counterpart of upload_manager/mod.rs's
// UploadManager. Unlike the source, it keeps no per-task taskinfo
// file; its journal is the sole durable record (see journal.go).
type UploadManager struct {
	mu               sync.Mutex
	tasks            map[uuid.UUID]*UploadTask
	journal          *Journal
	dht              *dht.Manager
	replicationLevel int
}

// NewUploadManager opens (or creates) the journal at journalPath and
// replays it to rebuild the in-memory task table, mirroring
// upload_manager/mod.rs's new(), which loads every existing task
// directory's taskinfo file at startup.
func NewUploadManager(journalPath string, dhtMgr *dht.Manager, replicationLevel int) (*UploadManager, error) {
	j, err := OpenJournal(journalPath)
	if err != nil {
		return nil, err
	}
	events, err := j.ReadAll()
	if err != nil {
		j.Close()
		return nil, err
	}
	um := &UploadManager{
		tasks:            make(map[uuid.UUID]*UploadTask),
		journal:          j,
		dht:              dhtMgr,
		replicationLevel: replicationLevel,
	}
	for _, e := range events {
		um.applyEvent(e)
	}
	return um, nil
}

func (um *UploadManager) applyEvent(e Event) {
	t, ok := um.tasks[e.TaskID]
	if !ok {
		t = &UploadTask{ID: e.TaskID}
		um.tasks[e.TaskID] = t
	}
	switch e.Kind {
	case Created:
		t.FilePath = e.FilePath
		t.FileSize = e.FileSize
	case EncodeDone:
		t.RootCHK = e.RootCHK
		t.EncodeDone = true
	case UploadDone:
		t.UploadDone = true
	case Failed:
		// The source has no task-removal path on failure either;
		// a failed task stays visible for operator inspection.
	}
}

// Upload validates filePath, registers a fresh UploadTask for it under
// blockDir, journals its Created event, and returns the task. Mirrors
// upload_manager/mod.rs's upload() validation (path must be absolute,
// exist, be a regular file, and carry a file name) ahead of
// start_task().
func (um *UploadManager) Upload(filePath, blockDir string) (*UploadTask, error) {
	size, err := taskpath.Validate(filePath)
	if err != nil {
		return nil, err
	}

	t := &UploadTask{
		ID:       uuid.New(),
		FilePath: filePath,
		FileSize: size,
		BlockDir: blockDir,
	}

	um.mu.Lock()
	um.tasks[t.ID] = t
	um.mu.Unlock()

	if err := um.journal.Append(Event{
		TaskID:    t.ID,
		Kind:      Created,
		FilePath:  filePath,
		FileSize:  size,
		Timestamp: time.Now(),
	}); err != nil {
		return nil, err
	}
	return t, nil
}

// Run drives t through encode and upload, journaling each transition —
// the Go counterpart of upload_manager/mod.rs's start_task spawning
// UploadTask::upload() as a background job.
func (um *UploadManager) Run(ctx context.Context, t *UploadTask) error {
	if err := t.StartEncode(); err != nil {
		um.journalFailed(t, err)
		return err
	}
	if err := um.journal.Append(Event{
		TaskID:    t.ID,
		Kind:      EncodeDone,
		FilePath:  t.FilePath,
		FileSize:  t.FileSize,
		RootCHK:   t.RootCHK,
		Timestamp: time.Now(),
	}); err != nil {
		return err
	}

	onBlockDone := func(idx uint32) {
		i := idx
		if err := um.journal.Append(Event{
			TaskID:     t.ID,
			Kind:       UploadBlockDone,
			FilePath:   t.FilePath,
			FileSize:   t.FileSize,
			BlockIndex: &i,
			Timestamp:  time.Now(),
		}); err != nil {
			tlog.Warn.Printf("tasks: journaling upload block done for %s: %v", t.ID, err)
		}
	}

	if err := t.Upload(ctx, um.dht, um.replicationLevel, onBlockDone); err != nil {
		um.journalFailed(t, err)
		return err
	}
	return um.journal.Append(Event{
		TaskID:    t.ID,
		Kind:      UploadDone,
		FilePath:  t.FilePath,
		FileSize:  t.FileSize,
		RootCHK:   t.RootCHK,
		Timestamp: time.Now(),
	})
}

func (um *UploadManager) journalFailed(t *UploadTask, cause error) {
	tlog.Warn.Printf("tasks: upload %s failed: %v", t.ID, cause)
	if err := um.journal.Append(Event{
		TaskID:    t.ID,
		Kind:      Failed,
		FilePath:  t.FilePath,
		FileSize:  t.FileSize,
		Timestamp: time.Now(),
	}); err != nil {
		tlog.Warn.Printf("tasks: journaling failure for %s: %v", t.ID, err)
	}
}

// Task returns the tracked task for id, if any.
func (um *UploadManager) Task(id uuid.UUID) (*UploadTask, bool) {
	um.mu.Lock()
	defer um.mu.Unlock()
	t, ok := um.tasks[id]
	return t, ok
}

// Close releases the manager's journal handle.
func (um *UploadManager) Close() error {
	return um.journal.Close()
}
