// Package tasks drives the two long-running operations this daemon
// exposes: uploading a local file into the DHT as an ECRS tree
// (UploadTask/UploadManager) and fetching one back out
// (DownloadTask/DownloadManager). See spec.md §4.8 and SPEC_FULL.md
// §4.8/§4.8a, grounded on
// original_source/cirrus-core/src/upload_manager/.
//
// A redesign decision (see DESIGN.md): the source persists per-task
// progress as a rkyv-serialized UploadTaskInfo file named "taskinfo"
// inside each task's own working directory. This port instead appends
// TaskEvent records to a single journal file per manager
// (config.Defaults.UploadJournalPath/DownloadJournalPath) — an
// append-only event log a manager replays on startup to rebuild its
// in-memory task table, rather than one small file per task directory.
package tasks

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/d42ejh/ilnyaplus-dev/internal/chk"
	"github.com/d42ejh/ilnyaplus-dev/internal/dhterr"
)

// EventKind enumerates a task's lifecycle transitions.
type EventKind uint8

const (
	Created EventKind = iota
	EncodeDone
	UploadBlockDone
	UploadDone
	DownloadBlockDone
	DownloadDone
	Failed
)

func (k EventKind) String() string {
	switch k {
	case Created:
		return "Created"
	case EncodeDone:
		return "EncodeDone"
	case UploadBlockDone:
		return "UploadBlockDone"
	case UploadDone:
		return "UploadDone"
	case DownloadBlockDone:
		return "DownloadBlockDone"
	case DownloadDone:
		return "DownloadDone"
	case Failed:
		return "Failed"
	default:
		return fmt.Sprintf("EventKind(%d)", uint8(k))
	}
}

// Event is one journal record: a task id, the transition it records,
// the file this task concerns, and (depending on Kind) the root CHK
// produced by encoding and/or the index of the block most recently
// handled.
type Event struct {
	TaskID     uuid.UUID
	Kind       EventKind
	FilePath   string
	FileSize   uint64
	RootCHK    *chk.CHK // set on EncodeDone, UploadDone and a download's Created/DownloadDone
	BlockIndex *uint32  // set only for *BlockDone events
	Timestamp  time.Time
}

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// serialize encodes an Event as a flat binary record: a fixed prefix
// (task id, kind, timestamp, file size) followed by the length-
// prefixed file path and the optional fields, each gated by a presence
// byte. This mirrors dhtproto's length-prefixed-field discipline
// rather than sharing code with it, since dhtproto's codec helpers are
// unexported.
func (e Event) serialize() []byte {
	var buf []byte
	buf = append(buf, e.TaskID[:]...)
	buf = append(buf, byte(e.Kind))

	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(e.Timestamp.UnixNano()))
	buf = append(buf, tsBuf[:]...)

	var sizeBuf [8]byte
	binary.BigEndian.PutUint64(sizeBuf[:], e.FileSize)
	buf = append(buf, sizeBuf[:]...)

	var pathLen [4]byte
	binary.BigEndian.PutUint32(pathLen[:], uint32(len(e.FilePath)))
	buf = append(buf, pathLen[:]...)
	buf = append(buf, e.FilePath...)

	if e.RootCHK != nil {
		buf = append(buf, 1)
		enc, err := e.RootCHK.Serialize()
		if err == nil {
			buf = append(buf, enc...)
		}
	} else {
		buf = append(buf, 0)
	}

	if e.BlockIndex != nil {
		buf = append(buf, 1)
		var idxBuf [4]byte
		binary.BigEndian.PutUint32(idxBuf[:], *e.BlockIndex)
		buf = append(buf, idxBuf[:]...)
	} else {
		buf = append(buf, 0)
	}

	return buf
}

func deserializeEvent(buf []byte) (Event, error) {
	const fixedLen = 16 + 1 + 8 + 8 + 4
	if len(buf) < fixedLen {
		return Event{}, fmt.Errorf("tasks: event record truncated: %w", dhterr.ErrCorrupted)
	}
	var e Event
	off := 0
	copy(e.TaskID[:], buf[off:off+16])
	off += 16
	e.Kind = EventKind(buf[off])
	off++
	e.Timestamp = time.Unix(0, int64(binary.BigEndian.Uint64(buf[off:])))
	off += 8
	e.FileSize = binary.BigEndian.Uint64(buf[off:])
	off += 8
	pathLen := int(binary.BigEndian.Uint32(buf[off:]))
	off += 4
	if len(buf) < off+pathLen+2 {
		return Event{}, fmt.Errorf("tasks: event record truncated mid file path: %w", dhterr.ErrCorrupted)
	}
	e.FilePath = string(buf[off : off+pathLen])
	off += pathLen

	hasCHK := buf[off] != 0
	off++
	if hasCHK {
		if len(buf) < off+chk.SerializedSize {
			return Event{}, fmt.Errorf("tasks: event record truncated mid root chk: %w", dhterr.ErrCorrupted)
		}
		c, err := chk.Deserialize(buf[off : off+chk.SerializedSize])
		if err != nil {
			return Event{}, err
		}
		e.RootCHK = &c
		off += chk.SerializedSize
	}

	if off >= len(buf) {
		return Event{}, fmt.Errorf("tasks: event record truncated mid block index flag: %w", dhterr.ErrCorrupted)
	}
	hasIdx := buf[off] != 0
	off++
	if hasIdx {
		if len(buf) < off+4 {
			return Event{}, fmt.Errorf("tasks: event record truncated mid block index: %w", dhterr.ErrCorrupted)
		}
		idx := binary.BigEndian.Uint32(buf[off:])
		e.BlockIndex = &idx
	}

	return e, nil
}

// Journal is an append-only log of Events, length-prefixed and
// CRC32C-checked per record — the same binary framing discipline as
// dhtproto's message codec (see dhtproto/codec.go), applied here to a
// file instead of a datagram.
type Journal struct {
	mu sync.Mutex
	f  *os.File
}

// OpenJournal opens (creating if necessary) the journal file at path
// for appending and subsequent replay.
func OpenJournal(path string) (*Journal, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("tasks: open journal %q: %w", path, err)
	}
	return &Journal{f: f}, nil
}

// Append writes one event record to the journal.
func (j *Journal) Append(e Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	body := e.serialize()
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	var crcBuf [4]byte
	binary.BigEndian.PutUint32(crcBuf[:], crc32.Checksum(body, castagnoli))

	record := append(lenBuf[:], body...)
	record = append(record, crcBuf[:]...)
	if _, err := j.f.Write(record); err != nil {
		return fmt.Errorf("tasks: append journal record: %w", err)
	}
	return nil
}

// ReadAll replays every record in the journal from the start, in
// order — how a manager rebuilds its in-memory task table on startup.
func (j *Journal) ReadAll() ([]Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := j.f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("tasks: seek journal: %w", err)
	}
	var events []Event
	for {
		var lenBuf [4]byte
		if _, err := io.ReadFull(j.f, lenBuf[:]); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("tasks: read journal record length: %w", err)
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		body := make([]byte, n)
		if _, err := io.ReadFull(j.f, body); err != nil {
			return nil, fmt.Errorf("tasks: read journal record body: %w", err)
		}
		var crcBuf [4]byte
		if _, err := io.ReadFull(j.f, crcBuf[:]); err != nil {
			return nil, fmt.Errorf("tasks: read journal record checksum: %w", err)
		}
		if got := crc32.Checksum(body, castagnoli); got != binary.BigEndian.Uint32(crcBuf[:]) {
			return nil, fmt.Errorf("tasks: journal record checksum mismatch: %w", dhterr.ErrCorrupted)
		}
		e, err := deserializeEvent(body)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if _, err := j.f.Seek(0, io.SeekEnd); err != nil {
		return nil, fmt.Errorf("tasks: seek journal to end: %w", err)
	}
	return events, nil
}

// Close releases the journal's file handle.
func (j *Journal) Close() error {
	return j.f.Close()
}
