package tasks

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/d42ejh/ilnyaplus-dev/internal/chk"
)

func TestJournalAppendAndReadAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.journal")
	j, err := OpenJournal(path)
	if err != nil {
		t.Fatal(err)
	}

	taskID := uuid.New()
	root, err := chk.New([32]byte{1}, [12]byte{2}, [64]byte{3}, chk.IBlock, 0)
	if err != nil {
		t.Fatal(err)
	}
	idx := uint32(5)

	events := []Event{
		{TaskID: taskID, Kind: Created, FilePath: "/tmp/a.bin", FileSize: 100, Timestamp: time.Now()},
		{TaskID: taskID, Kind: EncodeDone, FilePath: "/tmp/a.bin", FileSize: 100, RootCHK: &root, Timestamp: time.Now()},
		{TaskID: taskID, Kind: UploadBlockDone, FilePath: "/tmp/a.bin", FileSize: 100, BlockIndex: &idx, Timestamp: time.Now()},
		{TaskID: taskID, Kind: UploadDone, FilePath: "/tmp/a.bin", FileSize: 100, RootCHK: &root, Timestamp: time.Now()},
	}
	for _, e := range events {
		if err := j.Append(e); err != nil {
			t.Fatal(err)
		}
	}
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}

	j, err = OpenJournal(path)
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	got, err := j.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(events) {
		t.Fatalf("ReadAll returned %d events, want %d", len(got), len(events))
	}
	for i, e := range got {
		if e.TaskID != events[i].TaskID || e.Kind != events[i].Kind || e.FilePath != events[i].FilePath {
			t.Errorf("event %d = %+v, want %+v", i, e, events[i])
		}
	}
	if got[1].RootCHK == nil || got[1].RootCHK.Query != root.Query {
		t.Errorf("EncodeDone event lost its root chk")
	}
	if got[2].BlockIndex == nil || *got[2].BlockIndex != idx {
		t.Errorf("UploadBlockDone event lost its block index")
	}
}

func TestJournalReopenAppendsRatherThanTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.journal")
	j, err := OpenJournal(path)
	if err != nil {
		t.Fatal(err)
	}
	taskID := uuid.New()
	if err := j.Append(Event{TaskID: taskID, Kind: Created, Timestamp: time.Now()}); err != nil {
		t.Fatal(err)
	}
	j.Close()

	j, err = OpenJournal(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := j.Append(Event{TaskID: taskID, Kind: Failed, Timestamp: time.Now()}); err != nil {
		t.Fatal(err)
	}
	j.Close()

	j, err = OpenJournal(path)
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()
	events, err := j.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events across two sessions, want 2", len(events))
	}
}
