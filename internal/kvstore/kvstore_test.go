package kvstore

import (
	"bytes"
	"errors"
	"testing"

	"github.com/d42ejh/ilnyaplus-dev/internal/dhterr"
)

func TestPutGetDelete(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	key := []byte("query-hash-goes-here")
	value := []byte("ciphertext blob")

	if _, err := s.Get(key); !errors.Is(err, dhterr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before Put, got %v", err)
	}

	if err := s.Put(key, value); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(key)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, value) {
		t.Errorf("Get = %q, want %q", got, value)
	}

	has, err := s.Has(key)
	if err != nil {
		t.Fatal(err)
	}
	if !has {
		t.Error("Has reported false for a key just stored")
	}

	if err := s.Delete(key); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(key); !errors.Is(err, dhterr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after Delete, got %v", err)
	}
}

func TestDeleteAbsentKeyIsNotError(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if err := s.Delete([]byte("never-stored")); err != nil {
		t.Errorf("Delete of an absent key should not error, got %v", err)
	}
}
