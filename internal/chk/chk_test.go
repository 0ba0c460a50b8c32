package chk

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func randCHK(t *testing.T, blockType BlockType, bfIndex uint32) CHK {
	t.Helper()
	var key [32]byte
	var iv [12]byte
	var query [64]byte
	if _, err := rand.Read(key[:]); err != nil {
		t.Fatal(err)
	}
	if _, err := rand.Read(iv[:]); err != nil {
		t.Fatal(err)
	}
	if _, err := rand.Read(query[:]); err != nil {
		t.Fatal(err)
	}
	c, err := New(key, iv, query, blockType, bfIndex)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestCHKFixedWidth(t *testing.T) {
	for _, bt := range []BlockType{DBlock, IBlock} {
		c := randCHK(t, bt, 7)
		buf, err := c.Serialize()
		if err != nil {
			t.Fatal(err)
		}
		if len(buf) != SerializedSize {
			t.Errorf("serialize(%s) len = %d, want %d", bt, len(buf), SerializedSize)
		}
		if SerializedSize != 140 {
			t.Fatalf("SerializedSize = %d, want 140", SerializedSize)
		}
	}
}

func TestCHKRoundTrip(t *testing.T) {
	c := randCHK(t, DBlock, 42)
	buf, err := c.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	got, err := Deserialize(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got != c {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, c)
	}
}

func TestCHKRejectsKBlock(t *testing.T) {
	var key [32]byte
	var iv [12]byte
	var query [64]byte
	if _, err := New(key, iv, query, KBlock, 0); err == nil {
		t.Error("expected error constructing a KBlock CHK")
	}
}

func TestDeserializeRejectsWrongLength(t *testing.T) {
	if _, err := Deserialize(make([]byte, 100)); err == nil {
		t.Error("expected error for wrong-length buffer")
	}
}

func TestDBlockPayloadRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB}, 1234)
	p := DBlockPayload{Data: data}
	buf := p.Serialize()
	got, err := DeserializeDBlockPayload(buf)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Data, data) {
		t.Errorf("data mismatch after round trip")
	}
}

func TestIBlockPayloadRoundTrip(t *testing.T) {
	chks := []CHK{randCHK(t, DBlock, 0), randCHK(t, DBlock, 1)}
	meta := &MetaData{FileName: "movie.mkv", FileSize: 123456789}
	p := IBlockPayload{CHKs: chks, MetaData: meta}
	buf, err := p.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	got, err := DeserializeIBlockPayload(buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.CHKs) != len(chks) {
		t.Fatalf("chk count = %d, want %d", len(got.CHKs), len(chks))
	}
	for i := range chks {
		if got.CHKs[i] != chks[i] {
			t.Errorf("chk %d mismatch", i)
		}
	}
	if got.MetaData == nil || *got.MetaData != *meta {
		t.Errorf("metadata mismatch: got %+v, want %+v", got.MetaData, meta)
	}
}

func TestIBlockPayloadNonRootHasNoMetaData(t *testing.T) {
	chks := []CHK{randCHK(t, IBlock, 0)}
	p := IBlockPayload{CHKs: chks}
	buf, err := p.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	got, err := DeserializeIBlockPayload(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.MetaData != nil {
		t.Errorf("expected nil metadata for non-root IBlock")
	}
}

func TestIBlockPayloadRejectsEmptyAndOversized(t *testing.T) {
	if _, err := (IBlockPayload{}).Serialize(); err == nil {
		t.Error("expected error for zero chks")
	}
	var many []CHK
	for i := 0; i < IBlockCHKCapacity+1; i++ {
		many = append(many, randCHK(t, DBlock, uint32(i)))
	}
	if _, err := (IBlockPayload{CHKs: many}).Serialize(); err == nil {
		t.Error("expected error for >256 chks")
	}
}
