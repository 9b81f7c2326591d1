package lsm

import (
	"bytes"
	"testing"
)

func collectMerge(t *testing.T, sources []Iterator, liveOnly bool) []*Record {
	t.Helper()
	m := newMergeIterator(sources, liveOnly)
	var out []*Record
	for m.Next() {
		out = append(out, m.Record())
	}
	if err := m.Err(); err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	return out
}

func TestMergeNewestSourceWins(t *testing.T) {
	newer := newSliceIterator([]*Record{
		NewRecord([]byte("a"), []byte("new"), 2),
	})
	older := newSliceIterator([]*Record{
		NewRecord([]byte("a"), []byte("old"), 1),
		NewRecord([]byte("b"), []byte("only"), 1),
	})

	out := collectMerge(t, []Iterator{newer, older}, true)
	if len(out) != 2 {
		t.Fatalf("expected 2 records, got %d", len(out))
	}
	if !bytes.Equal(out[0].Value, []byte("new")) {
		t.Fatalf("expected newest record for a, got %s", out[0].Value)
	}
	if !bytes.Equal(out[1].Value, []byte("only")) {
		t.Fatalf("expected b from older source, got %s", out[1].Value)
	}
}

func TestMergeTombstoneSuppression(t *testing.T) {
	newer := newSliceIterator([]*Record{
		NewTombstone([]byte("a"), 2),
	})
	older := newSliceIterator([]*Record{
		NewRecord([]byte("a"), []byte("old"), 1),
		NewRecord([]byte("b"), []byte("keep"), 1),
	})

	out := collectMerge(t, []Iterator{newer, older}, true)
	if len(out) != 1 {
		t.Fatalf("expected only b, got %d records", len(out))
	}
	if string(out[0].Key) != "b" {
		t.Fatalf("expected b, got %s", out[0].Key)
	}
}

func TestMergeRawKeepsTombstones(t *testing.T) {
	src := newSliceIterator([]*Record{
		NewTombstone([]byte("a"), 1),
		NewRecord([]byte("b"), []byte("v"), 1),
	})

	out := collectMerge(t, []Iterator{src}, false)
	if len(out) != 2 {
		t.Fatalf("expected 2 records, got %d", len(out))
	}
	if !out[0].Tombstone {
		t.Fatal("expected tombstone kept in raw mode")
	}
}

func TestMergeOrderingAcrossSources(t *testing.T) {
	a := newSliceIterator([]*Record{
		NewRecord([]byte("b"), []byte("1"), 1),
		NewRecord([]byte("d"), []byte("1"), 1),
	})
	b := newSliceIterator([]*Record{
		NewRecord([]byte("a"), []byte("1"), 1),
		NewRecord([]byte("c"), []byte("1"), 1),
		NewRecord([]byte("e"), []byte("1"), 1),
	})

	out := collectMerge(t, []Iterator{a, b}, true)
	want := []string{"a", "b", "c", "d", "e"}
	if len(out) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(out))
	}
	for i, rec := range out {
		if string(rec.Key) != want[i] {
			t.Fatalf("position %d: expected %s, got %s", i, want[i], rec.Key)
		}
	}
}

func TestMergeEachKeyOnce(t *testing.T) {
	sources := []Iterator{
		newSliceIterator([]*Record{NewRecord([]byte("k"), []byte("3"), 3)}),
		newSliceIterator([]*Record{NewRecord([]byte("k"), []byte("2"), 2)}),
		newSliceIterator([]*Record{NewRecord([]byte("k"), []byte("1"), 1)}),
	}

	out := collectMerge(t, sources, true)
	if len(out) != 1 {
		t.Fatalf("expected a single record, got %d", len(out))
	}
	if !bytes.Equal(out[0].Value, []byte("3")) {
		t.Fatalf("expected newest value, got %s", out[0].Value)
	}
}
