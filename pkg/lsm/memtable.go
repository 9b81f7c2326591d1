package lsm

import (
	"bytes"
	"sync"
)

// Memtable is the mutable in-memory layer of the engine: an ordered map
// from key to the newest record this node has accepted for it. Tombstones
// are stored as records; filtering happens in the merge layer.
type Memtable struct {
	mu   sync.RWMutex
	list *skipList
	size int64 // accumulated key+value bytes plus per-entry overhead
}

// NewMemtable creates an empty memtable
func NewMemtable() *Memtable {
	return &Memtable{list: newSkipList()}
}

// Upsert inserts or overwrites the record for rec.Key
func (mt *Memtable) Upsert(rec *Record) {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	old := mt.list.insert(rec)
	mt.size += rec.SizeBytes()
	if old != nil {
		mt.size -= old.SizeBytes()
	}
}

// Get returns the record stored for key, or nil. Tombstones are returned
// as-is.
func (mt *Memtable) Get(key []byte) *Record {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return mt.list.search(key)
}

// SizeBytes returns the accumulated byte size used to decide flushes
func (mt *Memtable) SizeBytes() int64 {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return mt.size
}

// Len returns the number of entries
func (mt *Memtable) Len() int {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return mt.list.len()
}

// Range returns an iterator over records with keys in [from, to) in
// ascending order. Nil bounds mean unbounded. The iterator holds a snapshot
// taken at call time; upserts after the call do not appear.
func (mt *Memtable) Range(from, to []byte) Iterator {
	mt.mu.RLock()
	defer mt.mu.RUnlock()

	var recs []*Record
	for node := mt.list.seek(from); node != nil; node = node.forward[0] {
		if to != nil && bytes.Compare(node.key, to) >= 0 {
			break
		}
		recs = append(recs, node.rec)
	}
	return newSliceIterator(recs)
}
