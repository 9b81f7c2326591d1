package lsm

import "bytes"

// mergeIterator folds several ascending-key sources into one ascending
// sequence. Sources must be ordered newest-first; when multiple sources
// hold the same key, the record from the newest source is emitted and all
// sources positioned at that key advance past it. With liveOnly set,
// tombstones are suppressed from the output.
type mergeIterator struct {
	sources  []Iterator
	heads    []*Record // current record of each source; nil = exhausted
	rec      *Record
	err      error
	liveOnly bool
}

func newMergeIterator(sources []Iterator, liveOnly bool) *mergeIterator {
	m := &mergeIterator{
		sources:  sources,
		heads:    make([]*Record, len(sources)),
		liveOnly: liveOnly,
	}
	for i := range sources {
		m.advance(i)
	}
	return m
}

// advance pulls the next record from source i
func (m *mergeIterator) advance(i int) {
	if m.sources[i].Next() {
		m.heads[i] = m.sources[i].Record()
		return
	}
	m.heads[i] = nil
	if err := m.sources[i].Err(); err != nil && m.err == nil {
		m.err = err
	}
}

func (m *mergeIterator) Next() bool {
	for {
		if m.err != nil {
			m.rec = nil
			return false
		}

		// Pick the smallest key; among equal keys the first (newest)
		// source wins because later equals do not replace it.
		winner := -1
		for i, head := range m.heads {
			if head == nil {
				continue
			}
			if winner == -1 || bytes.Compare(head.Key, m.heads[winner].Key) < 0 {
				winner = i
			}
		}
		if winner == -1 {
			m.rec = nil
			return false
		}

		rec := m.heads[winner]
		for i, head := range m.heads {
			if head != nil && bytes.Equal(head.Key, rec.Key) {
				m.advance(i)
			}
		}
		if m.err != nil {
			m.rec = nil
			return false
		}

		if m.liveOnly && rec.Tombstone {
			continue
		}
		m.rec = rec
		return true
	}
}

func (m *mergeIterator) Record() *Record { return m.rec }

func (m *mergeIterator) Err() error { return m.err }

func (m *mergeIterator) Close() error {
	var firstErr error
	for _, src := range m.sources {
		if err := src.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
