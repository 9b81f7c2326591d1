package lsm

import (
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/mnohosten/shardkv/pkg/cache"
	"github.com/mnohosten/shardkv/pkg/metrics"
)

// defaultCacheEntries bounds the point-read cache over sstable lookups
const defaultCacheEntries = 4096

// absentMarker caches the fact that a table does not hold a key, so
// repeated misses skip the disk probe
var absentMarker = struct{}{}

// Engine is the node-local LSM storage engine: a mutable memtable over a
// chain of immutable sstables, with synchronous flush on memtable overflow
// and whole-set compaction.
type Engine struct {
	dir     string
	memSize int64
	log     *logrus.Logger
	stats   *metrics.Collector

	// reads caches sstable point lookups keyed by (table path, key).
	// Tables are immutable, so entries never go stale; those referencing
	// compacted tables just age out.
	reads *cache.LRUCache

	mu       sync.RWMutex
	mem      *Memtable
	flushing *Memtable  // rotated out, visible to readers until its table is published
	tables   []*SSTable // newest first
	nextID   uint64
	closed   bool

	// maint serializes flush and compaction so the table set only ever
	// changes under one writer of disk state. The write lock (mu) is never
	// held across disk I/O.
	maint sync.Mutex

	// obsolete holds tables replaced by compaction; their files are
	// unlinked immediately but handles stay open for in-flight iterators
	// and are released at Close.
	obsolete []*SSTable
}

// Config holds engine configuration
type Config struct {
	Dir          string
	MemtableSize int64 // max memtable size in bytes before flush
	CacheEntries int   // point-read cache capacity; 0 means default
	Logger       *logrus.Logger
	Metrics      *metrics.Collector
}

// DefaultConfig returns the default configuration for dir
func DefaultConfig(dir string) *Config {
	return &Config{
		Dir:          dir,
		MemtableSize: 4 * 1024 * 1024, // 4MiB
	}
}

// Open opens the engine over its data directory, reaping temp files and
// loading existing sstables. Each engine instance owns its directory
// exclusively.
func Open(config *Config) (*Engine, error) {
	if config.Dir == "" {
		return nil, fmt.Errorf("data directory not configured")
	}
	if err := os.Mkdir(config.Dir, 0755); err != nil && !os.IsExist(err) {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	memSize := config.MemtableSize
	if memSize <= 0 {
		memSize = DefaultConfig(config.Dir).MemtableSize
	}
	logger := config.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	tables, nextID, err := loadSSTables(config.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load sstables: %w", err)
	}

	cacheEntries := config.CacheEntries
	if cacheEntries <= 0 {
		cacheEntries = defaultCacheEntries
	}

	return &Engine{
		dir:     config.Dir,
		memSize: memSize,
		log:     logger,
		stats:   config.Metrics,
		reads:   cache.NewLRUCache(cacheEntries),
		mem:     NewMemtable(),
		tables:  tables,
		nextID:  nextID,
	}, nil
}

// Upsert inserts or overwrites the record for rec.Key. When the memtable
// reaches its size limit the call flushes it to a new sstable before
// returning.
func (e *Engine) Upsert(rec *Record) error {
	if len(rec.Key) == 0 {
		return ErrEmptyKey
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.mem.Upsert(rec)
	full := e.mem.SizeBytes() >= e.memSize
	e.mu.Unlock()

	if !full {
		return nil
	}
	return e.flush()
}

// flush rotates the active memtable and persists it as a new sstable.
func (e *Engine) flush() error {
	e.maint.Lock()
	defer e.maint.Unlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	// A concurrent writer may have flushed while we waited for maint
	if e.mem.SizeBytes() < e.memSize {
		e.mu.Unlock()
		return nil
	}
	imm := e.mem
	e.mem = NewMemtable()
	e.flushing = imm
	id := e.nextID
	e.nextID++
	e.mu.Unlock()

	sst, err := CreateSSTable(e.dir, id, imm.Range(nil, nil))
	if err != nil {
		e.reabsorb(imm)
		e.log.WithError(err).Error("memtable flush failed")
		return fmt.Errorf("flush: %w", err)
	}

	e.mu.Lock()
	e.tables = append([]*SSTable{sst}, e.tables...)
	e.flushing = nil
	e.mu.Unlock()

	e.stats.RecordFlush()
	return nil
}

// reabsorb folds a memtable that failed to persist back into the active
// one so its records stay readable. Keys overwritten in the meantime keep
// their newer records.
func (e *Engine) reabsorb(imm *Memtable) {
	e.mu.Lock()
	defer e.mu.Unlock()

	it := imm.Range(nil, nil)
	for it.Next() {
		rec := it.Record()
		if e.mem.Get(rec.Key) == nil {
			e.mem.Upsert(rec)
		}
	}
	e.flushing = nil
}

// Get returns the newest record this node holds for key, or nil when the
// key was never written here. Tombstones are returned as records so the
// replication layer can merge them by timestamp.
func (e *Engine) Get(key []byte) (*Record, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, ErrClosed
	}
	mem, flushing, tables := e.mem, e.flushing, e.tables
	e.mu.RUnlock()

	if rec := mem.Get(key); rec != nil {
		return rec, nil
	}
	if flushing != nil {
		if rec := flushing.Get(key); rec != nil {
			return rec, nil
		}
	}
	for _, sst := range tables {
		cacheKey := sst.Path() + "\x00" + string(key)
		if cached, ok := e.reads.Get(cacheKey); ok {
			if rec, ok := cached.(*Record); ok {
				return rec, nil
			}
			continue // cached absence
		}
		rec, err := sst.Get(key)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			e.reads.Put(cacheKey, rec)
			return rec, nil
		}
		e.reads.Put(cacheKey, absentMarker)
	}
	return nil, nil
}

// Range returns an iterator over live records with keys in [from, to) in
// ascending order, each key at most once with its newest record, tombstones
// excluded. The iterator observes the table set as of this call; later
// upserts may or may not appear.
func (e *Engine) Range(from, to []byte) (Iterator, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrClosed
	}

	sources := make([]Iterator, 0, len(e.tables)+2)
	sources = append(sources, e.mem.Range(from, to))
	if e.flushing != nil {
		sources = append(sources, e.flushing.Range(from, to))
	}
	for _, sst := range e.tables {
		it, err := sst.Range(from, to)
		if err != nil {
			return nil, err
		}
		sources = append(sources, it)
	}
	return newMergeIterator(sources, true), nil
}

// Compact merges the current memtable and all sstables into a single new
// sstable, then unlinks the superseded files. Upserts arriving during
// compaction land in a fresh memtable and are preserved. Tombstones are
// dropped: with the whole set merged into one table they shadow nothing
// on this node.
func (e *Engine) Compact() error {
	e.maint.Lock()
	defer e.maint.Unlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	imm := e.mem
	old := e.tables
	if imm.Len() == 0 && len(old) == 0 {
		e.mu.Unlock()
		return nil
	}
	e.mem = NewMemtable()
	e.flushing = imm
	id := e.nextID
	e.nextID++
	e.mu.Unlock()

	sources := make([]Iterator, 0, len(old)+1)
	sources = append(sources, imm.Range(nil, nil))
	for _, sst := range old {
		sources = append(sources, sst.Iter())
	}
	merged := newMergeIterator(sources, true)

	sst, err := CreateSSTable(e.dir, id, merged)
	merged.Close()
	if err != nil {
		e.reabsorb(imm)
		e.log.WithError(err).Error("compaction failed")
		return fmt.Errorf("compact: %w", err)
	}

	e.mu.Lock()
	e.tables = []*SSTable{sst}
	e.flushing = nil
	e.obsolete = append(e.obsolete, old...)
	e.mu.Unlock()

	for _, t := range old {
		if err := t.Remove(); err != nil {
			e.log.WithError(err).WithField("path", t.Path()).Warn("failed to remove compacted sstable")
		}
	}

	e.stats.RecordCompaction()
	return nil
}

// Close flushes the memtable if non-empty and releases all file handles.
// Further operations return ErrClosed.
func (e *Engine) Close() error {
	e.maint.Lock()
	defer e.maint.Unlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	mem := e.mem
	id := e.nextID
	e.nextID++
	tables := e.tables
	obsolete := e.obsolete
	e.mu.Unlock()

	var firstErr error
	if mem.Len() > 0 {
		sst, err := CreateSSTable(e.dir, id, mem.Range(nil, nil))
		if err != nil {
			firstErr = fmt.Errorf("final flush: %w", err)
		} else if err := sst.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for _, sst := range tables {
		if err := sst.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, sst := range obsolete {
		if err := sst.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Stats returns engine statistics
func (e *Engine) Stats() map[string]interface{} {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var onDisk int64
	for _, sst := range e.tables {
		onDisk += sst.SizeBytes()
	}
	return map[string]interface{}{
		"memtable_bytes": e.mem.SizeBytes(),
		"num_sstables":   len(e.tables),
		"on_disk_bytes":  onDisk,
		"next_table_id":  e.nextID,
	}
}
