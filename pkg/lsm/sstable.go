package lsm

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	sstPrefix = "sst_"
	tmpPrefix = "tmp_"

	// tombstoneLen in the value-length slot marks a tombstone record
	tombstoneLen = int32(-1)

	bloomHashes = 3
)

// SSTable is an immutable on-disk segment of records in ascending key
// order. The file holds a data region followed by a footer:
//
//	data:   entry_count x (key_len:u32 | key | timestamp:u64 | value_len:i32 | value?)
//	footer: entry_count:u32 | entry_count x offset:i64 | bloom_len:u32 | bloom | footer_len:u32
//
// All integers are little-endian; value_len == -1 denotes a tombstone.
// The dense offset table allows binary search by key without scanning.
type SSTable struct {
	path    string
	file    *os.File
	offsets []int64
	bloom   *bloomFilter
	dataEnd int64
	size    int64
}

// CreateSSTable streams records from it (which must yield ascending keys)
// into dir as sst_<id>. The write is crash-safe: data goes to a tmp_ name,
// is synced, then atomically renamed. Returns an open table.
func CreateSSTable(dir string, id uint64, it Iterator) (*SSTable, error) {
	tmpPath := filepath.Join(dir, fmt.Sprintf("%s%s%d", tmpPrefix, sstPrefix, id))
	file, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create sstable file: %w", err)
	}

	w := bufio.NewWriter(file)
	var (
		offsets []int64
		offset  int64
		keys    [][]byte
	)
	for it.Next() {
		rec := it.Record()
		offsets = append(offsets, offset)
		keys = append(keys, rec.Key)
		n, err := writeRecord(w, rec)
		if err != nil {
			file.Close()
			os.Remove(tmpPath)
			return nil, fmt.Errorf("failed to write record: %w", err)
		}
		offset += n
	}
	if err := it.Err(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to read source: %w", err)
	}

	bloom := newBloomFilter(len(offsets), bloomHashes)
	for _, k := range keys {
		bloom.add(k)
	}

	if err := writeFooter(w, offsets, bloom); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to write footer: %w", err)
	}
	if err := w.Flush(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to flush sstable: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to sync sstable: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to close sstable: %w", err)
	}

	finalPath := filepath.Join(dir, fmt.Sprintf("%s%d", sstPrefix, id))
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to finalize sstable: %w", err)
	}

	return OpenSSTable(finalPath)
}

func writeRecord(w io.Writer, rec *Record) (int64, error) {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(rec.Key))); err != nil {
		return 0, err
	}
	if _, err := w.Write(rec.Key); err != nil {
		return 0, err
	}
	if err := binary.Write(w, binary.LittleEndian, rec.Timestamp); err != nil {
		return 0, err
	}

	valueLen := int32(len(rec.Value))
	if rec.Tombstone {
		valueLen = tombstoneLen
	}
	if err := binary.Write(w, binary.LittleEndian, valueLen); err != nil {
		return 0, err
	}

	n := int64(4 + len(rec.Key) + 8 + 4)
	if !rec.Tombstone {
		if _, err := w.Write(rec.Value); err != nil {
			return 0, err
		}
		n += int64(len(rec.Value))
	}
	return n, nil
}

func writeFooter(w io.Writer, offsets []int64, bloom *bloomFilter) error {
	footer := new(bytes.Buffer)

	if err := binary.Write(footer, binary.LittleEndian, uint32(len(offsets))); err != nil {
		return err
	}
	for _, off := range offsets {
		if err := binary.Write(footer, binary.LittleEndian, off); err != nil {
			return err
		}
	}

	bloomData := bloom.marshal()
	if err := binary.Write(footer, binary.LittleEndian, uint32(len(bloomData))); err != nil {
		return err
	}
	footer.Write(bloomData)

	footerLen := uint32(footer.Len())
	if err := binary.Write(footer, binary.LittleEndian, footerLen); err != nil {
		return err
	}

	_, err := w.Write(footer.Bytes())
	return err
}

// OpenSSTable opens an existing sstable and parses its footer. The table
// keeps one file handle and serves all reads through ReadAt, so it stays
// usable for concurrent readers and after the path is unlinked.
func OpenSSTable(path string) (*SSTable, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sstable: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat sstable: %w", err)
	}
	fileSize := stat.Size()
	if fileSize < 4 {
		file.Close()
		return nil, fmt.Errorf("%w: %s: file too small", ErrCorruptSSTable, path)
	}

	var lenBuf [4]byte
	if _, err := file.ReadAt(lenBuf[:], fileSize-4); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to read footer length: %w", err)
	}
	footerLen := int64(binary.LittleEndian.Uint32(lenBuf[:]))
	footerStart := fileSize - 4 - footerLen
	if footerLen < 8 || footerStart < 0 {
		file.Close()
		return nil, fmt.Errorf("%w: %s: bad footer length", ErrCorruptSSTable, path)
	}

	footer := make([]byte, footerLen)
	if _, err := file.ReadAt(footer, footerStart); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to read footer: %w", err)
	}

	numEntries := int64(binary.LittleEndian.Uint32(footer[0:4]))
	if footerLen < 4+numEntries*8+4 {
		file.Close()
		return nil, fmt.Errorf("%w: %s: truncated offset table", ErrCorruptSSTable, path)
	}
	offsets := make([]int64, numEntries)
	pos := int64(4)
	for i := range offsets {
		offsets[i] = int64(binary.LittleEndian.Uint64(footer[pos : pos+8]))
		pos += 8
	}

	bloomLen := int64(binary.LittleEndian.Uint32(footer[pos : pos+4]))
	pos += 4
	if pos+bloomLen > footerLen {
		file.Close()
		return nil, fmt.Errorf("%w: %s: truncated bloom filter", ErrCorruptSSTable, path)
	}
	var bloom *bloomFilter
	if bloomLen > 0 {
		bloom, err = unmarshalBloomFilter(footer[pos : pos+bloomLen])
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	return &SSTable{
		path:    path,
		file:    file,
		offsets: offsets,
		bloom:   bloom,
		dataEnd: footerStart,
		size:    fileSize,
	}, nil
}

// Len returns the number of records in the table
func (sst *SSTable) Len() int { return len(sst.offsets) }

// SizeBytes returns the on-disk size of the table
func (sst *SSTable) SizeBytes() int64 { return sst.size }

// Path returns the table's file path
func (sst *SSTable) Path() string { return sst.path }

// Close releases the file handle
func (sst *SSTable) Close() error { return sst.file.Close() }

// Remove unlinks the table file. Open readers keep working until Close.
func (sst *SSTable) Remove() error { return os.Remove(sst.path) }

// keyAt reads the key of the i-th record
func (sst *SSTable) keyAt(i int) ([]byte, error) {
	off := sst.offsets[i]
	var lenBuf [4]byte
	if _, err := sst.file.ReadAt(lenBuf[:], off); err != nil {
		return nil, err
	}
	keyLen := binary.LittleEndian.Uint32(lenBuf[:])
	key := make([]byte, keyLen)
	if _, err := sst.file.ReadAt(key, off+4); err != nil {
		return nil, err
	}
	return key, nil
}

// recordAt reads the full i-th record
func (sst *SSTable) recordAt(i int) (*Record, error) {
	off := sst.offsets[i]
	var hdr [4]byte
	if _, err := sst.file.ReadAt(hdr[:], off); err != nil {
		return nil, err
	}
	keyLen := int64(binary.LittleEndian.Uint32(hdr[:]))

	meta := make([]byte, keyLen+12)
	if _, err := sst.file.ReadAt(meta, off+4); err != nil {
		return nil, err
	}
	key := meta[:keyLen]
	timestamp := binary.LittleEndian.Uint64(meta[keyLen : keyLen+8])
	valueLen := int32(binary.LittleEndian.Uint32(meta[keyLen+8 : keyLen+12]))

	rec := &Record{Key: key, Timestamp: timestamp}
	if valueLen == tombstoneLen {
		rec.Tombstone = true
		return rec, nil
	}
	if valueLen < 0 {
		return nil, fmt.Errorf("%w: %s: bad value length %d", ErrCorruptSSTable, sst.path, valueLen)
	}
	value := make([]byte, valueLen)
	if _, err := sst.file.ReadAt(value, off+4+keyLen+12); err != nil {
		return nil, err
	}
	rec.Value = value
	return rec, nil
}

// lowerBound returns the index of the first record with key >= target
func (sst *SSTable) lowerBound(target []byte) (int, error) {
	var searchErr error
	idx := sort.Search(len(sst.offsets), func(i int) bool {
		if searchErr != nil {
			return true
		}
		key, err := sst.keyAt(i)
		if err != nil {
			searchErr = err
			return true
		}
		return bytes.Compare(key, target) >= 0
	})
	if searchErr != nil {
		return 0, searchErr
	}
	return idx, nil
}

// Get returns the record stored for key, or nil. Tombstones are returned
// as-is.
func (sst *SSTable) Get(key []byte) (*Record, error) {
	if len(sst.offsets) == 0 {
		return nil, nil
	}
	if sst.bloom != nil && !sst.bloom.contains(key) {
		return nil, nil
	}

	idx, err := sst.lowerBound(key)
	if err != nil {
		return nil, err
	}
	if idx >= len(sst.offsets) {
		return nil, nil
	}
	rec, err := sst.recordAt(idx)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(rec.Key, key) {
		return nil, nil
	}
	return rec, nil
}

// Range returns an iterator over records with keys in [from, to) in
// ascending order. Nil bounds mean unbounded.
func (sst *SSTable) Range(from, to []byte) (Iterator, error) {
	start := 0
	if from != nil {
		var err error
		start, err = sst.lowerBound(from)
		if err != nil {
			return nil, err
		}
	}
	return &sstIterator{table: sst, pos: start, limit: to}, nil
}

// Iter returns a full-scan iterator
func (sst *SSTable) Iter() Iterator {
	return &sstIterator{table: sst}
}

// sstIterator walks a table's records sequentially by offset index
type sstIterator struct {
	table *SSTable
	pos   int
	limit []byte
	rec   *Record
	err   error
}

func (it *sstIterator) Next() bool {
	if it.err != nil || it.pos >= len(it.table.offsets) {
		it.rec = nil
		return false
	}
	rec, err := it.table.recordAt(it.pos)
	if err != nil {
		it.err = err
		it.rec = nil
		return false
	}
	if it.limit != nil && bytes.Compare(rec.Key, it.limit) >= 0 {
		it.rec = nil
		it.pos = len(it.table.offsets)
		return false
	}
	it.pos++
	it.rec = rec
	return true
}

func (it *sstIterator) Record() *Record { return it.rec }

func (it *sstIterator) Err() error { return it.err }

func (it *sstIterator) Close() error { return nil }

// loadSSTables scans dir for finalized tables, reaping any tmp_ leftovers
// from interrupted writes. Tables are returned newest-first along with the
// next free table id.
func loadSSTables(dir string) ([]*SSTable, uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read data directory: %w", err)
	}

	var ids []uint64
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, tmpPrefix) {
			if err := os.Remove(filepath.Join(dir, name)); err != nil {
				return nil, 0, fmt.Errorf("failed to remove temp file %s: %w", name, err)
			}
			continue
		}
		if !strings.HasPrefix(name, sstPrefix) {
			continue
		}
		id, err := strconv.ParseUint(strings.TrimPrefix(name, sstPrefix), 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}

	// Newest-first: highest id was written last
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })

	tables := make([]*SSTable, 0, len(ids))
	var nextID uint64
	for _, id := range ids {
		if id >= nextID {
			nextID = id + 1
		}
		sst, err := OpenSSTable(filepath.Join(dir, fmt.Sprintf("%s%d", sstPrefix, id)))
		if err != nil {
			for _, t := range tables {
				t.Close()
			}
			return nil, 0, fmt.Errorf("failed to open sstable %d: %w", id, err)
		}
		tables = append(tables, sst)
	}

	return tables, nextID, nil
}
