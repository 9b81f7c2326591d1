package lsm

import "errors"

var (
	// ErrClosed is returned when an operation is attempted on a closed engine
	ErrClosed = errors.New("engine is closed")

	// ErrEmptyKey is returned when a record with an empty key is upserted
	ErrEmptyKey = errors.New("empty key")

	// ErrCorruptSSTable is returned when an sstable file fails to parse
	ErrCorruptSSTable = errors.New("corrupt sstable")

	// ErrInvalidBloomFilter is returned when bloom filter data is invalid
	ErrInvalidBloomFilter = errors.New("invalid bloom filter data")
)
