package storage

import (
	"errors"
	"io"
)

var (
	ErrNotFound      = errors.New("key not found")
	ErrTransactionRO = errors.New("transaction is read-only")
)

// Storage is the interface for the underlying key-value store
type Storage interface {
	// Begin starts a new transaction
	Begin(writable bool) (Transaction, error)

	// NewBatch starts a write-only batch that is not bounded by
	// transaction size limits
	NewBatch() Batch

	// Backup writes a full snapshot of the store to w
	Backup(w io.Writer) error

	// Load merges a snapshot produced by Backup into the store
	Load(r io.Reader) error

	// Close closes the storage
	Close() error

	// Sync flushes writes to disk
	Sync() error
}

// Transaction represents a database transaction with snapshot isolation
type Transaction interface {
	// Get retrieves a value by key
	Get(table Table, key []byte) ([]byte, error)

	// Set stores a key-value pair
	Set(table Table, key, value []byte) error

	// Scan iterates over all keys of table starting with prefix
	Scan(table Table, prefix []byte) (Iterator, error)

	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error
}

// Batch buffers writes and applies them on Flush
type Batch interface {
	Set(table Table, key, value []byte) error
	Flush() error
	Cancel()
}

// Iterator iterates over key-value pairs
type Iterator interface {
	// Next advances to the next item
	Next() bool

	// Key returns the current key, without the table prefix
	Key() []byte

	// Value returns the current value
	Value() ([]byte, error)

	// Close closes the iterator
	Close() error
}

// Table represents a logical table/column family in the storage
type Table byte

const (
	// Metadata table: hash -> string
	TableID2Str Table = iota

	// Triple indexes
	TableSPO
	TablePOS
	TableOSP

	// Declared namespaces: prefix -> IRI
	TableNamespaces

	// Total number of tables
	TableCount
)

func (t Table) String() string {
	switch t {
	case TableID2Str:
		return "id2str"
	case TableSPO:
		return "spo"
	case TablePOS:
		return "pos"
	case TableOSP:
		return "osp"
	case TableNamespaces:
		return "namespaces"
	default:
		return "unknown"
	}
}

// TablePrefix returns a byte prefix for a table to namespace keys
func TablePrefix(table Table) []byte {
	return []byte{byte(table)}
}

// PrefixKey adds a table prefix to a key
func PrefixKey(table Table, key []byte) []byte {
	result := make([]byte, 1+len(key))
	result[0] = byte(table)
	copy(result[1:], key)
	return result
}
