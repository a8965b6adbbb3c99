package storage

import (
	"errors"
	"fmt"
	"io"

	badger "github.com/dgraph-io/badger/v4"
)

// maxPendingLoadWrites bounds the number of in-flight writes during Load
const maxPendingLoadWrites = 256

// BadgerStorage implements Storage using BadgerDB
type BadgerStorage struct {
	db       *badger.DB
	inMemory bool
}

// NewBadgerStorage creates a BadgerDB-backed storage at path. An empty
// path opens a purely in-memory store.
func NewBadgerStorage(path string) (*BadgerStorage, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil // Disable default logger

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	return &BadgerStorage{db: db, inMemory: path == ""}, nil
}

// Begin starts a new transaction
func (s *BadgerStorage) Begin(writable bool) (Transaction, error) {
	return &BadgerTransaction{
		txn:      s.db.NewTransaction(writable),
		writable: writable,
	}, nil
}

// NewBatch starts a write batch
func (s *BadgerStorage) NewBatch() Batch {
	return &BadgerBatch{wb: s.db.NewWriteBatch()}
}

// Backup writes every key of the store to w
func (s *BadgerStorage) Backup(w io.Writer) error {
	if _, err := s.db.Backup(w, 0); err != nil {
		return fmt.Errorf("failed to back up badger db: %w", err)
	}
	return nil
}

// Load applies a backup stream to the store. Keys already present are
// overwritten, so loading several snapshots yields their union.
func (s *BadgerStorage) Load(r io.Reader) error {
	if err := s.db.Load(r, maxPendingLoadWrites); err != nil {
		return fmt.Errorf("failed to load badger backup: %w", err)
	}
	return nil
}

// Close closes the storage
func (s *BadgerStorage) Close() error {
	return s.db.Close()
}

// Sync flushes writes to disk
func (s *BadgerStorage) Sync() error {
	if s.inMemory {
		return nil
	}
	return s.db.Sync()
}

// BadgerTransaction implements Transaction using BadgerDB
type BadgerTransaction struct {
	txn      *badger.Txn
	writable bool
}

// Get retrieves a value by key
func (t *BadgerTransaction) Get(table Table, key []byte) ([]byte, error) {
	item, err := t.txn.Get(PrefixKey(table, key))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return item.ValueCopy(nil)
}

// Set stores a key-value pair
func (t *BadgerTransaction) Set(table Table, key, value []byte) error {
	if !t.writable {
		return ErrTransactionRO
	}
	return t.txn.Set(PrefixKey(table, key), value)
}

// Scan iterates over the keys of table that start with prefix
func (t *BadgerTransaction) Scan(table Table, prefix []byte) (Iterator, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false

	scanPrefix := PrefixKey(table, prefix)
	opts.Prefix = scanPrefix

	return &BadgerIterator{
		it:         t.txn.NewIterator(opts),
		tablePfx:   len(TablePrefix(table)),
		scanPrefix: scanPrefix,
	}, nil
}

// Commit commits the transaction
func (t *BadgerTransaction) Commit() error {
	return t.txn.Commit()
}

// Rollback rolls back the transaction
func (t *BadgerTransaction) Rollback() error {
	t.txn.Discard()
	return nil
}

// BadgerBatch implements Batch using a badger WriteBatch
type BadgerBatch struct {
	wb *badger.WriteBatch
}

func (b *BadgerBatch) Set(table Table, key, value []byte) error {
	return b.wb.Set(PrefixKey(table, key), value)
}

func (b *BadgerBatch) Flush() error {
	return b.wb.Flush()
}

func (b *BadgerBatch) Cancel() {
	b.wb.Cancel()
}

// BadgerIterator implements Iterator using BadgerDB
type BadgerIterator struct {
	it         *badger.Iterator
	tablePfx   int
	scanPrefix []byte
	started    bool
	hasValue   bool
}

// Next advances to the next item
func (i *BadgerIterator) Next() bool {
	if !i.started {
		i.it.Seek(i.scanPrefix)
		i.started = true
	} else {
		i.it.Next()
	}

	i.hasValue = i.it.ValidForPrefix(i.scanPrefix)
	return i.hasValue
}

// Key returns the current key (without the table prefix)
func (i *BadgerIterator) Key() []byte {
	if !i.hasValue {
		return nil
	}
	return i.it.Item().KeyCopy(nil)[i.tablePfx:]
}

// Value returns the current value
func (i *BadgerIterator) Value() ([]byte, error) {
	if !i.hasValue {
		return nil, ErrNotFound
	}
	return i.it.Item().ValueCopy(nil)
}

// Close closes the iterator
func (i *BadgerIterator) Close() error {
	i.it.Close()
	return nil
}
