package store

import (
	"fmt"
	"io"

	"github.com/aleksaelezovic/annobrick/internal/encoding"
	"github.com/aleksaelezovic/annobrick/internal/storage"
	"github.com/aleksaelezovic/annobrick/pkg/rdf"
)

// TripleStore is an indexed triple store with SPO, POS and OSP indexes
// and an id2str dictionary for hashed terms.
type TripleStore struct {
	storage storage.Storage
	encoder *encoding.TermEncoder
	decoder *encoding.TermDecoder
}

// NewTripleStore creates a new triplestore
func NewTripleStore(storage storage.Storage) *TripleStore {
	return &TripleStore{
		storage: storage,
		encoder: encoding.NewTermEncoder(),
		decoder: encoding.NewTermDecoder(),
	}
}

// Close closes the triplestore
func (s *TripleStore) Close() error {
	return s.storage.Close()
}

// Sync flushes the underlying storage
func (s *TripleStore) Sync() error {
	return s.storage.Sync()
}

// writer is the subset of storage.Transaction and storage.Batch used for inserts
type writer interface {
	Set(table storage.Table, key, value []byte) error
}

// InsertTriple inserts a single triple in its own transaction
func (s *TripleStore) InsertTriple(triple *rdf.Triple) error {
	txn, err := s.storage.Begin(true)
	if err != nil {
		return err
	}
	defer txn.Rollback()

	if err := s.insertTriple(txn, triple); err != nil {
		return err
	}

	return txn.Commit()
}

// InsertTriples inserts triples through a write batch. Duplicates, within
// the slice or against existing data, collapse onto the same index keys.
func (s *TripleStore) InsertTriples(triples []*rdf.Triple) error {
	batch := s.storage.NewBatch()
	for _, triple := range triples {
		if err := s.insertTriple(batch, triple); err != nil {
			batch.Cancel()
			return err
		}
	}
	if err := batch.Flush(); err != nil {
		return fmt.Errorf("failed to flush triples: %w", err)
	}
	return nil
}

func (s *TripleStore) insertTriple(w writer, triple *rdf.Triple) error {
	subjEnc, subjStr, err := s.encoder.EncodeTerm(triple.Subject)
	if err != nil {
		return fmt.Errorf("failed to encode subject: %w", err)
	}

	predEnc, predStr, err := s.encoder.EncodeTerm(triple.Predicate)
	if err != nil {
		return fmt.Errorf("failed to encode predicate: %w", err)
	}

	objEnc, objStr, err := s.encoder.EncodeTerm(triple.Object)
	if err != nil {
		return fmt.Errorf("failed to encode object: %w", err)
	}

	for _, entry := range []struct {
		enc encoding.EncodedTerm
		str *string
	}{{subjEnc, subjStr}, {predEnc, predStr}, {objEnc, objStr}} {
		if entry.str == nil {
			continue
		}
		if err := w.Set(storage.TableID2Str, entry.enc[1:], []byte(*entry.str)); err != nil {
			return err
		}
	}

	// Empty value for all index entries
	emptyValue := []byte{}

	if err := w.Set(storage.TableSPO, s.encoder.EncodeKey(subjEnc, predEnc, objEnc), emptyValue); err != nil {
		return err
	}
	if err := w.Set(storage.TablePOS, s.encoder.EncodeKey(predEnc, objEnc, subjEnc), emptyValue); err != nil {
		return err
	}
	return w.Set(storage.TableOSP, s.encoder.EncodeKey(objEnc, subjEnc, predEnc), emptyValue)
}

// ContainsTriple checks if a triple exists in the store
func (s *TripleStore) ContainsTriple(triple *rdf.Triple) (bool, error) {
	txn, err := s.storage.Begin(false)
	if err != nil {
		return false, err
	}
	defer txn.Rollback()

	subjEnc, _, err := s.encoder.EncodeTerm(triple.Subject)
	if err != nil {
		return false, err
	}
	predEnc, _, err := s.encoder.EncodeTerm(triple.Predicate)
	if err != nil {
		return false, err
	}
	objEnc, _, err := s.encoder.EncodeTerm(triple.Object)
	if err != nil {
		return false, err
	}

	_, err = txn.Get(storage.TableSPO, s.encoder.EncodeKey(subjEnc, predEnc, objEnc))
	if err == storage.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Count returns the number of triples in the store
func (s *TripleStore) Count() (int64, error) {
	txn, err := s.storage.Begin(false)
	if err != nil {
		return 0, err
	}
	defer txn.Rollback()

	it, err := txn.Scan(storage.TableSPO, nil)
	if err != nil {
		return 0, err
	}
	defer it.Close()

	count := int64(0)
	for it.Next() {
		count++
	}

	return count, nil
}

// SetNamespaces records namespace declarations alongside the data
func (s *TripleStore) SetNamespaces(ns rdf.Namespaces) error {
	txn, err := s.storage.Begin(true)
	if err != nil {
		return err
	}
	defer txn.Rollback()

	for _, binding := range ns.List() {
		if err := txn.Set(storage.TableNamespaces, []byte(binding.Prefix), []byte(binding.IRI)); err != nil {
			return fmt.Errorf("failed to store namespace %s: %w", binding.Prefix, err)
		}
	}
	return txn.Commit()
}

// Namespaces returns the namespace declarations stored with the data
func (s *TripleStore) Namespaces() (rdf.Namespaces, error) {
	txn, err := s.storage.Begin(false)
	if err != nil {
		return rdf.Namespaces{}, err
	}
	defer txn.Rollback()

	it, err := txn.Scan(storage.TableNamespaces, nil)
	if err != nil {
		return rdf.Namespaces{}, err
	}
	defer it.Close()

	var entries []rdf.Namespace
	for it.Next() {
		value, err := it.Value()
		if err != nil {
			return rdf.Namespaces{}, err
		}
		entries = append(entries, rdf.Namespace{Prefix: string(it.Key()), IRI: string(value)})
	}
	return rdf.NewNamespaces(entries...)
}

// Backup writes a snapshot of the whole store to w
func (s *TripleStore) Backup(w io.Writer) error {
	return s.storage.Backup(w)
}

// Load merges a snapshot written by Backup into the store
func (s *TripleStore) Load(r io.Reader) error {
	return s.storage.Load(r)
}
