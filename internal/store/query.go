package store

import (
	"fmt"

	"github.com/aleksaelezovic/annobrick/internal/encoding"
	"github.com/aleksaelezovic/annobrick/internal/storage"
	"github.com/aleksaelezovic/annobrick/pkg/rdf"
)

// Pattern represents a triple pattern. A nil position or a *Variable
// matches any term.
type Pattern struct {
	Subject   any // rdf.Term or Variable
	Predicate any // rdf.Term or Variable
	Object    any // rdf.Term or Variable
}

// Variable represents a pattern variable
type Variable struct {
	Name string
}

// NewVariable creates a new variable
func NewVariable(name string) *Variable {
	return &Variable{Name: name}
}

func (v *Variable) String() string {
	return "?" + v.Name
}

// TripleIterator iterates over triples matching a pattern
type TripleIterator interface {
	Next() bool
	Triple() (*rdf.Triple, error)
	Close() error
}

// Query executes a pattern match and returns matching triples in index order
func (s *TripleStore) Query(pattern *Pattern) (TripleIterator, error) {
	txn, err := s.storage.Begin(false)
	if err != nil {
		return nil, err
	}

	// Select the best index based on bound positions
	table, keyPattern := selectIndex(pattern)

	prefix, err := s.buildScanPrefix(pattern, keyPattern)
	if err != nil {
		_ = txn.Rollback() // #nosec G104 - rollback error less important than original error
		return nil, err
	}

	it, err := txn.Scan(table, prefix)
	if err != nil {
		_ = txn.Rollback() // #nosec G104 - rollback error less important than original error
		return nil, err
	}

	return &tripleIterator{
		store:      s,
		txn:        txn,
		it:         it,
		keyPattern: keyPattern,
	}, nil
}

// Match collects every triple matching pattern
func (s *TripleStore) Match(pattern *Pattern) ([]*rdf.Triple, error) {
	return s.collect(pattern, -1)
}

// Triples returns up to limit triples in SPO order. A negative limit
// returns all of them.
func (s *TripleStore) Triples(limit int) ([]*rdf.Triple, error) {
	return s.collect(&Pattern{}, limit)
}

func (s *TripleStore) collect(pattern *Pattern, limit int) ([]*rdf.Triple, error) {
	iter, err := s.Query(pattern)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var triples []*rdf.Triple
	for (limit < 0 || len(triples) < limit) && iter.Next() {
		triple, err := iter.Triple()
		if err != nil {
			return nil, err
		}
		triples = append(triples, triple)
	}
	return triples, nil
}

// selectIndex chooses the best index based on which positions are bound.
// The key pattern maps key position -> triple position (S=0, P=1, O=2).
func selectIndex(pattern *Pattern) (storage.Table, []int) {
	sBound := !isVariable(pattern.Subject)
	pBound := !isVariable(pattern.Predicate)
	oBound := !isVariable(pattern.Object)

	switch {
	case sBound && pBound:
		return storage.TableSPO, []int{0, 1, 2}
	case pBound && oBound:
		return storage.TablePOS, []int{1, 2, 0}
	case oBound && sBound:
		return storage.TableOSP, []int{2, 0, 1}
	case sBound:
		return storage.TableSPO, []int{0, 1, 2}
	case pBound:
		return storage.TablePOS, []int{1, 2, 0}
	case oBound:
		return storage.TableOSP, []int{2, 0, 1}
	default:
		return storage.TableSPO, []int{0, 1, 2}
	}
}

// buildScanPrefix builds a key prefix from the bound terms in key order
func (s *TripleStore) buildScanPrefix(pattern *Pattern, keyPattern []int) ([]byte, error) {
	positions := []any{pattern.Subject, pattern.Predicate, pattern.Object}

	var prefix []byte
	for _, idx := range keyPattern {
		term := positions[idx]
		if isVariable(term) {
			// Stop at first variable
			break
		}

		rdfTerm, ok := term.(rdf.Term)
		if !ok {
			return nil, fmt.Errorf("unsupported pattern term: %T", term)
		}
		encoded, _, err := s.encoder.EncodeTerm(rdfTerm)
		if err != nil {
			return nil, err
		}

		prefix = append(prefix, encoded[:]...)
	}

	return prefix, nil
}

// isVariable reports whether a pattern position is unbound
func isVariable(v any) bool {
	if v == nil {
		return true
	}
	_, ok := v.(*Variable)
	return ok
}

// tripleIterator implements TripleIterator
type tripleIterator struct {
	store      *TripleStore
	txn        storage.Transaction
	it         storage.Iterator
	keyPattern []int
	closed     bool
}

func (ti *tripleIterator) Next() bool {
	if ti.closed {
		return false
	}
	return ti.it.Next()
}

func (ti *tripleIterator) Triple() (*rdf.Triple, error) {
	if ti.closed {
		return nil, fmt.Errorf("iterator closed")
	}

	key := ti.it.Key()
	if key == nil {
		return nil, fmt.Errorf("no current key")
	}

	terms, err := encoding.DecodeKey(key, len(ti.keyPattern))
	if err != nil {
		return nil, err
	}

	// Map back to S, P, O positions
	positions := make([]rdf.Term, 3)
	for i, idx := range ti.keyPattern {
		term, err := ti.store.decodeTerm(ti.txn, terms[i])
		if err != nil {
			return nil, fmt.Errorf("failed to decode term %d: %w", idx, err)
		}
		positions[idx] = term
	}

	return rdf.NewTriple(positions[0], positions[1], positions[2]), nil
}

func (ti *tripleIterator) Close() error {
	if ti.closed {
		return nil
	}
	ti.closed = true
	_ = ti.it.Close() // #nosec G104 - iterator close error less critical than transaction rollback error
	return ti.txn.Rollback()
}

// decodeTerm resolves an encoded term, looking up the id2str table for
// hashed terms
func (s *TripleStore) decodeTerm(txn storage.Transaction, encoded encoding.EncodedTerm) (rdf.Term, error) {
	var stringValue *string
	str, err := txn.Get(storage.TableID2Str, encoded[1:])
	switch {
	case err == nil:
		strVal := string(str)
		stringValue = &strVal
	case err != storage.ErrNotFound:
		return nil, err
	}

	return s.decoder.DecodeTerm(encoded, stringValue)
}
