package store

import (
	"bytes"
	"testing"

	"github.com/aleksaelezovic/annobrick/internal/storage"
	"github.com/aleksaelezovic/annobrick/pkg/rdf"
)

func newTestStore(t *testing.T) *TripleStore {
	t.Helper()
	s, err := storage.NewBadgerStorage("")
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	ts := NewTripleStore(s)
	t.Cleanup(func() { _ = ts.Close() })
	return ts
}

func testTriples() []*rdf.Triple {
	alice := rdf.NewNamedNode("http://example.org/alice")
	bob := rdf.NewNamedNode("http://example.org/bob")
	name := rdf.NewNamedNode("http://xmlns.com/foaf/0.1/name")
	knows := rdf.NewNamedNode("http://xmlns.com/foaf/0.1/knows")
	return []*rdf.Triple{
		rdf.NewTriple(alice, name, rdf.NewLiteral("Alice")),
		rdf.NewTriple(bob, name, rdf.NewLiteral("Bob, a rather long name literal")),
		rdf.NewTriple(alice, knows, bob),
		rdf.NewTriple(alice, rdf.RDFType, rdf.NewNamedNode("http://xmlns.com/foaf/0.1/Person")),
	}
}

func TestInsertTriplesAndQuery(t *testing.T) {
	ts := newTestStore(t)

	triples := testTriples()
	// Duplicates collapse
	if err := ts.InsertTriples(append(triples, triples[0])); err != nil {
		t.Fatalf("failed to insert: %v", err)
	}

	count, err := ts.Count()
	if err != nil {
		t.Fatalf("failed to count: %v", err)
	}
	if count != 4 {
		t.Errorf("expected count 4, got %d", count)
	}

	tests := []struct {
		name     string
		pattern  *Pattern
		expected int
	}{
		{"all", &Pattern{}, 4},
		{"subject bound", &Pattern{Subject: rdf.NewNamedNode("http://example.org/alice"), Predicate: NewVariable("p"), Object: NewVariable("o")}, 3},
		{"predicate bound", &Pattern{Predicate: rdf.NewNamedNode("http://xmlns.com/foaf/0.1/name")}, 2},
		{"object bound", &Pattern{Object: rdf.NewNamedNode("http://example.org/bob")}, 1},
		{"subject and object bound", &Pattern{Subject: rdf.NewNamedNode("http://example.org/alice"), Object: rdf.NewLiteral("Alice")}, 1},
		{"no match", &Pattern{Subject: rdf.NewNamedNode("http://example.org/carol")}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := ts.Match(tt.pattern)
			if err != nil {
				t.Fatalf("query failed: %v", err)
			}
			if len(results) != tt.expected {
				t.Errorf("expected %d results, got %d", tt.expected, len(results))
			}
		})
	}
}

func TestQuery_DecodesTerms(t *testing.T) {
	ts := newTestStore(t)
	triples := testTriples()
	if err := ts.InsertTriples(triples); err != nil {
		t.Fatalf("failed to insert: %v", err)
	}

	results, err := ts.Match(&Pattern{Predicate: rdf.NewNamedNode("http://xmlns.com/foaf/0.1/name"), Object: rdf.NewLiteral("Bob, a rather long name literal")})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if !results[0].Equals(triples[1]) {
		t.Errorf("expected %s, got %s", triples[1], results[0])
	}
}

func TestContainsTriple(t *testing.T) {
	ts := newTestStore(t)
	triples := testTriples()
	if err := ts.InsertTriple(triples[0]); err != nil {
		t.Fatalf("failed to insert: %v", err)
	}

	ok, err := ts.ContainsTriple(triples[0])
	if err != nil || !ok {
		t.Errorf("expected triple to be present, got %v, %v", ok, err)
	}
	ok, err = ts.ContainsTriple(triples[1])
	if err != nil || ok {
		t.Errorf("expected triple to be absent, got %v, %v", ok, err)
	}
}

func TestTriplesLimit(t *testing.T) {
	ts := newTestStore(t)
	if err := ts.InsertTriples(testTriples()); err != nil {
		t.Fatalf("failed to insert: %v", err)
	}

	sample, err := ts.Triples(2)
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	if len(sample) != 2 {
		t.Errorf("expected 2 triples, got %d", len(sample))
	}
}

func TestNamespaces(t *testing.T) {
	ts := newTestStore(t)
	ns := rdf.MustNamespaces(
		rdf.Namespace{Prefix: "foaf", IRI: "http://xmlns.com/foaf/0.1/"},
		rdf.Namespace{Prefix: "ex", IRI: "http://example.org/"},
	)
	if err := ts.SetNamespaces(ns); err != nil {
		t.Fatalf("failed to set namespaces: %v", err)
	}

	stored, err := ts.Namespaces()
	if err != nil {
		t.Fatalf("failed to read namespaces: %v", err)
	}
	if stored.Len() != 2 {
		t.Fatalf("expected 2 namespaces, got %d", stored.Len())
	}
	if iri, ok := stored.Lookup("foaf"); !ok || iri != "http://xmlns.com/foaf/0.1/" {
		t.Errorf("unexpected foaf binding %q", iri)
	}
}

func TestBackupLoad(t *testing.T) {
	triples := testTriples()

	first := newTestStore(t)
	if err := first.InsertTriples(triples[:2]); err != nil {
		t.Fatalf("failed to insert: %v", err)
	}
	second := newTestStore(t)
	if err := second.InsertTriples(triples[1:]); err != nil {
		t.Fatalf("failed to insert: %v", err)
	}

	merged := newTestStore(t)
	for _, src := range []*TripleStore{first, second} {
		var buf bytes.Buffer
		if err := src.Backup(&buf); err != nil {
			t.Fatalf("failed to back up: %v", err)
		}
		if err := merged.Load(&buf); err != nil {
			t.Fatalf("failed to load: %v", err)
		}
	}

	count, err := merged.Count()
	if err != nil {
		t.Fatalf("failed to count: %v", err)
	}
	if count != int64(len(triples)) {
		t.Errorf("expected %d triples after merge, got %d", len(triples), count)
	}
	for _, triple := range triples {
		ok, err := merged.ContainsTriple(triple)
		if err != nil || !ok {
			t.Errorf("expected %s in merged store", triple)
		}
	}
}
