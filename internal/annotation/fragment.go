package annotation

import "github.com/aleksaelezovic/annobrick/pkg/rdf"

// Fragment is the edge set of one batch. Edges keep their first insertion
// order and duplicates collapse.
type Fragment struct {
	triples []*rdf.Triple
	seen    map[string]struct{}
}

// NewFragment creates an empty fragment
func NewFragment() *Fragment {
	return &Fragment{seen: make(map[string]struct{})}
}

// Add inserts edges and returns how many were new
func (f *Fragment) Add(triples ...*rdf.Triple) int {
	added := 0
	for _, t := range triples {
		key := t.Key()
		if _, ok := f.seen[key]; ok {
			continue
		}
		f.seen[key] = struct{}{}
		f.triples = append(f.triples, t)
		added++
	}
	return added
}

// Contains reports whether the fragment holds t
func (f *Fragment) Contains(t *rdf.Triple) bool {
	_, ok := f.seen[t.Key()]
	return ok
}

// Len returns the number of distinct edges
func (f *Fragment) Len() int {
	return len(f.triples)
}

// Triples returns the edges in insertion order. The slice must not be modified.
func (f *Fragment) Triples() []*rdf.Triple {
	return f.triples
}
