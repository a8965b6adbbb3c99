package annotation

import (
	"fmt"

	"github.com/aleksaelezovic/annobrick/pkg/rdf"
)

// textFormat is the dc:format of every annotation body
const textFormat = "text/plain"

// Mapper turns annotation rows into graph edges
type Mapper struct {
	ns    rdf.Namespaces
	vocab *Vocabulary
}

// NewMapper creates a mapper over the namespace table ns
func NewMapper(ns rdf.Namespaces) (*Mapper, error) {
	vocab, err := NewVocabulary(ns)
	if err != nil {
		return nil, err
	}
	return &Mapper{ns: ns, vocab: vocab}, nil
}

// Namespaces returns the namespace table the mapper was built with
func (m *Mapper) Namespaces() rdf.Namespaces {
	return m.ns
}

// Vocabulary returns the resolved vocabulary
func (m *Mapper) Vocabulary() *Vocabulary {
	return m.vocab
}

// Map returns the edges of a single row. The result depends only on the
// row; repeated texts or identifiers produce repeated edges.
func (m *Mapper) Map(row Row) ([]*rdf.Triple, error) {
	fail := func(err error) ([]*rdf.Triple, error) {
		return nil, &RowMappingError{ANID: row.ANID, Row: row.Position, Err: err}
	}

	if row.ANID < 0 {
		return fail(fmt.Errorf("%w: ANID %d", ErrNegativeID, row.ANID))
	}
	for _, cid := range row.CompoundIDs {
		if cid < 0 {
			return fail(fmt.Errorf("%w: compound %d", ErrNegativeID, cid))
		}
	}
	for _, sid := range row.SubstanceIDs {
		if sid < 0 {
			return fail(fmt.Errorf("%w: substance %d", ErrNegativeID, sid))
		}
	}

	texts, err := row.Texts()
	if err != nil {
		return fail(err)
	}

	v := m.vocab
	annotation := v.AnnotationIRI(row.ANID)
	body := v.BodyIRI(row.ANID)

	triples := make([]*rdf.Triple, 0, 3+2*(len(row.CompoundIDs)+len(row.SubstanceIDs))+len(texts))
	triples = append(triples, rdf.NewTriple(annotation, v.Type, v.Annotation))
	for _, cid := range row.CompoundIDs {
		compound := v.CompoundIRI(cid)
		triples = append(triples,
			rdf.NewTriple(annotation, v.HasTarget, compound),
			rdf.NewTriple(annotation, v.Subject, compound),
		)
	}
	for _, sid := range row.SubstanceIDs {
		substance := v.SubstanceIRI(sid)
		triples = append(triples,
			rdf.NewTriple(annotation, v.HasTarget, substance),
			rdf.NewTriple(annotation, v.Subject, substance),
		)
	}
	triples = append(triples, rdf.NewTriple(annotation, v.HasBody, body))
	for _, text := range texts {
		triples = append(triples, rdf.NewTriple(body, v.Value, rdf.NewLiteral(text)))
	}
	triples = append(triples, rdf.NewTriple(body, v.Format, rdf.NewLiteral(textFormat)))

	return triples, nil
}

// Accumulate maps every row into a new fragment. The first failing row
// fails the whole batch and no fragment is returned.
func (m *Mapper) Accumulate(rows []Row) (*Fragment, error) {
	fragment := NewFragment()
	for _, row := range rows {
		triples, err := m.Map(row)
		if err != nil {
			return nil, err
		}
		fragment.Add(triples...)
	}
	return fragment, nil
}
