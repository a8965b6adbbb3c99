package rdf

import (
	"errors"
	"fmt"
	"io"
	"strings"

	krdf "github.com/knakk/rdf"
)

// Format is a triple-exchange text syntax
type Format string

const (
	FormatTurtle   Format = "turtle"
	FormatNTriples Format = "ntriples"
)

// ParseFormat normalizes a format name or MIME type
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "turtle", "ttl", "text/turtle", "application/x-turtle":
		return FormatTurtle, nil
	case "ntriples", "n-triples", "nt", "application/n-triples":
		return FormatNTriples, nil
	default:
		return "", fmt.Errorf("unsupported triple format: %s", name)
	}
}

func (f Format) decoderFormat() krdf.Format {
	if f == FormatNTriples {
		return krdf.NTriples
	}
	return krdf.Turtle
}

// TripleReader streams triples out of a Turtle or N-Triples document
type TripleReader struct {
	dec krdf.TripleDecoder
}

// NewTripleReader creates a streaming reader over r
func NewTripleReader(r io.Reader, format Format) *TripleReader {
	return &TripleReader{dec: krdf.NewTripleDecoder(r, format.decoderFormat())}
}

// Read returns the next triple, or io.EOF when the input is exhausted
func (r *TripleReader) Read() (*Triple, error) {
	kt, err := r.dec.Decode()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("error decoding triple: %w", err)
	}

	subject, err := fromDecoded(kt.Subj)
	if err != nil {
		return nil, fmt.Errorf("invalid subject: %w", err)
	}
	predicate, err := fromDecoded(kt.Pred)
	if err != nil {
		return nil, fmt.Errorf("invalid predicate: %w", err)
	}
	object, err := fromDecoded(kt.Obj)
	if err != nil {
		return nil, fmt.Errorf("invalid object: %w", err)
	}

	return NewTriple(subject, predicate, object), nil
}

// ReadAllTriples decodes every triple in r
func ReadAllTriples(r io.Reader, format Format) ([]*Triple, error) {
	reader := NewTripleReader(r, format)
	var triples []*Triple
	for {
		t, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return triples, nil
		}
		if err != nil {
			return nil, err
		}
		triples = append(triples, t)
	}
}

func fromDecoded(term krdf.Term) (Term, error) {
	switch t := term.(type) {
	case krdf.IRI:
		return NewNamedNode(t.String()), nil
	case krdf.Blank:
		return NewBlankNode(strings.TrimPrefix(t.String(), "_:")), nil
	case krdf.Literal:
		if lang := t.Lang(); lang != "" {
			return NewLiteralWithLanguage(t.String(), lang), nil
		}
		return NewLiteralWithDatatype(t.String(), NewNamedNode(t.DataType.String())), nil
	default:
		return nil, fmt.Errorf("unknown term type: %T", term)
	}
}
