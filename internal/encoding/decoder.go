package encoding

import (
	"fmt"
	"strings"

	"github.com/aleksaelezovic/annobrick/pkg/rdf"
)

// TermDecoder handles decoding of RDF terms
type TermDecoder struct{}

// NewTermDecoder creates a new term decoder
func NewTermDecoder() *TermDecoder {
	return &TermDecoder{}
}

// DecodeTerm decodes an encoded term back to an rdf.Term.
// For hashed terms stringValue must hold the id2str entry; inline string
// literals decode without it.
func (d *TermDecoder) DecodeTerm(encoded EncodedTerm, stringValue *string) (rdf.Term, error) {
	termType := GetTermType(encoded)

	switch termType {
	case rdf.TermTypeNamedNode:
		if stringValue == nil {
			return nil, fmt.Errorf("string value required for named node")
		}
		return rdf.NewNamedNode(*stringValue), nil

	case rdf.TermTypeBlankNode:
		if stringValue == nil {
			return nil, fmt.Errorf("string value required for blank node")
		}
		return rdf.NewBlankNode(*stringValue), nil

	case rdf.TermTypeStringLiteral:
		if stringValue != nil {
			return rdf.NewLiteral(*stringValue), nil
		}
		// Inline string, zero padded
		endIdx := 1
		for endIdx < EncodedTermSize && encoded[endIdx] != 0 {
			endIdx++
		}
		return rdf.NewLiteral(string(encoded[1:endIdx])), nil

	case rdf.TermTypeLangStringLiteral:
		if stringValue == nil {
			return nil, fmt.Errorf("string value required for language-tagged literal")
		}
		idx := strings.LastIndexByte(*stringValue, '@')
		if idx < 0 {
			return rdf.NewLiteral(*stringValue), nil
		}
		return rdf.NewLiteralWithLanguage((*stringValue)[:idx], (*stringValue)[idx+1:]), nil

	case rdf.TermTypeTypedLiteral:
		if stringValue == nil {
			return nil, fmt.Errorf("string value required for typed literal")
		}
		idx := strings.LastIndex(*stringValue, datatypeSeparator)
		if idx < 0 {
			return nil, fmt.Errorf("malformed typed literal entry: %q", *stringValue)
		}
		value := (*stringValue)[:idx]
		datatype := (*stringValue)[idx+len(datatypeSeparator):]
		return rdf.NewLiteralWithDatatype(value, rdf.NewNamedNode(datatype)), nil

	default:
		return nil, fmt.Errorf("unknown term type: %d", termType)
	}
}
