package encoding

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/aleksaelezovic/annobrick/pkg/rdf"
	"github.com/zeebo/xxh3"
)

const (
	// Maximum size for inline strings (16 bytes of UTF-8)
	MaxInlineStringSize = 16

	// Encoded term size (type byte + 16 bytes for 128-bit hash or inline data)
	EncodedTermSize = 17

	// separator between the lexical form and the datatype IRI in id2str
	datatypeSeparator = "^^"
)

// EncodedTerm represents a term encoded as a type byte followed by up to 16 bytes of data
type EncodedTerm [EncodedTermSize]byte

// TermEncoder handles encoding of RDF terms into fixed-width keys
type TermEncoder struct{}

func NewTermEncoder() *TermEncoder {
	return &TermEncoder{}
}

// Hash128 computes a 128-bit xxhash3 hash of the input string
func (e *TermEncoder) Hash128(s string) [16]byte {
	hash := xxh3.HashString128(s)
	var result [16]byte
	binary.BigEndian.PutUint64(result[0:8], hash.Hi)
	binary.BigEndian.PutUint64(result[8:16], hash.Lo)
	return result
}

// EncodeTerm encodes an RDF term into a fixed-size byte array.
// Returns the encoded term and optionally a string to store in the id2str table.
func (e *TermEncoder) EncodeTerm(term rdf.Term) (EncodedTerm, *string, error) {
	switch t := term.(type) {
	case *rdf.NamedNode:
		return e.hashed(rdf.TermTypeNamedNode, t.IRI)
	case *rdf.BlankNode:
		return e.hashed(rdf.TermTypeBlankNode, t.ID)
	case *rdf.Literal:
		return e.encodeLiteral(t)
	default:
		var encoded EncodedTerm
		return encoded, nil, fmt.Errorf("unknown term type: %T", term)
	}
}

func (e *TermEncoder) hashed(termType rdf.TermType, s string) (EncodedTerm, *string, error) {
	var encoded EncodedTerm
	encoded[0] = byte(termType)
	hash := e.Hash128(s)
	copy(encoded[1:], hash[:])
	return encoded, &s, nil
}

func (e *TermEncoder) encodeLiteral(lit *rdf.Literal) (EncodedTerm, *string, error) {
	if lit.Language != "" {
		return e.hashed(rdf.TermTypeLangStringLiteral, lit.Value+"@"+strings.ToLower(lit.Language))
	}

	if lit.Datatype != nil && lit.Datatype.IRI != rdf.XSDString.IRI {
		if strings.Contains(lit.Datatype.IRI, datatypeSeparator) {
			var encoded EncodedTerm
			return encoded, nil, fmt.Errorf("invalid datatype IRI: %s", lit.Datatype.IRI)
		}
		return e.hashed(rdf.TermTypeTypedLiteral, lit.Value+datatypeSeparator+lit.Datatype.IRI)
	}

	// Short strings without NUL bytes are stored inline
	if len(lit.Value) <= MaxInlineStringSize && !strings.ContainsRune(lit.Value, 0) {
		var encoded EncodedTerm
		encoded[0] = byte(rdf.TermTypeStringLiteral)
		copy(encoded[1:], lit.Value)
		return encoded, nil, nil
	}

	return e.hashed(rdf.TermTypeStringLiteral, lit.Value)
}

// EncodeKey concatenates encoded terms into an index key.
// Big-endian layout keeps lexicographic order.
func (e *TermEncoder) EncodeKey(terms ...EncodedTerm) []byte {
	result := make([]byte, 0, len(terms)*EncodedTermSize)
	for _, term := range terms {
		result = append(result, term[:]...)
	}
	return result
}

// DecodeKey splits an index key back into encoded terms
func DecodeKey(key []byte, n int) ([]EncodedTerm, error) {
	if len(key) < n*EncodedTermSize {
		return nil, fmt.Errorf("invalid key length: %d", len(key))
	}
	terms := make([]EncodedTerm, n)
	for i := range terms {
		offset := i * EncodedTermSize
		copy(terms[i][:], key[offset:offset+EncodedTermSize])
	}
	return terms, nil
}

// GetTermType extracts the type from an encoded term
func GetTermType(encoded EncodedTerm) rdf.TermType {
	return rdf.TermType(encoded[0])
}
