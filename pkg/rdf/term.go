package rdf

import (
	"fmt"
)

// TermType represents the type of an RDF term
type TermType byte

const (
	// Core RDF types
	TermTypeNamedNode TermType = iota + 1
	TermTypeBlankNode
	TermTypeLiteral

	// Literal subtypes, used by the term encoder
	TermTypeStringLiteral
	TermTypeLangStringLiteral
	TermTypeTypedLiteral
)

// Term represents an RDF term (IRI, blank node, or literal)
type Term interface {
	Type() TermType
	String() string
	Equals(other Term) bool
}

// NamedNode represents an IRI
type NamedNode struct {
	IRI string
}

func NewNamedNode(iri string) *NamedNode {
	return &NamedNode{IRI: iri}
}

func (n *NamedNode) Type() TermType {
	return TermTypeNamedNode
}

func (n *NamedNode) String() string {
	return fmt.Sprintf("<%s>", n.IRI)
}

func (n *NamedNode) Equals(other Term) bool {
	if on, ok := other.(*NamedNode); ok {
		return n.IRI == on.IRI
	}
	return false
}

// BlankNode represents a blank node. The pipeline never emits blank nodes,
// but decoded fragments produced by other tools may contain them.
type BlankNode struct {
	ID string
}

func NewBlankNode(id string) *BlankNode {
	return &BlankNode{ID: id}
}

func (b *BlankNode) Type() TermType {
	return TermTypeBlankNode
}

func (b *BlankNode) String() string {
	return fmt.Sprintf("_:%s", b.ID)
}

func (b *BlankNode) Equals(other Term) bool {
	if ob, ok := other.(*BlankNode); ok {
		return b.ID == ob.ID
	}
	return false
}

// Literal represents an RDF literal
type Literal struct {
	Value    string
	Language string     // for language-tagged strings
	Datatype *NamedNode // for typed literals; nil and xsd:string are the same literal
}

func NewLiteral(value string) *Literal {
	return &Literal{Value: value}
}

func NewLiteralWithLanguage(value, language string) *Literal {
	return &Literal{Value: value, Language: language}
}

func NewLiteralWithDatatype(value string, datatype *NamedNode) *Literal {
	if datatype != nil && datatype.IRI == XSDString.IRI {
		return &Literal{Value: value}
	}
	return &Literal{Value: value, Datatype: datatype}
}

func (l *Literal) Type() TermType {
	return TermTypeLiteral
}

// String returns the literal in N-Triples form, escaped.
func (l *Literal) String() string {
	return formatLiteral(l)
}

func (l *Literal) Equals(other Term) bool {
	if ol, ok := other.(*Literal); ok {
		if l.Value != ol.Value {
			return false
		}
		if l.Language != ol.Language {
			return false
		}
		return datatypeIRI(l) == datatypeIRI(ol)
	}
	return false
}

// datatypeIRI returns the effective datatype IRI of a literal
func datatypeIRI(l *Literal) string {
	if l.Datatype == nil || l.Datatype.IRI == XSDString.IRI {
		return ""
	}
	return l.Datatype.IRI
}

// Triple represents an RDF triple (subject, predicate, object)
type Triple struct {
	Subject   Term
	Predicate Term
	Object    Term
}

func NewTriple(subject, predicate, object Term) *Triple {
	return &Triple{
		Subject:   subject,
		Predicate: predicate,
		Object:    object,
	}
}

// String returns the triple as one N-Triples statement.
func (t *Triple) String() string {
	return fmt.Sprintf("%s %s %s .", FormatTerm(t.Subject), FormatTerm(t.Predicate), FormatTerm(t.Object))
}

// Key identifies a triple by its three components. Two triples with
// the same key are the same edge.
func (t *Triple) Key() string {
	return FormatTerm(t.Subject) + " " + FormatTerm(t.Predicate) + " " + FormatTerm(t.Object)
}

func (t *Triple) Equals(other *Triple) bool {
	if other == nil {
		return false
	}
	return t.Subject.Equals(other.Subject) &&
		t.Predicate.Equals(other.Predicate) &&
		t.Object.Equals(other.Object)
}

// Well-known vocabulary terms
var (
	XSDString = NewNamedNode("http://www.w3.org/2001/XMLSchema#string")
	RDFType   = NewNamedNode("http://www.w3.org/1999/02/22-rdf-syntax-ns#type")
	RDFValue  = NewNamedNode("http://www.w3.org/1999/02/22-rdf-syntax-ns#value")
)
