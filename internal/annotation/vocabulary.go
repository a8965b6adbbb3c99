package annotation

import (
	"fmt"

	"github.com/aleksaelezovic/annobrick/pkg/rdf"
)

// Namespace prefixes used by the annotation graph
const (
	PrefixRDF        = "rdf"
	PrefixCompound   = "ecotoxcompound"
	PrefixSubstance  = "ecotoxsubstance"
	PrefixAnnotation = "ecotoxannotation"
	PrefixOA         = "oa"
	PrefixDC         = "dc"
)

// DefaultNamespaces returns the namespace table of the ECOTOX annotations graph
func DefaultNamespaces() rdf.Namespaces {
	return rdf.MustNamespaces(
		rdf.Namespace{Prefix: PrefixRDF, IRI: "http://www.w3.org/1999/02/22-rdf-syntax-ns#"},
		rdf.Namespace{Prefix: PrefixCompound, IRI: "http://rdf.ncbi.nlm.nih.gov/ecotox/compound/"},
		rdf.Namespace{Prefix: PrefixSubstance, IRI: "http://rdf.ncbi.nlm.nih.gov/ecotox/substance/"},
		rdf.Namespace{Prefix: PrefixAnnotation, IRI: "http://rdf.ncbi.nlm.nih.gov/ecotox/annotation/"},
		rdf.Namespace{Prefix: PrefixOA, IRI: "http://www.w3.org/ns/oa#"},
		rdf.Namespace{Prefix: PrefixDC, IRI: "http://purl.org/dc/elements/1.1/"},
	)
}

// Vocabulary holds the resolved terms of the annotation graph pattern
type Vocabulary struct {
	Type       *rdf.NamedNode
	Value      *rdf.NamedNode
	Annotation *rdf.NamedNode
	HasTarget  *rdf.NamedNode
	HasBody    *rdf.NamedNode
	Subject    *rdf.NamedNode
	Format     *rdf.NamedNode

	annotationBase string
	compoundBase   string
	substanceBase  string
}

// NewVocabulary resolves the vocabulary against ns. Every prefix of
// DefaultNamespaces must be bound.
func NewVocabulary(ns rdf.Namespaces) (*Vocabulary, error) {
	v := &Vocabulary{}

	terms := []struct {
		dst    **rdf.NamedNode
		prefix string
		local  string
	}{
		{&v.Type, PrefixRDF, "type"},
		{&v.Value, PrefixRDF, "value"},
		{&v.Annotation, PrefixOA, "Annotation"},
		{&v.HasTarget, PrefixOA, "hasTarget"},
		{&v.HasBody, PrefixOA, "hasBody"},
		{&v.Subject, PrefixDC, "subject"},
		{&v.Format, PrefixDC, "format"},
	}
	for _, term := range terms {
		node, err := ns.Resolve(term.prefix, term.local)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s:%s: %w", term.prefix, term.local, err)
		}
		*term.dst = node
	}

	bases := []struct {
		dst    *string
		prefix string
	}{
		{&v.annotationBase, PrefixAnnotation},
		{&v.compoundBase, PrefixCompound},
		{&v.substanceBase, PrefixSubstance},
	}
	for _, base := range bases {
		iri, ok := ns.Lookup(base.prefix)
		if !ok {
			return nil, fmt.Errorf("namespace prefix %q is not bound", base.prefix)
		}
		*base.dst = iri
	}

	return v, nil
}

// AnnotationIRI returns the node of annotation n
func (v *Vocabulary) AnnotationIRI(anid int64) *rdf.NamedNode {
	return rdf.NewNamedNode(fmt.Sprintf("%sANID%d", v.annotationBase, anid))
}

// BodyIRI returns the body node of annotation n
func (v *Vocabulary) BodyIRI(anid int64) *rdf.NamedNode {
	return rdf.NewNamedNode(fmt.Sprintf("%sANID%d/body", v.annotationBase, anid))
}

// CompoundIRI returns the node of compound n
func (v *Vocabulary) CompoundIRI(cid int64) *rdf.NamedNode {
	return rdf.NewNamedNode(fmt.Sprintf("%sCID%d", v.compoundBase, cid))
}

// SubstanceIRI returns the node of substance n. Substances share the CID
// local name pattern with compounds; the namespace tells them apart.
func (v *Vocabulary) SubstanceIRI(sid int64) *rdf.NamedNode {
	return rdf.NewNamedNode(fmt.Sprintf("%sCID%d", v.substanceBase, sid))
}
