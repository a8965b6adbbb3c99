package rdf

import (
	"bufio"
	"fmt"
	"io"
)

// TurtleWriter streams triples as Turtle. Consecutive triples sharing a
// subject are written as one predicate list.
type TurtleWriter struct {
	w        *bufio.Writer
	ns       Namespaces
	subject  Term
	prefixes bool
	err      error
}

// NewTurtleWriter creates a writer that abbreviates IRIs with ns
func NewTurtleWriter(w io.Writer, ns Namespaces) *TurtleWriter {
	return &TurtleWriter{
		w:  bufio.NewWriter(w),
		ns: ns,
	}
}

// WritePrefixes writes the @prefix block. It is called implicitly by the
// first Write.
func (tw *TurtleWriter) WritePrefixes() error {
	if tw.prefixes {
		return tw.err
	}
	tw.prefixes = true
	for _, ns := range tw.ns.List() {
		tw.printf("@prefix %s: <%s> .\n", ns.Prefix, escapeIRICanonical(ns.IRI))
	}
	tw.printf("\n")
	return tw.err
}

// Write appends one triple
func (tw *TurtleWriter) Write(t *Triple) error {
	if err := tw.WritePrefixes(); err != nil {
		return err
	}

	if tw.subject != nil && tw.subject.Equals(t.Subject) {
		tw.printf(" ;\n    %s %s", tw.predicate(t.Predicate), tw.term(t.Object))
		return tw.err
	}

	if tw.subject != nil {
		tw.printf(" .\n\n")
	}
	tw.subject = t.Subject
	tw.printf("%s\n    %s %s", tw.term(t.Subject), tw.predicate(t.Predicate), tw.term(t.Object))
	return tw.err
}

// WriteAll appends triples in order
func (tw *TurtleWriter) WriteAll(triples []*Triple) error {
	for _, t := range triples {
		if err := tw.Write(t); err != nil {
			return err
		}
	}
	return nil
}

// Close terminates the last statement and flushes. It does not close the
// underlying writer.
func (tw *TurtleWriter) Close() error {
	if err := tw.WritePrefixes(); err != nil {
		return err
	}
	if tw.subject != nil {
		tw.printf(" .\n")
		tw.subject = nil
	}
	if tw.err != nil {
		return tw.err
	}
	if err := tw.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush turtle output: %w", err)
	}
	return nil
}

func (tw *TurtleWriter) predicate(t Term) string {
	if nn, ok := t.(*NamedNode); ok && nn.IRI == RDFType.IRI {
		return "a"
	}
	return tw.term(t)
}

func (tw *TurtleWriter) term(t Term) string {
	if nn, ok := t.(*NamedNode); ok {
		if prefix, local, ok := tw.ns.Shrink(nn.IRI); ok {
			return prefix + ":" + local
		}
	}
	return FormatTerm(t)
}

func (tw *TurtleWriter) printf(format string, args ...any) {
	if tw.err != nil {
		return
	}
	if _, err := fmt.Fprintf(tw.w, format, args...); err != nil {
		tw.err = fmt.Errorf("failed to write turtle output: %w", err)
	}
}
