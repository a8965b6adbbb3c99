package rdf

import (
	"fmt"
	"strings"
)

// SerializeTriplesCanonical serializes triples to canonical N-Triples format.
// Input order is preserved.
func SerializeTriplesCanonical(triples []*Triple) string {
	if len(triples) == 0 {
		return ""
	}

	var builder strings.Builder
	for _, triple := range triples {
		builder.WriteString(triple.String())
		builder.WriteString("\n")
	}

	return builder.String()
}

// FormatTerm serializes a single RDF term in canonical N-Triples form
func FormatTerm(term Term) string {
	switch t := term.(type) {
	case *NamedNode:
		return fmt.Sprintf("<%s>", escapeIRICanonical(t.IRI))
	case *BlankNode:
		return fmt.Sprintf("_:%s", t.ID)
	case *Literal:
		return formatLiteral(t)
	case nil:
		return ""
	default:
		return term.String()
	}
}

func formatLiteral(lit *Literal) string {
	escaped := escapeStringCanonical(lit.Value)

	if lit.Language != "" {
		return fmt.Sprintf(`"%s"@%s`, escaped, strings.ToLower(lit.Language))
	}

	// xsd:string is implicit
	if dt := datatypeIRI(lit); dt != "" {
		return fmt.Sprintf(`"%s"^^<%s>`, escaped, escapeIRICanonical(dt))
	}

	return fmt.Sprintf(`"%s"`, escaped)
}

// escapeStringCanonical escapes a string value for N-Triples and Turtle output:
// named escapes for \t \b \n \r \f \" \\ and \uXXXX for the remaining
// control characters and noncharacters.
func escapeStringCanonical(s string) string {
	var builder strings.Builder
	builder.Grow(len(s))

	for _, r := range s {
		switch r {
		case '\t':
			builder.WriteString(`\t`)
		case '\b':
			builder.WriteString(`\b`)
		case '\n':
			builder.WriteString(`\n`)
		case '\r':
			builder.WriteString(`\r`)
		case '\f':
			builder.WriteString(`\f`)
		case '"':
			builder.WriteString(`\"`)
		case '\\':
			builder.WriteString(`\\`)
		default:
			if r < 0x20 || r == 0x7F || (r >= 0xFFFE && r <= 0xFFFF) {
				fmt.Fprintf(&builder, `\u%04X`, r)
			} else {
				builder.WriteRune(r)
			}
		}
	}

	return builder.String()
}

// escapeIRICanonical escapes the characters that may not appear inside <...>
func escapeIRICanonical(iri string) string {
	if !strings.ContainsAny(iri, "<>\"{}|^`\\ ") {
		return iri
	}

	var builder strings.Builder
	builder.Grow(len(iri))
	for _, r := range iri {
		switch r {
		case '<', '>', '"', '{', '}', '|', '^', '`', '\\', ' ':
			fmt.Fprintf(&builder, `\u%04X`, r)
		default:
			builder.WriteRune(r)
		}
	}
	return builder.String()
}
