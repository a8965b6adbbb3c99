package rdf

import (
	"fmt"
	"sort"
	"strings"
)

// Namespace binds a prefix to an IRI
type Namespace struct {
	Prefix string
	IRI    string
}

// Namespaces is an immutable prefix table. The zero value is an empty table.
type Namespaces struct {
	byPrefix map[string]string
	sorted   []Namespace
}

// NewNamespaces builds a prefix table, rejecting invalid or duplicate prefixes.
func NewNamespaces(entries ...Namespace) (Namespaces, error) {
	byPrefix := make(map[string]string, len(entries))
	for _, ns := range entries {
		if !isPrefixName(ns.Prefix) {
			return Namespaces{}, fmt.Errorf("invalid namespace prefix %q", ns.Prefix)
		}
		if ns.IRI == "" {
			return Namespaces{}, fmt.Errorf("empty IRI for namespace prefix %q", ns.Prefix)
		}
		if existing, ok := byPrefix[ns.Prefix]; ok && existing != ns.IRI {
			return Namespaces{}, fmt.Errorf("namespace prefix %q bound twice", ns.Prefix)
		}
		byPrefix[ns.Prefix] = ns.IRI
	}

	sorted := make([]Namespace, 0, len(byPrefix))
	for prefix, iri := range byPrefix {
		sorted = append(sorted, Namespace{Prefix: prefix, IRI: iri})
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Prefix < sorted[j].Prefix })

	return Namespaces{byPrefix: byPrefix, sorted: sorted}, nil
}

// MustNamespaces is like NewNamespaces but panics on error. Use it for
// static tables only.
func MustNamespaces(entries ...Namespace) Namespaces {
	ns, err := NewNamespaces(entries...)
	if err != nil {
		panic(err)
	}
	return ns
}

// Len returns the number of bound prefixes
func (n Namespaces) Len() int {
	return len(n.sorted)
}

// List returns the bindings sorted by prefix
func (n Namespaces) List() []Namespace {
	out := make([]Namespace, len(n.sorted))
	copy(out, n.sorted)
	return out
}

// Lookup returns the IRI bound to prefix
func (n Namespaces) Lookup(prefix string) (string, bool) {
	iri, ok := n.byPrefix[prefix]
	return iri, ok
}

// Resolve expands prefix:local into a named node
func (n Namespaces) Resolve(prefix, local string) (*NamedNode, error) {
	iri, ok := n.byPrefix[prefix]
	if !ok {
		return nil, fmt.Errorf("unknown namespace prefix %q", prefix)
	}
	return NewNamedNode(iri + local), nil
}

// Shrink splits an IRI into the longest matching namespace and a local
// name that can be written as a Turtle prefixed name.
func (n Namespaces) Shrink(iri string) (prefix, local string, ok bool) {
	best := -1
	for i, ns := range n.sorted {
		if !strings.HasPrefix(iri, ns.IRI) {
			continue
		}
		if best == -1 || len(ns.IRI) > len(n.sorted[best].IRI) {
			best = i
		}
	}
	if best == -1 {
		return "", "", false
	}
	local = iri[len(n.sorted[best].IRI):]
	if !isSafeLocalName(local) {
		return "", "", false
	}
	return n.sorted[best].Prefix, local, true
}

func isPrefixName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r >= '0' && r <= '9' || r == '_' || r == '-'):
		default:
			return false
		}
	}
	return true
}

// isSafeLocalName accepts a conservative subset of PN_LOCAL that never
// needs escaping.
func isSafeLocalName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		case r == '-' && i > 0:
		default:
			return false
		}
	}
	return true
}
