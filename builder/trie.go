package builder

import (
	"strings"

	sysprops "github.com/sirgallo/sysprops"
)

// propertyEntry is a name plus an optional context/type pair. Context and
// typ are empty strings when unset, which the serializer maps to
// sysprops.NoIndex ("inherit from ancestor").
type propertyEntry struct {
	name    string
	context string
	typ     string
}

// node mirrors TrieBuilderNode: a path segment plus its own property
// entry, its prefix/exact match tables, and its children keyed by the next
// path segment.
type node struct {
	entry    propertyEntry
	prefixes map[string]propertyEntry
	exact    map[string]propertyEntry
	children map[string]*node
}

func newNode(name string) *node {
	return &node{
		entry:    propertyEntry{name: name},
		prefixes: make(map[string]propertyEntry),
		exact:    make(map[string]propertyEntry),
		children: make(map[string]*node),
	}
}

// Trie is the in-memory structure AddToTrie populates, mirroring
// TrieBuilder. Contexts/Types accumulate every distinct string seen,
// including the default context/type assigned to the root.
type Trie struct {
	root     *node
	contexts map[string]struct{}
	types    map[string]struct{}
}

// NewTrie creates a builder with the root node set to defaultContext and
// defaultType, matching TrieBuilder::new.
func NewTrie(defaultContext, defaultType string) *Trie {
	root := newNode("root")
	root.entry.context = defaultContext
	root.entry.typ = defaultType

	t := &Trie{
		root:     root,
		contexts: map[string]struct{}{defaultContext: {}},
		types:    map[string]struct{}{},
	}
	if defaultType != "" {
		t.types[defaultType] = struct{}{}
	}
	return t
}

// AddToTrie walks name dot-segment-by-segment, creating interior nodes as
// needed, then attaches (context, typ) either as an exact entry, a prefix
// entry, or (for dot-terminated names) a property on the terminal child
// node.
func (t *Trie) AddToTrie(name, context, typ string, exact bool) error {
	t.contexts[context] = struct{}{}
	if typ != "" {
		t.types[typ] = struct{}{}
	}

	parts := strings.Split(name, ".")
	endsWithDot := false
	if len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
		endsWithDot = true
	}
	if len(parts) == 0 {
		return sysprops.Parsef("no name parts for %q", name)
	}
	lastName := parts[len(parts)-1]
	parts = parts[:len(parts)-1]

	cur := t.root
	for _, part := range parts {
		child, ok := cur.children[part]
		if !ok {
			child = newNode(part)
			cur.children[part] = child
		}
		cur = child
	}

	switch {
	case exact:
		if _, dup := cur.exact[lastName]; dup {
			return sysprops.Validationf("exact match already exists for %q", name)
		}
		cur.exact[lastName] = propertyEntry{name: lastName, context: context, typ: typ}
	case !endsWithDot:
		if _, dup := cur.prefixes[lastName]; dup {
			return sysprops.Validationf("prefix already exists for %q", name)
		}
		cur.prefixes[lastName] = propertyEntry{name: lastName, context: context, typ: typ}
	default:
		child, ok := cur.children[lastName]
		if !ok {
			child = newNode(lastName)
			cur.children[lastName] = child
		}
		if child.entry.context != "" || child.entry.typ != "" {
			return sysprops.Validationf("duplicate prefix match detected for %q", name)
		}
		child.entry.context = context
		child.entry.typ = typ
	}
	return nil
}
