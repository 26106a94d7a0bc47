package builder

import (
	"sort"

	sysprops "github.com/sirgallo/sysprops"
)

// serializer walks a Trie and writes the byte-exact Property Info Area
// layout that sysprops.InfoArea's find logic expects: header first, then
// the contexts table, then the types table, then the trie itself, with
// children sorted alphabetically, exact matches sorted alphabetically,
// and prefixes sorted by descending name length.
type serializer struct {
	arena        *arena
	contextIndex map[string]uint32
	typeIndex    map[string]uint32
}

// Serialize builds the complete property_info file contents for trie,
// ready to be written to disk and opened by sysprops.OpenInfoArea.
func Serialize(trie *Trie) []byte {
	s := &serializer{arena: newArena()}

	headerOff := s.arena.allocate(sysprops.InfoHeaderSize)
	s.arena.putUint32(headerOff+sysprops.InfoHdrCurrentVersionIdx, sysprops.CurrentInfoVersion)
	s.arena.putUint32(headerOff+sysprops.InfoHdrMinVersionIdx, sysprops.MinSupportedInfoVersion)

	s.arena.putUint32(headerOff+sysprops.InfoHdrContextsOffIdx, s.arena.size())
	s.contextIndex = s.serializeStrings(sortedKeys(trie.contexts))

	s.arena.putUint32(headerOff+sysprops.InfoHdrTypesOffIdx, s.arena.size())
	s.typeIndex = s.serializeStrings(sortedKeys(trie.types))

	s.arena.putUint32(headerOff+sysprops.InfoHdrSizeIdx, s.arena.size())

	rootOff := s.writeTrieNode(trie.root)
	s.arena.putUint32(headerOff+sysprops.InfoHdrRootOffIdx, rootOff)
	s.arena.putUint32(headerOff+sysprops.InfoHdrSizeIdx, s.arena.size())

	return s.arena.takeData()
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// serializeStrings writes a count-prefixed string table (count, offset
// array, NUL-terminated strings) and returns each string's resolved index
// for writePropertyEntry to consult.
func (s *serializer) serializeStrings(strs []string) map[string]uint32 {
	countOff := s.arena.allocate(4)
	s.arena.putUint32(countOff, uint32(len(strs)))
	arrayOff := s.arena.allocateUint32Array(len(strs))

	index := make(map[string]uint32, len(strs))
	for i, str := range strs {
		off := s.arena.writeString(str)
		s.arena.setUint32ArrayElem(arrayOff, i, off)
		index[str] = uint32(i)
	}
	return index
}

// writePropertyEntry serializes one PropertyEntry (name + resolved
// context/type index), returning its offset.
func (s *serializer) writePropertyEntry(e propertyEntry) uint32 {
	contextIdx := sysprops.NoIndex
	if e.context != "" {
		contextIdx = s.contextIndex[e.context]
	}
	typeIdx := sysprops.NoIndex
	if e.typ != "" {
		typeIdx = s.typeIndex[e.typ]
	}

	entryOff := s.arena.allocate(sysprops.EntrySize)
	nameOff := s.arena.writeString(e.name)

	s.arena.putUint32(entryOff+sysprops.EntryNameOffsetIdx, nameOff)
	s.arena.putUint32(entryOff+sysprops.EntryNameLenIdx, uint32(len(e.name)))
	s.arena.putUint32(entryOff+sysprops.EntryContextIdx, contextIdx)
	s.arena.putUint32(entryOff+sysprops.EntryTypeIdx, typeIdx)
	return entryOff
}

// writeTrieNode recursively serializes builderNode, writing its property
// entry, its prefix entries (length-descending), its exact entries
// (alphabetical), and its children (alphabetical) — exactly the order
// trie_serializer.rs::write_trie_node uses, which sysprops.InfoArea's
// reader (binary search over children/exact, linear scan over prefixes)
// depends on.
func (s *serializer) writeTrieNode(n *node) uint32 {
	nodeOff := s.arena.allocate(sysprops.TrieNodeDataSize)

	propEntryOff := s.writePropertyEntry(n.entry)
	s.arena.putUint32(nodeOff+sysprops.TrieNodePropertyEntryIdx, propEntryOff)

	prefixNames := sortedKeys(toSet(n.prefixes))
	sort.SliceStable(prefixNames, func(i, j int) bool {
		return len(prefixNames[i]) > len(prefixNames[j])
	})
	s.arena.putUint32(nodeOff+sysprops.TrieNodeNumPrefixesIdx, uint32(len(prefixNames)))
	prefixArrayOff := s.arena.allocateUint32Array(len(prefixNames))
	s.arena.putUint32(nodeOff+sysprops.TrieNodePrefixEntriesIdx, prefixArrayOff)
	for i, name := range prefixNames {
		off := s.writePropertyEntry(n.prefixes[name])
		s.arena.setUint32ArrayElem(prefixArrayOff, i, off)
	}

	exactNames := sortedKeys(toSet(n.exact))
	s.arena.putUint32(nodeOff+sysprops.TrieNodeNumExactMatchesIdx, uint32(len(exactNames)))
	exactArrayOff := s.arena.allocateUint32Array(len(exactNames))
	s.arena.putUint32(nodeOff+sysprops.TrieNodeExactEntriesIdx, exactArrayOff)
	for i, name := range exactNames {
		off := s.writePropertyEntry(n.exact[name])
		s.arena.setUint32ArrayElem(exactArrayOff, i, off)
	}

	childNames := sortedKeys(toSet(n.children))
	s.arena.putUint32(nodeOff+sysprops.TrieNodeNumChildrenIdx, uint32(len(childNames)))
	childArrayOff := s.arena.allocateUint32Array(len(childNames))
	s.arena.putUint32(nodeOff+sysprops.TrieNodeChildrenIdx, childArrayOff)
	for i, name := range childNames {
		off := s.writeTrieNode(n.children[name])
		s.arena.setUint32ArrayElem(childArrayOff, i, off)
	}

	return nodeOff
}

func toSet[V any](m map[string]V) map[string]struct{} {
	set := make(map[string]struct{}, len(m))
	for k := range m {
		set[k] = struct{}{}
	}
	return set
}
