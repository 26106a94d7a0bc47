package sysprops

import (
	"encoding/binary"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

// InfoArea is a read-only view over the serialized Property Info Area.
// The file is immutable after creation, so field access uses plain
// little-endian decoding rather than atomics.
type InfoArea struct {
	file *os.File
	data MMap
}

// OpenInfoArea opens and validates the property_info file at path
// (NOFOLLOW, size ≥ header, no group/other write).
func OpenInfoArea(path string) (*InfoArea, error) {
	file, err := os.OpenFile(path, os.O_RDONLY|unix.O_NOFOLLOW, 0)
	if err != nil {
		return nil, IOf(err, "open info area %s", path)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, IOf(err, "stat info area %s", path)
	}
	if info.Size() < InfoHeaderSize {
		file.Close()
		return nil, Validationf("info area %s truncated below header size", path)
	}
	if err := checkBackingFilePermissions(path, info); err != nil {
		file.Close()
		return nil, err
	}

	data, err := Map(file, RDONLY, int(info.Size()))
	if err != nil {
		file.Close()
		return nil, err
	}

	ia := &InfoArea{file: file, data: data}
	if err := ia.validate(); err != nil {
		data.Unmap()
		file.Close()
		return nil, err
	}
	return ia, nil
}

func (ia *InfoArea) validate() error {
	if ia.minSupportedVersion() > CurrentInfoVersion {
		return Validationf("info area requires version ≥ %d, reader has %d", ia.minSupportedVersion(), CurrentInfoVersion)
	}
	return nil
}

// Close unmaps and closes the backing file.
func (ia *InfoArea) Close() error {
	if err := ia.data.Unmap(); err != nil {
		return err
	}
	return ia.file.Close()
}

func (ia *InfoArea) u32At(off uint32) uint32 {
	return binary.LittleEndian.Uint32(ia.data[off : off+4])
}

func (ia *InfoArea) cstrAt(off uint32) string {
	end := int(off)
	for end < len(ia.data) && ia.data[end] != 0 {
		end++
	}
	return string(ia.data[off:end])
}

func (ia *InfoArea) currentVersion() uint32      { return ia.u32At(InfoHdrCurrentVersionIdx) }
func (ia *InfoArea) minSupportedVersion() uint32 { return ia.u32At(InfoHdrMinVersionIdx) }
func (ia *InfoArea) contextsOffset() uint32      { return ia.u32At(InfoHdrContextsOffIdx) }
func (ia *InfoArea) typesOffset() uint32         { return ia.u32At(InfoHdrTypesOffIdx) }
func (ia *InfoArea) rootOffset() uint32          { return ia.u32At(InfoHdrRootOffIdx) }

func (ia *InfoArea) numContexts() uint32 { return ia.u32At(ia.contextsOffset()) }
func (ia *InfoArea) numTypes() uint32    { return ia.u32At(ia.typesOffset()) }

// ContextString resolves a context index through the context string table.
func (ia *InfoArea) ContextString(index uint32) (string, error) {
	if index == NoIndex || index >= ia.numContexts() {
		return "", NotFoundf("context index %d out of range", index)
	}
	arrayStart := ia.contextsOffset() + 4
	off := ia.u32At(arrayStart + index*4)
	return ia.cstrAt(off), nil
}

// TypeString resolves a type index through the type string table.
func (ia *InfoArea) TypeString(index uint32) (string, error) {
	if index == NoIndex || index >= ia.numTypes() {
		return "", NotFoundf("type index %d out of range", index)
	}
	arrayStart := ia.typesOffset() + 4
	off := ia.u32At(arrayStart + index*4)
	return ia.cstrAt(off), nil
}

// entryAt reads a PropertyEntry at a given absolute offset.
type infoEntry struct {
	nameOffset uint32
	nameLen    uint32
	context    uint32
	typ        uint32
}

func (ia *InfoArea) entryAt(off uint32) infoEntry {
	return infoEntry{
		nameOffset: ia.u32At(off + EntryNameOffsetIdx),
		nameLen:    ia.u32At(off + EntryNameLenIdx),
		context:    ia.u32At(off + EntryContextIdx),
		typ:        ia.u32At(off + EntryTypeIdx),
	}
}

func (ia *InfoArea) entryName(e infoEntry) string {
	return ia.cstrAt(e.nameOffset)
}

// trieNode is a lightweight cursor over a TrieNodeData at a given offset.
type trieNode struct {
	offset uint32
}

func (ia *InfoArea) node(offset uint32) trieNode { return trieNode{offset: offset} }

func (ia *InfoArea) nodePropertyEntry(n trieNode) infoEntry {
	entryOff := ia.u32At(n.offset + TrieNodePropertyEntryIdx)
	return ia.entryAt(entryOff)
}

func (ia *InfoArea) nodeNumChildren(n trieNode) uint32 {
	return ia.u32At(n.offset + TrieNodeNumChildrenIdx)
}

func (ia *InfoArea) nodeChild(n trieNode, i uint32) trieNode {
	arrayOff := ia.u32At(n.offset + TrieNodeChildrenIdx)
	childOff := ia.u32At(arrayOff + i*4)
	return trieNode{offset: childOff}
}

func (ia *InfoArea) nodeNumPrefixes(n trieNode) uint32 {
	return ia.u32At(n.offset + TrieNodeNumPrefixesIdx)
}

func (ia *InfoArea) nodePrefix(n trieNode, i uint32) infoEntry {
	arrayOff := ia.u32At(n.offset + TrieNodePrefixEntriesIdx)
	entryOff := ia.u32At(arrayOff + i*4)
	return ia.entryAt(entryOff)
}

func (ia *InfoArea) nodeNumExactMatches(n trieNode) uint32 {
	return ia.u32At(n.offset + TrieNodeNumExactMatchesIdx)
}

func (ia *InfoArea) nodeExactMatch(n trieNode, i uint32) infoEntry {
	arrayOff := ia.u32At(n.offset + TrieNodeExactEntriesIdx)
	entryOff := ia.u32At(arrayOff + i*4)
	return ia.entryAt(entryOff)
}

// findChildForString binary-searches n's children array (sorted
// alphabetically by the builder/serializer) for segment.
func (ia *InfoArea) findChildForString(n trieNode, segment string) (trieNode, bool) {
	count := ia.nodeNumChildren(n)
	lo, hi := 0, int(count)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		child := ia.nodeChild(n, uint32(mid))
		name := ia.entryName(ia.nodePropertyEntry(child))
		switch {
		case name == segment:
			return child, true
		case name < segment:
			lo = mid + 1
		default:
			hi = mid - 1
		}
	}
	return trieNode{}, false
}

// checkPrefixMatch linearly scans n's prefix entries (stored
// length-descending by the builder) for the first one that is a prefix of
// remaining, overwriting ctx/typ on the first hit (not !0 fields only).
func (ia *InfoArea) checkPrefixMatch(remaining string, n trieNode, ctx, typ *uint32) {
	count := ia.nodeNumPrefixes(n)
	for i := uint32(0); i < count; i++ {
		p := ia.nodePrefix(n, i)
		if p.nameLen > uint32(len(remaining)) {
			continue
		}
		name := ia.entryName(p)
		if strings.HasPrefix(remaining, name) {
			if p.context != NoIndex {
				*ctx = p.context
			}
			if p.typ != NoIndex {
				*typ = p.typ
			}
			return
		}
	}
}

// FindIndexes resolves name to (context_index, type_index): walk the trie
// segment by segment, inheriting each node's own indices, letting prefix
// entries override them, and giving exact matches on the terminal segment
// the last word. (NoIndex, NoIndex) means nothing matched.
func (ia *InfoArea) FindIndexes(name string) (contextIndex, typeIndex uint32) {
	contextIndex, typeIndex = NoIndex, NoIndex
	remaining := name
	node := ia.node(ia.rootOffset())

	for {
		entry := ia.nodePropertyEntry(node)
		if entry.context != NoIndex {
			contextIndex = entry.context
		}
		if entry.typ != NoIndex {
			typeIndex = entry.typ
		}

		ia.checkPrefixMatch(remaining, node, &contextIndex, &typeIndex)

		idx := strings.IndexByte(remaining, '.')
		if idx < 0 {
			break
		}
		segment := remaining[:idx]
		child, ok := ia.findChildForString(node, segment)
		if !ok {
			break
		}
		remaining = remaining[idx+1:]
		node = child
	}

	// Exact matches are stored alphabetically, so binary-search them.
	lo, hi := 0, int(ia.nodeNumExactMatches(node))-1
	for lo <= hi {
		mid := (lo + hi) / 2
		e := ia.nodeExactMatch(node, uint32(mid))
		name := ia.entryName(e)
		switch {
		case name == remaining:
			if e.context != NoIndex {
				contextIndex = e.context
			}
			if e.typ != NoIndex {
				typeIndex = e.typ
			}
			return contextIndex, typeIndex
		case name < remaining:
			lo = mid + 1
		default:
			hi = mid - 1
		}
	}

	ia.checkPrefixMatch(remaining, node, &contextIndex, &typeIndex)
	return contextIndex, typeIndex
}

// GetPropertyInfo resolves name all the way to its context and type
// strings, returning NotFound for either side that resolves to NoIndex.
func (ia *InfoArea) GetPropertyInfo(name string) (context, typ string, err error) {
	ctxIdx, typIdx := ia.FindIndexes(name)
	if ctxIdx != NoIndex {
		context, err = ia.ContextString(ctxIdx)
		if err != nil {
			return "", "", err
		}
	}
	if typIdx != NoIndex {
		typ, err = ia.TypeString(typIdx)
		if err != nil {
			return "", "", err
		}
	}
	return context, typ, nil
}
