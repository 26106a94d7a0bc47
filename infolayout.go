package sysprops

// Property Info Area byte layout, shared between the read-only resolver
// in this package and the offline builder/serializer package so both
// sides of the format agree on one source of truth. All objects are
// 4-byte aligned.

// InfoHeader: current_version, minimum_supported_version, size,
// contexts_offset, types_offset, root_offset — six u32s, 24 bytes.
const (
	InfoHdrCurrentVersionIdx = 0
	InfoHdrMinVersionIdx     = 4
	InfoHdrSizeIdx           = 8
	InfoHdrContextsOffIdx    = 12
	InfoHdrTypesOffIdx       = 16
	InfoHdrRootOffIdx        = 20
	InfoHeaderSize           = 24
)

// CurrentInfoVersion and MinSupportedInfoVersion are both fixed at 1.
const (
	CurrentInfoVersion      uint32 = 1
	MinSupportedInfoVersion uint32 = 1
)

// NoIndex (all ones) means "inherit from ancestor" / "absent".
const NoIndex uint32 = 0xFFFFFFFF

// PropertyEntry: name_offset, namelen, context_index, type_index — 16 bytes.
const (
	EntryNameOffsetIdx = 0
	EntryNameLenIdx    = 4
	EntryContextIdx    = 8
	EntryTypeIdx       = 12
	EntrySize          = 16
)

// TrieNodeData: property_entry, num_child_nodes, child_nodes,
// num_prefixes, prefix_entries, num_exact_matches, exact_match_entries —
// seven u32s, 28 bytes.
const (
	TrieNodePropertyEntryIdx   = 0
	TrieNodeNumChildrenIdx     = 4
	TrieNodeChildrenIdx        = 8
	TrieNodeNumPrefixesIdx     = 12
	TrieNodePrefixEntriesIdx   = 16
	TrieNodeNumExactMatchesIdx = 20
	TrieNodeExactEntriesIdx    = 24
	TrieNodeDataSize           = 28
)
