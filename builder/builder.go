package builder

import (
	"os"
	"path/filepath"

	sysprops "github.com/sirgallo/sysprops"
)

// Build constructs and serializes a complete Property Info Area from a
// flat rule list: every rule is folded into one Trie via AddToTrie, then
// Serialize produces the on-disk bytes.
func Build(rules []Rule, defaultContext, defaultType string) ([]byte, error) {
	trie := NewTrie(defaultContext, defaultType)
	for _, r := range rules {
		if err := trie.AddToTrie(r.Name, r.Context, r.Type, r.Exact); err != nil {
			return nil, err
		}
	}
	return Serialize(trie), nil
}

// BuildFromFile parses path as a property-context rule file and builds
// its Property Info Area in one step.
func BuildFromFile(path, defaultContext, defaultType string, requirePrefixOrExact bool) ([]byte, []error, error) {
	rules, parseErrs, err := ParseFile(path, requirePrefixOrExact)
	if err != nil {
		return nil, nil, err
	}
	data, err := Build(rules, defaultContext, defaultType)
	if err != nil {
		return nil, nil, err
	}
	return data, parseErrs, nil
}

// WriteInfoFile writes a serialized Property Info Area to path, mode
// 0444, matching the read-only-after-creation lifecycle every other
// backing file follows. Any existing file at path is replaced.
func WriteInfoFile(path string, data []byte) error {
	os.Remove(path)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0444)
	if err != nil {
		return sysprops.IOf(err, "create info file %s", path)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return sysprops.IOf(err, "write info file %s", path)
	}
	return nil
}

// Bootstrap parses every rule file in contextFiles, builds their combined
// Property Info Area, writes it to dir/property_info, and opens a
// write-capable sysprops.System over dir — creating every per-context
// backing file the rules name. This is the one sequence a
// property-service process runs at boot before it starts accepting writes
// over the socket.
func Bootstrap(dir string, contextFiles []string, defaultContext, defaultType string) (*sysprops.System, error) {
	var allRules []Rule
	for _, f := range contextFiles {
		rules, parseErrs, err := ParseFile(f, false)
		if err != nil {
			return nil, err
		}
		for _, pe := range parseErrs {
			sysprops.Log().Warnw("skipping malformed property-context line", "file", f, "error", pe)
		}
		allRules = append(allRules, rules...)
	}

	data, err := Build(allRules, defaultContext, defaultType)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, sysprops.IOf(err, "create properties dir %s", dir)
	}
	if err := WriteInfoFile(filepath.Join(dir, sysprops.InfoAreaFileName), data); err != nil {
		return nil, err
	}

	return sysprops.OpenForService(dir)
}
