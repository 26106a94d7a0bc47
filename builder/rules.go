// Package builder implements the offline trie builder and serializer:
// parsing property-context rule files and producing the byte-exact
// serialized Property Info Area that sysprops.InfoArea reads.
package builder

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	sysprops "github.com/sirgallo/sysprops"
)

// Rule is one parsed line of a property-context source file: `<name>
// <context> <match> <type...>` where match is "exact", "prefix", or
// absent.
type Rule struct {
	Name    string
	Context string
	Type    string
	Exact   bool
}

// noParameterTypes is the closed set of self-contained type names; "enum"
// additionally requires at least one more token.
var noParameterTypes = map[string]bool{
	"string": true, "int": true, "bool": true,
	"uint": true, "double": true, "size": true,
}

func isTypeValid(typeTokens []string) bool {
	if len(typeTokens) == 0 {
		return false
	}
	if typeTokens[0] == "enum" {
		return len(typeTokens) > 1
	}
	if len(typeTokens) > 1 {
		return false
	}
	return noParameterTypes[typeTokens[0]]
}

// ParseLine parses one non-blank, non-comment line. When
// requirePrefixOrExact is true, the match token must be present and equal
// to "exact" or "prefix"; when false, an absent or unrecognized match
// token is silently treated as the start of the type list. Rule files in
// the wild omit the match token, so the lenient mode is the default one.
func ParseLine(line string, requirePrefixOrExact bool) (Rule, error) {
	tokens := strings.Fields(line)
	if len(tokens) == 0 {
		return Rule{}, sysprops.Parsef("did not find a property entry in %q", line)
	}
	name := tokens[0]
	if len(tokens) < 2 {
		return Rule{}, sysprops.Parsef("did not find a context entry in %q", line)
	}
	context := tokens[1]
	rest := tokens[2:]

	var matchToken string
	hasMatchToken := len(rest) > 0
	if hasMatchToken {
		matchToken = rest[0]
		rest = rest[1:]
	}

	exact := false
	switch {
	case matchToken == "exact":
		exact = true
	case matchToken == "prefix":
		// exact stays false
	case requirePrefixOrExact:
		return Rule{}, sysprops.Parsef("match operation %q is not valid; must be 'prefix' or 'exact'", matchToken)
	default:
		// No match token supplied (or not required): if a token was
		// consumed above but isn't exact/prefix, it is really the first
		// type token, so put it back.
		if hasMatchToken {
			rest = append([]string{matchToken}, rest...)
		}
	}

	if len(rest) > 0 && !isTypeValid(rest) {
		return Rule{}, sysprops.Parsef("type %q is not valid", strings.Join(rest, " "))
	}

	return Rule{
		Name:    name,
		Context: context,
		Type:    strings.Join(rest, " "),
		Exact:   exact,
	}, nil
}

// ParseFile reads every rule out of a property-context source file,
// collecting parse errors per-line rather than aborting on the first bad
// line (matching parse_from_file's (entries, errors) return).
func ParseFile(path string, requirePrefixOrExact bool) ([]Rule, []error, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, sysprops.IOf(err, "open rule file %s", path)
	}
	defer file.Close()

	var (
		rules  []Rule
		errs   []error
		lineNo int
	)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rule, perr := ParseLine(line, requirePrefixOrExact)
		if perr != nil {
			errs = append(errs, fmt.Errorf("line %d: %w", lineNo, perr))
			continue
		}
		rules = append(rules, rule)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, sysprops.IOf(err, "read rule file %s", path)
	}
	return rules, errs, nil
}
