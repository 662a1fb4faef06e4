package reference

import (
	"fmt"
	"sort"
	"strings"
)

type prefixEntry struct {
	prefix string
	name   string
}

// PrefixTable maps codes to names by longest matching prefix.
// Codes and prefixes are compared trimmed and upper-cased.
type PrefixTable struct {
	entries  []prefixEntry
	byName   map[string][]string
	fallback string
}

// NewPrefixTable builds a table from name → prefixes. A prefix claimed by
// two names is rejected. fallback is returned for non-blank codes that match
// nothing; it may be empty.
func NewPrefixTable(mapping map[string][]string, fallback string) (*PrefixTable, error) {
	t := &PrefixTable{
		byName:   make(map[string][]string, len(mapping)),
		fallback: strings.ToUpper(strings.TrimSpace(fallback)),
	}
	owner := make(map[string]string)

	for name, prefixes := range mapping {
		name = strings.ToUpper(strings.TrimSpace(name))
		if name == "" {
			return nil, fmt.Errorf("prefix table has an entry with a blank name")
		}
		for _, p := range prefixes {
			p = normalizeCode(p)
			if p == "" {
				return nil, fmt.Errorf("%s: blank prefix", name)
			}
			if prev, ok := owner[p]; ok && prev != name {
				return nil, fmt.Errorf("prefix %q claimed by both %s and %s", p, prev, name)
			}
			if _, ok := owner[p]; ok {
				continue
			}
			owner[p] = name
			t.entries = append(t.entries, prefixEntry{prefix: p, name: name})
			t.byName[name] = append(t.byName[name], p)
		}
	}

	sort.Slice(t.entries, func(i, j int) bool {
		if len(t.entries[i].prefix) != len(t.entries[j].prefix) {
			return len(t.entries[i].prefix) > len(t.entries[j].prefix)
		}
		return t.entries[i].prefix < t.entries[j].prefix
	})
	for name := range t.byName {
		sort.Strings(t.byName[name])
	}
	return t, nil
}

// Lookup returns the name for code. Blank codes return "" and false;
// unmatched codes return the fallback and false.
func (t *PrefixTable) Lookup(code string) (string, bool) {
	code = normalizeCode(code)
	if code == "" {
		return "", false
	}
	for _, e := range t.entries {
		if strings.HasPrefix(code, e.prefix) {
			return e.name, true
		}
	}
	return t.fallback, false
}

// Name is Lookup without the match flag.
func (t *PrefixTable) Name(code string) string {
	name, _ := t.Lookup(code)
	return name
}

// Prefixes returns the prefixes mapped to name, sorted.
func (t *PrefixTable) Prefixes(name string) []string {
	out := t.byName[strings.ToUpper(strings.TrimSpace(name))]
	return append([]string(nil), out...)
}

// Names returns every name in the table, sorted.
func (t *PrefixTable) Names() []string {
	names := make([]string, 0, len(t.byName))
	for name := range t.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Fallback returns the name used for unmatched codes.
func (t *PrefixTable) Fallback() string {
	return t.fallback
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
