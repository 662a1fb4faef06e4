package reference

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed tables.yaml
var defaultTablesYAML []byte

// Tables holds the data-driven lookups used to bucket parcels.
type Tables struct {
	ValuationAreas *PrefixTable
	LandUse        *PrefixTable
}

type prefixSection struct {
	Fallback *string             `yaml:"fallback"`
	Areas    map[string][]string `yaml:"areas"`
	Groups   map[string][]string `yaml:"categories"`
}

func (s *prefixSection) mapping() map[string][]string {
	if len(s.Areas) > 0 {
		return s.Areas
	}
	return s.Groups
}

type tablesFile struct {
	ValuationAreas    *prefixSection `yaml:"valuation_areas"`
	LandUseCategories *prefixSection `yaml:"land_use_categories"`
}

// Default returns the embedded lookup tables.
func Default() (*Tables, error) {
	return Parse(defaultTablesYAML)
}

// Load returns the embedded tables, with any section present in the YAML
// file at path replacing the embedded one. An empty path means defaults only.
func Load(path string) (*Tables, error) {
	base, err := Default()
	if err != nil {
		return nil, fmt.Errorf("failed to parse embedded reference tables: %w", err)
	}
	if path == "" {
		return base, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read reference tables %s: %w", path, err)
	}

	override, err := parseFile(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse reference tables %s: %w", path, err)
	}
	if override.ValuationAreas != nil {
		base.ValuationAreas = override.ValuationAreas
	}
	if override.LandUse != nil {
		base.LandUse = override.LandUse
	}
	return base, nil
}

// Parse builds Tables from YAML. Both sections are required.
func Parse(data []byte) (*Tables, error) {
	t, err := parseFile(data)
	if err != nil {
		return nil, err
	}
	if t.ValuationAreas == nil {
		return nil, fmt.Errorf("valuation_areas section is required")
	}
	if t.LandUse == nil {
		return nil, fmt.Errorf("land_use_categories section is required")
	}
	return t, nil
}

func parseFile(data []byte) (*Tables, error) {
	var f tablesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}

	t := &Tables{}
	if f.ValuationAreas != nil {
		table, err := buildTable("valuation_areas", f.ValuationAreas, "OTHER")
		if err != nil {
			return nil, err
		}
		t.ValuationAreas = table
	}
	if f.LandUseCategories != nil {
		table, err := buildTable("land_use_categories", f.LandUseCategories, "")
		if err != nil {
			return nil, err
		}
		t.LandUse = table
	}
	return t, nil
}

func buildTable(section string, s *prefixSection, defaultFallback string) (*PrefixTable, error) {
	fallback := defaultFallback
	if s.Fallback != nil {
		fallback = *s.Fallback
	}
	table, err := NewPrefixTable(s.mapping(), fallback)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", section, err)
	}
	return table, nil
}

// ValuationArea returns the valuation area (market group) for a neighborhood
// code: "" for blank codes, the fallback bucket for unmatched ones.
func (t *Tables) ValuationArea(neighborhoodCode string) string {
	return t.ValuationAreas.Name(neighborhoodCode)
}

// LandUsePrefixes returns the land-use code prefixes that count as the same
// category as landUseCode. Codes outside every category match only themselves.
func (t *Tables) LandUsePrefixes(landUseCode string) []string {
	category, ok := t.LandUse.Lookup(landUseCode)
	if !ok {
		code := normalizeCode(landUseCode)
		if code == "" {
			return nil
		}
		return []string{code}
	}
	return t.LandUse.Prefixes(category)
}

// PropertyTypePrefixes returns the land-use prefixes of a named category,
// case-insensitively. ok is false for names outside the table.
func (t *Tables) PropertyTypePrefixes(name string) (prefixes []string, ok bool) {
	prefixes = t.LandUse.Prefixes(name)
	return prefixes, len(prefixes) > 0
}
