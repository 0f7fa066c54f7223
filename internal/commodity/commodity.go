// Package commodity resolves user-typed commodity names against the trade catalogue.
package commodity

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrUnknown = errors.New("unknown commodity")

type AmbiguousError struct {
	Term    string
	Matches []string
}

func (e AmbiguousError) Error() string {
	return fmt.Sprintf("commodity %q is ambiguous: %s", e.Term, strings.Join(e.Matches, ", "))
}

// Catalogue is an immutable set of canonical commodity names.
type Catalogue struct {
	names []string
	index map[string]string
}

func New(names []string) Catalogue {
	c := Catalogue{index: make(map[string]string, len(names))}
	for _, n := range names {
		n = strings.TrimSpace(n)
		key := strings.ToLower(n)
		if n == "" {
			continue
		}
		if _, dup := c.index[key]; dup {
			continue
		}
		c.index[key] = n
		c.names = append(c.names, n)
	}
	sort.Strings(c.names)
	return c
}

// Default is the catalogue of commodities carriers commonly haul.
func Default() Catalogue { return New(defaultNames) }

func (c Catalogue) Names() []string { return append([]string(nil), c.names...) }

// Lookup returns the canonical name for term. An exact match wins, then a unique
// prefix match, then a unique substring match. Case and surrounding space are ignored.
func (c Catalogue) Lookup(term string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(term))
	if key == "" {
		return "", fmt.Errorf("%w: empty name", ErrUnknown)
	}
	if name, ok := c.index[key]; ok {
		return name, nil
	}
	for _, match := range []func(string, string) bool{strings.HasPrefix, strings.Contains} {
		var found []string
		for _, n := range c.names {
			if match(strings.ToLower(n), key) {
				found = append(found, n)
			}
		}
		switch len(found) {
		case 0:
			continue
		case 1:
			return found[0], nil
		default:
			return "", AmbiguousError{Term: term, Matches: found}
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknown, term)
}

// CrossesBoundary reports whether changing from one commodity to another moves
// into or out of the restricted commodity.
func CrossesBoundary(from, to, restricted string) bool {
	if restricted == "" {
		return false
	}
	a := strings.EqualFold(from, restricted)
	b := strings.EqualFold(to, restricted)
	return a != b
}

var defaultNames = []string{
	"Agronomic Treatment", "Aluminium", "Bauxite", "Bertrandite", "Beryllium", "Bioreducing Lichen",
	"Building Fabricators", "CMM Composite", "Ceramic Composites", "Cobalt", "Coltan", "Copper",
	"Emergency Power Cells", "Evacuation Shelter", "Fish", "Food Cartridges", "Fruit and Vegetables",
	"Gallite", "Gallium", "Geological Equipment", "Gold", "Grain", "H.E. Suits", "Hydrogen Fuel",
	"Indite", "Indium", "Insulating Membrane", "Land Enrichment Systems", "Lepidolite", "Liquid Oxygen",
	"Liquor", "Lithium", "Lithium Hydroxide", "Low Temperature Diamonds", "Medical Diagnostic Equipment",
	"Methane Clathrate", "Methanol Monohydrate Crystals", "Microbial Furnaces", "Monazite", "Musgravite",
	"Non-Lethal Weapons", "Osmium", "Painite", "Palladium", "Platinum", "Polymers", "Power Generators",
	"Praseodymium", "Progenitor Cells", "Rhodplumsite", "Rutile", "Samarium", "Semiconductors",
	"Serendibite", "Silver", "Steel", "Superconductors", "Surface Stabilisers", "Survival Equipment",
	"Tea", "Thermal Cooling Units", "Titanium", "Tritium", "Uraninite", "Void Opal", "Water",
	"Water Purifiers", "Wine",
}
