// Package catalog holds the canonical, ordered list of Danish coffee roasteries.
package catalog

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
)

//go:embed roasteries.json
var roasteriesJSON []byte

// Entry is the static information known about a roastery.
type Entry struct {
	Name    string `json:"name"`
	Region  string `json:"region,omitempty"`
	City    string `json:"city,omitempty"`
	Website string `json:"website,omitempty"`
}

// Catalog is an ordered list of roasteries.
type Catalog struct {
	entries []Entry
	byName  map[string]int
}

// New builds a catalog from entries, rejecting empty and duplicate names.
func New(entries []Entry) (*Catalog, error) {
	c := &Catalog{
		entries: make([]Entry, 0, len(entries)),
		byName:  make(map[string]int, len(entries)),
	}
	for _, e := range entries {
		if e.Name == "" {
			return nil, fmt.Errorf("catalog: empty roastery name")
		}
		if _, dup := c.byName[e.Name]; dup {
			return nil, fmt.Errorf("catalog: duplicate roastery %q", e.Name)
		}
		c.byName[e.Name] = len(c.entries)
		c.entries = append(c.entries, e)
	}
	return c, nil
}

// Parse decodes a JSON array of entries.
func Parse(data []byte) (*Catalog, error) {
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	return New(entries)
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := Parse(roasteriesJSON)
	if err != nil {
		panic(err)
	}
	return c
}

// Names returns the roastery names in canonical order.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.entries))
	for i, e := range c.entries {
		names[i] = e.Name
	}
	return names
}

// Entries returns a copy of the entries in canonical order.
func (c *Catalog) Entries() []Entry {
	return append([]Entry(nil), c.entries...)
}

// Lookup returns the entry for name.
func (c *Catalog) Lookup(name string) (Entry, bool) {
	i, ok := c.byName[name]
	if !ok {
		return Entry{}, false
	}
	return c.entries[i], true
}

// Len is the number of roasteries.
func (c *Catalog) Len() int {
	return len(c.entries)
}

// Regions returns the distinct non-empty regions, sorted.
func (c *Catalog) Regions() []string {
	seen := make(map[string]bool)
	var regions []string
	for _, e := range c.entries {
		if e.Region != "" && !seen[e.Region] {
			seen[e.Region] = true
			regions = append(regions, e.Region)
		}
	}
	sort.Strings(regions)
	return regions
}
