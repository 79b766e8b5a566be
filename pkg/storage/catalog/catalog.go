// Package catalog owns metadata/catalog.json and metadata/table_names.json.
// The two files are two views of one set of tables; they are loaded
// together, cross-checked, and replaced together by an atomic swap.
package catalog

import (
	"fmt"
	"sort"
	"strings"
	"time"

	lakeerrors "github.com/logflow/datalake/pkg/errors"
	"github.com/logflow/datalake/pkg/ingest/schema"
)

// documentVersion is the catalog.json layout version written by this package.
const documentVersion = 1

// Entry describes one ingested table. Entries are never mutated after commit.
type Entry struct {
	ID              int64           `json:"id"`
	LogicalName     string          `json:"logical_name"`
	DataPath        string          `json:"data_path"`
	DescriptionPath string          `json:"description_path"`
	Format          schema.Format   `json:"format"`
	Schema          []schema.Column `json:"schema"`
	CreatedAt       time.Time       `json:"created_at"`
	SourceFile      string          `json:"source_file,omitempty"`
	SizeBytes       int64           `json:"size_bytes"`
}

// document is the on-disk shape of catalog.json.
type document struct {
	Version int     `json:"version"`
	Tables  []Entry `json:"tables"`
}

// Catalog is an immutable snapshot of the registered tables.
type Catalog struct {
	entries []Entry          // sorted by id
	byName  map[string]int64 // logical name -> id
	byID    map[int64]int    // id -> index into entries
}

// Empty returns a catalog with no tables.
func Empty() *Catalog {
	return &Catalog{
		byName: make(map[string]int64),
		byID:   make(map[int64]int),
	}
}

// build indexes entries, rejecting duplicate ids or names.
func build(entries []Entry) (*Catalog, error) {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	c := &Catalog{
		entries: sorted,
		byName:  make(map[string]int64, len(sorted)),
		byID:    make(map[int64]int, len(sorted)),
	}
	for i, e := range sorted {
		if err := validateEntry(e); err != nil {
			return nil, err
		}
		if _, dup := c.byID[e.ID]; dup {
			return nil, fmt.Errorf("duplicate table id %d", e.ID)
		}
		if _, dup := c.byName[e.LogicalName]; dup {
			return nil, fmt.Errorf("duplicate logical name %q", e.LogicalName)
		}
		c.byID[e.ID] = i
		c.byName[e.LogicalName] = e.ID
	}
	return c, nil
}

func validateEntry(e Entry) error {
	if e.ID < 0 {
		return fmt.Errorf("table %q has negative id %d", e.LogicalName, e.ID)
	}
	if strings.TrimSpace(e.LogicalName) == "" {
		return fmt.Errorf("table %d has an empty logical name", e.ID)
	}
	if _, err := schema.ParseFormat(string(e.Format)); err != nil {
		return fmt.Errorf("table %q: %w", e.LogicalName, err)
	}
	if e.DataPath == "" || e.DescriptionPath == "" {
		return fmt.Errorf("table %q is missing a file path", e.LogicalName)
	}
	return nil
}

// Len returns the number of tables.
func (c *Catalog) Len() int {
	return len(c.entries)
}

// Entries returns a copy of all entries ordered by id.
func (c *Catalog) Entries() []Entry {
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Lookup returns the entry registered under a logical name.
func (c *Catalog) Lookup(name string) (Entry, bool) {
	id, ok := c.byName[name]
	if !ok {
		return Entry{}, false
	}
	return c.entries[c.byID[id]], true
}

// Get returns the entry with the given id.
func (c *Catalog) Get(id int64) (Entry, error) {
	i, ok := c.byID[id]
	if !ok {
		return Entry{}, lakeerrors.Newf(lakeerrors.CodeTableNotFound, "table id %d not found", id)
	}
	return c.entries[i], nil
}

// NameIndex returns a copy of the logical name to id mapping.
func (c *Catalog) NameIndex() map[string]int64 {
	out := make(map[string]int64, len(c.byName))
	for k, v := range c.byName {
		out[k] = v
	}
	return out
}

// MaxID returns the highest id in the name index; ok is false when empty.
func (c *Catalog) MaxID() (id int64, ok bool) {
	for _, v := range c.byName {
		if !ok || v > id {
			id, ok = v, true
		}
	}
	return id, ok
}

// With returns a new catalog containing entry in addition to c's entries.
// c is left unchanged.
func (c *Catalog) With(entry Entry) (*Catalog, error) {
	if existing, dup := c.byName[entry.LogicalName]; dup {
		return nil, lakeerrors.DuplicateLogicalName(entry.LogicalName, existing)
	}
	if _, dup := c.byID[entry.ID]; dup {
		return nil, lakeerrors.Newf(lakeerrors.CodeWriteFailed, "table id %d already registered", entry.ID)
	}
	next, err := build(append(c.Entries(), entry))
	if err != nil {
		return nil, lakeerrors.Wrap(err, lakeerrors.CodeInvalidArgument, "invalid catalog entry")
	}
	return next, nil
}

// crossCheck verifies the name index and the entry set describe the same tables.
func crossCheck(c *Catalog, names map[string]int64) error {
	for name, id := range names {
		i, ok := c.byID[id]
		if !ok {
			return fmt.Errorf("name index maps %q to id %d which has no catalog entry", name, id)
		}
		if c.entries[i].LogicalName != name {
			return fmt.Errorf("name index maps %q to id %d but the catalog entry is named %q",
				name, id, c.entries[i].LogicalName)
		}
	}
	for _, e := range c.entries {
		if _, ok := names[e.LogicalName]; !ok {
			return fmt.Errorf("catalog entry %d (%q) is missing from the name index", e.ID, e.LogicalName)
		}
	}
	return nil
}
