// Package symbols resolves exported symbol names of a binary to file
// offsets.
//
// Symbols come from a Provider. ToolProvider runs an external symbol table
// dumper (readelf or nm) and parses its text output, ELFProvider reads the
// ELF symbol tables directly and StaticProvider serves a fixed mapping.
package symbols

import (
	"context"
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"github.com/symstub/patch-tool/pkg/logflags"
)

var (
	// ErrToolUnavailable means no symbol information could be obtained. It
	// is recoverable: the caller continues without automatic targets.
	ErrToolUnavailable = errors.New("symbol tool unavailable")
	// ErrMalformedRecord is reported for a symbol record that could not be
	// parsed. The record is skipped.
	ErrMalformedRecord = errors.New("malformed symbol record")
)

// Kind classifies a symbol.
type Kind uint8

const (
	Other Kind = iota
	Function
	Object
)

func (k Kind) String() string {
	switch k {
	case Function:
		return "func"
	case Object:
		return "object"
	default:
		return "other"
	}
}

// Entry is a single symbol.
type Entry struct {
	Name string
	// Address is the file offset of the symbol.
	Address uint64
	// Value is the address as reported by the symbol source, before
	// translation to a file offset.
	Value uint64
	// Size is zero when the source does not report it.
	Size uint64
	Kind Kind
}

// Collision records a name that was defined more than once with different
// addresses. The later definition replaced the earlier one.
type Collision struct {
	Name     string
	Previous uint64
	Current  uint64
}

func (c Collision) String() string {
	return fmt.Sprintf("%s: %#x replaced by %#x", c.Name, c.Previous, c.Current)
}

// Table maps symbol names to entries. When a name is added twice the later
// entry wins; differing addresses are recorded as collisions.
type Table struct {
	entries    map[string]Entry
	Collisions []Collision
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{entries: make(map[string]Entry)}
}

// Add inserts e, replacing any entry with the same name. It returns the
// collision, if any.
func (t *Table) Add(e Entry) *Collision {
	prev, ok := t.entries[e.Name]
	t.entries[e.Name] = e
	if !ok || prev.Address == e.Address {
		return nil
	}
	c := Collision{Name: e.Name, Previous: prev.Address, Current: e.Address}
	t.Collisions = append(t.Collisions, c)
	return &c
}

func (t *Table) add(e Entry, log logflags.Logger) {
	if c := t.Add(e); c != nil {
		log.Warnf("duplicate symbol %s", c)
	}
}

// Len returns the number of distinct names in the table.
func (t *Table) Len() int {
	return len(t.entries)
}

// Lookup returns the entry for name.
func (t *Table) Lookup(name string) (Entry, bool) {
	e, ok := t.entries[name]
	return e, ok
}

// Entries returns all entries sorted by address, then name.
func (t *Table) Entries() []Entry {
	r := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		r = append(r, e)
	}
	sort.Slice(r, func(i, j int) bool {
		if r[i].Address != r[j].Address {
			return r[i].Address < r[j].Address
		}
		return r[i].Name < r[j].Name
	})
	return r
}

// Provider is a source of symbol tables.
type Provider interface {
	// Symbols returns the symbol table of the binary at path. On failure
	// it returns an empty, non-nil table together with an error wrapping
	// ErrToolUnavailable.
	Symbols(ctx context.Context, path string) (*Table, error)
	// Name identifies the provider in diagnostics.
	Name() string
}

// StaticProvider serves a fixed name to offset mapping.
type StaticProvider map[string]uint64

func (p StaticProvider) Name() string {
	return "static"
}

func (p StaticProvider) Symbols(ctx context.Context, path string) (*Table, error) {
	t := NewTable()
	for name, off := range p {
		t.Add(Entry{Name: name, Address: off, Value: off, Kind: Function})
	}
	return t, nil
}

// ChainProvider asks each provider in turn and returns the first non-empty
// table.
type ChainProvider []Provider

func (c ChainProvider) Name() string {
	return "chain"
}

func (c ChainProvider) Symbols(ctx context.Context, path string) (*Table, error) {
	log := logflags.SymbolsLogger()
	failed := 0
	for _, p := range c {
		t, err := p.Symbols(ctx, path)
		if err != nil {
			log.Warnf("%s: %v", p.Name(), err)
			failed++
			continue
		}
		if t.Len() > 0 {
			log.Debugf("%d symbols from %s", t.Len(), p.Name())
			return t, nil
		}
		log.Debugf("%s returned no symbols", p.Name())
	}
	if len(c) > 0 && failed == len(c) {
		return NewTable(), errors.Wrap(ErrToolUnavailable, "no symbol source succeeded")
	}
	return NewTable(), nil
}
