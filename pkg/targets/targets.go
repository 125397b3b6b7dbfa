// Package targets selects the symbols that get patched.
package targets

import (
	"fmt"
	"sort"
	"strings"

	"github.com/symstub/patch-tool/pkg/symbols"
)

// DefaultKeywords are matched against lowercased symbol names.
var DefaultKeywords = []string{"check", "licence", "license"}

// Target is a symbol selected for patching.
type Target struct {
	Name   string
	Offset uint64
}

func (t Target) String() string {
	return fmt.Sprintf("%s at %#x", t.Name, t.Offset)
}

// Selector filters a symbol table by name.
type Selector struct {
	// Keywords are lowercase fragments; a symbol matches if its lowercased
	// name contains any of them.
	Keywords []string
	// Kinds restricts the symbol kinds considered. Empty means all kinds.
	Kinds []symbols.Kind
}

// NewSelector returns a selector for keywords, or DefaultKeywords if none
// are given.
func NewSelector(keywords ...string) *Selector {
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	kw := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(k); k != "" {
			kw = append(kw, k)
		}
	}
	return &Selector{Keywords: kw}
}

// Match reports whether name contains one of the keywords, ignoring case.
func (s *Selector) Match(name string) bool {
	lname := strings.ToLower(name)
	for _, k := range s.Keywords {
		if strings.Contains(lname, k) {
			return true
		}
	}
	return false
}

func (s *Selector) kindAllowed(k symbols.Kind) bool {
	if len(s.Kinds) == 0 {
		return true
	}
	for _, kk := range s.Kinds {
		if kk == k {
			return true
		}
	}
	return false
}

// Select returns the matching entries of tbl ordered by offset, then name.
// An empty result is not an error.
func (s *Selector) Select(tbl *symbols.Table) []Target {
	var r []Target
	for _, e := range tbl.Entries() {
		if s.kindAllowed(e.Kind) && s.Match(e.Name) {
			r = append(r, Target{Name: e.Name, Offset: e.Address})
		}
	}
	Sort(r)
	return r
}

// Sort orders targets by offset, then name.
func Sort(ts []Target) {
	sort.Slice(ts, func(i, j int) bool {
		if ts[i].Offset != ts[j].Offset {
			return ts[i].Offset < ts[j].Offset
		}
		return ts[i].Name < ts[j].Name
	})
}
