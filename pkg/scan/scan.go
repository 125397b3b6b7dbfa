// Package scan finds byte patterns in a binary image for reporting.
//
// Every pattern is searched exhaustively, resuming one byte past each match,
// so the worst case is O(n·m) per pattern. That is fine for shared libraries
// of a few megabytes but does not scale to very large images.
package scan

import (
	"bytes"
	"fmt"
	"strings"
)

// DefaultPatterns are searched for when none are configured.
var DefaultPatterns = []string{
	"Java_com_eternal_xdsdk_SuperJNI",
	"check",
	"licence",
	"license",
	"SuperJNI",
	"Companion",
}

// Occurrences lists every start offset of Pattern in an image.
type Occurrences struct {
	Pattern string
	Offsets []int
}

func (o Occurrences) String() string {
	offs := make([]string, len(o.Offsets))
	for i, off := range o.Offsets {
		offs[i] = fmt.Sprintf("%#x", off)
	}
	return fmt.Sprintf("'%s' found at: [%s]", o.Pattern, strings.Join(offs, ", "))
}

// Find returns the start offset of every occurrence of pattern in data,
// including overlapping ones: after a match at i the search resumes at i+1.
// An empty pattern matches nothing.
func Find(data, pattern []byte) []int {
	if len(pattern) == 0 {
		return nil
	}
	var r []int
	start := 0
	for start <= len(data)-len(pattern) {
		i := bytes.Index(data[start:], pattern)
		if i < 0 {
			break
		}
		r = append(r, start+i)
		start += i + 1
	}
	return r
}

// All searches data for each of patterns, in order. Patterns with no match
// are included with an empty offset list.
func All(data []byte, patterns []string) []Occurrences {
	r := make([]Occurrences, 0, len(patterns))
	for _, p := range patterns {
		r = append(r, Occurrences{Pattern: p, Offsets: Find(data, []byte(p))})
	}
	return r
}
