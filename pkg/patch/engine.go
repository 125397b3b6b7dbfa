// Package patch overwrites function entries in a binary image with a fixed
// stub that makes the function return 1.
package patch

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/symstub/patch-tool/pkg/image"
	"github.com/symstub/patch-tool/pkg/logflags"
	"github.com/symstub/patch-tool/pkg/targets"
)

var (
	// ErrOutOfBounds is reported for a target whose stub would not fit
	// strictly inside the image. The target is skipped.
	ErrOutOfBounds = errors.New("patch target out of bounds")
	// ErrOverlap is reported for a target whose stub would partially
	// overwrite the stub of an earlier target. The target is skipped.
	ErrOverlap = errors.New("patch target overlaps an earlier patch")
)

// Record describes one applied patch. Original holds the bytes that were
// at Offset immediately before Patch was written there.
type Record struct {
	Name     string `yaml:"name"`
	Offset   uint64 `yaml:"offset"`
	Original Stub   `yaml:"original"`
	Patch    Stub   `yaml:"patch"`
}

func (r Record) String() string {
	return fmt.Sprintf("%s at %#x: %s -> %s", r.Name, r.Offset, r.Original, r.Patch)
}

// Engine applies a single stub to a list of targets.
type Engine struct {
	Arch string
	Stub Stub

	log logflags.Logger
}

// NewEngine returns an engine writing the stub registered for arch.
func NewEngine(arch string, stubs Stubs) (*Engine, error) {
	if arch == "" {
		arch = DefaultArch
	}
	stub, err := stubs.Lookup(arch)
	if err != nil {
		return nil, err
	}
	return &Engine{Arch: Canonical(arch), Stub: stub, log: logflags.PatchLogger()}, nil
}

// InBounds reports whether a stub written at off fits in an image of size
// n with 0 < off < n-StubSize.
func InBounds(off uint64, n int) bool {
	if n <= StubSize || off == 0 {
		return false
	}
	return off < uint64(n-StubSize)
}

// Apply patches every target in order. Targets that cannot be patched are
// skipped and reported in the returned error list; they never abort the
// run and never modify the image.
func (e *Engine) Apply(img *image.Image, ts []targets.Target) ([]Record, []error) {
	var (
		records []Record
		skipped []error
	)
	for _, t := range ts {
		log := e.log.WithField("symbol", t.Name)
		if !InBounds(t.Offset, img.Len()) {
			err := errors.Wrapf(ErrOutOfBounds, "%s at %#x (image is %d bytes)", t.Name, t.Offset, img.Len())
			log.Warnf("skipping: %v", err)
			skipped = append(skipped, err)
			continue
		}
		if prev, ok := overlapping(records, t.Offset); ok {
			err := errors.Wrapf(ErrOverlap, "%s at %#x would clobber %s at %#x", t.Name, t.Offset, prev.Name, prev.Offset)
			log.Warnf("skipping: %v", err)
			skipped = append(skipped, err)
			continue
		}

		r := Record{Name: t.Name, Offset: t.Offset, Patch: e.Stub}
		if _, err := img.ReadAt(r.Original[:], int64(t.Offset)); err != nil {
			log.Warnf("skipping: %v", err)
			skipped = append(skipped, err)
			continue
		}
		if _, err := img.WriteAt(e.Stub[:], int64(t.Offset)); err != nil {
			log.Warnf("skipping: %v", err)
			skipped = append(skipped, err)
			continue
		}
		log.Debugf("patched %#x: %s -> %s", t.Offset, r.Original, r.Patch)
		records = append(records, r)
	}
	return records, skipped
}

// overlapping returns a record whose stub region partially overlaps a stub
// written at off. A record at exactly off is not an overlap: writing the
// same stub there again is a no-op.
func overlapping(records []Record, off uint64) (Record, bool) {
	for _, r := range records {
		if r.Offset == off {
			continue
		}
		if off < r.Offset+StubSize && r.Offset < off+StubSize {
			return r, true
		}
	}
	return Record{}, false
}
