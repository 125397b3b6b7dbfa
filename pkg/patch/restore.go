package patch

import (
	"github.com/pkg/errors"

	"github.com/symstub/patch-tool/pkg/image"
	"github.com/symstub/patch-tool/pkg/logflags"
)

// ErrMismatch is reported when the bytes at a record's offset are not the
// record's patch bytes, so restoring the original would corrupt the image.
var ErrMismatch = errors.New("image does not hold the recorded patch")

// Restore writes the original bytes of each record back into img. Records
// are undone last to first so that repeated patches of one offset restore
// the bytes that preceded the first of them. It returns the number of
// records restored and the records that were skipped.
func Restore(img *image.Image, records []Record) (int, []error) {
	log := logflags.PatchLogger()
	n := 0
	var skipped []error
	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		if !InBounds(r.Offset, img.Len()) {
			err := errors.Wrapf(ErrOutOfBounds, "%s at %#x (image is %d bytes)", r.Name, r.Offset, img.Len())
			log.Warnf("not restoring: %v", err)
			skipped = append(skipped, err)
			continue
		}
		var cur Stub
		if _, err := img.ReadAt(cur[:], int64(r.Offset)); err != nil {
			log.Warnf("not restoring: %v", err)
			skipped = append(skipped, err)
			continue
		}
		if cur != r.Patch {
			err := errors.Wrapf(ErrMismatch, "%s at %#x holds %s, expected %s", r.Name, r.Offset, cur, r.Patch)
			log.Warnf("not restoring: %v", err)
			skipped = append(skipped, err)
			continue
		}
		if _, err := img.WriteAt(r.Original[:], int64(r.Offset)); err != nil {
			log.Warnf("not restoring: %v", err)
			skipped = append(skipped, err)
			continue
		}
		log.Debugf("restored %s at %#x: %s", r.Name, r.Offset, r.Original)
		n++
	}
	return n, skipped
}
