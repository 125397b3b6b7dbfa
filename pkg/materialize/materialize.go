// Package materialize writes a patched image to disk.
package materialize

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/symstub/patch-tool/pkg/logflags"
)

var (
	// ErrOutputWrite is fatal: the output file could not be written.
	ErrOutputWrite = errors.New("could not write output file")
	// ErrPermissionCopy is a warning: the output contents are correct but
	// its permission bits differ from the input's.
	ErrPermissionCopy = errors.New("could not copy permission bits")
)

// DefaultOutput returns the output path used when none is given.
func DefaultOutput(input string) string {
	return input + ".patched"
}

// Write stores data at output with the permission bits of the file at
// input. The data is written to a temporary file in the output directory,
// given the input's mode and then renamed over output once complete, so
// readers never observe a partially written file. Output may name the input
// itself.
//
// A failure to write returns an error wrapping ErrOutputWrite. A failure to
// copy permissions is logged and returned wrapping ErrPermissionCopy; the
// output is complete in that case.
func Write(output string, data []byte, input string) error {
	log := logflags.MaterializeLogger().WithField("output", output)

	// The input may be replaced by the rename below.
	mode, permErr := inputMode(input)

	dir := filepath.Dir(output)
	tmp, err := ioutil.TempFile(dir, "."+filepath.Base(output)+".tmp-")
	if err != nil {
		return errors.Wrapf(ErrOutputWrite, "%s: %v", output, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrapf(ErrOutputWrite, "%s: %v", output, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrapf(ErrOutputWrite, "%s: %v", output, err)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(ErrOutputWrite, "%s: %v", output, err)
	}
	if permErr == nil {
		if err := os.Chmod(tmpName, mode); err != nil {
			permErr = errors.Wrapf(ErrPermissionCopy, "%s: %v", output, err)
		}
	}
	if err := os.Rename(tmpName, output); err != nil {
		return errors.Wrapf(ErrOutputWrite, "%s: %v", output, err)
	}
	committed = true
	if err := syncDir(dir); err != nil {
		log.Debugf("could not sync directory %s: %v", dir, err)
	}
	log.Debugf("wrote %d bytes with mode %v", len(data), mode)

	if permErr != nil {
		log.Warnf("%v", permErr)
		return permErr
	}
	return nil
}

// inputMode returns the permission bits of src.
func inputMode(src string) (os.FileMode, error) {
	fi, err := os.Stat(src)
	if err != nil {
		return 0, errors.Wrapf(ErrPermissionCopy, "%s: %v", src, err)
	}
	return fi.Mode().Perm(), nil
}
