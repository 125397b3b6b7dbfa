// Package image holds the in-memory copy of the binary being patched.
package image

import (
	"io/ioutil"
	"os"

	"github.com/pkg/errors"
)

// ErrInputNotFound is returned by Load when the input file does not exist.
var ErrInputNotFound = errors.New("input file not found")

// Image is the loaded contents of a binary file. Patching overwrites bytes
// in place; the length of the buffer never changes.
type Image struct {
	// Path is the file the image was read from.
	Path string
	// Mode holds the permission bits of the input file.
	Mode os.FileMode

	data []byte
}

// Load reads the whole file at path.
func Load(path string) (*Image, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(ErrInputNotFound, path)
		}
		return nil, errors.Wrapf(err, "could not stat %s", path)
	}
	if fi.IsDir() {
		return nil, errors.Errorf("%s is a directory", path)
	}
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read %s", path)
	}
	return &Image{Path: path, Mode: fi.Mode().Perm(), data: data}, nil
}

// New returns an image backed by data. The image takes ownership of data.
func New(data []byte) *Image {
	return &Image{data: data}
}

// Len returns the size of the image in bytes.
func (img *Image) Len() int {
	return len(img.data)
}

// Bytes returns the image buffer. Callers may modify bytes in place but must
// not change its length.
func (img *Image) Bytes() []byte {
	return img.data
}

// ReadAt copies len(p) bytes starting at off into p.
func (img *Image) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(img.data)) {
		return 0, errors.Errorf("read of %d bytes at %#x out of bounds (image is %d bytes)", len(p), off, len(img.data))
	}
	return copy(p, img.data[off:]), nil
}

// WriteAt overwrites len(p) bytes starting at off. Writes that would extend
// the image are rejected.
func (img *Image) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > int64(len(img.data)) {
		return 0, errors.Errorf("write of %d bytes at %#x out of bounds (image is %d bytes)", len(p), off, len(img.data))
	}
	return copy(img.data[off:], p), nil
}
