package materialize

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestWriteCopiesMode(t *testing.T) {
	dir := t.TempDir()
	for _, mode := range []os.FileMode{0755, 0600, 0640, 0700} {
		in := filepath.Join(dir, "lib.so")
		require.NoError(t, ioutil.WriteFile(in, []byte("input"), 0644))
		require.NoError(t, os.Chmod(in, mode))
		out := DefaultOutput(in)

		require.NoError(t, Write(out, []byte("patched"), in))

		data, err := ioutil.ReadFile(out)
		require.NoError(t, err)
		require.Equal(t, "patched", string(data))
		fi, err := os.Stat(out)
		require.NoError(t, err)
		require.Equal(t, mode, fi.Mode().Perm())
	}
}

func TestWriteInPlaceKeepsMode(t *testing.T) {
	for _, mode := range []os.FileMode{0755, 0640} {
		in := filepath.Join(t.TempDir(), "lib.so")
		require.NoError(t, ioutil.WriteFile(in, []byte("input"), 0644))
		require.NoError(t, os.Chmod(in, mode))

		require.NoError(t, Write(in, []byte("patched"), in))

		data, err := ioutil.ReadFile(in)
		require.NoError(t, err)
		require.Equal(t, "patched", string(data))
		fi, err := os.Stat(in)
		require.NoError(t, err)
		require.Equal(t, mode, fi.Mode().Perm())
	}
}

func TestWriteReplacesExisting(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "lib.so")
	out := filepath.Join(dir, "out.so")
	require.NoError(t, ioutil.WriteFile(in, []byte("in"), 0644))
	require.NoError(t, ioutil.WriteFile(out, []byte("some older, longer content"), 0644))

	require.NoError(t, Write(out, []byte("new"), in))
	data, err := ioutil.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "new", string(data))

	entries, err := ioutil.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2, "temporary file left behind")
}

func TestWriteFailure(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "lib.so")
	require.NoError(t, ioutil.WriteFile(in, []byte("in"), 0644))

	err := Write(filepath.Join(dir, "missing", "out.so"), []byte("x"), in)
	require.True(t, errors.Is(err, ErrOutputWrite))
}

func TestWritePermissionCopyFailure(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.so")

	err := Write(out, []byte("data"), filepath.Join(dir, "vanished.so"))
	require.True(t, errors.Is(err, ErrPermissionCopy))
	require.False(t, errors.Is(err, ErrOutputWrite))

	data, rerr := ioutil.ReadFile(out)
	require.NoError(t, rerr)
	require.Equal(t, "data", string(data))
}

func TestDefaultOutput(t *testing.T) {
	require.Equal(t, "/tmp/libclient.so.patched", DefaultOutput("/tmp/libclient.so"))
}
