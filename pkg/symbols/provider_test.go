package symbols

import (
	"context"
	"debug/elf"
	"io/ioutil"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/symstub/patch-tool/pkg/internal/elftest"
)

func needShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestToolProviderMissingTool(t *testing.T) {
	p := NewToolProvider([]string{filepath.Join(t.TempDir(), "no-such-readelf")}, time.Second)
	tbl, err := p.Symbols(context.Background(), "lib.so")
	require.True(t, errors.Is(err, ErrToolUnavailable))
	require.NotNil(t, tbl)
	require.Equal(t, 0, tbl.Len())
}

func TestToolProviderFailingTool(t *testing.T) {
	needShell(t)
	p := NewToolProvider([]string{"sh", "-c", "echo 'not an ELF file' >&2; exit 1", "readelf"}, time.Second)
	tbl, err := p.Symbols(context.Background(), "lib.so")
	require.True(t, errors.Is(err, ErrToolUnavailable))
	require.Contains(t, err.Error(), "not an ELF file")
	require.Equal(t, 0, tbl.Len())
}

func TestToolProviderTimeout(t *testing.T) {
	needShell(t)
	p := NewToolProvider([]string{"sh", "-c", "exec sleep 10", "readelf"}, 100*time.Millisecond)
	start := time.Now()
	tbl, err := p.Symbols(context.Background(), "lib.so")
	require.True(t, errors.Is(err, ErrToolUnavailable))
	require.Contains(t, err.Error(), "timed out")
	require.Equal(t, 0, tbl.Len())
	require.Less(t, int64(time.Since(start)), int64(5*time.Second))
}

func TestToolProviderParsesOutput(t *testing.T) {
	needShell(t)
	// The "binary" is a text file holding readelf output; the fake tool
	// prints it back. It is not ELF, so no address translation happens.
	path := filepath.Join(t.TempDir(), "dump.txt")
	require.NoError(t, ioutil.WriteFile(path, []byte(readelfOutput), 0644))
	p := NewToolProvider([]string{"sh", "-c", `cat "$1"`, "readelf"}, 5*time.Second)
	tbl, err := p.Symbols(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, 3, tbl.Len())
	e, _ := tbl.Lookup("Java_com_eternal_xdsdk_SuperJNI_00024Companion_check")
	require.Equal(t, uint64(0x12340), e.Address)
}

func TestStaticProvider(t *testing.T) {
	tbl, err := StaticProvider{"licenseCheck": 50}.Symbols(context.Background(), "")
	require.NoError(t, err)
	e, ok := tbl.Lookup("licenseCheck")
	require.True(t, ok)
	require.Equal(t, uint64(50), e.Address)
}

type failingProvider struct{}

func (failingProvider) Name() string { return "failing" }

func (failingProvider) Symbols(ctx context.Context, path string) (*Table, error) {
	return NewTable(), errors.Wrap(ErrToolUnavailable, "boom")
}

func TestChainProvider(t *testing.T) {
	tbl, err := ChainProvider{failingProvider{}, StaticProvider{"x": 8}}.Symbols(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, 1, tbl.Len())

	tbl, err = ChainProvider{failingProvider{}, failingProvider{}}.Symbols(context.Background(), "")
	require.True(t, errors.Is(err, ErrToolUnavailable))
	require.Equal(t, 0, tbl.Len())

	tbl, err = ChainProvider{StaticProvider{}}.Symbols(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, 0, tbl.Len())
}

func writeELF(t *testing.T) string {
	t.Helper()
	const vaddr = 0x10000
	text := make([]byte, 0x40)
	data := elftest.Build(elf.EM_AARCH64, vaddr, text, []elftest.Sym{
		{Name: "licenseCheck", Value: vaddr + elftest.TextOffset + 0x10, Size: 16, Type: elf.STT_FUNC},
		{Name: "g_flag", Value: vaddr + elftest.TextOffset + 0x30, Size: 4, Type: elf.STT_OBJECT},
		{Name: "strcmp", Type: elf.STT_FUNC, Undefined: true},
		{Name: "far_away", Value: 0x900000, Type: elf.STT_FUNC},
	})
	path := filepath.Join(t.TempDir(), "libclient.so")
	require.NoError(t, ioutil.WriteFile(path, data, 0755))
	return path
}

func TestELFProvider(t *testing.T) {
	path := writeELF(t)
	tbl, err := ELFProvider{}.Symbols(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, 2, tbl.Len())

	e, ok := tbl.Lookup("licenseCheck")
	require.True(t, ok)
	require.Equal(t, uint64(elftest.TextOffset+0x10), e.Address)
	require.Equal(t, uint64(0x10000+elftest.TextOffset+0x10), e.Value)
	require.Equal(t, Function, e.Kind)

	e, ok = tbl.Lookup("g_flag")
	require.True(t, ok)
	require.Equal(t, Object, e.Kind)
}

func TestELFProviderNotELF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.bin")
	require.NoError(t, ioutil.WriteFile(path, make([]byte, 100), 0644))
	tbl, err := ELFProvider{}.Symbols(context.Background(), path)
	require.True(t, errors.Is(err, ErrToolUnavailable))
	require.Equal(t, 0, tbl.Len())
}

func TestSegmentsTranslate(t *testing.T) {
	path := writeELF(t)
	segs, err := LoadSegments(path)
	require.NoError(t, err)
	off, ok := segs.Offset(0x10000 + 0x120)
	require.True(t, ok)
	require.Equal(t, uint64(0x120), off)
	_, ok = segs.Offset(0x900000)
	require.False(t, ok)
}
