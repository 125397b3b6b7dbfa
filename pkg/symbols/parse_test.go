package symbols

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/symstub/patch-tool/pkg/logflags"
)

const readelfOutput = `
Symbol table '.dynsym' contains 7 entries:
   Num:    Value          Size Type    Bind   Vis      Ndx Name
     0: 0000000000000000     0 NOTYPE  LOCAL  DEFAULT  UND 
     1: 0000000000000000     0 FUNC    GLOBAL DEFAULT  UND strlen@LIBC (2)
     2: 0000000000012340    84 FUNC    GLOBAL DEFAULT   12 Java_com_eternal_xdsdk_SuperJNI_00024Companion_check
     3: 0000000000012400 0x1a0 FUNC    GLOBAL DEFAULT   12 Java_com_eternal_xdsdk_SuperJNI_00024Companion_licence@@V1
     4: 0000000000030000     8 OBJECT  GLOBAL DEFAULT   21 g_state
     5: zzzz                24 FUNC    GLOBAL DEFAULT   12 broken
     6: 0000000000012500    24 FUNC    GLOBAL
     7: 0000000000000000     0 SECTION LOCAL  DEFAULT    9 
`

func TestParseReadelf(t *testing.T) {
	tbl, skipped, err := Parse(strings.NewReader(readelfOutput), FormatReadelf, logflags.SymbolsLogger())
	require.NoError(t, err)
	require.Equal(t, 2, skipped)
	require.Equal(t, 3, tbl.Len())

	e, ok := tbl.Lookup("Java_com_eternal_xdsdk_SuperJNI_00024Companion_check")
	require.True(t, ok)
	require.Equal(t, uint64(0x12340), e.Address)
	require.Equal(t, uint64(84), e.Size)
	require.Equal(t, Function, e.Kind)

	e, ok = tbl.Lookup("Java_com_eternal_xdsdk_SuperJNI_00024Companion_licence")
	require.True(t, ok, "version suffix must be stripped")
	require.Equal(t, uint64(0x1a0), e.Size)

	e, ok = tbl.Lookup("g_state")
	require.True(t, ok)
	require.Equal(t, Object, e.Kind)

	_, ok = tbl.Lookup("strlen")
	require.False(t, ok, "undefined symbols are not part of the image")
	_, ok = tbl.Lookup("broken")
	require.False(t, ok)
}

func TestParseReadelfDuplicateLastWins(t *testing.T) {
	out := `
     1: 0000000000001000    16 FUNC    GLOBAL DEFAULT   12 dup
     2: 0000000000002000    16 FUNC    GLOBAL DEFAULT   12 dup
     3: 0000000000003000    16 FUNC    GLOBAL DEFAULT   12 same
     4: 0000000000003000    16 FUNC    GLOBAL DEFAULT   12 same
`
	tbl, _, err := Parse(strings.NewReader(out), FormatReadelf, logflags.SymbolsLogger())
	require.NoError(t, err)
	e, _ := tbl.Lookup("dup")
	require.Equal(t, uint64(0x2000), e.Address)
	require.Equal(t, []Collision{{Name: "dup", Previous: 0x1000, Current: 0x2000}}, tbl.Collisions)
}

func TestParseNm(t *testing.T) {
	out := `
                 U __cxa_finalize
                 w __gmon_start__
0000000000012340 T licenseCheck
0000000000030000 B g_state
0000000000012400 t local_helper
garbage line here too
00000000000zz400 T bad_addr
`
	tbl, skipped, err := Parse(strings.NewReader(out), FormatNm, logflags.SymbolsLogger())
	require.NoError(t, err)
	require.Equal(t, 2, skipped)
	require.Equal(t, 3, tbl.Len())
	e, ok := tbl.Lookup("licenseCheck")
	require.True(t, ok)
	require.Equal(t, Function, e.Kind)
	require.Equal(t, uint64(0x12340), e.Address)
	e, _ = tbl.Lookup("g_state")
	require.Equal(t, Object, e.Kind)
}

func TestFormatForTool(t *testing.T) {
	require.Equal(t, FormatNm, FormatForTool([]string{"nm", "-D"}))
	require.Equal(t, FormatNm, FormatForTool([]string{"/opt/ndk/bin/llvm-nm"}))
	require.Equal(t, FormatReadelf, FormatForTool([]string{"readelf", "-W", "-s"}))
	require.Equal(t, FormatReadelf, FormatForTool([]string{"aarch64-linux-gnu-readelf"}))
	require.Equal(t, FormatReadelf, FormatForTool(nil))
}

func TestEntriesSorted(t *testing.T) {
	tbl := NewTable()
	tbl.Add(Entry{Name: "b", Address: 20})
	tbl.Add(Entry{Name: "a", Address: 20})
	tbl.Add(Entry{Name: "c", Address: 10})
	var names []string
	for _, e := range tbl.Entries() {
		names = append(names, e.Name)
	}
	require.Equal(t, []string{"c", "a", "b"}, names)
}
