package symbols

import (
	"context"
	"debug/elf"

	"github.com/pkg/errors"

	"github.com/symstub/patch-tool/pkg/logflags"
)

// Segment is a loadable region of an ELF file.
type Segment struct {
	Vaddr  uint64
	Offset uint64
	Filesz uint64
}

// Segments translates virtual addresses to file offsets.
type Segments []Segment

// LoadSegments reads the PT_LOAD program headers of the ELF file at path.
func LoadSegments(path string) (Segments, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return segmentsOf(f), nil
}

func segmentsOf(f *elf.File) Segments {
	var segs Segments
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		segs = append(segs, Segment{Vaddr: prog.Vaddr, Offset: prog.Off, Filesz: prog.Filesz})
	}
	return segs
}

// Offset returns the file offset backing vaddr.
func (segs Segments) Offset(vaddr uint64) (uint64, bool) {
	for _, s := range segs {
		if vaddr >= s.Vaddr && vaddr-s.Vaddr < s.Filesz {
			return s.Offset + (vaddr - s.Vaddr), true
		}
	}
	return 0, false
}

func (segs Segments) translate(t *Table, log logflags.Logger) *Table {
	if len(segs) == 0 {
		return t
	}
	r := NewTable()
	for _, e := range t.Entries() {
		off, ok := segs.Offset(e.Value)
		if !ok {
			log.Warnf("symbol %s at %#x is not backed by file contents, skipped", e.Name, e.Value)
			continue
		}
		e.Address = off
		r.add(e, log)
	}
	r.Collisions = t.Collisions
	return r
}

// ELFProvider reads the dynamic and static symbol tables of an ELF file.
type ELFProvider struct{}

func (ELFProvider) Name() string {
	return "elf"
}

func (ELFProvider) Symbols(ctx context.Context, path string) (*Table, error) {
	log := logflags.SymbolsLogger().WithField("tool", "elf")
	f, err := elf.Open(path)
	if err != nil {
		return NewTable(), errors.Wrapf(ErrToolUnavailable, "not an ELF file: %v", err)
	}
	defer f.Close()

	segs := segmentsOf(f)
	t := NewTable()
	found := false
	for _, load := range []func() ([]elf.Symbol, error){f.DynamicSymbols, f.Symbols} {
		syms, err := load()
		if err != nil {
			if err != elf.ErrNoSymbols {
				log.Warnf("could not read symbols: %v", err)
			}
			continue
		}
		found = true
		for _, sym := range syms {
			if sym.Name == "" || sym.Section == elf.SHN_UNDEF {
				continue
			}
			var kind Kind
			switch elf.ST_TYPE(sym.Info) {
			case elf.STT_FUNC, elf.STT_LOOS: // STT_LOOS is STT_GNU_IFUNC
				kind = Function
			case elf.STT_OBJECT, elf.STT_TLS:
				kind = Object
			case elf.STT_SECTION, elf.STT_FILE:
				continue
			default:
				kind = Other
			}
			if sym.Section == elf.SHN_ABS {
				continue
			}
			off, ok := segs.Offset(sym.Value)
			if !ok {
				log.Debugf("symbol %s at %#x is not backed by file contents", sym.Name, sym.Value)
				continue
			}
			t.add(Entry{Name: sym.Name, Address: off, Value: sym.Value, Size: sym.Size, Kind: kind}, log)
		}
	}
	if !found {
		return t, errors.Wrap(ErrToolUnavailable, "no symbol tables")
	}
	return t, nil
}
