// Package elftest builds minimal ELF64 shared objects for tests.
package elftest

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
)

// Sym describes a symbol placed in .text (functions) or at an absolute
// virtual address.
type Sym struct {
	Name  string
	Value uint64
	Size  uint64
	Type  elf.SymType
	// Undefined marks an imported symbol (SHN_UNDEF).
	Undefined bool
}

const (
	ehdrSize = 64
	phdrSize = 56
	shdrSize = 64
	symSize  = 24

	// TextOffset is the file offset of .text.
	TextOffset = 0x100
)

// Build returns an ELF64 little-endian ET_DYN image with a single PT_LOAD
// segment mapping file offset 0 at vaddr, a .text section holding text at
// TextOffset, and a .symtab holding syms.
func Build(machine elf.Machine, vaddr uint64, text []byte, syms []Sym) []byte {
	var strtab bytes.Buffer
	strtab.WriteByte(0)
	nameOff := make([]uint32, len(syms))
	for i, s := range syms {
		nameOff[i] = uint32(strtab.Len())
		strtab.WriteString(s.Name)
		strtab.WriteByte(0)
	}

	shnames := []string{"", ".text", ".symtab", ".strtab", ".shstrtab"}
	var shstrtab bytes.Buffer
	shnameOff := make([]uint32, len(shnames))
	for i, n := range shnames {
		shnameOff[i] = uint32(shstrtab.Len())
		shstrtab.WriteString(n)
		shstrtab.WriteByte(0)
	}

	align := func(n, a int) int { return (n + a - 1) &^ (a - 1) }
	symtabOff := align(TextOffset+len(text), 8)
	symtabLen := (len(syms) + 1) * symSize
	strtabOff := symtabOff + symtabLen
	shstrtabOff := strtabOff + strtab.Len()
	shOff := align(shstrtabOff+shstrtab.Len(), 8)
	fileSize := shOff + len(shnames)*shdrSize

	buf := new(bytes.Buffer)
	le := binary.LittleEndian

	hdr := elf.Header64{
		Type:      uint16(elf.ET_DYN),
		Machine:   uint16(machine),
		Version:   uint32(elf.EV_CURRENT),
		Phoff:     ehdrSize,
		Shoff:     uint64(shOff),
		Ehsize:    ehdrSize,
		Phentsize: phdrSize,
		Phnum:     1,
		Shentsize: shdrSize,
		Shnum:     uint16(len(shnames)),
		Shstrndx:  uint16(len(shnames) - 1),
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	binary.Write(buf, le, &hdr)

	binary.Write(buf, le, &elf.Prog64{
		Type:   uint32(elf.PT_LOAD),
		Flags:  uint32(elf.PF_R | elf.PF_X),
		Off:    0,
		Vaddr:  vaddr,
		Paddr:  vaddr,
		Filesz: uint64(fileSize),
		Memsz:  uint64(fileSize),
		Align:  0x1000,
	})

	pad := func(to int) {
		for buf.Len() < to {
			buf.WriteByte(0)
		}
	}
	pad(TextOffset)
	buf.Write(text)
	pad(symtabOff)

	binary.Write(buf, le, &elf.Sym64{})
	for i, s := range syms {
		shndx := uint16(1)
		if s.Undefined {
			shndx = uint16(elf.SHN_UNDEF)
		}
		binary.Write(buf, le, &elf.Sym64{
			Name:  nameOff[i],
			Info:  elf.ST_INFO(elf.STB_GLOBAL, s.Type),
			Shndx: shndx,
			Value: s.Value,
			Size:  s.Size,
		})
	}
	buf.Write(strtab.Bytes())
	buf.Write(shstrtab.Bytes())
	pad(shOff)

	sections := []elf.Section64{
		{},
		{
			Name:      shnameOff[1],
			Type:      uint32(elf.SHT_PROGBITS),
			Flags:     uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR),
			Addr:      vaddr + TextOffset,
			Off:       TextOffset,
			Size:      uint64(len(text)),
			Addralign: 4,
		},
		{
			Name:      shnameOff[2],
			Type:      uint32(elf.SHT_SYMTAB),
			Off:       uint64(symtabOff),
			Size:      uint64(symtabLen),
			Link:      3,
			Info:      1,
			Addralign: 8,
			Entsize:   symSize,
		},
		{
			Name:      shnameOff[3],
			Type:      uint32(elf.SHT_STRTAB),
			Off:       uint64(strtabOff),
			Size:      uint64(strtab.Len()),
			Addralign: 1,
		},
		{
			Name:      shnameOff[4],
			Type:      uint32(elf.SHT_STRTAB),
			Off:       uint64(shstrtabOff),
			Size:      uint64(shstrtab.Len()),
			Addralign: 1,
		},
	}
	for i := range sections {
		binary.Write(buf, le, &sections[i])
	}
	return buf.Bytes()
}
