package patch

import (
	"debug/elf"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// StubSize is the number of bytes written at the start of every target.
const StubSize = 8

// Stub is the fixed instruction sequence written over a function entry.
type Stub [StubSize]byte

// String returns the stub as space separated lowercase hex bytes.
func (s Stub) String() string {
	return hexBytes(s[:])
}

func hexBytes(b []byte) string {
	parts := make([]string, len(b))
	for i := range b {
		parts[i] = fmt.Sprintf("%02x", b[i])
	}
	return strings.Join(parts, " ")
}

// ParseStub parses exactly StubSize hex bytes. Whitespace between bytes is
// ignored.
func ParseStub(s string) (Stub, error) {
	var stub Stub
	b, err := hex.DecodeString(strings.Join(strings.Fields(s), ""))
	if err != nil {
		return stub, errors.Wrapf(err, "invalid stub %q", s)
	}
	if len(b) != StubSize {
		return stub, errors.Errorf("stub %q is %d bytes, want %d", s, len(b), StubSize)
	}
	copy(stub[:], b)
	return stub, nil
}

// Stubs maps an architecture name to the stub that makes a function
// return 1 on that architecture.
type Stubs map[string]Stub

// DefaultArch is used when no architecture is configured.
const DefaultArch = "arm64"

// DefaultStubs returns the built-in stubs.
func DefaultStubs() Stubs {
	return Stubs{
		"arm64":   arm64ReturnTrue(),
		"amd64":   amd64ReturnTrue(),
		"riscv64": riscv64ReturnTrue(),
	}
}

var archAliases = map[string]string{
	"aarch64": "arm64",
	"x86_64":  "amd64",
	"x86-64":  "amd64",
	"x64":     "amd64",
	"riscv":   "riscv64",
}

// Canonical maps common architecture spellings to the names used in Stubs.
func Canonical(arch string) string {
	arch = strings.ToLower(arch)
	if a, ok := archAliases[arch]; ok {
		return a
	}
	return arch
}

// Lookup returns the stub for arch.
func (s Stubs) Lookup(arch string) (Stub, error) {
	stub, ok := s[Canonical(arch)]
	if !ok {
		return Stub{}, errors.Errorf("no stub for architecture %q (known: %s)", arch, strings.Join(s.Names(), ", "))
	}
	return stub, nil
}

// Names returns the known architectures, sorted.
func (s Stubs) Names() []string {
	r := make([]string, 0, len(s))
	for k := range s {
		r = append(r, k)
	}
	sort.Strings(r)
	return r
}

// Merge parses and adds the hex stubs in extra, replacing built-in ones.
func (s Stubs) Merge(extra map[string]string) error {
	for arch, h := range extra {
		stub, err := ParseStub(h)
		if err != nil {
			return errors.Wrapf(err, "stub for %s", arch)
		}
		s[Canonical(arch)] = stub
	}
	return nil
}

// ArchForMachine returns the Stubs name for an ELF machine, or the empty
// string if there is no built-in stub for it.
func ArchForMachine(m elf.Machine) string {
	switch m {
	case elf.EM_AARCH64:
		return "arm64"
	case elf.EM_X86_64:
		return "amd64"
	case elf.EM_RISCV:
		return "riscv64"
	}
	return ""
}

// arm64ReturnTrue encodes
//
//	MOVZ W0, #1
//	RET  X30
func arm64ReturnTrue() Stub {
	const (
		movzW = 0x52800000 // MOVZ Wd, #imm16
		ret   = 0xd65f0000 // RET Xn
		w0    = 0
		lr    = 30
	)
	var s Stub
	binary.LittleEndian.PutUint32(s[0:], movzW|1<<5|w0)
	binary.LittleEndian.PutUint32(s[4:], ret|lr<<5)
	return s
}

// amd64ReturnTrue is MOV EAX, 1; RET padded with INT3.
func amd64ReturnTrue() Stub {
	return Stub{0xb8, 0x01, 0x00, 0x00, 0x00, 0xc3, 0xcc, 0xcc}
}

// riscv64ReturnTrue encodes
//
//	ADDI A0, ZERO, 1
//	JALR ZERO, 0(RA)
func riscv64ReturnTrue() Stub {
	const (
		opImm  = 0x13
		opJalr = 0x67
		a0     = 10
		ra     = 1
	)
	var s Stub
	binary.LittleEndian.PutUint32(s[0:], 1<<20|a0<<7|opImm)
	binary.LittleEndian.PutUint32(s[4:], ra<<15|opJalr)
	return s
}
