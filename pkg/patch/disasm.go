package patch

import (
	"strings"

	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/arch/x86/x86asm"
)

// Describe decodes code as instructions of arch for display. Bytes that do
// not decode are shown as "?". It returns nil for architectures without a
// decoder.
func Describe(arch string, code []byte) []string {
	switch Canonical(arch) {
	case "arm64":
		return describeARM64(code)
	case "amd64":
		return describeAMD64(code)
	}
	return nil
}

func describeARM64(code []byte) []string {
	var r []string
	for len(code) >= 4 {
		inst, err := arm64asm.Decode(code[:4])
		if err != nil {
			r = append(r, "?")
		} else {
			r = append(r, strings.TrimSpace(arm64asm.GNUSyntax(inst)))
		}
		code = code[4:]
	}
	return r
}

func describeAMD64(code []byte) []string {
	var r []string
	for len(code) > 0 {
		inst, err := x86asm.Decode(code, 64)
		if err != nil || inst.Len == 0 {
			r = append(r, "?")
			code = code[1:]
			continue
		}
		r = append(r, strings.TrimSpace(x86asm.IntelSyntax(inst, 0, nil)))
		code = code[inst.Len:]
	}
	return r
}
